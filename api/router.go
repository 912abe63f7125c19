package api

import (
	"log/slog"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"grapelm/config"
)

func SetupRouter(tm TaskManager, cfg *config.Config, logger *slog.Logger) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), RequestLogger(logger))
	h := NewHandler(tm, cfg, logger)

	r.GET("/health", h.handleHealth)
	if cfg.MetricsEnable {
		r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	}

	g := r.Group("/api")
	g.Use(AuthMiddleware(cfg))
	{
		g.GET("", h.handleRoot)
		g.POST("/tasks", h.handleCreateTask)
		g.GET("/tasks/:task_id", h.handleGetTaskStatus)
		g.GET("/tasks/:task_id/download", h.handleDownloadResult)
	}
	return r
}
