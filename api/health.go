package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/mem"
)

type SystemStats struct {
	CPUPercent   *float64 `json:"cpu_percent,omitempty"`
	MemAvailable *uint64  `json:"mem_available,omitempty"`
	DiskFree     *uint64  `json:"disk_free,omitempty"`
}

type HealthResponse struct {
	Status     string      `json:"status"`
	QueueDepth int         `json:"queue_depth"`
	Workers    int         `json:"workers"`
	System     SystemStats `json:"system"`
}

// handleHealth reports liveness plus a best-effort system snapshot.
// Stats that cannot be read are omitted.
func (h *Handler) handleHealth(c *gin.Context) {
	resp := HealthResponse{
		Status:     "ok",
		QueueDepth: h.tasks.QueueLen(),
		Workers:    h.tasks.Workers(),
	}

	if p, err := cpu.Percent(0, false); err == nil && len(p) > 0 {
		resp.System.CPUPercent = &p[0]
	}
	if vm, err := mem.VirtualMemory(); err == nil {
		resp.System.MemAvailable = &vm.Available
	}
	if d, err := disk.Usage(h.cfg.WorkDir); err == nil {
		resp.System.DiskFree = &d.Free
	}

	c.JSON(http.StatusOK, resp)
}
