package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"

	"grapelm/api"
	"grapelm/config"
	"grapelm/generator"
	"grapelm/store"
	"grapelm/task"
	"grapelm/workspace"
)

var serveCmd = &cobra.Command{
	Use:   "serve [work_dir [addr [workers]]]",
	Short: "Start the HTTP API and the task dispatcher",
	Long: `Start the HTTP API and the task dispatcher.

Positional arguments override the matching flags, so
"grapelm serve ./data 0.0.0.0:12358 4" equals
"grapelm serve --work-dir ./data --addr 0.0.0.0:12358 --workers 4".`,
	Args: cobra.MaximumNArgs(3),
	RunE: runServe,
}

func init() {
	serveCmd.Flags().String("addr", "127.0.0.1:12358", "HTTP listen address")
	serveCmd.Flags().Int("workers", 2, "maximum number of tasks executing at once")
	serveCmd.Flags().String("generator", "command", "generation backend: command | builtin")
}

// positionalFlags lists the flags the positional serve arguments map onto.
var positionalFlags = []string{"work-dir", "addr", "workers"}

func applyPositional(cmd *cobra.Command, args []string) error {
	for i, arg := range args {
		if err := cmd.Flags().Set(positionalFlags[i], arg); err != nil {
			return fmt.Errorf("argument %d (%s): %w", i+1, positionalFlags[i], err)
		}
	}
	return nil
}

func runServe(cmd *cobra.Command, args []string) error {
	if err := applyPositional(cmd, args); err != nil {
		return err
	}
	cfg, err := config.Load(cmd.Flags())
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	logger := buildLogger(cfg.LogLevel)
	if !strings.EqualFold(cfg.LogLevel, "debug") {
		gin.SetMode(gin.ReleaseMode)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	layout, err := workspace.New(cfg.WorkDir)
	if err != nil {
		return fmt.Errorf("workspace: %w", err)
	}
	cfg.WorkDir = layout.Root()

	st, err := store.Open(ctx, layout.DBPath())
	if err != nil {
		return fmt.Errorf("store: %w", err)
	}
	defer func() { _ = st.Close() }()

	gen, err := generator.New(cfg, layout, logger)
	if err != nil {
		return fmt.Errorf("generator: %w", err)
	}

	mgr := task.NewManager(st, layout, gen, cfg.Workers, logger)
	if err := mgr.Start(ctx); err != nil {
		return fmt.Errorf("start tasks: %w", err)
	}

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           api.SetupRouter(mgr, cfg, logger),
		ReadHeaderTimeout: 15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server starting",
			slog.String("addr", cfg.Addr),
			slog.String("work_dir", layout.Root()),
			slog.Int("workers", cfg.Workers),
			slog.String("generator", cfg.Generator))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	var serveErr error
	select {
	case <-ctx.Done():
	case serveErr = <-errCh:
		stop()
	}
	logger.Info("shutting down...")

	shutCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutCtx); err != nil {
		logger.Error("HTTP shutdown error", slog.String("error", err.Error()))
	}

	// In-flight tasks run to completion; queued ones stay Pending and are
	// picked up again on the next start.
	mgr.Wait()
	logger.Info("stopped")

	if serveErr != nil {
		return fmt.Errorf("listen: %w", serveErr)
	}
	return nil
}
