// Package generator provides task.Generator implementations: an external
// command and an in-process recombiner.
package generator

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/mem"

	"grapelm/config"
	"grapelm/task"
)

// maxErrorOutput bounds how much command output is kept in an error message.
const maxErrorOutput = 2048

// ParamsLocator resolves the staged parameter file of a task.
type ParamsLocator interface {
	ParamsPath(id string) string
}

// Command runs the generation capability as an external process.
type Command struct {
	cfg    *config.Config
	dir    string
	args   []string
	params ParamsLocator
	logger *slog.Logger
}

func NewCommand(cfg *config.Config, params ParamsLocator, logger *slog.Logger) (*Command, error) {
	args, err := SplitCommand(cfg.GenCommand)
	if err != nil {
		return nil, err
	}
	if err := ValidateArgs(args); err != nil {
		return nil, err
	}
	if _, err := exec.LookPath(args[0]); err != nil {
		return nil, fmt.Errorf("generator binary not found or not in PATH: %s", args[0])
	}
	dir, err := filepath.Abs(cfg.WorkDir)
	if err != nil {
		return nil, fmt.Errorf("resolve work dir: %w", err)
	}
	return &Command{cfg: cfg, dir: dir, args: args, params: params, logger: logger}, nil
}

// Generate runs the command for p and returns p.OutputFile once the
// command has exited cleanly and the file exists.
func (c *Command) Generate(ctx context.Context, p *task.Params) (string, error) {
	if err := c.checkResources(); err != nil {
		return "", fmt.Errorf("insufficient system resources: %w", err)
	}

	args := ExpandArgs(c.args, c.params.ParamsPath(p.TaskID), p.OutputFile, p.TaskID)
	cmd := exec.CommandContext(ctx, args[0], args[1:]...)
	cmd.Dir = c.dir
	var output bytes.Buffer
	cmd.Stdout = &output
	cmd.Stderr = &output

	c.logger.Info("executing generator", "task_id", p.TaskID, "command", strings.Join(cmd.Args, " "))
	start := time.Now()
	err := cmd.Run()
	c.logger.Debug("generator finished",
		"task_id", p.TaskID,
		"duration", time.Since(start),
		"output", output.String())

	if err != nil {
		if out := tail(output.String(), maxErrorOutput); out != "" {
			return "", fmt.Errorf("%w: %s", err, out)
		}
		return "", err
	}
	if _, err := os.Stat(p.OutputFile); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", fmt.Errorf("generator exited without writing %s", p.OutputFile)
		}
		return "", err
	}
	return p.OutputFile, nil
}

// checkResources verifies that the system has enough free resources to
// start a generation. Zero thresholds disable the check.
func (c *Command) checkResources() error {
	if c.cfg.ThrottleCPU > 0 {
		p, err := cpu.Percent(time.Second, false)
		if err != nil {
			c.logger.Warn("could not get CPU usage", "error", err)
		} else if len(p) > 0 && p[0] > (100.0-c.cfg.ThrottleCPU) {
			return fmt.Errorf("not enough idle CPU. Current usage: %.2f%%, Idle threshold: %.2f%%", p[0], c.cfg.ThrottleCPU)
		}
	}

	if c.cfg.ThrottleFreeMem > 0 {
		vm, err := mem.VirtualMemory()
		if err != nil {
			c.logger.Warn("could not get memory usage", "error", err)
		} else if vm.Available < uint64(c.cfg.ThrottleFreeMem) {
			return fmt.Errorf("not enough free memory. Available: %d, Required: %d", vm.Available, c.cfg.ThrottleFreeMem)
		}
	}

	if c.cfg.ThrottleFreeDisk > 0 {
		d, err := disk.Usage(c.dir)
		if err != nil {
			c.logger.Warn("could not get disk usage", "path", c.dir, "error", err)
		} else if d.Free < uint64(c.cfg.ThrottleFreeDisk) {
			return fmt.Errorf("not enough free disk space. Available: %d, Required: %d", d.Free, c.cfg.ThrottleFreeDisk)
		}
	}
	return nil
}

func tail(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	return "..." + s[len(s)-n:]
}
