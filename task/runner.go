package task

import (
	"context"
	"fmt"
	"time"

	"grapelm/metrics"
)

// execute runs one claimed task to a terminal status. It is called on its
// own goroutine and must not be stopped once the task is Processing.
func (d *Dispatcher) execute(id string) {
	ctx := context.Background()
	logger := d.logger.With("task_id", id)

	startedAt := time.Now().UTC()
	if err := d.store.MarkProcessing(ctx, id, startedAt); err != nil {
		// The id is already off the queue. A record still Pending is
		// requeued by startup recovery.
		logger.Error("failed to update task to processing", "error", err)
		return
	}
	logger.Info("processing task")

	defer func() {
		if r := recover(); r != nil {
			d.fail(ctx, id, startedAt, &HarnessError{Err: fmt.Errorf("panic: %v", r)})
		}
	}()

	params, err := d.stager.Load(id)
	if err != nil {
		d.fail(ctx, id, startedAt, &HarnessError{Err: err})
		return
	}

	artifact, err := d.generator.Generate(ctx, params)
	if err != nil {
		d.fail(ctx, id, startedAt, &ExecutionError{Err: err})
		return
	}

	endedAt := time.Now().UTC()
	if err := d.store.MarkCompleted(ctx, id, endedAt); err != nil {
		logger.Error("failed to update final status, task left processing", "error", err)
		return
	}
	metrics.TasksFinished.WithLabelValues(string(StatusCompleted)).Inc()
	metrics.TaskDurationSeconds.Observe(endedAt.Sub(startedAt).Seconds())
	logger.Info("task completed", "artifact", artifact)
}

func (d *Dispatcher) fail(ctx context.Context, id string, startedAt time.Time, cause error) {
	endedAt := time.Now().UTC()
	logger := d.logger.With("task_id", id)
	logger.Warn("task failed", "error", cause)
	if err := d.store.MarkFailed(ctx, id, cause.Error(), endedAt); err != nil {
		logger.Error("failed to update final status, task left processing", "error", err)
		return
	}
	metrics.TasksFinished.WithLabelValues(string(StatusFailed)).Inc()
	metrics.TaskDurationSeconds.Observe(endedAt.Sub(startedAt).Seconds())
}
