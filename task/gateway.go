package task

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"grapelm/metrics"
)

// Gateway admits submissions: validate, stage, record, enqueue, signal.
type Gateway struct {
	store      Store
	stager     Stager
	queue      *Queue
	dispatcher *Dispatcher
	logger     *slog.Logger
}

func NewGateway(store Store, stager Stager, queue *Queue, d *Dispatcher, logger *slog.Logger) *Gateway {
	return &Gateway{store: store, stager: stager, queue: queue, dispatcher: d, logger: logger}
}

// Submit accepts s or returns an error without leaving anything behind.
// Parameters are staged before the record exists, so every Pending record
// has a readable parameter file.
func (g *Gateway) Submit(ctx context.Context, s *Submission) (*Record, error) {
	if err := Validate(s); err != nil {
		metrics.SubmissionsTotal.WithLabelValues("invalid").Inc()
		return nil, err
	}

	params := &Params{
		TaskID:     s.ID,
		TaskName:   s.Name,
		SeedSeqs:   strings.Join(SeedLines(s.SeedSeqs), "\n"),
		GenNum:     s.GenNum,
		Target:     s.Target,
		Model:      s.Model,
		OutputFile: g.stager.ResultPath(s.ID),
	}
	if err := g.stager.Stage(params, s.Attachments); err != nil {
		if errors.Is(err, ErrDuplicateTask) {
			metrics.SubmissionsTotal.WithLabelValues("duplicate").Inc()
			return nil, err
		}
		metrics.SubmissionsTotal.WithLabelValues("error").Inc()
		return nil, &StorageError{Op: "stage task", Err: err}
	}

	rec := &Record{
		ID:         s.ID,
		Name:       s.Name,
		Status:     StatusPending,
		UploadTime: time.Now().UTC(),
	}
	if err := g.store.Create(ctx, rec); err != nil {
		if derr := g.stager.Discard(s.ID); derr != nil {
			g.logger.Error("failed to discard staged task", "task_id", s.ID, "error", derr)
		}
		if errors.Is(err, ErrDuplicateTask) {
			metrics.SubmissionsTotal.WithLabelValues("duplicate").Inc()
			return nil, err
		}
		metrics.SubmissionsTotal.WithLabelValues("error").Inc()
		return nil, &StorageError{Op: "create task record", Err: err}
	}

	g.queue.Push(s.ID)
	g.dispatcher.Notify(s.ID)
	metrics.SubmissionsTotal.WithLabelValues("accepted").Inc()
	g.logger.Info("task submitted to queue", "task_id", s.ID, "queue_len", g.queue.Len())
	return rec, nil
}
