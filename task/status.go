package task

import (
	"context"
	"errors"
	"os"
)

// View is a record joined with its live queue position.
// Position is nil unless the task is Pending and still in the queue.
type View struct {
	*Record
	Position *int
}

// Tracker answers status queries from the store and the queue. The two
// are read independently so a position may be stale.
type Tracker struct {
	store   Store
	stager  Stager
	queue   *Queue
	workers int
}

func NewTracker(store Store, stager Stager, queue *Queue, workers int) *Tracker {
	return &Tracker{store: store, stager: stager, queue: queue, workers: workers}
}

func (t *Tracker) Lookup(ctx context.Context, id string) (*View, error) {
	rec, err := t.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	v := &View{Record: rec}
	if rec.Status == StatusPending {
		if i := t.queue.Position(id); i >= 0 {
			pos := EstimatePosition(i, t.workers)
			v.Position = &pos
		}
	}
	return v, nil
}

// EstimatePosition models the workers tasks already claimed ahead of the
// visible queue.
func EstimatePosition(index, workers int) int {
	return index + 1 + workers
}

// ResultFile returns the artifact path of a Completed task.
func (t *Tracker) ResultFile(ctx context.Context, id string) (string, error) {
	rec, err := t.store.Get(ctx, id)
	if err != nil {
		return "", err
	}
	if rec.Status != StatusCompleted {
		return "", ErrNotFound
	}
	path := t.stager.ResultPath(id)
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", ErrNotFound
		}
		return "", &StorageError{Op: "stat result", Err: err}
	}
	return path, nil
}
