package task

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"
)

// Manager owns the process-scoped queue and dispatcher and exposes the
// gateway and status operations.
type Manager struct {
	store      Store
	stager     Stager
	queue      *Queue
	dispatcher *Dispatcher
	gateway    *Gateway
	tracker    *Tracker
	logger     *slog.Logger
	loop       sync.WaitGroup
}

func NewManager(store Store, stager Stager, gen Generator, workers int, logger *slog.Logger) *Manager {
	queue := NewQueue()
	d := NewDispatcher(queue, workers, store, stager, gen, logger)
	return &Manager{
		store:      store,
		stager:     stager,
		queue:      queue,
		dispatcher: d,
		gateway:    NewGateway(store, stager, queue, d, logger),
		tracker:    NewTracker(store, stager, queue, d.Workers()),
		logger:     logger,
	}
}

// Start recovers state left by a previous process and launches the
// dispatch loop, which stops when ctx is cancelled.
func (m *Manager) Start(ctx context.Context) error {
	if err := m.recover(ctx); err != nil {
		return fmt.Errorf("failed to recover tasks: %w", err)
	}
	m.logger.Info("task manager started", "workers", m.dispatcher.Workers())
	m.loop.Add(1)
	go func() {
		defer m.loop.Done()
		m.dispatcher.Run(ctx)
	}()
	return nil
}

// Wait blocks until the dispatch loop has stopped and all executions
// have finished.
func (m *Manager) Wait() {
	m.loop.Wait()
	m.dispatcher.Wait()
}

func (m *Manager) Submit(ctx context.Context, s *Submission) (*Record, error) {
	return m.gateway.Submit(ctx, s)
}

func (m *Manager) Status(ctx context.Context, id string) (*View, error) {
	return m.tracker.Lookup(ctx, id)
}

func (m *Manager) ResultFile(ctx context.Context, id string) (string, error) {
	return m.tracker.ResultFile(ctx, id)
}

func (m *Manager) QueueLen() int { return m.queue.Len() }

func (m *Manager) Workers() int { return m.dispatcher.Workers() }

// recover requeues Pending records, fails Processing records interrupted
// by the previous shutdown and removes staged directories that never got
// a record.
func (m *Manager) recover(ctx context.Context) error {
	pending, err := m.store.ListByStatus(ctx, StatusPending)
	if err != nil {
		return err
	}
	processing, err := m.store.ListByStatus(ctx, StatusProcessing)
	if err != nil {
		return err
	}
	m.logger.Info("recovering unfinished tasks",
		"pending_count", len(pending),
		"processing_count", len(processing))

	now := time.Now().UTC()
	for _, rec := range processing {
		msg := (&HarnessError{Err: errors.New("interrupted by server restart")}).Error()
		if err := m.store.MarkFailed(ctx, rec.ID, msg, now); err != nil {
			m.logger.Error("failed to fail interrupted task", "task_id", rec.ID, "error", err)
		}
	}

	sort.SliceStable(pending, func(i, j int) bool {
		return pending[i].UploadTime.Before(pending[j].UploadTime)
	})
	for _, rec := range pending {
		// Submissions accepted before Start are queued already.
		if m.queue.Position(rec.ID) >= 0 {
			continue
		}
		m.queue.Push(rec.ID)
		m.dispatcher.Notify(rec.ID)
	}

	return m.sweep(ctx)
}

func (m *Manager) sweep(ctx context.Context) error {
	staged, err := m.stager.Staged()
	if err != nil {
		return err
	}
	for _, id := range staged {
		_, err := m.store.Get(ctx, id)
		if err == nil {
			continue
		}
		if !errors.Is(err, ErrNotFound) {
			return err
		}
		m.logger.Warn("removing orphaned staged task", "task_id", id)
		if err := m.stager.Discard(id); err != nil {
			m.logger.Error("failed to remove orphaned staged task", "task_id", id, "error", err)
		}
	}
	return nil
}
