package task

import (
	"context"
	"log/slog"
	"sync"

	"golang.org/x/sync/semaphore"

	"grapelm/metrics"
)

// Dispatcher turns arrival signals into executions, never running more
// than workers tasks at once.
type Dispatcher struct {
	queue     *Queue
	arrivals  *arrivals
	limiter   *semaphore.Weighted
	workers   int
	store     Store
	stager    Stager
	generator Generator
	logger    *slog.Logger
	running   sync.WaitGroup
}

func NewDispatcher(queue *Queue, workers int, store Store, stager Stager, gen Generator, logger *slog.Logger) *Dispatcher {
	if workers <= 0 {
		logger.Warn("invalid worker count specified, using default",
			"specified_count", workers,
			"default_count", 1)
		workers = 1
	}
	return &Dispatcher{
		queue:     queue,
		arrivals:  newArrivals(),
		limiter:   semaphore.NewWeighted(int64(workers)),
		workers:   workers,
		store:     store,
		stager:    stager,
		generator: gen,
		logger:    logger,
	}
}

func (d *Dispatcher) Workers() int { return d.workers }

// Notify signals that id was appended to the queue. It never blocks.
func (d *Dispatcher) Notify(id string) {
	metrics.QueueDepth.Set(float64(d.queue.Len()))
	d.arrivals.send(id)
}

// Run is the dispatch loop. It returns when ctx is cancelled; executions
// already started keep running, see Wait.
func (d *Dispatcher) Run(ctx context.Context) {
	d.logger.Info("dispatcher started", "workers", d.workers)
	for {
		notified, ok := d.arrivals.recv(ctx)
		if !ok {
			break
		}

		// Blocks while all slots are held.
		if err := d.limiter.Acquire(ctx, 1); err != nil {
			break
		}

		id, ok := d.queue.Pop()
		metrics.QueueDepth.Set(float64(d.queue.Len()))
		if !ok {
			d.logger.Warn("arrival signal with empty queue", "task_id", notified)
			d.limiter.Release(1)
			continue
		}
		if id != notified {
			d.logger.Debug("dispatching queue head instead of notified task",
				"task_id", id,
				"notified_task_id", notified)
		}

		d.running.Add(1)
		metrics.TasksInFlight.Inc()
		go func(id string) {
			defer d.running.Done()
			defer metrics.TasksInFlight.Dec()
			defer d.limiter.Release(1)
			d.execute(id)
		}(id)
	}
	d.logger.Info("dispatcher stopped")
}

// Wait blocks until every started execution has finished.
func (d *Dispatcher) Wait() {
	d.running.Wait()
}
