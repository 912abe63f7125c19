package task

import (
	"context"
	"sync"
)

// Queue is the ordered sequence of pending task ids. It is the only
// authority for dispatch order.
type Queue struct {
	mu  sync.Mutex
	ids []string
}

func NewQueue() *Queue {
	return &Queue{}
}

// Push appends id at the tail.
func (q *Queue) Push(id string) {
	q.mu.Lock()
	q.ids = append(q.ids, id)
	q.mu.Unlock()
}

// Pop removes and returns the head of the queue.
func (q *Queue) Pop() (string, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.ids) == 0 {
		return "", false
	}
	id := q.ids[0]
	q.ids[0] = ""
	q.ids = q.ids[1:]
	return id, true
}

// Position returns the 0-based index of id, or -1 if it is not queued.
func (q *Queue) Position(id string) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	for i, v := range q.ids {
		if v == id {
			return i
		}
	}
	return -1
}

func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.ids)
}

// arrivals is an unbounded mailbox of arrival signals. send never blocks;
// recv suspends until a signal is available or ctx is done.
type arrivals struct {
	mu      sync.Mutex
	pending []string
	wake    chan struct{}
}

func newArrivals() *arrivals {
	return &arrivals{wake: make(chan struct{}, 1)}
}

func (a *arrivals) send(id string) {
	a.mu.Lock()
	a.pending = append(a.pending, id)
	a.mu.Unlock()
	select {
	case a.wake <- struct{}{}:
	default:
	}
}

func (a *arrivals) recv(ctx context.Context) (string, bool) {
	for {
		a.mu.Lock()
		if len(a.pending) > 0 {
			id := a.pending[0]
			a.pending[0] = ""
			a.pending = a.pending[1:]
			a.mu.Unlock()
			return id, true
		}
		a.mu.Unlock()

		select {
		case <-ctx.Done():
			return "", false
		case <-a.wake:
		}
	}
}
