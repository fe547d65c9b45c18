package taskqueue

import (
	"context"
	"time"

	"github.com/rjosef/sagaflow/pkg/api"
)

// Task is one queued event delivery: a route matched and chose a named
// work queue, and a worker will hand the event to whatever consumer is
// bound to that queue.
type Task struct {
	ID    string
	Queue string
	Event api.Event

	EnqueuedAt time.Time

	// Attempts counts worker processing attempts, not router delivery
	// attempts; the router retried before the task was ever enqueued.
	Attempts int
}

// Queue is an async task queue with named sub-queues. Slow consumers
// accumulate here instead of blocking producers; this is the
// back-pressure boundary between publish and processing.
type Queue interface {
	// Enqueue adds a task. It should respect ctx for cancellation.
	Enqueue(ctx context.Context, t Task) error

	// Dequeue removes and returns the next task of the named queue,
	// blocking until one is available or ctx is cancelled.
	Dequeue(ctx context.Context, queue string) (*Task, error)

	// Len returns the approximate number of tasks pending on the
	// named queue.
	Len(queue string) int
}
