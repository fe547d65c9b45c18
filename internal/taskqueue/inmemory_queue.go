package taskqueue

import (
	"context"
	"sync"
)

// InMemoryQueue is a Queue backed by one buffered channel per named
// queue. It is safe for concurrent use.
type InMemoryQueue struct {
	mu       sync.Mutex
	capacity int
	queues   map[string]chan Task
}

// NewInMemoryQueue creates a queue whose named sub-queues each hold up
// to capacity tasks. For tests and small deployments a modest capacity
// (e.g. 1024) is fine.
func NewInMemoryQueue(capacity int) *InMemoryQueue {
	if capacity <= 0 {
		capacity = 1024
	}
	return &InMemoryQueue{
		capacity: capacity,
		queues:   make(map[string]chan Task),
	}
}

var _ Queue = (*InMemoryQueue)(nil)

func (q *InMemoryQueue) channel(name string) chan Task {
	q.mu.Lock()
	defer q.mu.Unlock()

	ch, ok := q.queues[name]
	if !ok {
		ch = make(chan Task, q.capacity)
		q.queues[name] = ch
	}
	return ch
}

func (q *InMemoryQueue) Enqueue(ctx context.Context, t Task) error {
	select {
	case q.channel(t.Queue) <- t:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (q *InMemoryQueue) Dequeue(ctx context.Context, queue string) (*Task, error) {
	select {
	case t := <-q.channel(queue):
		return &t, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (q *InMemoryQueue) Len(queue string) int {
	return len(q.channel(queue))
}
