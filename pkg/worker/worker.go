package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rjosef/sagaflow/internal/taskqueue"
	"github.com/rjosef/sagaflow/pkg/api"
)

// Handler processes one event delivered to the worker's queue.
type Handler func(ctx context.Context, ev api.Event) error

// Config controls retry behavior for handler invocations.
type Config struct {
	// MaxAttempts is the total number of tries per task, including the
	// first. Zero or negative means a single attempt.
	MaxAttempts int

	// Backoff is the delay between attempts.
	Backoff time.Duration
}

// Worker pulls tasks from one named queue and dispatches them to
// handlers registered per event type.
type Worker struct {
	queue     taskqueue.Queue
	queueName string
	cfg       Config

	mu       sync.RWMutex
	handlers map[string]Handler
	fallback Handler
}

// New creates a Worker for the given queue name with single-attempt
// processing.
func New(queue taskqueue.Queue, queueName string) *Worker {
	return NewWithConfig(queue, queueName, Config{})
}

// NewWithConfig creates a Worker with the given retry configuration.
func NewWithConfig(queue taskqueue.Queue, queueName string, cfg Config) *Worker {
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 1
	}
	return &Worker{
		queue:     queue,
		queueName: queueName,
		cfg:       cfg,
		handlers:  make(map[string]Handler),
	}
}

// Handle registers a handler for one event type. Registering the same
// type twice replaces the earlier handler.
func (w *Worker) Handle(eventType string, h Handler) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.handlers[eventType] = h
}

// HandleDefault registers the handler used for event types with no
// explicit registration. Without one, unmatched events fail processing.
func (w *Worker) HandleDefault(h Handler) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.fallback = h
}

// ProcessOne pulls a single task from the queue and processes it.
// Returns (processed, error):
//   - processed == false: no task was obtained (ctx cancelled while waiting)
//   - processed == true: a task ran; err reports whether it succeeded
func (w *Worker) ProcessOne(ctx context.Context) (bool, error) {
	task, err := w.queue.Dequeue(ctx, w.queueName)
	if err != nil {
		return false, err
	}
	if task == nil {
		return false, nil
	}

	return true, w.process(ctx, task.Event)
}

// Run consumes the queue until ctx is cancelled. Handler errors after
// all attempts are reported through errFn (may be nil) and never stop
// the loop; the task is consumed either way.
func (w *Worker) Run(ctx context.Context, errFn func(ev api.Event, err error)) error {
	for {
		task, err := w.queue.Dequeue(ctx, w.queueName)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return ctx.Err()
			}
			return err
		}
		if task == nil {
			continue
		}
		if err := w.process(ctx, task.Event); err != nil && errFn != nil {
			errFn(task.Event, err)
		}
	}
}

func (w *Worker) process(ctx context.Context, ev api.Event) error {
	w.mu.RLock()
	h, ok := w.handlers[ev.Type]
	if !ok {
		h = w.fallback
	}
	w.mu.RUnlock()

	if h == nil {
		return fmt.Errorf("no handler for event type %q on queue %q", ev.Type, w.queueName)
	}

	var lastErr error
	for attempt := 1; attempt <= w.cfg.MaxAttempts; attempt++ {
		if lastErr = h(ctx, ev); lastErr == nil {
			return nil
		}
		if attempt < w.cfg.MaxAttempts && w.cfg.Backoff > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(w.cfg.Backoff):
			}
		}
	}
	return fmt.Errorf("handler for %q failed after %d attempts: %w", ev.Type, w.cfg.MaxAttempts, lastErr)
}
