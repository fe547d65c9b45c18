package router

import (
	"context"
	"sync"

	"github.com/rjosef/sagaflow/pkg/api"
)

// LogSink is the passive append-only target kind: it observes events
// and never produces work.
type LogSink interface {
	Append(ctx context.Context, ev api.Event) error
}

// InMemoryLogSink records appended events for inspection, mostly in
// tests and local runtimes.
type InMemoryLogSink struct {
	mu     sync.Mutex
	events []api.Event
}

var _ LogSink = (*InMemoryLogSink)(nil)

// NewInMemoryLogSink creates an empty log sink.
func NewInMemoryLogSink() *InMemoryLogSink {
	return &InMemoryLogSink{}
}

func (s *InMemoryLogSink) Append(ctx context.Context, ev api.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	ev.Payload = ev.Payload.Clone()
	s.events = append(s.events, ev)
	return nil
}

// Events returns a snapshot of everything appended so far.
func (s *InMemoryLogSink) Events() []api.Event {
	s.mu.Lock()
	defer s.mu.Unlock()

	return append([]api.Event(nil), s.events...)
}
