package router

import (
	"context"
	"sync"
	"time"

	"github.com/rjosef/sagaflow/pkg/api"
)

// DeadLetter is a delivery that exhausted its attempts. Dead letters
// are never silently dropped; they wait here for operator
// reconciliation (inspect, fix the target, redeliver).
type DeadLetter struct {
	Event    api.Event
	Route    string
	Target   api.Target
	Attempts int
	Error    string
	At       time.Time
}

// DeadLetterSink stores failed deliveries.
type DeadLetterSink interface {
	Add(ctx context.Context, dl DeadLetter) error
	List(ctx context.Context) ([]DeadLetter, error)
	// Remove drops the dead letter for (eventID, target), e.g. after a
	// successful redelivery. Removing a missing entry is not an error.
	Remove(ctx context.Context, eventID string, target api.Target) error
}

// InMemoryDeadLetterSink keeps dead letters in memory.
type InMemoryDeadLetterSink struct {
	mu      sync.Mutex
	letters []DeadLetter
}

var _ DeadLetterSink = (*InMemoryDeadLetterSink)(nil)

// NewInMemoryDeadLetterSink creates an empty sink.
func NewInMemoryDeadLetterSink() *InMemoryDeadLetterSink {
	return &InMemoryDeadLetterSink{}
}

func (s *InMemoryDeadLetterSink) Add(ctx context.Context, dl DeadLetter) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.letters = append(s.letters, dl)
	return nil
}

func (s *InMemoryDeadLetterSink) List(ctx context.Context) ([]DeadLetter, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return append([]DeadLetter(nil), s.letters...), nil
}

func (s *InMemoryDeadLetterSink) Remove(ctx context.Context, eventID string, target api.Target) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	kept := s.letters[:0]
	for _, dl := range s.letters {
		if dl.Event.ID == eventID && dl.Target == target {
			continue
		}
		kept = append(kept, dl)
	}
	s.letters = kept
	return nil
}
