package persistence

import (
	"context"
	"sync"
	"time"

	"github.com/rjosef/sagaflow/pkg/api"
)

// DeliveryStatus is the outcome of one (event, target) delivery.
type DeliveryStatus string

const (
	DeliveryDelivered    DeliveryStatus = "DELIVERED"
	DeliveryDeadLettered DeliveryStatus = "DEAD_LETTERED"
)

// DeliveryRecord is the append-only audit record of one delivery: how
// many attempts it took and how it ended.
type DeliveryRecord struct {
	EventID string
	Route   string
	Target  api.Target
	Status  DeliveryStatus
	Attempt int
	Error   string
	At      time.Time
}

// EventStore journals published events and their per-target delivery
// outcomes. Publish appends the event before any delivery starts; that
// append is the durable-accept point the producer observes.
type EventStore interface {
	AppendEvent(ctx context.Context, ev api.Event) error
	// ListEvents returns journaled events, optionally filtered by
	// correlation id (empty = all), in append order.
	ListEvents(ctx context.Context, correlationID string) ([]api.Event, error)
	RecordDelivery(ctx context.Context, rec DeliveryRecord) error
	ListDeliveries(ctx context.Context, eventID string) ([]DeliveryRecord, error)
}

// InMemoryEventStore keeps the journal in memory.
type InMemoryEventStore struct {
	mu         sync.RWMutex
	events     []api.Event
	deliveries []DeliveryRecord
}

var _ EventStore = (*InMemoryEventStore)(nil)

// NewInMemoryEventStore creates an empty in-memory journal.
func NewInMemoryEventStore() *InMemoryEventStore {
	return &InMemoryEventStore{}
}

func (s *InMemoryEventStore) AppendEvent(ctx context.Context, ev api.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	ev.Payload = ev.Payload.Clone()
	s.events = append(s.events, ev)
	return nil
}

func (s *InMemoryEventStore) ListEvents(ctx context.Context, correlationID string) ([]api.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []api.Event
	for _, ev := range s.events {
		if correlationID != "" && ev.CorrelationID != correlationID {
			continue
		}
		ev.Payload = ev.Payload.Clone()
		out = append(out, ev)
	}
	return out, nil
}

func (s *InMemoryEventStore) RecordDelivery(ctx context.Context, rec DeliveryRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.deliveries = append(s.deliveries, rec)
	return nil
}

func (s *InMemoryEventStore) ListDeliveries(ctx context.Context, eventID string) ([]DeliveryRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []DeliveryRecord
	for _, rec := range s.deliveries {
		if eventID != "" && rec.EventID != eventID {
			continue
		}
		out = append(out, rec)
	}
	return out, nil
}
