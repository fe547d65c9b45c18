package api

import (
	"time"

	"github.com/google/uuid"
)

// Event is an immutable, timestamped record of something that
// happened. Producers fill Source, Type and Payload; the router
// assigns ID and OccurredAt on publish when they are empty.
//
// Consumers must treat a delivered Event as read-only. The router
// hands each target its own deep copy of the payload, so a misbehaving
// consumer cannot corrupt what other targets see.
type Event struct {
	ID            string
	Source        string
	Type          string
	OccurredAt    time.Time
	CorrelationID string
	Payload       Document
}

// NewEvent builds an event with a fresh ID and timestamp. The payload
// is deep-copied so later mutation of the argument does not leak into
// the published event.
func NewEvent(source, eventType string, payload Document) Event {
	return Event{
		ID:         uuid.NewString(),
		Source:     source,
		Type:       eventType,
		OccurredAt: time.Now().UTC(),
		Payload:    payload.Clone(),
	}
}

// WithCorrelation returns a copy of the event carrying the given
// correlation id.
func (e Event) WithCorrelation(id string) Event {
	e.CorrelationID = id
	return e
}

// Validate checks the minimum an event needs before it may be
// published.
func (e Event) Validate() error {
	if e.Type == "" {
		return &InvalidEventError{Reason: "event type is required"}
	}
	if e.Source == "" {
		return &InvalidEventError{Reason: "event source is required"}
	}
	return nil
}
