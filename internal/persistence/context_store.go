package persistence

import (
	"context"
	"sync"

	"github.com/rjosef/sagaflow/pkg/api"
)

// Key addresses one record in the context store. Keys are composite:
// a record kind plus an id within that kind, e.g. {"customer", "c-17"}.
type Key struct {
	Kind string
	ID   string
}

// String renders the key in "kind/id" form.
func (k Key) String() string { return k.Kind + "/" + k.ID }

// ContextStore is the key-addressed record store task executors read
// and write. Record-level access is last-writer-wins; no cross-key
// transactions. Anything stronger belongs in the executor's own
// conditional-write logic, not here.
type ContextStore interface {
	// Get returns the record and whether it exists.
	Get(ctx context.Context, key Key) (api.Document, bool, error)
	Put(ctx context.Context, key Key, rec api.Document) error
	Delete(ctx context.Context, key Key) error
}

// InMemoryContextStore is a goroutine-safe ContextStore backed by a map.
type InMemoryContextStore struct {
	mu      sync.RWMutex
	records map[Key]api.Document
}

var _ ContextStore = (*InMemoryContextStore)(nil)

// NewInMemoryContextStore creates an empty in-memory context store.
func NewInMemoryContextStore() *InMemoryContextStore {
	return &InMemoryContextStore{records: make(map[Key]api.Document)}
}

func (s *InMemoryContextStore) Get(ctx context.Context, key Key) (api.Document, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.records[key]
	if !ok {
		return nil, false, nil
	}
	return rec.Clone(), true, nil
}

func (s *InMemoryContextStore) Put(ctx context.Context, key Key, rec api.Document) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.records[key] = rec.Clone()
	return nil
}

func (s *InMemoryContextStore) Delete(ctx context.Context, key Key) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.records, key)
	return nil
}
