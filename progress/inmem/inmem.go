// Package inmem provides an in-memory implementation of progress.Store,
// intended for tests and local development.
package inmem

import (
	"context"
	"sync"

	"forge.design/mediaforge/progress"
)

// Store implements progress.Store in memory.
type Store struct {
	mu     sync.Mutex
	events map[string][]progress.Event
}

// New returns an empty in-memory progress store.
func New() *Store {
	return &Store{events: make(map[string][]progress.Event)}
}

// Append implements progress.Store.
func (s *Store) Append(_ context.Context, e progress.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events[e.RunID] = append(s.events[e.RunID], e)
	return nil
}

// List implements progress.Store.
func (s *Store) List(_ context.Context, runID string) ([]progress.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]progress.Event, len(s.events[runID]))
	copy(out, s.events[runID])
	return out, nil
}
