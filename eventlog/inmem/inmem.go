// Package inmem provides an in-memory implementation of eventlog.Store,
// intended for tests and local development. It is not durable.
package inmem

import (
	"context"
	"sync"

	"forge.design/mediaforge/eventlog"
)

type inputKey struct {
	movieID, id, revision string
}

type artefactKey struct {
	movieID, artefactID, revision, producedBy string
}

// Store implements eventlog.Store in memory, guarding all state with a
// single mutex (the log is append-only and serialised per movie per the
// engine's shared-resource policy).
type Store struct {
	mu sync.Mutex

	inputs        map[string][]eventlog.InputEvent
	artefacts     map[string][]eventlog.ArtefactEvent
	seenInputs    map[inputKey]string // hash of the first event seen for the key
	seenArtefacts map[artefactKey]struct{}
}

// New returns an empty in-memory event log store.
func New() *Store {
	return &Store{
		inputs:        make(map[string][]eventlog.InputEvent),
		artefacts:     make(map[string][]eventlog.ArtefactEvent),
		seenInputs:    make(map[inputKey]string),
		seenArtefacts: make(map[artefactKey]struct{}),
	}
}

// AppendInput implements eventlog.Store.
func (s *Store) AppendInput(_ context.Context, movieID string, event eventlog.InputEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := inputKey{movieID: movieID, id: event.ID, revision: event.Revision}
	if prevHash, ok := s.seenInputs[key]; ok {
		if prevHash != event.Hash {
			return eventlog.ErrConflictingRevision
		}
		return nil // duplicate of an identical event, no-op
	}

	s.seenInputs[key] = event.Hash
	s.inputs[movieID] = append(s.inputs[movieID], event)
	return nil
}

// AppendArtefact implements eventlog.Store.
func (s *Store) AppendArtefact(_ context.Context, movieID string, event eventlog.ArtefactEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := artefactKey{movieID: movieID, artefactID: event.ArtefactID, revision: event.Revision, producedBy: event.ProducedBy}
	if _, ok := s.seenArtefacts[key]; ok {
		return nil
	}

	s.seenArtefacts[key] = struct{}{}
	s.artefacts[movieID] = append(s.artefacts[movieID], event)
	return nil
}

// LoadInputs implements eventlog.Store.
func (s *Store) LoadInputs(_ context.Context, movieID string, sinceRevision string) ([]eventlog.InputEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	all := s.inputs[movieID]
	out := make([]eventlog.InputEvent, 0, len(all))
	for _, e := range all {
		if sinceRevision != "" && e.Revision <= sinceRevision {
			continue
		}
		out = append(out, e)
	}
	return out, nil
}

// LoadArtefacts implements eventlog.Store.
func (s *Store) LoadArtefacts(_ context.Context, movieID string, sinceRevision string) ([]eventlog.ArtefactEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	all := s.artefacts[movieID]
	out := make([]eventlog.ArtefactEvent, 0, len(all))
	for _, e := range all {
		if sinceRevision != "" && e.Revision <= sinceRevision {
			continue
		}
		out = append(out, e)
	}
	return out, nil
}
