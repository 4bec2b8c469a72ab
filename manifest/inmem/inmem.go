// Package inmem provides an in-memory implementation of manifest.Service,
// intended for tests and local development.
package inmem

import (
	"context"
	"sync"

	"forge.design/mediaforge/hashing"
	"forge.design/mediaforge/manifest"
)

// Service implements manifest.Service in memory. Snapshots are immutable
// once saved; LoadCurrent returns the most recently saved one.
type Service struct {
	mu       sync.Mutex
	current  map[string]string              // movieID -> latest snapshot hash
	byHash   map[string]map[string]manifest.Manifest // movieID -> hash -> snapshot
	order    map[string][]string            // movieID -> hashes in save order
}

// New returns an empty in-memory manifest service.
func New() *Service {
	return &Service{
		current: make(map[string]string),
		byHash:  make(map[string]map[string]manifest.Manifest),
		order:   make(map[string][]string),
	}
}

// LoadCurrent implements manifest.Service.
func (s *Service) LoadCurrent(_ context.Context, movieID string) (manifest.Manifest, string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	hash, ok := s.current[movieID]
	if !ok {
		return manifest.Manifest{}, "", manifest.ErrManifestNotFound
	}
	return s.byHash[movieID][hash], hash, nil
}

// Save implements manifest.Service.
func (s *Service) Save(_ context.Context, movieID string, m manifest.Manifest) (string, error) {
	ph, err := hashing.HashPayload(manifestShape(m))
	if err != nil {
		return "", err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.byHash[movieID] == nil {
		s.byHash[movieID] = make(map[string]manifest.Manifest)
	}
	if _, exists := s.byHash[movieID][ph.Hash]; !exists {
		s.byHash[movieID][ph.Hash] = m
		s.order[movieID] = append(s.order[movieID], ph.Hash)
	}
	s.current[movieID] = ph.Hash
	return ph.Hash, nil
}

// List implements manifest.Service.
func (s *Service) List(_ context.Context, movieID string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]string, len(s.order[movieID]))
	copy(out, s.order[movieID])
	return out, nil
}

// Prune implements manifest.Service.
func (s *Service) Prune(_ context.Context, movieID string, keep int) error {
	if keep <= 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	order := s.order[movieID]
	if len(order) <= keep {
		return nil
	}
	current := s.current[movieID]
	cutoff := len(order) - keep
	var removed, retained []string
	for _, hash := range order[:cutoff] {
		if hash == current {
			retained = append(retained, hash)
			continue
		}
		removed = append(removed, hash)
	}
	retained = append(retained, order[cutoff:]...)

	for _, hash := range removed {
		delete(s.byHash[movieID], hash)
	}
	s.order[movieID] = retained
	return nil
}

// manifestShape renders m as a JSON-compatible value for hashing, since
// hashing.HashPayload only accepts the JSON primitive set.
func manifestShape(m manifest.Manifest) map[string]any {
	inputs := make(map[string]any, len(m.Inputs))
	for id, entry := range m.Inputs {
		inputs[id] = map[string]any{
			"hash":          entry.Hash,
			"payloadDigest": entry.PayloadDigest,
		}
	}
	artefacts := make(map[string]any, len(m.Artefacts))
	for id, entry := range m.Artefacts {
		artefacts[id] = map[string]any{
			"hash":       entry.Hash,
			"producedBy": entry.ProducedBy,
			"status":     string(entry.Status),
		}
	}
	return map[string]any{
		"revision":     m.Revision,
		"baseRevision": m.BaseRevision,
		"inputs":       inputs,
		"artefacts":    artefacts,
	}
}
