// Package storagebacked implements manifest.Service over a storage.Context,
// so manifest snapshots live alongside blobs on the same local filesystem or
// object store rather than in a separate database.
package storagebacked

import (
	"context"
	"fmt"
	"path"
	"sort"

	"forge.design/mediaforge/hashing"
	"forge.design/mediaforge/manifest"
	"forge.design/mediaforge/storage"
)

// Service implements manifest.Service against a storage.Context. Snapshots
// are written under "movies/<movieID>/manifests/<hash>.json"; the pointer to
// the current snapshot lives at "movies/<movieID>/manifests/current.json".
type Service struct {
	store storage.Context
}

// New wraps store as a manifest.Service.
func New(store storage.Context) *Service {
	return &Service{store: store}
}

func manifestsDir(movieID string) string {
	return path.Join("movies", movieID, "manifests")
}

func snapshotKey(movieID, hash string) string {
	return path.Join(manifestsDir(movieID), hash+".json")
}

func pointerKey(movieID string) string {
	return path.Join(manifestsDir(movieID), "current.json")
}

type pointerDoc struct {
	Hash string `json:"hash"`
}

// LoadCurrent implements manifest.Service.
func (s *Service) LoadCurrent(ctx context.Context, movieID string) (manifest.Manifest, string, error) {
	var ptr pointerDoc
	if err := s.store.GetJSON(ctx, pointerKey(movieID), &ptr); err != nil {
		return manifest.Manifest{}, "", manifest.ErrManifestNotFound
	}
	var m manifest.Manifest
	if err := s.store.GetJSON(ctx, snapshotKey(movieID, ptr.Hash), &m); err != nil {
		return manifest.Manifest{}, "", fmt.Errorf("storagebacked: loading snapshot %s: %w", ptr.Hash, err)
	}
	return m, ptr.Hash, nil
}

// Save implements manifest.Service.
func (s *Service) Save(ctx context.Context, movieID string, m manifest.Manifest) (string, error) {
	ph, err := hashing.HashPayload(manifestShape(m))
	if err != nil {
		return "", err
	}

	key := snapshotKey(movieID, ph.Hash)
	var existing manifest.Manifest
	if err := s.store.GetJSON(ctx, key, &existing); err != nil {
		// Snapshot doesn't exist yet (or isn't readable): write it. Any read
		// error, not only a missing snapshot, leads here; an error from the
		// write itself is returned.
		if err := s.store.PutJSON(ctx, key, m); err != nil {
			return "", fmt.Errorf("storagebacked: saving snapshot %s: %w", ph.Hash, err)
		}
	}

	if err := s.store.PutJSON(ctx, pointerKey(movieID), pointerDoc{Hash: ph.Hash}); err != nil {
		return "", fmt.Errorf("storagebacked: updating current pointer: %w", err)
	}
	return ph.Hash, nil
}

// List implements manifest.Service. Hashes come back sorted
// lexicographically, not oldest first: this backend records no save order.
func (s *Service) List(ctx context.Context, movieID string) ([]string, error) {
	keys, err := s.store.List(ctx, manifestsDir(movieID))
	if err != nil {
		return nil, fmt.Errorf("storagebacked: listing snapshots: %w", err)
	}
	hashes := make([]string, 0, len(keys))
	for _, k := range keys {
		base := path.Base(k)
		if base == "current.json" {
			continue
		}
		hashes = append(hashes, base[:len(base)-len(".json")])
	}
	sort.Strings(hashes)
	return hashes, nil
}

// Prune implements manifest.Service. The pointer's current hash is always
// retained even if List's ordering would otherwise drop it, since List
// returns hashes in lexicographic, not save, order for this backend.
func (s *Service) Prune(ctx context.Context, movieID string, keep int) error {
	if keep <= 0 {
		return nil
	}
	hashes, err := s.List(ctx, movieID)
	if err != nil {
		return fmt.Errorf("storagebacked: pruning: listing snapshots: %w", err)
	}
	if len(hashes) <= keep {
		return nil
	}

	var ptr pointerDoc
	_ = s.store.GetJSON(ctx, pointerKey(movieID), &ptr)

	cutoff := len(hashes) - keep
	for _, hash := range hashes[:cutoff] {
		if hash == ptr.Hash {
			continue
		}
		if err := s.store.Delete(ctx, snapshotKey(movieID, hash)); err != nil {
			return fmt.Errorf("storagebacked: pruning snapshot %s: %w", hash, err)
		}
	}
	return nil
}

func manifestShape(m manifest.Manifest) map[string]any {
	inputs := make(map[string]any, len(m.Inputs))
	for id, entry := range m.Inputs {
		inputs[id] = map[string]any{"hash": entry.Hash, "payloadDigest": entry.PayloadDigest}
	}
	artefacts := make(map[string]any, len(m.Artefacts))
	for id, entry := range m.Artefacts {
		artefacts[id] = map[string]any{"hash": entry.Hash, "producedBy": entry.ProducedBy, "status": string(entry.Status)}
	}
	return map[string]any{
		"revision":     m.Revision,
		"baseRevision": m.BaseRevision,
		"inputs":       inputs,
		"artefacts":    artefacts,
	}
}
