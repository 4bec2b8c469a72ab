// Package manifest materialises, reads, and writes the current manifest: a
// content-hash-keyed snapshot of a movie's root inputs and last-known
// artefact states, assembled from the event log.
package manifest

import (
	"context"
	"errors"
	"time"

	"forge.design/mediaforge/eventlog"
)

// InputEntry is a manifest's view of one root input at the manifest's
// revision.
type InputEntry struct {
	Hash          string    `json:"hash"`
	PayloadDigest string    `json:"payloadDigest"`
	CreatedAt     time.Time `json:"createdAt"`
}

// ArtefactEntry is a manifest's view of one artefact's last-known state.
type ArtefactEntry struct {
	Hash       string          `json:"hash"`
	ProducedBy string          `json:"producedBy"`
	Status     eventlog.Status `json:"status"`
	CreatedAt  time.Time       `json:"createdAt"`
}

// TimelineEntry records one revision transition folded into a manifest,
// kept for audit display (e.g. "what changed since the base revision").
type TimelineEntry struct {
	Revision  string    `json:"revision"`
	CreatedAt time.Time `json:"createdAt"`
}

// Manifest is the snapshot view of a movie's inputs and artefacts as of
// Revision. Invariant: every artefact entry references a producer that
// existed in the graph that produced it; every input entry was appended to
// the event log at Revision or earlier.
type Manifest struct {
	Revision     string                   `json:"revision"`
	BaseRevision string                   `json:"baseRevision"`
	CreatedAt    time.Time                `json:"createdAt"`
	Inputs       map[string]InputEntry    `json:"inputs"`
	Artefacts    map[string]ArtefactEntry `json:"artefacts"`
	Timeline     []TimelineEntry          `json:"timeline"`
}

// ErrManifestNotFound is returned by LoadCurrent when a movie has no
// manifest yet.
var ErrManifestNotFound = errors.New("manifest: not found")

// Service materialises, reads, and writes the current manifest for a movie.
// Snapshots are immutable once saved: Save never overwrites an existing
// content hash, it only ever adds a new one.
type Service interface {
	// LoadCurrent returns the most recently saved manifest for movieID and
	// its content hash, or ErrManifestNotFound if none exists.
	LoadCurrent(ctx context.Context, movieID string) (Manifest, string, error)

	// Save persists manifest, keyed by its own content hash. Saving a
	// manifest whose hash already exists is a no-op.
	Save(ctx context.Context, movieID string, manifest Manifest) (string, error)

	// List enumerates the content hashes of every snapshot saved for
	// movieID, oldest first.
	List(ctx context.Context, movieID string) ([]string, error)

	// Prune removes every snapshot for movieID except the keep most recent
	// ones (by save order) and the current pointer's target, which is never
	// removed even if it falls outside keep. keep <= 0 is a no-op.
	Prune(ctx context.Context, movieID string, keep int) error
}
