// Package storage provides the uniform blob-and-JSON I/O seam the engine
// reads and writes through. A Context hides whether bytes live on a local
// filesystem or an object store; every blob write is addressed by content
// hash so concurrent writers of the same bytes are idempotent, while JSON
// documents live under caller-chosen keys.
package storage

import (
	"context"
	"io"

	"forge.design/mediaforge/hashing"
)

// Context is the storage seam used by the event log, manifest service, and
// provider handlers. Blob writes are content-addressed: PutBlob derives the
// key from the data's own hash, so callers never choose colliding keys.
type Context interface {
	// PutBlob stores data under its own SHA-256 hash and returns a BlobRef.
	// Writing the same bytes twice is a no-op on the second call.
	PutBlob(ctx context.Context, data []byte, mimeType string) (hashing.BlobRef, error)

	// PutBlobReader is the streaming form of PutBlob for large payloads.
	PutBlobReader(ctx context.Context, r io.Reader, mimeType string) (hashing.BlobRef, error)

	// GetBlob retrieves bytes previously stored under hash.
	GetBlob(ctx context.Context, hash string) ([]byte, error)

	// BlobExists reports whether a blob with the given hash is present.
	BlobExists(ctx context.Context, hash string) (bool, error)

	// PutJSON writes value as JSON under key. Keys are caller-chosen paths
	// (e.g. "movies/<id>/manifests/<hash>.json"), not content-addressed.
	PutJSON(ctx context.Context, key string, value any) error

	// GetJSON reads the JSON value stored under key into out.
	GetJSON(ctx context.Context, key string, out any) error

	// List enumerates keys under prefix, in lexicographic order.
	List(ctx context.Context, prefix string) ([]string, error)

	// Delete removes the JSON document stored under key. Deleting a key
	// that doesn't exist is a no-op. Delete never touches content-addressed
	// blobs: those are immutable by design and have no delete path.
	Delete(ctx context.Context, key string) error
}

// BlobEnvelope is the resolved form of a file: reference from an inputs
// document, handed to job context preparation ahead of time.
type BlobEnvelope struct {
	Data     []byte `json:"data"`
	MimeType string `json:"mimeType"`
}
