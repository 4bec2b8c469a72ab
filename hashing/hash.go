// Package hashing provides canonical JSON digests for input payloads and
// artefact outputs, and the monotone revision identifier scheme used to
// version a movie's manifest.
//
// Canonicalization follows the same contract for every value the engine
// hashes: object keys sorted lexicographically by Unicode codepoint, arrays
// retain order, numbers render in minimal decimal form, and raw binary is
// replaced by its own SHA-256 digest before it enters the canonical form (so
// two payloads carrying byte-identical blobs hash the same without the
// canonical string itself carrying arbitrary bytes). The digest of the
// resulting canonical bytes is SHA-256, lowercase hex.
package hashing

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
)

// PayloadHash is the canonical form of a value together with its digest.
// Two payloads are semantically equal iff their Canonical strings are
// byte-equal, which holds iff their Hash fields are equal.
type PayloadHash struct {
	Canonical string `json:"canonical"`
	Hash      string `json:"hash"`
}

// BlobRef points to content-addressed bytes held in the storage context.
type BlobRef struct {
	Hash     string `json:"hash"`
	Size     int64  `json:"size"`
	MimeType string `json:"mimeType"`
}

// ArtefactOutput is the materialised result of a successful job attempt:
// either a reference to stored bytes, or a small value inlined directly.
// Exactly one of Blob or Inline is set.
type ArtefactOutput struct {
	Blob   *BlobRef `json:"blob,omitempty"`
	Inline any      `json:"inline,omitempty"`
}

// HashPayload canonicalises value and returns its canonical form and digest.
// value must be built from the JSON-compatible primitives (nil, bool,
// string, float64, int, int64, json.Number, []any, map[string]any) plus
// []byte for raw binary content, which is represented by its own SHA-256
// hash rather than its literal bytes.
func HashPayload(value any) (PayloadHash, error) {
	canonical, err := canonicalize(value)
	if err != nil {
		return PayloadHash{}, err
	}
	sum := sha256.Sum256(canonical)
	return PayloadHash{Canonical: string(canonical), Hash: hex.EncodeToString(sum[:])}, nil
}

// HashArtefactOutput hashes the materialised output envelope of a job
// attempt: a blob reference plus its mime type, or an inlined value. Two
// outputs referencing byte-identical blobs hash the same regardless of
// where the blob physically lives.
func HashArtefactOutput(output ArtefactOutput) (string, error) {
	var shaped map[string]any
	if output.Blob != nil {
		shaped = map[string]any{
			"blob": map[string]any{
				"hash":     output.Blob.Hash,
				"size":     output.Blob.Size,
				"mimeType": output.Blob.MimeType,
			},
		}
	} else {
		shaped = map[string]any{"inline": output.Inline}
	}
	ph, err := HashPayload(shaped)
	if err != nil {
		return "", err
	}
	return ph.Hash, nil
}

// canonicalize recursively renders v as canonical JSON bytes.
func canonicalize(v any) ([]byte, error) {
	switch val := v.(type) {
	case nil:
		return []byte("null"), nil
	case bool:
		if val {
			return []byte("true"), nil
		}
		return []byte("false"), nil
	case string:
		return json.Marshal(val)
	case float64, int, int64, json.Number:
		return canonicalizeNumber(val)
	case []byte:
		sum := sha256.Sum256(val)
		return json.Marshal(hex.EncodeToString(sum[:]))
	case []any:
		return canonicalizeArray(val)
	case map[string]any:
		return canonicalizeObject(val)
	default:
		return nil, fmt.Errorf("hashing: unsupported type %T", v)
	}
}

func canonicalizeNumber(v any) ([]byte, error) {
	switch n := v.(type) {
	case json.Number:
		return []byte(n.String()), nil
	default:
		return json.Marshal(n)
	}
}

func canonicalizeArray(arr []any) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('[')
	for i, elem := range arr {
		if i > 0 {
			buf.WriteByte(',')
		}
		b, err := canonicalize(elem)
		if err != nil {
			return nil, err
		}
		buf.Write(b)
	}
	buf.WriteByte(']')
	return buf.Bytes(), nil
}

func canonicalizeObject(obj map[string]any) ([]byte, error) {
	keys := make([]string, 0, len(obj))
	for k := range obj {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, key := range keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		kb, err := json.Marshal(key)
		if err != nil {
			return nil, err
		}
		buf.Write(kb)
		buf.WriteByte(':')
		vb, err := canonicalize(obj[key])
		if err != nil {
			return nil, err
		}
		buf.Write(vb)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}
