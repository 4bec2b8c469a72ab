// Package localfs implements storage.Context over a sandboxed local
// filesystem directory: blobs are written atomically (temp file + rename)
// and sharded by the first two hex characters of their hash to keep any one
// directory small.
package localfs

import (
	"bytes"
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"forge.design/mediaforge/hashing"
)

// Context implements storage.Context rooted at a base directory. All paths
// are resolved within the root; absolute paths and ".." escapes are
// rejected.
type Context struct {
	root string
}

// New creates (if needed) baseDir and returns a Context rooted there.
func New(baseDir string) (*Context, error) {
	abs, err := filepath.Abs(baseDir)
	if err != nil {
		return nil, fmt.Errorf("localfs: resolving base dir: %w", err)
	}
	if err := os.MkdirAll(abs, 0o750); err != nil {
		return nil, fmt.Errorf("localfs: creating base dir: %w", err)
	}
	return &Context{root: abs}, nil
}

func (c *Context) resolve(relative string) (string, error) {
	if filepath.IsAbs(relative) {
		return "", fmt.Errorf("localfs: absolute path not allowed: %s", relative)
	}
	clean := filepath.Clean(relative)
	full := filepath.Join(c.root, clean)
	abs, err := filepath.Abs(full)
	if err != nil {
		return "", err
	}
	if abs != c.root && !strings.HasPrefix(abs, c.root+string(filepath.Separator)) {
		return "", fmt.Errorf("localfs: path escapes root: %s", relative)
	}
	return abs, nil
}

func blobPath(hash string) string {
	shard := hash
	if len(shard) > 2 {
		shard = shard[:2]
	}
	return filepath.Join("blobs", shard, hash+".bin")
}

// PutBlob implements storage.Context.
func (c *Context) PutBlob(_ context.Context, data []byte, mimeType string) (hashing.BlobRef, error) {
	sum := sha256.Sum256(data)
	hash := hex.EncodeToString(sum[:])
	path, err := c.resolve(blobPath(hash))
	if err != nil {
		return hashing.BlobRef{}, err
	}
	if _, err := os.Stat(path); err == nil {
		return hashing.BlobRef{Hash: hash, Size: int64(len(data)), MimeType: mimeType}, nil
	}
	if err := atomicWrite(path, data); err != nil {
		return hashing.BlobRef{}, err
	}
	return hashing.BlobRef{Hash: hash, Size: int64(len(data)), MimeType: mimeType}, nil
}

// PutBlobReader implements storage.Context.
func (c *Context) PutBlobReader(ctx context.Context, r io.Reader, mimeType string) (hashing.BlobRef, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return hashing.BlobRef{}, fmt.Errorf("localfs: reading blob stream: %w", err)
	}
	return c.PutBlob(ctx, data, mimeType)
}

// GetBlob implements storage.Context.
func (c *Context) GetBlob(_ context.Context, hash string) ([]byte, error) {
	path, err := c.resolve(blobPath(hash))
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("localfs: reading blob %s: %w", hash, err)
	}
	return data, nil
}

// BlobExists implements storage.Context.
func (c *Context) BlobExists(_ context.Context, hash string) (bool, error) {
	path, err := c.resolve(blobPath(hash))
	if err != nil {
		return false, err
	}
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// PutJSON implements storage.Context.
func (c *Context) PutJSON(_ context.Context, key string, value any) error {
	path, err := c.resolve(key)
	if err != nil {
		return err
	}
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("localfs: marshaling %s: %w", key, err)
	}
	return atomicWrite(path, data)
}

// GetJSON implements storage.Context.
func (c *Context) GetJSON(_ context.Context, key string, out any) error {
	path, err := c.resolve(key)
	if err != nil {
		return err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("localfs: reading %s: %w", key, err)
	}
	return json.Unmarshal(data, out)
}

// Delete implements storage.Context.
func (c *Context) Delete(_ context.Context, key string) error {
	path, err := c.resolve(key)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("localfs: deleting %s: %w", key, err)
	}
	return nil
}

// List implements storage.Context.
func (c *Context) List(_ context.Context, prefix string) ([]string, error) {
	dir, err := c.resolve(prefix)
	if err != nil {
		return nil, err
	}
	var keys []string
	err = filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		if info.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(c.root, path)
		if err != nil {
			return err
		}
		keys = append(keys, filepath.ToSlash(rel))
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(keys)
	return keys, nil
}

// atomicWrite writes data to path via a temp file and rename, so a crash
// between write and flush never leaves a partially written file visible
// under its final name.
func atomicWrite(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("localfs: creating parent dir for %s: %w", path, err)
	}
	tempPath := filepath.Join(dir, fmt.Sprintf(".%s.%s.tmp", filepath.Base(path), randomHex(8)))
	if err := os.WriteFile(tempPath, data, 0o640); err != nil {
		return fmt.Errorf("localfs: writing temp file: %w", err)
	}
	if err := os.Rename(tempPath, path); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("localfs: renaming into place: %w", err)
	}
	return nil
}

func randomHex(n int) string {
	buf := make([]byte, n/2+1)
	if _, err := rand.Read(buf); err != nil {
		return hex.EncodeToString(bytes.Repeat([]byte{0x2a}, n/2+1))[:n]
	}
	return hex.EncodeToString(buf)[:n]
}
