// Package s3 implements storage.Context over an S3-compatible object store,
// for deployments that need the storage context to survive past a single
// machine's local disk.
package s3

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/smithy-go"

	"forge.design/mediaforge/hashing"
)

// API is the subset of *s3.Client the storage context depends on. Matching
// the concrete client's method set lets callers pass either the real client
// or a mock in tests.
type API interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	HeadObject(ctx context.Context, params *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	ListObjectsV2(ctx context.Context, params *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
	DeleteObject(ctx context.Context, params *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
}

// Options configures the S3-backed storage context.
type Options struct {
	// Client provides access to the S3 API. Required.
	Client API
	// Bucket is the target bucket name. Required.
	Bucket string
	// Prefix namespaces every key under this storage context (e.g. the
	// movie's storage root), joined with "/".
	Prefix string
}

// Context implements storage.Context against a single S3 bucket.
type Context struct {
	client API
	bucket string
	prefix string
}

// New builds a Context from opts.
func New(opts Options) (*Context, error) {
	if opts.Client == nil {
		return nil, errors.New("s3: client is required")
	}
	if opts.Bucket == "" {
		return nil, errors.New("s3: bucket is required")
	}
	return &Context{client: opts.Client, bucket: opts.Bucket, prefix: strings.Trim(opts.Prefix, "/")}, nil
}

func (c *Context) key(relative string) string {
	if c.prefix == "" {
		return relative
	}
	return c.prefix + "/" + relative
}

func blobKey(hash string) string {
	shard := hash
	if len(shard) > 2 {
		shard = shard[:2]
	}
	return "blobs/" + shard + "/" + hash + ".bin"
}

// PutBlob implements storage.Context.
func (c *Context) PutBlob(ctx context.Context, data []byte, mimeType string) (hashing.BlobRef, error) {
	sum := sha256.Sum256(data)
	hash := hex.EncodeToString(sum[:])
	ref := hashing.BlobRef{Hash: hash, Size: int64(len(data)), MimeType: mimeType}

	exists, err := c.BlobExists(ctx, hash)
	if err != nil {
		return hashing.BlobRef{}, err
	}
	if exists {
		return ref, nil
	}

	_, err = c.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(c.bucket),
		Key:         aws.String(c.key(blobKey(hash))),
		Body:        bytes.NewReader(data),
		ContentType: aws.String(mimeType),
	})
	if err != nil {
		return hashing.BlobRef{}, fmt.Errorf("s3: putting blob %s: %w", hash, err)
	}
	return ref, nil
}

// PutBlobReader implements storage.Context.
func (c *Context) PutBlobReader(ctx context.Context, r io.Reader, mimeType string) (hashing.BlobRef, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return hashing.BlobRef{}, fmt.Errorf("s3: reading blob stream: %w", err)
	}
	return c.PutBlob(ctx, data, mimeType)
}

// GetBlob implements storage.Context.
func (c *Context) GetBlob(ctx context.Context, hash string) ([]byte, error) {
	out, err := c.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(c.bucket),
		Key:    aws.String(c.key(blobKey(hash))),
	})
	if err != nil {
		return nil, fmt.Errorf("s3: getting blob %s: %w", hash, err)
	}
	defer out.Body.Close()
	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, fmt.Errorf("s3: reading blob body %s: %w", hash, err)
	}
	return data, nil
}

// BlobExists implements storage.Context.
func (c *Context) BlobExists(ctx context.Context, hash string) (bool, error) {
	_, err := c.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(c.bucket),
		Key:    aws.String(c.key(blobKey(hash))),
	})
	if err == nil {
		return true, nil
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) && (apiErr.ErrorCode() == "NotFound" || apiErr.ErrorCode() == "NoSuchKey") {
		return false, nil
	}
	return false, fmt.Errorf("s3: checking blob %s: %w", hash, err)
}

// PutJSON implements storage.Context.
func (c *Context) PutJSON(ctx context.Context, key string, value any) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("s3: marshaling %s: %w", key, err)
	}
	_, err = c.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(c.bucket),
		Key:         aws.String(c.key(key)),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return fmt.Errorf("s3: putting %s: %w", key, err)
	}
	return nil
}

// GetJSON implements storage.Context.
func (c *Context) GetJSON(ctx context.Context, key string, out any) error {
	obj, err := c.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(c.bucket),
		Key:    aws.String(c.key(key)),
	})
	if err != nil {
		return fmt.Errorf("s3: getting %s: %w", key, err)
	}
	defer obj.Body.Close()
	data, err := io.ReadAll(obj.Body)
	if err != nil {
		return fmt.Errorf("s3: reading %s: %w", key, err)
	}
	return json.Unmarshal(data, out)
}

// Delete implements storage.Context.
func (c *Context) Delete(ctx context.Context, key string) error {
	_, err := c.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(c.bucket),
		Key:    aws.String(c.key(key)),
	})
	if err != nil {
		return fmt.Errorf("s3: deleting %s: %w", key, err)
	}
	return nil
}

// List implements storage.Context.
func (c *Context) List(ctx context.Context, prefix string) ([]string, error) {
	fullPrefix := c.key(prefix)
	var keys []string
	var continuationToken *string
	for {
		out, err := c.client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
			Bucket:            aws.String(c.bucket),
			Prefix:            aws.String(fullPrefix),
			ContinuationToken: continuationToken,
		})
		if err != nil {
			return nil, fmt.Errorf("s3: listing %s: %w", prefix, err)
		}
		for _, obj := range out.Contents {
			key := aws.ToString(obj.Key)
			if c.prefix != "" {
				key = strings.TrimPrefix(key, c.prefix+"/")
			}
			keys = append(keys, key)
		}
		if out.IsTruncated == nil || !*out.IsTruncated {
			break
		}
		continuationToken = out.NextContinuationToken
	}
	sort.Strings(keys)
	return keys, nil
}
