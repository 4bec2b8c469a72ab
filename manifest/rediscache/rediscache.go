// Package rediscache wraps a manifest.Service with a Redis-backed read
// cache for LoadCurrent, the hottest path in the planner's per-run startup
// (every plan begins by loading the current manifest).
package rediscache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"forge.design/mediaforge/manifest"
)

const defaultTTL = 10 * time.Minute

// Service decorates a manifest.Service, caching LoadCurrent results in
// Redis. Save and List always go straight to the backing service; Save also
// refreshes the cache entry so a subsequent LoadCurrent doesn't race a
// stale read.
type Service struct {
	backing manifest.Service
	redis   *redis.Client
	ttl     time.Duration
}

// New wraps backing with a Redis cache. redis must be a connected client;
// ttl defaults to 10 minutes when zero.
func New(backing manifest.Service, client *redis.Client, ttl time.Duration) *Service {
	if ttl <= 0 {
		ttl = defaultTTL
	}
	return &Service{backing: backing, redis: client, ttl: ttl}
}

type cachedEntry struct {
	Manifest manifest.Manifest `json:"manifest"`
	Hash     string            `json:"hash"`
}

func cacheKey(movieID string) string {
	return fmt.Sprintf("mediaforge:manifest:current:%s", movieID)
}

// LoadCurrent implements manifest.Service, consulting the cache first.
func (s *Service) LoadCurrent(ctx context.Context, movieID string) (manifest.Manifest, string, error) {
	if cached, ok := s.readCache(ctx, movieID); ok {
		return cached.Manifest, cached.Hash, nil
	}

	m, hash, err := s.backing.LoadCurrent(ctx, movieID)
	if err != nil {
		return manifest.Manifest{}, "", err
	}
	s.writeCache(ctx, movieID, cachedEntry{Manifest: m, Hash: hash})
	return m, hash, nil
}

// Save implements manifest.Service, delegating to the backing service and
// refreshing the cache entry on success.
func (s *Service) Save(ctx context.Context, movieID string, m manifest.Manifest) (string, error) {
	hash, err := s.backing.Save(ctx, movieID, m)
	if err != nil {
		return "", err
	}
	s.writeCache(ctx, movieID, cachedEntry{Manifest: m, Hash: hash})
	return hash, nil
}

// List implements manifest.Service, delegating to the backing service.
func (s *Service) List(ctx context.Context, movieID string) ([]string, error) {
	return s.backing.List(ctx, movieID)
}

// Prune implements manifest.Service, delegating to the backing service. The
// cached current-snapshot entry never needs eviction here: Prune never
// removes the current pointer's target.
func (s *Service) Prune(ctx context.Context, movieID string, keep int) error {
	return s.backing.Prune(ctx, movieID, keep)
}

func (s *Service) readCache(ctx context.Context, movieID string) (cachedEntry, bool) {
	raw, err := s.redis.Get(ctx, cacheKey(movieID)).Bytes()
	if err != nil {
		return cachedEntry{}, false
	}
	var entry cachedEntry
	if err := json.Unmarshal(raw, &entry); err != nil {
		return cachedEntry{}, false
	}
	return entry, true
}

func (s *Service) writeCache(ctx context.Context, movieID string, entry cachedEntry) {
	raw, err := json.Marshal(entry)
	if err != nil {
		return
	}
	// Cache writes are best-effort: a failure here only costs a future
	// LoadCurrent a cache miss, never correctness.
	_ = s.redis.Set(ctx, cacheKey(movieID), raw, s.ttl).Err()
}
