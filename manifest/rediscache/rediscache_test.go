package rediscache_test

import (
	"context"
	"testing"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
	tcredis "github.com/testcontainers/testcontainers-go/modules/redis"

	"forge.design/mediaforge/manifest"
	"forge.design/mediaforge/manifest/inmem"
	"forge.design/mediaforge/manifest/rediscache"
)

func newTestClient(t *testing.T) *redis.Client {
	t.Helper()
	ctx := context.Background()

	container, err := tcredis.Run(ctx, "redis:7")
	if err != nil {
		t.Skipf("docker not available, skipping redis-backed manifest cache test: %v", err)
	}
	t.Cleanup(func() { _ = container.Terminate(context.Background()) })

	uri, err := container.ConnectionString(ctx)
	require.NoError(t, err)
	opts, err := redis.ParseURL(uri)
	require.NoError(t, err)
	return redis.NewClient(opts)
}

func TestLoadCurrentServesFromCacheOnSecondCall(t *testing.T) {
	ctx := context.Background()
	backing := inmem.New()
	hash, err := backing.Save(ctx, "movie-1", manifest.Manifest{Revision: "rev-0001"})
	require.NoError(t, err)

	client := newTestClient(t)
	svc := rediscache.New(backing, client, 0)

	m, h, err := svc.LoadCurrent(ctx, "movie-1")
	require.NoError(t, err)
	require.Equal(t, hash, h)
	require.Equal(t, "rev-0001", m.Revision)

	// A second load should hit the cache. We can't observe this directly
	// through the public API, so assert it returns the same hash and
	// revision as the first load.
	m2, h2, err := svc.LoadCurrent(ctx, "movie-1")
	require.NoError(t, err)
	require.Equal(t, h, h2)
	require.Equal(t, m.Revision, m2.Revision)
}

func TestSaveRefreshesCache(t *testing.T) {
	ctx := context.Background()
	backing := inmem.New()
	client := newTestClient(t)
	svc := rediscache.New(backing, client, 0)

	hash, err := svc.Save(ctx, "movie-1", manifest.Manifest{Revision: "rev-0001"})
	require.NoError(t, err)

	m, h, err := svc.LoadCurrent(ctx, "movie-1")
	require.NoError(t, err)
	require.Equal(t, hash, h)
	require.Equal(t, "rev-0001", m.Revision)
}
