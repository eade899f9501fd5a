package rbac

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/warden/pkg/permcache"
)

// brokenCache fails every operation
type brokenCache struct {
	gets, sets, invalidations atomic.Int64
}

var errCacheDown = errors.New("cache unreachable")

func (c *brokenCache) Get(ctx context.Context, userID int64) (*permcache.Entry, error) {
	c.gets.Add(1)
	return nil, errCacheDown
}

func (c *brokenCache) Set(ctx context.Context, userID int64, entry *permcache.Entry) error {
	c.sets.Add(1)
	return errCacheDown
}

func (c *brokenCache) Invalidate(ctx context.Context, userID int64) error {
	c.invalidations.Add(1)
	return errCacheDown
}

func (c *brokenCache) Stats(ctx context.Context) (*permcache.Stats, error) {
	return nil, errCacheDown
}

func (c *brokenCache) Close() error { return nil }

func newTestChecker(t *testing.T, cache permcache.Cache) (*Checker, *fixture) {
	t.Helper()
	f := newFixture(t)
	r := NewResolver(NewCatalog(f.db), NewStore(f.db), NewOverrideStore(f.db), nil)
	return NewChecker(r, cache, nil, nil), f
}

func TestChecker_ServesFromCacheUntilInvalidated(t *testing.T) {
	cache := permcache.NewMemoryCache(10, permcache.DefaultTTL)
	checker, f := newTestChecker(t, cache)
	ctx := context.Background()

	ok, err := checker.HasPermission(ctx, f.user.ID, "Product.Delete")
	require.NoError(t, err)
	assert.False(t, ok)

	// Write behind the checker's back: the cached entry is still served
	_, err = attachPermission(ctx, f.db, f.mgrRole.ID, f.del.ID)
	require.NoError(t, err)

	ok, err = checker.HasPermission(ctx, f.user.ID, "Product.Delete")
	require.NoError(t, err)
	assert.False(t, ok)

	checker.InvalidateCache(ctx, f.user.ID, "test")

	ok, err = checker.HasPermission(ctx, f.user.ID, "Product.Delete")
	require.NoError(t, err)
	assert.True(t, ok)

	stats, err := checker.CacheStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.Hits)
	assert.Equal(t, int64(2), stats.Misses)
	assert.Equal(t, int64(1), stats.Invalidations)
}

func TestChecker_ResolveRefreshesCache(t *testing.T) {
	cache := permcache.NewMemoryCache(10, permcache.DefaultTTL)
	checker, f := newTestChecker(t, cache)
	ctx := context.Background()

	names, err := checker.EffectivePermissionNames(ctx, f.user.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"Product.Read"}, names)

	_, err = attachPermission(ctx, f.db, f.mgrRole.ID, f.del.ID)
	require.NoError(t, err)

	res, err := checker.Resolve(ctx, f.user.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"Product.Delete", "Product.Read"}, res.EffectiveNames())

	entry, err := cache.Get(ctx, f.user.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"Product.Delete", "Product.Read"}, entry.Permissions)
	assert.Equal(t, []string{"Manager"}, entry.Roles)

	roles, err := checker.RoleNames(ctx, f.user.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"Manager"}, roles)
}

func TestChecker_FailsOpenOnCacheErrors(t *testing.T) {
	cache := &brokenCache{}
	checker, f := newTestChecker(t, cache)
	ctx := context.Background()

	ok, err := checker.HasPermission(ctx, f.user.ID, "Product.Read")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, int64(1), cache.gets.Load())
	assert.Equal(t, int64(1), cache.sets.Load())

	checker.InvalidateCache(ctx, f.user.ID, "test")
	assert.Equal(t, int64(1), cache.invalidations.Load())

	ok, err = checker.HasPermission(ctx, f.user.ID, "Product.Read")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestChecker_WithoutCache(t *testing.T) {
	checker, f := newTestChecker(t, nil)
	ctx := context.Background()

	ok, err := checker.HasPermission(ctx, f.user.ID, "Product.Read")
	require.NoError(t, err)
	assert.True(t, ok)

	checker.InvalidateCache(ctx, f.user.ID, "test")

	stats, err := checker.CacheStats(ctx)
	require.NoError(t, err)
	assert.Zero(t, stats.Hits)
}

func TestChecker_UnknownUser(t *testing.T) {
	checker, _ := newTestChecker(t, permcache.NewMemoryCache(10, permcache.DefaultTTL))

	ok, err := checker.HasPermission(context.Background(), 9999, "Product.Read")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.False(t, ok)
}

func TestChecker_InvalidationBlocksStaleRepopulation(t *testing.T) {
	cache := permcache.NewMemoryCache(10, permcache.DefaultTTL)
	checker, f := newTestChecker(t, cache)
	ctx := context.Background()

	gen := checker.generation(f.user.ID)
	res, err := checker.resolver.Resolve(ctx, f.user.ID)
	require.NoError(t, err)

	// An invalidation lands between resolving and caching
	checker.InvalidateCache(ctx, f.user.ID, "test")
	checker.store(ctx, res, gen)

	_, err = cache.Get(ctx, f.user.ID)
	assert.ErrorIs(t, err, permcache.ErrCacheMiss)
}

func TestChecker_ConcurrentChecks(t *testing.T) {
	checker, f := newTestChecker(t, permcache.NewMemoryCache(10, permcache.DefaultTTL))
	ctx := context.Background()

	var wg sync.WaitGroup
	errs := make(chan error, 20)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if i%5 == 0 {
				checker.InvalidateCache(ctx, f.user.ID, "test")
			}
			ok, err := checker.HasPermission(ctx, f.user.ID, "Product.Read")
			if err == nil && !ok {
				err = errors.New("permission lost")
			}
			errs <- err
		}(i)
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		assert.NoError(t, err)
	}
}

// interleavingCache runs onSet once, before the first write reaches the cache
type interleavingCache struct {
	*permcache.MemoryCache
	once  sync.Once
	onSet func()
}

func (c *interleavingCache) Set(ctx context.Context, userID int64, entry *permcache.Entry) error {
	c.once.Do(c.onSet)
	return c.MemoryCache.Set(ctx, userID, entry)
}

func TestChecker_InvalidationDuringCacheWrite(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	cache := &interleavingCache{MemoryCache: permcache.NewMemoryCache(10, permcache.DefaultTTL)}
	m := NewManager(f.db, cache, &recordingAuditLogger{}, nil, nil, Config{})
	cache.onSet = func() {
		// The deny commits and invalidates after the read was resolved but
		// before its result is cached
		_, err := m.GetAdministrator().Deny(ctx, f.request(f.read, "policy violation"))
		require.NoError(t, err)
	}

	ok, err := m.CheckPermission(ctx, f.user.ID, "Product.Read")
	require.NoError(t, err)
	assert.True(t, ok, "the in-flight read predates the deny")

	_, err = cache.Get(ctx, f.user.ID)
	assert.ErrorIs(t, err, permcache.ErrCacheMiss, "superseded entry must not stay cached")

	ok, err = m.CheckPermission(ctx, f.user.ID, "Product.Read")
	require.NoError(t, err)
	assert.False(t, ok)
}
