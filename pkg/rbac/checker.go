package rbac

import (
	"context"
	"errors"
	"io"
	"strconv"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/platinummonkey/warden/pkg/observability"
	"github.com/platinummonkey/warden/pkg/permcache"
)

// Checker answers authorization questions through the permission cache,
// resolving on a miss. Cache failures are logged and counted but never
// returned; callers always get a freshly computed result instead.
type Checker struct {
	resolver  *Resolver
	cache     permcache.Cache
	cacheType string
	metrics   *observability.Metrics
	logger    *observability.Logger
	group     singleflight.Group

	// generations guards against an in-flight resolution repopulating the
	// cache with state that an invalidation has already retired
	mu          sync.Mutex
	generations map[int64]uint64
}

// NewChecker creates a new permission checker
func NewChecker(resolver *Resolver, cache permcache.Cache, metrics *observability.Metrics, logger *observability.Logger) *Checker {
	if logger == nil {
		logger = observability.NewLogger(observability.InfoLevel, io.Discard)
	}
	return &Checker{
		resolver:    resolver,
		cache:       cache,
		cacheType:   cacheKind(cache),
		metrics:     metrics,
		logger:      logger,
		generations: make(map[int64]uint64),
	}
}

func (c *Checker) generation(userID int64) uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.generations[userID]
}

func (c *Checker) bump(userID int64) {
	c.mu.Lock()
	c.generations[userID]++
	c.mu.Unlock()
}

func cacheKind(cache permcache.Cache) string {
	switch cache.(type) {
	case *permcache.MemoryCache:
		return "memory"
	case *permcache.RedisCache:
		return "redis"
	case *permcache.LayeredCache:
		return "layered"
	case nil:
		return "none"
	default:
		return "custom"
	}
}

// entry returns the cached entry for a user, resolving and populating on a miss.
// Concurrent misses for the same user share one resolution.
func (c *Checker) entry(ctx context.Context, userID int64) (*permcache.Entry, error) {
	if c.cache != nil {
		cached, err := c.cache.Get(ctx, userID)
		switch {
		case err == nil:
			c.metrics.CacheHit(c.cacheType)
			return cached, nil
		case errors.Is(err, permcache.ErrCacheMiss):
			c.metrics.CacheMiss(c.cacheType)
		default:
			c.metrics.CacheError(c.cacheType, "get")
			c.logger.WithError(err).WithField("user_id", userID).Warn("permission cache read failed")
		}
	}

	v, err, _ := c.group.Do(strconv.FormatInt(userID, 10), func() (interface{}, error) {
		gen := c.generation(userID)
		res, err := c.resolver.Resolve(ctx, userID)
		if err != nil {
			return nil, err
		}
		return c.store(ctx, res, gen), nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*permcache.Entry), nil
}

// store writes a resolution into the cache and returns the entry. The write
// is skipped when the user was invalidated after gen was read, and undone
// when an invalidation lands while the write is in flight.
func (c *Checker) store(ctx context.Context, res *Resolution, gen uint64) *permcache.Entry {
	e := &permcache.Entry{
		UserID:      res.UserID,
		Permissions: res.EffectiveNames(),
		Roles:       append([]string(nil), res.Roles...),
		ComputedAt:  res.ResolvedAt,
	}
	if c.cache == nil || c.generation(res.UserID) != gen {
		return e
	}

	if err := c.cache.Set(ctx, res.UserID, e); err != nil {
		c.metrics.CacheError(c.cacheType, "set")
		c.logger.WithError(err).WithField("user_id", res.UserID).Warn("permission cache write failed")
		return e
	}

	// InvalidateCache bumps before it invalidates, so a bump we cannot see
	// here is followed by an Invalidate that runs after our Set.
	if c.generation(res.UserID) != gen {
		if err := c.cache.Invalidate(ctx, res.UserID); err != nil {
			c.metrics.CacheError(c.cacheType, "invalidate")
			c.logger.WithError(err).WithField("user_id", res.UserID).Error("failed to drop superseded cache entry")
		}
	}
	return e
}

// Resolve computes a fresh resolution and refreshes the cache with it
func (c *Checker) Resolve(ctx context.Context, userID int64) (*Resolution, error) {
	gen := c.generation(userID)
	res, err := c.resolver.Resolve(ctx, userID)
	if err != nil {
		return nil, err
	}
	c.store(ctx, res, gen)
	return res, nil
}

// EffectivePermissionNames returns the names of the user's effective permissions
func (c *Checker) EffectivePermissionNames(ctx context.Context, userID int64) ([]string, error) {
	e, err := c.entry(ctx, userID)
	if err != nil {
		return nil, err
	}
	return append([]string(nil), e.Permissions...), nil
}

// RoleNames returns the names of the user's active roles
func (c *Checker) RoleNames(ctx context.Context, userID int64) ([]string, error) {
	e, err := c.entry(ctx, userID)
	if err != nil {
		return nil, err
	}
	return append([]string(nil), e.Roles...), nil
}

// HasPermission reports whether the user holds the named permission
func (c *Checker) HasPermission(ctx context.Context, userID int64, permission string) (bool, error) {
	e, err := c.entry(ctx, userID)
	if err != nil {
		return false, err
	}
	return e.Has(permission), nil
}

// InvalidateCache drops the cached entry for a user. Failures are logged;
// staleness is then bounded by the cache TTL.
func (c *Checker) InvalidateCache(ctx context.Context, userID int64, reason string) {
	c.bump(userID)
	c.group.Forget(strconv.FormatInt(userID, 10))
	if c.cache == nil {
		return
	}

	if err := c.cache.Invalidate(ctx, userID); err != nil {
		c.metrics.CacheError(c.cacheType, "invalidate")
		c.logger.WithError(err).WithFields(map[string]interface{}{
			"user_id": userID,
			"reason":  reason,
		}).Error("permission cache invalidation failed")
		return
	}
	c.metrics.CacheInvalidation(reason)
}

// InvalidateUsers invalidates every listed user
func (c *Checker) InvalidateUsers(ctx context.Context, userIDs []int64, reason string) {
	for _, id := range userIDs {
		c.InvalidateCache(ctx, id, reason)
	}
}

// CacheStats returns statistics for the underlying cache
func (c *Checker) CacheStats(ctx context.Context) (*permcache.Stats, error) {
	if c.cache == nil {
		return &permcache.Stats{}, nil
	}
	return c.cache.Stats(ctx)
}
