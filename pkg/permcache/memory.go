package permcache

import (
	"context"
	"time"

	lru "github.com/hashicorp/golang-lru/v2/expirable"
)

// DefaultMaxEntries caps the number of users held by a MemoryCache
const DefaultMaxEntries = 10000

// MemoryCache is a process-local LRU cache. Entries expire after the cache
// TTL or at their own deadline, whichever comes first.
type MemoryCache struct {
	cache    *lru.LRU[int64, memoryItem]
	counters counters
	now      func() time.Time
}

type memoryItem struct {
	entry *Entry
	// deadline is zero when only the cache TTL applies
	deadline time.Time
}

// NewMemoryCache creates a process-local cache
func NewMemoryCache(maxEntries int, ttl time.Duration) *MemoryCache {
	if maxEntries <= 0 {
		maxEntries = DefaultMaxEntries
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}

	return &MemoryCache{
		cache: lru.NewLRU[int64, memoryItem](maxEntries, nil, ttl),
		now:   time.Now,
	}
}

// Get returns a copy of the cached entry for a user
func (c *MemoryCache) Get(ctx context.Context, userID int64) (*Entry, error) {
	item, ok := c.cache.Get(userID)
	if ok && !item.deadline.IsZero() && !c.now().Before(item.deadline) {
		c.cache.Remove(userID)
		ok = false
	}
	if !ok {
		c.counters.misses.Add(1)
		return nil, ErrCacheMiss
	}

	c.counters.hits.Add(1)
	return item.entry.clone(), nil
}

// Set stores an entry for a user
func (c *MemoryCache) Set(ctx context.Context, userID int64, entry *Entry) error {
	if entry == nil {
		return ErrNilEntry
	}

	c.cache.Add(userID, memoryItem{entry: entry.clone()})
	return nil
}

// setUntil stores an entry that expires at deadline even if the cache TTL
// would keep it longer
func (c *MemoryCache) setUntil(userID int64, entry *Entry, deadline time.Time) {
	c.cache.Add(userID, memoryItem{entry: entry.clone(), deadline: deadline})
}

// Invalidate drops any entry for a user
func (c *MemoryCache) Invalidate(ctx context.Context, userID int64) error {
	c.cache.Remove(userID)
	c.counters.invalidations.Add(1)
	return nil
}

// Stats returns cache statistics
func (c *MemoryCache) Stats(ctx context.Context) (*Stats, error) {
	return c.counters.snapshot(int64(c.cache.Len())), nil
}

// Close releases resources
func (c *MemoryCache) Close() error {
	c.cache.Purge()
	return nil
}
