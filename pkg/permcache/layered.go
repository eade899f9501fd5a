package permcache

import (
	"context"
	"io"
	"strconv"
	"sync"

	"github.com/platinummonkey/warden/pkg/observability"
)

// LayeredCache serves reads from a local MemoryCache and falls back to a
// shared RedisCache. Invalidations published by any instance evict the
// local copy on every other instance. A local copy never outlives the
// Redis entry it came from, so a lost invalidation is still bounded by the
// Redis TTL.
type LayeredCache struct {
	local  *MemoryCache
	remote *RedisCache
	logger *observability.Logger

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewLayeredCache creates a layered cache and starts listening for
// invalidations. Close stops the listener.
func NewLayeredCache(ctx context.Context, local *MemoryCache, remote *RedisCache, logger *observability.Logger) (*LayeredCache, error) {
	if logger == nil {
		logger = observability.NewLogger(observability.InfoLevel, io.Discard)
	}

	pubsub, err := remote.Subscribe(ctx)
	if err != nil {
		return nil, err
	}

	listenCtx, cancel := context.WithCancel(context.Background())
	c := &LayeredCache{
		local:  local,
		remote: remote,
		logger: logger,
		cancel: cancel,
	}

	c.wg.Add(1)
	observability.Go(logger, "cache invalidation listener", func() {
		defer c.wg.Done()
		defer pubsub.Close()

		ch := pubsub.Channel()
		for {
			select {
			case <-listenCtx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				userID, err := strconv.ParseInt(msg.Payload, 10, 64)
				if err != nil {
					c.logger.WithField("payload", msg.Payload).Warn("ignoring malformed invalidation")
					continue
				}
				_ = c.local.Invalidate(listenCtx, userID)
			}
		}
	})

	return c, nil
}

// Get checks the local cache, then Redis. A Redis hit is copied locally
// only for the time the Redis entry has left.
func (c *LayeredCache) Get(ctx context.Context, userID int64) (*Entry, error) {
	if entry, err := c.local.Get(ctx, userID); err == nil {
		return entry, nil
	}

	entry, err := c.remote.Get(ctx, userID)
	if err != nil {
		return nil, err
	}

	if deadline := entry.ComputedAt.Add(c.remote.ttl); c.local.now().Before(deadline) {
		c.local.setUntil(userID, entry, deadline)
	}
	return entry, nil
}

// Set writes through to both layers
func (c *LayeredCache) Set(ctx context.Context, userID int64, entry *Entry) error {
	if err := c.local.Set(ctx, userID, entry); err != nil {
		return err
	}
	return c.remote.Set(ctx, userID, entry)
}

// Invalidate evicts locally, deletes from Redis and notifies other instances
func (c *LayeredCache) Invalidate(ctx context.Context, userID int64) error {
	_ = c.local.Invalidate(ctx, userID)
	return c.remote.Invalidate(ctx, userID)
}

// Stats returns the local layer statistics with remote hits folded in
func (c *LayeredCache) Stats(ctx context.Context) (*Stats, error) {
	local, _ := c.local.Stats(ctx)
	remote, _ := c.remote.Stats(ctx)

	stats := &Stats{
		Hits:          local.Hits + remote.Hits,
		Misses:        remote.Misses,
		Invalidations: local.Invalidations,
		ItemCount:     local.ItemCount,
	}
	total := stats.Hits + stats.Misses
	if total > 0 {
		stats.HitRate = float64(stats.Hits) / float64(total)
	}
	return stats, nil
}

// Close stops the invalidation listener and purges the local layer
func (c *LayeredCache) Close() error {
	c.cancel()
	c.wg.Wait()
	return c.local.Close()
}
