package permcache

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"
)

const (
	defaultKeyPrefix = "warden:perms:"
	defaultChannel   = "warden:perms:invalidate"
)

// RedisOptions configures a RedisCache
type RedisOptions struct {
	TTL       time.Duration
	KeyPrefix string
	// Channel receives the user id of every invalidation
	Channel string
}

// RedisCache stores resolved permissions in Redis so that every instance
// shares one copy. Invalidations are also published on a channel.
type RedisCache struct {
	client   *redis.Client
	ttl      time.Duration
	prefix   string
	channel  string
	counters counters
}

// NewRedisCache creates a Redis-backed cache
func NewRedisCache(client *redis.Client, opts RedisOptions) *RedisCache {
	if opts.TTL <= 0 {
		opts.TTL = DefaultTTL
	}
	if opts.KeyPrefix == "" {
		opts.KeyPrefix = defaultKeyPrefix
	}
	if opts.Channel == "" {
		opts.Channel = defaultChannel
	}

	return &RedisCache{
		client:  client,
		ttl:     opts.TTL,
		prefix:  opts.KeyPrefix,
		channel: opts.Channel,
	}
}

func (c *RedisCache) key(userID int64) string {
	return c.prefix + strconv.FormatInt(userID, 10)
}

// Get retrieves a user's entry from Redis
func (c *RedisCache) Get(ctx context.Context, userID int64) (*Entry, error) {
	key := c.key(userID)

	data, err := c.client.Get(ctx, key).Bytes()
	if err == redis.Nil {
		c.counters.misses.Add(1)
		return nil, ErrCacheMiss
	} else if err != nil {
		return nil, fmt.Errorf("redis get failed: %w", err)
	}

	var entry Entry
	if err := json.Unmarshal(data, &entry); err != nil {
		// Drop corrupt data so the next read recomputes
		c.client.Del(ctx, key)
		return nil, fmt.Errorf("failed to unmarshal cache entry: %w", err)
	}

	c.counters.hits.Add(1)
	return &entry, nil
}

// Set stores a user's entry with the configured TTL
func (c *RedisCache) Set(ctx context.Context, userID int64, entry *Entry) error {
	if entry == nil {
		return ErrNilEntry
	}

	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to marshal cache entry: %w", err)
	}

	if err := c.client.Set(ctx, c.key(userID), data, c.ttl).Err(); err != nil {
		return fmt.Errorf("redis set failed: %w", err)
	}

	return nil
}

// Invalidate deletes a user's entry and announces the invalidation
func (c *RedisCache) Invalidate(ctx context.Context, userID int64) error {
	if err := c.client.Del(ctx, c.key(userID)).Err(); err != nil {
		return fmt.Errorf("redis delete failed: %w", err)
	}
	c.counters.invalidations.Add(1)

	if err := c.client.Publish(ctx, c.channel, strconv.FormatInt(userID, 10)).Err(); err != nil {
		return fmt.Errorf("failed to publish invalidation: %w", err)
	}

	return nil
}

// Subscribe returns a subscription to the invalidation channel. The caller
// owns the returned PubSub and must close it.
func (c *RedisCache) Subscribe(ctx context.Context) (*redis.PubSub, error) {
	pubsub := c.client.Subscribe(ctx, c.channel)

	// Wait for confirmation that the subscription is live
	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		return nil, fmt.Errorf("failed to subscribe to %s: %w", c.channel, err)
	}

	return pubsub, nil
}

// Stats returns cache statistics. ItemCount is not tracked for Redis.
func (c *RedisCache) Stats(ctx context.Context) (*Stats, error) {
	return c.counters.snapshot(0), nil
}

// Close is a no-op; the Redis client is owned by the caller
func (c *RedisCache) Close() error {
	return nil
}
