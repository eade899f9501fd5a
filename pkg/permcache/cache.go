package permcache

import (
	"context"
	"errors"
	"sync/atomic"
	"time"
)

// DefaultTTL bounds how long a resolved permission set may be served without
// recomputation
const DefaultTTL = 30 * time.Minute

var (
	// ErrCacheMiss is returned when no live entry exists for a user
	ErrCacheMiss = errors.New("permission cache miss")

	// ErrNilEntry is returned when Set is called without an entry
	ErrNilEntry = errors.New("permission cache entry cannot be nil")
)

// Entry is the cached result of resolving one user's permissions
type Entry struct {
	UserID      int64     `json:"user_id"`
	Permissions []string  `json:"permissions"`
	Roles       []string  `json:"roles"`
	ComputedAt  time.Time `json:"computed_at"`
}

// Has reports whether the entry contains the named permission
func (e *Entry) Has(permission string) bool {
	for _, p := range e.Permissions {
		if p == permission {
			return true
		}
	}
	return false
}

func (e *Entry) clone() *Entry {
	c := *e
	c.Permissions = append([]string(nil), e.Permissions...)
	c.Roles = append([]string(nil), e.Roles...)
	return &c
}

// Cache is a per-user store of resolved permission sets.
// Invalidate must be idempotent and safe to call for users with no entry.
type Cache interface {
	Get(ctx context.Context, userID int64) (*Entry, error)
	Set(ctx context.Context, userID int64, entry *Entry) error
	Invalidate(ctx context.Context, userID int64) error
	Stats(ctx context.Context) (*Stats, error)
	Close() error
}

// Stats represents cache statistics
type Stats struct {
	Hits          int64   `json:"hits"`
	Misses        int64   `json:"misses"`
	Invalidations int64   `json:"invalidations"`
	ItemCount     int64   `json:"item_count"`
	HitRate       float64 `json:"hit_rate"`
}

// counters tracks cache activity
type counters struct {
	hits          atomic.Int64
	misses        atomic.Int64
	invalidations atomic.Int64
}

func (c *counters) snapshot(items int64) *Stats {
	stats := &Stats{
		Hits:          c.hits.Load(),
		Misses:        c.misses.Load(),
		Invalidations: c.invalidations.Load(),
		ItemCount:     items,
	}

	total := stats.Hits + stats.Misses
	if total > 0 {
		stats.HitRate = float64(stats.Hits) / float64(total)
	}

	return stats
}
