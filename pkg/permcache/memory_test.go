package permcache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testEntry(userID int64, perms ...string) *Entry {
	return &Entry{
		UserID:      userID,
		Permissions: perms,
		Roles:       []string{"Manager"},
		ComputedAt:  time.Now(),
	}
}

func TestMemoryCache_GetSet(t *testing.T) {
	ctx := context.Background()
	c := NewMemoryCache(10, time.Minute)
	defer c.Close()

	_, err := c.Get(ctx, 1)
	assert.ErrorIs(t, err, ErrCacheMiss)

	require.NoError(t, c.Set(ctx, 1, testEntry(1, "Product.Read")))

	got, err := c.Get(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, []string{"Product.Read"}, got.Permissions)
	assert.Equal(t, []string{"Manager"}, got.Roles)
	assert.True(t, got.Has("Product.Read"))
	assert.False(t, got.Has("Product.Delete"))

	stats, err := c.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.Hits)
	assert.Equal(t, int64(1), stats.Misses)
	assert.Equal(t, int64(1), stats.ItemCount)
	assert.InDelta(t, 0.5, stats.HitRate, 0.001)
}

func TestMemoryCache_ReturnsCopies(t *testing.T) {
	ctx := context.Background()
	c := NewMemoryCache(10, time.Minute)

	entry := testEntry(1, "Product.Read")
	require.NoError(t, c.Set(ctx, 1, entry))
	entry.Permissions[0] = "mutated"

	got, err := c.Get(ctx, 1)
	require.NoError(t, err)
	got.Permissions[0] = "mutated again"

	again, err := c.Get(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, "Product.Read", again.Permissions[0])
}

func TestMemoryCache_Expiry(t *testing.T) {
	ctx := context.Background()
	c := NewMemoryCache(10, 50*time.Millisecond)

	require.NoError(t, c.Set(ctx, 1, testEntry(1, "Product.Read")))
	_, err := c.Get(ctx, 1)
	require.NoError(t, err)

	time.Sleep(120 * time.Millisecond)

	_, err = c.Get(ctx, 1)
	assert.ErrorIs(t, err, ErrCacheMiss)
}

func TestMemoryCache_InvalidateIsIdempotent(t *testing.T) {
	ctx := context.Background()
	c := NewMemoryCache(10, time.Minute)

	require.NoError(t, c.Invalidate(ctx, 42))

	require.NoError(t, c.Set(ctx, 42, testEntry(42, "Product.Read")))
	require.NoError(t, c.Invalidate(ctx, 42))
	require.NoError(t, c.Invalidate(ctx, 42))

	_, err := c.Get(ctx, 42)
	assert.ErrorIs(t, err, ErrCacheMiss)
}

func TestMemoryCache_SetNil(t *testing.T) {
	c := NewMemoryCache(0, 0)
	assert.ErrorIs(t, c.Set(context.Background(), 1, nil), ErrNilEntry)
}

func TestMemoryCache_EvictsLeastRecentlyUsed(t *testing.T) {
	ctx := context.Background()
	c := NewMemoryCache(2, time.Minute)

	require.NoError(t, c.Set(ctx, 1, testEntry(1)))
	require.NoError(t, c.Set(ctx, 2, testEntry(2)))
	require.NoError(t, c.Set(ctx, 3, testEntry(3)))

	_, err := c.Get(ctx, 1)
	assert.ErrorIs(t, err, ErrCacheMiss)
	_, err = c.Get(ctx, 3)
	assert.NoError(t, err)
}
