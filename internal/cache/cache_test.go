package cache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type summary struct {
	Total int `json:"total"`
}

func TestMemoryGetSetCopiesValues(t *testing.T) {
	c := NewMemory()
	ctx := context.Background()

	in := summary{Total: 7}
	require.NoError(t, c.Set(ctx, PrefixInventory+"summary", in, time.Minute))
	in.Total = 99

	var out summary
	hit, err := c.Get(ctx, PrefixInventory+"summary", &out)
	require.NoError(t, err)
	assert.True(t, hit)
	assert.Equal(t, 7, out.Total)
}

func TestMemoryExpiresEntries(t *testing.T) {
	c := NewMemory()
	now := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return now }
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "sales:stats", summary{Total: 1}, time.Minute))
	now = now.Add(2 * time.Minute)

	var out summary
	hit, err := c.Get(ctx, "sales:stats", &out)
	require.NoError(t, err)
	assert.False(t, hit)
}

func TestMemoryInvalidateByPrefix(t *testing.T) {
	c := NewMemory()
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, PrefixInventory+"summary", summary{Total: 1}, 0))
	require.NoError(t, c.Set(ctx, PrefixSales+"stats:all", summary{Total: 2}, 0))
	require.NoError(t, c.Set(ctx, "other", summary{Total: 3}, 0))

	require.NoError(t, c.Invalidate(ctx, PrefixInventory, PrefixSales))

	var out summary
	hit, _ := c.Get(ctx, PrefixInventory+"summary", &out)
	assert.False(t, hit)
	hit, _ = c.Get(ctx, PrefixSales+"stats:all", &out)
	assert.False(t, hit)
	hit, _ = c.Get(ctx, "other", &out)
	assert.True(t, hit)
}

func TestMemoryLockerExcludesSecondHolder(t *testing.T) {
	l := NewMemoryLocker()
	ctx := context.Background()

	unlock, ok, err := l.TryLock(ctx, "reconcile", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	_, ok, err = l.TryLock(ctx, "reconcile", time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)

	unlock()
	unlock()

	unlock2, ok, err := l.TryLock(ctx, "reconcile", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)
	unlock2()
}

func TestMemoryLockerLeaseExpires(t *testing.T) {
	l := NewMemoryLocker()
	now := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)
	l.nowFn = func() time.Time { return now }
	ctx := context.Background()

	staleUnlock, ok, _ := l.TryLock(ctx, "reconcile", time.Second)
	require.True(t, ok)
	now = now.Add(2 * time.Second)

	_, ok, _ = l.TryLock(ctx, "reconcile", time.Minute)
	require.True(t, ok)

	// The stale holder must not release the new lease.
	staleUnlock()
	_, ok, _ = l.TryLock(ctx, "reconcile", time.Minute)
	assert.False(t, ok)
}
