package cache

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/mesh-intelligence/trestle/pkg/types"
)

func setupCache(t *testing.T, capacity int) (*Cache, string) {
	t.Helper()
	dir := t.TempDir()
	c := NewCache()
	require.NoError(t, c.Attach(dir, capacity))
	t.Cleanup(func() {
		require.NoError(t, c.Detach())
	})
	return c, dir
}

func rowKey(row int) types.RowKey {
	return types.RowKey{Path: "/docs/tasks.toml", Table: "tasks", Index: row}
}

func TestMissOnEmptyCache(t *testing.T) {
	c, _ := setupCache(t, 10)

	_, ok, err := c.Get(context.Background(), rowKey(0), "estimate_days", 0)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestHitRequiresExactGeneration(t *testing.T) {
	c, _ := setupCache(t, 10)
	ctx := context.Background()

	require.NoError(t, c.Put(ctx, rowKey(0), "estimate_days", 3, "2.5"))

	value, ok, err := c.Get(ctx, rowKey(0), "estimate_days", 3)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "2.5", value)

	// The same row one edit later must miss.
	_, ok, err = c.Get(ctx, rowKey(0), "estimate_days", 4)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestPutReplacesPreviousEntry(t *testing.T) {
	c, _ := setupCache(t, 10)
	ctx := context.Background()

	require.NoError(t, c.Put(ctx, rowKey(0), "estimate_days", 1, "old"))
	require.NoError(t, c.Put(ctx, rowKey(0), "estimate_days", 2, "new"))

	_, ok, err := c.Get(ctx, rowKey(0), "estimate_days", 1)
	require.NoError(t, err)
	require.False(t, ok)

	value, ok, err := c.Get(ctx, rowKey(0), "estimate_days", 2)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "new", value)

	n, err := c.Len(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, n)
}

func TestLRUEvictionBeyondCapacity(t *testing.T) {
	c, _ := setupCache(t, 3)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		require.NoError(t, c.Put(ctx, rowKey(i), "f", 0, float64(i)))
	}

	// Touch row 0 so row 1 becomes the oldest entry.
	_, ok, err := c.Get(ctx, rowKey(0), "f", 0)
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, c.Put(ctx, rowKey(3), "f", 0, float64(3)))

	n, err := c.Len(ctx)
	require.NoError(t, err)
	require.Equal(t, 3, n)

	_, ok, err = c.Get(ctx, rowKey(1), "f", 0)
	require.NoError(t, err)
	require.False(t, ok, "least recently used entry should have been evicted")

	_, ok, err = c.Get(ctx, rowKey(0), "f", 0)
	require.NoError(t, err)
	require.True(t, ok, "recently touched entry should survive eviction")
}

func TestInvalidateRow(t *testing.T) {
	c, _ := setupCache(t, 10)
	ctx := context.Background()

	require.NoError(t, c.Put(ctx, rowKey(0), "estimate_days", 0, "a"))
	require.NoError(t, c.Put(ctx, rowKey(0), "age", 0, "b"))
	require.NoError(t, c.Put(ctx, rowKey(1), "age", 0, "c"))

	require.NoError(t, c.InvalidateRow(ctx, rowKey(0)))

	_, ok, err := c.Get(ctx, rowKey(0), "estimate_days", 0)
	require.NoError(t, err)
	require.False(t, ok)
	_, ok, err = c.Get(ctx, rowKey(0), "age", 0)
	require.NoError(t, err)
	require.False(t, ok)

	_, ok, err = c.Get(ctx, rowKey(1), "age", 0)
	require.NoError(t, err)
	require.True(t, ok)
}

func TestInvalidateDocument(t *testing.T) {
	c, _ := setupCache(t, 10)
	ctx := context.Background()

	other := types.RowKey{Path: "/docs/other.toml", Table: "tasks", Index: 0}
	require.NoError(t, c.Put(ctx, rowKey(0), "f", 0, "a"))
	require.NoError(t, c.Put(ctx, rowKey(1), "f", 0, "b"))
	require.NoError(t, c.Put(ctx, other, "f", 0, "c"))

	require.NoError(t, c.InvalidateDocument(ctx, "/docs/tasks.toml"))

	n, err := c.Len(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, n)

	_, ok, err := c.Get(ctx, other, "f", 0)
	require.NoError(t, err)
	require.True(t, ok)
}

func TestEntriesSurviveReattach(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	first := NewCache()
	require.NoError(t, first.Attach(dir, 10))
	require.NoError(t, first.Put(ctx, rowKey(0), "estimate_days", 0, "2.5"))
	require.NoError(t, first.Detach())

	second := NewCache()
	require.NoError(t, second.Attach(dir, 10))
	t.Cleanup(func() {
		require.NoError(t, second.Detach())
	})

	value, ok, err := second.Get(ctx, rowKey(0), "estimate_days", 0)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "2.5", value)
}

func TestDetachedCacheRejectsOperations(t *testing.T) {
	c := NewCache()
	ctx := context.Background()

	_, _, err := c.Get(ctx, rowKey(0), "f", 0)
	require.ErrorIs(t, err, types.ErrDetached)
	require.ErrorIs(t, c.Put(ctx, rowKey(0), "f", 0, "x"), types.ErrDetached)
	require.ErrorIs(t, c.InvalidateRow(ctx, rowKey(0)), types.ErrDetached)
	require.NoError(t, c.Detach())
}

func TestAttachTwiceFails(t *testing.T) {
	c, dir := setupCache(t, 10)
	require.ErrorIs(t, c.Attach(dir, 10), types.ErrAlreadyAttached)
}
