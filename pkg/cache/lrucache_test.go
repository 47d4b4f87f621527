package cache_test

import (
	"context"
	"testing"

	"github.com/illmade-knight/go-catalogadmin/pkg/cache"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInMemoryLRUCache(t *testing.T) {
	ctx := context.Background()

	t.Run("Eviction policy works correctly", func(t *testing.T) {
		// Arrange: Create a cache with a max size of 2.
		lru, err := cache.NewInMemoryLRUCache[string, int](2)
		require.NoError(t, err)

		// Act 1: Fill the cache.
		require.NoError(t, lru.Write(ctx, "key1", 1))
		require.NoError(t, lru.Write(ctx, "key2", 2))

		// Act 2: Access key1 again so it becomes the most recently used.
		val1, err := lru.Fetch(ctx, "key1")
		require.NoError(t, err)
		assert.Equal(t, 1, val1)

		// Act 3: Write key3. This should evict key2 (the least recently used).
		require.NoError(t, lru.Write(ctx, "key3", 3))

		// Assert
		assert.Equal(t, 2, lru.Len())
		_, err = lru.Fetch(ctx, "key2")
		assert.ErrorIs(t, err, cache.ErrNotFound, "key2 should have been evicted")
		val1, err = lru.Fetch(ctx, "key1")
		require.NoError(t, err)
		assert.Equal(t, 1, val1, "key1 should still be cached")
	})

	t.Run("Overwrite refreshes value without growing", func(t *testing.T) {
		lru, err := cache.NewInMemoryLRUCache[string, int](2)
		require.NoError(t, err)

		require.NoError(t, lru.Write(ctx, "key", 1))
		require.NoError(t, lru.Write(ctx, "key", 2))

		val, err := lru.Fetch(ctx, "key")
		require.NoError(t, err)
		assert.Equal(t, 2, val)
		assert.Equal(t, 1, lru.Len())
	})

	t.Run("Invalidate removes the key", func(t *testing.T) {
		lru, err := cache.NewInMemoryLRUCache[string, string](5)
		require.NoError(t, err)
		require.NoError(t, lru.Write(ctx, "k", "v"))

		require.NoError(t, lru.Invalidate(ctx, "k"))

		_, err = lru.Fetch(ctx, "k")
		assert.True(t, cache.IsNotFound(err))
	})

	t.Run("Invalid size", func(t *testing.T) {
		_, err := cache.NewInMemoryLRUCache[string, int](0)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "maxSize must be greater than 0")
	})
}
