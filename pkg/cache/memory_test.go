package cache

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestCache(t *testing.T) *MemoryCache {
	t.Helper()
	c, err := NewMemoryCache(1024)
	require.NoError(t, err)
	t.Cleanup(c.Close)
	return c
}

func TestMemoryCache_SetGet(t *testing.T) {
	c := newTestCache(t)

	c.Set("cl100k_base:abc", 42)
	c.Wait()

	count, ok := c.Get("cl100k_base:abc")
	require.True(t, ok)
	assert.Equal(t, 42, count)
}

func TestMemoryCache_MissingKey(t *testing.T) {
	c := newTestCache(t)

	_, ok := c.Get("never-stored")
	assert.False(t, ok)
}

func TestMemoryCache_Overwrite(t *testing.T) {
	c := newTestCache(t)

	c.Set("key", 1)
	c.Wait()
	c.Set("key", 2)
	c.Wait()

	count, ok := c.Get("key")
	require.True(t, ok)
	assert.Equal(t, 2, count)
}

func TestMemoryCache_ZeroCountIsStorable(t *testing.T) {
	c := newTestCache(t)

	c.Set("empty-text", 0)
	c.Wait()

	count, ok := c.Get("empty-text")
	require.True(t, ok)
	assert.Equal(t, 0, count)
}

func TestMemoryCache_Stats(t *testing.T) {
	c := newTestCache(t)

	c.Set("key", 7)
	c.Wait()
	c.Get("key")
	c.Get("absent")

	hits, misses := c.Stats()
	assert.GreaterOrEqual(t, hits, uint64(1))
	assert.GreaterOrEqual(t, misses, uint64(1))
}

func TestMemoryCache_DefaultBound(t *testing.T) {
	c, err := NewMemoryCache(0)
	require.NoError(t, err)
	defer c.Close()

	c.Set("key", 3)
	c.Wait()
	count, ok := c.Get("key")
	require.True(t, ok)
	assert.Equal(t, 3, count)
}

func TestMemoryCache_ManyEntries(t *testing.T) {
	c := newTestCache(t)

	for i := 0; i < 500; i++ {
		c.Set(fmt.Sprintf("key-%d", i), i)
	}
	c.Wait()

	// Admission may drop some writes, but whatever is present must be exact.
	found := 0
	for i := 0; i < 500; i++ {
		if count, ok := c.Get(fmt.Sprintf("key-%d", i)); ok {
			assert.Equal(t, i, count)
			found++
		}
	}
	assert.Greater(t, found, 0)
}
