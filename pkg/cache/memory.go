package cache

import (
	"github.com/dgraph-io/ristretto/v2"
)

const defaultMaxEntries = 65536

// MemoryCache is a bounded in-process count cache. Ristretto handles
// admission and eviction, so hot (scheme, text) entries stay resident while
// the cache never grows past its configured bound.
type MemoryCache struct {
	cache *ristretto.Cache[string, int]
}

// NewMemoryCache builds a cache holding up to maxEntries counts. A
// non-positive maxEntries falls back to the default bound.
func NewMemoryCache(maxEntries int64) (*MemoryCache, error) {
	if maxEntries <= 0 {
		maxEntries = defaultMaxEntries
	}
	c, err := ristretto.NewCache(&ristretto.Config[string, int]{
		// Ristretto wants ~10x the expected entry count for its admission
		// frequency sketch.
		NumCounters: maxEntries * 10,
		MaxCost:     maxEntries,
		BufferItems: 64,
		Metrics:     true,
	})
	if err != nil {
		return nil, err
	}
	return &MemoryCache{cache: c}, nil
}

// Get returns the count stored under key.
func (m *MemoryCache) Get(key string) (int, bool) {
	return m.cache.Get(key)
}

// Set stores the count under key at unit cost. Writes are buffered and may
// be dropped under pressure; both are acceptable for a cache.
func (m *MemoryCache) Set(key string, count int) {
	m.cache.Set(key, count, 1)
}

// Stats returns hit and miss totals since construction.
func (m *MemoryCache) Stats() (hits, misses uint64) {
	return m.cache.Metrics.Hits(), m.cache.Metrics.Misses()
}

// Wait blocks until buffered writes have been applied.
func (m *MemoryCache) Wait() {
	m.cache.Wait()
}

// Close stops the cache's background goroutines.
func (m *MemoryCache) Close() {
	m.cache.Close()
}
