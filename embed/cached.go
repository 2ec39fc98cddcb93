package embed

import (
	"context"

	"github.com/dgraph-io/ristretto"
)

// Cached wraps an Embedder with a bounded in-process cache keyed by
// the input text. Fact pipelines embed the same canonical sentences
// and queries repeatedly; skipping the backend round trip is the
// difference between one network call per conversation turn and one
// per novel sentence.
type Cached struct {
	inner Embedder
	cache *ristretto.Cache
}

// NewCached builds the caching decorator. maxEntries bounds the
// number of cached vectors; each entry costs 1.
func NewCached(inner Embedder, maxEntries int64) (*Cached, error) {
	cache, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: maxEntries * 10,
		MaxCost:     maxEntries,
		BufferItems: 64,
	})
	if err != nil {
		return nil, err
	}
	return &Cached{inner: inner, cache: cache}, nil
}

// Embed returns the cached vector when present, otherwise calls the
// backend and caches the result. Errors are never cached.
func (c *Cached) Embed(ctx context.Context, text string) ([]float32, error) {
	if v, ok := c.cache.Get(text); ok {
		if vec, ok := v.([]float32); ok {
			return vec, nil
		}
	}

	vec, err := c.inner.Embed(ctx, text)
	if err != nil {
		return nil, err
	}

	c.cache.Set(text, vec, 1)
	return vec, nil
}

// Dimensions reports the inner embedder's vector size.
func (c *Cached) Dimensions() int {
	return c.inner.Dimensions()
}

// Close releases the cache.
func (c *Cached) Close() {
	c.cache.Close()
}
