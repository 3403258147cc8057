package embedding

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"time"

	lru "github.com/hashicorp/golang-lru/v2/expirable"
)

// CachingEmbedder wraps an Embedder with a content-addressed LRU cache.
// Re-embedding identical content (common when the same query repeats, or a
// memory is re-stored unchanged) becomes a map lookup.
type CachingEmbedder struct {
	inner Embedder
	cache *lru.LRU[string, Result]
}

var _ Embedder = (*CachingEmbedder)(nil)

// CacheConfig tunes the embedding cache.
type CacheConfig struct {
	// Size is the maximum number of cached vectors (default 10000).
	Size int

	// TTL is how long an entry stays valid (default 24h). A TTL keeps
	// stale vectors from surviving a provider or model change forever.
	TTL time.Duration
}

// NewCachingEmbedder wraps inner with an expirable LRU.
func NewCachingEmbedder(inner Embedder, cfg CacheConfig) *CachingEmbedder {
	if cfg.Size <= 0 {
		cfg.Size = 10000
	}
	if cfg.TTL <= 0 {
		cfg.TTL = 24 * time.Hour
	}
	return &CachingEmbedder{
		inner: inner,
		cache: lru.NewLRU[string, Result](cfg.Size, nil, cfg.TTL),
	}
}

// EmbedText returns the cached vector for identical content, or delegates
// and caches. Errors are never cached.
func (c *CachingEmbedder) EmbedText(ctx context.Context, text string) (Result, error) {
	key := cacheKey(text)
	if res, ok := c.cache.Get(key); ok {
		return res, nil
	}

	res, err := c.inner.EmbedText(ctx, text)
	if err != nil {
		return Result{}, err
	}
	c.cache.Add(key, res)
	return res, nil
}

// Purge drops every cached entry, e.g. after an embedding model change.
func (c *CachingEmbedder) Purge() { c.cache.Purge() }

// Len reports the number of live cache entries.
func (c *CachingEmbedder) Len() int { return c.cache.Len() }

func cacheKey(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}
