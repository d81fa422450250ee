package crawl

import (
	"sync"
	"time"

	"github.com/mkaufmann/toolbridge/internal/cache"
	"github.com/mkaufmann/toolbridge/internal/clock"
	"github.com/mkaufmann/toolbridge/internal/hash/sha256"
)

// ResultCache stores crawl results keyed by (normalized URL, Options) and
// keeps a reverse index from normalized URL to every cached option variant,
// so invalidating one URL costs O(variants) instead of a full scan.
type ResultCache struct {
	mu      sync.Mutex
	store   *cache.Store[Result]
	hasher  *sha256.Hasher
	urlKeys map[string]map[string]struct{}
	keyURL  map[string]string
}

// NewResultCache constructs a ResultCache with the given TTL.
func NewResultCache(ttl time.Duration, clk clock.Clock) *ResultCache {
	return &ResultCache{
		store:   cache.New[Result]("crawl", ttl, clk),
		hasher:  sha256.New(),
		urlKeys: make(map[string]map[string]struct{}),
		keyURL:  make(map[string]string),
	}
}

// Get returns the cached result for url under the given options, if fresh.
func (c *ResultCache) Get(rawURL string, o Options) (Result, bool) {
	key := CacheKey(c.hasher, NormalizeURL(rawURL), o)
	return c.store.Get(key)
}

// Set stores a result and records it in the reverse index.
func (c *ResultCache) Set(rawURL string, o Options, result Result) {
	normalized := NormalizeURL(rawURL)
	key := CacheKey(c.hasher, normalized, o)

	c.store.Set(key, result)

	c.mu.Lock()
	defer c.mu.Unlock()
	keys, ok := c.urlKeys[normalized]
	if !ok {
		keys = make(map[string]struct{})
		c.urlKeys[normalized] = keys
	}
	keys[key] = struct{}{}
	c.keyURL[key] = normalized
}

// InvalidateURL removes every cached variant (any option combination) for a
// URL and returns the number of live entries removed.
func (c *ResultCache) InvalidateURL(rawURL string) int {
	normalized := NormalizeURL(rawURL)

	c.mu.Lock()
	keys, ok := c.urlKeys[normalized]
	if ok {
		delete(c.urlKeys, normalized)
	}
	for key := range keys {
		delete(c.keyURL, key)
	}
	c.mu.Unlock()

	removed := 0
	for key := range keys {
		if c.store.Delete(key) {
			removed++
		}
	}
	return removed
}

// Clear drops everything and returns the number of entries removed.
func (c *ResultCache) Clear() int {
	c.mu.Lock()
	c.urlKeys = make(map[string]map[string]struct{})
	c.keyURL = make(map[string]string)
	c.mu.Unlock()
	return c.store.Clear()
}

// CleanupExpired proactively sweeps expired entries, pruning the reverse
// index for every removed key, and returns the number removed.
func (c *ResultCache) CleanupExpired() int {
	removed := c.store.CleanupExpired()

	c.mu.Lock()
	defer c.mu.Unlock()
	for _, key := range removed {
		normalized, ok := c.keyURL[key]
		if !ok {
			continue
		}
		delete(c.keyURL, key)
		if keys, ok := c.urlKeys[normalized]; ok {
			delete(keys, key)
			if len(keys) == 0 {
				delete(c.urlKeys, normalized)
			}
		}
	}
	return len(removed)
}

// Stats reports the underlying store's statistics.
func (c *ResultCache) Stats() cache.Stats {
	return c.store.Stats()
}

// Size reports the number of cached entries.
func (c *ResultCache) Size() int {
	return c.store.Len()
}
