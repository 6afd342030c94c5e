package oracle

import (
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

// cacheEntry memoizes one successful price read, keyed by read time (for
// TTL expiry) and the feed's on-chain update timestamp (for staleness
// re-checks against a changed max_staleness).
type cacheEntry struct {
	price     decimal.Decimal
	readAt    time.Time
	updatedAt time.Time
}

// priceCache is the per-process in-memory TTL cache described by spec.md
// §4.2 ("Oracle caches are per-process; concurrent readers share one map
// guarded by a single mutex"). Grounded on the teacher's pkg/database/
// redis.go CacheEntry/metrics bookkeeping shape, adapted to a plain map
// since the oracle's correctness depends on single-process ownership rather
// than a shared external store.
type priceCache struct {
	mu      sync.RWMutex
	entries map[string]cacheEntry
	ttl     time.Duration
}

func newPriceCache(ttl time.Duration) *priceCache {
	return &priceCache{entries: make(map[string]cacheEntry), ttl: ttl}
}

// get returns a cached price if it is within TTL of its read time. The
// caller is responsible for re-validating on-chain staleness separately;
// this only governs how often the cache forces a fresh read.
func (c *priceCache) get(key string) (cacheEntry, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	entry, ok := c.entries[key]
	if !ok {
		return cacheEntry{}, false
	}
	if time.Since(entry.readAt) > c.ttl {
		return cacheEntry{}, false
	}
	return entry, true
}

func (c *priceCache) set(key string, entry cacheEntry) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = entry
}

func (c *priceCache) evict(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, key)
}
