package server

import (
	"sync"
	"time"
)

// resultCache memoizes extraction responses by external message ID so a
// redelivered message does not re-run the remote strategies. Entries
// expire after the configured TTL; when full, the entry closest to
// expiry is evicted.
type resultCache struct {
	mu      sync.Mutex
	ttl     time.Duration
	max     int
	now     func() time.Time
	entries map[string]cacheEntry
}

type cacheEntry struct {
	resp      ExtractResponse
	expiresAt time.Time
}

// newResultCache returns nil when caching is disabled (zero TTL or size).
func newResultCache(ttl time.Duration, max int) *resultCache {
	if ttl <= 0 || max <= 0 {
		return nil
	}
	return &resultCache{
		ttl:     ttl,
		max:     max,
		now:     time.Now,
		entries: make(map[string]cacheEntry, max),
	}
}

func (c *resultCache) get(key string) (ExtractResponse, bool) {
	if c == nil || key == "" {
		return ExtractResponse{}, false
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[key]
	if !ok {
		cacheLookups.WithLabelValues("miss").Inc()
		return ExtractResponse{}, false
	}
	if c.now().After(entry.expiresAt) {
		delete(c.entries, key)
		cacheLookups.WithLabelValues("expired").Inc()
		return ExtractResponse{}, false
	}
	cacheLookups.WithLabelValues("hit").Inc()
	return entry.resp, true
}

func (c *resultCache) put(key string, resp ExtractResponse) {
	if c == nil || key == "" {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.entries[key]; !exists && len(c.entries) >= c.max {
		c.evictLocked()
	}
	c.entries[key] = cacheEntry{resp: resp, expiresAt: c.now().Add(c.ttl)}
}

// evictLocked removes the entry with the earliest expiry.
func (c *resultCache) evictLocked() {
	var victim string
	var earliest time.Time
	for k, e := range c.entries {
		if victim == "" || e.expiresAt.Before(earliest) {
			victim = k
			earliest = e.expiresAt
		}
	}
	if victim != "" {
		delete(c.entries, victim)
	}
}
