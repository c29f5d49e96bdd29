package bus

import (
	"sync"
	"time"
)

// DedupeCache is a bounded TTL cache of provider message ids used to reject
// webhook retries. Entries expire after the configured TTL; the entry count is
// hard-capped so rotating ids cannot exhaust memory. Safe for concurrent use.
type DedupeCache struct {
	mu      sync.Mutex
	ttl     time.Duration
	max     int
	entries map[string]time.Time
	now     func() time.Time
}

// NewDedupeCache creates a dedupe cache with the given TTL and entry cap.
func NewDedupeCache(ttl time.Duration, max int) *DedupeCache {
	if max <= 0 {
		max = 5000
	}
	return &DedupeCache{
		ttl:     ttl,
		max:     max,
		entries: make(map[string]time.Time),
		now:     time.Now,
	}
}

// Seen records the key and reports whether it was already present inside the
// TTL window. A single call is both the check and the mark, so callers cannot
// race between the two.
func (c *DedupeCache) Seen(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()

	if at, ok := c.entries[key]; ok && now.Sub(at) < c.ttl {
		return true
	}

	// Prune expired entries when approaching the cap.
	if len(c.entries) >= c.max {
		for k, at := range c.entries {
			if now.Sub(at) >= c.ttl {
				delete(c.entries, k)
			}
		}
		// Hard eviction if still at cap (map iteration order is effectively random).
		for len(c.entries) >= c.max {
			for k := range c.entries {
				delete(c.entries, k)
				break
			}
		}
	}

	c.entries[key] = now
	return false
}

// Len returns the number of tracked entries, expired or not.
func (c *DedupeCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
