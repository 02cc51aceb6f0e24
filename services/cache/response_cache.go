// Package cache holds the short-lived response cache and the in-flight
// request coalescer used in front of the provider chain.
package cache

import (
	"sync"
	"time"

	"github.com/upb/omnichat-gateway/internal/clock"
)

const (
	DefaultTTL        = 5 * time.Second
	DefaultMaxEntries = 100
)

type entry[V any] struct {
	value    V
	cachedAt time.Time
}

// Stats reports cache effectiveness
type Stats struct {
	Entries int    `json:"entries"`
	Hits    uint64 `json:"hits"`
	Misses  uint64 `json:"misses"`
}

// ResponseCache memoizes responses by fingerprint for a short TTL.
// There is no sweeper: entries older than 2x TTL are dropped on every access.
type ResponseCache[V any] struct {
	mu         sync.Mutex
	entries    map[string]entry[V]
	ttl        time.Duration
	maxEntries int
	clock      clock.Clock
	hits       uint64
	misses     uint64
}

// NewResponseCache creates a cache; zero values select the defaults
func NewResponseCache[V any](ttl time.Duration, maxEntries int, clk clock.Clock) *ResponseCache[V] {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if maxEntries <= 0 {
		maxEntries = DefaultMaxEntries
	}
	if clk == nil {
		clk = clock.System{}
	}
	return &ResponseCache[V]{
		entries:    make(map[string]entry[V]),
		ttl:        ttl,
		maxEntries: maxEntries,
		clock:      clk,
	}
}

// prune drops entries older than 2x TTL. Caller holds mu.
func (c *ResponseCache[V]) prune(now time.Time) {
	limit := 2 * c.ttl
	for k, e := range c.entries {
		if now.Sub(e.cachedAt) > limit {
			delete(c.entries, k)
		}
	}
}

// Get returns the cached value if it is younger than the TTL
func (c *ResponseCache[V]) Get(fingerprint string) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.clock.Now()
	c.prune(now)

	e, ok := c.entries[fingerprint]
	if !ok || now.Sub(e.cachedAt) >= c.ttl {
		c.misses++
		var zero V
		return zero, false
	}
	c.hits++
	return e.value, true
}

// Set stores value under fingerprint
func (c *ResponseCache[V]) Set(fingerprint string, value V) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.clock.Now()
	c.prune(now)
	c.entries[fingerprint] = entry[V]{value: value, cachedAt: now}
}

// ClearIfOversized empties the whole cache when it holds more than the size bound.
// It reports whether the cache was cleared.
func (c *ResponseCache[V]) ClearIfOversized() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.entries) <= c.maxEntries {
		return false
	}
	c.entries = make(map[string]entry[V])
	return true
}

// Len returns the number of stored entries, including ones past TTL but not yet pruned
func (c *ResponseCache[V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Stats returns hit/miss counters
func (c *ResponseCache[V]) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Stats{Entries: len(c.entries), Hits: c.hits, Misses: c.misses}
}
