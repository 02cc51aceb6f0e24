// Package ratelimit throttles callers by key with token buckets.
package ratelimit

import (
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/upb/omnichat-gateway/internal/clock"
)

const (
	// DefaultMaxKeys bounds how many callers are tracked at once
	DefaultMaxKeys = 10000

	// idleAfter is how long a bucket may sit unused before it can be evicted
	idleAfter = 10 * time.Minute
)

// Config sets the per-key budget
type Config struct {
	PerMinute int
	Burst     int
	MaxKeys   int
}

// Result is the outcome of one Allow call
type Result struct {
	Allowed    bool
	RetryAfter time.Duration
}

type bucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// KeyedLimiter keeps one token bucket per key. Idle buckets are evicted lazily
// when the table fills up.
type KeyedLimiter struct {
	mu      sync.Mutex
	buckets map[string]*bucket
	limit   rate.Limit
	burst   int
	maxKeys int
	clock   clock.Clock
}

// NewKeyedLimiter creates a limiter. A non-positive PerMinute disables limiting.
func NewKeyedLimiter(cfg Config, clk clock.Clock) *KeyedLimiter {
	if cfg.Burst <= 0 {
		cfg.Burst = 1
	}
	if cfg.MaxKeys <= 0 {
		cfg.MaxKeys = DefaultMaxKeys
	}
	limit := rate.Inf
	if cfg.PerMinute > 0 {
		limit = rate.Limit(float64(cfg.PerMinute) / 60.0)
	}
	return &KeyedLimiter{
		buckets: make(map[string]*bucket),
		limit:   limit,
		burst:   cfg.Burst,
		maxKeys: cfg.MaxKeys,
		clock:   clk,
	}
}

// Allow spends one token from key's bucket
func (l *KeyedLimiter) Allow(key string) Result {
	if l.limit == rate.Inf {
		return Result{Allowed: true}
	}

	now := l.clock.Now()

	l.mu.Lock()
	defer l.mu.Unlock()

	b, ok := l.buckets[key]
	if !ok {
		if len(l.buckets) >= l.maxKeys {
			l.evictLocked(now)
		}
		b = &bucket{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.buckets[key] = b
	}
	b.lastSeen = now

	if b.limiter.AllowN(now, 1) {
		return Result{Allowed: true}
	}

	r := b.limiter.ReserveN(now, 1)
	delay := r.DelayFrom(now)
	r.CancelAt(now)
	return Result{Allowed: false, RetryAfter: delay}
}

// evictLocked drops idle buckets, or every bucket when none is idle
func (l *KeyedLimiter) evictLocked(now time.Time) {
	for key, b := range l.buckets {
		if now.Sub(b.lastSeen) > idleAfter {
			delete(l.buckets, key)
		}
	}
	if len(l.buckets) >= l.maxKeys {
		l.buckets = make(map[string]*bucket)
	}
}

// Len returns the number of tracked keys
func (l *KeyedLimiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.buckets)
}
