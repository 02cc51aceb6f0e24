package ratelimit

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/upb/omnichat-gateway/internal/clock"
)

func newFakeClock() *clock.Fake {
	return clock.NewFake(time.Date(2024, 1, 15, 14, 30, 0, 0, time.UTC))
}

func TestKeyedLimiter_BurstThenDeny(t *testing.T) {
	clk := newFakeClock()
	l := NewKeyedLimiter(Config{PerMinute: 60, Burst: 3}, clk)

	for i := 0; i < 3; i++ {
		assert.True(t, l.Allow("10.0.0.1").Allowed, "request %d", i)
	}

	res := l.Allow("10.0.0.1")
	require.False(t, res.Allowed)
	assert.InDelta(t, time.Second.Seconds(), res.RetryAfter.Seconds(), 0.01)
}

func TestKeyedLimiter_Refills(t *testing.T) {
	clk := newFakeClock()
	l := NewKeyedLimiter(Config{PerMinute: 60, Burst: 1}, clk)

	require.True(t, l.Allow("a").Allowed)
	require.False(t, l.Allow("a").Allowed)

	clk.Advance(time.Second)

	assert.True(t, l.Allow("a").Allowed)
}

func TestKeyedLimiter_KeysAreIndependent(t *testing.T) {
	l := NewKeyedLimiter(Config{PerMinute: 1, Burst: 1}, newFakeClock())

	assert.True(t, l.Allow("a").Allowed)
	assert.False(t, l.Allow("a").Allowed)
	assert.True(t, l.Allow("b").Allowed)
}

func TestKeyedLimiter_Disabled(t *testing.T) {
	l := NewKeyedLimiter(Config{PerMinute: 0}, newFakeClock())

	for i := 0; i < 100; i++ {
		require.True(t, l.Allow("a").Allowed)
	}
	assert.Zero(t, l.Len())
}

func TestKeyedLimiter_EvictsIdleKeys(t *testing.T) {
	clk := newFakeClock()
	l := NewKeyedLimiter(Config{PerMinute: 60, Burst: 1, MaxKeys: 2}, clk)

	l.Allow("a")
	clk.Advance(11 * time.Minute)
	l.Allow("b")
	l.Allow("c")

	assert.Equal(t, 2, l.Len())
}

func TestKeyedLimiter_ResetsWhenNothingIdle(t *testing.T) {
	l := NewKeyedLimiter(Config{PerMinute: 60, Burst: 1, MaxKeys: 2}, newFakeClock())

	l.Allow("a")
	l.Allow("b")
	l.Allow("c")

	assert.Equal(t, 1, l.Len())
}
