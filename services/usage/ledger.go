// Package usage counts provider calls per UTC day in the key-value store.
package usage

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/upb/omnichat-gateway/internal/clock"
	"github.com/upb/omnichat-gateway/repositories"
	"github.com/upb/omnichat-gateway/services"
)

// counterTTL keeps yesterday's counters around for inspection, then lets the store drop them
const counterTTL = 48 * time.Hour

// Ledger is the per-provider daily call counter
type Ledger struct {
	kv    repositories.KVStore
	clock clock.Clock
}

// NewLedger creates a ledger on kv
func NewLedger(kv repositories.KVStore, clk clock.Clock) *Ledger {
	return &Ledger{kv: kv, clock: clk}
}

// DayKey formats t as the UTC calendar day ("2024-01-15")
func DayKey(t time.Time) string {
	return t.UTC().Format("2006-01-02")
}

// Key returns the store key for provider on day
func Key(provider, day string) string {
	return "usage:" + provider + ":" + day
}

func (l *Ledger) today() string {
	return DayKey(l.clock.Now())
}

// Increment records one call that reached provider today
func (l *Ledger) Increment(ctx context.Context, provider string) (int64, error) {
	n, err := l.kv.Increment(ctx, Key(provider, l.today()), counterTTL)
	if err != nil {
		return 0, services.WrapStoreUnavailable("failed to record usage", err)
	}
	return n, nil
}

// Get returns today's count for provider, 0 when unset.
// A store failure is returned as an error so callers never treat it as zero usage.
func (l *Ledger) Get(ctx context.Context, provider string) (int64, error) {
	raw, ok, err := l.kv.Get(ctx, Key(provider, l.today()))
	if err != nil {
		return 0, services.WrapStoreUnavailable("failed to read usage", err)
	}
	if !ok {
		return 0, nil
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, services.WrapStoreUnavailable("failed to read usage",
			fmt.Errorf("corrupt counter %q: %w", raw, err))
	}
	return n, nil
}

// Snapshot returns today's counts for the given providers
func (l *Ledger) Snapshot(ctx context.Context, providers []string) (map[string]int64, error) {
	out := make(map[string]int64, len(providers))
	for _, p := range providers {
		n, err := l.Get(ctx, p)
		if err != nil {
			return nil, err
		}
		out[p] = n
	}
	return out, nil
}
