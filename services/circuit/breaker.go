// Package circuit keeps a closed/open/half-open breaker per provider so a
// consistently failing upstream stops receiving traffic for a cooldown period.
package circuit

import (
	"errors"
	"sync"
	"time"

	"github.com/upb/omnichat-gateway/internal/clock"
)

// State of a provider's breaker
type State string

const (
	StateClosed   State = "closed"
	StateOpen     State = "open"
	StateHalfOpen State = "half_open"
)

const (
	DefaultThreshold = 5
	DefaultCooldown  = 60 * time.Second
)

// ErrCircuitOpen is returned when a call is short-circuited without reaching the provider
var ErrCircuitOpen = errors.New("circuit open")

// Config tunes every breaker in a registry
type Config struct {
	Threshold int
	Cooldown  time.Duration
}

// Snapshot is a point-in-time view of one breaker
type Snapshot struct {
	State               State     `json:"state"`
	ConsecutiveFailures int       `json:"consecutive_failures"`
	OpenedAt            time.Time `json:"opened_at,omitempty"`
}

type breaker struct {
	state    State
	failures int
	openedAt time.Time
	trial    bool   // a half-open trial call is in flight
	gen      uint64 // bumped on every transition; outcomes from an older generation are dropped
}

// Registry holds one breaker per provider name, guarded by a single mutex
type Registry struct {
	mu       sync.Mutex
	breakers map[string]*breaker
	cfg      Config
	clock    clock.Clock
}

// NewRegistry creates an empty registry
func NewRegistry(cfg Config, clk clock.Clock) *Registry {
	if cfg.Threshold <= 0 {
		cfg.Threshold = DefaultThreshold
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = DefaultCooldown
	}
	if clk == nil {
		clk = clock.System{}
	}
	return &Registry{
		breakers: make(map[string]*breaker),
		cfg:      cfg,
		clock:    clk,
	}
}

// get returns the breaker for provider, applying the cooldown transition. Caller holds mu.
func (r *Registry) get(provider string, now time.Time) *breaker {
	b, ok := r.breakers[provider]
	if !ok {
		b = &breaker{state: StateClosed}
		r.breakers[provider] = b
	}
	if b.state == StateOpen && now.Sub(b.openedAt) >= r.cfg.Cooldown {
		b.state = StateHalfOpen
		b.trial = false
		b.gen++
	}
	return b
}

// admit decides whether a call may proceed and returns the generation it runs under
func (r *Registry) admit(provider string) (uint64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	b := r.get(provider, r.clock.Now())
	switch b.state {
	case StateOpen:
		return 0, ErrCircuitOpen
	case StateHalfOpen:
		if b.trial {
			return 0, ErrCircuitOpen
		}
		b.trial = true
	}
	return b.gen, nil
}

func (r *Registry) record(provider string, gen uint64, failed bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.clock.Now()
	b := r.get(provider, now)
	if b.gen != gen {
		return
	}

	switch b.state {
	case StateHalfOpen:
		b.trial = false
		if failed {
			r.open(b, now)
		} else {
			b.state = StateClosed
			b.failures = 0
			b.gen++
		}
	case StateClosed:
		if !failed {
			b.failures = 0
			return
		}
		b.failures++
		if b.failures >= r.cfg.Threshold {
			r.open(b, now)
		}
	}
}

func (r *Registry) open(b *breaker, now time.Time) {
	b.state = StateOpen
	b.openedAt = now
	b.gen++
}

// Execute runs fn under provider's breaker. Short-circuited calls return
// ErrCircuitOpen without invoking fn and leave the failure streak untouched;
// every admitted call records its outcome exactly once.
func (r *Registry) Execute(provider string, fn func() error) error {
	gen, err := r.admit(provider)
	if err != nil {
		return err
	}

	err = fn()
	r.record(provider, gen, err != nil)
	return err
}

// IsOpen reports whether provider is open with its cooldown still running
func (r *Registry) IsOpen(provider string) bool {
	return r.State(provider) == StateOpen
}

// State returns provider's current state
func (r *Registry) State(provider string) State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.get(provider, r.clock.Now()).state
}

// Snapshot returns the state of every breaker that has seen traffic
func (r *Registry) Snapshot() map[string]Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.clock.Now()
	out := make(map[string]Snapshot, len(r.breakers))
	for name := range r.breakers {
		b := r.get(name, now)
		out[name] = Snapshot{
			State:               b.state,
			ConsecutiveFailures: b.failures,
			OpenedAt:            b.openedAt,
		}
	}
	return out
}
