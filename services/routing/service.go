package routing

import (
	"context"

	"github.com/upb/omnichat-gateway/services/providers"
)

// UsageReader reports how many calls a provider has taken today
type UsageReader interface {
	Get(ctx context.Context, provider string) (int64, error)
}

// CircuitChecker reports whether a provider's breaker is refusing calls
type CircuitChecker interface {
	IsOpen(provider string) bool
}

// Order returns candidates by ascending priority with code specialists moved
// to the front for code requests. Both groups keep their relative order.
func Order(ordered []providers.Config, in Intent) []providers.Config {
	out := make([]providers.Config, 0, len(ordered))
	if in == nil || !in.IsCodeRequest() {
		return append(out, ordered...)
	}

	var rest []providers.Config
	for _, cfg := range ordered {
		if cfg.Specializes(providers.CapabilityCode) {
			out = append(out, cfg)
		} else {
			rest = append(rest, cfg)
		}
	}
	return append(out, rest...)
}

// Plan walks the candidate list lazily, one provider at a time.
// It is not safe for concurrent use; each request owns its own Plan.
type Plan struct {
	candidates []providers.Config
	pos        int
	usage      UsageReader
	circuits   CircuitChecker
	attempts   []Attempt
	tried      bool
}

// NewPlan prepares a selection over the registry for one request
func NewPlan(registry *providers.Registry, in Intent, usage UsageReader, circuits CircuitChecker) *Plan {
	return &Plan{
		candidates: Order(registry.Ordered(), in),
		usage:      usage,
		circuits:   circuits,
	}
}

// Next returns the next provider allowed to take the request. ok is false once
// the list is spent. A usage read failure aborts selection.
func (p *Plan) Next(ctx context.Context) (cfg providers.Config, ok bool, err error) {
	for p.pos < len(p.candidates) {
		cand := p.candidates[p.pos]
		p.pos++

		if p.tried && !cand.FallbackEligible {
			p.skip(cand.Name, ReasonFallbackIneligible, "")
			continue
		}

		if !cand.Unlimited() {
			used, err := p.usage.Get(ctx, cand.Name)
			if err != nil {
				return providers.Config{}, false, err
			}
			if used >= cand.DailyLimit {
				p.skip(cand.Name, ReasonAtLimit, "")
				continue
			}
		}

		if p.circuits != nil && p.circuits.IsOpen(cand.Name) {
			p.skip(cand.Name, ReasonCircuitOpen, "")
			continue
		}

		return cand, true, nil
	}
	return providers.Config{}, false, nil
}

// Attempted records that the last provider returned by Next was actually
// called. From then on providers that are not fallback eligible are passed over.
func (p *Plan) Attempted() {
	p.tried = true
}

// Fail records that the last provider returned by Next did not produce a result
func (p *Plan) Fail(provider, reason, detail string) {
	p.skip(provider, reason, detail)
}

func (p *Plan) skip(provider, reason, detail string) {
	p.attempts = append(p.attempts, Attempt{Provider: provider, Reason: reason, Detail: detail})
}

// Attempts returns what happened to every candidate so far
func (p *Plan) Attempts() []Attempt {
	out := make([]Attempt, len(p.attempts))
	copy(out, p.attempts)
	return out
}

// Exhausted builds the terminal error once Next reports no more candidates
func (p *Plan) Exhausted() *ExhaustedError {
	return &ExhaustedError{Attempts: p.Attempts()}
}

// SelectProvider returns the first provider allowed to take a request with
// this intent, or an *ExhaustedError listing why each one was passed over.
func SelectProvider(ctx context.Context, registry *providers.Registry, usage UsageReader, circuits CircuitChecker, in Intent) (providers.Config, error) {
	plan := NewPlan(registry, in, usage, circuits)
	cfg, ok, err := plan.Next(ctx)
	if err != nil {
		return providers.Config{}, err
	}
	if !ok {
		return providers.Config{}, plan.Exhausted()
	}
	return cfg, nil
}
