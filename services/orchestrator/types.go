package orchestrator

import (
	"time"

	"github.com/upb/omnichat-gateway/internal/clock"
	"github.com/upb/omnichat-gateway/services/cache"
	"github.com/upb/omnichat-gateway/services/circuit"
	"github.com/upb/omnichat-gateway/services/providers"
)

// ChatRequest is one user turn submitted to the gateway
type ChatRequest struct {
	// Message is the new user message
	Message string `json:"message" validate:"required,max=32000"`

	// Conversation is the prior history, oldest first
	Conversation []providers.Message `json:"conversation" validate:"max=200,dive"`

	// Purpose optionally separates otherwise identical prompts in the cache
	Purpose string `json:"purpose,omitempty" validate:"max=64"`

	// Code is the client's own code-request classification
	Code bool `json:"code,omitempty"`

	// SessionID identifies the client session; it is logged, never fingerprinted
	SessionID string `json:"sessionId,omitempty" validate:"max=128"`
}

// ChatResult is the normalized outcome returned to the client
type ChatResult struct {
	ID            string             `json:"id"`
	Provider      string             `json:"provider"`
	Response      string             `json:"response"`
	Choices       []providers.Choice `json:"choices"`
	Usage         *providers.Usage   `json:"usage,omitempty"`
	UsedProviders []string           `json:"usedProviders"`
	IsCodeRequest bool               `json:"isCodeRequest"`
	Cached        bool               `json:"cached"`
}

// asCached returns a copy marked as served from cache
func (r *ChatResult) asCached() *ChatResult {
	out := *r
	out.Cached = true
	return &out
}

// ProviderStatus describes one provider for the status endpoint
type ProviderStatus struct {
	Name             string                 `json:"name"`
	Kind             string                 `json:"kind"`
	Priority         int                    `json:"priority"`
	DailyLimit       int64                  `json:"dailyLimit"`
	UsedToday        int64                  `json:"usedToday"`
	SpecializesIn    []providers.Capability `json:"specializesIn,omitempty"`
	FallbackEligible bool                   `json:"fallbackEligible"`
	Circuit          circuit.Snapshot       `json:"circuit"`
}

// Status is the full registry view
type Status struct {
	Providers []ProviderStatus `json:"providers"`
	Cache     cache.Stats      `json:"cache"`
}

// StateConfig tunes the in-process orchestration state
type StateConfig struct {
	CacheTTL         time.Duration
	CacheMaxEntries  int
	CircuitThreshold int
	CircuitCooldown  time.Duration
}

// State is the in-process shared state of the orchestrator. One instance is
// owned by the application and injected; tests build their own.
type State struct {
	Cache     *cache.ResponseCache[*ChatResult]
	Coalescer *cache.Coalescer[*ChatResult]
	Breakers  *circuit.Registry
}

// NewState builds fresh cache, coalescer and breaker registry
func NewState(cfg StateConfig, clk clock.Clock) *State {
	return &State{
		Cache:     cache.NewResponseCache[*ChatResult](cfg.CacheTTL, cfg.CacheMaxEntries, clk),
		Coalescer: cache.NewCoalescer[*ChatResult](),
		Breakers: circuit.NewRegistry(circuit.Config{
			Threshold: cfg.CircuitThreshold,
			Cooldown:  cfg.CircuitCooldown,
		}, clk),
	}
}
