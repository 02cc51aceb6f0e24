package routing

import (
	"fmt"
	"strings"

	"github.com/upb/omnichat-gateway/services"
)

// Reasons a candidate was passed over or failed
const (
	ReasonAtLimit            = "at_limit"
	ReasonCircuitOpen        = "circuit_open"
	ReasonFallbackIneligible = "fallback_ineligible"
	ReasonProviderError      = "provider_error"
)

// Attempt records what happened to one candidate during selection
type Attempt struct {
	Provider string `json:"provider"`
	Reason   string `json:"reason"`
	Detail   string `json:"detail,omitempty"`
}

// ExhaustedError reports that no provider could serve the request.
// It unwraps to a services.DomainError so handlers can map it to a status.
type ExhaustedError struct {
	Attempts []Attempt
}

func (e *ExhaustedError) Error() string {
	parts := make([]string, len(e.Attempts))
	for i, a := range e.Attempts {
		parts[i] = a.Provider + "=" + a.Reason
	}
	return fmt.Sprintf("all providers exhausted [%s]", strings.Join(parts, ", "))
}

// AllAtLimit reports whether every candidate was skipped for quota
func (e *ExhaustedError) AllAtLimit() bool {
	if len(e.Attempts) == 0 {
		return false
	}
	for _, a := range e.Attempts {
		if a.Reason != ReasonAtLimit {
			return false
		}
	}
	return true
}

// Unwrap exposes the client-facing classification
func (e *ExhaustedError) Unwrap() error {
	errType := services.ErrorTypeUnavailable
	msg := "all providers failed"
	if e.AllAtLimit() {
		errType = services.ErrorTypeRateLimit
		msg = "all providers reached their daily limit"
	}
	attempts := make([]Attempt, len(e.Attempts))
	copy(attempts, e.Attempts)
	return services.NewCodedError(errType, services.CodeProvidersExhausted, msg, nil).
		WithDetail("attemptedProviders", attempts)
}
