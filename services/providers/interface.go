package providers

import (
	"context"
	"fmt"
	"time"
)

// Adapter is the single contract every vendor integration implements
type Adapter interface {
	// Invoke sends one chat turn to the vendor and normalizes the reply
	Invoke(ctx context.Context, req InvokeRequest) (*ChatResponse, error)
}

// AdapterFunc lets a plain function satisfy Adapter
type AdapterFunc func(ctx context.Context, req InvokeRequest) (*ChatResponse, error)

// Invoke calls f
func (f AdapterFunc) Invoke(ctx context.Context, req InvokeRequest) (*ChatResponse, error) {
	return f(ctx, req)
}

// Capability is a skill a provider can be preferred for
type Capability string

const (
	CapabilityCode Capability = "code"
)

// Adapter kinds
const (
	KindOpenAI    = "openai"
	KindGemini    = "gemini"
	KindAnthropic = "anthropic"
)

// Config is the static description of one upstream provider
type Config struct {
	Name             string
	Kind             string
	Priority         int
	DailyLimit       int64
	SpecializesIn    []Capability
	FallbackEligible bool
	Model            string
	BaseURL          string
	APIKey           string
	Timeout          time.Duration
}

// Specializes reports whether the provider advertises capability c
func (c Config) Specializes(capability Capability) bool {
	for _, s := range c.SpecializesIn {
		if s == capability {
			return true
		}
	}
	return false
}

// Unlimited reports whether the provider has no daily quota
func (c Config) Unlimited() bool {
	return c.DailyLimit <= 0
}

// Credentials returns what an adapter needs to authenticate a call
func (c Config) Credentials() Credentials {
	return Credentials{
		APIKey:  c.APIKey,
		BaseURL: c.BaseURL,
		Model:   c.Model,
	}
}

// Credentials carries per-provider auth and endpoint details into Invoke
type Credentials struct {
	APIKey  string
	BaseURL string
	Model   string
}

// Message represents a single message in a conversation
type Message struct {
	// Role can be "system", "user", or "assistant"
	Role string `json:"role" validate:"required,oneof=system user assistant"`

	// Content is the message text
	Content string `json:"content"`
}

// InvokeRequest is one chat turn: prior conversation plus the new user message
type InvokeRequest struct {
	Message      string
	Conversation []Message
	Credentials  Credentials
}

// Messages returns the conversation followed by the new user message
func (r InvokeRequest) Messages() []Message {
	out := make([]Message, 0, len(r.Conversation)+1)
	out = append(out, r.Conversation...)
	return append(out, Message{Role: "user", Content: r.Message})
}

// ChatResponse represents a normalized chat completion
type ChatResponse struct {
	// ID is the vendor's identifier for this completion, if any
	ID string `json:"id,omitempty"`

	// Model used for the completion
	Model string `json:"model,omitempty"`

	// Choices contains the completion results
	Choices []Choice `json:"choices"`

	// Usage statistics, when the vendor reports them
	Usage *Usage `json:"usage,omitempty"`
}

// Text returns the content of the first choice
func (r *ChatResponse) Text() string {
	if r == nil || len(r.Choices) == 0 {
		return ""
	}
	return r.Choices[0].Message.Content
}

// Choice represents a completion choice
type Choice struct {
	Index   int     `json:"index"`
	Message Message `json:"message"`

	// FinishReason indicates why the completion finished
	FinishReason string `json:"finish_reason,omitempty"`
}

// Usage represents token usage statistics
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Provider error codes
const (
	CodeHTTPError      = "HTTP_ERROR"
	CodeMarshalError   = "MARSHAL_ERROR"
	CodeRequestError   = "REQUEST_ERROR"
	CodeReadError      = "READ_ERROR"
	CodeUnmarshalError = "UNMARSHAL_ERROR"
	CodeEmptyResponse  = "EMPTY_RESPONSE"
	CodeUnknownError   = "UNKNOWN_ERROR"
)

// ProviderError represents an error from a provider
type ProviderError struct {
	// Provider that generated the error
	Provider string

	// Code is the error code
	Code string

	// Message is the error message, already redacted
	Message string

	// StatusCode is the HTTP status code (if applicable)
	StatusCode int

	// Retryable indicates if the request can be retried
	Retryable bool

	// Cause is the underlying error
	Cause error
}

// Error implements the error interface
func (e *ProviderError) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Provider, e.Message)
	if e.StatusCode != 0 {
		msg = fmt.Sprintf("%s (status %d)", msg, e.StatusCode)
	}
	if e.Cause != nil {
		msg += ": " + Redact(e.Cause.Error())
	}
	return msg
}

// Unwrap implements error unwrapping
func (e *ProviderError) Unwrap() error {
	return e.Cause
}

// NewProviderError creates a new provider error. The message is redacted.
func NewProviderError(provider, code, message string, statusCode int, retryable bool, cause error) *ProviderError {
	return &ProviderError{
		Provider:   provider,
		Code:       code,
		Message:    Redact(message),
		StatusCode: statusCode,
		Retryable:  retryable,
		Cause:      cause,
	}
}

// IsRetryableStatus reports whether an HTTP status is worth trying elsewhere
func IsRetryableStatus(status int) bool {
	return status >= 500 || status == 429
}
