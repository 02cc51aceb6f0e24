package openaicompat

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/upb/omnichat-gateway/services/providers"
)

const (
	defaultBaseURL = "https://api.openai.com/v1"
	defaultTimeout = 30 * time.Second

	// maxErrorBody caps how much of a failed response is read
	maxErrorBody = 4096
)

// Adapter speaks the OpenAI chat completions protocol. Groq and the
// self-hosted Qwen endpoint both expose it.
type Adapter struct {
	name       string
	baseURL    string
	model      string
	httpClient *http.Client
}

var _ providers.Adapter = (*Adapter)(nil)

// Option configures the adapter
type Option func(*Adapter)

// WithHTTPClient sets a custom HTTP client
func WithHTTPClient(c *http.Client) Option {
	return func(a *Adapter) { a.httpClient = c }
}

// New creates an adapter for the given provider config
func New(cfg providers.Config, opts ...Option) *Adapter {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = defaultTimeout
	}
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = defaultBaseURL
	}

	a := &Adapter{
		name:       cfg.Name,
		baseURL:    strings.TrimRight(baseURL, "/"),
		model:      cfg.Model,
		httpClient: &http.Client{Timeout: timeout},
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Name returns the provider name
func (a *Adapter) Name() string {
	return a.name
}

// Invoke performs a chat completion request
func (a *Adapter) Invoke(ctx context.Context, req providers.InvokeRequest) (*providers.ChatResponse, error) {
	baseURL := a.baseURL
	if req.Credentials.BaseURL != "" {
		baseURL = strings.TrimRight(req.Credentials.BaseURL, "/")
	}
	model := a.model
	if req.Credentials.Model != "" {
		model = req.Credentials.Model
	}

	reqBody, err := json.Marshal(a.buildRequest(model, req))
	if err != nil {
		return nil, providers.NewProviderError(a.name, providers.CodeMarshalError, "failed to marshal request", 0, false, err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, baseURL+"/chat/completions", bytes.NewReader(reqBody))
	if err != nil {
		return nil, providers.NewProviderError(a.name, providers.CodeRequestError, "failed to create request", 0, false, err)
	}

	httpReq.Header.Set("Content-Type", "application/json")
	if req.Credentials.APIKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+req.Credentials.APIKey)
	}

	httpResp, err := a.httpClient.Do(httpReq)
	if err != nil {
		return nil, providers.NewProviderError(a.name, providers.CodeHTTPError, "HTTP request failed", 0, true, err)
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(httpResp.Body, maxErrorBody))
		return nil, a.handleErrorResponse(httpResp.StatusCode, body)
	}

	respBody, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, providers.NewProviderError(a.name, providers.CodeReadError, "failed to read response", httpResp.StatusCode, true, err)
	}

	var chatResp chatResponse
	if err := json.Unmarshal(respBody, &chatResp); err != nil {
		return nil, providers.NewProviderError(a.name, providers.CodeUnmarshalError, "failed to unmarshal response", httpResp.StatusCode, false, err)
	}

	// Some compatible servers answer 200 with an error object
	if chatResp.Error != nil {
		return nil, providers.NewProviderError(a.name, chatResp.Error.Type, chatResp.Error.Message, httpResp.StatusCode, false, nil)
	}

	if len(chatResp.Choices) == 0 {
		return nil, providers.NewProviderError(a.name, providers.CodeEmptyResponse, "response contained no choices", httpResp.StatusCode, true, nil)
	}

	return a.convertResponse(&chatResp), nil
}

func (a *Adapter) buildRequest(model string, req providers.InvokeRequest) *chatRequest {
	msgs := req.Messages()
	out := &chatRequest{
		Model:    model,
		Messages: make([]message, len(msgs)),
	}
	for i, m := range msgs {
		out.Messages[i] = message{Role: m.Role, Content: m.Content}
	}
	return out
}

func (a *Adapter) convertResponse(resp *chatResponse) *providers.ChatResponse {
	out := &providers.ChatResponse{
		ID:      resp.ID,
		Model:   resp.Model,
		Choices: make([]providers.Choice, len(resp.Choices)),
	}

	for i, choice := range resp.Choices {
		out.Choices[i] = providers.Choice{
			Index: choice.Index,
			Message: providers.Message{
				Role:    choice.Message.Role,
				Content: choice.Message.Content,
			},
			FinishReason: choice.FinishReason,
		}
	}

	if resp.Usage != nil {
		out.Usage = &providers.Usage{
			PromptTokens:     resp.Usage.PromptTokens,
			CompletionTokens: resp.Usage.CompletionTokens,
			TotalTokens:      resp.Usage.TotalTokens,
		}
	}

	return out
}

// handleErrorResponse turns a non-200 reply into a ProviderError
func (a *Adapter) handleErrorResponse(statusCode int, body []byte) error {
	retryable := providers.IsRetryableStatus(statusCode)

	var errResp errorResponse
	if err := json.Unmarshal(body, &errResp); err != nil || errResp.Error == nil {
		return providers.NewProviderError(a.name, providers.CodeUnknownError, string(body), statusCode, retryable, nil)
	}

	code := errResp.Error.Type
	if code == "" {
		code = providers.CodeHTTPError
	}
	return providers.NewProviderError(a.name, code, errResp.Error.Message, statusCode, retryable, nil)
}

// Wire types

type chatRequest struct {
	Model    string    `json:"model"`
	Messages []message `json:"messages"`
}

type message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	ID      string     `json:"id"`
	Object  string     `json:"object"`
	Created int64      `json:"created"`
	Model   string     `json:"model"`
	Choices []choice   `json:"choices"`
	Usage   *usage     `json:"usage"`
	Error   *errorBody `json:"error"`
}

type choice struct {
	Index        int     `json:"index"`
	Message      message `json:"message"`
	FinishReason string  `json:"finish_reason"`
}

type usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

type errorResponse struct {
	Error *errorBody `json:"error"`
}

type errorBody struct {
	Message string `json:"message"`
	Type    string `json:"type"`
	Code    any    `json:"code"`
}
