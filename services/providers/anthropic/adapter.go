package anthropic

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
	defaultBaseURL   = "https://api.anthropic.com"
	defaultModel     = "claude-3-haiku-20240307"
	defaultTimeout   = 30 * time.Second
	defaultMaxTokens = 1024
	apiVersion       = "2023-06-01"
	maxErrorBody     = 4096
)

// Adapter talks to the Anthropic Messages API
type Adapter struct {
	name       string
	baseURL    string
	model      string
	maxTokens  int
	httpClient *http.Client
}

var _ providers.Adapter = (*Adapter)(nil)

// Option configures the adapter
type Option func(*Adapter)

// WithHTTPClient sets a custom HTTP client
func WithHTTPClient(c *http.Client) Option {
	return func(a *Adapter) { a.httpClient = c }
}

// WithMaxTokens caps the completion length
func WithMaxTokens(n int) Option {
	return func(a *Adapter) { a.maxTokens = n }
}

// New creates an Anthropic adapter for the given provider config
func New(cfg providers.Config, opts ...Option) *Adapter {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = defaultTimeout
	}
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	model := cfg.Model
	if model == "" {
		model = defaultModel
	}

	a := &Adapter{
		name:       cfg.Name,
		baseURL:    strings.TrimRight(baseURL, "/"),
		model:      model,
		maxTokens:  defaultMaxTokens,
		httpClient: &http.Client{Timeout: timeout},
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

func (a *Adapter) Name() string { return a.name }

// Invoke sends one Messages API request
func (a *Adapter) Invoke(ctx context.Context, req providers.InvokeRequest) (*providers.ChatResponse, error) {
	baseURL := a.baseURL
	if req.Credentials.BaseURL != "" {
		baseURL = strings.TrimRight(req.Credentials.BaseURL, "/")
	}
	model := a.model
	if req.Credentials.Model != "" {
		model = req.Credentials.Model
	}

	body, err := json.Marshal(a.buildRequest(model, req))
	if err != nil {
		return nil, providers.NewProviderError(a.name, providers.CodeMarshalError, "failed to marshal request", 0, false, err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, baseURL+"/v1/messages", bytes.NewReader(body))
	if err != nil {
		return nil, providers.NewProviderError(a.name, providers.CodeRequestError, "failed to create request", 0, false, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("anthropic-version", apiVersion)
	if req.Credentials.APIKey != "" {
		httpReq.Header.Set("x-api-key", req.Credentials.APIKey)
	}

	httpResp, err := a.httpClient.Do(httpReq)
	if err != nil {
		return nil, providers.NewProviderError(a.name, providers.CodeHTTPError, "HTTP request failed", 0, true, err)
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(io.LimitReader(httpResp.Body, maxErrorBody))
		return nil, a.handleErrorResponse(httpResp.StatusCode, raw)
	}

	var resp messagesResponse
	if err := json.NewDecoder(httpResp.Body).Decode(&resp); err != nil {
		return nil, providers.NewProviderError(a.name, providers.CodeUnmarshalError, "failed to decode response", httpResp.StatusCode, false, err)
	}
	if resp.Type == "error" && resp.Error != nil {
		return nil, providers.NewProviderError(a.name, resp.Error.Type, resp.Error.Message, httpResp.StatusCode, false, nil)
	}

	var sb strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			sb.WriteString(block.Text)
		}
	}
	if sb.Len() == 0 {
		return nil, providers.NewProviderError(a.name, providers.CodeEmptyResponse, "response contained no text", httpResp.StatusCode, true, nil)
	}

	return &providers.ChatResponse{
		ID:    resp.ID,
		Model: resp.Model,
		Choices: []providers.Choice{{
			Message:      providers.Message{Role: "assistant", Content: sb.String()},
			FinishReason: resp.StopReason,
		}},
		Usage: &providers.Usage{
			PromptTokens:     resp.Usage.InputTokens,
			CompletionTokens: resp.Usage.OutputTokens,
			TotalTokens:      resp.Usage.InputTokens + resp.Usage.OutputTokens,
		},
	}, nil
}

// buildRequest lifts system messages into the top-level system field
func (a *Adapter) buildRequest(model string, req providers.InvokeRequest) messagesRequest {
	out := messagesRequest{
		Model:     model,
		MaxTokens: a.maxTokens,
	}
	var system []string
	for _, m := range req.Messages() {
		if m.Role == "system" {
			system = append(system, m.Content)
			continue
		}
		out.Messages = append(out.Messages, message{Role: m.Role, Content: m.Content})
	}
	out.System = strings.Join(system, "\n\n")
	return out
}

func (a *Adapter) handleErrorResponse(status int, raw []byte) error {
	retryable := providers.IsRetryableStatus(status) || status == 529

	var errResp messagesResponse
	if err := json.Unmarshal(raw, &errResp); err != nil || errResp.Error == nil {
		return providers.NewProviderError(a.name, providers.CodeUnknownError, string(raw), status, retryable, nil)
	}
	return providers.NewProviderError(a.name, errResp.Error.Type, errResp.Error.Message, status, retryable, nil)
}

// Messages API types

type messagesRequest struct {
	Model     string    `json:"model"`
	MaxTokens int       `json:"max_tokens"`
	System    string    `json:"system,omitempty"`
	Messages  []message `json:"messages"`
}

type message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type messagesResponse struct {
	ID         string `json:"id"`
	Type       string `json:"type"`
	Model      string `json:"model"`
	StopReason string `json:"stop_reason"`
	Content    []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	Usage struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
	Error *struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}
