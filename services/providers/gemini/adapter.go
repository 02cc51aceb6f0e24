package gemini

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/upb/omnichat-gateway/services/providers"
)

const (
	defaultBaseURL = "https://generativelanguage.googleapis.com/v1beta"
	defaultModel   = "gemini-1.5-flash"
	defaultTimeout = 30 * time.Second
	maxErrorBody   = 4096
)

// Adapter is the Gemini generateContent adapter
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

// New creates a Gemini adapter for the given provider config
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
		httpClient: &http.Client{Timeout: timeout},
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

func (a *Adapter) Name() string { return a.name }

// Invoke sends the conversation to generateContent. The key travels in a
// header so it never shows up in transport errors that embed the URL.
func (a *Adapter) Invoke(ctx context.Context, req providers.InvokeRequest) (*providers.ChatResponse, error) {
	baseURL := a.baseURL
	if req.Credentials.BaseURL != "" {
		baseURL = strings.TrimRight(req.Credentials.BaseURL, "/")
	}
	model := a.model
	if req.Credentials.Model != "" {
		model = req.Credentials.Model
	}

	body, err := json.Marshal(buildRequest(req))
	if err != nil {
		return nil, providers.NewProviderError(a.name, providers.CodeMarshalError, "failed to marshal request", 0, false, err)
	}

	endpoint := fmt.Sprintf("%s/models/%s:generateContent", baseURL, url.PathEscape(model))
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, providers.NewProviderError(a.name, providers.CodeRequestError, "failed to create request", 0, false, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if req.Credentials.APIKey != "" {
		httpReq.Header.Set("x-goog-api-key", req.Credentials.APIKey)
	}

	httpResp, err := a.httpClient.Do(httpReq)
	if err != nil {
		return nil, providers.NewProviderError(a.name, providers.CodeHTTPError, "HTTP request failed", 0, true, err)
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode < 200 || httpResp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(httpResp.Body, maxErrorBody))
		return nil, a.mapHTTPError(httpResp.StatusCode, raw)
	}

	var resp generateResponse
	if err := json.NewDecoder(httpResp.Body).Decode(&resp); err != nil {
		return nil, providers.NewProviderError(a.name, providers.CodeUnmarshalError, "failed to decode response", httpResp.StatusCode, false, err)
	}

	if resp.PromptFeedback != nil && resp.PromptFeedback.BlockReason != "" && len(resp.Candidates) == 0 {
		return nil, providers.NewProviderError(a.name, "BLOCKED", "prompt blocked: "+resp.PromptFeedback.BlockReason, httpResp.StatusCode, false, nil)
	}

	text, finish, ok := firstCandidate(resp)
	if !ok {
		return nil, providers.NewProviderError(a.name, providers.CodeEmptyResponse, "response contained no candidates", httpResp.StatusCode, true, nil)
	}

	out := &providers.ChatResponse{
		Model: model,
		Choices: []providers.Choice{{
			Message:      providers.Message{Role: "assistant", Content: text},
			FinishReason: strings.ToLower(finish),
		}},
	}
	if resp.UsageMetadata != nil {
		out.Usage = &providers.Usage{
			PromptTokens:     resp.UsageMetadata.PromptTokenCount,
			CompletionTokens: resp.UsageMetadata.CandidatesTokenCount,
			TotalTokens:      resp.UsageMetadata.TotalTokenCount,
		}
	}
	return out, nil
}

// buildRequest maps chat roles onto Gemini's user/model turns.
// System messages become the systemInstruction.
func buildRequest(req providers.InvokeRequest) generateRequest {
	var gr generateRequest
	for _, m := range req.Messages() {
		switch m.Role {
		case "system":
			if gr.SystemInstruction == nil {
				gr.SystemInstruction = &content{}
			}
			gr.SystemInstruction.Parts = append(gr.SystemInstruction.Parts, part{Text: m.Content})
		case "assistant":
			gr.Contents = append(gr.Contents, content{Role: "model", Parts: []part{{Text: m.Content}}})
		default:
			gr.Contents = append(gr.Contents, content{Role: "user", Parts: []part{{Text: m.Content}}})
		}
	}
	return gr
}

func firstCandidate(resp generateResponse) (string, string, bool) {
	if len(resp.Candidates) == 0 {
		return "", "", false
	}
	c := resp.Candidates[0]
	var sb strings.Builder
	for _, p := range c.Content.Parts {
		sb.WriteString(p.Text)
	}
	if sb.Len() == 0 {
		return "", c.FinishReason, false
	}
	return sb.String(), c.FinishReason, true
}

func (a *Adapter) mapHTTPError(status int, raw []byte) error {
	retryable := providers.IsRetryableStatus(status)

	var errResp struct {
		Error struct {
			Code    int    `json:"code"`
			Message string `json:"message"`
			Status  string `json:"status"`
		} `json:"error"`
	}
	if err := json.Unmarshal(raw, &errResp); err != nil || errResp.Error.Message == "" {
		return providers.NewProviderError(a.name, providers.CodeUnknownError, string(raw), status, retryable, nil)
	}

	code := errResp.Error.Status
	if code == "" {
		code = providers.CodeHTTPError
	}
	return providers.NewProviderError(a.name, code, errResp.Error.Message, status, retryable, nil)
}

// Gemini API types

type generateRequest struct {
	Contents          []content `json:"contents"`
	SystemInstruction *content  `json:"systemInstruction,omitempty"`
}

type content struct {
	Role  string `json:"role,omitempty"`
	Parts []part `json:"parts"`
}

type part struct {
	Text string `json:"text"`
}

type generateResponse struct {
	Candidates []struct {
		Content      content `json:"content"`
		FinishReason string  `json:"finishReason"`
	} `json:"candidates"`
	PromptFeedback *struct {
		BlockReason string `json:"blockReason"`
	} `json:"promptFeedback"`
	UsageMetadata *struct {
		PromptTokenCount     int `json:"promptTokenCount"`
		CandidatesTokenCount int `json:"candidatesTokenCount"`
		TotalTokenCount      int `json:"totalTokenCount"`
	} `json:"usageMetadata"`
}
