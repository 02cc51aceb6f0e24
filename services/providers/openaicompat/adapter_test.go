package openaicompat

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/upb/omnichat-gateway/services/providers"
)

func newTestAdapter(t *testing.T, handler http.HandlerFunc) (*Adapter, providers.Credentials) {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	cfg := providers.Config{
		Name:    "groq",
		Kind:    providers.KindOpenAI,
		BaseURL: server.URL,
		APIKey:  "gsk_test",
		Model:   "llama-3.1-8b-instant",
		Timeout: 2 * time.Second,
	}
	return New(cfg), cfg.Credentials()
}

func TestNew_Defaults(t *testing.T) {
	a := New(providers.Config{Name: "qwen"})

	assert.Equal(t, "qwen", a.Name())
	assert.Equal(t, defaultBaseURL, a.baseURL)
	assert.Equal(t, defaultTimeout, a.httpClient.Timeout)
}

func TestAdapter_Invoke(t *testing.T) {
	var got chatRequest
	adapter, creds := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer gsk_test", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(chatResponse{
			ID:    "chatcmpl-123",
			Model: got.Model,
			Choices: []choice{{
				Message:      message{Role: "assistant", Content: "Hello there"},
				FinishReason: "stop",
			}},
			Usage: &usage{PromptTokens: 3, CompletionTokens: 2, TotalTokens: 5},
		})
	})

	resp, err := adapter.Invoke(context.Background(), providers.InvokeRequest{
		Message:      "Hello",
		Conversation: []providers.Message{{Role: "assistant", Content: "Hi, how can I help?"}},
		Credentials:  creds,
	})

	require.NoError(t, err)
	assert.Equal(t, "chatcmpl-123", resp.ID)
	assert.Equal(t, "Hello there", resp.Text())
	require.NotNil(t, resp.Usage)
	assert.Equal(t, 5, resp.Usage.TotalTokens)

	assert.Equal(t, "llama-3.1-8b-instant", got.Model)
	require.Len(t, got.Messages, 2)
	assert.Equal(t, message{Role: "user", Content: "Hello"}, got.Messages[1])
}

func TestAdapter_Invoke_Errors(t *testing.T) {
	tests := []struct {
		name          string
		status        int
		body          string
		wantCode      string
		wantRetryable bool
	}{
		{
			name:     "vendor error payload",
			status:   http.StatusBadRequest,
			body:     `{"error":{"message":"Invalid request","type":"invalid_request_error","code":"invalid_api_key"}}`,
			wantCode: "invalid_request_error",
		},
		{
			name:          "rate limited",
			status:        http.StatusTooManyRequests,
			body:          `{"error":{"message":"Rate limit reached","type":"tokens"}}`,
			wantCode:      "tokens",
			wantRetryable: true,
		},
		{
			name:          "non-json server error",
			status:        http.StatusBadGateway,
			body:          `upstream down`,
			wantCode:      providers.CodeUnknownError,
			wantRetryable: true,
		},
		{
			name:     "malformed success body",
			status:   http.StatusOK,
			body:     `{"choices":`,
			wantCode: providers.CodeUnmarshalError,
		},
		{
			name:          "empty choices",
			status:        http.StatusOK,
			body:          `{"id":"x","choices":[]}`,
			wantCode:      providers.CodeEmptyResponse,
			wantRetryable: true,
		},
		{
			name:     "error object with 200",
			status:   http.StatusOK,
			body:     `{"error":{"message":"model not loaded","type":"server_error"}}`,
			wantCode: "server_error",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			adapter, creds := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(tt.status)
				w.Write([]byte(tt.body))
			})

			resp, err := adapter.Invoke(context.Background(), providers.InvokeRequest{Message: "hi", Credentials: creds})

			assert.Nil(t, resp)
			var provErr *providers.ProviderError
			require.ErrorAs(t, err, &provErr)
			assert.Equal(t, "groq", provErr.Provider)
			assert.Equal(t, tt.wantCode, provErr.Code)
			assert.Equal(t, tt.wantRetryable, provErr.Retryable)
		})
	}
}

func TestAdapter_Invoke_Timeout(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
	}))
	defer server.Close()
	defer close(release)

	adapter := New(providers.Config{Name: "qwen", BaseURL: server.URL, Timeout: 50 * time.Millisecond})

	_, err := adapter.Invoke(context.Background(), providers.InvokeRequest{Message: "hi"})

	var provErr *providers.ProviderError
	require.ErrorAs(t, err, &provErr)
	assert.Equal(t, providers.CodeHTTPError, provErr.Code)
	assert.True(t, provErr.Retryable)
}

func TestAdapter_Invoke_NoAuthHeaderWithoutKey(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Empty(t, r.Header.Get("Authorization"))
		w.Write([]byte(`{"choices":[{"message":{"role":"assistant","content":"ok"}}]}`))
	}))
	defer server.Close()

	adapter := New(providers.Config{Name: "qwen", BaseURL: server.URL + "/"})

	resp, err := adapter.Invoke(context.Background(), providers.InvokeRequest{Message: "hi"})

	require.NoError(t, err)
	assert.Equal(t, "ok", resp.Text())
	assert.Nil(t, resp.Usage)
}
