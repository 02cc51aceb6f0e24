package gemini

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

func serve(t *testing.T, handler http.HandlerFunc) *Adapter {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	return New(providers.Config{
		Name:    "gemini",
		Kind:    providers.KindGemini,
		BaseURL: server.URL,
		Model:   "gemini-1.5-flash",
		Timeout: 2 * time.Second,
	})
}

func TestAdapter_Invoke(t *testing.T) {
	var got generateRequest
	adapter := serve(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/models/gemini-1.5-flash:generateContent", r.URL.Path)
		assert.Equal(t, "gem-key", r.Header.Get("x-goog-api-key"))
		assert.Empty(t, r.URL.Query().Get("key"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))

		w.Write([]byte(`{
			"candidates": [{"content": {"role": "model", "parts": [{"text": "Hola"}, {"text": " mundo"}]}, "finishReason": "STOP"}],
			"usageMetadata": {"promptTokenCount": 4, "candidatesTokenCount": 2, "totalTokenCount": 6}
		}`))
	})

	resp, err := adapter.Invoke(context.Background(), providers.InvokeRequest{
		Message: "Say hi",
		Conversation: []providers.Message{
			{Role: "system", Content: "Be brief"},
			{Role: "user", Content: "Hello"},
			{Role: "assistant", Content: "Hi"},
		},
		Credentials: providers.Credentials{APIKey: "gem-key"},
	})

	require.NoError(t, err)
	assert.Equal(t, "Hola mundo", resp.Text())
	assert.Equal(t, "stop", resp.Choices[0].FinishReason)
	assert.Equal(t, "assistant", resp.Choices[0].Message.Role)
	require.NotNil(t, resp.Usage)
	assert.Equal(t, 6, resp.Usage.TotalTokens)

	require.NotNil(t, got.SystemInstruction)
	assert.Equal(t, "Be brief", got.SystemInstruction.Parts[0].Text)
	require.Len(t, got.Contents, 3)
	assert.Equal(t, "user", got.Contents[0].Role)
	assert.Equal(t, "model", got.Contents[1].Role)
	assert.Equal(t, "Say hi", got.Contents[2].Parts[0].Text)
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
			name:     "invalid key",
			status:   http.StatusBadRequest,
			body:     `{"error":{"code":400,"message":"API key not valid","status":"INVALID_ARGUMENT"}}`,
			wantCode: "INVALID_ARGUMENT",
		},
		{
			name:          "quota",
			status:        http.StatusTooManyRequests,
			body:          `{"error":{"code":429,"message":"Resource exhausted","status":"RESOURCE_EXHAUSTED"}}`,
			wantCode:      "RESOURCE_EXHAUSTED",
			wantRetryable: true,
		},
		{
			name:          "no candidates",
			status:        http.StatusOK,
			body:          `{"candidates":[]}`,
			wantCode:      providers.CodeEmptyResponse,
			wantRetryable: true,
		},
		{
			name:     "blocked prompt",
			status:   http.StatusOK,
			body:     `{"promptFeedback":{"blockReason":"SAFETY"}}`,
			wantCode: "BLOCKED",
		},
		{
			name:     "malformed",
			status:   http.StatusOK,
			body:     `not json`,
			wantCode: providers.CodeUnmarshalError,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			adapter := serve(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				w.Write([]byte(tt.body))
			})

			_, err := adapter.Invoke(context.Background(), providers.InvokeRequest{Message: "hi"})

			var provErr *providers.ProviderError
			require.ErrorAs(t, err, &provErr)
			assert.Equal(t, tt.wantCode, provErr.Code)
			assert.Equal(t, tt.wantRetryable, provErr.Retryable)
		})
	}
}

func TestNew_Defaults(t *testing.T) {
	a := New(providers.Config{Name: "gemini"})

	assert.Equal(t, defaultBaseURL, a.baseURL)
	assert.Equal(t, defaultModel, a.model)
	assert.Equal(t, "gemini", a.Name())
}
