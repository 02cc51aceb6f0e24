package utils

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteJSON(t *testing.T) {
	w := httptest.NewRecorder()
	data := map[string]string{"message": "hello"}

	err := WriteJSON(w, http.StatusOK, data)
	require.NoError(t, err)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))

	var response map[string]string
	require.NoError(t, json.NewDecoder(w.Body).Decode(&response))
	assert.Equal(t, "hello", response["message"])
}

func TestWriteJSON_NilData(t *testing.T) {
	w := httptest.NewRecorder()

	require.NoError(t, WriteJSON(w, http.StatusAccepted, nil))

	assert.Equal(t, http.StatusAccepted, w.Code)
	assert.Empty(t, w.Body.String())
}

func TestWriteOK_NoEnvelope(t *testing.T) {
	w := httptest.NewRecorder()

	require.NoError(t, WriteOK(w, map[string]int{"expires_in": 60}))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"expires_in":60}`, w.Body.String())
}

func TestWriteBadRequest(t *testing.T) {
	w := httptest.NewRecorder()

	err := WriteBadRequest(w, "Validation failed", map[string]string{"message": "message is required"})
	require.NoError(t, err)

	assert.Equal(t, http.StatusBadRequest, w.Code)

	var response ErrorResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&response))
	assert.Equal(t, "Validation failed", response.Error)
	assert.Equal(t, "invalid_request", response.Code)
	assert.Equal(t, "message is required", response.Fields["message"])
}

func TestWriteUnauthorized(t *testing.T) {
	t.Run("with code and message", func(t *testing.T) {
		w := httptest.NewRecorder()

		require.NoError(t, WriteUnauthorized(w, "invalid_signature", "Signature mismatch"))

		assert.Equal(t, http.StatusUnauthorized, w.Code)
		assert.JSONEq(t, `{"error":"Signature mismatch","code":"invalid_signature"}`, w.Body.String())
	})

	t.Run("with empty message", func(t *testing.T) {
		w := httptest.NewRecorder()

		require.NoError(t, WriteUnauthorized(w, "", ""))

		assert.JSONEq(t, `{"error":"Authentication required"}`, w.Body.String())
	})
}

func TestWriteNotFound(t *testing.T) {
	w := httptest.NewRecorder()

	require.NoError(t, WriteNotFound(w, ""))

	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.JSONEq(t, `{"error":"Resource not found","code":"not_found"}`, w.Body.String())
}

func TestWriteTooManyRequests(t *testing.T) {
	w := httptest.NewRecorder()

	require.NoError(t, WriteTooManyRequests(w, "challenge_rate_limited", ""))

	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.JSONEq(t, `{"error":"Rate limit exceeded","code":"challenge_rate_limited"}`, w.Body.String())
}

func TestWriteInternalServerError(t *testing.T) {
	w := httptest.NewRecorder()

	require.NoError(t, WriteInternalServerError(w, ""))

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.JSONEq(t, `{"error":"Internal server error","code":"internal_error"}`, w.Body.String())
}

func TestWriteError_AttemptedProviders(t *testing.T) {
	w := httptest.NewRecorder()
	attempts := []map[string]string{{"provider": "A", "reason": "at_limit"}}

	err := WriteError(w, http.StatusServiceUnavailable, ErrorResponse{
		Code:               "all_providers_exhausted",
		AttemptedProviders: attempts,
	})
	require.NoError(t, err)

	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.JSONEq(t, `{
		"error": "Service Unavailable",
		"code": "all_providers_exhausted",
		"attemptedProviders": [{"provider": "A", "reason": "at_limit"}]
	}`, w.Body.String())
}

func TestDecodeJSON(t *testing.T) {
	type payload struct {
		Message string `json:"message"`
	}

	tests := []struct {
		name    string
		body    string
		wantErr string
	}{
		{"valid", `{"message":"hi"}`, ""},
		{"empty body", ``, "request body is empty"},
		{"malformed", `{"message":`, "invalid JSON body"},
		{"unknown field ignored", `{"message":"hi","extra":1}`, ""},
		{"trailing object", `{"message":"hi"}{"message":"again"}`, "single JSON object"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(tt.body))
			var dst payload

			err := DecodeJSON(r, &dst)

			if tt.wantErr == "" {
				require.NoError(t, err)
				assert.Equal(t, "hi", dst.Message)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}
