package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/upb/omnichat-gateway/services/challenge"
)

const testSecret = "aUfueJNRAGEzKPUKIZidpGvO1KrPvZuc"

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func parseHeaders(t *testing.T, out string) map[string]string {
	t.Helper()
	headers := make(map[string]string)
	for _, line := range strings.Split(strings.TrimSpace(out), "\n") {
		k, v, ok := strings.Cut(line, ": ")
		require.True(t, ok, "malformed line %q", line)
		headers[k] = v
	}
	return headers
}

func TestRootCmd_Commands(t *testing.T) {
	root := newRootCmd()

	var names []string
	for _, c := range root.Commands() {
		names = append(names, c.Name())
	}

	assert.ElementsMatch(t, []string{"serve", "sign"}, names)
}

func TestSignCmd(t *testing.T) {
	body := `{"message":"hello"}`

	out, err := execute(t, "sign",
		"--secret", testSecret,
		"--challenge", "tok-1",
		"--timestamp", "1705320000000",
		"--client-context", "web",
		"--user-agent", "curl/8.5.0",
		"--body", body)
	require.NoError(t, err)

	headers := parseHeaders(t, out)
	assert.Equal(t, "tok-1", headers["X-Challenge"])
	assert.Equal(t, "1705320000000", headers["X-Timestamp"])
	assert.Equal(t, "web", headers["X-Client-Context"])

	payload := challenge.CanonicalPayload("tok-1", 1705320000000, "web", "curl/8.5.0", []byte(body))
	assert.NoError(t, challenge.Verify([]byte(testSecret), payload, headers["X-Signature"]))
}

func TestSignCmd_BodyFileAndEnvSecret(t *testing.T) {
	t.Setenv("AUTH_SHARED_SECRET", testSecret)
	path := filepath.Join(t.TempDir(), "body.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"message":"from file"}`), 0o600))

	out, err := execute(t, "sign", "--challenge", "tok-2", "--timestamp", "42", "--body-file", path)
	require.NoError(t, err)

	headers := parseHeaders(t, out)
	assert.NotContains(t, headers, "X-Client-Context")

	payload := challenge.CanonicalPayload("tok-2", 42, "", "", []byte(`{"message":"from file"}`))
	assert.NoError(t, challenge.Verify([]byte(testSecret), payload, headers["X-Signature"]))
}

func TestSignCmd_Errors(t *testing.T) {
	t.Setenv("AUTH_SHARED_SECRET", "")

	tests := []struct {
		name    string
		args    []string
		wantErr string
	}{
		{
			name:    "missing challenge",
			args:    []string{"sign", "--secret", testSecret},
			wantErr: "challenge",
		},
		{
			name:    "missing secret",
			args:    []string{"sign", "--challenge", "tok-1"},
			wantErr: "no secret",
		},
		{
			name:    "unreadable body file",
			args:    []string{"sign", "--secret", testSecret, "--challenge", "tok-1", "--body-file", "/nonexistent/body.json"},
			wantErr: "read body",
		},
		{
			name:    "body and body-file together",
			args:    []string{"sign", "--secret", testSecret, "--challenge", "tok-1", "--body", "{}", "--body-file", "x"},
			wantErr: "body",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := execute(t, tt.args...)

			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestServe_InvalidConfig(t *testing.T) {
	t.Setenv("AUTH_SHARED_SECRET", "")
	t.Setenv("PROVIDERS_FILE", "")

	err := serve(t.Context())

	require.Error(t, err)
	assert.Contains(t, err.Error(), "load config")
}
