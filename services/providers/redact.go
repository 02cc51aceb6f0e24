package providers

import (
	"regexp"
)

type redaction struct {
	pattern     *regexp.Regexp
	replacement string
}

// Order matters: vendor-specific key shapes run before the generic ones.
var redactions = []redaction{
	{regexp.MustCompile(`\bsk-ant-[A-Za-z0-9_\-]{8,}`), "[ANTHROPIC_KEY_REDACTED]"},
	{regexp.MustCompile(`\bsk-[A-Za-z0-9_\-]{16,}`), "[OPENAI_KEY_REDACTED]"},
	{regexp.MustCompile(`\bgsk_[A-Za-z0-9]{16,}`), "[GROQ_KEY_REDACTED]"},
	{regexp.MustCompile(`\bAIza[0-9A-Za-z\-_]{35}\b`), "[GCP_KEY_REDACTED]"},
	{regexp.MustCompile(`\beyJ[A-Za-z0-9_\-]+\.eyJ[A-Za-z0-9_\-]+\.[A-Za-z0-9_\-]+\b`), "[JWT_REDACTED]"},
	{regexp.MustCompile(`(?i)(bearer\s+)[A-Za-z0-9_\-\.]{8,}`), "${1}[TOKEN_REDACTED]"},
	{regexp.MustCompile(`(?i)([?&](?:key|api_key|apikey|token)=)[^&\s"']+`), "${1}[REDACTED]"},
	{regexp.MustCompile(`(?i)(postgres|postgresql|mysql|mongodb|redis)://[^\s'"]+:[^\s'"]+@[^\s'"]+`), "[DATABASE_URL_REDACTED]"},
}

// Redact masks credentials that vendors sometimes echo back in error payloads
func Redact(text string) string {
	for _, r := range redactions {
		text = r.pattern.ReplaceAllString(text, r.replacement)
	}
	return text
}
