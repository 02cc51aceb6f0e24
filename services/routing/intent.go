package routing

import (
	"strings"
)

// Intent is what the selector needs to know about a request
type Intent interface {
	IsCodeRequest() bool
}

type intent struct {
	code bool
}

func (i intent) IsCodeRequest() bool { return i.code }

// NewIntent builds an Intent from an already-decided code flag
func NewIntent(isCode bool) Intent {
	return intent{code: isCode}
}

var codeKeywords = []string{"code", "function", "bug", "compile", "```"}

// ClassifyIntent marks a request as code-related when the client says so or
// the message mentions one of a few code keywords.
func ClassifyIntent(message string, codeFlag bool) Intent {
	if codeFlag {
		return intent{code: true}
	}
	lower := strings.ToLower(message)
	for _, kw := range codeKeywords {
		if strings.Contains(lower, kw) {
			return intent{code: true}
		}
	}
	return intent{}
}
