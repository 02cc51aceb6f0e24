package middleware

import (
	"context"

	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/upb/omnichat-gateway/services/challenge"
)

// Context key type to avoid collisions
type contextKey string

const (
	// AuthResultKey is the context key for the verified challenge
	AuthResultKey contextKey = "auth_result"

	// ClientContextKey is the context key for the caller's X-Client-Context value
	ClientContextKey contextKey = "client_context"
)

// GetRequestIDFromContext retrieves the request ID set by chi's RequestID middleware
func GetRequestIDFromContext(ctx context.Context) string {
	return chimw.GetReqID(ctx)
}

// GetAuthResultFromContext retrieves the verified challenge from context
func GetAuthResultFromContext(ctx context.Context) *challenge.AuthResult {
	if val := ctx.Value(AuthResultKey); val != nil {
		if res, ok := val.(*challenge.AuthResult); ok {
			return res
		}
	}
	return nil
}

// WithAuthResult adds the verified challenge to the context
func WithAuthResult(ctx context.Context, res *challenge.AuthResult) context.Context {
	return context.WithValue(ctx, AuthResultKey, res)
}

// GetClientContextFromContext retrieves the signed client context string
func GetClientContextFromContext(ctx context.Context) string {
	if val, ok := ctx.Value(ClientContextKey).(string); ok {
		return val
	}
	return ""
}

// WithClientContext adds the signed client context string to the context
func WithClientContext(ctx context.Context, clientContext string) context.Context {
	return context.WithValue(ctx, ClientContextKey, clientContext)
}
