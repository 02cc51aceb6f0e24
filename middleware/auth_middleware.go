package middleware

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/upb/omnichat-gateway/services"
	"github.com/upb/omnichat-gateway/services/challenge"
	"github.com/upb/omnichat-gateway/utils"
)

// Signed request headers
const (
	HeaderChallenge     = "X-Challenge"
	HeaderTimestamp     = "X-Timestamp"
	HeaderSignature     = "X-Signature"
	HeaderClientContext = "X-Client-Context"
)

// ChallengeVerifier checks and burns a challenge
type ChallengeVerifier interface {
	VerifyAndConsume(ctx context.Context, req challenge.VerifyRequest) (*challenge.AuthResult, error)
}

// AuthMiddleware guards routes with the challenge/response signature
type AuthMiddleware struct {
	verifier ChallengeVerifier
	logger   *zap.Logger
}

// NewAuthMiddleware creates a new AuthMiddleware
func NewAuthMiddleware(verifier ChallengeVerifier, logger *zap.Logger) *AuthMiddleware {
	return &AuthMiddleware{
		verifier: verifier,
		logger:   logger,
	}
}

// RequireSignature rejects any request whose signature does not verify
// against a live, unused challenge. The body is read in full for signing and
// handed on unchanged.
func (m *AuthMiddleware) RequireSignature(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		requestID := GetRequestIDFromContext(ctx)

		token := strings.TrimSpace(r.Header.Get(HeaderChallenge))
		if token == "" {
			m.logger.Warn("missing challenge header",
				zap.String("request_id", requestID))
			_ = utils.WriteUnauthorized(w, services.CodeMissingChallenge, "Missing challenge")
			return
		}

		rawTimestamp := strings.TrimSpace(r.Header.Get(HeaderTimestamp))
		signature := strings.TrimSpace(r.Header.Get(HeaderSignature))
		if rawTimestamp == "" || signature == "" {
			m.logger.Warn("missing signature headers",
				zap.String("request_id", requestID),
				zap.Bool("has_timestamp", rawTimestamp != ""),
				zap.Bool("has_signature", signature != ""))
			_ = utils.WriteUnauthorized(w, services.CodeMissingHeaders, "X-Timestamp and X-Signature headers are required")
			return
		}

		timestamp, err := strconv.ParseInt(rawTimestamp, 10, 64)
		if err != nil {
			m.logger.Warn("malformed timestamp header",
				zap.String("request_id", requestID),
				zap.String("timestamp", rawTimestamp))
			_ = utils.WriteUnauthorized(w, services.CodeMissingHeaders, "X-Timestamp must be unix milliseconds")
			return
		}

		body, err := readBody(w, r)
		if err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				_ = utils.WriteError(w, http.StatusRequestEntityTooLarge, utils.ErrorResponse{
					Error: "Request body too large",
					Code:  services.CodeInvalidRequest,
				})
				return
			}
			_ = utils.WriteBadRequest(w, "Failed to read request body", nil)
			return
		}

		clientContext := r.Header.Get(HeaderClientContext)
		payload := challenge.CanonicalPayload(token, timestamp, clientContext, r.UserAgent(), body)

		res, err := m.verifier.VerifyAndConsume(ctx, challenge.VerifyRequest{
			Token:     token,
			Timestamp: timestamp,
			Signature: signature,
			Payload:   payload,
		})
		if err != nil {
			if services.IsUnauthorizedError(err) {
				m.logger.Warn("signature verification failed",
					zap.String("request_id", requestID),
					zap.String("code", services.GetErrorCode(err)))
				_ = utils.WriteUnauthorized(w, services.GetErrorCode(err), authMessage(err))
				return
			}
			m.logger.Error("challenge verification unavailable",
				zap.String("request_id", requestID),
				zap.Error(err))
			_ = utils.WriteError(w, http.StatusInternalServerError, utils.ErrorResponse{
				Error: "Authentication temporarily unavailable",
				Code:  services.GetErrorCode(err),
			})
			return
		}

		ctx = WithAuthResult(ctx, res)
		ctx = WithClientContext(ctx, clientContext)

		m.logger.Debug("signature verified",
			zap.String("request_id", requestID))

		r.Body = io.NopCloser(bytes.NewReader(body))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// readBody drains the request body, bounded by utils.MaxBodyBytes
func readBody(w http.ResponseWriter, r *http.Request) ([]byte, error) {
	if r.Body == nil {
		return nil, nil
	}
	defer r.Body.Close()
	return io.ReadAll(http.MaxBytesReader(w, r.Body, utils.MaxBodyBytes))
}

// authMessage returns the client-facing text of an auth failure
func authMessage(err error) string {
	var domainErr *services.DomainError
	if errors.As(err, &domainErr) && domainErr.Message != "" {
		return domainErr.Message
	}
	return "Unauthorized"
}
