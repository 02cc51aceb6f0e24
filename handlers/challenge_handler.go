package handlers

import (
	"context"
	"net/http"

	"go.uber.org/zap"

	"github.com/upb/omnichat-gateway/middleware"
	"github.com/upb/omnichat-gateway/services/challenge"
	"github.com/upb/omnichat-gateway/utils"
)

// ChallengeIssuer hands out fresh challenges
type ChallengeIssuer interface {
	IssueChallenge(ctx context.Context) (*challenge.Challenge, error)
}

// ChallengeResponse is returned by GET /challenge
type ChallengeResponse struct {
	Challenge string `json:"challenge"`
	Timestamp int64  `json:"timestamp"`
	ExpiresIn int    `json:"expires_in"`
}

// ChallengeHandler serves the public challenge endpoint
type ChallengeHandler struct {
	issuer ChallengeIssuer
	logger *zap.Logger
}

// NewChallengeHandler creates a new ChallengeHandler
func NewChallengeHandler(issuer ChallengeIssuer, logger *zap.Logger) *ChallengeHandler {
	return &ChallengeHandler{
		issuer: issuer,
		logger: logger,
	}
}

// HandleIssue handles GET /challenge
func (h *ChallengeHandler) HandleIssue(w http.ResponseWriter, r *http.Request) {
	ch, err := h.issuer.IssueChallenge(r.Context())
	if err != nil {
		h.logger.Error("failed to issue challenge",
			zap.String("request_id", middleware.GetRequestIDFromContext(r.Context())),
			zap.Error(err))
		HandleServiceError(w, err, h.logger)
		return
	}

	w.Header().Set("Cache-Control", "no-store")
	_ = utils.WriteOK(w, ChallengeResponse{
		Challenge: ch.Token,
		Timestamp: ch.IssuedAt.UnixMilli(),
		ExpiresIn: ch.TTLSeconds(),
	})
}
