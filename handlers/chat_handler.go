package handlers

import (
	"context"
	"net/http"

	"go.uber.org/zap"

	"github.com/upb/omnichat-gateway/middleware"
	"github.com/upb/omnichat-gateway/services/orchestrator"
	"github.com/upb/omnichat-gateway/utils"
)

// ChatService defines the orchestration operations the chat routes need
type ChatService interface {
	// Chat answers one user turn through the provider chain
	Chat(ctx context.Context, req *orchestrator.ChatRequest) (*orchestrator.ChatResult, error)

	// Status reports every provider with usage and breaker state
	Status(ctx context.Context) (*orchestrator.Status, error)
}

// ChatHandler handles chat-related HTTP requests
type ChatHandler struct {
	service ChatService
	logger  *zap.Logger
}

// NewChatHandler creates a new ChatHandler
func NewChatHandler(service ChatService, logger *zap.Logger) *ChatHandler {
	return &ChatHandler{
		service: service,
		logger:  logger,
	}
}

// HandleChat handles POST /api/chat
func (h *ChatHandler) HandleChat(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := middleware.GetRequestIDFromContext(ctx)

	var req orchestrator.ChatRequest
	if err := utils.DecodeJSON(r, &req); err != nil {
		h.logger.Warn("failed to parse request body",
			zap.String("request_id", requestID),
			zap.Error(err))
		HandleValidationError(w, err, h.logger)
		return
	}

	if err := utils.ValidateStruct(&req); err != nil {
		h.logger.Warn("request validation failed",
			zap.String("request_id", requestID),
			zap.Error(err))
		HandleValidationError(w, err, h.logger)
		return
	}

	h.logger.Debug("processing chat request",
		zap.String("request_id", requestID),
		zap.String("session_id", req.SessionID),
		zap.String("client_context", middleware.GetClientContextFromContext(ctx)),
		zap.Int("history_len", len(req.Conversation)))

	result, err := h.service.Chat(ctx, &req)
	if err != nil {
		h.logger.Warn("chat request failed",
			zap.String("request_id", requestID),
			zap.Error(err))
		HandleServiceError(w, err, h.logger)
		return
	}

	if err := utils.WriteOK(w, result); err != nil {
		h.logger.Error("failed to write chat response",
			zap.String("request_id", requestID),
			zap.Error(err))
	}
}

// HandleProviders handles GET /api/providers
func (h *ChatHandler) HandleProviders(w http.ResponseWriter, r *http.Request) {
	status, err := h.service.Status(r.Context())
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}

	if err := utils.WriteOK(w, status); err != nil {
		h.logger.Error("failed to write providers response", zap.Error(err))
	}
}
