package handlers

import (
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/upb/omnichat-gateway/services"
	"github.com/upb/omnichat-gateway/utils"
)

// HandleServiceError maps domain errors to HTTP responses. Internal causes are
// logged and never echoed to the client.
func HandleServiceError(w http.ResponseWriter, err error, logger *zap.Logger) {
	if err == nil {
		return
	}

	var domainErr *services.DomainError
	if !errors.As(err, &domainErr) {
		logger.Error("unhandled error type", zap.Error(err))
		if err := utils.WriteInternalServerError(w, "An unexpected error occurred"); err != nil {
			logger.Error("failed to write internal error response", zap.Error(err))
		}
		return
	}

	resp := utils.ErrorResponse{
		Error: domainErr.Message,
		Code:  domainErr.Code,
	}
	if attempts, ok := domainErr.Details["attemptedProviders"]; ok {
		resp.AttemptedProviders = attempts
	}

	var status int
	switch domainErr.Type {
	case services.ErrorTypeNotFound:
		status = http.StatusNotFound
	case services.ErrorTypeValidation:
		status = http.StatusBadRequest
	case services.ErrorTypeUnauthorized:
		status = http.StatusUnauthorized
	case services.ErrorTypeRateLimit:
		status = http.StatusTooManyRequests
	case services.ErrorTypeUnavailable:
		status = http.StatusServiceUnavailable
	default:
		logger.Error("internal server error", zap.Error(err))
		status = http.StatusInternalServerError
		resp.Error = "An internal error occurred"
		if resp.Code == "" {
			resp.Code = "internal_error"
		}
	}

	if err := utils.WriteError(w, status, resp); err != nil {
		logger.Error("failed to write error response", zap.Error(err))
	}

	logger.Debug("handled service error",
		zap.String("type", string(domainErr.Type)),
		zap.String("code", domainErr.Code),
		zap.Int("status", status))
}

// HandleValidationError handles validation errors from request parsing
func HandleValidationError(w http.ResponseWriter, err error, logger *zap.Logger) {
	if utils.IsValidationError(err) {
		if err := utils.WriteBadRequest(w, "Validation failed", utils.GetValidationFields(err)); err != nil {
			logger.Error("failed to write validation error response", zap.Error(err))
		}
		return
	}

	if err := utils.WriteBadRequest(w, err.Error(), nil); err != nil {
		logger.Error("failed to write validation error response", zap.Error(err))
	}
}
