package handlers

import (
	"context"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/upb/llm-cascade/services"
	"github.com/upb/llm-cascade/services/cascade"
	"github.com/upb/llm-cascade/utils"
)

// HandleServiceError maps domain errors to HTTP responses.
// Cascade exhaustion is reported as a generic 503 so clients never see which
// backends failed.
func HandleServiceError(w http.ResponseWriter, err error, logger *zap.Logger) {
	if err == nil {
		return
	}

	switch {
	case errors.Is(err, cascade.ErrExhausted):
		err = services.WrapUnavailable(services.GetErrorMessage(services.ErrServiceOverloaded), err)
	case errors.Is(err, context.DeadlineExceeded):
		err = services.WrapUnavailable("request timed out", err)
	case errors.Is(err, context.Canceled):
		// The client is gone; nothing useful can be written.
		logger.Debug("request cancelled by client", zap.Error(err))
		return
	}

	message := services.GetErrorMessage(err)
	details := services.GetErrorDetails(err)

	var writeErr error
	switch {
	case services.IsNotFoundError(err):
		writeErr = utils.WriteNotFound(w, message)

	case services.IsValidationError(err):
		writeErr = utils.WriteBadRequest(w, message, details)

	case services.IsUnauthorizedError(err):
		writeErr = utils.WriteUnauthorized(w, message)

	case services.IsRateLimitError(err):
		writeErr = utils.WriteError(w, http.StatusTooManyRequests, message, details)

	case services.IsUnavailableError(err):
		logger.Warn("service unavailable", zap.Error(err))
		writeErr = utils.WriteServiceUnavailable(w, message)

	case services.IsInternalError(err):
		// Log internal errors but return generic message
		logger.Error("internal server error", zap.Error(err))
		writeErr = utils.WriteInternalServerError(w, "An internal error occurred")

	default:
		logger.Error("unhandled error type",
			zap.Error(err),
			zap.String("error_type", string(services.GetErrorType(err))))
		writeErr = utils.WriteInternalServerError(w, "An unexpected error occurred")
	}

	if writeErr != nil {
		logger.Error("failed to write error response", zap.Error(writeErr))
	}
}

// HandleValidationError handles validation errors from request parsing
func HandleValidationError(w http.ResponseWriter, err error, logger *zap.Logger) {
	if utils.IsValidationError(err) {
		details := utils.FieldsDetails(utils.GetValidationFields(err))
		if err := utils.WriteBadRequest(w, "Validation failed", details); err != nil {
			logger.Error("failed to write validation error response", zap.Error(err))
		}
		return
	}

	// Generic validation error
	if err := utils.WriteBadRequest(w, err.Error(), nil); err != nil {
		logger.Error("failed to write validation error response", zap.Error(err))
	}
}
