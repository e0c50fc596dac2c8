package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/upb/llm-cascade/services"
	"github.com/upb/llm-cascade/services/candidates"
	"github.com/upb/llm-cascade/services/cascade"
	"github.com/upb/llm-cascade/utils"
)

func TestHandleServiceError(t *testing.T) {
	logger := zap.NewNop()

	exhausted := &cascade.ExhaustedError{Tier: candidates.T2}

	tests := []struct {
		name            string
		err             error
		expectedStatus  int
		expectedError   string
		expectedMessage string
	}{
		{
			name:           "not found error",
			err:            services.NewDomainError(services.ErrorTypeNotFound, "tier has no candidates", nil),
			expectedStatus: http.StatusNotFound,
			expectedError:  "not_found",
		},
		{
			name:            "validation error",
			err:             services.ErrEmptyPrompt,
			expectedStatus:  http.StatusBadRequest,
			expectedError:   "bad_request",
			expectedMessage: "prompt cannot be empty",
		},
		{
			name:           "unauthorized error",
			err:            services.ErrUnauthorized,
			expectedStatus: http.StatusUnauthorized,
			expectedError:  "unauthorized",
		},
		{
			name:           "rate limit error",
			err:            services.ErrRateLimitExceeded,
			expectedStatus: http.StatusTooManyRequests,
			expectedError:  "rate_limit_exceeded",
		},
		{
			name:            "cascade exhausted",
			err:             fmt.Errorf("route: %w", exhausted),
			expectedStatus:  http.StatusServiceUnavailable,
			expectedError:   "service_unavailable",
			expectedMessage: "service overloaded",
		},
		{
			name:            "deadline exceeded",
			err:             context.DeadlineExceeded,
			expectedStatus:  http.StatusServiceUnavailable,
			expectedError:   "service_unavailable",
			expectedMessage: "request timed out",
		},
		{
			name:           "internal error",
			err:            services.ErrInternal,
			expectedStatus: http.StatusInternalServerError,
			expectedError:  "internal_error",
		},
		{
			name:           "unknown error",
			err:            errors.New("some unknown error"),
			expectedStatus: http.StatusInternalServerError,
			expectedError:  "internal_error",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			HandleServiceError(w, tt.err, logger)

			assert.Equal(t, tt.expectedStatus, w.Code)

			var response utils.ErrorResponse
			err := json.NewDecoder(w.Body).Decode(&response)
			require.NoError(t, err)

			assert.Equal(t, tt.expectedError, response.Error)
			assert.NotEmpty(t, response.Message)
			if tt.expectedMessage != "" {
				assert.Equal(t, tt.expectedMessage, response.Message)
			}
		})
	}
}

func TestHandleServiceError_ExhaustionHidesBackends(t *testing.T) {
	err := &cascade.ExhaustedError{Tier: candidates.T1, Attempts: []cascade.Attempt{{}}}

	w := httptest.NewRecorder()
	HandleServiceError(w, err, zap.NewNop())

	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.NotContains(t, w.Body.String(), "T1")
	assert.NotContains(t, w.Body.String(), "attempt")
}

func TestHandleServiceErrorWithDetails(t *testing.T) {
	logger := zap.NewNop()

	err := services.NewDomainError(services.ErrorTypeRateLimit, "rate limit exceeded", nil).
		WithDetail("limit", 100).
		WithDetail("window", "minute")

	w := httptest.NewRecorder()
	HandleServiceError(w, err, logger)

	assert.Equal(t, http.StatusTooManyRequests, w.Code)

	var response utils.ErrorResponse
	err2 := json.NewDecoder(w.Body).Decode(&response)
	require.NoError(t, err2)

	assert.Equal(t, "rate_limit_exceeded", response.Error)
	assert.NotNil(t, response.Details)
	assert.Equal(t, float64(100), response.Details["limit"])
	assert.Equal(t, "minute", response.Details["window"])
}

func TestHandleServiceErrorNil(t *testing.T) {
	logger := zap.NewNop()
	w := httptest.NewRecorder()

	HandleServiceError(w, nil, logger)

	// Should not write anything
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, w.Body.String())
}

func TestHandleServiceErrorCancelled(t *testing.T) {
	w := httptest.NewRecorder()

	HandleServiceError(w, fmt.Errorf("invoke: %w", context.Canceled), zap.NewNop())

	assert.Empty(t, w.Body.String())
}

func TestHandleValidationError(t *testing.T) {
	logger := zap.NewNop()

	t.Run("custom validation error", func(t *testing.T) {
		fields := map[string]string{
			"user_id": "user_id is required",
			"tier":    "tier must be a valid tier",
		}
		err := &utils.ValidationError{
			Message: "Validation failed",
			Fields:  fields,
		}

		w := httptest.NewRecorder()
		HandleValidationError(w, err, logger)

		assert.Equal(t, http.StatusBadRequest, w.Code)

		var response utils.ErrorResponse
		err2 := json.NewDecoder(w.Body).Decode(&response)
		require.NoError(t, err2)

		assert.Equal(t, "bad_request", response.Error)
		assert.Equal(t, "Validation failed", response.Message)
		assert.NotNil(t, response.Details)
		assert.Equal(t, "user_id is required", response.Details["user_id"])
		assert.Equal(t, "tier must be a valid tier", response.Details["tier"])
	})

	t.Run("generic error", func(t *testing.T) {
		err := errors.New("generic validation error")

		w := httptest.NewRecorder()
		HandleValidationError(w, err, logger)

		assert.Equal(t, http.StatusBadRequest, w.Code)

		var response utils.ErrorResponse
		err2 := json.NewDecoder(w.Body).Decode(&response)
		require.NoError(t, err2)

		assert.Equal(t, "bad_request", response.Error)
		assert.Equal(t, "generic validation error", response.Message)
	})
}
