package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"go.uber.org/zap"
)

// MockTokenValidator is a mock implementation of TokenValidator
type MockTokenValidator struct {
	mock.Mock
}

func (m *MockTokenValidator) ValidateToken(ctx context.Context, token string) (*Claims, error) {
	args := m.Called(ctx, token)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*Claims), args.Error(1)
}

func okHandler(t *testing.T, check func(r *http.Request)) http.Handler {
	t.Helper()
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if check != nil {
			check(r)
		}
		w.WriteHeader(http.StatusOK)
	})
}

func TestRequireAuth(t *testing.T) {
	logger := zap.NewNop()

	t.Run("valid bearer token allows request", func(t *testing.T) {
		mockValidator := new(MockTokenValidator)
		m := NewAuthMiddleware(mockValidator, logger)

		claims := &Claims{Sub: "user-123", Roles: []string{"admin"}}
		mockValidator.On("ValidateToken", mock.Anything, "valid-token").Return(claims, nil)

		handler := m.RequireAuth(okHandler(t, func(r *http.Request) {
			extracted := GetClaimsFromContext(r.Context())
			assert.NotNil(t, extracted)
			assert.Equal(t, "user-123", extracted.Sub)
			assert.Equal(t, "user-123", GetUserIDFromContext(r.Context()))
		}))

		req := httptest.NewRequest(http.MethodGet, "/test", nil)
		req.Header.Set("Authorization", "Bearer valid-token")
		w := httptest.NewRecorder()

		handler.ServeHTTP(w, req)

		assert.Equal(t, http.StatusOK, w.Code)
		mockValidator.AssertExpectations(t)
	})

	t.Run("missing token returns 401", func(t *testing.T) {
		mockValidator := new(MockTokenValidator)
		m := NewAuthMiddleware(mockValidator, logger)

		req := httptest.NewRequest(http.MethodGet, "/test", nil)
		w := httptest.NewRecorder()

		m.RequireAuth(okHandler(t, nil)).ServeHTTP(w, req)

		assert.Equal(t, http.StatusUnauthorized, w.Code)
		mockValidator.AssertNotCalled(t, "ValidateToken", mock.Anything, mock.Anything)
	})

	t.Run("non-bearer scheme returns 401", func(t *testing.T) {
		mockValidator := new(MockTokenValidator)
		m := NewAuthMiddleware(mockValidator, logger)

		req := httptest.NewRequest(http.MethodGet, "/test", nil)
		req.Header.Set("Authorization", "Basic dXNlcjpwYXNz")
		w := httptest.NewRecorder()

		m.RequireAuth(okHandler(t, nil)).ServeHTTP(w, req)

		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})

	t.Run("invalid token returns 401", func(t *testing.T) {
		mockValidator := new(MockTokenValidator)
		m := NewAuthMiddleware(mockValidator, logger)
		mockValidator.On("ValidateToken", mock.Anything, "bad").Return(nil, errors.New("invalid token"))

		req := httptest.NewRequest(http.MethodGet, "/test", nil)
		req.Header.Set("Authorization", "bearer bad")
		w := httptest.NewRecorder()

		m.RequireAuth(okHandler(t, nil)).ServeHTTP(w, req)

		assert.Equal(t, http.StatusUnauthorized, w.Code)
		mockValidator.AssertExpectations(t)
	})

	t.Run("nil validator disables auth", func(t *testing.T) {
		m := NewAuthMiddleware(nil, logger)
		assert.False(t, m.Enabled())

		req := httptest.NewRequest(http.MethodGet, "/test", nil)
		w := httptest.NewRecorder()

		m.RequireAuth(okHandler(t, func(r *http.Request) {
			assert.Nil(t, GetClaimsFromContext(r.Context()))
		})).ServeHTTP(w, req)

		assert.Equal(t, http.StatusOK, w.Code)
	})
}

func TestRequireRole(t *testing.T) {
	logger := zap.NewNop()
	m := NewAuthMiddleware(new(MockTokenValidator), logger)

	tests := []struct {
		name   string
		claims *Claims
		want   int
	}{
		{"has role", &Claims{Sub: "u", Roles: []string{"user", "admin"}}, http.StatusOK},
		{"missing role", &Claims{Sub: "u", Roles: []string{"user"}}, http.StatusForbidden},
		{"no claims", nil, http.StatusUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/admin", nil)
			if tt.claims != nil {
				req = req.WithContext(WithClaims(req.Context(), tt.claims))
			}
			w := httptest.NewRecorder()

			m.RequireRole("admin")(okHandler(t, nil)).ServeHTTP(w, req)

			assert.Equal(t, tt.want, w.Code)
		})
	}

	t.Run("disabled auth skips role check", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/admin", nil)
		w := httptest.NewRecorder()

		NewAuthMiddleware(nil, logger).RequireRole("admin")(okHandler(t, nil)).ServeHTTP(w, req)

		assert.Equal(t, http.StatusOK, w.Code)
	})
}

func TestExtractBearerToken(t *testing.T) {
	tests := []struct {
		header string
		want   string
	}{
		{"Bearer abc", "abc"},
		{"BEARER  abc ", "abc"},
		{"Token abc", ""},
		{"Bearer", ""},
		{"", ""},
	}

	for _, tt := range tests {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		if tt.header != "" {
			req.Header.Set("Authorization", tt.header)
		}
		assert.Equal(t, tt.want, extractBearerToken(req), "header %q", tt.header)
	}
}
