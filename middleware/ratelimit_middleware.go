package middleware

import (
	"net"
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"github.com/upb/llm-cascade/services/ratelimit"
	"github.com/upb/llm-cascade/utils"
)

// RateLimitChecker defines the interface for per-key rate limit checks
type RateLimitChecker interface {
	Enabled() bool
	CheckLimit(key string) ratelimit.RateLimitResult
}

// RateLimitMiddleware throttles requests per authenticated subject, falling
// back to the client address for anonymous requests
type RateLimitMiddleware struct {
	limiter RateLimitChecker
	logger  *zap.Logger
}

// NewRateLimitMiddleware creates a new RateLimitMiddleware
func NewRateLimitMiddleware(limiter RateLimitChecker, logger *zap.Logger) *RateLimitMiddleware {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RateLimitMiddleware{
		limiter: limiter,
		logger:  logger,
	}
}

// Limit rejects requests over the configured rate with 429
func (m *RateLimitMiddleware) Limit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if m.limiter == nil || !m.limiter.Enabled() {
			next.ServeHTTP(w, r)
			return
		}

		key := GetUserIDFromContext(r.Context())
		if key == "" {
			key = clientAddr(r)
		}

		result := m.limiter.CheckLimit(key)
		w.Header().Set("X-RateLimit-Limit", strconv.FormatFloat(result.Limit, 'f', -1, 64))
		w.Header().Set("X-RateLimit-Burst", strconv.Itoa(result.Burst))

		if !result.Allowed {
			m.logger.Warn("request blocked by rate limit",
				zap.String("request_id", GetRequestIDFromContext(r.Context())),
				zap.String("key", key),
				zap.Duration("retry_after", result.RetryAfter))
			_ = utils.WriteTooManyRequests(w, result.RetryAfter)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func clientAddr(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
