package ratelimit

import (
	"context"
	"math"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Config holds per-user token bucket settings
type Config struct {
	// RequestsPerSecond is the sustained rate per user. Zero or less disables limiting.
	RequestsPerSecond float64

	// Burst is how many requests a user may send at once
	Burst int

	// IdleTTL is how long an unused limiter is kept
	IdleTTL time.Duration
}

// DefaultConfig returns the default configuration
func DefaultConfig() Config {
	return Config{
		RequestsPerSecond: 2,
		Burst:             10,
		IdleTTL:           30 * time.Minute,
	}
}

// RateLimitResult represents the result of a rate limit check
type RateLimitResult struct {
	Allowed    bool
	RetryAfter time.Duration
	Limit      float64
	Burst      int
}

type userLimiter struct {
	limiter    *rate.Limiter
	lastAccess time.Time
}

// RateLimitService keeps one in-memory token bucket per user
type RateLimitService struct {
	config Config
	logger *zap.Logger
	now    func() time.Time

	mu       sync.RWMutex
	limiters map[string]*userLimiter
}

// NewRateLimitService creates a new RateLimitService instance
func NewRateLimitService(config Config, logger *zap.Logger) *RateLimitService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if config.Burst <= 0 {
		config.Burst = int(math.Max(1, math.Ceil(config.RequestsPerSecond)))
	}
	if config.IdleTTL <= 0 {
		config.IdleTTL = DefaultConfig().IdleTTL
	}
	return &RateLimitService{
		config:   config,
		logger:   logger,
		now:      time.Now,
		limiters: make(map[string]*userLimiter),
	}
}

// Enabled reports whether requests are limited at all
func (s *RateLimitService) Enabled() bool {
	return s.config.RequestsPerSecond > 0
}

// CheckLimit consumes one token for userID
func (s *RateLimitService) CheckLimit(userID string) RateLimitResult {
	result := RateLimitResult{
		Allowed: true,
		Limit:   s.config.RequestsPerSecond,
		Burst:   s.config.Burst,
	}
	if !s.Enabled() {
		return result
	}

	now := s.now()
	r := s.getUserLimiter(userID, now).ReserveN(now, 1)
	if delay := r.DelayFrom(now); delay > 0 {
		r.CancelAt(now)
		result.Allowed = false
		result.RetryAfter = delay

		s.logger.Debug("rate limit exceeded",
			zap.String("user_id", userID),
			zap.Duration("retry_after", delay))
	}
	return result
}

// getUserLimiter returns the limiter for userID, creating one if needed
func (s *RateLimitService) getUserLimiter(userID string, now time.Time) *rate.Limiter {
	// Lookup and touch happen under one lock so Cleanup cannot drop the entry
	// in between.
	s.mu.Lock()
	defer s.mu.Unlock()

	if ul, ok := s.limiters[userID]; ok {
		ul.lastAccess = now
		return ul.limiter
	}
	ul := &userLimiter{
		limiter:    rate.NewLimiter(rate.Limit(s.config.RequestsPerSecond), s.config.Burst),
		lastAccess: now,
	}
	s.limiters[userID] = ul
	return ul.limiter
}

// Cleanup drops limiters idle for longer than IdleTTL and returns how many were removed
func (s *RateLimitService) Cleanup() int {
	cutoff := s.now().Add(-s.config.IdleTTL)

	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for userID, ul := range s.limiters {
		if ul.lastAccess.Before(cutoff) {
			delete(s.limiters, userID)
			removed++
		}
	}
	return removed
}

// Len returns the number of tracked users
func (s *RateLimitService) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.limiters)
}

// StartCleanupWorker periodically drops idle limiters until ctx is done
func (s *RateLimitService) StartCleanupWorker(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	s.logger.Info("started rate limit cleanup worker",
		zap.Duration("interval", interval),
		zap.Duration("idle_ttl", s.config.IdleTTL))

	for {
		select {
		case <-ticker.C:
			if removed := s.Cleanup(); removed > 0 {
				s.logger.Debug("removed idle rate limiters", zap.Int("removed", removed))
			}
		case <-ctx.Done():
			s.logger.Info("stopping rate limit cleanup worker")
			return
		}
	}
}
