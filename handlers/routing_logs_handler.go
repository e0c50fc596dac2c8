package handlers

import (
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/upb/llm-cascade/auth"
	"github.com/upb/llm-cascade/middleware"
	"github.com/upb/llm-cascade/models"
	"github.com/upb/llm-cascade/repositories"
	"github.com/upb/llm-cascade/services"
	"github.com/upb/llm-cascade/utils"
)

const (
	defaultLogLimit = 50
	maxLogLimit     = 500
	defaultStatsAge = 24 * time.Hour
)

// RoutingLogsResponse lists routing log entries, newest first
type RoutingLogsResponse struct {
	UserID string               `json:"user_id"`
	Logs   []*models.RoutingLog `json:"logs"`
}

// RoutingStatsResponse counts routed requests per status
type RoutingStatsResponse struct {
	Since  time.Time                      `json:"since"`
	Counts map[models.RoutingStatus]int64 `json:"counts"`
	Total  int64                          `json:"total"`
}

// RoutingLogsHandler serves the persisted routing history
type RoutingLogsHandler struct {
	repo   repositories.RoutingLogRepository
	logger *zap.Logger
}

// NewRoutingLogsHandler creates a new RoutingLogsHandler. A nil repo means
// persistence is disabled and every endpoint answers 503.
func NewRoutingLogsHandler(repo repositories.RoutingLogRepository, logger *zap.Logger) *RoutingLogsHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RoutingLogsHandler{
		repo:   repo,
		logger: logger,
	}
}

// HandleList handles GET /api/v1/routing/logs?user_id=&limit=
// Callers without the admin role only see their own entries.
func (h *RoutingLogsHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	if h.repo == nil {
		_ = utils.WriteServiceUnavailable(w, "routing history is not persisted")
		return
	}

	ctx := r.Context()
	query := r.URL.Query()
	userID := query.Get("user_id")

	if claims := middleware.GetClaimsFromContext(ctx); claims != nil && !claims.HasRole(auth.RoleAdmin) {
		if userID != "" && userID != claims.Sub {
			_ = utils.WriteError(w, http.StatusForbidden, "cannot read another user's history", nil)
			return
		}
		userID = claims.Sub
	}
	if userID == "" {
		HandleServiceError(w, services.ErrMissingUserID, h.logger)
		return
	}

	limit := defaultLogLimit
	if raw := query.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			_ = utils.WriteBadRequest(w, "limit must be a positive integer", nil)
			return
		}
		limit = min(n, maxLogLimit)
	}

	logs, err := h.repo.ListByUser(ctx, userID, limit)
	if err != nil {
		HandleServiceError(w, services.WrapInternal("failed to list routing logs", err), h.logger)
		return
	}
	if logs == nil {
		logs = []*models.RoutingLog{}
	}

	if err := utils.WriteOK(w, RoutingLogsResponse{UserID: userID, Logs: logs}); err != nil {
		h.logger.Error("failed to write response", zap.Error(err))
	}
}

// HandleStats handles GET /api/v1/routing/stats?since=
// since is an RFC 3339 time or a duration back from now ("6h").
func (h *RoutingLogsHandler) HandleStats(w http.ResponseWriter, r *http.Request) {
	if h.repo == nil {
		_ = utils.WriteServiceUnavailable(w, "routing history is not persisted")
		return
	}

	since, err := parseSince(r.URL.Query().Get("since"), time.Now())
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}

	counts, err := h.repo.CountByStatus(r.Context(), since)
	if err != nil {
		HandleServiceError(w, services.WrapInternal("failed to count routing logs", err), h.logger)
		return
	}

	var total int64
	for _, n := range counts {
		total += n
	}

	if err := utils.WriteOK(w, RoutingStatsResponse{Since: since, Counts: counts, Total: total}); err != nil {
		h.logger.Error("failed to write response", zap.Error(err))
	}
}

func parseSince(raw string, now time.Time) (time.Time, error) {
	if raw == "" {
		return now.Add(-defaultStatsAge), nil
	}
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil || d <= 0 {
		return time.Time{}, services.NewDomainError(services.ErrorTypeValidation,
			"since must be an RFC 3339 time or a positive duration", err)
	}
	return now.Add(-d), nil
}
