package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/upb/llm-cascade/middleware"
	"github.com/upb/llm-cascade/services"
	"github.com/upb/llm-cascade/services/candidates"
	"github.com/upb/llm-cascade/services/discovery"
	"github.com/upb/llm-cascade/services/ranker"
	"github.com/upb/llm-cascade/utils"
)

// CandidateSource serves the current candidate table
type CandidateSource interface {
	CandidatesFor(tier candidates.Tier) []candidates.Candidate
	Version() uint64
}

// EngineChecker reports whether an engine has a provider
type EngineChecker interface {
	Has(engine string) bool
}

// RankStats exposes the ranker's view of a tier
type RankStats interface {
	Stats(tier candidates.Tier, cands []candidates.Candidate) []ranker.Scored
}

// Refresher rebuilds the candidate table
type Refresher interface {
	Refresh(ctx context.Context) (discovery.Report, error)
}

// CandidateView is one candidate as listed by the API
type CandidateView struct {
	Engine    string `json:"engine"`
	ModelID   string `json:"model_id"`
	Role      string `json:"role"`
	Available bool   `json:"available"`
}

// CandidatesResponse lists a tier's candidates in registry order
type CandidatesResponse struct {
	Tier       string          `json:"tier"`
	Version    uint64          `json:"version"`
	Candidates []CandidateView `json:"candidates"`
}

// RankedView is one candidate with its score
type RankedView struct {
	Engine      string  `json:"engine"`
	ModelID     string  `json:"model_id"`
	Role        string  `json:"role"`
	Score       float64 `json:"score"`
	SuccessRate float64 `json:"success_rate"`
	LatencyMs   float64 `json:"latency_ms"`
	Quality     float64 `json:"quality"`
	Samples     int64   `json:"samples"`
}

// RankingResponse lists a tier's available candidates in rank order
type RankingResponse struct {
	Tier   string       `json:"tier"`
	Ranked []RankedView `json:"ranked"`
}

// RefreshResponse wraps a discovery report
type RefreshResponse struct {
	Report     discovery.Report `json:"report"`
	DurationMs int64            `json:"duration_ms"`
}

// CandidatesHandler exposes the candidate table, the ranking and discovery
type CandidatesHandler struct {
	source    CandidateSource
	engines   EngineChecker
	stats     RankStats
	refresher Refresher
	timeout   time.Duration
	logger    *zap.Logger
}

// NewCandidatesHandler creates a new CandidatesHandler. A nil refresher
// makes the refresh endpoint answer 503.
func NewCandidatesHandler(
	source CandidateSource,
	engines EngineChecker,
	stats RankStats,
	refresher Refresher,
	refreshTimeout time.Duration,
	logger *zap.Logger,
) *CandidatesHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	if refreshTimeout <= 0 {
		refreshTimeout = 2 * time.Minute
	}
	return &CandidatesHandler{
		source:    source,
		engines:   engines,
		stats:     stats,
		refresher: refresher,
		timeout:   refreshTimeout,
		logger:    logger,
	}
}

// HandleList handles GET /api/v1/candidates/{tier}
func (h *CandidatesHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	tier, ok := h.tierParam(w, r)
	if !ok {
		return
	}

	cands := h.source.CandidatesFor(tier)
	views := make([]CandidateView, 0, len(cands))
	for _, c := range cands {
		views = append(views, CandidateView{
			Engine:    c.Engine,
			ModelID:   c.ModelID,
			Role:      c.Role,
			Available: h.engines.Has(c.Engine),
		})
	}

	if err := utils.WriteOK(w, CandidatesResponse{
		Tier:       tier.String(),
		Version:    h.source.Version(),
		Candidates: views,
	}); err != nil {
		h.logger.Error("failed to write response", zap.Error(err))
	}
}

// HandleRanking handles GET /api/v1/ranker/{tier}
func (h *CandidatesHandler) HandleRanking(w http.ResponseWriter, r *http.Request) {
	tier, ok := h.tierParam(w, r)
	if !ok {
		return
	}

	var available []candidates.Candidate
	for _, c := range h.source.CandidatesFor(tier) {
		if h.engines.Has(c.Engine) {
			available = append(available, c)
		}
	}

	scored := h.stats.Stats(tier, available)
	views := make([]RankedView, 0, len(scored))
	for _, s := range scored {
		views = append(views, RankedView{
			Engine:      s.Candidate.Engine,
			ModelID:     s.Candidate.ModelID,
			Role:        s.Candidate.Role,
			Score:       s.Score,
			SuccessRate: s.Record.SuccessRate,
			LatencyMs:   s.Record.LatencyMs,
			Quality:     s.Record.Quality,
			Samples:     s.Record.Samples,
		})
	}

	if err := utils.WriteOK(w, RankingResponse{Tier: tier.String(), Ranked: views}); err != nil {
		h.logger.Error("failed to write response", zap.Error(err))
	}
}

// HandleRefresh handles POST /api/v1/candidates/refresh
func (h *CandidatesHandler) HandleRefresh(w http.ResponseWriter, r *http.Request) {
	if h.refresher == nil {
		_ = utils.WriteServiceUnavailable(w, "discovery is disabled")
		return
	}

	// Discovery outlives a slow client; only the server timeout bounds it.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(r.Context()), h.timeout)
	defer cancel()

	start := time.Now()
	report, err := h.refresher.Refresh(ctx)
	if err != nil {
		h.logger.Error("candidate refresh failed",
			zap.String("request_id", middleware.GetRequestIDFromContext(r.Context())),
			zap.Error(err))
		HandleServiceError(w, services.WrapUnavailable("candidate refresh failed", err), h.logger)
		return
	}

	h.logger.Info("candidate refresh requested",
		zap.String("user_id", middleware.GetUserIDFromContext(r.Context())),
		zap.Uint64("version", report.Version),
		zap.Int("candidates", report.Candidates),
		zap.Bool("kept", report.Kept))

	if err := utils.WriteOK(w, RefreshResponse{
		Report:     report,
		DurationMs: time.Since(start).Milliseconds(),
	}); err != nil {
		h.logger.Error("failed to write response", zap.Error(err))
	}
}

func (h *CandidatesHandler) tierParam(w http.ResponseWriter, r *http.Request) (candidates.Tier, bool) {
	raw := chi.URLParam(r, "tier")
	tier, err := candidates.ParseTier(raw)
	if err != nil {
		invalid := services.NewDomainError(services.ErrorTypeValidation, services.ErrInvalidTier.Message, err).
			WithDetail("tier", raw)
		HandleServiceError(w, invalid, h.logger)
		return 0, false
	}
	return tier, true
}

// RefreshFunc adapts a function to Refresher
type RefreshFunc func(ctx context.Context) (discovery.Report, error)

// Refresh calls f(ctx)
func (f RefreshFunc) Refresh(ctx context.Context) (discovery.Report, error) {
	return f(ctx)
}
