package handlers

import (
	"context"
	"database/sql"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/upb/llm-cascade/services/audit"
	"github.com/upb/llm-cascade/services/candidates"
	"github.com/upb/llm-cascade/services/discovery"
	"github.com/upb/llm-cascade/utils"
)

// HealthResponse represents the health check response
type HealthResponse struct {
	Status    string            `json:"status"`
	Timestamp string            `json:"timestamp"`
	Checks    map[string]string `json:"checks,omitempty"`
}

// StatusResponse describes what the router is currently serving
type StatusResponse struct {
	Environment    string         `json:"environment"`
	Uptime         string         `json:"uptime"`
	Engines        []string       `json:"engines"`
	TableVersion   uint64         `json:"table_version"`
	CandidatesTier map[string]int `json:"candidates_per_tier"`
	RankerUpdates  uint64         `json:"ranker_updates"`
	Discovery      *DiscoveryInfo `json:"discovery,omitempty"`
	Audit          *audit.Stats   `json:"audit,omitempty"`
}

// DiscoveryInfo is the outcome of the most recent discovery run
type DiscoveryInfo struct {
	Runs      int              `json:"runs"`
	LastError string           `json:"last_error,omitempty"`
	Last      discovery.Report `json:"last"`
}

// EngineLister lists the engines with a provider
type EngineLister interface {
	Engines() []string
}

// TableSource serves the current candidate table
type TableSource interface {
	Snapshot() *candidates.Table
	Version() uint64
}

// DiscoveryStatus reports the last discovery run
type DiscoveryStatus interface {
	Last() (discovery.Report, int, error)
}

// AuditStats reports the routing log writer's counters
type AuditStats interface {
	GetStats() audit.Stats
}

// UpdateCounter reports how many outcomes the ranker has folded in
type UpdateCounter interface {
	Updates() uint64
}

// HealthDeps are the components health and status inspect. DB, Discovery
// and Audit are nil when the feature is disabled.
type HealthDeps struct {
	DB          *sql.DB
	Engines     EngineLister
	Candidates  TableSource
	Ranker      UpdateCounter
	Discovery   DiscoveryStatus
	Audit       AuditStats
	Environment string
}

// HealthHandler handles health-related HTTP requests
type HealthHandler struct {
	deps    HealthDeps
	started time.Time
	logger  *zap.Logger
}

// NewHealthHandler creates a new HealthHandler
func NewHealthHandler(deps HealthDeps, logger *zap.Logger) *HealthHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HealthHandler{
		deps:    deps,
		started: time.Now(),
		logger:  logger,
	}
}

// HandleHealth handles GET /healthz
// Basic health check - always returns 200 if service is running
func (h *HealthHandler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	response := HealthResponse{
		Status:    "healthy",
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}

	_ = utils.WriteOK(w, response)
}

// HandleReadiness handles GET /readyz
// Ready means the database answers (when configured), at least one engine
// has a provider and the candidate table is not empty.
func (h *HealthHandler) HandleReadiness(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	checks := make(map[string]string)
	allHealthy := true

	switch {
	case h.deps.DB == nil:
		checks["database"] = "disabled"
	case h.checkDatabase(ctx) != nil:
		checks["database"] = "unhealthy"
		allHealthy = false
	default:
		checks["database"] = "healthy"
	}

	if h.deps.Engines == nil || len(h.deps.Engines.Engines()) == 0 {
		checks["providers"] = "none_configured"
		allHealthy = false
	} else {
		checks["providers"] = "healthy"
	}

	if h.deps.Candidates == nil || h.deps.Candidates.Snapshot().Len() == 0 {
		checks["candidates"] = "empty"
		allHealthy = false
	} else {
		checks["candidates"] = "healthy"
	}

	// Determine overall status
	status := "healthy"
	httpStatus := http.StatusOK
	if !allHealthy {
		status = "unhealthy"
		httpStatus = http.StatusServiceUnavailable
	}

	response := HealthResponse{
		Status:    status,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Checks:    checks,
	}

	if err := utils.WriteJSON(w, httpStatus, utils.SuccessResponse{Data: response}); err != nil {
		h.logger.Error("failed to write readiness response", zap.Error(err))
	}
}

// HandleStatus handles GET /api/v1/status
func (h *HealthHandler) HandleStatus(w http.ResponseWriter, r *http.Request) {
	resp := StatusResponse{
		Environment:    h.deps.Environment,
		Uptime:         time.Since(h.started).Round(time.Second).String(),
		Engines:        []string{},
		CandidatesTier: make(map[string]int, len(candidates.AllTiers)),
	}

	if h.deps.Engines != nil {
		resp.Engines = h.deps.Engines.Engines()
	}
	if h.deps.Candidates != nil {
		resp.TableVersion = h.deps.Candidates.Version()
		table := h.deps.Candidates.Snapshot()
		for _, tier := range candidates.AllTiers {
			resp.CandidatesTier[tier.String()] = len(table.CandidatesFor(tier))
		}
	}
	if h.deps.Ranker != nil {
		resp.RankerUpdates = h.deps.Ranker.Updates()
	}
	if h.deps.Discovery != nil {
		report, runs, err := h.deps.Discovery.Last()
		info := &DiscoveryInfo{Runs: runs, Last: report}
		if err != nil {
			info.LastError = err.Error()
		}
		resp.Discovery = info
	}
	if h.deps.Audit != nil {
		stats := h.deps.Audit.GetStats()
		resp.Audit = &stats
	}

	if err := utils.WriteOK(w, resp); err != nil {
		h.logger.Error("failed to write status response", zap.Error(err))
	}
}

// checkDatabase checks database connectivity
func (h *HealthHandler) checkDatabase(ctx context.Context) error {
	// Ping database with timeout
	if err := h.deps.DB.PingContext(ctx); err != nil {
		h.logger.Warn("database health check failed", zap.Error(err))
		return err
	}

	// Check if we can execute a simple query
	var result int
	if err := h.deps.DB.QueryRowContext(ctx, "SELECT 1").Scan(&result); err != nil {
		h.logger.Warn("database health check failed", zap.Error(err))
		return err
	}

	return nil
}
