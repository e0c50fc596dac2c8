package handlers

import (
	"context"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/upb/llm-cascade/middleware"
	"github.com/upb/llm-cascade/services/candidates"
	"github.com/upb/llm-cascade/services/classifier"
	"github.com/upb/llm-cascade/services/inference"
	"github.com/upb/llm-cascade/utils"
)

// RouteRequest is the body of POST /api/v1/route
type RouteRequest struct {
	// UserID is ignored when the caller is authenticated; the token subject wins
	UserID  string                 `json:"user_id,omitempty" validate:"omitempty,max=128"`
	Prompt  string                 `json:"prompt" validate:"required,notblank,max=32000"`
	Signals RouteSignals           `json:"signals"`
	Context inference.Conversation `json:"context"`
}

// RouteSignals are the optional upstream routing signals
type RouteSignals struct {
	Urgency            string   `json:"urgency,omitempty" validate:"omitempty,oneof=low normal high critical"`
	Emotion            string   `json:"emotion,omitempty" validate:"omitempty,max=64"`
	Topics             []string `json:"topics,omitempty" validate:"omitempty,max=32"`
	RecentContextChars int      `json:"recent_context_chars,omitempty" validate:"gte=0"`
}

func (s RouteSignals) toClassifier() classifier.Signals {
	return classifier.Signals{
		Urgency:            classifier.Urgency(s.Urgency),
		Emotion:            s.Emotion,
		Topics:             s.Topics,
		RecentContextChars: s.RecentContextChars,
	}
}

// RouteResponse is the answer returned to the caller
type RouteResponse struct {
	RequestID      string `json:"request_id"`
	Text           string `json:"text"`
	Engine         string `json:"engine"`
	Model          string `json:"model"`
	Role           string `json:"role"`
	Tier           string `json:"tier"`
	Rule           string `json:"rule"`
	Attempts       int    `json:"attempts"`
	TotalLatencyMs int64  `json:"total_latency_ms"`
}

// ClassifyRequest is the body of POST /api/v1/classify
type ClassifyRequest struct {
	Prompt  string       `json:"prompt" validate:"required,notblank,max=32000"`
	Signals RouteSignals `json:"signals"`
}

// ClassifyResponse reports the tier a prompt would be routed to
type ClassifyResponse struct {
	Tier       string   `json:"tier"`
	Rule       string   `json:"rule"`
	Candidates []string `json:"candidates"`
}

// Router answers routed requests
type Router interface {
	RouteAndAnswer(ctx context.Context, req inference.Request) (*inference.Answer, error)
	Explain(text string, signals classifier.Signals) classifier.Decision
	Available(tier candidates.Tier) []candidates.Candidate
}

// RouteHandler handles routing requests
type RouteHandler struct {
	router Router
	logger *zap.Logger
}

// NewRouteHandler creates a new RouteHandler
func NewRouteHandler(router Router, logger *zap.Logger) *RouteHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RouteHandler{
		router: router,
		logger: logger,
	}
}

// HandleRoute handles POST /api/v1/route
func (h *RouteHandler) HandleRoute(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := middleware.GetRequestIDFromContext(ctx)

	var req RouteRequest
	if err := utils.DecodeJSON(w, r, &req, utils.DefaultMaxBodyBytes); err != nil {
		h.logger.Warn("failed to parse request body",
			zap.String("request_id", requestID),
			zap.Error(err))
		h.writeDecodeError(w, err)
		return
	}

	if err := utils.ValidateStruct(&req); err != nil {
		h.logger.Warn("request validation failed",
			zap.String("request_id", requestID),
			zap.Error(err))
		HandleValidationError(w, err, h.logger)
		return
	}

	userID := req.UserID
	if sub := middleware.GetUserIDFromContext(ctx); sub != "" {
		userID = sub
	}

	answer, err := h.router.RouteAndAnswer(ctx, inference.Request{
		RequestID: requestID,
		UserID:    userID,
		Prompt:    req.Prompt,
		Signals:   req.Signals.toClassifier(),
		Context:   req.Context,
	})
	if err != nil {
		h.logger.Warn("route failed",
			zap.String("request_id", requestID),
			zap.Error(err))
		HandleServiceError(w, err, h.logger)
		return
	}

	if err := utils.WriteOK(w, RouteResponse{
		RequestID:      answer.RequestID,
		Text:           answer.Text,
		Engine:         answer.Engine,
		Model:          answer.Model,
		Role:           answer.Role,
		Tier:           answer.Tier.String(),
		Rule:           answer.Rule,
		Attempts:       answer.Attempts,
		TotalLatencyMs: answer.TotalLatency.Milliseconds(),
	}); err != nil {
		h.logger.Error("failed to write response", zap.Error(err))
	}
}

// HandleClassify handles POST /api/v1/classify. Nothing is invoked.
func (h *RouteHandler) HandleClassify(w http.ResponseWriter, r *http.Request) {
	var req ClassifyRequest
	if err := utils.DecodeJSON(w, r, &req, utils.DefaultMaxBodyBytes); err != nil {
		h.writeDecodeError(w, err)
		return
	}
	if err := utils.ValidateStruct(&req); err != nil {
		HandleValidationError(w, err, h.logger)
		return
	}

	decision := h.router.Explain(req.Prompt, req.Signals.toClassifier())

	available := h.router.Available(decision.Tier)
	keys := make([]string, 0, len(available))
	for _, c := range available {
		keys = append(keys, c.Key().String())
	}

	if err := utils.WriteOK(w, ClassifyResponse{
		Tier:       decision.Tier.String(),
		Rule:       decision.Rule,
		Candidates: keys,
	}); err != nil {
		h.logger.Error("failed to write response", zap.Error(err))
	}
}

func (h *RouteHandler) writeDecodeError(w http.ResponseWriter, err error) {
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		_ = utils.WriteError(w, http.StatusRequestEntityTooLarge, err.Error(), nil)
		return
	}
	_ = utils.WriteBadRequest(w, err.Error(), nil)
}
