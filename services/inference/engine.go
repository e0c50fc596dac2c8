// Package inference routes a user turn to a tier, cascades through the
// tier's ranked candidates and returns the sanitized answer.
package inference

import (
	"context"
	"errors"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/upb/llm-cascade/models"
	"github.com/upb/llm-cascade/services"
	"github.com/upb/llm-cascade/services/candidates"
	"github.com/upb/llm-cascade/services/cascade"
	"github.com/upb/llm-cascade/services/classifier"
	"github.com/upb/llm-cascade/services/providers"
	"github.com/upb/llm-cascade/services/ranker"
	"github.com/upb/llm-cascade/services/sanitizer"
)

// RoutingLogger receives one routing log per finished request
type RoutingLogger interface {
	LogRouting(entry *models.RoutingLog) error
}

// Config holds engine settings
type Config struct {
	SystemInstruction string
}

// DefaultConfig returns the default engine configuration
func DefaultConfig() Config {
	return Config{SystemInstruction: DefaultSystemInstruction}
}

// Engine wires classifier, candidate registry, ranker, cascade and sanitizer
// together. It is safe for concurrent use.
type Engine struct {
	config     Config
	classifier *classifier.Classifier
	candidates *candidates.Registry
	providers  *providers.Registry
	ranker     *ranker.Ranker
	executor   *cascade.Executor
	sanitizer  *sanitizer.Sanitizer
	auditor    RoutingLogger
	logger     *zap.Logger
}

// NewEngine creates a route-and-answer engine. auditor may be nil.
func NewEngine(
	config Config,
	cls *classifier.Classifier,
	registry *candidates.Registry,
	provs *providers.Registry,
	rnk *ranker.Ranker,
	executor *cascade.Executor,
	snt *sanitizer.Sanitizer,
	auditor RoutingLogger,
	logger *zap.Logger,
) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	if config.SystemInstruction == "" {
		config.SystemInstruction = DefaultSystemInstruction
	}
	return &Engine{
		config:     config,
		classifier: cls,
		candidates: registry,
		providers:  provs,
		ranker:     rnk,
		executor:   executor,
		sanitizer:  snt,
		auditor:    auditor,
		logger:     logger,
	}
}

// RouteAndAnswer classifies the request, ranks the tier's available
// candidates and tries them in order until one answers. Exhaustion returns
// a *cascade.ExhaustedError; cancellation returns the context error.
func (e *Engine) RouteAndAnswer(ctx context.Context, req Request) (*Answer, error) {
	start := time.Now()

	if strings.TrimSpace(req.UserID) == "" {
		return nil, services.ErrMissingUserID
	}
	if strings.TrimSpace(req.Prompt) == "" {
		return nil, services.ErrEmptyPrompt
	}
	if req.RequestID == "" {
		req.RequestID = uuid.NewString()
	}

	signals := req.Signals
	if signals.RecentContextChars == 0 {
		signals.RecentContextChars = utf8.RuneCountInString(req.Context.Recent)
	}
	decision := e.classifier.Explain(req.Prompt, signals)

	available := e.Available(decision.Tier)
	ranked := e.ranker.Rank(decision.Tier, available)

	logger := e.logger.With(
		zap.String("request_id", req.RequestID),
		zap.String("user_id", req.UserID),
		zap.String("tier", decision.Tier.String()),
	)
	logger.Info("request routed",
		zap.String("rule", decision.Rule),
		zap.Int("candidates", len(ranked)),
	)

	prompt := BuildPrompt(e.config.SystemInstruction, decision.Tier, req)
	entry := models.NewRoutingLog(req.RequestID, req.UserID, decision.Tier.String(), decision.Rule)

	// Sanitizing inside the cascade lets a reply that is nothing but leaked
	// markers count as an empty response and fall through to the next candidate.
	invoke := func(ctx context.Context, c candidates.Candidate, prompt string) (cascade.Reply, error) {
		reply, err := e.invoke(ctx, c, prompt)
		if err != nil {
			return reply, err
		}
		reply.Text = e.sanitizer.Sanitize(reply.Text, req.Prompt)
		return reply, nil
	}

	result, err := e.executor.Execute(ctx, ranked, prompt, invoke)
	if err != nil {
		var exhausted *cascade.ExhaustedError
		if errors.As(err, &exhausted) {
			if exhausted.Tier == 0 {
				exhausted.Tier = decision.Tier
			}
			entry.MarkFailed(models.RoutingStatusExhausted, len(exhausted.Attempts), time.Since(start), err.Error())
			logger.Warn("cascade exhausted", zap.Int("attempts", len(exhausted.Attempts)))
		} else {
			entry.MarkFailed(models.RoutingStatusCancelled, 0, time.Since(start), err.Error())
			logger.Info("request cancelled", zap.Error(err))
		}
		e.audit(entry)
		return nil, err
	}

	total := time.Since(start)

	entry.MarkAnswered(result.Winner.Engine, result.Winner.ModelID, result.Attempts, total)
	e.audit(entry)

	logger.Info("request answered",
		zap.String("engine", result.Winner.Engine),
		zap.String("model", result.Winner.ModelID),
		zap.Int("attempts", result.Attempts),
		zap.Int64("latency_ms", total.Milliseconds()),
	)

	return &Answer{
		RequestID:    req.RequestID,
		Text:         result.Text,
		Engine:       result.Winner.Engine,
		Model:        result.Winner.ModelID,
		Role:         result.Winner.Role,
		Tier:         decision.Tier,
		Rule:         decision.Rule,
		Attempts:     result.Attempts,
		TotalLatency: total,
		Trace:        result.Trace,
	}, nil
}

// Available returns the tier's candidates whose engine has a provider, in
// registry order
func (e *Engine) Available(tier candidates.Tier) []candidates.Candidate {
	all := e.candidates.CandidatesFor(tier)
	out := all[:0]
	for _, c := range all {
		if e.providers.Has(c.Engine) {
			out = append(out, c)
		}
	}
	return out
}

// Explain returns the classification of text without invoking anything
func (e *Engine) Explain(text string, signals classifier.Signals) classifier.Decision {
	return e.classifier.Explain(text, signals)
}

func (e *Engine) invoke(ctx context.Context, c candidates.Candidate, prompt string) (cascade.Reply, error) {
	p, err := e.providers.Get(c.Engine)
	if err != nil {
		return cascade.Reply{}, err
	}
	completion, err := p.Invoke(ctx, c.ModelID, prompt)
	if err != nil {
		return cascade.Reply{}, err
	}
	tokens := completion.Tokens
	if tokens == 0 {
		tokens = providers.EstimateTokens(completion.Text)
	}
	return cascade.Reply{Text: completion.Text, Tokens: tokens}, nil
}

func (e *Engine) audit(entry *models.RoutingLog) {
	if e.auditor == nil {
		return
	}
	if err := e.auditor.LogRouting(entry); err != nil {
		e.logger.Warn("failed to queue routing log",
			zap.String("request_id", entry.RequestID),
			zap.Error(err))
	}
}
