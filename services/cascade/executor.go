// Package cascade tries ranked candidates one after another until one answers.
package cascade

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/upb/llm-cascade/services/candidates"
	"github.com/upb/llm-cascade/services/providers"
	"github.com/upb/llm-cascade/services/ranker"
)

var (
	// ErrExhausted matches every *ExhaustedError
	ErrExhausted = errors.New("all candidates failed")
)

// ExhaustedError is returned when the ranked list was empty or every candidate failed
type ExhaustedError struct {
	Tier     candidates.Tier
	Attempts []Attempt
}

// Error implements the error interface
func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("cascade exhausted for tier %s after %d attempts", e.Tier, len(e.Attempts))
}

// Is reports whether target is ErrExhausted
func (e *ExhaustedError) Is(target error) bool {
	return target == ErrExhausted
}

// Reply is what an invocation returns on success
type Reply struct {
	Text   string
	Tokens int
}

// InvokeFunc calls one candidate with the prompt
type InvokeFunc func(ctx context.Context, c candidates.Candidate, prompt string) (Reply, error)

// Recorder receives one outcome per completed attempt
type Recorder interface {
	RecordOutcome(key candidates.Key, o ranker.Outcome) ranker.Record
}

// Attempt summarises one invocation
type Attempt struct {
	Candidate candidates.Candidate `json:"candidate"`
	StartedAt time.Time            `json:"started_at"`
	Latency   time.Duration        `json:"latency"`
	Tokens    int                  `json:"tokens"`
	Success   bool                 `json:"success"`
	ErrorKind providers.ErrorKind  `json:"error_kind,omitempty"`
	Err       error                `json:"-"`
}

// Result is the winning answer
type Result struct {
	Text     string
	Winner   candidates.Candidate
	Attempts int
	Latency  time.Duration
	Trace    []Attempt
}

// Config holds executor settings
type Config struct {
	// AttemptTimeout bounds every single invocation
	AttemptTimeout time.Duration

	// SuccessQuality is recorded for a successful attempt
	SuccessQuality float64
}

// DefaultConfig returns a sensible default configuration
func DefaultConfig() Config {
	return Config{
		AttemptTimeout: 20 * time.Second,
		SuccessQuality: ranker.SuccessQuality,
	}
}

// Executor runs the cascade. It holds no per-request state and is safe for
// concurrent use.
type Executor struct {
	config   Config
	recorder Recorder
	logger   *zap.Logger
	now      func() time.Time
}

// NewExecutor creates an executor that reports outcomes to recorder
func NewExecutor(config Config, recorder Recorder, logger *zap.Logger) *Executor {
	if logger == nil {
		logger = zap.NewNop()
	}
	if config.AttemptTimeout <= 0 {
		config.AttemptTimeout = DefaultConfig().AttemptTimeout
	}
	return &Executor{
		config:   config,
		recorder: recorder,
		logger:   logger,
		now:      time.Now,
	}
}

type invocation struct {
	reply Reply
	err   error
}

// Execute tries candidates strictly in order and returns on the first
// non-blank answer. Every finished attempt is recorded exactly once. When ctx
// is cancelled mid-attempt, that attempt is abandoned without a record and
// the context error is returned.
func (e *Executor) Execute(ctx context.Context, ranked []ranker.Scored, prompt string, invoke InvokeFunc) (*Result, error) {
	start := e.now()
	trace := make([]Attempt, 0, len(ranked))

	for i, s := range ranked {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		attempt, reply, abandoned := e.try(ctx, s.Candidate, prompt, invoke)
		if abandoned {
			e.logger.Info("cascade abandoned",
				zap.String("engine", s.Candidate.Engine),
				zap.String("model", s.Candidate.ModelID),
				zap.Int("attempt", i+1),
				zap.Error(ctx.Err()),
			)
			return nil, ctx.Err()
		}
		trace = append(trace, attempt)

		if attempt.Success {
			e.recorder.RecordOutcome(s.Candidate.Key(), ranker.Outcome{
				Latency: attempt.Latency,
				Quality: e.config.SuccessQuality,
				Tokens:  attempt.Tokens,
				Success: true,
			})
			return &Result{
				Text:     reply.Text,
				Winner:   s.Candidate,
				Attempts: len(trace),
				Latency:  e.now().Sub(start),
				Trace:    trace,
			}, nil
		}

		e.recorder.RecordOutcome(s.Candidate.Key(), ranker.Outcome{
			Latency: attempt.Latency,
			Quality: ranker.FailureQuality,
			Success: false,
		})
		e.logger.Warn("cascade attempt failed",
			zap.String("engine", s.Candidate.Engine),
			zap.String("model", s.Candidate.ModelID),
			zap.Int("attempt", i+1),
			zap.String("kind", string(attempt.ErrorKind)),
			zap.Int64("latency_ms", attempt.Latency.Milliseconds()),
			zap.Error(attempt.Err),
		)
	}

	tier := candidates.Tier(0)
	if len(ranked) > 0 {
		tier = ranked[0].Candidate.Tier
	}
	return nil, &ExhaustedError{Tier: tier, Attempts: trace}
}

// try runs one invocation under the attempt timeout. The invocation runs in
// its own goroutine so a provider that ignores its context cannot hold the
// request past the deadline or past cancellation.
func (e *Executor) try(ctx context.Context, c candidates.Candidate, prompt string, invoke InvokeFunc) (Attempt, Reply, bool) {
	attemptCtx, cancel := context.WithTimeout(ctx, e.config.AttemptTimeout)
	defer cancel()

	attempt := Attempt{Candidate: c, StartedAt: e.now()}
	done := make(chan invocation, 1)
	go func() {
		reply, err := invoke(attemptCtx, c, prompt)
		done <- invocation{reply: reply, err: err}
	}()

	var res invocation
	select {
	case res = <-done:
	case <-attemptCtx.Done():
		res = invocation{err: attemptCtx.Err()}
	}
	attempt.Latency = e.now().Sub(attempt.StartedAt)

	// A cancelled parent means nobody is waiting for this answer.
	if ctx.Err() != nil {
		return attempt, Reply{}, true
	}

	switch {
	case res.err != nil:
		attempt.Err = res.err
		attempt.ErrorKind = providers.KindOf(res.err)
	case strings.TrimSpace(res.reply.Text) == "":
		attempt.Err = providers.ErrEmptyResponse
		attempt.ErrorKind = providers.KindEmptyResponse
	default:
		attempt.Success = true
		attempt.Tokens = res.reply.Tokens
	}
	return attempt, res.reply, false
}
