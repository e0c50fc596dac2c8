package ranker

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrInvalidPolicy is returned when a scoring policy cannot satisfy the ranking contract
	ErrInvalidPolicy = errors.New("invalid ranking policy")
)

// Policy holds the tunable scoring constants.
//
//	score = SuccessWeight*success_rate
//	      + LatencyWeight*RefLatency/(RefLatency+latency)
//	      + QualityWeight*quality
//
// Success rate moves with FailureAlpha after a failure and SuccessAlpha after a
// success. FailureAlpha is larger so a provider is demoted within a few requests
// and re-trusted only after a sustained run of successes.
type Policy struct {
	SuccessWeight float64
	LatencyWeight float64
	QualityWeight float64

	// ReferenceLatency is the latency that scores half of LatencyWeight
	ReferenceLatency time.Duration

	FailureAlpha float64
	SuccessAlpha float64

	// LatencyAlpha smooths latency and quality. Only successful attempts move latency.
	LatencyAlpha float64

	// NeutralScore is used for candidates with no samples yet
	NeutralScore float64
}

// DefaultPolicy returns the default scoring policy
func DefaultPolicy() Policy {
	return Policy{
		SuccessWeight:    0.8,
		LatencyWeight:    0.1,
		QualityWeight:    0.1,
		ReferenceLatency: time.Second,
		FailureAlpha:     0.5,
		SuccessAlpha:     0.1,
		LatencyAlpha:     0.2,
		NeutralScore:     0.7,
	}
}

// MaxScore is the score of a perfect record under this policy
func (p Policy) MaxScore() float64 {
	return p.SuccessWeight + p.LatencyWeight + p.QualityWeight
}

// Validate checks the policy constants
func (p Policy) Validate() error {
	if p.SuccessWeight <= 0 {
		return fmt.Errorf("%w: success weight must be positive", ErrInvalidPolicy)
	}
	if p.LatencyWeight < 0 || p.QualityWeight < 0 {
		return fmt.Errorf("%w: weights must not be negative", ErrInvalidPolicy)
	}
	if p.ReferenceLatency <= 0 {
		return fmt.Errorf("%w: reference latency must be positive", ErrInvalidPolicy)
	}
	for name, alpha := range map[string]float64{
		"failure alpha": p.FailureAlpha,
		"success alpha": p.SuccessAlpha,
		"latency alpha": p.LatencyAlpha,
	} {
		if alpha <= 0 || alpha > 1 {
			return fmt.Errorf("%w: %s must be in (0, 1]", ErrInvalidPolicy, name)
		}
	}
	if p.NeutralScore <= 0 || p.NeutralScore > p.MaxScore() {
		return fmt.Errorf("%w: neutral score must be in (0, %.2f]", ErrInvalidPolicy, p.MaxScore())
	}
	return nil
}

// Score computes the ranking score of a record
func (p Policy) Score(rec Record) float64 {
	if rec.Samples == 0 {
		return p.NeutralScore
	}

	latencyScore := 0.0
	if rec.Successes > 0 {
		ref := float64(p.ReferenceLatency.Milliseconds())
		latencyScore = ref / (ref + rec.LatencyMs)
	}

	return p.SuccessWeight*rec.SuccessRate +
		p.LatencyWeight*latencyScore +
		p.QualityWeight*rec.Quality
}

// apply folds one outcome into rec. The first sample seeds the averages.
func (p Policy) apply(rec Record, o Outcome, at time.Time) Record {
	first := rec.Samples == 0
	rec.Samples++
	rec.TokensUsed += int64(max(o.Tokens, 0))
	rec.LastOutcomeAt = at

	quality := clamp01(o.Quality)
	if !o.Success {
		quality = 0
	}

	if o.Success {
		rec.Successes++
		latency := float64(o.Latency) / float64(time.Millisecond)
		if rec.Successes == 1 {
			rec.LatencyMs = latency
		} else {
			rec.LatencyMs = ewma(rec.LatencyMs, latency, p.LatencyAlpha)
		}
	} else {
		rec.Failures++
	}

	if first {
		rec.SuccessRate = boolFloat(o.Success)
		rec.Quality = quality
		return rec
	}

	alpha := p.SuccessAlpha
	if !o.Success {
		alpha = p.FailureAlpha
	}
	rec.SuccessRate = ewma(rec.SuccessRate, boolFloat(o.Success), alpha)
	rec.Quality = ewma(rec.Quality, quality, p.LatencyAlpha)
	return rec
}

func ewma(prev, sample, alpha float64) float64 {
	return alpha*sample + (1-alpha)*prev
}

func boolFloat(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

func clamp01(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}
