// Package ranker orders tier candidates by their rolling performance and learns
// from every attempt outcome.
package ranker

import (
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/upb/llm-cascade/services/candidates"
)

// Quality values used when the caller has no evaluator of its own.
const (
	SuccessQuality = 0.8
	FailureQuality = 0.0
)

// Outcome is the result of one invocation attempt
type Outcome struct {
	Latency time.Duration
	Quality float64
	Tokens  int
	Success bool
}

// Record is the rolling performance of one (engine, model) key.
// Samples only increases.
type Record struct {
	LatencyMs     float64   `json:"latency_ms"`
	SuccessRate   float64   `json:"success_rate"`
	Quality       float64   `json:"quality"`
	Samples       int64     `json:"samples"`
	Successes     int64     `json:"successes"`
	Failures      int64     `json:"failures"`
	TokensUsed    int64     `json:"tokens_used"`
	LastOutcomeAt time.Time `json:"last_outcome_at,omitempty"`
}

// Scored is a candidate with its current score and the record it was computed from
type Scored struct {
	Candidate candidates.Candidate `json:"candidate"`
	Score     float64              `json:"score"`
	Record    Record               `json:"record"`
}

// Snapshot is the persisted form of one record
type Snapshot struct {
	Key    candidates.Key
	Record Record
}

type entry struct {
	mu  sync.Mutex
	rec Record
}

// Ranker keeps one record per key. Each record has its own lock, so updates
// for different candidates never contend and updates for the same candidate
// are never lost.
type Ranker struct {
	policy  Policy
	records sync.Map // candidates.Key -> *entry
	updates atomic.Uint64
	now     func() time.Time
	logger  *zap.Logger
}

// NewRanker creates a ranker. An invalid policy is replaced by DefaultPolicy.
func NewRanker(policy Policy, logger *zap.Logger) *Ranker {
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := policy.Validate(); err != nil {
		logger.Warn("invalid ranking policy, using defaults", zap.Error(err))
		policy = DefaultPolicy()
	}
	return &Ranker{
		policy: policy,
		now:    time.Now,
		logger: logger,
	}
}

// Policy returns the scoring policy in use
func (r *Ranker) Policy() Policy {
	return r.policy
}

// Rank returns the candidates ordered by descending score. Equal scores keep
// their input order. Candidates without samples get the neutral score.
func (r *Ranker) Rank(tier candidates.Tier, cands []candidates.Candidate) []Scored {
	scored := r.score(cands)

	if ce := r.logger.Check(zap.DebugLevel, "ranked candidates"); ce != nil {
		order := make([]string, len(scored))
		for i, s := range scored {
			order[i] = s.Candidate.Key().String()
		}
		ce.Write(zap.Stringer("tier", tier), zap.Strings("order", order))
	}
	return scored
}

// Stats is Rank without logging, for admin views.
func (r *Ranker) Stats(_ candidates.Tier, cands []candidates.Candidate) []Scored {
	return r.score(cands)
}

func (r *Ranker) score(cands []candidates.Candidate) []Scored {
	scored := make([]Scored, len(cands))
	for i, c := range cands {
		rec, _ := r.Get(c.Key())
		scored[i] = Scored{
			Candidate: c,
			Score:     r.policy.Score(rec),
			Record:    rec,
		}
	}
	sort.SliceStable(scored, func(i, j int) bool {
		return scored[i].Score > scored[j].Score
	})
	return scored
}

// RecordOutcome folds an attempt outcome into the key's record and returns the
// updated record. Safe for concurrent use.
func (r *Ranker) RecordOutcome(key candidates.Key, o Outcome) Record {
	e := r.load(key)

	e.mu.Lock()
	e.rec = r.policy.apply(e.rec, o, r.now())
	rec := e.rec
	e.mu.Unlock()

	r.updates.Add(1)

	r.logger.Debug("recorded outcome",
		zap.String("engine", key.Engine),
		zap.String("model", key.ModelID),
		zap.Bool("success", o.Success),
		zap.Int64("latency_ms", o.Latency.Milliseconds()),
		zap.Float64("success_rate", rec.SuccessRate),
		zap.Int64("samples", rec.Samples),
	)
	return rec
}

// Get returns the record for key. A missing key yields a zero record.
func (r *Ranker) Get(key candidates.Key) (Record, bool) {
	v, ok := r.records.Load(key)
	if !ok {
		return Record{}, false
	}
	e := v.(*entry)
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.rec, true
}

// Updates returns the number of outcomes recorded since creation
func (r *Ranker) Updates() uint64 {
	return r.updates.Load()
}

// Snapshot copies every record
func (r *Ranker) Snapshot() []Snapshot {
	var out []Snapshot
	r.records.Range(func(k, v any) bool {
		e := v.(*entry)
		e.mu.Lock()
		out = append(out, Snapshot{Key: k.(candidates.Key), Record: e.rec})
		e.mu.Unlock()
		return true
	})
	sort.Slice(out, func(i, j int) bool {
		return out[i].Key.String() < out[j].Key.String()
	})
	return out
}

// Restore loads persisted records. A record that already has at least as many
// samples in memory is kept, so sample counts never go backwards.
func (r *Ranker) Restore(snaps []Snapshot) int {
	restored := 0
	for _, s := range snaps {
		e := r.load(s.Key)
		e.mu.Lock()
		if s.Record.Samples > e.rec.Samples {
			e.rec = s.Record
			restored++
		}
		e.mu.Unlock()
	}
	return restored
}

func (r *Ranker) load(key candidates.Key) *entry {
	if v, ok := r.records.Load(key); ok {
		return v.(*entry)
	}
	v, _ := r.records.LoadOrStore(key, &entry{})
	return v.(*entry)
}
