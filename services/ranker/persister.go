package ranker

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/upb/llm-cascade/models"
	"github.com/upb/llm-cascade/repositories"
	"github.com/upb/llm-cascade/services/candidates"
)

// Persister copies ranker records to a repository on an interval and restores
// them at startup.
type Persister struct {
	ranker   *Ranker
	repo     repositories.PerformanceRepository
	interval time.Duration
	logger   *zap.Logger

	flushedAt uint64
}

// NewPersister creates a persister. A non-positive interval disables the loop in Run.
func NewPersister(r *Ranker, repo repositories.PerformanceRepository, interval time.Duration, logger *zap.Logger) *Persister {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Persister{
		ranker:   r,
		repo:     repo,
		interval: interval,
		logger:   logger,
	}
}

// Restore loads stored records into the ranker
func (p *Persister) Restore(ctx context.Context) error {
	rows, err := p.repo.LoadAll(ctx)
	if err != nil {
		return fmt.Errorf("failed to load performance records: %w", err)
	}

	snaps := make([]Snapshot, 0, len(rows))
	for _, row := range rows {
		snaps = append(snaps, fromModel(row))
	}
	restored := p.ranker.Restore(snaps)
	p.flushedAt = p.ranker.Updates()

	p.logger.Info("performance records restored",
		zap.Int("stored", len(rows)),
		zap.Int("restored", restored),
	)
	return nil
}

// Flush writes every record if anything changed since the last flush
func (p *Persister) Flush(ctx context.Context) error {
	updates := p.ranker.Updates()
	if updates == p.flushedAt {
		return nil
	}

	snaps := p.ranker.Snapshot()
	rows := make([]*models.PerformanceRecord, 0, len(snaps))
	for _, s := range snaps {
		rows = append(rows, toModel(s))
	}
	if err := p.repo.Upsert(ctx, rows); err != nil {
		return fmt.Errorf("failed to flush performance records: %w", err)
	}

	p.flushedAt = updates
	p.logger.Debug("performance records flushed", zap.Int("count", len(rows)))
	return nil
}

// Run flushes on every tick until ctx is done, then flushes once more.
// It must not be called concurrently with Flush.
func (p *Persister) Run(ctx context.Context) {
	if p.interval <= 0 {
		return
	}

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			if err := p.Flush(flushCtx); err != nil {
				p.logger.Error("final performance flush failed", zap.Error(err))
			}
			cancel()
			return
		case <-ticker.C:
			if err := p.Flush(ctx); err != nil {
				p.logger.Warn("performance flush failed", zap.Error(err))
			}
		}
	}
}

func toModel(s Snapshot) *models.PerformanceRecord {
	return &models.PerformanceRecord{
		Engine:        s.Key.Engine,
		ModelID:       s.Key.ModelID,
		LatencyMs:     s.Record.LatencyMs,
		SuccessRate:   s.Record.SuccessRate,
		Quality:       s.Record.Quality,
		Samples:       s.Record.Samples,
		Successes:     s.Record.Successes,
		Failures:      s.Record.Failures,
		TokensUsed:    s.Record.TokensUsed,
		LastOutcomeAt: s.Record.LastOutcomeAt,
	}
}

func fromModel(m *models.PerformanceRecord) Snapshot {
	return Snapshot{
		Key: candidates.Key{Engine: m.Engine, ModelID: m.ModelID},
		Record: Record{
			LatencyMs:     m.LatencyMs,
			SuccessRate:   m.SuccessRate,
			Quality:       m.Quality,
			Samples:       m.Samples,
			Successes:     m.Successes,
			Failures:      m.Failures,
			TokensUsed:    m.TokensUsed,
			LastOutcomeAt: m.LastOutcomeAt,
		},
	}
}
