package postgres

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/upb/llm-cascade/models"
	"github.com/upb/llm-cascade/repositories"
)

// PerformanceRepository implements repositories.PerformanceRepository
type PerformanceRepository struct {
	db     *DB
	tx     repositories.TransactionManager
	logger *zap.Logger
}

// NewPerformanceRepository creates a new performance record repository
func NewPerformanceRepository(db *DB, logger *zap.Logger) repositories.PerformanceRepository {
	return &PerformanceRepository{
		db:     db,
		tx:     NewTransactionManager(db, logger),
		logger: logger,
	}
}

const upsertPerformanceQuery = `
	INSERT INTO performance_records (
		engine, model_id, latency_ms, success_rate, quality,
		samples, successes, failures, tokens_used, last_outcome_at, updated_at
	) VALUES (
		$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11
	)
	ON CONFLICT (engine, model_id) DO UPDATE SET
		latency_ms = EXCLUDED.latency_ms,
		success_rate = EXCLUDED.success_rate,
		quality = EXCLUDED.quality,
		samples = EXCLUDED.samples,
		successes = EXCLUDED.successes,
		failures = EXCLUDED.failures,
		tokens_used = EXCLUDED.tokens_used,
		last_outcome_at = EXCLUDED.last_outcome_at,
		updated_at = EXCLUDED.updated_at
	WHERE performance_records.samples <= EXCLUDED.samples
`

// Upsert writes all records in one transaction. A stored row with more samples
// than the incoming one is left untouched.
func (r *PerformanceRepository) Upsert(ctx context.Context, records []*models.PerformanceRecord) error {
	if len(records) == 0 {
		return nil
	}

	now := time.Now().UTC()
	err := r.tx.InTransaction(ctx, func(ctx context.Context) error {
		executor := GetExecutor(ctx, r.db)
		for _, rec := range records {
			_, err := executor.ExecContext(ctx, upsertPerformanceQuery,
				rec.Engine,
				rec.ModelID,
				rec.LatencyMs,
				rec.SuccessRate,
				rec.Quality,
				rec.Samples,
				rec.Successes,
				rec.Failures,
				rec.TokensUsed,
				rec.LastOutcomeAt,
				now,
			)
			if err != nil {
				return fmt.Errorf("failed to upsert performance record %s/%s: %w", rec.Engine, rec.ModelID, err)
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	r.logger.Debug("performance records upserted", zap.Int("count", len(records)))
	return nil
}

// LoadAll returns every stored record
func (r *PerformanceRepository) LoadAll(ctx context.Context) ([]*models.PerformanceRecord, error) {
	query := `
		SELECT engine, model_id, latency_ms, success_rate, quality,
		       samples, successes, failures, tokens_used, last_outcome_at, updated_at
		FROM performance_records
		ORDER BY engine, model_id
	`

	executor := GetExecutor(ctx, r.db)
	rows, err := executor.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query performance records: %w", err)
	}
	defer rows.Close()

	var records []*models.PerformanceRecord
	for rows.Next() {
		rec := &models.PerformanceRecord{}
		if err := rows.Scan(
			&rec.Engine,
			&rec.ModelID,
			&rec.LatencyMs,
			&rec.SuccessRate,
			&rec.Quality,
			&rec.Samples,
			&rec.Successes,
			&rec.Failures,
			&rec.TokensUsed,
			&rec.LastOutcomeAt,
			&rec.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan performance record: %w", err)
		}
		records = append(records, rec)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating performance records: %w", err)
	}

	return records, nil
}
