package postgres

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/upb/llm-cascade/models"
	"github.com/upb/llm-cascade/repositories"
)

// RoutingLogRepository implements repositories.RoutingLogRepository
type RoutingLogRepository struct {
	db     *DB
	tx     repositories.TransactionManager
	logger *zap.Logger
}

// NewRoutingLogRepository creates a new routing log repository
func NewRoutingLogRepository(db *DB, logger *zap.Logger) repositories.RoutingLogRepository {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RoutingLogRepository{
		db:     db,
		tx:     NewTransactionManager(db, logger),
		logger: logger,
	}
}

const insertRoutingLogQuery = `
	INSERT INTO routing_logs (
		id, request_id, user_id, tier, rule, status,
		engine, model, attempts, latency_ms, error_message, created_at
	) VALUES (
		$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12
	)
`

func (r *RoutingLogRepository) insert(ctx context.Context, log *models.RoutingLog) error {
	executor := GetExecutor(ctx, r.db)
	_, err := executor.ExecContext(ctx, insertRoutingLogQuery,
		log.ID,
		log.RequestID,
		log.UserID,
		log.Tier,
		log.Rule,
		log.Status,
		log.Engine,
		log.Model,
		log.Attempts,
		log.LatencyMs,
		log.ErrorMessage,
		log.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert routing log: %w", err)
	}

	return nil
}

// BatchInsert inserts entries in one transaction. Either all rows land or none.
func (r *RoutingLogRepository) BatchInsert(ctx context.Context, logs []*models.RoutingLog) error {
	if len(logs) == 0 {
		return nil
	}
	err := r.tx.InTransaction(ctx, func(ctx context.Context) error {
		for _, log := range logs {
			if err := r.insert(ctx, log); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	r.logger.Debug("routing logs inserted", zap.Int("count", len(logs)))
	return nil
}

// ListByUser returns the most recent entries for a user
func (r *RoutingLogRepository) ListByUser(ctx context.Context, userID string, limit int) ([]*models.RoutingLog, error) {
	query := `
		SELECT id, request_id, user_id, tier, rule, status,
		       engine, model, attempts, latency_ms, error_message, created_at
		FROM routing_logs
		WHERE user_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`

	executor := GetExecutor(ctx, r.db)
	rows, err := executor.QueryContext(ctx, query, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query routing logs: %w", err)
	}
	defer rows.Close()

	var logs []*models.RoutingLog
	for rows.Next() {
		log := &models.RoutingLog{}
		if err := rows.Scan(
			&log.ID,
			&log.RequestID,
			&log.UserID,
			&log.Tier,
			&log.Rule,
			&log.Status,
			&log.Engine,
			&log.Model,
			&log.Attempts,
			&log.LatencyMs,
			&log.ErrorMessage,
			&log.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan routing log: %w", err)
		}
		logs = append(logs, log)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating routing logs: %w", err)
	}

	return logs, nil
}

// CountByStatus counts entries per status since a point in time
func (r *RoutingLogRepository) CountByStatus(ctx context.Context, since time.Time) (map[models.RoutingStatus]int64, error) {
	query := `
		SELECT status, COUNT(*)
		FROM routing_logs
		WHERE created_at >= $1
		GROUP BY status
	`

	executor := GetExecutor(ctx, r.db)
	rows, err := executor.QueryContext(ctx, query, since)
	if err != nil {
		return nil, fmt.Errorf("failed to count routing logs: %w", err)
	}
	defer rows.Close()

	counts := make(map[models.RoutingStatus]int64)
	for rows.Next() {
		var status models.RoutingStatus
		var n int64
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("failed to scan routing log count: %w", err)
		}
		counts[status] = n
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating routing log counts: %w", err)
	}

	return counts, nil
}
