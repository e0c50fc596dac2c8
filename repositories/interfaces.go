package repositories

import (
	"context"
	"time"

	"github.com/upb/llm-cascade/models"
)

// TransactionManager runs a unit of work in one database transaction
type TransactionManager interface {
	// InTransaction runs fn with a context carrying the transaction.
	// Commits if fn succeeds, rolls back on error.
	InTransaction(ctx context.Context, fn func(ctx context.Context) error) error
}

// PerformanceRepository stores ranker records
type PerformanceRepository interface {
	// Upsert writes every record, replacing the stored row for the same engine and model
	Upsert(ctx context.Context, records []*models.PerformanceRecord) error

	// LoadAll returns every stored record
	LoadAll(ctx context.Context) ([]*models.PerformanceRecord, error)
}

// RoutingLogRepository stores one row per routed request
type RoutingLogRepository interface {
	// BatchInsert inserts entries in one transaction
	BatchInsert(ctx context.Context, logs []*models.RoutingLog) error

	// ListByUser returns the most recent entries for a user
	ListByUser(ctx context.Context, userID string, limit int) ([]*models.RoutingLog, error)

	// CountByStatus counts entries per status since a point in time
	CountByStatus(ctx context.Context, since time.Time) (map[models.RoutingStatus]int64, error)
}

// Repositories aggregates all repository interfaces
type Repositories struct {
	Performance PerformanceRepository
	RoutingLogs RoutingLogRepository
}
