package postgres

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/upb/llm-cascade/models"
)

func newMockDB(t *testing.T) (*DB, sqlmock.Sqlmock) {
	t.Helper()
	sqlDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { sqlDB.Close() })
	return &DB{DB: sqlDB, logger: zap.NewNop()}, mock
}

func TestPerformanceRepository_Upsert(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewPerformanceRepository(db, zap.NewNop())

	at := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	records := []*models.PerformanceRecord{
		{Engine: "Groq", ModelID: "llama-3.1-8b-instant", LatencyMs: 120, SuccessRate: 0.95, Quality: 0.8, Samples: 20, Successes: 19, Failures: 1, TokensUsed: 4000, LastOutcomeAt: at},
		{Engine: "Gemini", ModelID: "gemini-2.5-pro", LatencyMs: 900, SuccessRate: 0.5, Quality: 0.4, Samples: 2, Successes: 1, Failures: 1, TokensUsed: 300, LastOutcomeAt: at},
	}

	mock.ExpectBegin()
	for _, rec := range records {
		mock.ExpectExec(regexp.QuoteMeta("INSERT INTO performance_records")).
			WithArgs(rec.Engine, rec.ModelID, rec.LatencyMs, rec.SuccessRate, rec.Quality,
				rec.Samples, rec.Successes, rec.Failures, rec.TokensUsed, rec.LastOutcomeAt, sqlmock.AnyArg()).
			WillReturnResult(sqlmock.NewResult(0, 1))
	}
	mock.ExpectCommit()

	err := repo.Upsert(context.Background(), records)
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPerformanceRepository_Upsert_RollsBackOnError(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewPerformanceRepository(db, zap.NewNop())

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO performance_records")).
		WillReturnError(errors.New("connection reset"))
	mock.ExpectRollback()

	err := repo.Upsert(context.Background(), []*models.PerformanceRecord{
		{Engine: "Groq", ModelID: "llama-3.1-8b-instant", Samples: 1},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Groq/llama-3.1-8b-instant")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPerformanceRepository_Upsert_Empty(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewPerformanceRepository(db, zap.NewNop())

	require.NoError(t, repo.Upsert(context.Background(), nil))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPerformanceRepository_LoadAll(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewPerformanceRepository(db, zap.NewNop())

	at := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	columns := []string{"engine", "model_id", "latency_ms", "success_rate", "quality",
		"samples", "successes", "failures", "tokens_used", "last_outcome_at", "updated_at"}
	mock.ExpectQuery(regexp.QuoteMeta("FROM performance_records")).
		WillReturnRows(sqlmock.NewRows(columns).
			AddRow("Claude", "claude-3-5-haiku", 300.0, 0.9, 0.8, int64(10), int64(9), int64(1), int64(1200), at, at).
			AddRow("Groq", "llama-3.1-8b-instant", 110.0, 1.0, 0.8, int64(3), int64(3), int64(0), int64(90), at, at))

	records, err := repo.LoadAll(context.Background())
	require.NoError(t, err)
	require.Len(t, records, 2)

	assert.Equal(t, "Claude", records[0].Engine)
	assert.Equal(t, "claude-3-5-haiku", records[0].ModelID)
	assert.Equal(t, int64(10), records[0].Samples)
	assert.InDelta(t, 0.9, records[0].SuccessRate, 1e-9)
	assert.Equal(t, at, records[1].LastOutcomeAt)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPerformanceRepository_LoadAll_QueryError(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewPerformanceRepository(db, zap.NewNop())

	mock.ExpectQuery(regexp.QuoteMeta("FROM performance_records")).
		WillReturnError(errors.New("relation does not exist"))

	records, err := repo.LoadAll(context.Background())
	assert.Error(t, err)
	assert.Nil(t, records)
	assert.NoError(t, mock.ExpectationsWereMet())
}
