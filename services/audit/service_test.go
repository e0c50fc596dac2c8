package audit

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/upb/llm-cascade/models"
)

// MockRoutingLogRepository is a mock implementation of RoutingLogRepository
type MockRoutingLogRepository struct {
	mock.Mock
	mu           sync.Mutex
	insertedLogs []*models.RoutingLog
	batchSizes   []int
}

func (m *MockRoutingLogRepository) BatchInsert(ctx context.Context, logs []*models.RoutingLog) error {
	args := m.Called(ctx, logs)

	m.mu.Lock()
	defer m.mu.Unlock()
	if args.Error(0) == nil {
		m.insertedLogs = append(m.insertedLogs, logs...)
		m.batchSizes = append(m.batchSizes, len(logs))
	}
	return args.Error(0)
}

func (m *MockRoutingLogRepository) ListByUser(ctx context.Context, userID string, limit int) ([]*models.RoutingLog, error) {
	args := m.Called(ctx, userID, limit)
	if logs := args.Get(0); logs != nil {
		return logs.([]*models.RoutingLog), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockRoutingLogRepository) CountByStatus(ctx context.Context, since time.Time) (map[models.RoutingStatus]int64, error) {
	args := m.Called(ctx, since)
	if counts := args.Get(0); counts != nil {
		return counts.(map[models.RoutingStatus]int64), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockRoutingLogRepository) GetInsertedLogs() []*models.RoutingLog {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*models.RoutingLog(nil), m.insertedLogs...)
}

func (m *MockRoutingLogRepository) GetBatchSizes() []int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]int(nil), m.batchSizes...)
}

func answeredLog(i int) *models.RoutingLog {
	log := models.NewRoutingLog(fmt.Sprintf("req-%d", i), "user-1", "T2", "default")
	log.MarkAnswered("Groq", "llama-3.3-70b-versatile", 1, 120*time.Millisecond)
	return log
}

func TestAuditService_StartStop(t *testing.T) {
	mockRepo := new(MockRoutingLogRepository)
	service := NewAuditService(mockRepo, zap.NewNop(), Config{BufferSize: 10, WorkerCount: 2})

	require.NoError(t, service.Start())

	stats := service.GetStats()
	assert.True(t, stats.Started)
	assert.Equal(t, 2, stats.WorkerCount)
	assert.Equal(t, 10, stats.BufferSize)

	// Cannot start again
	assert.Error(t, service.Start())

	require.NoError(t, service.Stop(5*time.Second))
	assert.ErrorIs(t, service.Stop(time.Second), ErrNotStarted)
	assert.False(t, service.GetStats().Started)
}

func TestAuditService_LogRouting(t *testing.T) {
	mockRepo := new(MockRoutingLogRepository)
	mockRepo.On("BatchInsert", mock.Anything, mock.Anything).Return(nil)

	service := NewAuditService(mockRepo, zap.NewNop(), Config{BufferSize: 100, WorkerCount: 2})
	require.NoError(t, service.Start())

	require.NoError(t, service.LogRouting(answeredLog(1)))
	require.NoError(t, service.Stop(5*time.Second))

	inserted := mockRepo.GetInsertedLogs()
	require.Len(t, inserted, 1)
	assert.Equal(t, "req-1", inserted[0].RequestID)
	assert.Equal(t, models.RoutingStatusAnswered, inserted[0].Status)
	assert.Equal(t, int64(1), service.GetStats().Written)
}

func TestAuditService_QueuedEntriesShareABatch(t *testing.T) {
	mockRepo := new(MockRoutingLogRepository)
	inFlight := make(chan struct{})
	release := make(chan struct{})
	mockRepo.On("BatchInsert", mock.Anything, mock.Anything).Return(nil).Run(func(args mock.Arguments) {
		close(inFlight)
		<-release
	}).Once()
	mockRepo.On("BatchInsert", mock.Anything, mock.Anything).Return(nil)

	service := NewAuditService(mockRepo, zap.NewNop(), Config{BufferSize: 10, WorkerCount: 1, BatchSize: 50})
	require.NoError(t, service.Start())

	require.NoError(t, service.LogRouting(answeredLog(0)))
	<-inFlight

	// the worker is busy, so these queue up behind it
	for i := 1; i <= 5; i++ {
		require.NoError(t, service.LogRouting(answeredLog(i)))
	}
	close(release)
	require.NoError(t, service.Stop(5*time.Second))

	assert.Equal(t, []int{1, 5}, mockRepo.GetBatchSizes())
	assert.Len(t, mockRepo.GetInsertedLogs(), 6)
	assert.Equal(t, int64(6), service.GetStats().Written)
}

func TestAuditService_BatchSizeCapsTransactions(t *testing.T) {
	mockRepo := new(MockRoutingLogRepository)
	mockRepo.On("BatchInsert", mock.Anything, mock.Anything).Return(nil)

	service := NewAuditService(mockRepo, zap.NewNop(), Config{BufferSize: 100, WorkerCount: 1, BatchSize: 3})
	for i := 0; i < 10; i++ {
		service.eventChan <- answeredLog(i)
	}
	require.NoError(t, service.Start())
	require.NoError(t, service.Stop(5*time.Second))

	sizes := mockRepo.GetBatchSizes()
	total := 0
	for _, n := range sizes {
		assert.LessOrEqual(t, n, 3)
		total += n
	}
	assert.Equal(t, 10, total)
}

func TestAuditService_NotStarted(t *testing.T) {
	service := NewAuditService(new(MockRoutingLogRepository), zap.NewNop(), DefaultConfig())

	assert.ErrorIs(t, service.LogRouting(answeredLog(1)), ErrNotStarted)
}

func TestAuditService_LogAfterStop(t *testing.T) {
	mockRepo := new(MockRoutingLogRepository)
	service := NewAuditService(mockRepo, zap.NewNop(), Config{BufferSize: 10, WorkerCount: 1})
	require.NoError(t, service.Start())
	require.NoError(t, service.Stop(time.Second))

	assert.ErrorIs(t, service.LogRouting(answeredLog(1)), ErrNotStarted)
}

func TestAuditService_ConcurrentLogging(t *testing.T) {
	mockRepo := new(MockRoutingLogRepository)
	mockRepo.On("BatchInsert", mock.Anything, mock.Anything).Return(nil)

	service := NewAuditService(mockRepo, zap.NewNop(), Config{BufferSize: 1000, WorkerCount: 4})
	require.NoError(t, service.Start())

	var wg sync.WaitGroup
	for g := 0; g < 10; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < 20; i++ {
				assert.NoError(t, service.LogRouting(answeredLog(g*100+i)))
			}
		}(g)
	}
	wg.Wait()
	require.NoError(t, service.Stop(5*time.Second))

	assert.Len(t, mockRepo.GetInsertedLogs(), 200)
}

func TestAuditService_InsertFailureIsCounted(t *testing.T) {
	mockRepo := new(MockRoutingLogRepository)
	mockRepo.On("BatchInsert", mock.Anything, mock.Anything).Return(errors.New("connection refused"))

	service := NewAuditService(mockRepo, zap.NewNop(), Config{BufferSize: 10, WorkerCount: 1})
	require.NoError(t, service.Start())

	require.NoError(t, service.LogRouting(answeredLog(1)))
	require.NoError(t, service.Stop(5*time.Second))

	stats := service.GetStats()
	assert.Equal(t, int64(1), stats.Failed)
	assert.Equal(t, int64(0), stats.Written)
}

func TestAuditService_BufferFull(t *testing.T) {
	mockRepo := new(MockRoutingLogRepository)
	release := make(chan struct{})
	mockRepo.On("BatchInsert", mock.Anything, mock.Anything).Return(nil).Run(func(args mock.Arguments) {
		<-release
	})

	service := NewAuditService(mockRepo, zap.NewNop(), Config{BufferSize: 2, WorkerCount: 1, BatchSize: 1})
	require.NoError(t, service.Start())

	successCount := 0
	for i := 0; i < 10; i++ {
		if err := service.LogRouting(answeredLog(i)); err == nil {
			successCount++
		} else {
			assert.ErrorIs(t, err, ErrBufferFull)
		}
	}

	// one entry in the worker plus a full buffer at most
	assert.LessOrEqual(t, successCount, 3)
	assert.Greater(t, service.GetStats().Dropped, int64(0))

	close(release)
	require.NoError(t, service.Stop(5*time.Second))
}

func TestAuditService_StopTimeout(t *testing.T) {
	mockRepo := new(MockRoutingLogRepository)
	release := make(chan struct{})
	defer close(release)
	mockRepo.On("BatchInsert", mock.Anything, mock.Anything).Return(nil).Run(func(args mock.Arguments) {
		<-release
	})

	service := NewAuditService(mockRepo, zap.NewNop(), Config{BufferSize: 10, WorkerCount: 1})
	require.NoError(t, service.Start())
	require.NoError(t, service.LogRouting(answeredLog(1)))

	err := service.Stop(100 * time.Millisecond)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "timeout")
}

func TestDefaultConfig(t *testing.T) {
	config := DefaultConfig()
	assert.Equal(t, 10000, config.BufferSize)
	assert.Equal(t, 5, config.WorkerCount)
	assert.Equal(t, 50, config.BatchSize)

	service := NewAuditService(new(MockRoutingLogRepository), nil, Config{})
	assert.Equal(t, config.BufferSize, service.GetStats().BufferSize)
	assert.Equal(t, config.BatchSize, service.GetStats().BatchSize)
}
