package audit

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/upb/llm-cascade/models"
	"github.com/upb/llm-cascade/repositories"
)

var (
	// ErrNotStarted is returned when logging before Start or after Stop
	ErrNotStarted = errors.New("audit service not started")

	// ErrBufferFull is returned when the event buffer cannot take another entry
	ErrBufferFull = errors.New("audit event buffer full")
)

// AuditService writes routing logs in the background so the request path
// never waits on the database
type AuditService struct {
	repo        repositories.RoutingLogRepository
	logger      *zap.Logger
	eventChan   chan *models.RoutingLog
	workerCount int
	bufferSize  int
	batchSize   int
	wg          sync.WaitGroup
	ctx         context.Context
	cancel      context.CancelFunc
	started     bool
	stopped     bool
	mu          sync.RWMutex

	written atomic.Int64
	dropped atomic.Int64
	failed  atomic.Int64
}

// Config holds configuration for the AuditService
type Config struct {
	BufferSize  int // Size of the event buffer channel
	WorkerCount int // Number of concurrent workers
	BatchSize   int // Most entries a worker writes per transaction
}

// DefaultConfig returns the default configuration
func DefaultConfig() Config {
	return Config{
		BufferSize:  10000,
		WorkerCount: 5,
		BatchSize:   50,
	}
}

// NewAuditService creates a new AuditService instance
func NewAuditService(repo repositories.RoutingLogRepository, logger *zap.Logger, config Config) *AuditService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if config.BufferSize <= 0 {
		config.BufferSize = DefaultConfig().BufferSize
	}
	if config.WorkerCount <= 0 {
		config.WorkerCount = DefaultConfig().WorkerCount
	}
	if config.BatchSize <= 0 {
		config.BatchSize = DefaultConfig().BatchSize
	}
	ctx, cancel := context.WithCancel(context.Background())

	return &AuditService{
		repo:        repo,
		logger:      logger,
		eventChan:   make(chan *models.RoutingLog, config.BufferSize),
		workerCount: config.WorkerCount,
		bufferSize:  config.BufferSize,
		batchSize:   config.BatchSize,
		ctx:         ctx,
		cancel:      cancel,
	}
}

// Start starts the background workers
func (s *AuditService) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return fmt.Errorf("audit service already started")
	}

	for i := 0; i < s.workerCount; i++ {
		s.wg.Add(1)
		go s.worker(i)
	}

	s.started = true
	s.logger.Info("started audit service",
		zap.Int("worker_count", s.workerCount),
		zap.Int("buffer_size", s.bufferSize),
		zap.Int("batch_size", s.batchSize))

	return nil
}

// Stop stops accepting entries and waits for queued ones to be written
func (s *AuditService) Stop(timeout time.Duration) error {
	s.mu.Lock()
	if !s.started || s.stopped {
		s.mu.Unlock()
		return ErrNotStarted
	}
	s.stopped = true
	close(s.eventChan)
	s.mu.Unlock()

	s.logger.Info("stopping audit service", zap.Int("pending_events", len(s.eventChan)))

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.logger.Info("audit service stopped gracefully")
		s.cancel()
		return nil
	case <-time.After(timeout):
		s.cancel()
		return fmt.Errorf("audit service stop timeout after %v", timeout)
	}
}

// LogRouting queues a routing log without blocking. A full buffer drops the entry.
func (s *AuditService) LogRouting(entry *models.RoutingLog) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.started || s.stopped {
		return ErrNotStarted
	}

	select {
	case s.eventChan <- entry:
		return nil
	default:
		s.dropped.Add(1)
		s.logger.Warn("audit event channel full, dropping routing log",
			zap.String("request_id", entry.RequestID),
			zap.String("status", string(entry.Status)))
		return ErrBufferFull
	}
}

// worker writes whatever is queued, up to batchSize entries per transaction
func (s *AuditService) worker(id int) {
	defer s.wg.Done()

	s.logger.Debug("audit worker started", zap.Int("worker_id", id))

	for entry := range s.eventChan {
		batch := []*models.RoutingLog{entry}
	drain:
		for len(batch) < s.batchSize {
			select {
			case next, ok := <-s.eventChan:
				if !ok {
					break drain
				}
				batch = append(batch, next)
			default:
				break drain
			}
		}
		s.flush(id, batch)
	}

	s.logger.Debug("audit worker stopped", zap.Int("worker_id", id))
}

func (s *AuditService) flush(id int, batch []*models.RoutingLog) {
	ctx, cancel := context.WithTimeout(s.ctx, 5*time.Second)
	defer cancel()

	if err := s.repo.BatchInsert(ctx, batch); err != nil {
		s.failed.Add(int64(len(batch)))
		s.logger.Error("failed to write routing logs",
			zap.Int("worker_id", id),
			zap.Int("count", len(batch)),
			zap.String("first_request_id", batch[0].RequestID),
			zap.Error(err))
		return
	}
	s.written.Add(int64(len(batch)))
}

// GetStats returns statistics about the audit service
func (s *AuditService) GetStats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return Stats{
		BufferSize:    s.bufferSize,
		PendingEvents: len(s.eventChan),
		WorkerCount:   s.workerCount,
		BatchSize:     s.batchSize,
		Started:       s.started && !s.stopped,
		Written:       s.written.Load(),
		Dropped:       s.dropped.Load(),
		Failed:        s.failed.Load(),
	}
}

// Stats represents audit service statistics
type Stats struct {
	BufferSize    int   `json:"buffer_size"`
	PendingEvents int   `json:"pending_events"`
	WorkerCount   int   `json:"worker_count"`
	BatchSize     int   `json:"batch_size"`
	Started       bool  `json:"started"`
	Written       int64 `json:"written"`
	Dropped       int64 `json:"dropped"`
	Failed        int64 `json:"failed"`
}
