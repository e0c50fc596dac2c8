package discovery

import (
	"context"
	"fmt"
	"sync"
	"time"

	cronlib "github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// DefaultSchedule refreshes the candidate table once a day
const DefaultSchedule = "@daily"

// Refresher is anything that can rebuild the candidate table
type Refresher interface {
	Refresh(ctx context.Context) (Report, error)
}

// Scheduler runs a Refresher on a cron schedule
type Scheduler struct {
	cron      *cronlib.Cron
	refresher Refresher
	timeout   time.Duration
	logger    *zap.Logger

	mu      sync.Mutex
	last    Report
	lastErr error
	runs    int
}

// NewScheduler creates a scheduler. spec accepts standard five-field cron
// expressions and descriptors such as "@daily" or "@every 6h". Each run is
// bounded by timeout.
func NewScheduler(spec string, refresher Refresher, timeout time.Duration, logger *zap.Logger) (*Scheduler, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if spec == "" {
		spec = DefaultSchedule
	}
	if timeout <= 0 {
		timeout = time.Minute
	}

	s := &Scheduler{
		cron:      cronlib.New(),
		refresher: refresher,
		timeout:   timeout,
		logger:    logger,
	}
	if _, err := s.cron.AddFunc(spec, s.runScheduled); err != nil {
		return nil, fmt.Errorf("invalid discovery schedule %q: %w", spec, err)
	}
	return s, nil
}

// Start begins running on schedule. It does not block.
func (s *Scheduler) Start() {
	s.cron.Start()
	s.logger.Info("discovery scheduler started")
}

// Stop stops the schedule and waits for a running refresh to finish or ctx to expire
func (s *Scheduler) Stop(ctx context.Context) {
	done := s.cron.Stop()
	select {
	case <-done.Done():
	case <-ctx.Done():
		s.logger.Warn("discovery scheduler stop timed out")
	}
}

// RunNow refreshes immediately, outside the schedule
func (s *Scheduler) RunNow(ctx context.Context) (Report, error) {
	report, err := s.refresher.Refresh(ctx)

	s.mu.Lock()
	s.last = report
	s.lastErr = err
	s.runs++
	s.mu.Unlock()

	if err != nil {
		s.logger.Error("candidate refresh failed", zap.Error(err))
	}
	return report, err
}

// Last returns the most recent report, the number of runs and the last error
func (s *Scheduler) Last() (Report, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last, s.runs, s.lastErr
}

func (s *Scheduler) runScheduled() {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()
	_, _ = s.RunNow(ctx)
}
