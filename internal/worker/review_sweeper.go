package worker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/garyjia/contract-pipeline/internal/review"
	"go.uber.org/zap"
)

// ReviewSweeper periodically resolves pending review tasks whose advisory
// deadline has elapsed, moving the matching workflows to timed_out.
type ReviewSweeper struct {
	reviews *review.Manager
	logger  *zap.Logger

	sweepInterval time.Duration

	mu        sync.RWMutex
	isRunning bool
	ctx       context.Context
	cancel    context.CancelFunc
}

// NewReviewSweeper creates a review timeout sweeper. A non-positive interval
// falls back to one minute.
func NewReviewSweeper(reviews *review.Manager, sweepInterval time.Duration, logger *zap.Logger) *ReviewSweeper {
	if sweepInterval <= 0 {
		sweepInterval = time.Minute
	}
	return &ReviewSweeper{
		reviews:       reviews,
		logger:        logger,
		sweepInterval: sweepInterval,
	}
}

// Start starts the sweeper loop
func (s *ReviewSweeper) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.isRunning {
		return fmt.Errorf("review sweeper is already running")
	}

	s.ctx, s.cancel = context.WithCancel(ctx)
	s.isRunning = true

	s.logger.Info("ReviewSweeper started",
		zap.Duration("sweep_interval", s.sweepInterval))

	go s.sweepLoop()

	return nil
}

// Stop stops the sweeper
func (s *ReviewSweeper) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.isRunning {
		return
	}

	s.isRunning = false
	if s.cancel != nil {
		s.cancel()
	}

	s.logger.Info("ReviewSweeper stopped")
}

// Name returns the worker name for identification
func (s *ReviewSweeper) Name() string {
	return "ReviewSweeper"
}

func (s *ReviewSweeper) sweepLoop() {
	ticker := time.NewTicker(s.sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			s.sweep()
		}
	}
}

// sweep times out every overdue pending task. Failures on one task never stop
// the rest of the batch; a task that was resolved between the query and the
// timeout call just logs and moves on.
func (s *ReviewSweeper) sweep() {
	tasks, err := s.reviews.TimedOut(s.ctx, time.Now())
	if err != nil {
		s.logger.Error("Failed to query timed out reviews", zap.Error(err))
		return
	}
	if len(tasks) == 0 {
		return
	}

	s.logger.Info("Sweeping timed out reviews", zap.Int("count", len(tasks)))

	for _, task := range tasks {
		if _, err := s.reviews.Timeout(s.ctx, task.ID); err != nil {
			s.logger.Warn("Failed to time out review task",
				zap.String("review_task_id", task.ID),
				zap.String("workflow_id", task.WorkflowID),
				zap.Error(err))
		}
	}
}
