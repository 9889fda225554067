// Package scheduler drives every periodic job off the adjusted clock
// and owns the unique-task registry for cancellable long-running work.
package scheduler

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/cunarist/solie/internal/services/manager"
)

// Job is one periodic unit of work. Errors are logged, never fatal.
type Job func(ctx context.Context, now time.Time) error

// Scheduler runs jobs on boundaries of their interval as seen by the
// adjusted clock. A job never overlaps itself: the next boundary is
// computed after the previous run finishes, so slow runs skip ticks
// instead of piling up.
type Scheduler struct {
	clock  manager.Clock
	logger *zap.Logger
	wg     sync.WaitGroup
}

func New(clock manager.Clock, logger *zap.Logger) *Scheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scheduler{clock: clock, logger: logger.Named("scheduler")}
}

// Every launches a goroutine firing job on each interval boundary until
// ctx ends.
func (s *Scheduler) Every(ctx context.Context, interval time.Duration, name string, job Job) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		for ctx.Err() == nil {
			now := s.clock.Now()
			next := now.Truncate(interval).Add(interval)
			if !sleepUntil(ctx, next.Sub(now)) {
				return
			}
			at := s.clock.Now()
			if err := job(ctx, at); err != nil {
				s.logger.Debug("periodic job", zap.String("job", name), zap.Error(err))
			}
		}
	}()
}

// Wait blocks until every launched job loop has returned.
func (s *Scheduler) Wait() {
	s.wg.Wait()
}

func sleepUntil(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
