// Package scheduler runs the daily closure pass over active issues.
package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/decisionhub/backend/internal/engine"
	"github.com/decisionhub/backend/pkg/logger"
)

const DefaultSpec = "0 0 * * *"

// Closer is the engine operation the scheduler triggers.
type Closer interface {
	AutoClose(ctx context.Context, now time.Time) ([]engine.CloseOutcome, error)
}

type Scheduler struct {
	cron    *cron.Cron
	closer  Closer
	timeout time.Duration
	now     func() time.Time
}

// New validates spec (standard five-field cron syntax) and registers the
// closure job. Nothing runs until Start.
func New(spec string, closer Closer, timeout time.Duration) (*Scheduler, error) {
	if spec == "" {
		spec = DefaultSpec
	}
	if timeout <= 0 {
		timeout = 10 * time.Minute
	}

	s := &Scheduler{
		cron:    cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger))),
		closer:  closer,
		timeout: timeout,
		now:     time.Now,
	}
	if _, err := s.cron.AddFunc(spec, s.run); err != nil {
		return nil, fmt.Errorf("invalid auto-close schedule %q: %w", spec, err)
	}
	return s, nil
}

func (s *Scheduler) Start() {
	s.cron.Start()
	logger.Info("Auto-close scheduler started")
}

// Stop halts the scheduler and waits for a running pass to finish or ctx to
// end.
func (s *Scheduler) Stop(ctx context.Context) {
	done := s.cron.Stop()
	select {
	case <-done.Done():
	case <-ctx.Done():
		logger.Warn("Auto-close pass still running at shutdown")
	}
}

func (s *Scheduler) run() {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()
	if _, err := s.RunOnce(ctx); err != nil {
		logger.Error("Auto-close pass failed", zap.Error(err))
	}
}

// RunOnce performs one closure pass immediately.
func (s *Scheduler) RunOnce(ctx context.Context) ([]engine.CloseOutcome, error) {
	start := s.now()
	out, err := s.closer.AutoClose(ctx, start)
	if err != nil {
		return nil, err
	}

	failed := 0
	for _, o := range out {
		if o.Err != "" {
			failed++
		}
	}
	logger.Info("Auto-close pass completed",
		zap.Int("issues", len(out)),
		zap.Int("failed", failed),
		zap.Duration("duration", time.Since(start)),
	)
	return out, nil
}
