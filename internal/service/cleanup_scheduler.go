package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/clinicops/authcore/internal/observability"
)

type CleanupSchedulerConfig struct {
	SweepInterval time.Duration
	TrimInterval  time.Duration
	LockTTL       time.Duration
}

// CleanupScheduler drives the sweep and the remember-me trim on independent tickers.
// Job failures and panics are logged and the next tick proceeds normally.
type CleanupScheduler struct {
	cleanup *CleanupService
	locker  JobLocker
	cfg     CleanupSchedulerConfig
	logger  *slog.Logger
}

func NewCleanupScheduler(cleanup *CleanupService, locker JobLocker, cfg CleanupSchedulerConfig, logger *slog.Logger) *CleanupScheduler {
	if locker == nil {
		locker = NewLocalJobLocker()
	}
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = 5 * time.Minute
	}
	return &CleanupScheduler{cleanup: cleanup, locker: locker, cfg: cfg, logger: logger}
}

// Run blocks until ctx is cancelled.
func (s *CleanupScheduler) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		s.loop(gctx, JobHourlySweep, s.cfg.SweepInterval, s.cleanup.RunHourlySweep)
		return nil
	})
	g.Go(func() error {
		s.loop(gctx, JobRememberMeTrim, s.cfg.TrimInterval, s.cleanup.RunRememberMeTrim)
		return nil
	})
	return g.Wait()
}

func (s *CleanupScheduler) loop(ctx context.Context, name string, every time.Duration, job func(context.Context) (int64, error)) {
	if every <= 0 {
		s.logger.Warn("cleanup job disabled", "job", name)
		return
	}
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	s.logger.Info("cleanup job scheduled", "job", name, "interval", every.String())
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.RunOnce(ctx, name, job)
		}
	}
}

// RunOnce executes one guarded run of job. It reports whether this process held the lock.
func (s *CleanupScheduler) RunOnce(ctx context.Context, name string, job func(context.Context) (int64, error)) (ran bool) {
	release, ok, err := s.locker.TryLock(ctx, name, s.cfg.LockTTL)
	if err != nil {
		s.logger.ErrorContext(ctx, "cleanup job lock failed", "job", name, "error", err)
		observability.RecordCleanupRun(ctx, name, "lock_error", 0)
		return false
	}
	if !ok {
		s.logger.DebugContext(ctx, "cleanup job held elsewhere", "job", name)
		observability.RecordCleanupRun(ctx, name, "skipped", 0)
		return false
	}
	defer release()

	defer func() {
		if r := recover(); r != nil {
			ran = true
			s.logger.ErrorContext(ctx, "cleanup job panicked", "job", name, "panic", fmt.Sprint(r))
			observability.RecordCleanupRun(ctx, name, "panic", 0)
		}
	}()
	started := time.Now()
	n, err := job(ctx)
	if err != nil {
		s.logger.ErrorContext(ctx, "cleanup job failed", "job", name, "error", err)
		return true
	}
	s.logger.InfoContext(ctx, "cleanup job finished", "job", name, "affected", n, "duration", time.Since(started).String())
	return true
}
