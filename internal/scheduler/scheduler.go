package scheduler

import (
	"context"
	"log/slog"
	"time"

	"reddit_archiver/internal/domain"
)

// Syncer runs all configured feeds once and reports per-feed results.
type Syncer interface {
	Sync(ctx context.Context) ([]*domain.RunReport, error)
}

// Scheduler re-runs the whole feed set on a fixed interval. Each round gets
// its own timeout so a stuck round cannot block the next one forever.
type Scheduler struct {
	syncer     Syncer
	interval   time.Duration
	runTimeout time.Duration
	logger     *slog.Logger
}

func NewScheduler(syncer Syncer, interval, runTimeout time.Duration, logger *slog.Logger) *Scheduler {
	return &Scheduler{
		syncer:     syncer,
		interval:   interval,
		runTimeout: runTimeout,
		logger:     logger,
	}
}

func (s *Scheduler) Start(ctx context.Context) error {
	s.logger.Info("scheduler started", "interval", s.interval, "run_timeout", s.runTimeout)

	s.runSync(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("scheduler stopped")
			return ctx.Err()
		case <-ticker.C:
			s.runSync(ctx)
		}
	}
}

func (s *Scheduler) runSync(ctx context.Context) {
	syncCtx, cancel := context.WithTimeout(ctx, s.runTimeout)
	defer cancel()

	reports, err := s.syncer.Sync(syncCtx)
	if err != nil {
		s.logger.Error("sync round finished with failures", "error", err)
	}

	for _, report := range reports {
		if report == nil || report.Failed() {
			continue
		}
		s.logger.Debug("feed round summary",
			"feed", report.FeedKey,
			"state", report.FinalState,
			"pages", report.Stats.Pages,
		)
	}
}
