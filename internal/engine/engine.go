package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"

	"reddit_archiver/internal/config"
	"reddit_archiver/internal/domain"
	"reddit_archiver/internal/metrics"
)

const defaultMaxAttempts = 5

// errRetriesExhausted marks a retryable failure that outlived its attempt
// budget.
var errRetriesExhausted = errors.New("retry budget exhausted")

// Engine walks one feed: fetch a page, normalize it, commit it, checkpoint
// it, repeat until the feed drains. A feed is owned by exactly one engine;
// parallelism across feeds comes from running several engines side by side.
//
// Work only ever stops between pages. Once a page is being committed it is
// carried through to the checkpoint, so a shutdown can never leave a page
// half archived.
type Engine struct {
	feed        domain.Feed
	auth        AuthProvider
	fetcher     Fetcher
	normalizer  Normalizer
	writer      Writer
	checkpoints CheckpointStore
	publisher   Publisher
	recorder    *metrics.Recorder
	logger      *slog.Logger
	cfg         config.SyncConfig

	// Injected in tests.
	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

func New(
	feed domain.Feed,
	auth AuthProvider,
	fetcher Fetcher,
	normalizer Normalizer,
	writer Writer,
	checkpoints CheckpointStore,
	publisher Publisher,
	recorder *metrics.Recorder,
	logger *slog.Logger,
	cfg config.SyncConfig,
) *Engine {
	return &Engine{
		feed:        feed,
		auth:        auth,
		fetcher:     fetcher,
		normalizer:  normalizer,
		writer:      writer,
		checkpoints: checkpoints,
		publisher:   publisher,
		recorder:    recorder,
		logger:      logger.With("feed", feed.Key()),
		cfg:         cfg,
		now:         time.Now,
		sleep:       sleepContext,
	}
}

// Run executes one synchronization run of the feed. The returned report is
// never nil; the error is non-nil only when the run ended in Failed.
func (e *Engine) Run(ctx context.Context) (*domain.RunReport, error) {
	started := e.now()
	report := &domain.RunReport{
		RunID:      uuid.NewString(),
		FeedKey:    e.feed.Key(),
		FinalState: domain.StateIdle,
	}
	logger := e.logger.With("run_id", report.RunID)

	logger.Info("starting run",
		"max_pages", e.cfg.MaxPagesPerRun,
		"max_attempts", e.maxAttempts(),
	)

	report.FinalState = domain.StateAuthenticating
	if _, err := e.auth.Token(ctx); err != nil {
		return e.fail(ctx, report, started, logger, err)
	}

	cp, err := e.checkpoints.Load(ctx, report.FeedKey)
	if err != nil {
		return e.fail(ctx, report, started, logger, err)
	}

	if cp.Drained {
		if !e.cfg.RestartOnDrain {
			logger.Info("feed already drained", "cycle", cp.Cycle)
			report.FinalState = domain.StateDraining
			return e.finish(ctx, report, started, logger), nil
		}
		fresh := cp.NextCycle()
		cp = &fresh
		logger.Info("starting new cycle", "cycle", cp.Cycle)
	}

	if cp.Cursor != nil {
		logger.Info("resuming from checkpoint", "position", cp.Position, "cycle", cp.Cycle)
	}

	bo := e.newBackOff()
	attempts := 0

	for {
		if err := ctx.Err(); err != nil {
			logger.Info("stopping between pages", "position", cp.Position)
			report.FinalState = domain.StateStopped
			return e.finish(ctx, report, started, logger), nil
		}
		if e.cfg.MaxPagesPerRun > 0 && report.Stats.Pages >= e.cfg.MaxPagesPerRun {
			logger.Info("page budget reached", "pages", report.Stats.Pages)
			report.FinalState = domain.StateStopped
			return e.finish(ctx, report, started, logger), nil
		}

		report.FinalState = domain.StateFetching
		page, err := e.fetcher.Fetch(ctx, cp.Cursor)
		if err != nil {
			if err := e.backOff(ctx, err, bo, &attempts, logger); err != nil {
				return e.fail(ctx, report, started, logger, err)
			}
			continue
		}

		report.FinalState = domain.StateNormalizing
		items, malformed := e.normalizePage(page, logger)

		report.FinalState = domain.StateCommitting
		result, err := e.writer.Commit(ctx, items)
		if err != nil {
			// The transaction rolled the page back whole; walk it again
			// from the same cursor.
			if err := e.backOff(ctx, err, bo, &attempts, logger); err != nil {
				return e.fail(ctx, report, started, logger, err)
			}
			continue
		}

		report.FinalState = domain.StateCheckpointing
		next := cp.Next(page.NextCursor)
		if err := e.saveCheckpoint(ctx, next, bo, logger); err != nil {
			return e.fail(ctx, report, started, logger, err)
		}
		*cp = next

		attempts = 0
		bo.Reset()

		report.Stats.Pages++
		report.Stats.Inserted += result.Inserted
		report.Stats.Updated += result.Updated
		report.Stats.Unchanged += result.Unchanged
		report.Stats.Skipped += result.Skipped + malformed

		e.recorder.PageCommitted(report.FeedKey, result)
		e.recorder.CheckpointAdvanced(report.FeedKey, next.Position)
		e.publishPage(ctx, report, next, result, logger)

		logger.Info("page committed",
			"position", next.Position,
			"inserted", result.Inserted,
			"updated", result.Updated,
			"unchanged", result.Unchanged,
			"skipped", result.Skipped,
			"malformed", malformed,
		)

		if next.Drained {
			logger.Info("feed drained", "pages", report.Stats.Pages, "cycle", next.Cycle)
			report.FinalState = domain.StateDraining
			return e.finish(ctx, report, started, logger), nil
		}
	}
}

// normalizePage converts raw items, dropping the malformed ones. A bad item
// never aborts its page.
func (e *Engine) normalizePage(page *domain.Page, logger *slog.Logger) ([]domain.ArchivedItem, int) {
	items := make([]domain.ArchivedItem, 0, len(page.Items))
	malformed := 0

	for _, raw := range page.Items {
		item, err := e.normalizer.Normalize(raw)
		if err != nil {
			malformed++
			e.recorder.MalformedItem(e.feed.Key())
			logger.Warn("skipping malformed item", "error", err)
			continue
		}
		items = append(items, *item)
	}

	return items, malformed
}

// backOff waits before the next attempt at the current page. Returns an error
// when the cause is not retryable, the attempt budget is spent, or the wait
// itself is cancelled. Rate-limited failures wait the server-advertised
// delay; everything else follows the exponential schedule.
func (e *Engine) backOff(ctx context.Context, cause error, bo backoff.BackOff, attempts *int, logger *slog.Logger) error {
	delay, retryable := domain.IsRetryable(cause)
	if !retryable {
		return cause
	}

	*attempts++
	if *attempts >= e.maxAttempts() {
		return fmt.Errorf("%w after %d attempts: %w", errRetriesExhausted, *attempts, cause)
	}

	reason := "backoff"
	if delay > 0 {
		reason = "rate_limited"
	} else {
		delay = bo.NextBackOff()
	}

	e.recorder.Retry(e.feed.Key(), reason)
	logger.Warn("attempt failed, waiting before retry",
		"attempt", *attempts,
		"delay", delay,
		"reason", reason,
		"error", cause,
	)

	return e.sleep(ctx, delay)
}

// saveCheckpoint durably records cp, retrying storage failures. Progress
// must never outrun durability, so a save that keeps failing ends the run.
func (e *Engine) saveCheckpoint(ctx context.Context, cp domain.SyncCheckpoint, bo backoff.BackOff, logger *slog.Logger) error {
	var lastErr error

	for attempt := 1; attempt <= e.maxAttempts(); attempt++ {
		if attempt > 1 {
			if err := e.sleep(ctx, bo.NextBackOff()); err != nil {
				return err
			}
		}

		err := e.checkpoints.Save(ctx, cp)
		if err == nil {
			return nil
		}
		lastErr = err

		if _, retryable := domain.IsRetryable(err); !retryable {
			return err
		}

		e.recorder.Retry(e.feed.Key(), "checkpoint")
		logger.Warn("checkpoint save failed, retrying",
			"attempt", attempt,
			"position", cp.Position,
			"error", err,
		)
	}

	return fmt.Errorf("%w: %w", errRetriesExhausted, lastErr)
}

func (e *Engine) publishPage(ctx context.Context, report *domain.RunReport, cp domain.SyncCheckpoint, result domain.CommitResult, logger *slog.Logger) {
	if e.publisher == nil {
		return
	}

	event := &domain.PageEvent{
		FeedKey:     report.FeedKey,
		RunID:       report.RunID,
		Cycle:       cp.Cycle,
		Position:    cp.Position,
		Result:      result,
		CommittedAt: e.now(),
	}
	if err := e.publisher.PublishPage(ctx, event); err != nil {
		// Events are best effort; the archive itself is already durable.
		logger.Warn("publish page event failed", "error", err)
	}
}

func (e *Engine) publishRun(ctx context.Context, report *domain.RunReport, logger *slog.Logger) {
	if e.publisher == nil {
		return
	}
	if err := e.publisher.PublishRun(ctx, report); err != nil {
		logger.Warn("publish run event failed", "error", err)
	}
}

// finish closes out a run that did not fail.
func (e *Engine) finish(ctx context.Context, report *domain.RunReport, started time.Time, logger *slog.Logger) *domain.RunReport {
	report.Duration = e.now().Sub(started)
	e.recorder.RunFinished(report.FeedKey, report.FinalState)
	e.publishRun(ctx, report, logger)

	logger.Info("run finished",
		"state", report.FinalState,
		"pages", report.Stats.Pages,
		"inserted", report.Stats.Inserted,
		"updated", report.Stats.Updated,
		"unchanged", report.Stats.Unchanged,
		"skipped", report.Stats.Skipped,
		"duration", report.Duration,
	)
	return report
}

// fail closes out a run that hit a fatal error. Cancellation is not a
// failure: a run interrupted at a wait point ends in Stopped with a clean
// report.
func (e *Engine) fail(ctx context.Context, report *domain.RunReport, started time.Time, logger *slog.Logger, cause error) (*domain.RunReport, error) {
	if errors.Is(cause, context.Canceled) || errors.Is(cause, context.DeadlineExceeded) {
		logger.Info("run cancelled", "during", report.FinalState)
		report.FinalState = domain.StateStopped
		return e.finish(ctx, report, started, logger), nil
	}

	if errors.Is(cause, errRetriesExhausted) {
		report.FailureKind = domain.FailureExhaustedRetries
	} else {
		report.FailureKind = domain.FailureKindOf(cause)
	}
	report.Err = cause
	report.FinalState = domain.StateFailed
	report.Duration = e.now().Sub(started)

	e.recorder.RunFinished(report.FeedKey, report.FinalState)
	e.publishRun(ctx, report, logger)

	logger.Error("run failed",
		"kind", report.FailureKind,
		"pages", report.Stats.Pages,
		"duration", report.Duration,
		"error", cause,
	)
	return report, cause
}

func (e *Engine) maxAttempts() int {
	if e.cfg.MaxAttempts > 0 {
		return e.cfg.MaxAttempts
	}
	return defaultMaxAttempts
}

func (e *Engine) newBackOff() backoff.BackOff {
	bo := backoff.NewExponentialBackOff()
	if e.cfg.InitialBackoff > 0 {
		bo.InitialInterval = e.cfg.InitialBackoff
	}
	if e.cfg.MaxBackoff > 0 {
		bo.MaxInterval = e.cfg.MaxBackoff
	}
	bo.Reset()
	return bo
}

func sleepContext(ctx context.Context, d time.Duration) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}
