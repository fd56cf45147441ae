package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"reddit_archiver/internal/domain"
)

// Group runs the configured feeds with bounded parallelism. Feeds are
// independent: one feed failing never cancels the others, and the returned
// error joins every failure so the caller sees all of them at once.
type Group struct {
	engines []*Engine
	limit   int
	logger  *slog.Logger
}

func NewGroup(engines []*Engine, limit int, logger *slog.Logger) *Group {
	if limit <= 0 {
		limit = len(engines)
	}
	return &Group{
		engines: engines,
		limit:   limit,
		logger:  logger,
	}
}

// Sync runs every feed once and collects the reports. Reports are indexed in
// the same order as the configured feeds.
func (g *Group) Sync(ctx context.Context) ([]*domain.RunReport, error) {
	reports := make([]*domain.RunReport, len(g.engines))
	errs := make([]error, len(g.engines))

	var eg errgroup.Group
	eg.SetLimit(g.limit)

	for i, eng := range g.engines {
		eg.Go(func() error {
			report, err := eng.Run(ctx)
			reports[i] = report
			if err != nil {
				errs[i] = fmt.Errorf("feed %s: %w", report.FeedKey, err)
			}
			return nil
		})
	}

	// Workers never return errors to the group, so Wait only joins.
	_ = eg.Wait()

	failed := errors.Join(errs...)
	if failed != nil {
		g.logger.Error("sync finished with failed feeds", "feeds", len(g.engines), "error", failed)
	}
	return reports, failed
}
