package engine

//go:generate mockgen -source=interfaces.go -destination=mocks/mocks.go -package=mocks

import (
	"context"

	"reddit_archiver/internal/domain"
)

type AuthProvider interface {
	Token(ctx context.Context) (string, error)
}

type Fetcher interface {
	Fetch(ctx context.Context, cursor *domain.Cursor) (*domain.Page, error)
}

type Normalizer interface {
	Normalize(raw domain.RawItem) (*domain.ArchivedItem, error)
}

type Writer interface {
	Commit(ctx context.Context, items []domain.ArchivedItem) (domain.CommitResult, error)
}

type CheckpointStore interface {
	Load(ctx context.Context, feedKey string) (*domain.SyncCheckpoint, error)
	Save(ctx context.Context, cp domain.SyncCheckpoint) error
}

type Publisher interface {
	PublishPage(ctx context.Context, event *domain.PageEvent) error
	PublishRun(ctx context.Context, report *domain.RunReport) error
}
