package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"

	"reddit_archiver/internal/domain"
)

// ErrStaleCheckpoint is returned when a save would move a checkpoint
// backwards. Checkpoints only advance; a stale save means two workers are
// walking the same feed, which the refusing side must treat as fatal rather
// than retry.
var ErrStaleCheckpoint = errors.New("checkpoint save is behind the stored position")

// CheckpointStore persists per-feed resume positions.
type CheckpointStore struct {
	db *sqlx.DB
}

func NewCheckpointStore(db *sqlx.DB) *CheckpointStore {
	return &CheckpointStore{db: db}
}

// Load returns the checkpoint for feedKey. Feeds that were never synced get
// a zero checkpoint: cycle 0, position 0, nil cursor.
func (s *CheckpointStore) Load(ctx context.Context, feedKey string) (*domain.SyncCheckpoint, error) {
	var cp domain.SyncCheckpoint
	query := `
		SELECT feed_key, cursor, position, cycle, drained, last_advanced_at
		FROM sync_checkpoints
		WHERE feed_key = $1`

	err := s.db.GetContext(ctx, &cp, query, feedKey)
	if errors.Is(err, sql.ErrNoRows) {
		return &domain.SyncCheckpoint{FeedKey: feedKey}, nil
	}
	if err != nil {
		return nil, &domain.StorageError{Op: "load checkpoint", Err: err}
	}
	return &cp, nil
}

// Save durably records cp. The guard in the conflict branch refuses saves
// behind the stored (cycle, position), so a crashed-and-resumed worker can
// never rewind progress written by a newer one. Re-saving the stored position
// is accepted: a retried save after an ambiguous connection failure may land
// on the exact row it already wrote.
func (s *CheckpointStore) Save(ctx context.Context, cp domain.SyncCheckpoint) error {
	query := `
		INSERT INTO sync_checkpoints (feed_key, cursor, position, cycle, drained, last_advanced_at)
		VALUES ($1, $2, $3, $4, $5, NOW())
		ON CONFLICT (feed_key) DO UPDATE SET
			cursor = EXCLUDED.cursor,
			position = EXCLUDED.position,
			cycle = EXCLUDED.cycle,
			drained = EXCLUDED.drained,
			last_advanced_at = EXCLUDED.last_advanced_at
		WHERE (EXCLUDED.cycle, EXCLUDED.position) >= (sync_checkpoints.cycle, sync_checkpoints.position)
		RETURNING feed_key`

	var saved string
	err := s.db.QueryRowContext(ctx, query,
		cp.FeedKey,
		cp.Cursor,
		cp.Position,
		cp.Cycle,
		cp.Drained,
	).Scan(&saved)

	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("checkpoint %s at cycle %d position %d: %w", cp.FeedKey, cp.Cycle, cp.Position, ErrStaleCheckpoint)
	}
	if err != nil {
		return &domain.StorageError{Op: "save checkpoint", Err: err}
	}
	return nil
}

// Reset deletes the checkpoint so the next run starts the feed from the head.
// Archived items are left in place; this is the only supported way to rewind.
func (s *CheckpointStore) Reset(ctx context.Context, feedKey string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM sync_checkpoints WHERE feed_key = $1`, feedKey)
	if err != nil {
		return &domain.StorageError{Op: "reset checkpoint", Err: err}
	}
	return nil
}
