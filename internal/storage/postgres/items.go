package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"reddit_archiver/internal/domain"
)

// ErrItemNotFound is returned by lookups for an external ID that was never
// archived.
var ErrItemNotFound = errors.New("archived item not found")

// ItemStore persists archived items. Commit implements the page writer the
// sync engine drives.
type ItemStore struct {
	db *sqlx.DB
	tm *TransactionManager
}

func NewItemStore(db *sqlx.DB, tm *TransactionManager) *ItemStore {
	return &ItemStore{db: db, tm: tm}
}

// Commit writes one fetched page in a single transaction. Rows whose stored
// revision hash already matches are left untouched, so re-committing the same
// page after a crash converges on identical state. Duplicate external IDs
// within the page are skipped after their first occurrence. Any failure rolls
// the whole page back.
func (s *ItemStore) Commit(ctx context.Context, items []domain.ArchivedItem) (domain.CommitResult, error) {
	var result domain.CommitResult
	if len(items) == 0 {
		return result, nil
	}

	err := s.tm.WithTransaction(ctx, func(txCtx context.Context) error {
		ids := make([]string, 0, len(items))
		for i := range items {
			ids = append(ids, items[i].ExternalID)
		}

		existing, err := s.existingRevisions(txCtx, ids)
		if err != nil {
			return fmt.Errorf("load revisions: %w", err)
		}

		seen := make(map[string]struct{}, len(items))
		for i := range items {
			item := &items[i]

			if _, dup := seen[item.ExternalID]; dup {
				result.Skipped++
				continue
			}
			seen[item.ExternalID] = struct{}{}

			prev, exists := existing[item.ExternalID]
			if exists && prev == item.RevisionHash {
				result.Unchanged++
				continue
			}

			if err := s.upsert(txCtx, item); err != nil {
				return fmt.Errorf("upsert %s: %w", item.ExternalID, err)
			}
			if exists {
				result.Updated++
			} else {
				result.Inserted++
			}
		}
		return nil
	})
	if err != nil {
		return domain.CommitResult{}, &domain.StorageError{Op: "commit page", Err: err}
	}

	return result, nil
}

func (s *ItemStore) existingRevisions(ctx context.Context, ids []string) (map[string]string, error) {
	query := `SELECT external_id, revision_hash FROM archived_items WHERE external_id = ANY($1)`

	rows, err := GetExecutor(ctx, s.db).QueryContext(ctx, query, pq.Array(ids))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := make(map[string]string, len(ids))
	for rows.Next() {
		var externalID, hash string
		if err := rows.Scan(&externalID, &hash); err != nil {
			return nil, err
		}
		result[externalID] = hash
	}

	return result, rows.Err()
}

func (s *ItemStore) upsert(ctx context.Context, item *domain.ArchivedItem) error {
	// kind and created_at are immutable once archived; the conflict branch
	// refreshes payload columns only. The revision guard turns concurrent
	// writes of the same content from overlapping feeds into no-ops.
	query := `
		INSERT INTO archived_items (
			external_id, kind, created_at, title, body, author, subreddit,
			score, url, permalink, num_comments, parent_id, link_id,
			distinguished, stickied, removed, edited, revision_hash, fetched_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, NOW()
		)
		ON CONFLICT (external_id) DO UPDATE SET
			title = EXCLUDED.title,
			body = EXCLUDED.body,
			author = EXCLUDED.author,
			subreddit = EXCLUDED.subreddit,
			score = EXCLUDED.score,
			url = EXCLUDED.url,
			permalink = EXCLUDED.permalink,
			num_comments = EXCLUDED.num_comments,
			parent_id = EXCLUDED.parent_id,
			link_id = EXCLUDED.link_id,
			distinguished = EXCLUDED.distinguished,
			stickied = EXCLUDED.stickied,
			removed = EXCLUDED.removed,
			edited = EXCLUDED.edited,
			revision_hash = EXCLUDED.revision_hash,
			fetched_at = EXCLUDED.fetched_at
		WHERE archived_items.revision_hash IS DISTINCT FROM EXCLUDED.revision_hash`

	p := item.Payload
	_, err := GetExecutor(ctx, s.db).ExecContext(ctx, query,
		item.ExternalID,
		item.Kind,
		item.CreatedAt,
		p.Title,
		p.Body,
		p.Author,
		p.Subreddit,
		p.Score,
		p.URL,
		p.Permalink,
		p.NumComments,
		p.ParentID,
		p.LinkID,
		p.Distinguished,
		p.Stickied,
		p.Removed,
		p.Edited,
		item.RevisionHash,
	)
	return err
}

// GetByExternalID loads a single archived item.
func (s *ItemStore) GetByExternalID(ctx context.Context, externalID string) (*domain.ArchivedItem, error) {
	query := `
		SELECT external_id, kind, created_at, title, body, author, subreddit,
			score, url, permalink, num_comments, parent_id, link_id,
			distinguished, stickied, removed, edited, revision_hash, fetched_at
		FROM archived_items
		WHERE external_id = $1`

	var row itemRow
	err := s.db.GetContext(ctx, &row, query, externalID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrItemNotFound
	}
	if err != nil {
		return nil, &domain.StorageError{Op: "get item", Err: err}
	}

	return row.toDomain(), nil
}

// CountByKind reports how many items of each kind are archived; backs the
// one-shot run summary.
func (s *ItemStore) CountByKind(ctx context.Context) (map[domain.ItemKind]int64, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT kind, COUNT(*) FROM archived_items GROUP BY kind`)
	if err != nil {
		return nil, &domain.StorageError{Op: "count items", Err: err}
	}
	defer rows.Close()

	counts := make(map[domain.ItemKind]int64)
	for rows.Next() {
		var kind string
		var n int64
		if err := rows.Scan(&kind, &n); err != nil {
			return nil, &domain.StorageError{Op: "count items", Err: err}
		}
		counts[domain.ItemKind(kind)] = n
	}
	if err := rows.Err(); err != nil {
		return nil, &domain.StorageError{Op: "count items", Err: err}
	}

	return counts, nil
}

type itemRow struct {
	ExternalID    string    `db:"external_id"`
	Kind          string    `db:"kind"`
	CreatedAt     time.Time `db:"created_at"`
	Title         string    `db:"title"`
	Body          *string   `db:"body"`
	Author        *string   `db:"author"`
	Subreddit     string    `db:"subreddit"`
	Score         int64     `db:"score"`
	URL           string    `db:"url"`
	Permalink     string    `db:"permalink"`
	NumComments   *int64    `db:"num_comments"`
	ParentID      *string   `db:"parent_id"`
	LinkID        *string   `db:"link_id"`
	Distinguished bool      `db:"distinguished"`
	Stickied      bool      `db:"stickied"`
	Removed       bool      `db:"removed"`
	Edited        bool      `db:"edited"`
	RevisionHash  string    `db:"revision_hash"`
	FetchedAt     time.Time `db:"fetched_at"`
}

func (r *itemRow) toDomain() *domain.ArchivedItem {
	return &domain.ArchivedItem{
		ExternalID: r.ExternalID,
		Kind:       domain.ItemKind(r.Kind),
		CreatedAt:  r.CreatedAt,
		Payload: domain.Payload{
			Title:         r.Title,
			Body:          r.Body,
			Author:        r.Author,
			Subreddit:     r.Subreddit,
			Score:         r.Score,
			URL:           r.URL,
			Permalink:     r.Permalink,
			NumComments:   r.NumComments,
			ParentID:      r.ParentID,
			LinkID:        r.LinkID,
			Distinguished: r.Distinguished,
			Stickied:      r.Stickied,
			Removed:       r.Removed,
			Edited:        r.Edited,
		},
		FetchedAt:    r.FetchedAt,
		RevisionHash: r.RevisionHash,
	}
}
