package domain

import (
	"encoding/json"
	"time"
)

// ItemKind distinguishes the two archived content types.
type ItemKind string

const (
	KindPost    ItemKind = "post"
	KindComment ItemKind = "comment"
)

// Cursor is the opaque pagination token handed back by the remote listing.
// An empty value never occurs; absence is expressed with a nil *Cursor.
type Cursor string

// RawItem is one undecoded listing entry: the remote kind tag plus the raw
// JSON payload. Decoding and validation belong to the normalizer.
type RawItem struct {
	Kind string // "t1" (comment) or "t3" (post)
	Data json.RawMessage
}

// Page is one fetched slice of a remote listing. Items preserve the remote
// return order. A nil NextCursor marks end-of-stream.
type Page struct {
	Items      []RawItem
	NextCursor *Cursor
}

// Payload is the normalized content of one post or comment. Its canonical
// JSON encoding is the input to the revision hash, so field set and tags are
// part of the storage contract.
type Payload struct {
	Title         string  `json:"title,omitempty"`
	Body          *string `json:"body,omitempty"`
	Author        *string `json:"author,omitempty"`
	Subreddit     string  `json:"subreddit"`
	Score         int64   `json:"score"`
	URL           string  `json:"url,omitempty"`
	Permalink     string  `json:"permalink,omitempty"`
	NumComments   *int64  `json:"num_comments,omitempty"`
	ParentID      *string `json:"parent_id,omitempty"`
	LinkID        *string `json:"link_id,omitempty"`
	Distinguished bool    `json:"distinguished"`
	Stickied      bool    `json:"stickied"`
	Removed       bool    `json:"removed"`
	Edited        bool    `json:"edited"`
}

// ArchivedItem is one remote content unit. ExternalID (the remote fullname,
// e.g. "t3_abc123") is the sole identity key: re-fetches of the same fullname
// update the stored row in place, never duplicate it.
type ArchivedItem struct {
	ExternalID   string
	Kind         ItemKind
	CreatedAt    time.Time
	Payload      Payload
	FetchedAt    time.Time
	RevisionHash string
}

// CommitResult reports what one transactional page commit did.
type CommitResult struct {
	Inserted  int
	Updated   int
	Unchanged int
	Skipped   int
}

// Add folds another result into r.
func (r *CommitResult) Add(other CommitResult) {
	r.Inserted += other.Inserted
	r.Updated += other.Updated
	r.Unchanged += other.Unchanged
	r.Skipped += other.Skipped
}
