package domain

import "time"

// SyncCheckpoint is the durable resume position for one archived feed.
//
// Ordering is (Cycle, Position): Position is the page ordinal inside one walk
// of the listing, Cycle increments when a drained feed is deliberately walked
// again from the top. A checkpoint only ever advances along that order; it is
// rewound solely by an explicit operator reset.
type SyncCheckpoint struct {
	FeedKey        string    `db:"feed_key"`
	Cursor         *Cursor   `db:"cursor"`
	Position       int64     `db:"position"`
	Cycle          int64     `db:"cycle"`
	Drained        bool      `db:"drained"`
	LastAdvancedAt time.Time `db:"last_advanced_at"`
}

// Next returns the checkpoint that follows cp after committing a page whose
// next cursor is c. A nil c marks the walk as drained.
func (cp SyncCheckpoint) Next(c *Cursor) SyncCheckpoint {
	next := cp
	next.Cursor = c
	next.Position = cp.Position + 1
	next.Drained = c == nil
	return next
}

// NextCycle returns the start of a fresh walk of the same feed.
func (cp SyncCheckpoint) NextCycle() SyncCheckpoint {
	return SyncCheckpoint{
		FeedKey: cp.FeedKey,
		Cycle:   cp.Cycle + 1,
	}
}
