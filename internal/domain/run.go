package domain

import "time"

// EngineState names the sync loop's current phase. Draining, Stopped and
// Failed are terminal.
type EngineState string

const (
	StateIdle           EngineState = "idle"
	StateAuthenticating EngineState = "authenticating"
	StateFetching       EngineState = "fetching"
	StateNormalizing    EngineState = "normalizing"
	StateCommitting     EngineState = "committing"
	StateCheckpointing  EngineState = "checkpointing"
	StateDraining       EngineState = "draining"
	StateStopped        EngineState = "stopped"
	StateFailed         EngineState = "failed"
)

// FailureKind classifies a terminal failure for the operator summary.
type FailureKind string

const (
	FailureNone             FailureKind = ""
	FailureAuth             FailureKind = "auth"
	FailurePermanent        FailureKind = "permanent"
	FailureStorage          FailureKind = "storage"
	FailureExhaustedRetries FailureKind = "exhausted_retries"
	FailureUnknown          FailureKind = "unknown"
)

// RunStats counts what one feed run did.
type RunStats struct {
	Pages     int
	Inserted  int
	Updated   int
	Unchanged int
	Skipped   int
}

// RunReport is the summary of one feed run, terminal state included.
type RunReport struct {
	RunID       string
	FeedKey     string
	Stats       RunStats
	FinalState  EngineState
	FailureKind FailureKind
	Err         error
	Duration    time.Duration
}

// Failed reports whether the run ended in the Failed state.
func (r *RunReport) Failed() bool {
	return r.FinalState == StateFailed
}

// PageEvent describes one durably committed page. Emitted after the commit
// transaction succeeds, so consumers never observe a page the database could
// still lose.
type PageEvent struct {
	FeedKey     string
	RunID       string
	Cycle       int64
	Position    int64
	Result      CommitResult
	CommittedAt time.Time
}
