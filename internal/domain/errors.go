package domain

import (
	"errors"
	"fmt"
	"time"
)

// Error taxonomy for the sync loop. Each kind carries a distinct retry policy:
// AuthError and PermanentError abort the feed run, RateLimitedError retries
// after its explicit delay, TransientError retries with exponential backoff,
// MalformedItemError skips a single item, StorageError retries the failed
// durability operation and is fatal if it recurs.

// AuthError means the credential exchange was rejected or the remote stopped
// accepting our token. Not retried.
type AuthError struct {
	Err error
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("authentication rejected: %v", e.Err)
}

func (e *AuthError) Unwrap() error { return e.Err }

// RateLimitedError signals the remote asked us to slow down.
type RateLimitedError struct {
	RetryAfter time.Duration
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("rate limited, retry after %s", e.RetryAfter)
}

// TransientError covers network failures and remote 5xx responses; eligible
// for bounded retry with exponential backoff.
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("transient fetch failure: %v", e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

// PermanentError covers non-retryable remote rejections (4xx other than
// rate limiting). Surfaced to the operator, aborts the feed run.
type PermanentError struct {
	StatusCode int
	Err        error
}

func (e *PermanentError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("permanent fetch failure (status %d): %v", e.StatusCode, e.Err)
	}
	return fmt.Sprintf("permanent fetch failure (status %d)", e.StatusCode)
}

func (e *PermanentError) Unwrap() error { return e.Err }

// MalformedItemError marks a single raw item that cannot be normalized. The
// engine skips and counts it; the rest of the page proceeds.
type MalformedItemError struct {
	ExternalID string
	Reason     string
}

func (e *MalformedItemError) Error() string {
	if e.ExternalID != "" {
		return fmt.Sprintf("malformed item %s: %s", e.ExternalID, e.Reason)
	}
	return fmt.Sprintf("malformed item: %s", e.Reason)
}

// StorageError wraps a durability failure from the writer or checkpoint store.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage failure during %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

// IsRetryable reports whether err may be retried by the engine loop, and the
// explicit delay to honor before doing so (zero means the caller picks its
// own backoff).
func IsRetryable(err error) (time.Duration, bool) {
	var rl *RateLimitedError
	if errors.As(err, &rl) {
		return rl.RetryAfter, true
	}
	var tr *TransientError
	if errors.As(err, &tr) {
		return 0, true
	}
	var st *StorageError
	if errors.As(err, &st) {
		return 0, true
	}
	return 0, false
}

// FailureKindOf maps an error to the failure kind reported to the operator.
func FailureKindOf(err error) FailureKind {
	var auth *AuthError
	if errors.As(err, &auth) {
		return FailureAuth
	}
	var perm *PermanentError
	if errors.As(err, &perm) {
		return FailurePermanent
	}
	var st *StorageError
	if errors.As(err, &st) {
		return FailureStorage
	}
	return FailureUnknown
}
