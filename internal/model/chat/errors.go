package chat

import (
	"errors"
	"fmt"
	"time"
)

// Failure taxonomy shared across the core services. Everything here is
// recoverable from the caller's point of view; none of these corrupt
// local state.
var (
	// ErrConsentRequired blocks dispatch while consent is still unset.
	ErrConsentRequired = errors.New("consent required before dispatch")
	// ErrAuthRequired rejects a secure upgrade for an unauthenticated tab.
	// Local data is preserved; the caller should offer a login redirect.
	ErrAuthRequired = errors.New("authentication required for secure storage")
	// ErrPersistenceFailed marks a failed consent or migration write.
	ErrPersistenceFailed = errors.New("remote persistence failed")
	// ErrMigrationInFlight rejects a second upgrade while one is pending.
	ErrMigrationInFlight = errors.New("migration already in flight")
	// ErrSessionNotFound is returned for unknown session ids.
	ErrSessionNotFound = errors.New("session not found")
	// ErrNetwork wraps transport-level failures talking to a collaborator.
	ErrNetwork = errors.New("collaborator unreachable")
)

// RateLimitedError reports a refused dispatch and how long to wait.
// Server-issued waits always win over the local countdown.
type RateLimitedError struct {
	RetryAfter time.Duration
	// FromServer is true when the wait came from an authoritative 429.
	FromServer bool
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("rate limited, retry after %s", e.RetryAfter.Round(time.Second))
}

// MigrationRequired signals that a consent upgrade is paused until the
// anonymous transcripts are migrated or discarded.
type MigrationRequired struct {
	PendingSessions int
}

func (e *MigrationRequired) Error() string {
	return fmt.Sprintf("migration of %d anonymous session(s) required before secure storage", e.PendingSessions)
}
