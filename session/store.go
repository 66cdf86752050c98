package session

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrConflict is returned by Create when one of the uniqueness
	// invariants — (partition, key), (partition, session id), or
	// (partition, subject, session id) — would be violated. Surfaced to
	// the caller, never retried automatically.
	ErrConflict = errors.New("session conflicts with an existing record")

	// ErrNotFound is returned when a point target does not exist. On
	// update and delete paths this is an expected race with cleanup or
	// revocation, not a bug.
	ErrNotFound = errors.New("session not found")

	// ErrStoreUnavailable wraps transient backend failures. Interactive
	// callers surface it; the cleanup scheduler logs and continues.
	ErrStoreUnavailable = errors.New("session store unavailable")
)

// Store is the keyed CRUD plus filtered/paged query contract over session
// records. Uniqueness is enforced at this boundary because interactive
// login and refresh-token use can race to create records for the same
// subject; the store is the single source of truth for conflict
// detection.
//
// All operations are I/O-bound and honor context cancellation.
type Store interface {
	// Create inserts a new record, failing with ErrConflict when any
	// uniqueness invariant would be violated.
	Create(ctx context.Context, s *Session) error

	// Get returns the record for a key, or ErrNotFound.
	Get(ctx context.Context, partitionKey, key string) (*Session, error)

	// GetByFilter returns all records matching the filter, ordered by
	// session id for determinism.
	GetByFilter(ctx context.Context, partitionKey string, f Filter) ([]Session, error)

	// Query returns one page of records matching the query.
	Query(ctx context.Context, partitionKey string, q Query) (*QueryResult, error)

	// Update replaces the full record keyed by s.Key, failing with
	// ErrNotFound when the key no longer exists.
	Update(ctx context.Context, s *Session) error

	// DeleteByFilter removes matching records and reports how many went.
	// Deleting nothing is not an error.
	DeleteByFilter(ctx context.Context, partitionKey string, f Filter) (int, error)

	// GetExpired returns up to limit sessions whose expiration is
	// strictly before now, oldest first.
	GetExpired(ctx context.Context, partitionKey string, now time.Time, limit int) ([]Session, error)

	// DeleteExpired removes up to limit sessions whose expiration is
	// strictly before now and reports the count.
	DeleteExpired(ctx context.Context, partitionKey string, now time.Time, limit int) (int, error)
}
