package serversession

import (
	"errors"

	"github.com/oidckit/serversession/session"
	"github.com/oidckit/serversession/ticket"
)

// Store and codec sentinels are re-exported so callers can match with
// errors.Is without importing the subpackages.
var (
	// ErrConflict reports a uniqueness invariant violated on create.
	ErrConflict = session.ErrConflict

	// ErrNotFound reports a vanished point target. On update and delete
	// paths this is an expected concurrency outcome, logged at debug.
	ErrNotFound = session.ErrNotFound

	// ErrStoreUnavailable wraps transient storage failures.
	ErrStoreUnavailable = session.ErrStoreUnavailable

	// ErrTicketCorrupt reports an unreadable ticket. The owning session is
	// torn down and the caller must force re-authentication; at the
	// protocol boundary it is indistinguishable from "session absent".
	ErrTicketCorrupt = ticket.ErrDecode
)

var (
	// ErrCleanupAlreadyStarted is returned by an explicit concurrent
	// second start of the cleanup scheduler.
	ErrCleanupAlreadyStarted = errors.New("session cleanup already started, call StopCleanup first")

	// ErrUsageLimitExceeded is returned by the usage guard in strict mode
	// when tracking a key pushes the set past the configured limit.
	ErrUsageLimitExceeded = errors.New("usage limit exceeded")

	// ErrMultipleSessions reports that a (subject, session id) pair
	// resolved to more than one record, which the uniqueness invariants
	// should make impossible.
	ErrMultipleSessions = errors.New("multiple sessions matched")
)
