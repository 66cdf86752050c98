// Package session provides the server-side session record, the store
// contract, and the bundled in-memory and Redis-backed implementations.
package session

import (
	"strings"
	"time"
)

// Session is the unit of server-side authentication state: one record per
// authenticated browser/client session, holding the encrypted ticket blob
// produced by the ticket codec.
type Session struct {
	// Key is the opaque primary handle, generated at creation and
	// immutable afterwards.
	Key string

	// PartitionKey namespaces all records of one logical application
	// instance. Never empty; part of every uniqueness constraint.
	PartitionKey string

	// SubjectID is the authenticated principal's stable identifier.
	SubjectID string

	// SessionID identifies one login event. Unlike SubjectID it changes
	// across repeated logins by the same subject.
	SessionID string

	// DisplayName is denormalized from the ticket for query filtering.
	DisplayName string

	Created time.Time

	// Renewed updates whenever the ticket is re-serialized due to token
	// refresh or sliding extension.
	Renewed time.Time

	// Expires is the absolute expiration. Nil means no expiration is
	// tracked and the record survives until explicitly deleted.
	Expires *time.Time

	// Ticket is the encrypted blob produced by the ticket codec.
	Ticket []byte
}

// CheckExpired reports whether the session is logically dead at the given
// instant. The boundary is pinned strictly: a session whose Expires
// equals now is still live.
func (s *Session) CheckExpired(now time.Time) bool {
	return s.Expires != nil && s.Expires.Before(now)
}

// Clone returns a deep copy so callers can mutate results without
// aliasing store-internal state.
func (s *Session) Clone() *Session {
	if s == nil {
		return nil
	}
	dup := *s
	if s.Expires != nil {
		exp := *s.Expires
		dup.Expires = &exp
	}
	if s.Ticket != nil {
		dup.Ticket = append([]byte(nil), s.Ticket...)
	}
	return &dup
}

// Filter selects sessions for GetByFilter and DeleteByFilter. Set fields
// are ANDed; omitted fields match all.
type Filter struct {
	SubjectID string
	SessionID string
}

// Empty reports whether the filter matches every session.
func (f Filter) Empty() bool {
	return f.SubjectID == "" && f.SessionID == ""
}

// Matches applies the filter to a session.
func (f Filter) Matches(s *Session) bool {
	if f.SubjectID != "" && s.SubjectID != f.SubjectID {
		return false
	}
	if f.SessionID != "" && s.SessionID != f.SessionID {
		return false
	}
	return true
}

// Query describes a paged session query. SubjectID and DisplayName are
// case-insensitive substring filters, ANDed when both are set.
type Query struct {
	SubjectID   string
	DisplayName string

	// ResultsToken is the opaque cursor from a prior QueryResult. An
	// empty, stale, or malformed token yields the first page.
	ResultsToken string

	// CountRequested is the page size. Values below 1 fall back to
	// DefaultPageSize.
	CountRequested int
}

// DefaultPageSize is used when a query does not request a count.
const DefaultPageSize = 25

// PageSize normalizes CountRequested.
func (q Query) PageSize() int {
	if q.CountRequested < 1 {
		return DefaultPageSize
	}
	return q.CountRequested
}

// matchesQuery applies the query's filters to a session.
func matchesQuery(q Query, s *Session) bool {
	if q.SubjectID != "" && !containsFold(s.SubjectID, q.SubjectID) {
		return false
	}
	if q.DisplayName != "" && !containsFold(s.DisplayName, q.DisplayName) {
		return false
	}
	return true
}

func containsFold(haystack, needle string) bool {
	return strings.Contains(strings.ToLower(haystack), strings.ToLower(needle))
}

// QueryResult is one page of sessions plus the bookkeeping needed to
// render consistent pagination even while rows are concurrently inserted
// or deleted.
type QueryResult struct {
	Results []Session

	TotalCount  int
	CurrentPage int
	TotalPages  int

	HasPrevResults bool
	HasNextResults bool

	// ResultsToken fetches the next page. The token encodes a stable sort
	// key rather than a raw row offset, so a deletion between page
	// fetches cannot skip or repeat unrelated records.
	ResultsToken string
}
