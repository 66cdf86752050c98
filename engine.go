package serversession

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/oidckit/serversession/backchannel"
	"github.com/oidckit/serversession/consent"
	"github.com/oidckit/serversession/rp"
	"github.com/oidckit/serversession/session"
	"github.com/oidckit/serversession/ticket"
)

// Engine is the server-side session and token lifecycle engine: it
// creates, reads, extends, revokes, and expires sessions, and coordinates
// revocation fan-out across refresh tokens, consents, and backchannel
// logout.
//
// Engine methods are safe for arbitrary concurrent use after
// construction through Builder.Build. Concurrency control is delegated to
// the underlying store; "record vanished between read and write" is an
// expected outcome, logged at debug and never escalated.
type Engine struct {
	cfg       Config
	logger    *zap.Logger
	now       func() time.Time
	partition PartitionKeyResolver

	store    session.Store
	codec    *ticket.Codec
	consents *consent.Engine

	tokens   TokenStore
	clients  ClientStore
	notifier backchannel.Notifier
	signer   *backchannel.Signer

	sink    MetricsSink
	metrics *Metrics
	usage   *UsageTracker
	cleanup *cleanupRunner
}

// CreateSession serializes the ticket and inserts a session record for
// it, returning the generated key.
//
// When a record with the same session id already exists in this partition
// — a repeated login under one browser session, by the same or a
// different subject — the prior record is replaced in place: it keeps its
// key, takes the new subject and ticket, and restarts its Created
// timestamp. This keeps (partition, session id) pointing at exactly one
// record.
func (e *Engine) CreateSession(ctx context.Context, t *ticket.Ticket) (string, error) {
	if t == nil || t.Subject == "" || t.SessionID == "" {
		return "", errors.New("ticket must carry a subject and a session id")
	}

	blob, err := e.codec.Serialize(t)
	if err != nil {
		return "", fmt.Errorf("serialize ticket: %w", err)
	}

	pk := e.partition.PartitionKey()
	now := e.now()

	existing, err := e.store.GetByFilter(ctx, pk, session.Filter{SessionID: t.SessionID})
	if err != nil {
		return "", err
	}
	if len(existing) > 0 {
		prior := existing[0]
		prior.SubjectID = t.Subject
		prior.DisplayName = t.DisplayName
		prior.Created = now
		prior.Renewed = now
		prior.Expires = copyTime(t.Expires)
		prior.Ticket = blob

		if err := e.store.Update(ctx, &prior); err != nil {
			if errors.Is(err, session.ErrNotFound) {
				// The record vanished under us (cleanup or logout race);
				// fall through to a fresh insert.
				e.logger.Debug("prior session vanished during replace",
					zap.String("session_id", t.SessionID))
			} else {
				return "", err
			}
		} else {
			e.metrics.Inc(MetricSessionReplaced)
			e.logger.Debug("replaced session for repeated login",
				zap.String("key", prior.Key),
				zap.String("session_id", t.SessionID))
			return prior.Key, nil
		}
	}

	s := &session.Session{
		Key:          uuid.NewString(),
		PartitionKey: pk,
		SubjectID:    t.Subject,
		SessionID:    t.SessionID,
		DisplayName:  t.DisplayName,
		Created:      now,
		Renewed:      now,
		Expires:      copyTime(t.Expires),
		Ticket:       blob,
	}
	if err := e.store.Create(ctx, s); err != nil {
		return "", err
	}

	e.metrics.Inc(MetricSessionCreated)
	e.logger.Debug("created session",
		zap.String("key", s.Key),
		zap.String("session_id", s.SessionID))
	return s.Key, nil
}

// GetSession returns the raw session record for a key.
func (e *Engine) GetSession(ctx context.Context, key string) (*session.Session, error) {
	return e.store.Get(ctx, e.partition.PartitionKey(), key)
}

// GetSessions returns all session records matching the filter.
func (e *Engine) GetSessions(ctx context.Context, f session.Filter) ([]session.Session, error) {
	return e.store.GetByFilter(ctx, e.partition.PartitionKey(), f)
}

// QuerySessions returns one page of session records. The result's token
// fetches the next page deterministically even under concurrent inserts
// and deletes.
func (e *Engine) QuerySessions(ctx context.Context, q session.Query) (*session.QueryResult, error) {
	return e.store.Query(ctx, e.partition.PartitionKey(), q)
}

// ValidateSession loads and decodes a session's ticket for authorization.
// An expired session reads as ErrNotFound; physical deletion stays with
// the cleanup sweep. A corrupt ticket tears the session down and returns
// ErrTicketCorrupt — to the protocol layer both cases must read as "not
// authenticated", with no distinction surfaced to the end user.
func (e *Engine) ValidateSession(ctx context.Context, key string) (*ticket.Ticket, error) {
	pk := e.partition.PartitionKey()
	s, err := e.store.Get(ctx, pk, key)
	if err != nil {
		return nil, err
	}

	if s.CheckExpired(e.now()) {
		e.logger.Debug("session expired", zap.String("key", key))
		return nil, ErrNotFound
	}

	t, err := e.codec.Deserialize(s.Ticket)
	if err != nil {
		e.metrics.Inc(MetricTicketRejected)
		e.logger.Warn("session ticket unreadable, tearing session down",
			zap.String("key", key), zap.Error(err))
		if _, delErr := e.store.DeleteByFilter(ctx, pk, session.Filter{SessionID: s.SessionID}); delErr != nil {
			e.logger.Warn("failed to remove corrupt session", zap.Error(delErr))
		}
		return nil, err
	}
	return t, nil
}

// UpdateSession re-serializes the ticket into the session keyed by key:
// token refresh, sliding-window extension, and re-authentication all land
// here. Renewed is bumped and Expires re-derived from the ticket.
// ErrNotFound means the record was already deleted by cleanup or
// revocation — an expected race the caller may ignore.
func (e *Engine) UpdateSession(ctx context.Context, key string, t *ticket.Ticket) error {
	if t == nil {
		return errors.New("nil ticket")
	}

	pk := e.partition.PartitionKey()
	s, err := e.store.Get(ctx, pk, key)
	if err != nil {
		if errors.Is(err, session.ErrNotFound) {
			e.logger.Debug("session already gone, nothing to update",
				zap.String("key", key))
		}
		return err
	}

	blob, err := e.codec.Serialize(t)
	if err != nil {
		return fmt.Errorf("serialize ticket: %w", err)
	}

	s.SubjectID = t.Subject
	s.SessionID = t.SessionID
	s.DisplayName = t.DisplayName
	s.Renewed = e.now()
	s.Expires = copyTime(t.Expires)
	s.Ticket = blob

	if err := e.store.Update(ctx, s); err != nil {
		if errors.Is(err, session.ErrNotFound) {
			e.logger.Debug("session already gone, nothing to update",
				zap.String("key", key))
		}
		return err
	}

	e.metrics.Inc(MetricSessionUpdated)
	return nil
}

// DeleteSessions removes all sessions matching the filter and reports
// the count. Deleting nothing is a no-op, not an error.
func (e *Engine) DeleteSessions(ctx context.Context, f session.Filter) (int, error) {
	deleted, err := e.store.DeleteByFilter(ctx, e.partition.PartitionKey(), f)
	if err != nil {
		return deleted, err
	}
	if deleted > 0 {
		e.metrics.Add(MetricSessionDeleted, uint64(deleted))
	}
	return deleted, nil
}

// RequiresConsent reports whether the subject must be prompted for the
// requested scopes for this client.
func (e *Engine) RequiresConsent(ctx context.Context, subjectID string, client rp.Client, scopes []string) (bool, error) {
	return e.consents.RequiresConsent(ctx, subjectID, client, scopes)
}

// UpdateConsent records the subject's consent decision for this client.
func (e *Engine) UpdateConsent(ctx context.Context, subjectID string, client rp.Client, scopes []string) error {
	return e.consents.UpdateConsent(ctx, subjectID, client, scopes)
}

// MetricsSnapshot returns a copy of the engine's internal counters.
func (e *Engine) MetricsSnapshot() MetricsSnapshot {
	return e.metrics.Snapshot()
}

// Usage exposes the usage guard for host-side limit reporting.
func (e *Engine) Usage() *UsageTracker {
	return e.usage
}

// Close stops the cleanup scheduler. The engine holds no other
// background resources.
func (e *Engine) Close() {
	if e == nil {
		return
	}
	e.StopCleanup()
}

func copyTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	dup := *t
	return &dup
}
