package serversession

import (
	"context"
	"fmt"

	"github.com/oidckit/serversession/session"
	"github.com/oidckit/serversession/ticket"
)

// Session tokens (refresh tokens, access tokens the host chooses to pin
// to a login) live inside the encrypted ticket rather than in their own
// records, so they share the session's lifetime and encryption exactly:
// when the session goes, its tokens go with it.

// GetSessionToken returns the named token stored in the subject's
// session ticket, or "" when no such token is stored.
func (e *Engine) GetSessionToken(ctx context.Context, subjectID, sessionID, name string) (string, error) {
	s, err := e.findSession(ctx, subjectID, sessionID)
	if err != nil {
		return "", err
	}

	t, err := e.codec.Deserialize(s.Ticket)
	if err != nil {
		return "", err
	}
	value, _ := t.GetToken(name)
	return value, nil
}

// StoreSessionToken writes the named token into the subject's session
// ticket and re-persists the record.
func (e *Engine) StoreSessionToken(ctx context.Context, subjectID, sessionID, name, value string) error {
	return e.updateTicket(ctx, subjectID, sessionID, func(t *ticket.Ticket) {
		t.SetToken(name, value)
	})
}

// ClearSessionToken removes the named token from the subject's session
// ticket. Clearing a token that is not stored is a no-op.
func (e *Engine) ClearSessionToken(ctx context.Context, subjectID, sessionID, name string) error {
	return e.updateTicket(ctx, subjectID, sessionID, func(t *ticket.Ticket) {
		t.RemoveToken(name)
	})
}

// findSession resolves (subject, session id) to exactly one live record.
// An expired record reads as ErrNotFound — a logically dead session must
// not hand out its tokens even before the cleanup sweep collects it.
// More than one match means a uniqueness invariant broke upstream and is
// reported rather than silently picking a winner.
func (e *Engine) findSession(ctx context.Context, subjectID, sessionID string) (*session.Session, error) {
	matches, err := e.store.GetByFilter(ctx, e.partition.PartitionKey(), session.Filter{
		SubjectID: subjectID,
		SessionID: sessionID,
	})
	if err != nil {
		return nil, err
	}
	switch len(matches) {
	case 0:
		return nil, ErrNotFound
	case 1:
		if matches[0].CheckExpired(e.now()) {
			return nil, ErrNotFound
		}
		return &matches[0], nil
	default:
		return nil, fmt.Errorf("%w: %d records for subject %q session %q",
			ErrMultipleSessions, len(matches), subjectID, sessionID)
	}
}

func (e *Engine) updateTicket(ctx context.Context, subjectID, sessionID string, mutate func(*ticket.Ticket)) error {
	s, err := e.findSession(ctx, subjectID, sessionID)
	if err != nil {
		return err
	}

	t, err := e.codec.Deserialize(s.Ticket)
	if err != nil {
		return err
	}

	mutate(t)
	return e.UpdateSession(ctx, s.Key, t)
}
