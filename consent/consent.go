// Package consent tracks per-subject, per-client granted-scope sets with
// optional expiration, and answers whether an authorize request needs a
// fresh consent prompt.
package consent

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/oidckit/serversession/rp"
)

// OfflineAccessScope always requires a fresh grant: a prior consent that
// did not include it never implies it.
const OfflineAccessScope = "offline_access"

// Record is one subject's remembered grant for one client.
type Record struct {
	SubjectID string
	ClientID  string
	Scopes    []string

	// Expiration is nil for grants without a lifetime.
	Expiration *time.Time
}

// Expired reports whether the record is past its expiration.
func (r *Record) Expired(now time.Time) bool {
	return r.Expiration != nil && r.Expiration.Before(now)
}

// HasScopes reports whether the record's granted set is a superset of the
// requested scopes.
func (r *Record) HasScopes(scopes []string) bool {
	granted := make(map[string]struct{}, len(r.Scopes))
	for _, s := range r.Scopes {
		granted[s] = struct{}{}
	}
	for _, s := range scopes {
		if _, ok := granted[s]; !ok {
			return false
		}
	}
	return true
}

// Engine implements the consent decisions on top of a Store.
type Engine struct {
	store  Store
	logger *zap.Logger
	now    func() time.Time
}

// NewEngine constructs a consent engine. A nil logger falls back to a
// no-op logger.
func NewEngine(store Store, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		store:  store,
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// WithClock overrides the internal clock for deterministic tests.
func (e *Engine) WithClock(clock func() time.Time) *Engine {
	if clock != nil {
		e.now = clock
	}
	return e
}

// RequiresConsent decides whether the subject must be prompted for the
// requested scopes. Expired records encountered here are deleted before
// answering (read-triggered cleanup; there is no consent sweep).
func (e *Engine) RequiresConsent(ctx context.Context, subjectID string, client rp.Client, requestedScopes []string) (bool, error) {
	if !client.RequireConsent {
		return false, nil
	}
	if len(requestedScopes) == 0 {
		return false, nil
	}
	if !client.AllowRememberConsent {
		return true, nil
	}

	rec, err := e.store.Get(ctx, subjectID, client.ID)
	if err != nil {
		return true, fmt.Errorf("load consent: %w", err)
	}
	if rec == nil {
		return true, nil
	}
	if rec.Expired(e.now()) {
		e.logger.Debug("consent expired, removing",
			zap.String("subject_id", subjectID),
			zap.String("client_id", client.ID))
		if err := e.store.Delete(ctx, subjectID, client.ID); err != nil {
			e.logger.Warn("failed to remove expired consent", zap.Error(err))
		}
		return true, nil
	}

	for _, scope := range requestedScopes {
		if scope == OfflineAccessScope && !rec.HasScopes([]string{OfflineAccessScope}) {
			return true, nil
		}
	}
	return !rec.HasScopes(requestedScopes), nil
}

// UpdateConsent records the subject's decision. Clients that disallow
// remembering consent make this a no-op; empty scopes delete any existing
// record; otherwise the record is replaced wholesale.
func (e *Engine) UpdateConsent(ctx context.Context, subjectID string, client rp.Client, scopes []string) error {
	if !client.AllowRememberConsent {
		return nil
	}

	if len(scopes) == 0 {
		return e.store.Delete(ctx, subjectID, client.ID)
	}

	rec := &Record{
		SubjectID: subjectID,
		ClientID:  client.ID,
		Scopes:    append([]string(nil), scopes...),
	}
	if client.ConsentLifetime > 0 {
		exp := e.now().Add(client.ConsentLifetime)
		rec.Expiration = &exp
	}
	return e.store.Upsert(ctx, rec)
}

// RemoveAll deletes the subject's consents, narrowed to clientIDs when
// the filter is non-empty. Used by the revocation orchestrator.
func (e *Engine) RemoveAll(ctx context.Context, subjectID string, clientIDs []string) (int, error) {
	return e.store.DeleteBySubject(ctx, subjectID, clientIDs)
}
