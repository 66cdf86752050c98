package serversession

import (
	"context"
	"errors"
	"sort"

	"go.uber.org/zap"

	"github.com/oidckit/serversession/backchannel"
	"github.com/oidckit/serversession/rp"
	"github.com/oidckit/serversession/session"
)

// RemoveSessions orchestrates full logout for the sessions matching the
// request: consents first, then refresh tokens, then backchannel logout
// notifications, and only then the session records themselves. Ordering
// matters — external revocation needs the client ids carried by the
// tickets, which are gone once the records are deleted.
//
// When ClientIDs is non-empty, only clients both named in the filter and
// present in a matched session's ticket take part in consent removal,
// token revocation, and notification; a filter with no intersection
// leaves consents and tokens untouched and sends nothing. Session
// deletion is not client-scoped — the records resolved by subject and
// session id go away regardless of the filter. Backchannel delivery
// failures are logged per client and never abort the run; store failures
// surface to the caller.
func (e *Engine) RemoveSessions(ctx context.Context, req RevocationRequest) error {
	if req.SubjectID == "" {
		return errors.New("revocation request must carry a subject id")
	}

	pk := e.partition.PartitionKey()
	sessions, err := e.store.GetByFilter(ctx, pk, session.Filter{
		SubjectID: req.SubjectID,
		SessionID: req.SessionID,
	})
	if err != nil {
		return err
	}

	e.metrics.Inc(MetricRevocationRun)

	affected := e.affectedClients(sessions, req.ClientIDs)
	for _, s := range affected {
		for _, clientID := range s.clientIDs {
			if trackErr := e.usage.Track(clientID); trackErr != nil {
				return trackErr
			}
		}
	}

	// With no client filter the whole subject is in scope, so the token
	// and consent stores get an unrestricted (nil) client list even when
	// the tickets named no clients. A non-empty filter narrows the
	// client-scoped steps to the clients it actually matched; when it
	// matches none of the session clients those steps are skipped, but
	// the sessions themselves are still deleted below.
	var scopedClients []string
	filterMissed := false
	if len(req.ClientIDs) > 0 {
		scopedClients = unionClientIDs(affected)
		if len(scopedClients) == 0 {
			filterMissed = true
			e.logger.Debug("client filter matched no session clients, skipping client-scoped steps",
				zap.String("subject_id", req.SubjectID),
				zap.Strings("client_ids", req.ClientIDs))
		}
	}

	if req.RevokeConsents && !filterMissed {
		removed, err := e.consents.RemoveAll(ctx, req.SubjectID, scopedClients)
		if err != nil {
			return err
		}
		if removed > 0 {
			e.logger.Debug("removed consents",
				zap.String("subject_id", req.SubjectID),
				zap.Int("count", removed))
		}
	}

	if req.RevokeTokens && e.tokens != nil && !filterMissed {
		if err := e.tokens.RevokeRefreshTokens(ctx, req.SubjectID, scopedClients); err != nil {
			return err
		}
	}

	if req.SendBackchannelNotification && !filterMissed {
		e.notifyClients(ctx, req.SubjectID, affected)
	}

	if req.RemoveSessions {
		deleted, err := e.store.DeleteByFilter(ctx, pk, session.Filter{
			SubjectID: req.SubjectID,
			SessionID: req.SessionID,
		})
		if err != nil {
			return err
		}
		if deleted > 0 {
			e.metrics.Add(MetricSessionDeleted, uint64(deleted))
			e.sink.SessionsEnded(deleted)
		}
	}

	return nil
}

// affectedSession pairs a matched session with the client ids that
// survive the request's filter.
type affectedSession struct {
	sessionID string
	clientIDs []string
}

func (e *Engine) affectedClients(sessions []session.Session, filter []string) []affectedSession {
	filterSet := make(map[string]struct{}, len(filter))
	for _, id := range filter {
		filterSet[id] = struct{}{}
	}

	out := make([]affectedSession, 0, len(sessions))
	for i := range sessions {
		s := &sessions[i]
		t, err := e.codec.Deserialize(s.Ticket)
		if err != nil {
			// The ticket is unreadable, so its client list is lost. The
			// record still gets deleted; the clients miss one notification.
			e.metrics.Inc(MetricTicketRejected)
			e.logger.Warn("unreadable ticket during revocation, client list unavailable",
				zap.String("key", s.Key), zap.Error(err))
			out = append(out, affectedSession{sessionID: s.SessionID})
			continue
		}

		clientIDs := t.ClientIDs
		if len(filterSet) > 0 {
			kept := clientIDs[:0:0]
			for _, id := range clientIDs {
				if _, ok := filterSet[id]; ok {
					kept = append(kept, id)
				}
			}
			clientIDs = kept
		}
		out = append(out, affectedSession{sessionID: s.SessionID, clientIDs: clientIDs})
	}
	return out
}

func unionClientIDs(affected []affectedSession) []string {
	seen := map[string]struct{}{}
	var ids []string
	for _, s := range affected {
		for _, id := range s.clientIDs {
			if _, ok := seen[id]; ok {
				continue
			}
			seen[id] = struct{}{}
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}

// notifyClients sends one signed logout token per (client, session) pair
// to every affected client that registered a backchannel logout endpoint.
// Failures are contained per client.
func (e *Engine) notifyClients(ctx context.Context, subjectID string, affected []affectedSession) {
	if e.notifier == nil || e.signer == nil || e.clients == nil {
		return
	}

	ids := unionClientIDs(affected)
	if len(ids) == 0 {
		return
	}

	clients, err := e.clients.GetClients(ctx, ids)
	if err != nil {
		e.logger.Error("failed to load clients for backchannel logout", zap.Error(err))
		e.metrics.Inc(MetricBackchannelFailed)
		return
	}

	byID := make(map[string]rp.Client, len(clients))
	for _, c := range clients {
		byID[c.ID] = c
	}

	for _, s := range affected {
		for _, clientID := range s.clientIDs {
			client, ok := byID[clientID]
			if !ok || !client.SupportsBackchannelLogout() {
				continue
			}

			sid := ""
			if client.BackChannelLogoutSessionRequired {
				sid = s.sessionID
			}

			token, err := e.signer.Sign(client.ID, subjectID, sid)
			if err != nil {
				e.metrics.Inc(MetricBackchannelFailed)
				e.logger.Warn("failed to sign logout token",
					zap.String("client_id", client.ID), zap.Error(err))
				continue
			}

			err = e.notifier.SendLogoutNotification(ctx, backchannel.Request{
				Client:      client,
				SubjectID:   subjectID,
				SessionID:   s.sessionID,
				LogoutToken: token,
			})
			if err != nil {
				e.metrics.Inc(MetricBackchannelFailed)
				e.logger.Warn("backchannel logout delivery failed",
					zap.String("client_id", client.ID), zap.Error(err))
				continue
			}
			e.metrics.Inc(MetricBackchannelSent)
		}
	}
}
