package serversession

import (
	"context"

	"github.com/oidckit/serversession/rp"
)

// TokenStore is the external refresh-token/grant store. The orchestrator
// instructs it to revoke the subject's refresh tokens and standing
// grants, narrowed to clientIDs when the filter is non-empty.
type TokenStore interface {
	RevokeRefreshTokens(ctx context.Context, subjectID string, clientIDs []string) error
}

// ClientStore supplies relying-party registrations. A nil or empty ids
// slice returns every registered client.
type ClientStore interface {
	GetClients(ctx context.Context, ids []string) ([]rp.Client, error)
}

// MetricsSink receives session lifecycle counts. The cleanup scheduler
// and the revocation orchestrator report ended sessions through it.
type MetricsSink interface {
	SessionsEnded(count int)
}

// PartitionKeyResolver derives the namespace string isolating all session
// records of one logical application instance.
type PartitionKeyResolver interface {
	PartitionKey() string
}

type staticPartitionResolver string

func (s staticPartitionResolver) PartitionKey() string { return string(s) }

// RevocationRequest is the unit of work for one revocation orchestration
// call. It is a value object, never persisted.
type RevocationRequest struct {
	// SubjectID selects the target subject. Required.
	SubjectID string

	// SessionID optionally narrows the request to one login event.
	SessionID string

	// ClientIDs narrows consent removal, token revocation, and
	// backchannel notification to the named clients: only clients both
	// named here and recorded on a matched session's ticket take part,
	// and a filter intersecting no session client skips those steps
	// entirely. Session deletion is never client-scoped. An empty filter
	// matches all clients.
	ClientIDs []string

	// RevokeConsents removes the subject's consent records.
	RevokeConsents bool

	// RevokeTokens revokes refresh tokens and standing grants through the
	// external token store.
	RevokeTokens bool

	// SendBackchannelNotification dispatches signed logout tokens to the
	// affected clients' backchannel logout endpoints.
	SendBackchannelNotification bool

	// RemoveSessions deletes the session records themselves.
	RemoveSessions bool
}

// noopMetricsSink is installed when the host does not supply a sink.
type noopMetricsSink struct{}

func (noopMetricsSink) SessionsEnded(int) {}
