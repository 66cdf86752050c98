// Package ticket implements the opaque authentication ticket stored
// inside a server-side session: the serialized principal, its claims and
// properties (including embedded token references), sealed with an
// authenticated-encryption transform.
package ticket

import (
	"time"
)

// Ticket is the decoded authentication ticket. It carries everything the
// protocol layer needs to reconstruct the signed-in principal.
//
// Ticket instances are plain values; callers mutate a copy and write it
// back through the engine, which re-serializes it into the session.
type Ticket struct {
	Subject     string
	SessionID   string
	DisplayName string

	AuthTime time.Time

	// Expires is the absolute expiration of the credential. Nil means no
	// expiration is tracked and the session lives until explicitly
	// deleted.
	Expires *time.Time

	// Claims holds the principal's claims, multi-valued per type.
	Claims map[string][]string

	// Properties carries opaque per-session key/value state, including
	// embedded token references managed by the token helpers below.
	Properties map[string]string

	// ClientIDs lists the clients this session has been used with. The
	// revocation orchestrator intersects this set with a revocation
	// request's client filter.
	ClientIDs []string
}

const tokenPropertyPrefix = ".token."

// SetToken stores a token reference inside the ticket properties.
func (t *Ticket) SetToken(name, value string) {
	if t.Properties == nil {
		t.Properties = map[string]string{}
	}
	t.Properties[tokenPropertyPrefix+name] = value
}

// GetToken returns a previously stored token reference.
func (t *Ticket) GetToken(name string) (string, bool) {
	v, ok := t.Properties[tokenPropertyPrefix+name]
	return v, ok
}

// RemoveToken deletes a token reference. Removing an absent token is a
// no-op.
func (t *Ticket) RemoveToken(name string) {
	delete(t.Properties, tokenPropertyPrefix+name)
}

// HasClient reports whether the session this ticket belongs to has been
// used with the given client.
func (t *Ticket) HasClient(clientID string) bool {
	for _, id := range t.ClientIDs {
		if id == clientID {
			return true
		}
	}
	return false
}

// AddClient records a client against the ticket, deduplicating.
func (t *Ticket) AddClient(clientID string) {
	if clientID == "" || t.HasClient(clientID) {
		return
	}
	t.ClientIDs = append(t.ClientIDs, clientID)
}
