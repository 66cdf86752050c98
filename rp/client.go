// Package rp holds the relying-party client model shared by the consent
// engine, the revocation orchestrator, and backchannel logout delivery.
//
// Client registration itself lives outside this module; hosts supply
// Client values through the ClientStore interface on the root package.
package rp

import "time"

// Client is the subset of a relying party's registration that session
// lifecycle management needs: consent policy and the backchannel logout
// endpoint.
type Client struct {
	// ID is the OAuth2 client identifier.
	ID string

	// RequireConsent controls whether the consent engine prompts at all
	// for this client.
	RequireConsent bool

	// AllowRememberConsent permits persisting granted scopes. When false,
	// UpdateConsent is a no-op and every authorize request re-prompts.
	AllowRememberConsent bool

	// ConsentLifetime bounds how long a remembered consent is honored.
	// Zero means the consent never expires on its own.
	ConsentLifetime time.Duration

	// BackChannelLogoutURI is the endpoint that receives signed logout
	// tokens. Empty disables backchannel notification for this client.
	BackChannelLogoutURI string

	// BackChannelLogoutSessionRequired indicates the client expects the
	// sid claim inside logout tokens.
	BackChannelLogoutSessionRequired bool
}

// SupportsBackchannelLogout reports whether the client registered a
// backchannel logout endpoint.
func (c Client) SupportsBackchannelLogout() bool {
	return c.BackChannelLogoutURI != ""
}
