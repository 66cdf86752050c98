// Package backchannel builds signed OIDC logout tokens and delivers them
// to relying parties' backchannel logout endpoints, out of band from the
// user's browser.
package backchannel

import (
	"crypto/ed25519"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// BackchannelLogoutEvent is the events-claim member that marks a JWT as a
// logout token.
const BackchannelLogoutEvent = "http://schemas.openid.net/event/backchannel-logout"

// ErrNoSigningKey rejects signer construction without key material.
var ErrNoSigningKey = errors.New("no logout token signing key")

// logoutTokenLifetime bounds how long a delivered token validates.
const logoutTokenLifetime = 5 * time.Minute

// Signer builds signed logout tokens for one issuer. The signing method
// follows the key type: ed25519.PrivateKey signs EdDSA, []byte signs
// HS256.
type Signer struct {
	issuer string
	key    any
	method jwt.SigningMethod
	now    func() time.Time
}

// NewSigner constructs a Signer for the issuer and key.
func NewSigner(issuer string, key any) (*Signer, error) {
	s := &Signer{
		issuer: issuer,
		key:    key,
		now:    func() time.Time { return time.Now().UTC() },
	}
	switch key.(type) {
	case ed25519.PrivateKey:
		s.method = jwt.SigningMethodEdDSA
	case []byte:
		s.method = jwt.SigningMethodHS256
	case nil:
		return nil, ErrNoSigningKey
	default:
		return nil, fmt.Errorf("unsupported signing key type %T", key)
	}
	return s, nil
}

// WithClock overrides the internal clock for deterministic tests.
func (s *Signer) WithClock(clock func() time.Time) *Signer {
	if clock != nil {
		s.now = clock
	}
	return s
}

// Sign builds the logout token for one client: iss, sub, aud, iat, exp,
// jti, the backchannel-logout events claim, and sid when the session id
// is known.
func (s *Signer) Sign(clientID, subjectID, sessionID string) (string, error) {
	now := s.now()
	claims := jwt.MapClaims{
		"iss": s.issuer,
		"sub": subjectID,
		"aud": clientID,
		"iat": now.Unix(),
		"exp": now.Add(logoutTokenLifetime).Unix(),
		"jti": uuid.NewString(),
		"events": map[string]any{
			BackchannelLogoutEvent: map[string]any{},
		},
	}
	if sessionID != "" {
		claims["sid"] = sessionID
	}

	token := jwt.NewWithClaims(s.method, claims)
	token.Header["typ"] = "logout+jwt"

	signed, err := token.SignedString(s.key)
	if err != nil {
		return "", fmt.Errorf("sign logout token: %w", err)
	}
	return signed, nil
}

// Issuer returns the configured issuer identifier.
func (s *Signer) Issuer() string {
	return s.issuer
}
