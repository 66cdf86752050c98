package ticket

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"
)

// ErrDecode is returned for any ticket that cannot be authenticated and
// decoded: tampered ciphertext, truncation, unknown format version, or a
// structurally invalid payload. Callers must treat it as "session
// invalid — force logout", never as a fatal process error.
var ErrDecode = errors.New("ticket decode failed")

// ErrKeyTooShort rejects encryption keys below the minimum size.
var ErrKeyTooShort = errors.New("ticket encryption key too short")

const (
	codecFormatVersion = 1

	// keyPurpose binds the derived AEAD key to this single use. Any other
	// consumer of the same host key derives a different key, so ciphertext
	// cannot be replayed across purposes.
	keyPurpose = "oidckit/serversession:ticket:v1"

	minKeyLen = 16
)

// Codec seals and opens tickets with an authenticated-encryption
// transform (XChaCha20-Poly1305 over a JSON payload). A Codec is
// immutable after construction and safe for concurrent use.
type Codec struct {
	key [chacha20poly1305.KeySize]byte
}

// NewCodec derives the ticket encryption key from the host-supplied key
// material and the fixed purpose string.
func NewCodec(hostKey []byte) (*Codec, error) {
	if len(hostKey) < minKeyLen {
		return nil, ErrKeyTooShort
	}

	c := &Codec{}
	kdf := hkdf.New(sha256.New, hostKey, nil, []byte(keyPurpose))
	if _, err := io.ReadFull(kdf, c.key[:]); err != nil {
		return nil, fmt.Errorf("derive ticket key: %w", err)
	}
	return c, nil
}

// wireTicket is the serialized shape. Field tags are part of the on-wire
// format; changing them requires a format version bump. Timestamps are
// Unix nanoseconds so a decoded ticket carries exactly the instants that
// were sealed.
type wireTicket struct {
	Subject     string              `json:"sub"`
	SessionID   string              `json:"sid"`
	DisplayName string              `json:"name,omitempty"`
	AuthTime    int64               `json:"auth_time"`
	Expires     *int64              `json:"exp,omitempty"`
	Claims      map[string][]string `json:"claims,omitempty"`
	Properties  map[string]string   `json:"props,omitempty"`
	ClientIDs   []string            `json:"clients,omitempty"`
}

// Serialize encrypts the ticket. Layout: 1-byte format version, the
// random nonce, then the sealed payload.
func (c *Codec) Serialize(t *Ticket) ([]byte, error) {
	if t == nil {
		return nil, errors.New("nil ticket")
	}

	w := wireTicket{
		Subject:     t.Subject,
		SessionID:   t.SessionID,
		DisplayName: t.DisplayName,
		Claims:      t.Claims,
		Properties:  t.Properties,
		ClientIDs:   t.ClientIDs,
	}
	if !t.AuthTime.IsZero() {
		w.AuthTime = t.AuthTime.UnixNano()
	}
	if t.Expires != nil {
		exp := t.Expires.UnixNano()
		w.Expires = &exp
	}

	payload, err := json.Marshal(w)
	if err != nil {
		return nil, fmt.Errorf("marshal ticket: %w", err)
	}

	aead, err := chacha20poly1305.NewX(c.key[:])
	if err != nil {
		return nil, fmt.Errorf("init aead: %w", err)
	}

	out := make([]byte, 1+aead.NonceSize(), 1+aead.NonceSize()+len(payload)+aead.Overhead())
	out[0] = codecFormatVersion
	if _, err := rand.Read(out[1 : 1+aead.NonceSize()]); err != nil {
		return nil, fmt.Errorf("nonce: %w", err)
	}

	// The version byte is additional authenticated data so a version swap
	// also fails authentication.
	return aead.Seal(out, out[1:1+aead.NonceSize()], payload, out[:1]), nil
}

// Deserialize authenticates and decodes a ticket blob. Every failure
// mode collapses into ErrDecode; no partially populated ticket is ever
// returned.
func (c *Codec) Deserialize(data []byte) (*Ticket, error) {
	aead, err := chacha20poly1305.NewX(c.key[:])
	if err != nil {
		return nil, fmt.Errorf("init aead: %w", err)
	}

	if len(data) < 1+aead.NonceSize()+aead.Overhead() {
		return nil, fmt.Errorf("%w: truncated blob", ErrDecode)
	}
	if data[0] != codecFormatVersion {
		return nil, fmt.Errorf("%w: unknown format version %d", ErrDecode, data[0])
	}

	nonce := data[1 : 1+aead.NonceSize()]
	payload, err := aead.Open(nil, nonce, data[1+aead.NonceSize():], data[:1])
	if err != nil {
		return nil, fmt.Errorf("%w: authentication failure", ErrDecode)
	}

	var w wireTicket
	if err := json.Unmarshal(payload, &w); err != nil {
		return nil, fmt.Errorf("%w: invalid payload", ErrDecode)
	}
	if w.Subject == "" || w.SessionID == "" {
		return nil, fmt.Errorf("%w: missing subject or session id", ErrDecode)
	}

	t := &Ticket{
		Subject:     w.Subject,
		SessionID:   w.SessionID,
		DisplayName: w.DisplayName,
		Claims:      w.Claims,
		Properties:  w.Properties,
		ClientIDs:   w.ClientIDs,
	}
	if w.AuthTime != 0 {
		t.AuthTime = time.Unix(0, w.AuthTime).UTC()
	}
	if w.Expires != nil {
		exp := time.Unix(0, *w.Expires).UTC()
		t.Expires = &exp
	}
	return t, nil
}
