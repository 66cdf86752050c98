package serversession

import (
	"errors"
	"time"
)

// Config defines engine behavior. Zero values fall back to the defaults
// from defaultConfig; validation happens in Builder.Build.
type Config struct {
	Partition   PartitionConfig
	Ticket      TicketConfig
	Cleanup     CleanupConfig
	Backchannel BackchannelConfig
	Usage       UsageConfig
}

// PartitionConfig derives the partition key namespacing all session
// records of this application instance.
type PartitionConfig struct {
	// ApplicationName discriminates co-hosted applications sharing one
	// store.
	ApplicationName string

	// AuthenticationScheme discriminates multiple cookie schemes within
	// one application.
	AuthenticationScheme string
}

func (p PartitionConfig) resolve() string {
	name := p.ApplicationName
	if name == "" {
		name = "default"
	}
	scheme := p.AuthenticationScheme
	if scheme == "" {
		scheme = "cookie"
	}
	return name + "/" + scheme
}

// TicketConfig configures the authenticated-encryption transform over
// serialized tickets.
type TicketConfig struct {
	// EncryptionKey is the host key material the ticket key is derived
	// from. Required, minimum 16 bytes.
	EncryptionKey []byte
}

// CleanupConfig configures the background expiration sweep.
type CleanupConfig struct {
	// Enabled gates the scheduler entirely. StartCleanup is a no-op when
	// false.
	Enabled bool

	// Interval between sweeps.
	Interval time.Duration

	// BatchSize caps how many expired sessions one sweep processes.
	BatchSize int

	// CoordinateLifetimes runs token revocation and backchannel logout
	// for each expired session before deleting it, giving silent timeouts
	// the same notification guarantees as explicit logout.
	CoordinateLifetimes bool
}

// BackchannelConfig configures logout token signing.
type BackchannelConfig struct {
	// Issuer is the iss claim of signed logout tokens. Required when a
	// notifier is configured.
	Issuer string

	// SigningKey signs logout tokens: ed25519.PrivateKey for EdDSA or
	// []byte for HS256.
	SigningKey any
}

// UsageConfig configures the soft capacity guard over distinct client
// ids seen by revocation fan-out.
type UsageConfig struct {
	// ClientLimit is the soft cap on distinct clients. Zero disables the
	// check.
	ClientLimit int

	// Strict escalates an exceeded limit from a logged warning to a hard
	// failure.
	Strict bool
}

func defaultConfig() Config {
	return Config{
		Cleanup: CleanupConfig{
			Enabled:   true,
			Interval:  10 * time.Minute,
			BatchSize: 100,
		},
	}
}

func (c *Config) validate() error {
	if c.Cleanup.Enabled && c.Cleanup.Interval <= 0 {
		return errors.New("cleanup interval must be positive")
	}
	if c.Cleanup.BatchSize < 0 {
		return errors.New("cleanup batch size must not be negative")
	}
	if c.Usage.ClientLimit < 0 {
		return errors.New("usage client limit must not be negative")
	}
	return nil
}
