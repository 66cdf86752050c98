package serversession

import (
	"errors"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/oidckit/serversession/backchannel"
	"github.com/oidckit/serversession/consent"
	"github.com/oidckit/serversession/session"
	"github.com/oidckit/serversession/ticket"
)

// Builder assembles an Engine. Configure it during initialization, call
// Build once, and treat the result as immutable.
//
// With no Redis client the engine runs on in-process stores, which is
// what tests and single-node embedding want; production multi-node
// deployments supply Redis so sessions survive restarts and are visible
// across instances.
type Builder struct {
	config Config
	redis  redis.UniversalClient
	logger *zap.Logger
	clock  func() time.Time

	store        session.Store
	consentStore consent.Store

	tokens   TokenStore
	clients  ClientStore
	notifier backchannel.Notifier
	sink     MetricsSink

	built bool
}

// New returns a Builder loaded with defaults.
func New() *Builder {
	return &Builder{
		config: defaultConfig(),
	}
}

// WithConfig replaces the whole configuration. Zero-valued cleanup
// settings are backfilled from the defaults.
func (b *Builder) WithConfig(cfg Config) *Builder {
	def := defaultConfig()
	if cfg.Cleanup.Interval == 0 {
		cfg.Cleanup.Interval = def.Cleanup.Interval
	}
	if cfg.Cleanup.BatchSize == 0 {
		cfg.Cleanup.BatchSize = def.Cleanup.BatchSize
	}
	b.config = cfg
	return b
}

// WithRedis backs both the session store and the consent store with this
// client.
func (b *Builder) WithRedis(client redis.UniversalClient) *Builder {
	b.redis = client
	return b
}

// WithLogger sets the structured logger. Without one the engine logs
// nothing.
func (b *Builder) WithLogger(logger *zap.Logger) *Builder {
	b.logger = logger
	return b
}

// WithSessionStore overrides the session store, taking precedence over
// WithRedis for session records.
func (b *Builder) WithSessionStore(store session.Store) *Builder {
	b.store = store
	return b
}

// WithConsentStore overrides the consent store, taking precedence over
// WithRedis for consent records.
func (b *Builder) WithConsentStore(store consent.Store) *Builder {
	b.consentStore = store
	return b
}

// WithTokenStore connects the external refresh-token store revocation
// fans out to. Without one, RevokeTokens requests skip token revocation.
func (b *Builder) WithTokenStore(tokens TokenStore) *Builder {
	b.tokens = tokens
	return b
}

// WithClientStore connects the relying-party registry used for
// backchannel logout delivery.
func (b *Builder) WithClientStore(clients ClientStore) *Builder {
	b.clients = clients
	return b
}

// WithNotifier overrides the backchannel logout transport. Without an
// override, Build installs an HTTP notifier when a client store and a
// signing key are configured.
func (b *Builder) WithNotifier(n backchannel.Notifier) *Builder {
	b.notifier = n
	return b
}

// WithMetricsSink connects the host's session lifecycle counter.
func (b *Builder) WithMetricsSink(sink MetricsSink) *Builder {
	b.sink = sink
	return b
}

// WithClock overrides the engine clock for deterministic tests.
func (b *Builder) WithClock(clock func() time.Time) *Builder {
	b.clock = clock
	return b
}

// Build validates the configuration and assembles the engine. A Builder
// is single-use.
func (b *Builder) Build() (*Engine, error) {
	if b.built {
		return nil, errors.New("builder already used")
	}
	b.built = true

	cfg := b.config
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	codec, err := ticket.NewCodec(cfg.Ticket.EncryptionKey)
	if err != nil {
		return nil, err
	}

	logger := b.logger
	if logger == nil {
		logger = zap.NewNop()
	}

	clock := b.clock
	if clock == nil {
		clock = func() time.Time { return time.Now().UTC() }
	}

	store := b.store
	if store == nil {
		if b.redis != nil {
			store = session.NewRedisStore(b.redis, "")
		} else {
			store = session.NewMemoryStore()
		}
	}

	consentStore := b.consentStore
	if consentStore == nil {
		if b.redis != nil {
			consentStore = consent.NewRedisStore(b.redis, "")
		} else {
			consentStore = consent.NewMemoryStore()
		}
	}

	var signer *backchannel.Signer
	if cfg.Backchannel.SigningKey != nil {
		if cfg.Backchannel.Issuer == "" {
			return nil, errors.New("backchannel signing requires an issuer")
		}
		signer, err = backchannel.NewSigner(cfg.Backchannel.Issuer, cfg.Backchannel.SigningKey)
		if err != nil {
			return nil, err
		}
		signer.WithClock(clock)
	}

	notifier := b.notifier
	if notifier == nil && signer != nil && b.clients != nil {
		notifier = backchannel.NewHTTPNotifier(&http.Client{Timeout: 10 * time.Second}, logger)
	}

	sink := b.sink
	if sink == nil {
		sink = noopMetricsSink{}
	}

	e := &Engine{
		cfg:       cfg,
		logger:    logger,
		now:       clock,
		partition: staticPartitionResolver(cfg.Partition.resolve()),
		store:     store,
		codec:     codec,
		consents:  consent.NewEngine(consentStore, logger).WithClock(clock),
		tokens:    b.tokens,
		clients:   b.clients,
		notifier:  notifier,
		signer:    signer,
		sink:      sink,
		metrics:   NewMetrics(),
		usage:     NewUsageTracker(cfg.Usage.ClientLimit, cfg.Usage.Strict),
	}
	e.cleanup = newCleanupRunner(cfg.Cleanup, logger, e.runCleanupSweep)
	return e, nil
}
