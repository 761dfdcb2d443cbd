package authgate

import (
	"errors"
	"log/slog"
	"time"

	"github.com/MrEthical07/authgate/identity"
	"github.com/MrEthical07/authgate/internal/audit"
	"github.com/MrEthical07/authgate/internal/dispatch"
	"github.com/MrEthical07/authgate/internal/flows"
	"github.com/MrEthical07/authgate/internal/stores"
	"github.com/MrEthical07/authgate/jwt"
	"github.com/MrEthical07/authgate/password"
	"github.com/MrEthical07/authgate/session"
	"github.com/redis/go-redis/v9"
)

// Builder assembles an Engine. Each Builder builds at most one Engine.
type Builder struct {
	config Config
	redis  redis.UniversalClient
	logger *slog.Logger

	users     UserStore
	mfa       MFAService
	syncer    IdentitySyncer
	notifier  ResetNotifier
	auditSink AuditSink
	now       func() time.Time

	built bool
}

// New returns a Builder seeded with DefaultConfig.
func New() *Builder {
	return &Builder{
		config: DefaultConfig(),
	}
}

func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cfg
	return b
}

// WithRedis sets the client used for sessions, MFA challenges and external
// identity tokens. It is required.
func (b *Builder) WithRedis(client redis.UniversalClient) *Builder {
	b.redis = client
	return b
}

// WithUserStore sets the account store. It is required.
func (b *Builder) WithUserStore(store UserStore) *Builder {
	b.users = store
	return b
}

// WithMFAService sets the second-factor verifier. Without one, logins for
// MFA-enabled accounts fail with ErrEngineNotReady.
func (b *Builder) WithMFAService(svc MFAService) *Builder {
	b.mfa = svc
	return b
}

// WithIdentitySyncer overrides the external identity client built from
// Config.Identity.
func (b *Builder) WithIdentitySyncer(syncer IdentitySyncer) *Builder {
	b.syncer = syncer
	return b
}

// WithResetNotifier sets who delivers reset instructions. The default only logs.
func (b *Builder) WithResetNotifier(n ResetNotifier) *Builder {
	b.notifier = n
	return b
}

func (b *Builder) WithAuditSink(sink AuditSink) *Builder {
	b.auditSink = sink
	return b
}

func (b *Builder) WithLogger(logger *slog.Logger) *Builder {
	b.logger = logger
	return b
}

func (b *Builder) WithMetricsEnabled(enabled bool) *Builder {
	b.config.Metrics.Enabled = enabled
	return b
}

func (b *Builder) WithLatencyHistograms(enabled bool) *Builder {
	b.config.Metrics.EnableLatencyHistograms = enabled
	return b
}

// WithClock replaces time.Now for token expiry decisions. Tests only.
func (b *Builder) WithClock(now func() time.Time) *Builder {
	b.now = now
	return b
}

// Build validates the configuration and wires the engine.
func (b *Builder) Build() (*Engine, error) {
	if b.built {
		return nil, errors.New("builder already used")
	}

	cfg := b.config
	if b.redis == nil {
		return nil, errors.New("redis client required")
	}
	if b.users == nil {
		return nil, errors.New("user store required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	logger := b.logger
	if logger == nil {
		logger = slog.Default()
	}
	now := b.now
	if now == nil {
		now = time.Now
	}

	engine := &Engine{
		config:   cfg,
		logger:   logger,
		now:      now,
		users:    b.users,
		mfa:      b.mfa,
		syncer:   b.syncer,
		notifier: b.notifier,

		sessions:       session.NewStore(b.redis, cfg.Session.RedisPrefix),
		identityTokens: stores.NewIdentityTokenStore(b.redis, cfg.Session.IdentityKeyPrefix),
		challenges:     stores.NewMFAChallengeStore(b.redis, cfg.MFA.RedisPrefix),
		digestKey:      []byte(cfg.Reset.DigestKey),
		metrics:        NewMetrics(cfg.Metrics),
	}

	if engine.syncer == nil && cfg.Identity.Enabled {
		engine.syncer = identity.New(identity.Config{
			BaseURL:     cfg.Identity.BaseURL,
			Timeout:     cfg.Identity.Timeout,
			DefaultRole: cfg.Identity.DefaultRole,
			Logger:      logger,
		})
	}
	if engine.notifier == nil {
		engine.notifier = logNotifier{logger: logger}
	}

	ph, err := password.NewHasher(password.Config{
		Memory:      cfg.Password.Memory,
		Time:        cfg.Password.Time,
		Parallelism: cfg.Password.Parallelism,
		SaltLength:  cfg.Password.SaltLength,
		KeyLength:   cfg.Password.KeyLength,
	})
	if err != nil {
		return nil, err
	}
	engine.hasher = ph

	jwtCfg := jwt.Config{
		AccessTTL:     cfg.Session.TTL,
		SigningMethod: jwt.SigningMethod(cfg.JWT.SigningMethod),
		Issuer:        cfg.JWT.Issuer,
		Leeway:        cfg.JWT.Leeway,
	}
	if jwtCfg.SigningMethod == jwt.MethodHS256 {
		jwtCfg.PrivateKey = []byte(cfg.JWT.Secret)
	} else {
		if jwtCfg.PrivateKey, err = cfg.JWT.decodedKey(cfg.JWT.PrivateKey); err != nil {
			return nil, err
		}
		if jwtCfg.PublicKey, err = cfg.JWT.decodedKey(cfg.JWT.PublicKey); err != nil {
			return nil, err
		}
	}
	jm, err := jwt.NewManager(jwtCfg)
	if err != nil {
		return nil, err
	}
	engine.jwtManager = jm

	if b.auditSink == nil && cfg.Audit.Enabled {
		b.auditSink = audit.NewSlogSink(logger.With("component", "audit"))
	}
	engine.audit = audit.NewDispatcher(audit.Config{
		Enabled:    cfg.Audit.Enabled,
		BufferSize: cfg.Audit.BufferSize,
		DropIfFull: cfg.Audit.DropIfFull,
	}, b.auditSink)

	if engine.syncer != nil {
		engine.syncPool = dispatch.New(dispatch.Config{
			Workers:    cfg.Sync.Workers,
			QueueSize:  cfg.Sync.QueueSize,
			DropIfFull: cfg.Sync.DropIfFull,
			JobTimeout: cfg.Sync.JobTimeout,
		}, engine.onSyncPanic)
	}

	engine.flows = flows.New(flows.Deps{
		Login: engine.loginDeps(),
		Reset: engine.resetDeps(),
	})

	b.built = true
	return engine, nil
}
