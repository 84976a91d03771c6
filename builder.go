package authguard

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/redis/go-redis/v9"

	"github.com/MrEthical07/authguard/account"
	"github.com/MrEthical07/authguard/audit"
	"github.com/MrEthical07/authguard/credential"
	"github.com/MrEthical07/authguard/internal/challenge"
	"github.com/MrEthical07/authguard/internal/rate"
	"github.com/MrEthical07/authguard/internal/secure"
	"github.com/MrEthical07/authguard/notify"
	"github.com/MrEthical07/authguard/oauth"
	"github.com/MrEthical07/authguard/password"
	"github.com/MrEthical07/authguard/session"
	"github.com/MrEthical07/authguard/twofactor"
)

// Store is the relational persistence the engine needs. store/sqlstore
// provides the stock implementation.
type Store interface {
	account.Repository
	credential.Repository
	twofactor.Repository
	oauth.Repository
	audit.Repository

	// CreateUserWithPassword inserts a user and its credential atomically so
	// a failed registration never leaves an account without a password.
	CreateUserWithPassword(ctx context.Context, u *account.User, passwordHash string) error
}

// Clock supplies the current time. Tests substitute a manual clock.
type Clock interface {
	Now() time.Time
}

// Builder assembles an Engine. Configure it during initialization, call
// Build once, then discard it.
type Builder struct {
	config     Config
	redis      redis.UniversalClient
	store      Store
	notifier   notify.Notifier
	logger     *slog.Logger
	clock      Clock
	rand       io.Reader
	providers  []oauth.Provider
	auditSink  audit.Sink
	httpClient *http.Client

	built bool
}

// New returns a Builder seeded with DefaultConfig.
func New() *Builder {
	return &Builder{
		config: defaultConfig(),
	}
}

// WithConfig replaces the whole configuration.
func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cloneConfig(cfg)
	return b
}

// WithRedis sets the client holding sessions, rate limit counters, pending
// two-factor challenges and OAuth state.
func (b *Builder) WithRedis(client redis.UniversalClient) *Builder {
	b.redis = client
	return b
}

// WithStore sets the relational store for users, credentials, 2FA, linked
// accounts and the audit log.
func (b *Builder) WithStore(store Store) *Builder {
	b.store = store
	return b
}

// WithNotifier sets the outbound email channel. Defaults to notify.Noop.
func (b *Builder) WithNotifier(n notify.Notifier) *Builder {
	b.notifier = n
	return b
}

func (b *Builder) WithLogger(logger *slog.Logger) *Builder {
	b.logger = logger
	return b
}

func (b *Builder) WithClock(clock Clock) *Builder {
	b.clock = clock
	return b
}

// WithRand overrides the entropy source. Only tests should need this.
func (b *Builder) WithRand(r io.Reader) *Builder {
	b.rand = r
	return b
}

// WithOAuthProviders enables third-party login for the given providers.
func (b *Builder) WithOAuthProviders(providers ...oauth.Provider) *Builder {
	b.providers = append(b.providers, providers...)
	return b
}

// WithOAuthHTTPClient sets the client used for token exchange and user info
// requests.
func (b *Builder) WithOAuthHTTPClient(c *http.Client) *Builder {
	b.httpClient = c
	return b
}

// WithAuditSink streams a copy of every persisted audit entry to sink when
// Audit.StreamEnabled is set.
func (b *Builder) WithAuditSink(sink audit.Sink) *Builder {
	b.auditSink = sink
	return b
}

func (b *Builder) WithMetricsEnabled(enabled bool) *Builder {
	b.config.Metrics.Enabled = enabled
	return b
}

// Build validates the configuration and wires every component. A Builder
// can be used only once.
func (b *Builder) Build() (*Engine, error) {
	if b.built {
		return nil, errors.New("builder already used")
	}
	if b.redis == nil {
		return nil, errors.New("redis client required")
	}
	if b.store == nil {
		return nil, errors.New("store required")
	}

	cfg := cloneConfig(b.config)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	logger := b.logger
	if logger == nil {
		logger = slog.Default()
	}
	var clock secure.Clock = secure.SystemClock{}
	if b.clock != nil {
		clock = b.clock
	}
	rnd := secure.ReaderOrDefault(b.rand)
	notifier := b.notifier
	if notifier == nil {
		notifier = notify.Noop{}
	}

	// -------- KEYS --------
	keys, err := secure.NewKeyRing(cfg.Keys.MasterSecret, cfg.Keys.Salt)
	if err != nil {
		return nil, err
	}

	// -------- SESSIONS --------
	sessionStore := session.NewStore(b.redis, cfg.Session.RedisPrefix, cfg.Session.SweepGrace)
	sessions := session.NewManager(sessionStore, account.Checker{Users: b.store}, session.Config{
		RefreshThreshold: cfg.Session.RefreshThreshold,
		SweepGrace:       cfg.Session.SweepGrace,
	}, clock, rnd)

	// -------- CREDENTIALS --------
	hasher, err := password.NewHasher(cfg.Password, rnd)
	if err != nil {
		return nil, err
	}
	credentials := credential.NewManager(b.store, hasher, credential.Config{
		ResetTokenTTL: cfg.Credential.ResetTokenTTL,
	}, credential.Options{
		Invalidator: sessions,
		Clock:       clock,
		Rand:        rnd,
		Logger:      logger,
	})

	// -------- TWO-FACTOR --------
	totpBox, err := keys.SecretBox(secure.PurposeTOTPSecret, rnd)
	if err != nil {
		return nil, err
	}
	twoFactor, err := twofactor.NewManager(b.store, totpBox, cfg.TwoFactor, clock, rnd)
	if err != nil {
		return nil, err
	}
	challengeKey, err := keys.Derive(secure.PurposePendingMFA)
	if err != nil {
		return nil, err
	}
	challenges, err := challenge.NewIssuer(b.redis, challengeKey, challenge.Config{
		TTL:         cfg.Challenge.TTL,
		MaxAttempts: cfg.Challenge.MaxAttempts,
		Issuer:      cfg.TwoFactor.Issuer,
		Prefix:      cfg.Session.RedisPrefix + ":p2fa",
	}, clock, rnd)
	if err != nil {
		return nil, err
	}

	// -------- RATE LIMITS --------
	limiter, err := rate.New(b.redis, rate.Config{
		LocalCacheSize: cfg.RateLimit.LocalCacheSize,
		PenaltyBase:    cfg.RateLimit.PenaltyBase,
	}, clock, rnd)
	if err != nil {
		return nil, err
	}

	// -------- AUDIT --------
	dispatcher := audit.NewDispatcher(audit.DispatcherConfig{
		Enabled:      cfg.Audit.StreamEnabled && b.auditSink != nil,
		BufferSize:   cfg.Audit.BufferSize,
		DropIfFull:   cfg.Audit.DropIfFull,
		BlockTimeout: cfg.Audit.BlockTimeout,
		OnDrop: func(e audit.Entry) {
			logger.Warn("authguard: audit stream entry dropped",
				"audit_id", e.ID,
				"action", string(e.Action),
			)
		},
	}, b.auditSink)
	auditKey, err := keys.Derive(secure.PurposeAuditChecksum)
	if err != nil {
		return nil, err
	}
	auditOpts := audit.Options{Clock: clock, Rand: rnd, Logger: logger}
	if dispatcher != nil {
		auditOpts.Sink = dispatcher
	}
	auditLog, err := audit.NewLog(b.store, auditKey, auditOpts)
	if err != nil {
		return nil, err
	}

	// -------- OAUTH --------
	var oauthManager *oauth.Manager
	if len(b.providers) > 0 {
		box, err := keys.SecretBox(secure.PurposeOAuthToken, rnd)
		if err != nil {
			return nil, err
		}
		oauthManager, err = oauth.NewManager(b.redis, b.store, box, oauth.Config{
			StateTTL:   cfg.OAuth.StateTTL,
			Prefix:     cfg.OAuth.RedisPrefix,
			HTTPClient: b.httpClient,
		}, clock, rnd, b.providers...)
		if err != nil {
			return nil, err
		}
	}

	engine := &Engine{
		config:      cfg,
		logger:      logger,
		clock:       clock,
		rand:        rnd,
		validate:    validator.New(validator.WithRequiredStructEnabled()),
		store:       b.store,
		sessions:    sessions,
		credentials: credentials,
		twoFactor:   twoFactor,
		challenges:  challenges,
		limiter:     limiter,
		auditLog:    auditLog,
		dispatcher:  dispatcher,
		oauth:       oauthManager,
		notifier:    notifier,
		metrics:     NewMetrics(cfg.Metrics),
	}
	engine.policies = newPolicies(cfg.RateLimit)
	engine.janitor = audit.NewJanitor(cfg.Maintenance.Interval, logger, engine.maintenanceJobs()...)

	b.built = true
	return engine, nil
}
