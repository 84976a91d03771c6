package authguard

import (
	"errors"
	"time"

	"github.com/MrEthical07/authguard/audit"
	"github.com/MrEthical07/authguard/internal/challenge"
	"github.com/MrEthical07/authguard/oauth"
	"github.com/MrEthical07/authguard/password"
	"github.com/MrEthical07/authguard/twofactor"
)

// Config holds every engine setting. Obtain a starting point from
// DefaultConfig and override fields before passing it to Builder.WithConfig.
type Config struct {
	Keys        KeysConfig
	Session     SessionConfig
	Password    password.Config
	Credential  CredentialConfig
	TwoFactor   twofactor.Config
	Challenge   ChallengeConfig
	RateLimit   RateLimitConfig
	Audit       AuditConfig
	OAuth       OAuthConfig
	Notify      NotifyConfig
	Maintenance MaintenanceConfig
	Metrics     MetricsConfig
}

/*
====================================
KEYS CONFIG
====================================
*/

// KeysConfig holds the server-side master secret. Per-purpose keys (TOTP
// secret sealing, OAuth token sealing, audit checksums, pending-2FA tokens)
// are derived from it with HKDF.
type KeysConfig struct {
	MasterSecret []byte
	Salt         []byte
}

/*
====================================
SESSION CONFIG
====================================
*/

// SessionConfig controls session lifetime and storage.
type SessionConfig struct {
	RedisPrefix string
	// Lifetime applies to ordinary logins; refresh extends by the same
	// amount.
	Lifetime time.Duration
	// RememberMeLifetime applies when LoginRequest.RememberMe is set.
	RememberMeLifetime time.Duration
	// MaxConcurrent bounds active sessions per user; the oldest are evicted.
	// Zero disables the limit.
	MaxConcurrent    int
	RefreshThreshold float64
	SweepGrace       time.Duration
}

/*
====================================
CREDENTIAL CONFIG
====================================
*/

// CredentialConfig controls password resets and email verification.
type CredentialConfig struct {
	ResetTokenTTL time.Duration
	// RequireVerifiedEmail rejects password logins until the address is
	// verified.
	RequireVerifiedEmail bool
}

// ChallengeConfig controls the pending two-factor step between password
// verification and code entry.
type ChallengeConfig struct {
	TTL         time.Duration
	MaxAttempts int
}

/*
====================================
RATE LIMIT CONFIG
====================================
*/

// RatePolicy allows Max requests per Window for one subject.
type RatePolicy struct {
	Max    int
	Window time.Duration
}

// RateLimitConfig holds one policy per protected flow.
type RateLimitConfig struct {
	LoginIdentity RatePolicy
	LoginIP       RatePolicy
	Register      RatePolicy
	ResetAccount  RatePolicy
	ResetIP       RatePolicy
	TwoFactor     RatePolicy
	VerifyEmail   RatePolicy
	// PenaltyBase is the first lockout step after repeated failures. Zero
	// disables failure lockouts; window limits still apply.
	PenaltyBase time.Duration
	// LocalCacheSize bounds the in-process cache of denied keys.
	LocalCacheSize int
}

/*
====================================
AUDIT CONFIG
====================================
*/

// AuditConfig controls audit streaming, retention and integrity scans.
type AuditConfig struct {
	// Sink streaming. Entries are always persisted; the sink gets copies.
	StreamEnabled bool
	BufferSize    int
	DropIfFull    bool
	// BlockTimeout caps the wait for buffer space when DropIfFull is off.
	BlockTimeout time.Duration

	Retention audit.RetentionPolicy
	// IntegrityPageSize is the batch size of scheduled integrity scans.
	IntegrityPageSize int
}

// OAuthConfig controls third-party login.
type OAuthConfig struct {
	StateTTL    time.Duration
	RedisPrefix string
}

// NotifyConfig bounds each outbound notification.
type NotifyConfig struct {
	Timeout time.Duration
}

// MaintenanceConfig schedules the session sweep, audit retention and
// integrity scan. A zero Interval disables the background janitor; RunMaintenance
// still works on demand.
type MaintenanceConfig struct {
	Interval time.Duration
}

// MetricsConfig toggles in-process counters.
type MetricsConfig struct {
	Enabled                 bool
	EnableLatencyHistograms bool
}

/*
====================================
DEFAULT CONFIG
====================================
*/

// DefaultConfig returns production defaults. Keys.MasterSecret is empty and
// must be supplied.
func DefaultConfig() Config {
	return defaultConfig()
}

func defaultConfig() Config {
	cdef := challenge.DefaultConfig()
	odef := oauth.DefaultConfig()
	return Config{
		Session: SessionConfig{
			RedisPrefix:        "as",
			Lifetime:           24 * time.Hour,
			RememberMeLifetime: 30 * 24 * time.Hour,
			MaxConcurrent:      5,
			RefreshThreshold:   0.25,
			SweepGrace:         time.Hour,
		},
		Password: password.DefaultConfig(),
		Credential: CredentialConfig{
			ResetTokenTTL:        15 * time.Minute,
			RequireVerifiedEmail: false,
		},
		TwoFactor: twofactor.DefaultConfig(),
		Challenge: ChallengeConfig{
			TTL:         cdef.TTL,
			MaxAttempts: cdef.MaxAttempts,
		},
		RateLimit: RateLimitConfig{
			LoginIdentity:  RatePolicy{Max: 5, Window: 15 * time.Minute},
			LoginIP:        RatePolicy{Max: 20, Window: 15 * time.Minute},
			Register:       RatePolicy{Max: 10, Window: time.Hour},
			ResetAccount:   RatePolicy{Max: 3, Window: time.Hour},
			ResetIP:        RatePolicy{Max: 10, Window: time.Hour},
			TwoFactor:      RatePolicy{Max: 5, Window: 5 * time.Minute},
			VerifyEmail:    RatePolicy{Max: 10, Window: time.Hour},
			PenaltyBase:    time.Second,
			LocalCacheSize: 10000,
		},
		Audit: AuditConfig{
			StreamEnabled:     false,
			BufferSize:        1024,
			DropIfFull:        true,
			BlockTimeout:      time.Second,
			Retention:         audit.DefaultRetention(),
			IntegrityPageSize: 200,
		},
		OAuth: OAuthConfig{
			StateTTL:    odef.StateTTL,
			RedisPrefix: odef.Prefix,
		},
		Notify: NotifyConfig{
			Timeout: 10 * time.Second,
		},
		Maintenance: MaintenanceConfig{
			Interval: time.Hour,
		},
		Metrics: MetricsConfig{
			Enabled:                 true,
			EnableLatencyHistograms: false,
		},
	}
}

func cloneConfig(cfg Config) Config {
	out := cfg
	out.Keys.MasterSecret = cloneBytes(cfg.Keys.MasterSecret)
	out.Keys.Salt = cloneBytes(cfg.Keys.Salt)
	if cfg.Audit.Retention.Windows != nil {
		windows := make(map[audit.EventType]time.Duration, len(cfg.Audit.Retention.Windows))
		for k, v := range cfg.Audit.Retention.Windows {
			windows[k] = v
		}
		out.Audit.Retention.Windows = windows
	}
	return out
}

func cloneBytes(b []byte) []byte {
	if len(b) == 0 {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}

/*
====================================
VALIDATION
====================================
*/

// Validate rejects configurations the engine cannot run safely with.
func (c *Config) Validate() error {
	if len(c.Keys.MasterSecret) < 32 {
		return errors.New("Keys MasterSecret must be at least 32 bytes")
	}

	// Session
	if c.Session.Lifetime <= 0 {
		return errors.New("Session Lifetime must be > 0")
	}
	if c.Session.RememberMeLifetime < c.Session.Lifetime {
		return errors.New("Session RememberMeLifetime must be >= Lifetime")
	}
	if c.Session.MaxConcurrent < 0 {
		return errors.New("Session MaxConcurrent must be >= 0")
	}
	if c.Session.RefreshThreshold <= 0 || c.Session.RefreshThreshold >= 1 {
		return errors.New("Session RefreshThreshold must be in (0, 1)")
	}
	if c.Session.SweepGrace < 0 {
		return errors.New("Session SweepGrace must be >= 0")
	}

	// Credentials
	if c.Credential.ResetTokenTTL <= 0 {
		return errors.New("Credential ResetTokenTTL must be > 0")
	}
	if err := c.TwoFactor.Validate(); err != nil {
		return errors.New("TwoFactor config is invalid")
	}
	if c.Challenge.TTL <= 0 || c.Challenge.MaxAttempts <= 0 {
		return errors.New("Challenge TTL and MaxAttempts must be > 0")
	}

	// Rate limits
	policies := map[string]RatePolicy{
		"LoginIdentity": c.RateLimit.LoginIdentity,
		"LoginIP":       c.RateLimit.LoginIP,
		"Register":      c.RateLimit.Register,
		"ResetAccount":  c.RateLimit.ResetAccount,
		"ResetIP":       c.RateLimit.ResetIP,
		"TwoFactor":     c.RateLimit.TwoFactor,
		"VerifyEmail":   c.RateLimit.VerifyEmail,
	}
	for name, p := range policies {
		if p.Max <= 0 || p.Window <= 0 {
			return errors.New("RateLimit " + name + " must have Max > 0 and Window > 0")
		}
	}
	if c.RateLimit.PenaltyBase < 0 {
		return errors.New("RateLimit PenaltyBase must be >= 0")
	}

	// Audit
	if c.Audit.StreamEnabled && c.Audit.BufferSize <= 0 {
		return errors.New("Audit BufferSize must be > 0 when streaming is enabled")
	}
	for et, window := range c.Audit.Retention.Windows {
		if window < 0 {
			return errors.New("Audit retention window for " + string(et) + " must be >= 0")
		}
	}

	if c.OAuth.StateTTL <= 0 {
		return errors.New("OAuth StateTTL must be > 0")
	}
	if c.Notify.Timeout <= 0 {
		return errors.New("Notify Timeout must be > 0")
	}
	if c.Maintenance.Interval < 0 {
		return errors.New("Maintenance Interval must be >= 0")
	}
	return nil
}
