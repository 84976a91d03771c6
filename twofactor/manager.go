package twofactor

import (
	"context"
	"errors"
	"io"
	"time"

	"github.com/MrEthical07/authguard/internal/secure"
)

var (
	ErrNotEnrolled     = errors.New("two-factor not enrolled")
	ErrAlreadyEnabled  = errors.New("two-factor already enabled")
	ErrNotEnabled      = errors.New("two-factor not enabled")
	ErrInvalidCode     = errors.New("invalid two-factor code")
	ErrInvalidConfig   = errors.New("invalid two-factor config")
	errSecretUnsealing = errors.New("two-factor secret could not be opened")
)

// Status is the enrollment state.
type Status string

const (
	StatusUnenrolled Status = "unenrolled"
	StatusPending    Status = "pending_verification"
	StatusEnabled    Status = "enabled"
)

// Method names the factor that satisfied VerifyCode.
type Method string

const (
	MethodTOTP       Method = "totp"
	MethodBackupCode Method = "backup_code"
)

// Record is the persisted enrollment. LastUsedStep is -1 before the first
// accepted code.
type Record struct {
	UserID       string
	SealedSecret []byte
	Algorithm    string
	Enabled      bool
	LastUsedStep int64
	CreatedAt    time.Time
}

// Repository persists enrollments and backup code hashes.
type Repository interface {
	GetTwoFactor(ctx context.Context, userID string) (*Record, error)
	// SaveTwoFactor upserts a pending enrollment and replaces all backup
	// codes in one transaction.
	SaveTwoFactor(ctx context.Context, rec *Record, backupHashes []string) error
	// AdvanceTwoFactorStep sets last_used_step to step iff it is unset or
	// lower, optionally enabling the enrollment in the same statement.
	AdvanceTwoFactorStep(ctx context.Context, userID string, step int64, enable bool) (bool, error)
	// ConsumeBackupCode deletes the matching hash and reports whether a row
	// was removed.
	ConsumeBackupCode(ctx context.Context, userID, codeHash string) (bool, error)
	ReplaceBackupCodes(ctx context.Context, userID string, hashes []string) error
	CountBackupCodes(ctx context.Context, userID string) (int, error)
	DeleteTwoFactor(ctx context.Context, userID string) (bool, error)
}

// Config holds TOTP and backup code parameters.
type Config struct {
	Issuer           string
	Period           int
	Digits           int
	Skew             int
	Algorithm        string
	BackupCodeCount  int
	BackupCodeLength int
}

// DefaultConfig is SHA1, 6 digits, 30s steps, one step of drift either way
// and ten 8-character backup codes.
func DefaultConfig() Config {
	return Config{
		Issuer:           "authguard",
		Period:           30,
		Digits:           6,
		Skew:             1,
		Algorithm:        "SHA1",
		BackupCodeCount:  10,
		BackupCodeLength: 8,
	}
}

// Validate checks ranges.
func (c Config) Validate() error {
	if c.Issuer == "" || c.Period <= 0 || c.Skew < 0 || c.Skew > 3 {
		return ErrInvalidConfig
	}
	if c.Digits != 6 && c.Digits != 8 {
		return ErrInvalidConfig
	}
	if _, err := hmacFunc(c.Algorithm); err != nil {
		return ErrInvalidConfig
	}
	if c.BackupCodeCount <= 0 || c.BackupCodeLength < 8 {
		return ErrInvalidConfig
	}
	return nil
}

// Enrollment is returned once by BeginEnrollment; nothing in it is
// retrievable later.
type Enrollment struct {
	Secret          string
	ProvisioningURI string
	BackupCodes     []string
}

// Manager drives the enrollment state machine.
type Manager struct {
	repo   Repository
	box    *secure.SecretBox
	config Config
	clock  secure.Clock
	rand   io.Reader
}

// NewManager validates cfg. box seals TOTP secrets.
func NewManager(repo Repository, box *secure.SecretBox, cfg Config, clock secure.Clock, rnd io.Reader) (*Manager, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if box == nil {
		return nil, errors.New("twofactor: secret box is required")
	}
	return &Manager{
		repo:   repo,
		box:    box,
		config: cfg,
		clock:  secure.ClockOrSystem(clock),
		rand:   secure.ReaderOrDefault(rnd),
	}, nil
}

func (m *Manager) totp(algorithm string) totp {
	if algorithm == "" {
		algorithm = m.config.Algorithm
	}
	return totp{
		period:    m.config.Period,
		digits:    m.config.Digits,
		skew:      m.config.Skew,
		algorithm: algorithm,
		issuer:    m.config.Issuer,
	}
}

func secretAD(userID string) []byte {
	return secure.AssociatedData(secure.PurposeTOTPSecret, userID)
}

// BeginEnrollment creates or replaces a pending enrollment.
func (m *Manager) BeginEnrollment(ctx context.Context, userID, accountLabel string) (*Enrollment, error) {
	rec, err := m.repo.GetTwoFactor(ctx, userID)
	switch {
	case err == nil && rec.Enabled:
		return nil, ErrAlreadyEnabled
	case err != nil && !errors.Is(err, ErrNotEnrolled):
		return nil, err
	}

	secret, err := secure.RandomBytes(m.rand, secretBytes)
	if err != nil {
		return nil, err
	}
	sealed, err := m.box.Seal(secret, secretAD(userID))
	if err != nil {
		return nil, err
	}
	codes, hashes, err := m.newBackupCodes(userID)
	if err != nil {
		return nil, err
	}

	rec = &Record{
		UserID:       userID,
		SealedSecret: sealed,
		Algorithm:    m.config.Algorithm,
		LastUsedStep: -1,
		CreatedAt:    m.clock.Now().UTC().Truncate(time.Millisecond),
	}
	if err := m.repo.SaveTwoFactor(ctx, rec, hashes); err != nil {
		return nil, err
	}

	t := m.totp(rec.Algorithm)
	return &Enrollment{
		Secret:          b32.EncodeToString(secret),
		ProvisioningURI: t.provisionURI(secret, accountLabel),
		BackupCodes:     codes,
	}, nil
}

// ConfirmEnrollment activates a pending enrollment with a valid TOTP code.
// On failure the enrollment stays pending.
func (m *Manager) ConfirmEnrollment(ctx context.Context, userID, code string) error {
	rec, err := m.repo.GetTwoFactor(ctx, userID)
	if err != nil {
		return err
	}
	if rec.Enabled {
		return ErrAlreadyEnabled
	}
	return m.redeemTOTP(ctx, rec, code, true)
}

// VerifyCode checks code against the TOTP secret, then against the unused
// backup codes. A matched backup code is deleted.
func (m *Manager) VerifyCode(ctx context.Context, userID, code string) (Method, error) {
	rec, err := m.repo.GetTwoFactor(ctx, userID)
	if err != nil {
		return "", err
	}
	if !rec.Enabled {
		return "", ErrNotEnabled
	}

	err = m.redeemTOTP(ctx, rec, code, false)
	if err == nil {
		return MethodTOTP, nil
	}
	if !errors.Is(err, ErrInvalidCode) {
		return "", err
	}

	canonical := CanonicalizeBackupCode(code)
	if len(canonical) != m.config.BackupCodeLength {
		return "", ErrInvalidCode
	}
	ok, err := m.repo.ConsumeBackupCode(ctx, userID, BackupCodeHash(userID, canonical))
	if err != nil {
		return "", err
	}
	if !ok {
		return "", ErrInvalidCode
	}
	return MethodBackupCode, nil
}

func (m *Manager) redeemTOTP(ctx context.Context, rec *Record, code string, enable bool) error {
	secret, err := m.box.Open(rec.SealedSecret, secretAD(rec.UserID))
	if err != nil {
		return errSecretUnsealing
	}
	ok, step, err := m.totp(rec.Algorithm).match(secret, code, m.clock.Now())
	if err != nil {
		return err
	}
	if !ok || step <= rec.LastUsedStep {
		return ErrInvalidCode
	}
	advanced, err := m.repo.AdvanceTwoFactorStep(ctx, rec.UserID, step, enable)
	if err != nil {
		return err
	}
	if !advanced {
		// A concurrent request redeemed this or a later step first.
		return ErrInvalidCode
	}
	return nil
}

// Disable removes the enrollment and every backup code. Re-authentication
// is the caller's responsibility.
func (m *Manager) Disable(ctx context.Context, userID string) error {
	removed, err := m.repo.DeleteTwoFactor(ctx, userID)
	if err != nil {
		return err
	}
	if !removed {
		return ErrNotEnrolled
	}
	return nil
}

// RegenerateBackupCodes atomically replaces every backup code.
func (m *Manager) RegenerateBackupCodes(ctx context.Context, userID string) ([]string, error) {
	rec, err := m.repo.GetTwoFactor(ctx, userID)
	if err != nil {
		return nil, err
	}
	if !rec.Enabled {
		return nil, ErrNotEnabled
	}
	codes, hashes, err := m.newBackupCodes(userID)
	if err != nil {
		return nil, err
	}
	if err := m.repo.ReplaceBackupCodes(ctx, userID, hashes); err != nil {
		return nil, err
	}
	return codes, nil
}

// Status reports the enrollment state.
func (m *Manager) Status(ctx context.Context, userID string) (Status, error) {
	rec, err := m.repo.GetTwoFactor(ctx, userID)
	if errors.Is(err, ErrNotEnrolled) {
		return StatusUnenrolled, nil
	}
	if err != nil {
		return "", err
	}
	if rec.Enabled {
		return StatusEnabled, nil
	}
	return StatusPending, nil
}

// RemainingBackupCodes counts unused backup codes.
func (m *Manager) RemainingBackupCodes(ctx context.Context, userID string) (int, error) {
	return m.repo.CountBackupCodes(ctx, userID)
}

func (m *Manager) newBackupCodes(userID string) ([]string, []string, error) {
	codes := make([]string, 0, m.config.BackupCodeCount)
	hashes := make([]string, 0, m.config.BackupCodeCount)
	seen := make(map[string]struct{}, m.config.BackupCodeCount)

	for len(codes) < m.config.BackupCodeCount {
		code, err := newBackupCode(m.rand, m.config.BackupCodeLength)
		if err != nil {
			return nil, nil, err
		}
		if _, dup := seen[code]; dup {
			continue
		}
		seen[code] = struct{}{}
		codes = append(codes, code)
		hashes = append(hashes, BackupCodeHash(userID, code))
	}
	return codes, hashes, nil
}
