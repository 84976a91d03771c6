package credential

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"
	"unicode/utf8"

	"github.com/MrEthical07/authguard/internal/secure"
	"github.com/MrEthical07/authguard/password"
)

const (
	// MinPasswordLength is counted in runes.
	MinPasswordLength = 8
	// VerificationTokenSize is 256 bits.
	VerificationTokenSize = 32
)

var (
	ErrWeakCredential        = errors.New("password does not meet policy")
	ErrInvalidOrExpiredToken = errors.New("token invalid or expired")
	// ErrSessionRevocation reports that the credential was stored but the
	// user's other sessions could not all be revoked.
	ErrSessionRevocation = errors.New("session revocation failed")
)

// SessionInvalidator revokes a user's sessions after a credential change.
// exceptToken names a session to keep and may be empty.
type SessionInvalidator interface {
	RevokeAll(ctx context.Context, userID, exceptToken string) (int, error)
}

// Config tunes the manager.
type Config struct {
	ResetTokenTTL time.Duration
}

// SetOptions qualifies SetPassword.
type SetOptions struct {
	// Registration skips session invalidation.
	Registration bool
	// KeepSessionToken survives the invalidation.
	KeepSessionToken string
}

// Manager implements password and token operations.
type Manager struct {
	repo        Repository
	hasher      *password.Hasher
	invalidator SessionInvalidator
	config      Config
	clock       secure.Clock
	rand        io.Reader
	logger      *slog.Logger
}

// Options carry optional collaborators.
type Options struct {
	Invalidator SessionInvalidator
	Clock       secure.Clock
	Rand        io.Reader
	Logger      *slog.Logger
}

func NewManager(repo Repository, hasher *password.Hasher, cfg Config, opts Options) *Manager {
	if cfg.ResetTokenTTL <= 0 {
		cfg.ResetTokenTTL = 15 * time.Minute
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		repo:        repo,
		hasher:      hasher,
		invalidator: opts.Invalidator,
		config:      cfg,
		clock:       secure.ClockOrSystem(opts.Clock),
		rand:        secure.ReaderOrDefault(opts.Rand),
		logger:      logger,
	}
}

// CheckPolicy validates a candidate password without hashing it.
func CheckPolicy(plaintext string) error {
	if utf8.RuneCountInString(plaintext) < MinPasswordLength {
		return ErrWeakCredential
	}
	if len(plaintext) > password.MaxPasswordBytes {
		return ErrWeakCredential
	}
	return nil
}

// HashNew checks plaintext against the policy and hashes it for a user that
// does not exist yet. The caller stores the hash together with the user.
func (m *Manager) HashNew(plaintext string) (string, error) {
	if err := CheckPolicy(plaintext); err != nil {
		return "", err
	}
	return m.hasher.Hash(plaintext)
}

// SetPassword stores a fresh hash for userID. Outside registration every
// other session of the user is revoked.
func (m *Manager) SetPassword(ctx context.Context, userID, plaintext string, opts SetOptions) error {
	if err := CheckPolicy(plaintext); err != nil {
		return err
	}
	hash, err := m.hasher.Hash(plaintext)
	if err != nil {
		return err
	}
	if err := m.repo.SetPasswordHash(ctx, userID, hash); err != nil {
		return err
	}
	if !opts.Registration {
		return m.invalidate(ctx, userID, opts.KeepSessionToken)
	}
	return nil
}

// VerifyPassword reports whether plaintext matches the stored hash. An
// unknown user costs one dummy hash evaluation and yields false. A legacy or
// weaker hash is transparently upgraded after a match.
func (m *Manager) VerifyPassword(ctx context.Context, userID, plaintext string) (bool, error) {
	stored, err := m.repo.GetPasswordHash(ctx, userID)
	if errors.Is(err, ErrNoCredential) {
		return m.hasher.VerifyMissing(plaintext), nil
	}
	if err != nil {
		m.hasher.VerifyMissing(plaintext)
		return false, err
	}

	ok, err := m.hasher.Verify(plaintext, stored)
	if err != nil {
		m.logger.Error("credential: stored hash unreadable", "user_id", userID, "error", err)
		return false, nil
	}
	if ok && m.hasher.NeedsUpgrade(stored) {
		m.upgrade(ctx, userID, plaintext)
	}
	return ok, nil
}

// VerifyUnknown burns the same work as VerifyPassword for a caller that has
// no user id to check, e.g. login with an unregistered email.
func (m *Manager) VerifyUnknown(plaintext string) bool {
	return m.hasher.VerifyMissing(plaintext)
}

func (m *Manager) upgrade(ctx context.Context, userID, plaintext string) {
	hash, err := m.hasher.Hash(plaintext)
	if err == nil {
		err = m.repo.SetPasswordHash(ctx, userID, hash)
	}
	if err != nil {
		m.logger.Warn("credential: hash upgrade failed", "user_id", userID, "error", err)
		return
	}
	m.logger.Info("credential: password hash upgraded", "user_id", userID)
}

// IssueVerificationToken replaces any pending email verification token.
func (m *Manager) IssueVerificationToken(ctx context.Context, userID string) (string, error) {
	token, err := secure.RandomToken(m.rand, VerificationTokenSize)
	if err != nil {
		return "", err
	}
	if err := m.repo.SetVerificationToken(ctx, userID, secure.HashHex(token)); err != nil {
		return "", err
	}
	return token, nil
}

// ConsumeVerificationToken redeems token once and returns its owner.
func (m *Manager) ConsumeVerificationToken(ctx context.Context, token string) (string, error) {
	if token == "" {
		return "", ErrInvalidOrExpiredToken
	}
	userID, err := m.repo.ConsumeVerificationToken(ctx, secure.HashHex(token))
	if errors.Is(err, ErrTokenNotFound) {
		return "", ErrInvalidOrExpiredToken
	}
	return userID, err
}

// IssueResetToken creates a 512-bit reset token, overwriting any prior one.
func (m *Manager) IssueResetToken(ctx context.Context, userID string) (string, time.Time, error) {
	token, err := secure.RandomToken(m.rand, secure.ResetTokenSize)
	if err != nil {
		return "", time.Time{}, err
	}
	expiresAt := m.clock.Now().Add(m.config.ResetTokenTTL).Truncate(time.Millisecond)
	if err := m.repo.SetResetToken(ctx, userID, secure.HashHex(token), expiresAt); err != nil {
		return "", time.Time{}, err
	}
	return token, expiresAt, nil
}

// ConsumeResetToken sets newPassword for the token's owner and burns the
// token. The password policy is checked before the token is touched, so a
// weak password leaves the token usable.
func (m *Manager) ConsumeResetToken(ctx context.Context, token, newPassword string) (string, error) {
	if err := CheckPolicy(newPassword); err != nil {
		return "", err
	}
	if token == "" {
		return "", ErrInvalidOrExpiredToken
	}
	hash, err := m.hasher.Hash(newPassword)
	if err != nil {
		return "", err
	}

	userID, err := m.repo.ConsumeResetToken(ctx, secure.HashHex(token), m.clock.Now(), hash)
	if errors.Is(err, ErrTokenNotFound) {
		return "", ErrInvalidOrExpiredToken
	}
	if err != nil {
		return "", err
	}

	if err := m.invalidate(ctx, userID, ""); err != nil {
		return userID, err
	}
	return userID, nil
}

func (m *Manager) invalidate(ctx context.Context, userID, keep string) error {
	if m.invalidator == nil {
		return nil
	}
	n, err := m.invalidator.RevokeAll(ctx, userID, keep)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrSessionRevocation, err)
	}
	if n > 0 {
		m.logger.Info("credential: sessions revoked after credential change", "user_id", userID, "count", n)
	}
	return nil
}
