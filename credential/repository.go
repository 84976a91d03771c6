package credential

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNoCredential is returned by repositories for unknown users.
	ErrNoCredential = errors.New("credential not found")
	// ErrTokenNotFound is returned when no row matches a consume request.
	ErrTokenNotFound = errors.New("token not found")
)

// Repository is the persistence boundary for credentials.
type Repository interface {
	GetPasswordHash(ctx context.Context, userID string) (string, error)
	// SetPasswordHash upserts the hash and clears any pending reset token.
	SetPasswordHash(ctx context.Context, userID, hash string) error
	SetVerificationToken(ctx context.Context, userID, tokenHash string) error
	// ConsumeVerificationToken clears the matching token and marks the owner's
	// email verified in one transaction.
	ConsumeVerificationToken(ctx context.Context, tokenHash string) (string, error)
	SetResetToken(ctx context.Context, userID, tokenHash string, expiresAt time.Time) error
	// ConsumeResetToken replaces the password hash and clears the token in a
	// single statement iff the token matches and expires after now.
	ConsumeResetToken(ctx context.Context, tokenHash string, now time.Time, newHash string) (string, error)
}
