package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/MrEthical07/authguard/credential"
)

var _ credential.Repository = (*Store)(nil)

// GetPasswordHash returns credential.ErrNoCredential for users without a
// password (OAuth-only accounts included).
func (s *Store) GetPasswordHash(ctx context.Context, userID string) (string, error) {
	var hash sql.NullString
	err := s.db.QueryRowContext(ctx, s.rebind(`SELECT password_hash FROM credentials WHERE user_id = ?`), userID).Scan(&hash)
	if errors.Is(err, sql.ErrNoRows) || (err == nil && !hash.Valid) {
		return "", credential.ErrNoCredential
	}
	if err != nil {
		return "", unavailable(err)
	}
	return hash.String, nil
}

// SetPasswordHash upserts the hash and clears any pending reset.
func (s *Store) SetPasswordHash(ctx context.Context, userID, hash string) error {
	_, err := s.exec(ctx, s.db, `INSERT INTO credentials (user_id, password_hash, updated_at) VALUES (?, ?, ?)
		ON CONFLICT (user_id) DO UPDATE SET
			password_hash = excluded.password_hash,
			reset_token_hash = NULL,
			reset_expires_at = NULL,
			updated_at = excluded.updated_at`,
		userID, hash, millis(time.Now()))
	return err
}

// SetVerificationToken replaces the user's verification token hash.
func (s *Store) SetVerificationToken(ctx context.Context, userID, tokenHash string) error {
	_, err := s.exec(ctx, s.db, `INSERT INTO credentials (user_id, verification_token_hash, updated_at) VALUES (?, ?, ?)
		ON CONFLICT (user_id) DO UPDATE SET
			verification_token_hash = excluded.verification_token_hash,
			updated_at = excluded.updated_at`,
		userID, tokenHash, millis(time.Now()))
	return err
}

// ConsumeVerificationToken clears the token and marks the owner verified.
func (s *Store) ConsumeVerificationToken(ctx context.Context, tokenHash string) (string, error) {
	var userID string
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		err := tx.QueryRowContext(ctx, s.rebind(`UPDATE credentials SET verification_token_hash = NULL, updated_at = ?
			WHERE verification_token_hash = ? RETURNING user_id`), millis(time.Now()), tokenHash).Scan(&userID)
		if errors.Is(err, sql.ErrNoRows) {
			return credential.ErrTokenNotFound
		}
		if err != nil {
			return unavailable(err)
		}
		_, err = s.exec(ctx, tx, `UPDATE users SET email_verified = 1 WHERE id = ?`, userID)
		return err
	})
	if err != nil {
		return "", err
	}
	return userID, nil
}

// SetResetToken overwrites any previous reset token.
func (s *Store) SetResetToken(ctx context.Context, userID, tokenHash string, expiresAt time.Time) error {
	_, err := s.exec(ctx, s.db, `INSERT INTO credentials (user_id, reset_token_hash, reset_expires_at, updated_at) VALUES (?, ?, ?, ?)
		ON CONFLICT (user_id) DO UPDATE SET
			reset_token_hash = excluded.reset_token_hash,
			reset_expires_at = excluded.reset_expires_at,
			updated_at = excluded.updated_at`,
		userID, tokenHash, millis(expiresAt), millis(time.Now()))
	return err
}

// ConsumeResetToken swaps the password hash in the statement that burns the
// token.
func (s *Store) ConsumeResetToken(ctx context.Context, tokenHash string, now time.Time, newHash string) (string, error) {
	var userID string
	err := s.db.QueryRowContext(ctx, s.rebind(`UPDATE credentials
		SET password_hash = ?, reset_token_hash = NULL, reset_expires_at = NULL, updated_at = ?
		WHERE reset_token_hash = ? AND reset_expires_at > ?
		RETURNING user_id`), newHash, millis(now), tokenHash, millis(now)).Scan(&userID)
	if errors.Is(err, sql.ErrNoRows) {
		return "", credential.ErrTokenNotFound
	}
	if err != nil {
		return "", unavailable(err)
	}
	return userID, nil
}
