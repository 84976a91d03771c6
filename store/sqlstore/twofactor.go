package sqlstore

import (
	"context"
	"database/sql"
	"errors"

	"github.com/MrEthical07/authguard/twofactor"
)

var _ twofactor.Repository = (*Store)(nil)

// GetTwoFactor returns twofactor.ErrNotEnrolled when absent.
func (s *Store) GetTwoFactor(ctx context.Context, userID string) (*twofactor.Record, error) {
	var (
		rec     twofactor.Record
		enabled int
		step    sql.NullInt64
		created int64
	)
	err := s.db.QueryRowContext(ctx, s.rebind(`SELECT user_id, sealed_secret, algorithm, enabled, last_used_step, created_at
		FROM two_factor WHERE user_id = ?`), userID).
		Scan(&rec.UserID, &rec.SealedSecret, &rec.Algorithm, &enabled, &step, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, twofactor.ErrNotEnrolled
	}
	if err != nil {
		return nil, unavailable(err)
	}
	rec.Enabled = enabled != 0
	rec.LastUsedStep = -1
	if step.Valid {
		rec.LastUsedStep = step.Int64
	}
	rec.CreatedAt = fromMillis(created)
	return &rec, nil
}

// SaveTwoFactor upserts a pending enrollment and its backup codes.
func (s *Store) SaveTwoFactor(ctx context.Context, rec *twofactor.Record, backupHashes []string) error {
	step := sql.NullInt64{}
	if rec.LastUsedStep >= 0 {
		step = sql.NullInt64{Int64: rec.LastUsedStep, Valid: true}
	}
	return s.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := s.exec(ctx, tx, `INSERT INTO two_factor (user_id, sealed_secret, algorithm, enabled, last_used_step, created_at)
			VALUES (?, ?, ?, ?, ?, ?)
			ON CONFLICT (user_id) DO UPDATE SET
				sealed_secret = excluded.sealed_secret,
				algorithm = excluded.algorithm,
				enabled = excluded.enabled,
				last_used_step = excluded.last_used_step,
				created_at = excluded.created_at`,
			rec.UserID, rec.SealedSecret, rec.Algorithm, boolInt(rec.Enabled), step, millis(rec.CreatedAt)); err != nil {
			return err
		}
		return s.replaceBackupCodes(ctx, tx, rec.UserID, backupHashes)
	})
}

// AdvanceTwoFactorStep is a compare-and-set on last_used_step.
func (s *Store) AdvanceTwoFactorStep(ctx context.Context, userID string, step int64, enable bool) (bool, error) {
	res, err := s.exec(ctx, s.db, `UPDATE two_factor
		SET last_used_step = ?, enabled = CASE WHEN ? = 1 THEN 1 ELSE enabled END
		WHERE user_id = ? AND (last_used_step IS NULL OR last_used_step < ?)`,
		step, boolInt(enable), userID, step)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, unavailable(err)
	}
	return n == 1, nil
}

// ConsumeBackupCode deletes the matching hash.
func (s *Store) ConsumeBackupCode(ctx context.Context, userID, codeHash string) (bool, error) {
	res, err := s.exec(ctx, s.db, `DELETE FROM backup_codes WHERE user_id = ? AND code_hash = ?`, userID, codeHash)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, unavailable(err)
	}
	return n == 1, nil
}

// ReplaceBackupCodes swaps the whole set in one transaction.
func (s *Store) ReplaceBackupCodes(ctx context.Context, userID string, hashes []string) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		return s.replaceBackupCodes(ctx, tx, userID, hashes)
	})
}

func (s *Store) replaceBackupCodes(ctx context.Context, tx *sql.Tx, userID string, hashes []string) error {
	if _, err := s.exec(ctx, tx, `DELETE FROM backup_codes WHERE user_id = ?`, userID); err != nil {
		return err
	}
	for _, h := range hashes {
		if _, err := s.exec(ctx, tx, `INSERT INTO backup_codes (user_id, code_hash) VALUES (?, ?)`, userID, h); err != nil {
			return err
		}
	}
	return nil
}

// CountBackupCodes returns the number of unused codes.
func (s *Store) CountBackupCodes(ctx context.Context, userID string) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, s.rebind(`SELECT COUNT(*) FROM backup_codes WHERE user_id = ?`), userID).Scan(&n); err != nil {
		return 0, unavailable(err)
	}
	return n, nil
}

// DeleteTwoFactor removes the enrollment and its codes.
func (s *Store) DeleteTwoFactor(ctx context.Context, userID string) (bool, error) {
	var removed bool
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := s.exec(ctx, tx, `DELETE FROM backup_codes WHERE user_id = ?`, userID); err != nil {
			return err
		}
		res, err := s.exec(ctx, tx, `DELETE FROM two_factor WHERE user_id = ?`, userID)
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return unavailable(err)
		}
		removed = n == 1
		return nil
	})
	return removed, err
}
