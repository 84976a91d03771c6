package sqlstore

import (
	"context"
	"database/sql"
	"errors"

	"github.com/MrEthical07/authguard/oauth"
)

var _ oauth.Repository = (*Store)(nil)

const linkedColumns = `user_id, provider, provider_user_id, email, access_token, refresh_token, token_expiry, created_at`

// SaveLinkedAccount inserts or refreshes a link. The upsert only touches a
// row owned by the same user; otherwise nothing changes and
// oauth.ErrAlreadyLinked is returned.
func (s *Store) SaveLinkedAccount(ctx context.Context, la *oauth.LinkedAccount) error {
	res, err := s.exec(ctx, s.db, `INSERT INTO linked_accounts (`+linkedColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (provider, provider_user_id) DO UPDATE SET
			email = excluded.email,
			access_token = excluded.access_token,
			refresh_token = COALESCE(excluded.refresh_token, linked_accounts.refresh_token),
			token_expiry = excluded.token_expiry
		WHERE linked_accounts.user_id = excluded.user_id`,
		la.UserID, la.Provider, la.ProviderUserID, la.Email,
		nullBytes(la.SealedAccessToken), nullBytes(la.SealedRefreshToken),
		nullMillis(la.TokenExpiry), millis(la.CreatedAt))
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return unavailable(err)
	}
	if n == 0 {
		return oauth.ErrAlreadyLinked
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanLinked(row rowScanner) (*oauth.LinkedAccount, error) {
	var (
		la      oauth.LinkedAccount
		expiry  sql.NullInt64
		created int64
	)
	if err := row.Scan(&la.UserID, &la.Provider, &la.ProviderUserID, &la.Email,
		&la.SealedAccessToken, &la.SealedRefreshToken, &expiry, &created); err != nil {
		return nil, err
	}
	if expiry.Valid {
		la.TokenExpiry = fromMillis(expiry.Int64)
	}
	la.CreatedAt = fromMillis(created)
	return &la, nil
}

// GetLinkedAccount returns oauth.ErrNotLinked when absent.
func (s *Store) GetLinkedAccount(ctx context.Context, provider, providerUserID string) (*oauth.LinkedAccount, error) {
	la, err := scanLinked(s.db.QueryRowContext(ctx, s.rebind(`SELECT `+linkedColumns+`
		FROM linked_accounts WHERE provider = ? AND provider_user_id = ?`), provider, providerUserID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, oauth.ErrNotLinked
	}
	if err != nil {
		return nil, unavailable(err)
	}
	return la, nil
}

// ListLinkedAccounts returns a user's links ordered by provider.
func (s *Store) ListLinkedAccounts(ctx context.Context, userID string) ([]oauth.LinkedAccount, error) {
	rows, err := s.db.QueryContext(ctx, s.rebind(`SELECT `+linkedColumns+`
		FROM linked_accounts WHERE user_id = ? ORDER BY provider`), userID)
	if err != nil {
		return nil, unavailable(err)
	}
	defer rows.Close()

	var out []oauth.LinkedAccount
	for rows.Next() {
		la, err := scanLinked(rows)
		if err != nil {
			return nil, unavailable(err)
		}
		out = append(out, *la)
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable(err)
	}
	return out, nil
}

// DeleteLinkedAccount removes every link of provider for userID.
func (s *Store) DeleteLinkedAccount(ctx context.Context, userID, provider string) (bool, error) {
	res, err := s.exec(ctx, s.db, `DELETE FROM linked_accounts WHERE user_id = ? AND provider = ?`, userID, provider)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, unavailable(err)
	}
	return n > 0, nil
}

func nullBytes(b []byte) any {
	if len(b) == 0 {
		return nil
	}
	return b
}
