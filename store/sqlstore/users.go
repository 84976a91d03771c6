package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/MrEthical07/authguard/account"
)

var _ account.Repository = (*Store)(nil)

const userColumns = `id, email, display_name, status, email_verified, created_at`

// CreateUser inserts u, assigning a UUID when u.ID is empty.
func (s *Store) CreateUser(ctx context.Context, u *account.User) error {
	return s.insertUser(ctx, s.db, u)
}

// CreateUserWithPassword inserts u and its credential row in one
// transaction. Either both exist afterwards or neither does.
func (s *Store) CreateUserWithPassword(ctx context.Context, u *account.User, passwordHash string) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		if err := s.insertUser(ctx, tx, u); err != nil {
			return err
		}
		_, err := s.exec(ctx, tx, `INSERT INTO credentials (user_id, password_hash, updated_at) VALUES (?, ?, ?)`,
			u.ID, passwordHash, millis(time.Now()))
		return err
	})
}

func (s *Store) insertUser(ctx context.Context, q queryer, u *account.User) error {
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	if u.Status == "" {
		u.Status = account.StatusActive
	}
	u.Email = account.NormalizeEmail(u.Email)

	_, err := q.ExecContext(ctx, s.rebind(`INSERT INTO users (`+userColumns+`) VALUES (?, ?, ?, ?, ?, ?)`),
		u.ID, u.Email, u.DisplayName, string(u.Status), boolInt(u.EmailVerified), millis(u.CreatedAt))
	if err != nil {
		if isUniqueViolation(err) {
			return account.ErrEmailTaken
		}
		return unavailable(err)
	}
	return nil
}

func scanUser(row *sql.Row) (*account.User, error) {
	var (
		u        account.User
		status   string
		verified int
		created  int64
	)
	if err := row.Scan(&u.ID, &u.Email, &u.DisplayName, &status, &verified, &created); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, account.ErrUserNotFound
		}
		return nil, unavailable(err)
	}
	u.Status = account.Status(status)
	u.EmailVerified = verified != 0
	u.CreatedAt = fromMillis(created)
	return &u, nil
}

// GetUserByID returns account.ErrUserNotFound when absent.
func (s *Store) GetUserByID(ctx context.Context, id string) (*account.User, error) {
	return scanUser(s.db.QueryRowContext(ctx, s.rebind(`SELECT `+userColumns+` FROM users WHERE id = ?`), id))
}

// GetUserByEmail normalizes email before the lookup.
func (s *Store) GetUserByEmail(ctx context.Context, email string) (*account.User, error) {
	return scanUser(s.db.QueryRowContext(ctx, s.rebind(`SELECT `+userColumns+` FROM users WHERE email = ?`),
		account.NormalizeEmail(email)))
}

func (s *Store) updateUser(ctx context.Context, query string, args ...any) error {
	res, err := s.exec(ctx, s.db, query, args...)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return unavailable(err)
	}
	if n == 0 {
		return account.ErrUserNotFound
	}
	return nil
}

// SetUserStatus changes the lifecycle state.
func (s *Store) SetUserStatus(ctx context.Context, id string, status account.Status) error {
	return s.updateUser(ctx, `UPDATE users SET status = ? WHERE id = ?`, string(status), id)
}

// MarkEmailVerified sets email_verified.
func (s *Store) MarkEmailVerified(ctx context.Context, id string) error {
	return s.updateUser(ctx, `UPDATE users SET email_verified = 1 WHERE id = ?`, id)
}
