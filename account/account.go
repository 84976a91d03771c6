// Package account holds the core user identity record. Credentials, 2FA
// enrollments and linked OAuth accounts are separate records joined by user
// id.
package account

import (
	"context"
	"errors"
	"strings"
	"time"
)

var (
	ErrUserNotFound = errors.New("user not found")
	ErrEmailTaken   = errors.New("email already registered")
)

// Status is the account lifecycle state.
type Status string

const (
	StatusActive   Status = "active"
	StatusDisabled Status = "disabled"
)

// User is the identity record.
type User struct {
	ID            string
	Email         string
	DisplayName   string
	Status        Status
	EmailVerified bool
	CreatedAt     time.Time
}

// Active reports whether the user may authenticate.
func (u *User) Active() bool {
	return u != nil && u.Status == StatusActive
}

// Repository persists users. Emails are stored normalized.
type Repository interface {
	CreateUser(ctx context.Context, u *User) error
	GetUserByID(ctx context.Context, id string) (*User, error)
	GetUserByEmail(ctx context.Context, email string) (*User, error)
	SetUserStatus(ctx context.Context, id string, status Status) error
	MarkEmailVerified(ctx context.Context, id string) error
}

// NormalizeEmail lower-cases and trims an address for lookups.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// Checker adapts a Repository to the session package's account check.
type Checker struct {
	Users Repository
}

// IsActive reports false for unknown users.
func (c Checker) IsActive(ctx context.Context, userID string) (bool, error) {
	u, err := c.Users.GetUserByID(ctx, userID)
	if errors.Is(err, ErrUserNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return u.Active(), nil
}
