package account

import (
	"context"
	"errors"
	"testing"
)

type stubUsers struct {
	users map[string]*User
	err   error
}

func (s stubUsers) CreateUser(context.Context, *User) error { return nil }

func (s stubUsers) GetUserByID(_ context.Context, id string) (*User, error) {
	if s.err != nil {
		return nil, s.err
	}
	u, ok := s.users[id]
	if !ok {
		return nil, ErrUserNotFound
	}
	return u, nil
}

func (s stubUsers) GetUserByEmail(context.Context, string) (*User, error) {
	return nil, ErrUserNotFound
}

func (s stubUsers) SetUserStatus(context.Context, string, Status) error { return nil }

func (s stubUsers) MarkEmailVerified(context.Context, string) error { return nil }

func TestNormalizeEmail(t *testing.T) {
	cases := map[string]string{
		"Alice@Example.COM":   "alice@example.com",
		"  bob@example.com\t": "bob@example.com",
		"":                    "",
	}
	for in, want := range cases {
		if got := NormalizeEmail(in); got != want {
			t.Errorf("NormalizeEmail(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestUserActive(t *testing.T) {
	var nilUser *User
	if nilUser.Active() {
		t.Fatal("nil user must not be active")
	}
	if (&User{Status: StatusDisabled}).Active() {
		t.Fatal("disabled user must not be active")
	}
	if !(&User{Status: StatusActive}).Active() {
		t.Fatal("active user reported inactive")
	}
}

func TestCheckerIsActive(t *testing.T) {
	repo := stubUsers{users: map[string]*User{
		"u1": {ID: "u1", Status: StatusActive},
		"u2": {ID: "u2", Status: StatusDisabled},
	}}
	c := Checker{Users: repo}
	ctx := context.Background()

	tests := []struct {
		id   string
		want bool
	}{
		{"u1", true},
		{"u2", false},
		{"missing", false},
	}
	for _, tt := range tests {
		got, err := c.IsActive(ctx, tt.id)
		if err != nil {
			t.Fatalf("IsActive(%q): %v", tt.id, err)
		}
		if got != tt.want {
			t.Errorf("IsActive(%q) = %v, want %v", tt.id, got, tt.want)
		}
	}
}

func TestCheckerPropagatesStorageErrors(t *testing.T) {
	boom := errors.New("db down")
	c := Checker{Users: stubUsers{err: boom}}
	if _, err := c.IsActive(context.Background(), "u1"); !errors.Is(err, boom) {
		t.Fatalf("expected storage error, got %v", err)
	}
}
