package authguard

import (
	"time"

	"github.com/MrEthical07/authguard/session"
)

// RegisterRequest creates a password account.
type RegisterRequest struct {
	Email       string `validate:"required,email,max=254"`
	Password    string `validate:"required"`
	DisplayName string `validate:"max=100"`
}

// RegisterOutcome identifies the new account. No session is issued; the
// caller logs in separately.
type RegisterOutcome struct {
	UserID string
	// VerificationRequired is true until the emailed token is redeemed.
	VerificationRequired bool
}

// LoginRequest authenticates with email and password.
type LoginRequest struct {
	Email    string `validate:"required,max=254"`
	Password string `validate:"required"`
	// RememberMe selects Session.RememberMeLifetime.
	RememberMe bool
}

// LoginState is where a login attempt ended up.
type LoginState string

const (
	StateAuthenticated    LoginState = "AUTHENTICATED"
	StatePendingTwoFactor LoginState = "PENDING_TWO_FACTOR"
	// StateLinked ends an OAuth flow that attached a provider to an
	// already signed-in account.
	StateLinked LoginState = "LINKED"
)

// LoginOutcome is the successful end of Login, CompleteTwoFactor or
// CompleteOAuth.
type LoginOutcome struct {
	State  LoginState
	UserID string
	// Session is set for StateAuthenticated.
	Session *session.Issued
	// PendingToken and PendingExpiresAt are set for StatePendingTwoFactor.
	PendingToken     string
	PendingExpiresAt time.Time
	// NewUser is set when CompleteOAuth created the account.
	NewUser bool
}

// CompleteTwoFactorRequest finishes a login paused for a second factor.
// Code may be a TOTP code or a backup code.
type CompleteTwoFactorRequest struct {
	PendingToken string `validate:"required"`
	Code         string `validate:"required,max=32"`
	RememberMe   bool
}

// ChangePasswordRequest replaces the password of the session's owner.
// Every other session of the user is revoked.
type ChangePasswordRequest struct {
	SessionToken    string `validate:"required"`
	CurrentPassword string `validate:"required"`
	NewPassword     string `validate:"required"`
}

// ResetPasswordRequest redeems an emailed reset token.
type ResetPasswordRequest struct {
	Token       string `validate:"required"`
	NewPassword string `validate:"required"`
}

// DisableTwoFactorRequest requires both the password and a current code.
type DisableTwoFactorRequest struct {
	SessionToken string `validate:"required"`
	Password     string `validate:"required"`
	Code         string `validate:"max=32"`
}

// TwoFactorSetup is shown to the user exactly once.
type TwoFactorSetup struct {
	Secret          string
	ProvisioningURI string
	BackupCodes     []string
}

// OAuthStart carries the provider redirect.
type OAuthStart struct {
	URL   string
	State string
}

// LinkedProvider is the public view of a linked OAuth identity.
type LinkedProvider struct {
	Provider  string
	Email     string
	CreatedAt time.Time
}
