package authguard

import (
	"errors"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/MrEthical07/authguard/account"
	"github.com/MrEthical07/authguard/audit"
	"github.com/MrEthical07/authguard/credential"
	"github.com/MrEthical07/authguard/internal/challenge"
	"github.com/MrEthical07/authguard/oauth"
	"github.com/MrEthical07/authguard/session"
	"github.com/MrEthical07/authguard/twofactor"
)

// Kind classifies an expected operation failure. Kinds are stable strings
// safe to return to clients.
type Kind string

const (
	KindInvalidCredentials    Kind = "INVALID_CREDENTIALS"
	KindAccountInactive       Kind = "ACCOUNT_INACTIVE"
	KindEmailNotVerified      Kind = "EMAIL_NOT_VERIFIED"
	KindTwoFactorRequired     Kind = "TWO_FACTOR_REQUIRED"
	KindInvalidTwoFactorCode  Kind = "INVALID_TWO_FACTOR_CODE"
	KindInvalidOrExpiredToken Kind = "INVALID_OR_EXPIRED_TOKEN"
	KindRateLimited           Kind = "RATE_LIMITED"
	KindWeakCredential        Kind = "WEAK_CREDENTIAL"
	KindSessionInvalid        Kind = "SESSION_INVALID"
	KindIntegrityViolation    Kind = "INTEGRITY_VIOLATION"
	KindStorageUnavailable    Kind = "STORAGE_UNAVAILABLE"
	KindInvalidRequest        Kind = "INVALID_REQUEST"
	KindConflict              Kind = "CONFLICT"
)

var userMessages = map[Kind]string{
	KindInvalidCredentials:    "Invalid email or password.",
	KindAccountInactive:       "This account is disabled.",
	KindEmailNotVerified:      "Please verify your email address first.",
	KindTwoFactorRequired:     "A two-factor code is required.",
	KindInvalidTwoFactorCode:  "Invalid two-factor code.",
	KindInvalidOrExpiredToken: "This link or code is invalid or has expired.",
	KindRateLimited:           "Too many attempts. Please try again later.",
	KindWeakCredential:        "Password must be at least 8 characters.",
	KindSessionInvalid:        "Your session has ended. Please sign in again.",
	KindIntegrityViolation:    "Audit log integrity check failed.",
	KindStorageUnavailable:    "Service temporarily unavailable. Please try again.",
	KindInvalidRequest:        "The request is invalid.",
	KindConflict:              "The request conflicts with the current account state.",
}

// Failure is the caller-visible description of an expected failure. Message
// never carries internal detail.
type Failure struct {
	Kind       Kind          `json:"kind"`
	Message    string        `json:"message"`
	RetryAfter time.Duration `json:"retryAfter,omitempty"`
}

func (f *Failure) Error() string {
	return string(f.Kind) + ": " + f.Message
}

// Is matches another *Failure of the same Kind, so callers can write
// errors.Is(err, &Failure{Kind: KindRateLimited}).
func (f *Failure) Is(target error) bool {
	t, ok := target.(*Failure)
	return ok && t.Kind == f.Kind
}

func newFailure(kind Kind) *Failure {
	return &Failure{Kind: kind, Message: userMessages[kind]}
}

func rateLimited(wait time.Duration) *Failure {
	f := newFailure(KindRateLimited)
	f.RetryAfter = wait
	return f
}

// Result carries either a value or a Failure. Public operations return a
// Result instead of an error for every expected failure mode.
type Result[T any] struct {
	Value   T
	Failure *Failure
}

// OK reports whether the operation succeeded.
func (r Result[T]) OK() bool { return r.Failure == nil }

// Err returns the Failure as an error, or nil.
func (r Result[T]) Err() error {
	if r.Failure == nil {
		return nil
	}
	return r.Failure
}

func ok[T any](v T) Result[T] { return Result[T]{Value: v} }

func fail[T any](f *Failure) Result[T] { return Result[T]{Failure: f} }

// failureFromError maps a domain error to a Failure. Anything unrecognised
// is treated as a backing-store fault.
func failureFromError(err error) *Failure {
	var f *Failure
	var verrs validator.ValidationErrors
	switch {
	case err == nil:
		return nil
	case errors.As(err, &f):
		return f
	case errors.As(err, &verrs):
		return newFailure(KindInvalidRequest)
	case errors.Is(err, credential.ErrWeakCredential):
		return newFailure(KindWeakCredential)
	case errors.Is(err, credential.ErrInvalidOrExpiredToken),
		errors.Is(err, challenge.ErrInvalid),
		errors.Is(err, challenge.ErrExhausted),
		errors.Is(err, oauth.ErrInvalidState),
		errors.Is(err, oauth.ErrExchangeFailed):
		return newFailure(KindInvalidOrExpiredToken)
	case errors.Is(err, session.ErrSessionInvalid):
		return newFailure(KindSessionInvalid)
	case errors.Is(err, session.ErrUserInactive):
		return newFailure(KindAccountInactive)
	case errors.Is(err, twofactor.ErrInvalidCode):
		return newFailure(KindInvalidTwoFactorCode)
	case errors.Is(err, twofactor.ErrAlreadyEnabled),
		errors.Is(err, twofactor.ErrNotEnabled),
		errors.Is(err, twofactor.ErrNotEnrolled),
		errors.Is(err, account.ErrEmailTaken),
		errors.Is(err, oauth.ErrAlreadyLinked),
		errors.Is(err, oauth.ErrNotLinked):
		return newFailure(KindConflict)
	case errors.Is(err, oauth.ErrUnknownProvider),
		errors.Is(err, audit.ErrInvalidFilter):
		return newFailure(KindInvalidRequest)
	case errors.Is(err, audit.ErrIntegrityViolation):
		return newFailure(KindIntegrityViolation)
	default:
		return newFailure(KindStorageUnavailable)
	}
}

// auditErrorCode turns a Failure into the short code stored in audit event
// data.
func auditErrorCode(f *Failure) string {
	if f == nil {
		return ""
	}
	return string(f.Kind)
}
