// Package authguard is an authentication and session security engine:
// password and OAuth login, TOTP two-factor with backup codes, password
// reset and email verification, Redis-backed sessions, rate limiting with
// graduated penalties, and a checksum-protected audit log.
//
// Engine methods are safe to call from multiple goroutines after
// initialization through [Builder.Build].
//
// # Results
//
// Public operations return a [Result]. Expected failures (wrong password,
// expired token, rate limit, and so on) arrive as a [Failure] with a
// stable [Kind] and a message safe to show users. Backing-store faults are
// logged and surface as KindStorageUnavailable without detail.
//
// # Request metadata
//
// Attach the client IP, User-Agent and a request id with [WithClientIP],
// [WithUserAgent] and [WithRequestID]. They feed per-IP limits, session
// metadata and audit entries.
//
// # Audit
//
// Every state transition writes exactly one audit entry before the
// operation returns. Notifications are sent afterwards in the background
// and never change an operation's outcome.
//
// # What this package must NOT do
//
//   - Expose Redis clients, SQL handles or key material in its public API.
//   - Tell callers whether an email is registered through Login or
//     RequestPasswordReset.
//   - Store plaintext passwords, session secrets, reset or verification
//     tokens, backup codes or TOTP secrets.
//   - Import any sub-package that re-imports authguard.
package authguard
