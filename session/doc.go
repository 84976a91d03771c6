// Package session issues, validates and revokes opaque session tokens backed
// by Redis.
//
// # Token format
//
// A session token is base64url(id ‖ secret): a 16-byte identifier followed by
// a 32-byte secret. Redis stores the identifier in the clear and only the
// SHA-256 of the secret, so a leaked keyspace cannot be replayed as tokens.
//
// # Binary encoding
//
// Records are stored in a compact versioned binary format (see [Encode]).
// New versions append fields and never reinterpret old ones.
//
// # Sliding refresh
//
// [Manager.Validate] extends a session by its original lifetime once at most
// a quarter of that lifetime remains. The extension runs in a WATCH/MULTI
// transaction that re-reads the active flag, so a concurrent revoke always
// wins.
//
// # What this package must NOT do
//
//   - Import authguard or any other feature package.
//   - Distinguish expired, revoked and unknown sessions to callers.
//   - Store plaintext session secrets.
package session
