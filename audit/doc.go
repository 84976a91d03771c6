// Package audit is the tamper-evident security audit log.
//
// Every entry carries an HMAC-SHA256 checksum computed with a server-held key
// over a canonical, sorted-key JSON serialization of all other fields. An
// attacker with write access to storage but not the key cannot forge or
// silently edit history.
//
// # Event model
//
// Each [EventType] admits a closed set of [Action] values. [Log.Append]
// rejects combinations outside that mapping with [ErrActionNotAllowed].
//
// # Maintenance
//
// [Log.CleanupExpired] applies per-type retention. [IntegrityChecker] walks
// the log and halts on the first checksum mismatch. [Janitor] runs such jobs
// on a ticker.
//
// # What this package must NOT do
//
//   - Update an entry after it has been appended.
//   - Import authguard, session, credential or twofactor.
package audit
