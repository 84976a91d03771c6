// Package credential manages password credentials and the single-use email
// verification and password reset tokens attached to them.
//
// Only SHA-256 digests of tokens are persisted. Token consumption is a single
// conditional repository statement, so two racing consumers can never both
// succeed and a timeout can never leave a reset half applied.
//
// # What this package must NOT do
//
//   - Log or persist plaintext passwords or tokens.
//   - Reveal whether a user has a credential through return values or timing.
//   - Import authguard or session.
package credential
