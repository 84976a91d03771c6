// Package secure holds the low-level primitives every other authguard package
// builds on: random tokens, token hashing, constant-time comparison,
// exponential backoff, authenticated encryption and per-purpose key
// derivation.
//
// # Determinism
//
// Anything that reads the wall clock or a random source takes it as a
// parameter ([Clock], io.Reader) so callers can substitute deterministic
// implementations in tests.
//
// # What this package must NOT do
//
//   - Persist anything or talk to the network.
//   - Import any other authguard package.
package secure
