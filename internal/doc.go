// Package internal holds helpers private to authguard.
//
//   - audit: asynchronous fan-out of appended audit entries to sinks
//   - challenge: pending two-factor tokens and their single-use ledger
//   - rate: Redis sliding-window limiter with graduated lockouts
//   - secure: tokens, hashing, key derivation, sealing, clocks
package internal
