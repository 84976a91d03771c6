// Package twofactor implements TOTP second factors and single-use backup
// codes.
//
// # States
//
//	Unenrolled -> PendingVerification   BeginEnrollment
//	PendingVerification -> Enabled      ConfirmEnrollment with a valid code
//	Enabled -> Unenrolled               Disable
//
// Secrets are sealed with XChaCha20-Poly1305 bound to the owning user id.
// Backup codes are stored as SHA-256(userID ‖ 0x00 ‖ code) and shown to the
// user exactly once.
//
// # Replay protection
//
// Each accepted TOTP code advances a per-user last_used_step with a
// compare-and-set, so a code can be redeemed at most once even within its
// own 30 second window.
package twofactor
