// Package password implements password hashing and verification with Argon2id
// defaults and read-only support for legacy bcrypt hashes.
//
// # Output format
//
// Hashes are encoded in PHC string format:
//
//	$argon2id$v=19$m=<memory>,t=<time>,p=<threads>$<salt>$<hash>
//
// [Hasher.NeedsUpgrade] reports true for bcrypt hashes and for Argon2id hashes
// produced with weaker parameters, so the caller can re-hash on the next
// successful verification.
//
// # Architecture boundaries
//
// This package owns hashing and verification only. Password policy (minimum
// length) is enforced by the credential manager.
//
// # What this package must NOT do
//
//   - Store or retrieve passwords.
//   - Import any other authguard package.
//   - Log plaintext passwords.
package password
