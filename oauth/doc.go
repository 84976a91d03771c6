// Package oauth links third-party identities to local accounts.
//
// # Flow
//
// Begin stores a single-use state entry in Redis holding the PKCE verifier
// and returns the provider's consent URL. Complete consumes that entry
// (GETDEL), exchanges the code with the verifier and fetches the provider's
// user info. The caller then decides whether to sign the identity in or to
// Link it to a user.
//
// # Token vault
//
// Provider access and refresh tokens are sealed with a SecretBox whose
// associated data binds them to (user id, provider). A row copied to another
// user or provider does not open.
//
// # What this package must NOT do
//
//   - Create users or sessions. That is the caller's policy.
//   - Accept a state value twice.
//   - Store provider tokens in plaintext.
package oauth
