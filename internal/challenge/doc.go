// Package challenge issues the short-lived PendingTwoFactor token handed out
// between a correct password and a correct second factor.
//
// The token is an HS256 JWT with purpose "2fa". Its jti names a Redis ledger
// entry that makes the token single use and caps failed code attempts. A
// token whose ledger entry is gone is dead even if its signature and expiry
// are still valid.
//
// # What this package must NOT do
//
//   - Carry session credentials; the token never authenticates a request.
//   - Import authguard or sibling feature packages.
package challenge
