// Package sqlstore implements the account, credential, two-factor, audit and
// linked-account repositories on database/sql.
//
// Two dialects are supported: PostgreSQL through pgx's stdlib adapter and
// SQLite through the ncruces WebAssembly driver. Queries are written once
// with ? placeholders and rebound for PostgreSQL.
//
// # Storage conventions
//
//   - Timestamps are BIGINT unix milliseconds.
//   - Booleans are INTEGER 0/1.
//   - Single-use tokens are consumed by one conditional UPDATE ... RETURNING,
//     so two concurrent consumers cannot both succeed.
//
// Transport and driver failures wrap ErrUnavailable; domain outcomes use the
// sentinel errors of the owning package (account.ErrUserNotFound,
// credential.ErrTokenNotFound, ...).
package sqlstore
