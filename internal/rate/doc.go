// Package rate implements the Redis-backed request limiter used in front of
// every credential-checking operation.
//
// # Window semantics
//
// Each key holds a hash {start, count}. The window opens on the first request
// and restarts on its own once now >= start+window, so no explicit reset is
// needed. A Lua script performs the read-modify-write so concurrent callers
// across instances observe one counter. Key prefixes:
//   - rl:   request windows, rl:<policy>:<subject>
//   - rlf:  failure counters driving backoff penalties
//   - rll:  active penalty locks
//
// A local expirable cache remembers denied keys until their reset time. It is
// a fast path only; Redis stays the source of truth.
//
// # What this package must NOT do
//
//   - Decide which policy guards which operation (the Engine does).
//   - Be imported outside the authguard module.
package rate
