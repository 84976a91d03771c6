// Package audit implements asynchronous fan-out of appended audit entries to
// secondary sinks.
//
// # Components
//
//   - [Sink]: generic consumer interface (channel, JSON lines writer, no-op, multi).
//   - [Dispatcher]: buffered async relay with drop-if-full or block-if-full semantics.
//
// # Architecture boundaries
//
// The durable log is owned by the public audit package; sinks here only
// receive copies after the entry has been persisted.
//
// # What this package must NOT do
//
//   - Filter or suppress events based on business logic.
//   - Import authguard or any sibling package.
//   - Perform network I/O beyond what a caller-supplied Sink does.
package audit
