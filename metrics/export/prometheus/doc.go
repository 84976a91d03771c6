// Package prometheus exposes engine counters and the session validation
// latency histogram in the Prometheus text format. Nothing is registered
// globally; callers mount [Exporter.Handler] themselves.
package prometheus
