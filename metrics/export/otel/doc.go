// Package otel bridges engine counters to an OpenTelemetry meter.
//
// The caller owns the MeterProvider. [New] registers observable instruments
// and one callback that reads [authguard.Engine.MetricsSnapshot] per
// collection; the engine is never written to.
package otel
