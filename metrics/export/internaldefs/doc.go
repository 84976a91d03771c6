// Package internaldefs holds the metric names and bucket bounds shared by the
// Prometheus and OpenTelemetry exporters, so both publish the same series.
//
// It must not perform I/O or import an exporter package.
package internaldefs
