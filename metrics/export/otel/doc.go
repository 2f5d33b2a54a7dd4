// Package otel exports goLogin engine metrics through OpenTelemetry.
//
// [NewOTelExporter] registers an Int64ObservableCounter per engine counter
// and an Int64ObservableGauge per histogram bucket. One callback reads
// [goLogin.Engine.MetricsSnapshot] on each collection.
//
// # What this package must NOT do
//
//   - Own the MeterProvider. Callers supply the Meter.
//   - Mutate engine state.
package otel
