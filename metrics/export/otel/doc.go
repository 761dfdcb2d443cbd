// Package otel binds engine counters to OpenTelemetry observable
// instruments. Callers supply the Meter and own its provider.
//
// Each counter becomes an Int64ObservableCounter. The latency histogram is
// published as one cumulative Int64ObservableGauge per bucket plus a count.
package otel
