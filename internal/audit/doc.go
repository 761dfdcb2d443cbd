// Package audit delivers authentication events to a [Sink] off the request
// path.
//
// [Dispatcher] runs a single worker from the dispatch package, so a sink
// sees events in the order they were emitted. Sinks for channels,
// newline-delimited JSON and slog are included.
//
// Which events to emit, and what they carry, is decided by the engine.
// This package never imports authgate.
package audit
