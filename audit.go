package authgate

import (
	"io"
	"log/slog"

	"github.com/MrEthical07/authgate/internal/audit"
)

// AuditEvent is one authentication decision as delivered to an AuditSink.
type AuditEvent = audit.Event

// AuditSink receives audit events from the engine's background dispatcher.
// Emit runs on the dispatcher goroutine, never on the request path.
type AuditSink = audit.Sink

// NoOpSink discards events.
type NoOpSink = audit.NoOpSink

// NewChannelSink returns a sink that buffers events on a channel, mostly for tests.
func NewChannelSink(buffer int) *audit.ChannelSink {
	return audit.NewChannelSink(buffer)
}

// NewJSONWriterSink returns a sink writing one JSON object per line to w.
func NewJSONWriterSink(w io.Writer) *audit.JSONWriterSink {
	return audit.NewJSONWriterSink(w)
}

// NewSlogSink returns a sink logging each event through logger.
func NewSlogSink(logger *slog.Logger) *audit.SlogSink {
	return audit.NewSlogSink(logger)
}
