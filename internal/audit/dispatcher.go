package audit

import (
	"context"

	"github.com/MrEthical07/authgate/internal/dispatch"
)

// Config controls dispatcher buffering behavior.
type Config struct {
	Enabled    bool
	BufferSize int
	DropIfFull bool
}

// Dispatcher asynchronously forwards audit events to a sink. A single
// worker keeps events in emission order.
type Dispatcher struct {
	sink Sink
	pool *dispatch.Dispatcher
}

// NewDispatcher returns nil when auditing is disabled; a nil Dispatcher
// accepts and ignores every call.
func NewDispatcher(cfg Config, sink Sink) *Dispatcher {
	if !cfg.Enabled {
		return nil
	}
	if sink == nil {
		sink = NoOpSink{}
	}

	return &Dispatcher{
		sink: sink,
		pool: dispatch.New(dispatch.Config{
			Workers:    1,
			QueueSize:  cfg.BufferSize,
			DropIfFull: cfg.DropIfFull,
		}, nil),
	}
}

func (d *Dispatcher) Emit(ctx context.Context, event Event) {
	if d == nil {
		return
	}
	sink := d.sink
	d.pool.Submit(ctx, func(jobCtx context.Context) {
		sink.Emit(jobCtx, event)
	})
}

func (d *Dispatcher) Close() {
	if d == nil {
		return
	}
	d.pool.Close()
}

func (d *Dispatcher) Dropped() uint64 {
	if d == nil {
		return 0
	}
	return d.pool.Dropped()
}
