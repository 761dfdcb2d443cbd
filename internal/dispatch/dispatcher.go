package dispatch

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// Job is a unit of detached work. It has no result: nothing submitted here
// can flow back into the request that queued it.
type Job func(ctx context.Context)

// Config controls worker count, buffering, and the per-job deadline.
type Config struct {
	Workers    int
	QueueSize  int
	DropIfFull bool
	JobTimeout time.Duration
}

// Dispatcher runs jobs on a fixed set of goroutines. Each job gets a fresh
// context derived from context.Background, never the submitter's.
type Dispatcher struct {
	cfg       Config
	ch        chan Job
	done      chan struct{}
	wg        sync.WaitGroup
	dropped   atomic.Uint64
	panics    atomic.Uint64
	completed atomic.Uint64
	closeOnce sync.Once
	onPanic   func(recovered any)

	// Sends hold mu for reading; Close sets closed under the write lock.
	mu     sync.RWMutex
	closed bool
}

func New(cfg Config, onPanic func(recovered any)) *Dispatcher {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 1
	}
	if onPanic == nil {
		onPanic = func(any) {}
	}

	d := &Dispatcher{
		cfg:     cfg,
		ch:      make(chan Job, cfg.QueueSize),
		done:    make(chan struct{}),
		onPanic: onPanic,
	}

	d.wg.Add(cfg.Workers)
	for i := 0; i < cfg.Workers; i++ {
		go d.worker()
	}
	return d
}

func (d *Dispatcher) worker() {
	defer d.wg.Done()

	for {
		select {
		case job := <-d.ch:
			d.run(job)
		case <-d.done:
			for {
				select {
				case job := <-d.ch:
					d.run(job)
				default:
					return
				}
			}
		}
	}
}

func (d *Dispatcher) run(job Job) {
	ctx := context.Background()
	if d.cfg.JobTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.cfg.JobTimeout)
		defer cancel()
	}

	defer func() {
		if r := recover(); r != nil {
			d.panics.Add(1)
			d.onPanic(r)
			return
		}
		d.completed.Add(1)
	}()

	job(ctx)
}

// Submit queues job and reports whether it was accepted. With DropIfFull a
// full queue drops the job immediately; otherwise Submit waits until there
// is room or ctx is done. An accepted job always runs, even if Close starts
// right after.
func (d *Dispatcher) Submit(ctx context.Context, job Job) bool {
	if d == nil || job == nil {
		return false
	}
	if ctx == nil {
		ctx = context.Background()
	}

	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return false
	}

	if d.cfg.DropIfFull {
		select {
		case d.ch <- job:
			return true
		default:
			d.dropped.Add(1)
			return false
		}
	}

	select {
	case d.ch <- job:
		return true
	case <-ctx.Done():
		d.dropped.Add(1)
		return false
	}
}

// RunNow executes job on the calling goroutine under the same deadline and
// panic isolation as queued jobs.
func (d *Dispatcher) RunNow(job Job) {
	if d == nil || job == nil {
		return
	}
	d.run(job)
}

// Close stops accepting jobs and waits for queued ones to finish. A Submit
// blocked on a full queue holds Close off until it is accepted or its ctx ends.
func (d *Dispatcher) Close() {
	if d == nil {
		return
	}
	d.closeOnce.Do(func() {
		d.mu.Lock()
		d.closed = true
		d.mu.Unlock()
		close(d.done)
		d.wg.Wait()
	})
}

func (d *Dispatcher) Dropped() uint64 {
	if d == nil {
		return 0
	}
	return d.dropped.Load()
}

func (d *Dispatcher) Panics() uint64 {
	if d == nil {
		return 0
	}
	return d.panics.Load()
}

func (d *Dispatcher) Completed() uint64 {
	if d == nil {
		return 0
	}
	return d.completed.Load()
}
