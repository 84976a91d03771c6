package audit

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// Config controls how a Dispatcher buffers entries on their way to the
// stream sink. The durable audit table is written before Emit is called, so
// anything lost here is only missing from the live stream.
type Config[E any] struct {
	Enabled    bool
	BufferSize int
	// DropIfFull discards an entry instead of waiting when the buffer is
	// full.
	DropIfFull bool
	// BlockTimeout bounds the wait when DropIfFull is false. Zero waits
	// until the caller's context ends.
	BlockTimeout time.Duration
	// OnDrop, if set, sees every discarded entry. It runs on the emitting
	// goroutine and must not block.
	OnDrop func(E)
}

type delivery[E any] struct {
	ctx   context.Context
	event E
}

// Dispatcher forwards entries to a sink on one worker goroutine, in emit
// order. Sinks receive the emitter's context values (request id, client IP)
// but not its cancellation, so a finished request does not cut delivery
// short.
type Dispatcher[E any] struct {
	cfg  Config[E]
	sink Sink[E]

	// mu guards closed; Emit holds it shared so Close never closes queue
	// under a pending send.
	mu      sync.RWMutex
	closed  bool
	queue   chan delivery[E]
	stopped chan struct{}

	delivered atomic.Uint64
	dropped   atomic.Uint64
}

// NewDispatcher returns nil when cfg.Enabled is false; a nil Dispatcher is a
// valid no-op.
func NewDispatcher[E any](cfg Config[E], sink Sink[E]) *Dispatcher[E] {
	if !cfg.Enabled {
		return nil
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 1
	}
	if sink == nil {
		sink = NoOpSink[E]{}
	}
	d := &Dispatcher[E]{
		cfg:     cfg,
		sink:    sink,
		queue:   make(chan delivery[E], cfg.BufferSize),
		stopped: make(chan struct{}),
	}
	go d.run()
	return d
}

// run exits once Close has closed the queue and every buffered entry has
// reached the sink.
func (d *Dispatcher[E]) run() {
	defer close(d.stopped)
	for dl := range d.queue {
		d.sink.Emit(dl.ctx, dl.event)
		d.delivered.Add(1)
	}
}

// Emit queues event for the sink. After Close it does nothing.
func (d *Dispatcher[E]) Emit(ctx context.Context, event E) {
	if d == nil {
		return
	}
	if ctx == nil {
		ctx = context.Background()
	}

	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return
	}

	dl := delivery[E]{ctx: context.WithoutCancel(ctx), event: event}
	if d.cfg.DropIfFull {
		select {
		case d.queue <- dl:
		default:
			d.drop(event)
		}
		return
	}

	var timeout <-chan time.Time
	if d.cfg.BlockTimeout > 0 {
		t := time.NewTimer(d.cfg.BlockTimeout)
		defer t.Stop()
		timeout = t.C
	}
	select {
	case d.queue <- dl:
	case <-ctx.Done():
		d.drop(event)
	case <-timeout:
		d.drop(event)
	}
}

func (d *Dispatcher[E]) drop(event E) {
	d.dropped.Add(1)
	if d.cfg.OnDrop != nil {
		d.cfg.OnDrop(event)
	}
}

// Close stops accepting entries and waits until the buffer has drained.
// It is safe to call more than once.
func (d *Dispatcher[E]) Close() {
	if d == nil {
		return
	}
	d.mu.Lock()
	if !d.closed {
		d.closed = true
		close(d.queue)
	}
	d.mu.Unlock()
	<-d.stopped
}

// Dropped counts entries discarded before reaching the sink.
func (d *Dispatcher[E]) Dropped() uint64 {
	if d == nil {
		return 0
	}
	return d.dropped.Load()
}

// Delivered counts entries handed to the sink.
func (d *Dispatcher[E]) Delivered() uint64 {
	if d == nil {
		return 0
	}
	return d.delivered.Load()
}
