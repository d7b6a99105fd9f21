package observability

import (
	"context"
	"sync"
	"sync/atomic"
)

type AuditDispatcherConfig struct {
	BufferSize int
	DropIfFull bool
}

// AuditDispatcher forwards events to a sink on its own goroutine so producers
// never wait on the sink.
type AuditDispatcher struct {
	cfg       AuditDispatcherConfig
	sink      AuditHook
	ch        chan queuedEvent
	done      chan struct{}
	wg        sync.WaitGroup
	dropped   atomic.Uint64
	closed    atomic.Bool
	closeOnce sync.Once
}

type queuedEvent struct {
	ctx   context.Context
	event AuditEvent
}

func NewAuditDispatcher(cfg AuditDispatcherConfig, sink AuditHook) *AuditDispatcher {
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 1
	}
	if sink == nil {
		sink = NoopAuditSink{}
	}
	d := &AuditDispatcher{
		cfg:  cfg,
		sink: sink,
		ch:   make(chan queuedEvent, cfg.BufferSize),
		done: make(chan struct{}),
	}
	d.wg.Add(1)
	go d.run()
	return d
}

func (d *AuditDispatcher) run() {
	defer d.wg.Done()
	for {
		select {
		case q := <-d.ch:
			d.emit(q)
		case <-d.done:
			for {
				select {
				case q := <-d.ch:
					d.emit(q)
				default:
					return
				}
			}
		}
	}
}

func (d *AuditDispatcher) emit(q queuedEvent) {
	defer func() { _ = recover() }()
	d.sink.Record(q.ctx, q.event)
}

func (d *AuditDispatcher) Record(ctx context.Context, event AuditEvent) {
	if d == nil || d.closed.Load() {
		return
	}
	if ctx == nil {
		ctx = context.Background()
	}
	// Request contexts are usually cancelled before the sink runs.
	q := queuedEvent{ctx: context.WithoutCancel(ctx), event: event}

	if d.cfg.DropIfFull {
		select {
		case d.ch <- q:
		case <-d.done:
		default:
			d.dropped.Add(1)
			RecordAuditDropped(ctx)
		}
		return
	}

	select {
	case d.ch <- q:
	case <-ctx.Done():
	case <-d.done:
	}
}

// Close stops accepting events and drains what is already queued.
func (d *AuditDispatcher) Close() {
	if d == nil {
		return
	}
	d.closeOnce.Do(func() {
		d.closed.Store(true)
		close(d.done)
		d.wg.Wait()
	})
}

func (d *AuditDispatcher) Dropped() uint64 {
	if d == nil {
		return 0
	}
	return d.dropped.Load()
}
