package audit

import (
	"context"
	"sync"
	"sync/atomic"
)

// criticalBuffer sizes the lane reserved for theft verdicts.
const criticalBuffer = 64

// Config controls dispatcher buffering behavior.
type Config struct {
	Enabled    bool
	BufferSize int
	// DropIfFull drops routine events when the buffer is full instead of
	// blocking the caller. Theft verdicts are never dropped.
	DropIfFull bool
}

// Dispatcher forwards events to a sink from a single goroutine. Theft verdicts
// travel in their own lane, are delivered ahead of routine events and survive
// backpressure.
type Dispatcher struct {
	cfg      Config
	sink     Sink
	routine  chan Event
	critical chan Event
	done     chan struct{}
	wg       sync.WaitGroup

	dropped   atomic.Uint64
	droppedMu sync.Mutex
	byType    map[string]uint64

	closed    atomic.Bool
	closeOnce sync.Once
}

// NewDispatcher starts a dispatcher, or returns nil when cfg disables audit. A
// nil Dispatcher accepts and ignores every call.
func NewDispatcher(cfg Config, sink Sink) *Dispatcher {
	if !cfg.Enabled {
		return nil
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 1
	}
	if sink == nil {
		sink = NoOpSink{}
	}

	d := &Dispatcher{
		cfg:      cfg,
		sink:     sink,
		routine:  make(chan Event, cfg.BufferSize),
		critical: make(chan Event, criticalBuffer),
		done:     make(chan struct{}),
		byType:   make(map[string]uint64),
	}

	d.wg.Add(1)
	go d.run()

	return d
}

// IsCritical reports whether event records a theft verdict.
func IsCritical(event Event) bool {
	return event.Error == TheftErrorCode
}

func (d *Dispatcher) run() {
	defer d.wg.Done()
	ctx := context.Background()

	for {
		// Pending verdicts go out before any routine event.
		select {
		case event := <-d.critical:
			d.sink.Emit(ctx, event)
			continue
		default:
		}

		select {
		case event := <-d.critical:
			d.sink.Emit(ctx, event)
		case event := <-d.routine:
			d.sink.Emit(ctx, event)
		case <-d.done:
			d.drain(ctx, d.critical)
			d.drain(ctx, d.routine)
			return
		}
	}
}

func (d *Dispatcher) drain(ctx context.Context, ch <-chan Event) {
	for {
		select {
		case event := <-ch:
			d.sink.Emit(ctx, event)
		default:
			return
		}
	}
}

// Emit queues event. Theft verdicts wait for space until ctx ends. Routine
// events are dropped when the buffer is full and DropIfFull is set, otherwise
// they wait the same way.
func (d *Dispatcher) Emit(ctx context.Context, event Event) {
	if d == nil || d.closed.Load() {
		return
	}
	if ctx == nil {
		ctx = context.Background()
	}

	if IsCritical(event) {
		select {
		case d.critical <- event:
		case <-ctx.Done():
			d.recordDrop(event.EventType)
		case <-d.done:
		}
		return
	}

	if d.cfg.DropIfFull {
		select {
		case d.routine <- event:
		case <-d.done:
		default:
			d.recordDrop(event.EventType)
		}
		return
	}

	select {
	case d.routine <- event:
	case <-ctx.Done():
	case <-d.done:
	}
}

func (d *Dispatcher) recordDrop(eventType string) {
	d.dropped.Add(1)
	d.droppedMu.Lock()
	d.byType[eventType]++
	d.droppedMu.Unlock()
}

// Close stops accepting events and blocks until every queued event, verdicts
// first, reached the sink. Calling Close again is a no-op.
func (d *Dispatcher) Close() {
	if d == nil {
		return
	}
	d.closeOnce.Do(func() {
		d.closed.Store(true)
		close(d.done)
		d.wg.Wait()
	})
}

// Dropped returns the total number of events that never reached the sink.
func (d *Dispatcher) Dropped() uint64 {
	if d == nil {
		return 0
	}
	return d.dropped.Load()
}

// DroppedByType returns a copy of the drop counts keyed by event type.
func (d *Dispatcher) DroppedByType() map[string]uint64 {
	out := make(map[string]uint64)
	if d == nil {
		return out
	}
	d.droppedMu.Lock()
	defer d.droppedMu.Unlock()
	for k, v := range d.byType {
		out[k] = v
	}
	return out
}

