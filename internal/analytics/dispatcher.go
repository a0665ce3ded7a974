package analytics

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// DefaultBufferSize is the queue capacity used when none is given.
const DefaultBufferSize = 256

// deliverTimeout bounds a single sink delivery.
const deliverTimeout = 5 * time.Second

// Dispatcher queues events and hands them to its sinks in order.
type Dispatcher struct {
	sinks   []Sink
	queue   chan Event
	dropped atomic.Int64

	mu     sync.RWMutex
	closed bool
}

var _ Notifier = (*Dispatcher)(nil)

// NewDispatcher creates a dispatcher with a queue of size buffer that fans
// events out to sinks. Call [Dispatcher.Run] to start delivery.
func NewDispatcher(buffer int, sinks ...Sink) *Dispatcher {
	if buffer <= 0 {
		buffer = DefaultBufferSize
	}
	return &Dispatcher{
		sinks: sinks,
		queue: make(chan Event, buffer),
	}
}

// Notify enqueues e. It never blocks; when the queue is full or the
// dispatcher is closed the event is dropped.
func (d *Dispatcher) Notify(e Event) {
	if e.At.IsZero() {
		e.At = time.Now().UTC()
	}
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		d.dropped.Add(1)
		return
	}
	select {
	case d.queue <- e:
	default:
		d.dropped.Add(1)
		slog.Debug("analytics: queue full, event dropped", "type", e.Type, "avatar_id", e.AvatarID)
	}
}

// Dropped returns the number of events dropped so far.
func (d *Dispatcher) Dropped() int64 { return d.dropped.Load() }

// Run delivers queued events until ctx is cancelled or [Dispatcher.Close]
// is called. Events still queued at that point are delivered before Run
// returns.
func (d *Dispatcher) Run(ctx context.Context) error {
	for {
		select {
		case e, ok := <-d.queue:
			if !ok {
				return nil
			}
			d.deliver(e)
		case <-ctx.Done():
			d.Close()
			for e := range d.queue {
				d.deliver(e)
			}
			return nil
		}
	}
}

// Close stops accepting events. Queued events are still delivered by Run.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return
	}
	d.closed = true
	close(d.queue)
}

func (d *Dispatcher) deliver(e Event) {
	for _, s := range d.sinks {
		ctx, cancel := context.WithTimeout(context.Background(), deliverTimeout)
		err := s.Deliver(ctx, e)
		cancel()
		if err != nil && !errors.Is(err, context.Canceled) {
			slog.Warn("analytics: delivery failed", "type", e.Type, "error", err)
		}
	}
}
