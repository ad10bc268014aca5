// internal/app/system/broadcast/dispatcher.go
package broadcast

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// DefaultQueueSize is used when NewDispatcher is given a non-positive size.
const DefaultQueueSize = 1024

// publishTimeout bounds one backend publish.
const publishTimeout = 10 * time.Second

type message struct {
	channel string
	event   string
	data    any
}

// DispatchStats are cumulative counters since the dispatcher started.
type DispatchStats struct {
	Published int64 `json:"published"`
	Failed    int64 `json:"failed"`
	Dropped   int64 `json:"dropped"`
	Pending   int   `json:"pending"`
}

// Dispatcher decouples publishing from the caller. Events go into a bounded
// FIFO drained by a single worker, so the backend sees them in the order
// they were enqueued. A full queue drops the event.
type Dispatcher struct {
	b      Broadcaster
	logger *zap.Logger
	queue  chan message
	done   chan struct{}

	mu     sync.RWMutex
	closed bool

	published atomic.Int64
	failed    atomic.Int64
	dropped   atomic.Int64
}

// NewDispatcher starts a dispatcher in front of b.
func NewDispatcher(b Broadcaster, size int, logger *zap.Logger) *Dispatcher {
	if size <= 0 {
		size = DefaultQueueSize
	}
	d := &Dispatcher{
		b:      b,
		logger: logger,
		queue:  make(chan message, size),
		done:   make(chan struct{}),
	}
	go d.run()
	return d
}

// Backend returns the broadcaster events are delivered to.
func (d *Dispatcher) Backend() Broadcaster {
	return d.b
}

// Enqueue schedules an event and reports whether it was accepted. It never
// blocks.
func (d *Dispatcher) Enqueue(channel, event string, data any) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if d.closed {
		d.dropped.Add(1)
		d.logger.Warn("broadcast dropped after shutdown",
			zap.String("channel", channel),
			zap.String("event", event))
		return false
	}

	select {
	case d.queue <- message{channel: channel, event: event, data: data}:
		return true
	default:
		d.dropped.Add(1)
		d.logger.Warn("broadcast queue full, event dropped",
			zap.String("channel", channel),
			zap.String("event", event),
			zap.Int("queue_size", cap(d.queue)))
		return false
	}
}

func (d *Dispatcher) run() {
	defer close(d.done)
	for m := range d.queue {
		ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
		err := d.b.Publish(ctx, m.channel, m.event, m.data)
		cancel()
		if err != nil {
			d.failed.Add(1)
			d.logger.Error("broadcast publish failed",
				zap.String("backend", d.b.Name()),
				zap.String("channel", m.channel),
				zap.String("event", m.event),
				zap.Error(err))
			continue
		}
		d.published.Add(1)
		d.logger.Debug("broadcast published",
			zap.String("channel", m.channel),
			zap.String("event", m.event))
	}
}

// Stats returns the current counters.
func (d *Dispatcher) Stats() DispatchStats {
	return DispatchStats{
		Published: d.published.Load(),
		Failed:    d.failed.Load(),
		Dropped:   d.dropped.Load(),
		Pending:   len(d.queue),
	}
}

// Close stops accepting events and waits for the queue to drain, or for ctx
// to end. It does not close the backend.
func (d *Dispatcher) Close(ctx context.Context) error {
	d.mu.Lock()
	if !d.closed {
		d.closed = true
		close(d.queue)
	}
	d.mu.Unlock()

	select {
	case <-d.done:
		return nil
	case <-ctx.Done():
		d.logger.Warn("broadcast queue not drained before shutdown",
			zap.Int("pending", len(d.queue)))
		return ctx.Err()
	}
}
