package notify

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

const (
	defaultQueueSize = 64
	defaultTimeout   = 10 * time.Second
)

// Dispatcher delivers events in the background so that callers never block
// on delivery. When the queue is full new events are dropped.
type Dispatcher struct {
	next    Notifier
	queue   chan Event
	timeout time.Duration

	mu      sync.Mutex
	closed  bool
	wg      sync.WaitGroup
	dropped int
}

func NewDispatcher(next Notifier, queueSize int, timeout time.Duration) *Dispatcher {
	if queueSize <= 0 {
		queueSize = defaultQueueSize
	}
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	d := &Dispatcher{
		next:    next,
		queue:   make(chan Event, queueSize),
		timeout: timeout,
	}
	d.wg.Add(1)
	go d.run()
	return d
}

// Notify queues e for delivery and always returns nil.
func (d *Dispatcher) Notify(ctx context.Context, e Event) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil
	}
	select {
	case d.queue <- e:
	default:
		d.dropped++
		slog.WarnContext(ctx, "Notification queue full, dropping event", "kind", e.Kind, "dropped", d.dropped)
	}
	return nil
}

func (d *Dispatcher) run() {
	defer d.wg.Done()
	for e := range d.queue {
		ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
		if err := d.next.Notify(ctx, e); err != nil {
			slog.WarnContext(ctx, "Notification delivery failed", "kind", e.Kind, "error", err)
		}
		cancel()
	}
}

// Close stops accepting events and waits for queued ones to be delivered.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	close(d.queue)
	d.mu.Unlock()
	d.wg.Wait()
}

// Dropped returns how many events were discarded because the queue was full.
func (d *Dispatcher) Dropped() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dropped
}
