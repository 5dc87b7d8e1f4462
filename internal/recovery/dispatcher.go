package recovery

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/dgnsrekt/oddsfeed-client/internal/metrics"
)

// StatusChanged is emitted whenever a producer's recovery status changes.
type StatusChanged struct {
	ProducerID   int
	ProducerName string
	// RequestID is the recovery request that caused the change, if any.
	RequestID *int64
	Old       Status
	New       Status
	At        time.Time
}

// EventRecoveryCompleted is emitted when an event-level recovery finished or
// its hold was given up.
type EventRecoveryCompleted struct {
	ProducerID int
	RequestID  int64
	EventID    string
	// Released holds the messages stashed for the event while it recovered, in arrival order.
	Released []HeldMessage
	// Abandoned is set when the hold ended without the event's snapshot
	// completing: the connection was lost, a producer-wide recovery started,
	// or the hold outlived the producer's max recovery time.
	Abandoned bool
}

// Listener receives recovery notifications on the dispatcher goroutine.
type Listener interface {
	OnStatusChanged(StatusChanged)
	OnEventRecoveryCompleted(EventRecoveryCompleted)
}

// ListenerFuncs adapts plain functions to Listener. Nil fields are skipped.
type ListenerFuncs struct {
	StatusChanged          func(StatusChanged)
	EventRecoveryCompleted func(EventRecoveryCompleted)
}

func (l ListenerFuncs) OnStatusChanged(e StatusChanged) {
	if l.StatusChanged != nil {
		l.StatusChanged(e)
	}
}

func (l ListenerFuncs) OnEventRecoveryCompleted(e EventRecoveryCompleted) {
	if l.EventRecoveryCompleted != nil {
		l.EventRecoveryCompleted(e)
	}
}

// Dispatcher delivers notifications to listeners from its own goroutine, so a
// slow listener never holds up message processing. The queue is unbounded:
// released event messages and fatal status changes must never be lost.
type Dispatcher struct {
	warnAt int
	logger *zap.Logger

	queueMu sync.Mutex
	queue   []any
	warned  bool
	signal  chan struct{}

	mu        sync.RWMutex
	listeners []Listener
}

// NewDispatcher creates a dispatcher. A warning is logged once the backlog
// reaches warnAt pending notifications.
func NewDispatcher(warnAt int, logger *zap.Logger) *Dispatcher {
	if warnAt < 1 {
		warnAt = 1
	}
	return &Dispatcher{
		warnAt: warnAt,
		logger: logger,
		signal: make(chan struct{}, 1),
	}
}

// Subscribe registers a listener.
func (d *Dispatcher) Subscribe(l Listener) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.listeners = append(d.listeners, l)
}

// Dispatch queues a notification. It never blocks and never drops.
func (d *Dispatcher) Dispatch(notification any) {
	d.queueMu.Lock()
	d.queue = append(d.queue, notification)
	backlog := len(d.queue)
	warn := backlog >= d.warnAt && !d.warned
	if warn {
		d.warned = true
	}
	d.queueMu.Unlock()

	metrics.SetNotificationBacklog(backlog)
	if warn {
		d.logger.Warn("notification backlog growing, a listener is slow", zap.Int("backlog", backlog))
	}

	select {
	case d.signal <- struct{}{}:
	default:
	}
}

// Pending returns the number of queued notifications.
func (d *Dispatcher) Pending() int {
	d.queueMu.Lock()
	defer d.queueMu.Unlock()
	return len(d.queue)
}

// Run delivers queued notifications until ctx is cancelled, then drains what is left.
func (d *Dispatcher) Run(ctx context.Context) {
	for {
		d.drain()
		select {
		case <-ctx.Done():
			d.drain()
			return
		case <-d.signal:
		}
	}
}

func (d *Dispatcher) drain() {
	for {
		d.queueMu.Lock()
		if len(d.queue) == 0 {
			d.warned = false
			d.queueMu.Unlock()
			metrics.SetNotificationBacklog(0)
			return
		}
		batch := d.queue
		d.queue = nil
		d.queueMu.Unlock()

		for _, n := range batch {
			d.deliver(n)
		}
	}
}

func (d *Dispatcher) deliver(notification any) {
	d.mu.RLock()
	listeners := make([]Listener, len(d.listeners))
	copy(listeners, d.listeners)
	d.mu.RUnlock()

	for _, l := range listeners {
		d.safeDeliver(l, notification)
	}
}

func (d *Dispatcher) safeDeliver(l Listener, notification any) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("listener panicked", zap.Any("panic", r))
		}
	}()

	switch n := notification.(type) {
	case StatusChanged:
		l.OnStatusChanged(n)
	case EventRecoveryCompleted:
		l.OnEventRecoveryCompleted(n)
	default:
		d.logger.Warn("unknown notification type", zap.Any("notification", n))
	}
}
