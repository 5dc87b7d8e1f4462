package recovery

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/dgnsrekt/oddsfeed-client/internal/clock"
	"github.com/dgnsrekt/oddsfeed-client/internal/feed"
	"github.com/dgnsrekt/oddsfeed-client/internal/metrics"
	"github.com/dgnsrekt/oddsfeed-client/internal/producer"
)

// Options configures recovery for every producer of a feed.
type Options struct {
	NodeID         int
	AdjustAfterAge bool
	// InactivityThreshold is the latency at which a session counts as behind.
	InactivityThreshold time.Duration
}

// Snapshot is a point-in-time view of a producer's recovery state.
type Snapshot struct {
	ProducerID      int
	ProducerName    string
	Status          Status
	ProducerDown    bool
	Disabled        bool
	RequestID       int64
	TimeOfLastAlive time.Time
	RecoverAfter    time.Time
	Diagnostics     producer.Diagnostics
}

// Manager drives the recovery status of one producer. All methods are safe for
// concurrent use; calls for the same producer are serialized.
type Manager struct {
	producer   *producer.Producer
	issuer     Issuer
	nodeID     int
	op         *Operation
	tracker    *TimestampTracker
	machine    *statusMachine
	stash      *stash
	dispatcher *Dispatcher
	clock      clock.Clock
	logger     *zap.Logger

	mu sync.Mutex
}

// NewManager builds the manager for p. interests are the user sessions the
// client has opened.
func NewManager(p *producer.Producer, issuer Issuer, interests feed.InterestSet, opts Options, clk clock.Clock, dispatcher *Dispatcher, logger *zap.Logger) (*Manager, error) {
	logger = logger.With(zap.Int("producer", p.ID()), zap.String("producer_name", p.Name()))

	op, err := NewOperation(p, issuer, interests, opts.NodeID, opts.AdjustAfterAge, clk, logger)
	if err != nil {
		return nil, err
	}

	return &Manager{
		producer:   p,
		issuer:     issuer,
		nodeID:     opts.NodeID,
		op:         op,
		tracker:    NewTimestampTracker(p, interests, opts.InactivityThreshold, clk, logger),
		machine:    newStatusMachine(),
		stash:      newStash(),
		dispatcher: dispatcher,
		clock:      clk,
		logger:     logger,
	}, nil
}

func (m *Manager) Producer() *producer.Producer { return m.producer }

func (m *Manager) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.machine.Current()
}

func (m *Manager) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return Snapshot{
		ProducerID:      m.producer.ID(),
		ProducerName:    m.producer.Name(),
		Status:          m.machine.Current(),
		ProducerDown:    m.producer.IsProducerDown(),
		Disabled:        m.producer.IsDisabled(),
		RequestID:       m.op.RequestID(),
		TimeOfLastAlive: m.producer.TimeOfLastAlive(),
		RecoverAfter:    m.producer.LastTimestampBeforeDisconnect(),
		Diagnostics:     m.producer.Diagnostics(),
	}
}

// ignores reports whether msg must be acknowledged without any effect.
func (m *Manager) ignores(msg feed.Message) bool {
	return msg.ProducerID() != m.producer.ID() ||
		m.producer.IsDisabled() ||
		!m.producer.IsAvailable() ||
		m.producer.IgnoresRecovery()
}

// recoverPanic keeps a failure in one message from escaping to the session.
// Transitions are applied last, so a panic leaves the status untouched.
func (m *Manager) recoverPanic(what string, fields ...zap.Field) {
	if r := recover(); r != nil {
		m.logger.Error("unexpected failure while processing "+what,
			append(fields, zap.Any("panic", r), zap.Stringer("status", m.machine.Current()))...)
	}
}

// ProcessSystemMessage handles a message from the system session.
func (m *Manager) ProcessSystemMessage(ctx context.Context, msg feed.Message) {
	if m.ignores(msg) {
		return
	}
	alive, ok := msg.(*feed.Alive)
	if !ok {
		m.logger.Debug("ignoring non-alive message on system session", zap.Stringer("kind", msg.Kind()))
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	defer m.recoverPanic("system alive", zap.Time("generated_at", alive.Timestamp), zap.Bool("subscribed", alive.Subscribed))

	status := m.machine.Current()
	if status == FatalError {
		return
	}

	m.tracker.ProcessSystemAlive(alive)
	m.producer.SetTimeOfLastAlive(m.clock.Now())

	switch status {
	case NotStarted, Error:
		m.startRecovery(ctx, status)
	case Completed, Delayed:
		if !alive.Subscribed {
			m.logger.Info("producer reports client unsubscribed, recovering")
			m.startRecovery(ctx, status)
			return
		}
		if status == Completed {
			// Everything up to this alive is known good.
			m.producer.SetLastTimestampBeforeDisconnect(alive.Timestamp)
		}
	}
}

// ProcessUserMessage handles a message from a user session. It returns true
// when the message was stashed because its event is being recovered; the caller
// must not deliver a stashed message.
func (m *Manager) ProcessUserMessage(ctx context.Context, msg feed.Message, interest feed.MessageInterest) (stashed bool) {
	if m.ignores(msg) {
		return false
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	defer m.recoverPanic("user message", zap.Stringer("kind", msg.Kind()), zap.String("interest", interest.Name()))

	if m.machine.Current() == FatalError {
		return false
	}

	switch msg.Kind() {
	case feed.KindSnapshotComplete:
		sc, ok := msg.(*feed.SnapshotComplete)
		if !ok {
			panic(fmt.Sprintf("snapshot complete of unexpected type %T", msg))
		}
		m.onSnapshotComplete(ctx, sc, interest)
		return false
	case feed.KindAlive, feed.KindOddsChange, feed.KindBetStop:
		m.tracker.ProcessUserMessage(interest, msg)
	}

	return m.stash.add(msg, interest)
}

func (m *Manager) onSnapshotComplete(ctx context.Context, sc *feed.SnapshotComplete, interest feed.MessageInterest) {
	if eventID, ok := m.producer.TakeEventRecovery(sc.RequestID); ok {
		if id := m.stash.requestOf(eventID); id != 0 && id != sc.RequestID {
			// An earlier request for the same event; the hold waits for the latest.
			m.logger.Debug("superseded event recovery completed",
				zap.Int64("request_id", sc.RequestID),
				zap.String("event_id", eventID),
			)
			return
		}
		released := m.stash.release(eventID)
		m.logger.Info("event recovery completed",
			zap.Int64("request_id", sc.RequestID),
			zap.String("event_id", eventID),
			zap.Int("released", len(released)),
		)
		m.dispatcher.Dispatch(EventRecoveryCompleted{
			ProducerID: m.producer.ID(),
			RequestID:  sc.RequestID,
			EventID:    eventID,
			Released:   released,
		})
		return
	}

	if m.machine.Current() != Started || !m.op.IsRunning() || sc.RequestID != m.op.RequestID() {
		m.logger.Debug("ignoring snapshot complete for unknown request",
			zap.Int64("request_id", sc.RequestID),
			zap.String("interest", interest.Name()),
		)
		return
	}

	result, err := m.op.TryComplete(interest)
	if err != nil {
		m.logger.Error("completing recovery", zap.Error(err))
		return
	}
	if result == nil {
		return
	}
	m.finishRecovery(ctx, result, sc.Timestamp)
}

// CheckStatus re-evaluates the time based transitions. It must be called
// periodically; a silent producer is only noticed here.
func (m *Manager) CheckStatus(ctx context.Context) {
	if m.producer.IsDisabled() || !m.producer.IsAvailable() || m.producer.IgnoresRecovery() {
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	defer m.recoverPanic("status check")

	if expired := m.stash.expired(m.clock.Now(), m.producer.MaxRecoveryDuration()); len(expired) > 0 {
		m.abandonHolds(expired, "event recovery did not complete in time")
	}

	switch m.machine.Current() {
	case Started:
		timedOut, err := m.op.HasTimedOut()
		if err != nil {
			m.logger.Error("status started without a running recovery", zap.Error(err))
			return
		}
		if timedOut {
			result, err := m.op.CompleteTimedOut()
			if err != nil {
				m.logger.Error("completing timed out recovery", zap.Error(err))
				return
			}
			m.finishRecovery(ctx, result, time.Time{})
			return
		}
		if m.tracker.IsAliveViolated() {
			if err := m.op.Interrupt(m.tracker.SystemAliveTimestamp()); err != nil {
				m.logger.Error("interrupting recovery", zap.Error(err))
			}
		}
	case Completed:
		if m.tracker.IsAliveViolated() {
			m.logger.Warn("producer alive violated", zap.Time("last_alive", m.tracker.SystemAliveTimestamp()))
			m.transition(ctx, eventAliveViolated, nil)
			return
		}
		if m.tracker.IsBehind() {
			m.logger.Warn("client is behind producer", zap.Time("oldest_alive", m.tracker.OldestUserAliveTimestamp()))
			m.transition(ctx, eventFallBehind, nil)
		}
	case Delayed:
		if m.tracker.IsAliveViolated() {
			m.logger.Warn("producer alive violated", zap.Time("last_alive", m.tracker.SystemAliveTimestamp()))
			m.transition(ctx, eventAliveViolated, nil)
			return
		}
		if !m.tracker.IsBehind() {
			m.transition(ctx, eventCatchUp, nil)
		}
	}
}

// ConnectionShutdown moves the producer to Error after the feed connection was
// lost. Held events are released; their replay cannot arrive any more.
func (m *Manager) ConnectionShutdown() {
	m.mu.Lock()
	defer m.mu.Unlock()
	defer m.recoverPanic("connection shutdown")

	m.abandonAllHolds("connection lost")

	switch m.machine.Current() {
	case Started:
		m.op.Reset()
		m.transition(context.Background(), eventShutdown, nil)
	case Completed, Delayed:
		m.transition(context.Background(), eventShutdown, nil)
	}
}

// RecoverEvent asks the producer to replay a single event. Messages for the
// event are stashed until its snapshot completes.
func (m *Manager) RecoverEvent(ctx context.Context, eventID string) (int64, error) {
	eventIssuer, ok := m.issuer.(EventIssuer)
	if !ok {
		return 0, ErrEventRecoveryUnsupported
	}
	if m.Status() == FatalError {
		return 0, fmt.Errorf("producer %s is in fatal error", m.producer)
	}

	m.mu.Lock()
	fresh := m.stash.hold(eventID, m.clock.Now())
	m.mu.Unlock()

	// The HTTP call runs without the producer lock.
	requestID, err := eventIssuer.RequestEventRecovery(ctx, m.producer, eventID, m.nodeID)
	metrics.RecordRecoveryRequest(m.producer.ID(), "event", err)
	if err != nil {
		if fresh {
			m.mu.Lock()
			m.stash.release(eventID)
			m.mu.Unlock()
		}
		return 0, fmt.Errorf("requesting event recovery: %w", err)
	}

	m.mu.Lock()
	m.stash.setRequest(eventID, requestID)
	m.mu.Unlock()

	m.logger.Info("event recovery requested", zap.String("event_id", eventID), zap.Int64("request_id", requestID))
	return requestID, nil
}

// IsStashed reports whether messages for eventID are being held back.
func (m *Manager) IsStashed(eventID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stash.isHeld(eventID)
}

func (m *Manager) startRecovery(ctx context.Context, from Status) {
	started, err := m.op.Start(ctx)
	if err != nil {
		var initErr *InitiationError
		if errors.As(err, &initErr) {
			m.logger.Error("recovery cannot be initiated", zap.Error(err))
			m.transition(ctx, eventFatal, nil)
			return
		}
		m.logger.Error("starting recovery", zap.Error(err))
		return
	}

	if !started {
		// NotStarted and Error simply retry on the next alive; a producer that was
		// up is no longer up to date, so it must not keep reporting Completed.
		if from == Completed || from == Delayed {
			m.transition(ctx, eventFail, nil)
		}
		return
	}

	// The producer-wide replay covers every held event.
	m.abandonAllHolds("producer recovery started")

	requestID := m.op.RequestID()
	m.transition(ctx, eventStart, &requestID)
}

func (m *Manager) abandonAllHolds(reason string) {
	m.abandonHolds(m.stash.events(), reason)
	if n := m.producer.ClearEventRecoveries(); n > 0 {
		m.logger.Info("forgot pending event recoveries", zap.Int("count", n), zap.String("reason", reason))
	}
}

// abandonHolds releases the held messages of eventIDs without waiting for
// their snapshot to complete.
func (m *Manager) abandonHolds(eventIDs []string, reason string) {
	for _, eventID := range eventIDs {
		requestID := m.stash.requestOf(eventID)
		released := m.stash.release(eventID)
		if requestID != 0 {
			m.producer.TakeEventRecovery(requestID)
		}
		m.logger.Warn("event recovery abandoned",
			zap.String("event_id", eventID),
			zap.Int64("request_id", requestID),
			zap.Int("released", len(released)),
			zap.String("reason", reason),
		)
		m.dispatcher.Dispatch(EventRecoveryCompleted{
			ProducerID: m.producer.ID(),
			RequestID:  requestID,
			EventID:    eventID,
			Released:   released,
			Abandoned:  true,
		})
	}
}

func (m *Manager) finishRecovery(ctx context.Context, result *Result, completedAt time.Time) {
	requestID := result.RequestID

	if result.TimedOut {
		m.logger.Warn("recovery timed out",
			zap.Int64("request_id", requestID),
			zap.Duration("max_recovery_duration", m.producer.MaxRecoveryDuration()),
		)
		m.transition(ctx, eventFail, &requestID)
		return
	}

	if result.WasInterrupted() {
		// A satisfied but interrupted recovery does not count as Completed or
		// Delayed. Data sent while the producer was silent may be missing, so the
		// cursor moves to the interruption and the next alive recovers from there.
		m.logger.Warn("recovery completed but was interrupted, recovering again",
			zap.Int64("request_id", requestID),
			zap.Time("interrupted_at", *result.InterruptedAt),
		)
		m.producer.SetLastTimestampBeforeDisconnect(*result.InterruptedAt)
		m.transition(ctx, eventFail, &requestID)
		return
	}

	m.producer.SetLastTimestampBeforeDisconnect(completedAt)
	m.logger.Info("recovery completed",
		zap.Int64("request_id", requestID),
		zap.Duration("took", m.clock.Now().Sub(result.StartTime)),
	)

	if m.tracker.IsBehind() {
		m.transition(ctx, eventCompleteBehind, &requestID)
		return
	}
	m.transition(ctx, eventCompleteInSync, &requestID)
}

func (m *Manager) transition(ctx context.Context, event string, requestID *int64) {
	from, to, err := m.machine.fire(ctx, event)
	if err != nil {
		m.logger.Error("invalid status transition", zap.Error(err))
		return
	}

	down := to != Completed
	m.producer.SetProducerDown(down)
	metrics.RecordTransition(m.producer.ID(), from.String(), to.String(), down)

	fields := []zap.Field{zap.Stringer("from", from), zap.Stringer("to", to)}
	if requestID != nil {
		fields = append(fields, zap.Int64("request_id", *requestID))
	}
	m.logger.Info("producer status changed", fields...)

	m.dispatcher.Dispatch(StatusChanged{
		ProducerID:   m.producer.ID(),
		ProducerName: m.producer.Name(),
		RequestID:    requestID,
		Old:          from,
		New:          to,
		At:           m.clock.Now(),
	})
}
