package recovery

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/dgnsrekt/oddsfeed-client/internal/clock"
	"github.com/dgnsrekt/oddsfeed-client/internal/feed"
	"github.com/dgnsrekt/oddsfeed-client/internal/metrics"
	"github.com/dgnsrekt/oddsfeed-client/internal/producer"
)

// Issuer sends recovery requests to the bookmaker API and returns the request id.
type Issuer interface {
	RequestFullRecovery(ctx context.Context, p *producer.Producer, nodeID int) (int64, error)
	RequestRecoveryAfter(ctx context.Context, p *producer.Producer, after time.Time, nodeID int) (int64, error)
}

// EventIssuer requests a replay of a single event.
type EventIssuer interface {
	RequestEventRecovery(ctx context.Context, p *producer.Producer, eventID string, nodeID int) (int64, error)
}

// afterAgeMargin keeps a clamped cursor safely inside the server's window.
const afterAgeMargin = time.Minute

// Operation tracks the single in-flight recovery of one producer. It is reused
// across attempts and is not safe for concurrent use.
type Operation struct {
	producer       *producer.Producer
	issuer         Issuer
	required       feed.InterestSet
	nodeID         int
	adjustAfterAge bool
	clock          clock.Clock
	logger         *zap.Logger

	running       bool
	requestID     int64
	startTime     time.Time
	interruptedAt *time.Time
	completed     feed.InterestSet
}

// NewOperation builds the operation for p given every interest the client has
// opened. It fails when the interests form an unsupported combination.
func NewOperation(p *producer.Producer, issuer Issuer, interests feed.InterestSet, nodeID int, adjustAfterAge bool, clk clock.Clock, logger *zap.Logger) (*Operation, error) {
	required, err := RequiredInterests(interests, p.Scopes())
	if err != nil {
		return nil, fmt.Errorf("producer %s: %w", p, err)
	}
	return &Operation{
		producer:       p,
		issuer:         issuer,
		required:       required,
		nodeID:         nodeID,
		adjustAfterAge: adjustAfterAge,
		clock:          clk,
		logger:         logger,
		completed:      feed.InterestSet{},
	}, nil
}

// RequiredInterests decides which sessions must report snapshot completion
// before a recovery of a producer with the given scopes is done.
func RequiredInterests(opened feed.InterestSet, scopes feed.ScopeSet) (feed.InterestSet, error) {
	if len(opened) == 1 {
		return feed.NewInterestSet(opened.Sorted()...), nil
	}

	if opened.Equal(feed.NewInterestSet(feed.HighPriority, feed.LowPriority)) {
		return feed.NewInterestSet(feed.HighPriority), nil
	}

	allScopeBound := len(opened) > 0
	for mi := range opened {
		if !mi.IsScopeBound() {
			allScopeBound = false
			break
		}
	}
	if allScopeBound {
		required := feed.InterestSet{}
		for _, mi := range scopes.Interests() {
			// A scope nobody subscribed to can never report.
			if opened.Has(mi) {
				required.Add(mi)
			}
		}
		return required, nil
	}

	return nil, &UnsupportedInterestsError{Interests: opened.Names()}
}

func (o *Operation) IsRunning() bool { return o.running }

// RequestID is the id of the running recovery, zero when idle.
func (o *Operation) RequestID() int64 {
	if !o.running {
		return 0
	}
	return o.requestID
}

// Start requests a recovery. It returns false with a nil error when the request
// failed in a way worth retrying later, and an *InitiationError when the
// recovery cursor is too old to ever succeed.
func (o *Operation) Start(ctx context.Context) (bool, error) {
	if o.running {
		return false, fmt.Errorf("producer %s: %w", o.producer, ErrAlreadyRunning)
	}

	now := o.clock.Now()
	after := o.producer.LastTimestampBeforeDisconnect()

	var (
		requestID int64
		err       error
		kind      string
	)
	if after.IsZero() {
		kind = "full"
		o.logger.Info("requesting full recovery", zap.Int("producer", o.producer.ID()))
		requestID, err = o.issuer.RequestFullRecovery(ctx, o.producer, o.nodeID)
	} else {
		maxAge := o.producer.MaxAfterAge()
		if now.Sub(after) > maxAge {
			if !o.adjustAfterAge {
				return false, &InitiationError{ProducerID: o.producer.ID(), After: after, MaxAfterAge: maxAge}
			}
			adjusted := now.Add(-maxAge).Add(afterAgeMargin)
			o.logger.Warn("recovery cursor too old, adjusting",
				zap.Int("producer", o.producer.ID()),
				zap.Time("after", after),
				zap.Time("adjusted", adjusted),
			)
			after = adjusted
		}
		kind = "after"
		o.logger.Info("requesting recovery",
			zap.Int("producer", o.producer.ID()),
			zap.Time("after", after),
		)
		requestID, err = o.issuer.RequestRecoveryAfter(ctx, o.producer, after, o.nodeID)
	}
	metrics.RecordRecoveryRequest(o.producer.ID(), kind, err)

	if err != nil {
		o.logger.Warn("recovery request failed, will retry",
			zap.Int("producer", o.producer.ID()),
			zap.Error(err),
		)
		return false, nil
	}

	o.requestID = requestID
	o.running = true
	o.startTime = now
	o.interruptedAt = nil
	o.completed = feed.InterestSet{}
	return true, nil
}

// Interrupt records when the producer went silent during the recovery. Only the
// first interruption is kept.
func (o *Operation) Interrupt(at time.Time) error {
	if !o.running {
		return fmt.Errorf("producer %s: interrupt: %w", o.producer, ErrNotRunning)
	}
	if o.interruptedAt == nil {
		t := at
		o.interruptedAt = &t
	}
	return nil
}

// HasTimedOut reports whether the recovery has run longer than the producer allows.
func (o *Operation) HasTimedOut() (bool, error) {
	if !o.running {
		return false, fmt.Errorf("producer %s: timeout check: %w", o.producer, ErrNotRunning)
	}
	return o.clock.Now().Sub(o.startTime) > o.producer.MaxRecoveryDuration(), nil
}

// TryComplete records that interest finished its snapshot. It returns a result
// once enough sessions reported or the recovery timed out, nil otherwise.
func (o *Operation) TryComplete(interest feed.MessageInterest) (*Result, error) {
	if !o.running {
		return nil, fmt.Errorf("producer %s: complete: %w", o.producer, ErrNotRunning)
	}

	o.completed.Add(interest)
	if o.completed.ContainsAll(o.required) {
		return o.finish(false), nil
	}

	timedOut, _ := o.HasTimedOut()
	if timedOut {
		return o.finish(true), nil
	}

	o.logger.Debug("snapshot complete, waiting for other sessions",
		zap.Int("producer", o.producer.ID()),
		zap.String("interest", interest.Name()),
		zap.Strings("reported", o.completed.Names()),
		zap.Strings("required", o.required.Names()),
	)
	return nil, nil
}

// CompleteTimedOut ends a timed-out recovery.
func (o *Operation) CompleteTimedOut() (*Result, error) {
	timedOut, err := o.HasTimedOut()
	if err != nil {
		return nil, err
	}
	if !timedOut {
		return nil, fmt.Errorf("producer %s: %w", o.producer, ErrNotTimedOut)
	}
	return o.finish(true), nil
}

// Reset abandons the current recovery without telling the server.
func (o *Operation) Reset() {
	o.running = false
}

func (o *Operation) finish(timedOut bool) *Result {
	result := &Result{
		RequestID: o.requestID,
		StartTime: o.startTime,
		Success:   !timedOut,
		TimedOut:  timedOut,
	}
	if o.interruptedAt != nil {
		t := *o.interruptedAt
		result.InterruptedAt = &t
	}

	outcome := "success"
	if timedOut {
		outcome = "timeout"
	}
	metrics.ObserveRecovery(o.producer.ID(), outcome, o.clock.Now().Sub(o.startTime))

	o.running = false
	o.completed = feed.InterestSet{}
	return result
}
