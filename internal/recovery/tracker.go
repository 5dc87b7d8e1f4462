package recovery

import (
	"time"

	"go.uber.org/zap"

	"github.com/dgnsrekt/oddsfeed-client/internal/clock"
	"github.com/dgnsrekt/oddsfeed-client/internal/feed"
	"github.com/dgnsrekt/oddsfeed-client/internal/producer"
)

type timing struct {
	generatedAt time.Time
	latency     time.Duration
}

func (t timing) age(now time.Time) time.Duration {
	return now.Sub(t.generatedAt)
}

// TimestampTracker records message timing per session interest for one producer
// and answers whether the client is behind or the producer went silent.
//
// It is not safe for concurrent use; the owning Manager serializes access.
type TimestampTracker struct {
	producer  *producer.Producer
	threshold time.Duration
	clock     clock.Clock
	logger    *zap.Logger

	alive    map[feed.MessageInterest]*timing
	nonAlive map[feed.MessageInterest]*timing
	system   timing
}

// NewTimestampTracker tracks the interests that can carry the producer's
// messages. Every entry starts at now, so nothing begins in violation.
// threshold is the latency above which the client counts as behind.
func NewTimestampTracker(p *producer.Producer, interests feed.InterestSet, threshold time.Duration, clk clock.Clock, logger *zap.Logger) *TimestampTracker {
	now := clk.Now()
	t := &TimestampTracker{
		producer:  p,
		threshold: threshold,
		clock:     clk,
		logger:    logger,
		alive:     make(map[feed.MessageInterest]*timing),
		nonAlive:  make(map[feed.MessageInterest]*timing),
		system:    timing{generatedAt: now},
	}
	for mi := range interests {
		if mi == feed.SystemAlive || !mi.RelevantTo(p.Scopes()) {
			continue
		}
		t.alive[mi] = &timing{generatedAt: now}
		t.nonAlive[mi] = &timing{generatedAt: now}
	}
	return t
}

func (t *TimestampTracker) latencyOf(generatedAt time.Time) time.Duration {
	latency := t.clock.Now().Sub(generatedAt)
	if latency < 0 {
		return 0
	}
	return latency
}

// ProcessUserMessage records a message received on a user session.
func (t *TimestampTracker) ProcessUserMessage(interest feed.MessageInterest, msg feed.Message) {
	generatedAt := msg.GeneratedAt()
	latency := t.latencyOf(generatedAt)

	if msg.Kind() == feed.KindAlive {
		entry, ok := t.alive[interest]
		if !ok {
			return
		}
		entry.generatedAt = generatedAt
		entry.latency = latency

		// A fresh alive vouches for a scope that has been quiet on odds, but it
		// never makes the recorded odds latency look worse.
		if na, ok := t.nonAlive[interest]; ok && latency < na.latency {
			na.generatedAt = generatedAt
			na.latency = latency
		}
		return
	}

	if !feed.AffectsOdds(msg) {
		return
	}

	entry, ok := t.nonAlive[interest]
	if !ok {
		t.logger.Warn("message received on a session not tracked for producer",
			zap.Int("producer", t.producer.ID()),
			zap.String("interest", interest.Name()),
			zap.Stringer("kind", msg.Kind()),
		)
		return
	}
	entry.generatedAt = generatedAt
	entry.latency = latency
}

// ProcessSystemAlive records an alive received on the system session.
func (t *TimestampTracker) ProcessSystemAlive(msg *feed.Alive) {
	t.system = timing{generatedAt: msg.Timestamp, latency: t.latencyOf(msg.Timestamp)}
}

// IsBehind reports whether any tracked session is lagging by at least the threshold.
func (t *TimestampTracker) IsBehind() bool {
	now := t.clock.Now()
	for _, entry := range t.alive {
		if entry.age(now) >= t.threshold {
			return true
		}
	}
	for _, entry := range t.nonAlive {
		if entry.latency >= t.threshold {
			return true
		}
	}
	return false
}

// IsAliveViolated reports whether the system session has been silent for longer
// than the producer's max inactivity.
func (t *TimestampTracker) IsAliveViolated() bool {
	return t.system.age(t.clock.Now()) > t.producer.MaxInactivity()
}

// OldestUserAliveTimestamp returns the oldest alive across tracked sessions, or
// now when no session is tracked.
func (t *TimestampTracker) OldestUserAliveTimestamp() time.Time {
	oldest := t.clock.Now()
	for _, entry := range t.alive {
		if entry.generatedAt.Before(oldest) {
			oldest = entry.generatedAt
		}
	}
	return oldest
}

func (t *TimestampTracker) SystemAliveTimestamp() time.Time {
	return t.system.generatedAt
}

// TrackedInterests returns the interests this tracker accounts for.
func (t *TimestampTracker) TrackedInterests() feed.InterestSet {
	set := make(feed.InterestSet, len(t.alive))
	for mi := range t.alive {
		set.Add(mi)
	}
	return set
}
