package feed

import "time"

// Kind identifies the type of a feed message.
type Kind int

const (
	KindUnknown Kind = iota
	KindAlive
	KindOddsChange
	KindBetStop
	KindSnapshotComplete
	KindBetSettlement
	KindFixtureChange
)

func (k Kind) String() string {
	switch k {
	case KindAlive:
		return "alive"
	case KindOddsChange:
		return "odds_change"
	case KindBetStop:
		return "bet_stop"
	case KindSnapshotComplete:
		return "snapshot_complete"
	case KindBetSettlement:
		return "bet_settlement"
	case KindFixtureChange:
		return "fixture_change"
	default:
		return "unknown"
	}
}

// Message is a validated feed message. Wire decoding happens before a Message exists.
type Message interface {
	Kind() Kind
	ProducerID() int
	// GeneratedAt is when the producer generated the message.
	GeneratedAt() time.Time
}

// EventMessage is a Message tied to a single sport event.
type EventMessage interface {
	Message
	EventID() string
}

// Alive is the producer heartbeat.
type Alive struct {
	Producer  int
	Timestamp time.Time
	// Subscribed is false when the producer dropped this client's subscription.
	Subscribed bool
}

func (m *Alive) Kind() Kind             { return KindAlive }
func (m *Alive) ProducerID() int        { return m.Producer }
func (m *Alive) GeneratedAt() time.Time { return m.Timestamp }

// OddsChange carries new prices for an event.
type OddsChange struct {
	Producer  int
	Event     string
	Timestamp time.Time
	RequestID int64
}

func (m *OddsChange) Kind() Kind             { return KindOddsChange }
func (m *OddsChange) ProducerID() int        { return m.Producer }
func (m *OddsChange) GeneratedAt() time.Time { return m.Timestamp }
func (m *OddsChange) EventID() string        { return m.Event }

// BetStop suspends markets for an event.
type BetStop struct {
	Producer  int
	Event     string
	Timestamp time.Time
	RequestID int64
}

func (m *BetStop) Kind() Kind             { return KindBetStop }
func (m *BetStop) ProducerID() int        { return m.Producer }
func (m *BetStop) GeneratedAt() time.Time { return m.Timestamp }
func (m *BetStop) EventID() string        { return m.Event }

// SnapshotComplete ends a recovery replay on one session.
type SnapshotComplete struct {
	Producer  int
	RequestID int64
	Timestamp time.Time
}

func (m *SnapshotComplete) Kind() Kind             { return KindSnapshotComplete }
func (m *SnapshotComplete) ProducerID() int        { return m.Producer }
func (m *SnapshotComplete) GeneratedAt() time.Time { return m.Timestamp }

// BetSettlement settles markets for an event. It has no bearing on recovery timing.
type BetSettlement struct {
	Producer  int
	Event     string
	Timestamp time.Time
}

func (m *BetSettlement) Kind() Kind             { return KindBetSettlement }
func (m *BetSettlement) ProducerID() int        { return m.Producer }
func (m *BetSettlement) GeneratedAt() time.Time { return m.Timestamp }
func (m *BetSettlement) EventID() string        { return m.Event }

// FixtureChange announces changed event metadata.
type FixtureChange struct {
	Producer  int
	Event     string
	Timestamp time.Time
}

func (m *FixtureChange) Kind() Kind             { return KindFixtureChange }
func (m *FixtureChange) ProducerID() int        { return m.Producer }
func (m *FixtureChange) GeneratedAt() time.Time { return m.Timestamp }
func (m *FixtureChange) EventID() string        { return m.Event }

// AffectsOdds reports whether the message changes what can be bet on, which is
// what the lag tracker measures.
func AffectsOdds(m Message) bool {
	switch m.Kind() {
	case KindOddsChange, KindBetStop:
		return true
	default:
		return false
	}
}
