package feed

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

var ErrUnknownKind = errors.New("unknown message kind")

// Envelope is the JSON frame the session transport delivers.
// Timestamp is unix milliseconds.
type Envelope struct {
	Kind       string `json:"kind"`
	Producer   int    `json:"producer"`
	Timestamp  int64  `json:"timestamp"`
	EventID    string `json:"event_id,omitempty"`
	RequestID  int64  `json:"request_id,omitempty"`
	Subscribed *int   `json:"subscribed,omitempty"`
}

// DecodeEnvelope parses a raw JSON frame into a Message.
func DecodeEnvelope(raw []byte) (Message, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("decoding envelope: %w", err)
	}
	return env.Message()
}

// Message converts the envelope into its typed Message.
func (e *Envelope) Message() (Message, error) {
	if e.Producer <= 0 {
		return nil, fmt.Errorf("invalid producer id %d", e.Producer)
	}
	ts := time.UnixMilli(e.Timestamp)

	switch e.Kind {
	case KindAlive.String():
		// A missing subscribed flag means subscribed.
		subscribed := e.Subscribed == nil || *e.Subscribed != 0
		return &Alive{Producer: e.Producer, Timestamp: ts, Subscribed: subscribed}, nil
	case KindOddsChange.String():
		return &OddsChange{Producer: e.Producer, Event: e.EventID, Timestamp: ts, RequestID: e.RequestID}, nil
	case KindBetStop.String():
		return &BetStop{Producer: e.Producer, Event: e.EventID, Timestamp: ts, RequestID: e.RequestID}, nil
	case KindSnapshotComplete.String():
		return &SnapshotComplete{Producer: e.Producer, RequestID: e.RequestID, Timestamp: ts}, nil
	case KindBetSettlement.String():
		return &BetSettlement{Producer: e.Producer, Event: e.EventID, Timestamp: ts}, nil
	case KindFixtureChange.String():
		return &FixtureChange{Producer: e.Producer, Event: e.EventID, Timestamp: ts}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, e.Kind)
	}
}
