package recovery

import (
	"sort"
	"time"

	"github.com/dgnsrekt/oddsfeed-client/internal/feed"
)

// HeldMessage is a user-session message held back during an event recovery,
// with the interest of the session it arrived on.
type HeldMessage struct {
	Message  feed.Message
	Interest feed.MessageInterest
}

type hold struct {
	since     time.Time
	requestID int64
	messages  []HeldMessage
}

// stash holds back event messages while that event is being recovered.
type stash struct {
	held map[string]*hold
}

func newStash() *stash {
	return &stash{held: make(map[string]*hold)}
}

// hold starts stashing messages for eventID. It returns false if already held.
func (s *stash) hold(eventID string, at time.Time) bool {
	if _, ok := s.held[eventID]; ok {
		return false
	}
	s.held[eventID] = &hold{since: at, messages: []HeldMessage{}}
	return true
}

// setRequest records the request id recovering a held event.
func (s *stash) setRequest(eventID string, requestID int64) {
	if h, ok := s.held[eventID]; ok {
		h.requestID = requestID
	}
}

// requestOf returns the request id recorded for eventID, zero if none.
func (s *stash) requestOf(eventID string) int64 {
	if h, ok := s.held[eventID]; ok {
		return h.requestID
	}
	return 0
}

// add stashes msg if its event is held.
func (s *stash) add(msg feed.Message, interest feed.MessageInterest) bool {
	em, ok := msg.(feed.EventMessage)
	if !ok {
		return false
	}
	h, ok := s.held[em.EventID()]
	if !ok {
		return false
	}
	h.messages = append(h.messages, HeldMessage{Message: msg, Interest: interest})
	return true
}

// release stops stashing eventID and returns its messages in arrival order.
func (s *stash) release(eventID string) []HeldMessage {
	h, ok := s.held[eventID]
	if !ok {
		return nil
	}
	delete(s.held, eventID)
	return h.messages
}

func (s *stash) isHeld(eventID string) bool {
	_, ok := s.held[eventID]
	return ok
}

// events returns every held event id in order.
func (s *stash) events() []string {
	out := make([]string, 0, len(s.held))
	for id := range s.held {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// expired returns the events held since before now-maxAge.
func (s *stash) expired(now time.Time, maxAge time.Duration) []string {
	var out []string
	for _, id := range s.events() {
		if now.Sub(s.held[id].since) > maxAge {
			out = append(out, id)
		}
	}
	return out
}
