package recovery

import (
	"context"
	"fmt"

	"github.com/looplab/fsm"
)

// Status is the public recovery status of a producer.
type Status int

const (
	NotStarted Status = iota
	Started
	Completed
	Delayed
	Error
	// FatalError is terminal; the owning feed is expected to stop.
	FatalError
)

var statusNames = map[Status]string{
	NotStarted: "not_started",
	Started:    "started",
	Completed:  "completed",
	Delayed:    "delayed",
	Error:      "error",
	FatalError: "fatal_error",
}

func (s Status) String() string {
	if name, ok := statusNames[s]; ok {
		return name
	}
	return fmt.Sprintf("status(%d)", int(s))
}

func (s Status) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// ParseStatus is the inverse of Status.String.
func ParseStatus(name string) (Status, error) {
	for s, n := range statusNames {
		if n == name {
			return s, nil
		}
	}
	return 0, fmt.Errorf("unknown recovery status %q", name)
}

func (s *Status) UnmarshalText(text []byte) error {
	parsed, err := ParseStatus(string(text))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// Status machine events.
const (
	eventStart          = "start"
	eventCompleteInSync = "complete_in_sync"
	eventCompleteBehind = "complete_behind"
	eventFail           = "fail"
	eventFallBehind     = "fall_behind"
	eventCatchUp        = "catch_up"
	eventAliveViolated  = "alive_violated"
	eventShutdown       = "shutdown"
	eventFatal          = "fatal"
)

func states(ss ...Status) []string {
	out := make([]string, len(ss))
	for i, s := range ss {
		out[i] = s.String()
	}
	return out
}

// statusMachine holds a producer's status. Only the transitions listed here are
// legal; anything else is reported as an error and leaves the status unchanged.
type statusMachine struct {
	fsm *fsm.FSM
}

func newStatusMachine() *statusMachine {
	events := fsm.Events{
		{Name: eventStart, Src: states(NotStarted, Error, Completed, Delayed), Dst: Started.String()},
		{Name: eventCompleteInSync, Src: states(Started), Dst: Completed.String()},
		{Name: eventCompleteBehind, Src: states(Started), Dst: Delayed.String()},
		{Name: eventFail, Src: states(Started, Completed, Delayed), Dst: Error.String()},
		{Name: eventFallBehind, Src: states(Completed), Dst: Delayed.String()},
		{Name: eventCatchUp, Src: states(Delayed), Dst: Completed.String()},
		{Name: eventAliveViolated, Src: states(Completed, Delayed), Dst: Error.String()},
		{Name: eventShutdown, Src: states(Started, Completed, Delayed), Dst: Error.String()},
		{Name: eventFatal, Src: states(NotStarted, Started, Completed, Delayed, Error), Dst: FatalError.String()},
	}
	return &statusMachine{fsm: fsm.NewFSM(NotStarted.String(), events, fsm.Callbacks{})}
}

func (m *statusMachine) Current() Status {
	s, err := ParseStatus(m.fsm.Current())
	if err != nil {
		// Only states built from Status values are ever registered.
		panic(err)
	}
	return s
}

// fire applies event and returns the status before and after it.
func (m *statusMachine) fire(ctx context.Context, event string) (Status, Status, error) {
	from := m.Current()
	if err := m.fsm.Event(ctx, event); err != nil {
		return from, from, fmt.Errorf("status %s: event %s: %w", from, event, err)
	}
	return from, m.Current(), nil
}
