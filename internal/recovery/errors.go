package recovery

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	ErrNotRunning               = errors.New("recovery operation is not running")
	ErrAlreadyRunning           = errors.New("recovery operation is already running")
	ErrNotTimedOut              = errors.New("recovery operation has not timed out")
	ErrEventRecoveryUnsupported = errors.New("issuer does not support event recovery")
)

// InitiationError means a recovery cannot be requested because the "after"
// cursor is older than the server's recovery window. Retrying cannot help.
type InitiationError struct {
	ProducerID  int
	After       time.Time
	MaxAfterAge time.Duration
}

func (e *InitiationError) Error() string {
	return fmt.Sprintf("producer %d: recovery after %s is older than the allowed %s",
		e.ProducerID, e.After.UTC().Format(time.RFC3339), e.MaxAfterAge)
}

// UnsupportedInterestsError is returned when the opened sessions form a
// combination for which snapshot completion cannot be decided.
type UnsupportedInterestsError struct {
	Interests []string
}

func (e *UnsupportedInterestsError) Error() string {
	return fmt.Sprintf("unsupported combination of session interests: %s", strings.Join(e.Interests, ", "))
}
