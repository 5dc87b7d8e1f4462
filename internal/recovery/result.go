package recovery

import "time"

// Result is the outcome of one recovery attempt.
type Result struct {
	RequestID int64
	StartTime time.Time
	// InterruptedAt is the first time the system session went silent during the
	// recovery, nil if it never did.
	InterruptedAt *time.Time
	Success       bool
	TimedOut      bool
}

func (r Result) WasInterrupted() bool {
	return r.InterruptedAt != nil
}
