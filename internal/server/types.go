package server

import (
	"time"

	"github.com/dgnsrekt/oddsfeed-client/internal/recovery"
)

type HealthResponse struct {
	Status       string `json:"status"`
	Producers    int    `json:"producers"`
	ProducersUp  int    `json:"producers_up"`
	FatalErrors  int    `json:"fatal_errors"`
	UptimeSecond int64  `json:"uptime_seconds"`
}

type ProducerStatus struct {
	ID                       int             `json:"id"`
	Name                     string          `json:"name"`
	Status                   recovery.Status `json:"status"`
	ProducerDown             bool            `json:"producer_down"`
	Disabled                 bool            `json:"disabled"`
	RequestID                int64           `json:"request_id,omitempty"`
	LastAlive                *time.Time      `json:"last_alive,omitempty"`
	RecoverAfter             *time.Time      `json:"recover_after,omitempty"`
	LastRecoveryRequestAt    *time.Time      `json:"last_recovery_request_at,omitempty"`
	LastRecoveryResponseCode int             `json:"last_recovery_response_code,omitempty"`
	LastRequestID            int64           `json:"last_request_id,omitempty"`
}

type EventRecoveryResponse struct {
	ProducerID int    `json:"producer_id"`
	EventID    string `json:"event_id"`
	RequestID  int64  `json:"request_id"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}

// StatusEvent is streamed to SSE subscribers on every status change.
type StatusEvent struct {
	ProducerID   int             `json:"producer_id"`
	ProducerName string          `json:"producer_name"`
	RequestID    *int64          `json:"request_id,omitempty"`
	Old          recovery.Status `json:"old"`
	New          recovery.Status `json:"new"`
	Timestamp    int64           `json:"timestamp"`
}

// EventRecoveryEvent is streamed when a single-event recovery finishes.
type EventRecoveryEvent struct {
	ProducerID int    `json:"producer_id"`
	RequestID  int64  `json:"request_id"`
	EventID    string `json:"event_id"`
	Released   int    `json:"released"`
	Abandoned  bool   `json:"abandoned,omitempty"`
}

// ProducersSnapshot is the first event a new SSE subscriber receives.
type ProducersSnapshot struct {
	Timestamp int64            `json:"timestamp"`
	Sequence  uint64           `json:"sequence"`
	Producers []ProducerStatus `json:"producers"`
}

func toProducerStatus(s recovery.Snapshot) ProducerStatus {
	return ProducerStatus{
		ID:                       s.ProducerID,
		Name:                     s.ProducerName,
		Status:                   s.Status,
		ProducerDown:             s.ProducerDown,
		Disabled:                 s.Disabled,
		RequestID:                s.RequestID,
		LastAlive:                timePtr(s.TimeOfLastAlive),
		RecoverAfter:             timePtr(s.RecoverAfter),
		LastRecoveryRequestAt:    timePtr(s.Diagnostics.LastRecoveryRequestAt),
		LastRecoveryResponseCode: s.Diagnostics.LastRecoveryResponseCode,
		LastRequestID:            s.Diagnostics.LastRequestID,
	}
}

func timePtr(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
