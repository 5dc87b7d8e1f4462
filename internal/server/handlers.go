package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/dgnsrekt/oddsfeed-client/internal/api"
	"github.com/dgnsrekt/oddsfeed-client/internal/producer"
	"github.com/dgnsrekt/oddsfeed-client/internal/recovery"
)

// Recovery is the view of the feed recovery the API serves.
type Recovery interface {
	Snapshots() []recovery.Snapshot
	RecoverEvent(ctx context.Context, producerID int, eventID string) (int64, error)
}

// ProducerSwitch turns producers on and off at runtime.
type ProducerSwitch interface {
	Disable(id int) error
	Enable(id int) error
}

type Server struct {
	recovery  Recovery
	producers ProducerSwitch
	started   time.Time
	logger    *zap.Logger
}

func NewServer(rec Recovery, producers ProducerSwitch, logger *zap.Logger) *Server {
	return &Server{
		recovery:  rec,
		producers: producers,
		started:   time.Now(),
		logger:    logger,
	}
}

// GetHealth reports ok only while every enabled producer is up.
func (s *Server) GetHealth(w http.ResponseWriter, r *http.Request) {
	resp := HealthResponse{
		Status:       "ok",
		UptimeSecond: int64(time.Since(s.started).Seconds()),
	}
	for _, snap := range s.recovery.Snapshots() {
		if snap.Disabled {
			continue
		}
		resp.Producers++
		if !snap.ProducerDown {
			resp.ProducersUp++
		}
		if snap.Status == recovery.FatalError {
			resp.FatalErrors++
		}
	}

	code := http.StatusOK
	switch {
	case resp.FatalErrors > 0:
		resp.Status = "fatal"
		code = http.StatusServiceUnavailable
	case resp.ProducersUp < resp.Producers:
		resp.Status = "degraded"
	}
	writeJSON(w, code, resp)
}

func (s *Server) ListProducers(w http.ResponseWriter, r *http.Request) {
	snaps := s.recovery.Snapshots()
	out := make([]ProducerStatus, 0, len(snaps))
	for _, snap := range snaps {
		out = append(out, toProducerStatus(snap))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) GetProducer(w http.ResponseWriter, r *http.Request) {
	id, ok := producerIDParam(w, r)
	if !ok {
		return
	}
	for _, snap := range s.recovery.Snapshots() {
		if snap.ProducerID == id {
			writeJSON(w, http.StatusOK, toProducerStatus(snap))
			return
		}
	}
	writeError(w, http.StatusNotFound, "producer not found")
}

func (s *Server) DisableProducer(w http.ResponseWriter, r *http.Request) {
	s.switchProducer(w, r, s.producers.Disable, "disabled")
}

func (s *Server) EnableProducer(w http.ResponseWriter, r *http.Request) {
	s.switchProducer(w, r, s.producers.Enable, "enabled")
}

func (s *Server) switchProducer(w http.ResponseWriter, r *http.Request, apply func(int) error, action string) {
	id, ok := producerIDParam(w, r)
	if !ok {
		return
	}
	if err := apply(id); err != nil {
		if errors.Is(err, producer.ErrUnknownProducer) {
			writeError(w, http.StatusNotFound, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.logger.Info("producer "+action, zap.Int("producer", id))
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) RecoverEvent(w http.ResponseWriter, r *http.Request) {
	id, ok := producerIDParam(w, r)
	if !ok {
		return
	}
	eventID := chi.URLParam(r, "eventID")
	if eventID == "" {
		writeError(w, http.StatusBadRequest, "event id is required")
		return
	}

	requestID, err := s.recovery.RecoverEvent(r.Context(), id, eventID)
	if err != nil {
		s.logger.Warn("event recovery failed",
			zap.Int("producer", id),
			zap.String("event_id", eventID),
			zap.Error(err),
		)
		switch {
		case errors.Is(err, producer.ErrUnknownProducer), errors.Is(err, api.ErrNotFound):
			writeError(w, http.StatusNotFound, err.Error())
		case errors.Is(err, api.ErrRateLimited):
			writeError(w, http.StatusTooManyRequests, err.Error())
		case errors.Is(err, recovery.ErrEventRecoveryUnsupported):
			writeError(w, http.StatusNotImplemented, err.Error())
		default:
			writeError(w, http.StatusBadGateway, err.Error())
		}
		return
	}

	writeJSON(w, http.StatusAccepted, EventRecoveryResponse{
		ProducerID: id,
		EventID:    eventID,
		RequestID:  requestID,
	})
}

func producerIDParam(w http.ResponseWriter, r *http.Request) (int, bool) {
	id, err := strconv.Atoi(chi.URLParam(r, "producerID"))
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, "invalid producer id")
		return 0, false
	}
	return id, true
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, ErrorResponse{Error: msg})
}
