package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/dgnsrekt/oddsfeed-client/internal/recovery"
)

// Broadcaster streams recovery notifications to connected SSE clients. It is
// registered as a recovery listener.
type Broadcaster struct {
	recovery Recovery
	interval time.Duration
	logger   *zap.Logger

	mu       sync.RWMutex
	sequence uint64
	clients  map[*sseClient]bool
}

// sseClient represents a connected SSE subscriber.
type sseClient struct {
	dataCh  chan []byte
	flusher http.Flusher
	writer  http.ResponseWriter
}

// NewBroadcaster creates a broadcaster that sends a keepalive comment every interval.
func NewBroadcaster(rec Recovery, interval time.Duration, logger *zap.Logger) *Broadcaster {
	return &Broadcaster{
		recovery: rec,
		interval: interval,
		logger:   logger,
		clients:  make(map[*sseClient]bool),
	}
}

// Run sends keepalives so idle proxies do not drop subscribers.
func (b *Broadcaster) Run(ctx context.Context) {
	b.logger.Info("event broadcaster starting", zap.Duration("interval", b.interval))

	ticker := time.NewTicker(b.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			b.logger.Info("event broadcaster stopping")
			return
		case <-ticker.C:
			b.broadcast([]byte(": keepalive\n\n"))
		}
	}
}

func (b *Broadcaster) OnStatusChanged(e recovery.StatusChanged) {
	b.publish("status", StatusEvent{
		ProducerID:   e.ProducerID,
		ProducerName: e.ProducerName,
		RequestID:    e.RequestID,
		Old:          e.Old,
		New:          e.New,
		Timestamp:    e.At.UnixMilli(),
	})
}

func (b *Broadcaster) OnEventRecoveryCompleted(e recovery.EventRecoveryCompleted) {
	b.publish("event_recovery", EventRecoveryEvent{
		ProducerID: e.ProducerID,
		RequestID:  e.RequestID,
		EventID:    e.EventID,
		Released:   len(e.Released),
		Abandoned:  e.Abandoned,
	})
}

// HandleSSE handles the SSE endpoint for subscribers.
func (b *Broadcaster) HandleSSE(w http.ResponseWriter, r *http.Request) {
	// Check if SSE is supported
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "SSE not supported", http.StatusInternalServerError)
		return
	}

	// Set SSE headers
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	client := &sseClient{
		dataCh:  make(chan []byte, 32),
		flusher: flusher,
		writer:  w,
	}

	b.addClient(client)
	defer b.removeClient(client)

	b.logger.Info("event client connected", zap.String("remote_addr", r.RemoteAddr))

	// Send initial snapshot
	if err := b.sendEvent(client, "snapshot", b.buildSnapshot()); err != nil {
		b.logger.Error("failed to send snapshot", zap.Error(err))
		return
	}

	// Stream events
	for {
		select {
		case <-r.Context().Done():
			b.logger.Info("event client disconnected", zap.String("remote_addr", r.RemoteAddr))
			return
		case eventData := <-client.dataCh:
			if _, err := client.writer.Write(eventData); err != nil {
				b.logger.Debug("failed to write to client", zap.Error(err))
				return
			}
			client.flusher.Flush()
		}
	}
}

// ClientCount returns the number of connected subscribers.
func (b *Broadcaster) ClientCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.clients)
}

func (b *Broadcaster) addClient(client *sseClient) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.clients[client] = true
}

func (b *Broadcaster) removeClient(client *sseClient) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.clients, client)
}

func (b *Broadcaster) nextSequence() uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.sequence++
	return b.sequence
}

func (b *Broadcaster) buildSnapshot() *ProducersSnapshot {
	snaps := b.recovery.Snapshots()
	producers := make([]ProducerStatus, 0, len(snaps))
	for _, s := range snaps {
		producers = append(producers, toProducerStatus(s))
	}
	return &ProducersSnapshot{
		Timestamp: time.Now().UnixMilli(),
		Sequence:  b.nextSequence(),
		Producers: producers,
	}
}

func (b *Broadcaster) publish(eventType string, data any) {
	eventData, err := b.formatEvent(eventType, b.nextSequence(), data)
	if err != nil {
		b.logger.Error("failed to encode event", zap.String("event", eventType), zap.Error(err))
		return
	}
	b.broadcast(eventData)
}

func (b *Broadcaster) broadcast(eventData []byte) {
	b.mu.RLock()
	clients := make([]*sseClient, 0, len(b.clients))
	for client := range b.clients {
		clients = append(clients, client)
	}
	b.mu.RUnlock()

	for _, client := range clients {
		select {
		case client.dataCh <- eventData:
		default:
			// Channel full, client is slow
			b.logger.Debug("client channel full, dropping event")
		}
	}
}

func (b *Broadcaster) sendEvent(client *sseClient, eventType string, data *ProducersSnapshot) error {
	eventData, err := b.formatEvent(eventType, data.Sequence, data)
	if err != nil {
		return err
	}

	if _, err := client.writer.Write(eventData); err != nil {
		return err
	}
	client.flusher.Flush()
	return nil
}

func (b *Broadcaster) formatEvent(eventType string, seq uint64, data any) ([]byte, error) {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	return []byte(fmt.Sprintf("event: %s\nid: %d\ndata: %s\n\n", eventType, seq, jsonData)), nil
}
