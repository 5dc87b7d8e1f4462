package recovery

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/dgnsrekt/oddsfeed-client/internal/clock"
	"github.com/dgnsrekt/oddsfeed-client/internal/producer"
)

var testStart = time.Date(2025, 11, 14, 9, 30, 0, 0, time.UTC)

var errNetwork = errors.New("connection reset by peer")

type fakeIssuer struct {
	mu         sync.Mutex
	nextID     int64
	fullCalls  int
	afterCalls []time.Time
	eventCalls []string
	err        error
}

func (f *fakeIssuer) RequestFullRecovery(ctx context.Context, p *producer.Producer, nodeID int) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fullCalls++
	if f.err != nil {
		return 0, f.err
	}
	f.nextID++
	return f.nextID, nil
}

func (f *fakeIssuer) RequestRecoveryAfter(ctx context.Context, p *producer.Producer, after time.Time, nodeID int) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.afterCalls = append(f.afterCalls, after)
	if f.err != nil {
		return 0, f.err
	}
	f.nextID++
	return f.nextID, nil
}

func (f *fakeIssuer) RequestEventRecovery(ctx context.Context, p *producer.Producer, eventID string, nodeID int) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.eventCalls = append(f.eventCalls, eventID)
	if f.err != nil {
		return 0, f.err
	}
	f.nextID++
	p.AddEventRecovery(f.nextID, eventID)
	return f.nextID, nil
}

func (f *fakeIssuer) setErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.err = err
}

func (f *fakeIssuer) calls() (int, int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.fullCalls, len(f.afterCalls)
}

func newTestProducer(t *testing.T, scope string) *producer.Producer {
	t.Helper()
	p, err := producer.New(producer.Config{
		ID:                     1,
		Name:                   "LO",
		Scope:                  scope,
		Available:              true,
		MaxInactivitySeconds:   20,
		MaxRecoveryTimeMinutes: 60,
	})
	if err != nil {
		t.Fatalf("creating producer: %v", err)
	}
	return p
}

func newTestClock() *clock.Manual {
	return clock.NewManual(testStart)
}

func testLogger() *zap.Logger {
	return zap.NewNop()
}
