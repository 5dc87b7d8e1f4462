package recovery

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/dgnsrekt/oddsfeed-client/internal/feed"
	"github.com/dgnsrekt/oddsfeed-client/internal/producer"
)

func newTestFeedRecovery(t *testing.T) (*FeedRecovery, *fakeIssuer, *producer.Registry) {
	t.Helper()

	reg, err := producer.NewRegistry([]producer.Config{
		{ID: 3, Name: "Ctrl", Scope: "prematch", Available: true, MaxInactivitySeconds: 20, MaxRecoveryTimeMinutes: 60},
		{ID: 1, Name: "LO", Scope: "live", Available: true, MaxInactivitySeconds: 20, MaxRecoveryTimeMinutes: 60},
		{ID: 5, Name: "PremiumCricket", Scope: "live|prematch", Available: false, MaxInactivitySeconds: 20, MaxRecoveryTimeMinutes: 60},
	})
	if err != nil {
		t.Fatalf("creating registry: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	dispatcher := NewDispatcher(32, testLogger())
	go dispatcher.Run(ctx)

	issuer := &fakeIssuer{}
	opts := Options{NodeID: 1, InactivityThreshold: 20 * time.Second}
	fr, err := NewFeedRecovery(reg, issuer, feed.NewInterestSet(feed.All), opts, time.Second, newTestClock(), dispatcher, testLogger())
	if err != nil {
		t.Fatalf("creating feed recovery: %v", err)
	}
	return fr, issuer, reg
}

func TestFeedRecovery_SkipsUnavailableProducers(t *testing.T) {
	fr, _, _ := newTestFeedRecovery(t)

	if _, err := fr.Manager(5); !errors.Is(err, producer.ErrUnknownProducer) {
		t.Errorf("expected ErrUnknownProducer for unavailable producer, got %v", err)
	}

	snapshots := fr.Snapshots()
	if len(snapshots) != 2 || snapshots[0].ProducerID != 1 || snapshots[1].ProducerID != 3 {
		t.Errorf("expected snapshots for producers 1 and 3 in order, got %+v", snapshots)
	}
	for _, s := range snapshots {
		if s.Status != NotStarted || !s.ProducerDown {
			t.Errorf("producer %d should start down and not started, got %+v", s.ProducerID, s)
		}
	}
}

func TestFeedRecovery_RoutesByProducer(t *testing.T) {
	fr, _, _ := newTestFeedRecovery(t)
	now := testStart

	fr.HandleSystemMessage(context.Background(), &feed.Alive{Producer: 3, Timestamp: now, Subscribed: true})

	live, _ := fr.Manager(1)
	prematch, _ := fr.Manager(3)
	if live.Status() != NotStarted {
		t.Errorf("producer 1 should be untouched, got %s", live.Status())
	}
	if prematch.Status() != Started {
		t.Errorf("producer 3 should be recovering, got %s", prematch.Status())
	}

	// Unknown producers are ignored without error.
	fr.HandleSystemMessage(context.Background(), &feed.Alive{Producer: 99, Timestamp: now, Subscribed: true})
}

func TestFeedRecovery_ForwardsUnstashedMessages(t *testing.T) {
	fr, _, _ := newTestFeedRecovery(t)
	ctx := context.Background()

	var mu sync.Mutex
	var delivered []feed.Message
	fr.SetConsumer(func(msg feed.Message, interest feed.MessageInterest) {
		mu.Lock()
		defer mu.Unlock()
		delivered = append(delivered, msg)
	})

	if _, err := fr.RecoverEvent(ctx, 1, "sr:match:9"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	held := &feed.OddsChange{Producer: 1, Event: "sr:match:9", Timestamp: testStart}
	passed := &feed.OddsChange{Producer: 1, Event: "sr:match:10", Timestamp: testStart}
	unknown := &feed.BetSettlement{Producer: 99, Event: "sr:match:11", Timestamp: testStart}

	fr.HandleUserMessage(ctx, held, feed.All)
	fr.HandleUserMessage(ctx, passed, feed.All)
	fr.HandleUserMessage(ctx, unknown, feed.All)

	mu.Lock()
	defer mu.Unlock()
	if len(delivered) != 2 || delivered[0] != passed || delivered[1] != unknown {
		t.Errorf("expected only unstashed messages to be delivered, got %v", delivered)
	}
}

func TestFeedRecovery_RecoverEventUnknownProducer(t *testing.T) {
	fr, issuer, _ := newTestFeedRecovery(t)

	if _, err := fr.RecoverEvent(context.Background(), 42, "sr:match:1"); !errors.Is(err, producer.ErrUnknownProducer) {
		t.Errorf("expected ErrUnknownProducer, got %v", err)
	}
	if len(issuer.eventCalls) != 0 {
		t.Error("no request should be sent for an unknown producer")
	}
}

func TestFeedRecovery_ReportsFatalProducersOnce(t *testing.T) {
	fr, _, reg := newTestFeedRecovery(t)
	ctx := context.Background()

	p, _ := reg.Get(1)
	p.SetLastTimestampBeforeDisconnect(testStart.Add(-5 * time.Hour))

	fr.HandleSystemMessage(ctx, &feed.Alive{Producer: 1, Timestamp: testStart, Subscribed: true})
	fr.HandleSystemMessage(ctx, &feed.Alive{Producer: 1, Timestamp: testStart, Subscribed: true})

	select {
	case fatal := <-fr.FatalErrors():
		if fatal.ProducerID != 1 {
			t.Errorf("expected producer 1, got %d", fatal.ProducerID)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for fatal producer")
	}

	select {
	case fatal := <-fr.FatalErrors():
		t.Errorf("fatal producer reported twice: %+v", fatal)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestFeedRecovery_ConnectionShutdown(t *testing.T) {
	fr, _, _ := newTestFeedRecovery(t)
	ctx := context.Background()

	fr.HandleSystemMessage(ctx, &feed.Alive{Producer: 1, Timestamp: testStart, Subscribed: true})
	fr.ConnectionShutdown()

	live, _ := fr.Manager(1)
	prematch, _ := fr.Manager(3)
	if live.Status() != Error {
		t.Errorf("recovering producer should move to error, got %s", live.Status())
	}
	if prematch.Status() != NotStarted {
		t.Errorf("idle producer should stay not started, got %s", prematch.Status())
	}
}

func TestFeedRecovery_RunChecksStatus(t *testing.T) {
	reg, err := producer.NewRegistry([]producer.Config{
		{ID: 1, Name: "LO", Scope: "live", Available: true, MaxInactivitySeconds: 20, MaxRecoveryTimeMinutes: 60},
	})
	if err != nil {
		t.Fatalf("creating registry: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	dispatcher := NewDispatcher(8, testLogger())
	go dispatcher.Run(ctx)

	clk := newTestClock()
	fr, err := NewFeedRecovery(reg, &fakeIssuer{}, feed.NewInterestSet(feed.All), Options{InactivityThreshold: 20 * time.Second}, 10*time.Millisecond, clk, dispatcher, testLogger())
	if err != nil {
		t.Fatalf("creating feed recovery: %v", err)
	}

	fr.HandleSystemMessage(ctx, &feed.Alive{Producer: 1, Timestamp: clk.Now(), Subscribed: true})
	clk.Advance(2 * time.Hour)

	done := make(chan struct{})
	go func() {
		fr.Run(ctx)
		close(done)
	}()

	m, _ := fr.Manager(1)
	deadline := time.After(2 * time.Second)
	for m.Status() != Error {
		select {
		case <-deadline:
			t.Fatalf("status check never timed out the recovery, status %s", m.Status())
		case <-time.After(5 * time.Millisecond):
		}
	}

	cancel()
	<-done
}

func TestNewFeedRecovery_RequiresInterests(t *testing.T) {
	reg, _ := producer.NewRegistry(nil)
	_, err := NewFeedRecovery(reg, &fakeIssuer{}, feed.InterestSet{}, Options{}, time.Second, newTestClock(), NewDispatcher(1, testLogger()), testLogger())
	if err == nil {
		t.Error("expected an error without interests")
	}
}
