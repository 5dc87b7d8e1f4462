package recovery

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/dgnsrekt/oddsfeed-client/internal/clock"
	"github.com/dgnsrekt/oddsfeed-client/internal/feed"
)

func newTestOperation(t *testing.T, scope string, adjust bool, interests ...feed.MessageInterest) (*Operation, *fakeIssuer, *clock.Manual) {
	t.Helper()
	issuer := &fakeIssuer{}
	clk := newTestClock()
	op, err := NewOperation(newTestProducer(t, scope), issuer, feed.NewInterestSet(interests...), 7, adjust, clk, testLogger())
	if err != nil {
		t.Fatalf("creating operation: %v", err)
	}
	return op, issuer, clk
}

func TestRequiredInterests(t *testing.T) {
	live, _ := feed.ParseScopes("live")
	prematch, _ := feed.ParseScopes("prematch")

	required, err := RequiredInterests(feed.NewInterestSet(feed.All), live)
	if err != nil || !required.Equal(feed.NewInterestSet(feed.All)) {
		t.Errorf("single interest: got %v, %v", required.Names(), err)
	}

	required, err = RequiredInterests(feed.NewInterestSet(feed.HighPriority, feed.LowPriority), live)
	if err != nil || !required.Equal(feed.NewInterestSet(feed.HighPriority)) {
		t.Errorf("priority pair: got %v, %v", required.Names(), err)
	}

	required, err = RequiredInterests(feed.NewInterestSet(feed.PrematchOnly, feed.LiveOnly), prematch)
	if err != nil || !required.Equal(feed.NewInterestSet(feed.PrematchOnly)) {
		t.Errorf("scoped sessions: got %v, %v", required.Names(), err)
	}

	_, err = RequiredInterests(feed.NewInterestSet(feed.All, feed.LiveOnly), live)
	var unsupported *UnsupportedInterestsError
	if !errors.As(err, &unsupported) {
		t.Errorf("expected UnsupportedInterestsError, got %v", err)
	}
}

func TestNewOperation_UnsupportedInterests(t *testing.T) {
	_, err := NewOperation(newTestProducer(t, "live"), &fakeIssuer{}, feed.NewInterestSet(feed.HighPriority, feed.VirtualSports), 1, false, newTestClock(), testLogger())
	if err == nil {
		t.Fatal("expected construction to fail for unsupported interests")
	}
}

func TestOperation_RoundTrip(t *testing.T) {
	op, issuer, _ := newTestOperation(t, "live", false, feed.All)

	started, err := op.Start(context.Background())
	if err != nil || !started {
		t.Fatalf("expected start, got %v %v", started, err)
	}
	if full, _ := issuer.calls(); full != 1 {
		t.Errorf("expected a full recovery request, got %d", full)
	}
	requestID := op.RequestID()

	result, err := op.TryComplete(feed.All)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result == nil {
		t.Fatal("expected the single session to complete the recovery")
	}
	if !result.Success || result.TimedOut {
		t.Errorf("unexpected result: %+v", result)
	}
	if result.RequestID != requestID {
		t.Errorf("expected request id %d, got %d", requestID, result.RequestID)
	}
	if op.IsRunning() {
		t.Error("operation should stop after completion")
	}
	if len(op.completed) != 0 {
		t.Error("completion set should be cleared")
	}

	if started, err := op.Start(context.Background()); err != nil || !started {
		t.Errorf("operation should start again immediately, got %v %v", started, err)
	}
}

func TestOperation_StartIsNotRepeated(t *testing.T) {
	op, issuer, _ := newTestOperation(t, "live", false, feed.All)

	if _, err := op.Start(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	_, err := op.Start(context.Background())
	if !errors.Is(err, ErrAlreadyRunning) {
		t.Errorf("expected ErrAlreadyRunning, got %v", err)
	}
	if full, after := issuer.calls(); full+after != 1 {
		t.Errorf("expected exactly one request, got %d", full+after)
	}
}

func TestOperation_StartAfterCursor(t *testing.T) {
	op, issuer, _ := newTestOperation(t, "live", false, feed.All)
	cursor := testStart.Add(-10 * time.Minute)
	op.producer.SetLastTimestampBeforeDisconnect(cursor)

	if started, err := op.Start(context.Background()); err != nil || !started {
		t.Fatalf("expected start, got %v %v", started, err)
	}
	if len(issuer.afterCalls) != 1 || !issuer.afterCalls[0].Equal(cursor) {
		t.Errorf("expected recovery after %v, got %v", cursor, issuer.afterCalls)
	}
}

func TestOperation_AfterTooOld(t *testing.T) {
	op, issuer, _ := newTestOperation(t, "live", false, feed.All)
	cursor := testStart.Add(-2 * time.Hour)
	op.producer.SetLastTimestampBeforeDisconnect(cursor)

	started, err := op.Start(context.Background())
	if started {
		t.Error("operation must not start")
	}
	var initErr *InitiationError
	if !errors.As(err, &initErr) {
		t.Fatalf("expected InitiationError, got %v", err)
	}
	if !initErr.After.Equal(cursor) {
		t.Errorf("expected error to carry %v, got %v", cursor, initErr.After)
	}
	if full, after := issuer.calls(); full+after != 0 {
		t.Error("no request should be issued")
	}
}

func TestOperation_AfterTooOldAdjusted(t *testing.T) {
	op, issuer, _ := newTestOperation(t, "live", true, feed.All)
	op.producer.SetLastTimestampBeforeDisconnect(testStart.Add(-2 * time.Hour))

	if started, err := op.Start(context.Background()); err != nil || !started {
		t.Fatalf("expected start, got %v %v", started, err)
	}
	want := testStart.Add(-time.Hour).Add(time.Minute)
	if len(issuer.afterCalls) != 1 || !issuer.afterCalls[0].Equal(want) {
		t.Errorf("expected adjusted cursor %v, got %v", want, issuer.afterCalls)
	}
}

func TestOperation_IssuerFailure(t *testing.T) {
	op, issuer, _ := newTestOperation(t, "live", false, feed.All)
	issuer.setErr(errNetwork)

	started, err := op.Start(context.Background())
	if err != nil {
		t.Fatalf("a network failure is retryable, got %v", err)
	}
	if started || op.IsRunning() {
		t.Error("operation must not be running after a failed request")
	}
}

func TestOperation_FirstInterruptionWins(t *testing.T) {
	op, _, _ := newTestOperation(t, "live", false, feed.All)
	if _, err := op.Start(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	first := testStart.Add(5 * time.Second)
	if err := op.Interrupt(first); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := op.Interrupt(first.Add(10 * time.Second)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	result, _ := op.TryComplete(feed.All)
	if result == nil || result.InterruptedAt == nil {
		t.Fatal("expected an interrupted result")
	}
	if !result.InterruptedAt.Equal(first) {
		t.Errorf("expected first interruption %v, got %v", first, *result.InterruptedAt)
	}
}

func TestOperation_TimeoutIsMonotonic(t *testing.T) {
	op, _, clk := newTestOperation(t, "live", false, feed.All)
	if _, err := op.Start(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	clk.Advance(59 * time.Minute)
	if timedOut, _ := op.HasTimedOut(); timedOut {
		t.Fatal("should not time out before the max recovery duration")
	}

	clk.Advance(2 * time.Minute)
	for i := 0; i < 3; i++ {
		timedOut, err := op.HasTimedOut()
		if err != nil || !timedOut {
			t.Fatalf("expected timed out on check %d, got %v %v", i, timedOut, err)
		}
		clk.Advance(time.Minute)
	}

	result, err := op.CompleteTimedOut()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Success || !result.TimedOut {
		t.Errorf("expected timed out result, got %+v", result)
	}
	if op.IsRunning() {
		t.Error("operation should stop after timing out")
	}
}

func TestOperation_TryCompleteAfterTimeout(t *testing.T) {
	op, _, clk := newTestOperation(t, "live", false, feed.HighPriority, feed.LowPriority)
	if _, err := op.Start(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	clk.Advance(2 * time.Hour)
	result, err := op.TryComplete(feed.LowPriority)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result == nil || !result.TimedOut {
		t.Errorf("expected timed out result, got %+v", result)
	}
}

func TestOperation_CompleteTimedOutTooEarly(t *testing.T) {
	op, _, _ := newTestOperation(t, "live", false, feed.All)
	if _, err := op.Start(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := op.CompleteTimedOut(); !errors.Is(err, ErrNotTimedOut) {
		t.Errorf("expected ErrNotTimedOut, got %v", err)
	}
}

func TestOperation_PriorityCompletion(t *testing.T) {
	op, _, _ := newTestOperation(t, "live", false, feed.HighPriority, feed.LowPriority)
	if _, err := op.Start(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	for i := 0; i < 3; i++ {
		result, err := op.TryComplete(feed.LowPriority)
		if err != nil || result != nil {
			t.Fatalf("low priority must never complete the recovery, got %+v %v", result, err)
		}
	}

	result, err := op.TryComplete(feed.HighPriority)
	if err != nil || result == nil || !result.Success {
		t.Errorf("high priority should complete the recovery, got %+v %v", result, err)
	}
}

func TestOperation_ScopedCompletion(t *testing.T) {
	op, _, _ := newTestOperation(t, "live|prematch", false, feed.LiveOnly, feed.PrematchOnly, feed.VirtualSports)
	if _, err := op.Start(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if result, _ := op.TryComplete(feed.VirtualSports); result != nil {
		t.Fatal("virtual sports is outside the producer scope")
	}
	if result, _ := op.TryComplete(feed.LiveOnly); result != nil {
		t.Fatal("prematch has not reported yet")
	}
	if result, _ := op.TryComplete(feed.PrematchOnly); result == nil {
		t.Error("both producer scopes reported, recovery should complete")
	}
}

func TestOperation_RequiresRunning(t *testing.T) {
	op, _, _ := newTestOperation(t, "live", false, feed.All)

	if err := op.Interrupt(testStart); !errors.Is(err, ErrNotRunning) {
		t.Errorf("Interrupt: expected ErrNotRunning, got %v", err)
	}
	if _, err := op.HasTimedOut(); !errors.Is(err, ErrNotRunning) {
		t.Errorf("HasTimedOut: expected ErrNotRunning, got %v", err)
	}
	if _, err := op.TryComplete(feed.All); !errors.Is(err, ErrNotRunning) {
		t.Errorf("TryComplete: expected ErrNotRunning, got %v", err)
	}
	if _, err := op.CompleteTimedOut(); !errors.Is(err, ErrNotRunning) {
		t.Errorf("CompleteTimedOut: expected ErrNotRunning, got %v", err)
	}
}

func TestOperation_Reset(t *testing.T) {
	op, _, _ := newTestOperation(t, "live", false, feed.HighPriority, feed.LowPriority)
	if _, err := op.Start(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	_, _ = op.TryComplete(feed.LowPriority)

	op.Reset()
	if op.IsRunning() || op.RequestID() != 0 {
		t.Error("reset operation should be idle")
	}

	if _, err := op.Start(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if op.completed.Has(feed.LowPriority) {
		t.Error("a new run must not see completions of the abandoned one")
	}
}
