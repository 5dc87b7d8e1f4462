package feed

import (
	"errors"
	"testing"
	"time"
)

func TestParseScopes(t *testing.T) {
	set, err := ParseScopes("live|Prematch")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if !set.Has(ScopeLive) || !set.Has(ScopePrematch) {
		t.Errorf("expected live and prematch, got %s", set)
	}
	if set.Has(ScopeVirtual) {
		t.Error("did not expect virt scope")
	}

	interests := set.Interests()
	if len(interests) != 2 || interests[0] != LiveOnly || interests[1] != PrematchOnly {
		t.Errorf("unexpected interests: %v", interests)
	}
}

func TestParseScopes_Unknown(t *testing.T) {
	if _, err := ParseScopes("live|outrights"); err == nil {
		t.Fatal("expected error for unknown scope")
	}
}

func TestParseScopes_Replay(t *testing.T) {
	set, err := ParseScopes("replay")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !set.IsReplay() {
		t.Error("expected replay scope")
	}
	if len(set.Interests()) != 0 {
		t.Error("replay scope should not map to any interest")
	}
}

func TestParseInterest(t *testing.T) {
	mi, err := ParseInterest("HIGH_PRIORITY")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if mi != HighPriority {
		t.Errorf("expected high_priority, got %s", mi)
	}

	if _, err := ParseInterest("nope"); err == nil {
		t.Error("expected error for unknown interest")
	}
}

func TestInterestRelevance(t *testing.T) {
	prematch, _ := ParseScopes("prematch")

	if LiveOnly.RelevantTo(prematch) {
		t.Error("live interest should not be relevant to a prematch producer")
	}
	if !PrematchOnly.RelevantTo(prematch) {
		t.Error("prematch interest should be relevant to a prematch producer")
	}
	if !All.RelevantTo(prematch) || !HighPriority.RelevantTo(prematch) {
		t.Error("unbound interests are relevant to every producer")
	}
}

func TestInterestSet(t *testing.T) {
	a := NewInterestSet(HighPriority, LowPriority)
	b := NewInterestSet(LowPriority, HighPriority)

	if !a.Equal(b) {
		t.Error("expected sets to be equal")
	}
	if !a.ContainsAll(NewInterestSet(HighPriority)) {
		t.Error("expected set to contain high priority")
	}
	names := a.Names()
	if len(names) != 2 || names[0] != "high_priority" || names[1] != "low_priority" {
		t.Errorf("unexpected names: %v", names)
	}
}

func TestDecodeEnvelope_Alive(t *testing.T) {
	msg, err := DecodeEnvelope([]byte(`{"kind":"alive","producer":1,"timestamp":1731576600000,"subscribed":0}`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	alive, ok := msg.(*Alive)
	if !ok {
		t.Fatalf("expected *Alive, got %T", msg)
	}
	if alive.Subscribed {
		t.Error("expected unsubscribed alive")
	}
	if !alive.Timestamp.Equal(time.UnixMilli(1731576600000)) {
		t.Errorf("unexpected timestamp: %v", alive.Timestamp)
	}
}

func TestDecodeEnvelope_SubscribedDefault(t *testing.T) {
	msg, err := DecodeEnvelope([]byte(`{"kind":"alive","producer":3,"timestamp":1}`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !msg.(*Alive).Subscribed {
		t.Error("missing subscribed flag should decode as subscribed")
	}
}

func TestDecodeEnvelope_SnapshotComplete(t *testing.T) {
	msg, err := DecodeEnvelope([]byte(`{"kind":"snapshot_complete","producer":3,"timestamp":5,"request_id":42}`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	sc, ok := msg.(*SnapshotComplete)
	if !ok {
		t.Fatalf("expected *SnapshotComplete, got %T", msg)
	}
	if sc.RequestID != 42 {
		t.Errorf("expected request id 42, got %d", sc.RequestID)
	}
}

func TestDecodeEnvelope_UnknownKind(t *testing.T) {
	_, err := DecodeEnvelope([]byte(`{"kind":"rollback","producer":1,"timestamp":5}`))
	if !errors.Is(err, ErrUnknownKind) {
		t.Errorf("expected ErrUnknownKind, got %v", err)
	}
}

func TestAffectsOdds(t *testing.T) {
	if !AffectsOdds(&OddsChange{}) || !AffectsOdds(&BetStop{}) {
		t.Error("odds change and bet stop affect odds")
	}
	if AffectsOdds(&Alive{}) || AffectsOdds(&BetSettlement{}) {
		t.Error("alive and settlement do not affect odds")
	}
}
