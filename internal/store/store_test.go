package store

import (
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/tathienbao/trailbot/internal/types"
)

func testIntention(key string) types.TradeIntention {
	return types.TradeIntention{
		Profile:      "main",
		Symbol:       "AAPL",
		SignedQty:    100,
		TriggerPrice: decimal.RequireFromString("150"),
		TrailingPct:  decimal.RequireFromString("5"),
		StopPct:      decimal.RequireFromString("3"),
		TIF:          "GTC",
		DedupeKey:    key,
	}
}

func TestGetOrCreate(t *testing.T) {
	s := New(nil)

	rec, created := s.GetOrCreate(testIntention("k1"))
	if !created {
		t.Fatal("expected first sight to create the record")
	}
	if rec.State != types.StatePending {
		t.Errorf("expected Pending, got %s", rec.State)
	}
	if rec.ID == "" {
		t.Error("expected generated record id")
	}

	again, created := s.GetOrCreate(testIntention("k1"))
	if created {
		t.Error("expected second sight to reuse the record")
	}
	if again.ID != rec.ID {
		t.Error("expected same record on repeated polls")
	}
}

func TestTransition(t *testing.T) {
	s := New(nil)
	s.GetOrCreate(testIntention("k1"))

	if err := s.Transition("k1", types.StatePending, types.StateTriggered); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	rec, _ := s.Get("k1")
	if rec.State != types.StateTriggered {
		t.Errorf("expected Triggered, got %s", rec.State)
	}
}

func TestTransition_Conflict(t *testing.T) {
	s := New(nil)
	s.GetOrCreate(testIntention("k1"))

	err := s.Transition("k1", types.StateTriggered, types.StateSubmitting)
	if err == nil {
		t.Fatal("expected conflict")
	}

	var conflict *types.ConflictError
	if !errors.As(err, &conflict) {
		t.Fatalf("expected ConflictError, got %T", err)
	}
	if conflict.Actual != types.StatePending {
		t.Errorf("expected actual state Pending, got %s", conflict.Actual)
	}

	// The record is untouched.
	rec, _ := s.Get("k1")
	if rec.State != types.StatePending {
		t.Errorf("expected Pending after dropped transition, got %s", rec.State)
	}
}

func TestTransition_UnknownKey(t *testing.T) {
	s := New(nil)

	var conflict *types.ConflictError
	err := s.Transition("missing", types.StatePending, types.StateTriggered)
	if !errors.As(err, &conflict) {
		t.Fatalf("expected ConflictError, got %v", err)
	}
}

func TestTransitionIf_CheckDeclines(t *testing.T) {
	s := New(nil)
	s.GetOrCreate(testIntention("k1"))

	fired, err := s.TransitionIf("k1", types.StatePending, types.StateTriggered,
		func(types.IntentionRecord) bool { return false })
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if fired {
		t.Error("expected no transition when check declines")
	}

	rec, _ := s.Get("k1")
	if rec.State != types.StatePending {
		t.Errorf("expected Pending, got %s", rec.State)
	}
}

func TestTriggerLatch(t *testing.T) {
	// Once fired, later samples must not re-arm the record.
	s := New(nil)
	s.GetOrCreate(testIntention("k1"))

	fired, err := s.TransitionIf("k1", types.StatePending, types.StateTriggered,
		func(types.IntentionRecord) bool { return true })
	if err != nil || !fired {
		t.Fatalf("expected fire, got fired=%v err=%v", fired, err)
	}

	// Second evaluation: record is no longer Pending, conflict is
	// returned and dropped by the caller.
	fired, err = s.TransitionIf("k1", types.StatePending, types.StateTriggered,
		func(types.IntentionRecord) bool { return true })
	if fired {
		t.Error("expected latched record to not re-fire")
	}
	var conflict *types.ConflictError
	if !errors.As(err, &conflict) {
		t.Errorf("expected ConflictError on re-evaluation, got %v", err)
	}
}

func TestAttachOrdersAndFindByOrderID(t *testing.T) {
	s := New(nil)
	s.GetOrCreate(testIntention("k1"))

	if err := s.AttachOrders("k1", "OCA_x", 101, 102); err != nil {
		t.Fatalf("attach orders: %v", err)
	}

	rec, ok := s.FindByOrderID(102)
	if !ok {
		t.Fatal("expected lookup by order id to succeed")
	}
	if rec.Intention.DedupeKey != "k1" {
		t.Errorf("expected k1, got %s", rec.Intention.DedupeKey)
	}
	if rec.GroupID != "OCA_x" {
		t.Errorf("expected group OCA_x, got %s", rec.GroupID)
	}

	if _, ok := s.FindByOrderID(999); ok {
		t.Error("expected unknown order id to miss")
	}
}

func TestSetError(t *testing.T) {
	s := New(nil)
	s.GetOrCreate(testIntention("k1"))

	s.SetError("k1", types.StateFailed, "gateway rejected leg")

	rec, _ := s.Get("k1")
	if rec.State != types.StateFailed {
		t.Errorf("expected Failed, got %s", rec.State)
	}
	if rec.LastError != "gateway rejected leg" {
		t.Errorf("unexpected last error %q", rec.LastError)
	}
}

func TestReset(t *testing.T) {
	s := New(nil)
	s.GetOrCreate(testIntention("k1"))
	_ = s.AttachOrders("k1", "OCA_x", 101)

	if !s.Reset("k1") {
		t.Fatal("expected reset to succeed")
	}
	if _, ok := s.Get("k1"); ok {
		t.Error("expected record removed")
	}
	if _, ok := s.FindByOrderID(101); ok {
		t.Error("expected order index cleaned up")
	}
	if s.Reset("k1") {
		t.Error("expected second reset to report missing")
	}
}

func TestCountInState(t *testing.T) {
	s := New(nil)
	s.GetOrCreate(testIntention("k1"))
	s.GetOrCreate(testIntention("k2"))
	_ = s.Transition("k2", types.StatePending, types.StateTriggered)

	if n := s.CountInState(types.StatePending); n != 1 {
		t.Errorf("expected 1 pending, got %d", n)
	}
	if n := s.CountInState(types.StateTriggered); n != 1 {
		t.Errorf("expected 1 triggered, got %d", n)
	}
}

func TestSnapshotIsolation(t *testing.T) {
	s := New(nil)
	s.GetOrCreate(testIntention("k1"))
	_ = s.AttachOrders("k1", "OCA_x", 101)

	snap := s.Snapshot()
	if len(snap) != 1 {
		t.Fatalf("expected 1 record, got %d", len(snap))
	}

	// Mutating the snapshot must not leak into the store.
	snap[0].OrderIDs[0] = 999
	rec, _ := s.Get("k1")
	if rec.OrderIDs[0] != 101 {
		t.Error("expected store record isolated from snapshot mutation")
	}
}
