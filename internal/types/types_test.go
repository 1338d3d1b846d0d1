package types

import (
	"errors"
	"strings"
	"testing"
)

func TestIntentionState_String(t *testing.T) {
	cases := []struct {
		state IntentionState
		want  string
	}{
		{StatePending, "PENDING"},
		{StateTriggered, "TRIGGERED"},
		{StateSubmitting, "SUBMITTING"},
		{StateSubmitted, "SUBMITTED"},
		{StateFilled, "FILLED"},
		{StateCancelled, "CANCELLED"},
		{StateFailed, "FAILED"},
		{IntentionState(99), "UNKNOWN"},
	}

	for _, tc := range cases {
		if got := tc.state.String(); got != tc.want {
			t.Errorf("state %d: expected %s, got %s", tc.state, tc.want, got)
		}
	}
}

func TestIntentionState_IsFinal(t *testing.T) {
	final := []IntentionState{StateFilled, StateCancelled, StateFailed}
	for _, s := range final {
		if !s.IsFinal() {
			t.Errorf("expected %s to be final", s)
		}
	}

	notFinal := []IntentionState{StatePending, StateTriggered, StateSubmitting, StateSubmitted}
	for _, s := range notFinal {
		if s.IsFinal() {
			t.Errorf("expected %s to not be final", s)
		}
	}
}

func TestTradeIntention_Action(t *testing.T) {
	long := TradeIntention{SignedQty: 100}
	if long.Action() != ActionSell {
		t.Errorf("expected long position to get SELL protection, got %s", long.Action())
	}

	short := TradeIntention{SignedQty: -100}
	if short.Action() != ActionBuy {
		t.Errorf("expected short position to get BUY protection, got %s", short.Action())
	}
}

func TestTradeIntention_Quantity(t *testing.T) {
	if q := (TradeIntention{SignedQty: -50}).Quantity(); q != 50 {
		t.Errorf("expected quantity 50, got %d", q)
	}
	if q := (TradeIntention{SignedQty: 50}).Quantity(); q != 50 {
		t.Errorf("expected quantity 50, got %d", q)
	}
}

func TestParseTriggerMode(t *testing.T) {
	mode, err := ParseTriggerMode("price_crossing")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if mode != TriggerPriceCrossing {
		t.Errorf("expected price_crossing, got %s", mode)
	}

	mode, err = ParseTriggerMode("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if mode != TriggerImmediate {
		t.Errorf("expected immediate default, got %s", mode)
	}

	if _, err := ParseTriggerMode("bogus"); !errors.Is(err, ErrInvalidConfig) {
		t.Errorf("expected ErrInvalidConfig, got %v", err)
	}
}

func TestDedupeKeyFor(t *testing.T) {
	if key := DedupeKeyFor("IBKR-main", "AAPL"); key != "IBKR-main/AAPL" {
		t.Errorf("unexpected dedupe key %s", key)
	}
}

func TestPartialSubmissionError(t *testing.T) {
	legErr := errors.New("gateway rejected leg")
	e := &PartialSubmissionError{
		DedupeKey:        "p/SYM",
		AcceptedOrderID:  42,
		LegErr:           legErr,
		ExposureResolved: true,
	}

	if !errors.Is(e, legErr) {
		t.Error("expected Unwrap to expose the leg error")
	}

	e.ExposureResolved = false
	e.CancelErr = errors.New("cancel timeout")
	msg := e.Error()
	if want := "exposure uncertain"; !strings.Contains(msg, want) {
		t.Errorf("expected message to contain %q, got %q", want, msg)
	}
}
