package reconcile

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/shopspring/decimal"
	"github.com/tathienbao/trailbot/internal/alerting"
	"github.com/tathienbao/trailbot/internal/audit"
	"github.com/tathienbao/trailbot/internal/gateway"
	"github.com/tathienbao/trailbot/internal/gateway/paper"
	"github.com/tathienbao/trailbot/internal/metrics"
	"github.com/tathienbao/trailbot/internal/store"
	"github.com/tathienbao/trailbot/internal/types"
)

// setup returns a reconciler whose store holds one Submitted record with
// order ids 5001 (trail) and 5002 (stop) attached.
func setup(t *testing.T) (*Reconciler, *store.Store, *audit.MockSink, *alerting.MockAlerter, *paper.Gateway) {
	t.Helper()

	st := store.New(nil)
	ti := types.TradeIntention{
		Profile:      "main",
		Symbol:       "AAPL",
		SignedQty:    100,
		TriggerPrice: decimal.RequireFromString("105"),
		TrailingPct:  decimal.RequireFromString("5"),
		StopPct:      decimal.RequireFromString("3"),
		TIF:          "GTC",
		DedupeKey:    "main/AAPL",
	}
	st.GetOrCreate(ti)
	mustTransition(t, st, "main/AAPL", types.StatePending, types.StateTriggered)
	mustTransition(t, st, "main/AAPL", types.StateTriggered, types.StateSubmitting)
	if err := st.AttachOrders("main/AAPL", "OCA_main_AAPL_1_ab", 5001, 5002); err != nil {
		t.Fatalf("attach: %v", err)
	}
	mustTransition(t, st, "main/AAPL", types.StateSubmitting, types.StateSubmitted)

	gw := paper.New(paper.DefaultConfig(), nil)
	if err := gw.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}

	sink := audit.NewMockSink()
	alerter := alerting.NewMockAlerter()

	return New(st, gw, sink, alerter, nil, nil), st, sink, alerter, gw
}

func mustTransition(t *testing.T, st *store.Store, key string, from, to types.IntentionState) {
	t.Helper()
	if err := st.Transition(key, from, to); err != nil {
		t.Fatalf("transition %s -> %s: %v", from, to, err)
	}
}

func TestHandle_Filled(t *testing.T) {
	r, st, sink, alerter, _ := setup(t)

	r.Handle(context.Background(), gateway.OrderEvent{
		OrderID:      5001,
		Status:       gateway.StatusFilled,
		FilledQty:    100,
		AvgFillPrice: decimal.RequireFromString("97.15"),
		Timestamp:    time.Now(),
	})

	rec, _ := st.Get("main/AAPL")
	if rec.State != types.StateFilled {
		t.Errorf("expected Filled, got %s", rec.State)
	}

	recs := sink.Records()
	if len(recs) != 1 || recs[0].Status != "FILLED" {
		t.Fatalf("unexpected audit records %+v", recs)
	}
	if !recs[0].Price.Equal(decimal.RequireFromString("97.15")) {
		t.Errorf("unexpected audited price %s", recs[0].Price)
	}

	if !alerter.HasAlertContaining("filled") {
		t.Error("expected fill alert")
	}
}

func TestHandle_OCASiblingCancel(t *testing.T) {
	r, st, sink, alerter, _ := setup(t)
	ctx := context.Background()

	// Stop leg fills, then the broker cancels the trail sibling.
	r.Handle(ctx, gateway.OrderEvent{OrderID: 5002, Status: gateway.StatusFilled, FilledQty: 100})
	r.Handle(ctx, gateway.OrderEvent{OrderID: 5001, Status: gateway.StatusCancelled})

	rec, _ := st.Get("main/AAPL")
	if rec.State != types.StateFilled {
		t.Errorf("sibling cancel must not overwrite Filled, got %s", rec.State)
	}

	// Only the fill is audited; the sibling cancel is routine.
	if len(sink.Records()) != 1 {
		t.Errorf("expected 1 audit record, got %d", len(sink.Records()))
	}
	if alerter.HasAlertContaining("cancelled") {
		t.Error("sibling cancel should not alert")
	}
}

func TestHandle_ExternalCancel(t *testing.T) {
	r, st, sink, _, _ := setup(t)

	r.Handle(context.Background(), gateway.OrderEvent{OrderID: 5001, Status: gateway.StatusCancelled})

	rec, _ := st.Get("main/AAPL")
	if rec.State != types.StateCancelled {
		t.Errorf("expected Cancelled, got %s", rec.State)
	}

	recs := sink.Records()
	if len(recs) != 1 || recs[0].Status != "CANCELLED" {
		t.Errorf("unexpected audit records %+v", recs)
	}
}

func TestHandle_Rejected(t *testing.T) {
	r, st, _, alerter, _ := setup(t)

	r.Handle(context.Background(), gateway.OrderEvent{OrderID: 5002, Status: gateway.StatusRejected})

	rec, _ := st.Get("main/AAPL")
	if rec.State != types.StateFailed {
		t.Errorf("expected Failed, got %s", rec.State)
	}
	if rec.LastError == "" {
		t.Error("expected rejection recorded on the record")
	}
	if !alerter.HasAlertWithSeverity(alerting.SeverityWarning) {
		t.Error("expected rejection alert")
	}
}

func TestHandle_UntrackedOrder(t *testing.T) {
	r, st, sink, alerter, _ := setup(t)

	r.Handle(context.Background(), gateway.OrderEvent{OrderID: 99999, Status: gateway.StatusFilled})

	rec, _ := st.Get("main/AAPL")
	if rec.State != types.StateSubmitted {
		t.Errorf("untracked event must not touch records, got %s", rec.State)
	}
	if len(sink.Records()) != 0 || alerter.Count() != 0 {
		t.Error("untracked event must not audit or alert")
	}
}

func TestHandle_RecordsOrderEvent(t *testing.T) {
	r, _, _, _, _ := setup(t)

	counter := metrics.OrderEventsTotal.WithLabelValues(string(gateway.StatusFilled))
	before := testutil.ToFloat64(counter)

	r.Handle(context.Background(), gateway.OrderEvent{
		OrderID:   5001,
		Status:    gateway.StatusFilled,
		FilledQty: 100,
	})

	if after := testutil.ToFloat64(counter); after != before+1 {
		t.Errorf("expected event counter %v, got %v", before+1, after)
	}
}

func TestRun_ConsumesUntilCancelled(t *testing.T) {
	r, st, _, _, gw := setup(t)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		r.Run(ctx)
		close(done)
	}()

	gw.EmitEvent(gateway.OrderEvent{
		OrderID:      5001,
		Status:       gateway.StatusFilled,
		FilledQty:    100,
		AvgFillPrice: decimal.RequireFromString("97.15"),
	})

	deadline := time.After(2 * time.Second)
	for {
		rec, _ := st.Get("main/AAPL")
		if rec.State == types.StateFilled {
			break
		}
		select {
		case <-deadline:
			t.Fatal("event was not reconciled in time")
		case <-time.After(10 * time.Millisecond):
		}
	}

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("reconciler did not stop on cancel")
	}
}
