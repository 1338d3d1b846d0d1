// Package reconcile folds asynchronous gateway order events back into the
// lifecycle store.
package reconcile

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/tathienbao/trailbot/internal/alerting"
	"github.com/tathienbao/trailbot/internal/audit"
	"github.com/tathienbao/trailbot/internal/gateway"
	"github.com/tathienbao/trailbot/internal/metrics"
	"github.com/tathienbao/trailbot/internal/store"
	"github.com/tathienbao/trailbot/internal/types"
)

// Reconciler consumes the gateway event stream. It is the only writer of
// the Filled, Cancelled and Failed states reached from Submitted.
type Reconciler struct {
	store    *store.Store
	gw       gateway.Gateway
	sink     audit.Sink
	alerter  alerting.Alerter
	recorder *metrics.Recorder
	logger   *slog.Logger
}

// New creates a reconciler.
func New(st *store.Store, gw gateway.Gateway, sink audit.Sink, alerter alerting.Alerter, recorder *metrics.Recorder, logger *slog.Logger) *Reconciler {
	if recorder == nil {
		recorder = metrics.NewRecorder()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Reconciler{
		store:    st,
		gw:       gw,
		sink:     sink,
		alerter:  alerter,
		recorder: recorder,
		logger:   logger,
	}
}

// Run consumes events until ctx is cancelled or the stream closes.
func (r *Reconciler) Run(ctx context.Context) {
	r.logger.Info("reconciler started")
	defer r.logger.Info("reconciler stopped")

	events := r.gw.Events()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			r.Handle(ctx, ev)
		}
	}
}

// Handle applies one gateway event to the owning record. Events for order
// ids this engine never placed are discarded.
func (r *Reconciler) Handle(ctx context.Context, ev gateway.OrderEvent) {
	r.recorder.RecordOrderEvent(string(ev.Status))

	rec, ok := r.store.FindByOrderID(ev.OrderID)
	if !ok {
		r.logger.Debug("event for untracked order", "order_id", ev.OrderID, "status", string(ev.Status))
		return
	}

	key := rec.Intention.DedupeKey

	switch ev.Status {
	case gateway.StatusFilled:
		r.transition(key, types.StateFilled, ev)
		r.audit(ctx, rec, ev, "FILLED", "protective leg filled")
		r.alert(ctx, alerting.EventOrderFilled, "protective order filled",
			"symbol", rec.Intention.Symbol,
			"order_id", ev.OrderID,
			"qty", ev.FilledQty,
			"price", ev.AvgFillPrice.String(),
		)

	case gateway.StatusCancelled:
		if !r.transition(key, types.StateCancelled, ev) {
			// The surviving OCA sibling is cancelled after a fill; that
			// arrives here once the record already left Submitted.
			return
		}
		r.audit(ctx, rec, ev, "CANCELLED", "order cancelled at broker")
		r.alert(ctx, alerting.EventOrderCancelled, "protective order cancelled",
			"symbol", rec.Intention.Symbol,
			"order_id", ev.OrderID,
		)

	case gateway.StatusRejected:
		if rec.State != types.StateSubmitted {
			r.logger.Debug("rejection for non-submitted record",
				"dedupe_key", key,
				"state", rec.State.String(),
				"order_id", ev.OrderID,
			)
			return
		}
		r.store.SetError(key, types.StateFailed, "order rejected by broker")
		r.audit(ctx, rec, ev, "REJECTED", "order rejected by broker")
		r.alert(ctx, alerting.EventOrderRejected, "protective order rejected",
			"symbol", rec.Intention.Symbol,
			"order_id", ev.OrderID,
		)

	case gateway.StatusSubmitted:
		r.logger.Debug("order acknowledged", "dedupe_key", key, "order_id", ev.OrderID)

	default:
		r.logger.Debug("unhandled order status", "order_id", ev.OrderID, "status", string(ev.Status))
	}
}

// transition moves the record out of Submitted, reporting whether it won.
func (r *Reconciler) transition(key string, to types.IntentionState, ev gateway.OrderEvent) bool {
	err := r.store.Transition(key, types.StateSubmitted, to)
	if err == nil {
		r.logger.Info("record reconciled",
			"dedupe_key", key,
			"state", to.String(),
			"order_id", ev.OrderID,
		)
		return true
	}

	var ce *types.ConflictError
	if errors.As(err, &ce) {
		r.logger.Debug("event arrived after record left Submitted",
			"dedupe_key", key,
			"actual", ce.Actual.String(),
			"order_id", ev.OrderID,
		)
		return false
	}

	r.logger.Warn("reconcile transition failed", "dedupe_key", key, "err", err)
	return false
}

// audit appends one trail record. Audit failures never block reconciling.
func (r *Reconciler) audit(ctx context.Context, rec types.IntentionRecord, ev gateway.OrderEvent, status, note string) {
	if r.sink == nil {
		return
	}

	ts := ev.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}

	err := r.sink.Append(ctx, audit.Record{
		Timestamp: ts,
		Profile:   rec.Intention.Profile,
		Symbol:    rec.Intention.Symbol,
		Quantity:  rec.Intention.Quantity(),
		Status:    status,
		GroupID:   rec.GroupID,
		OrderID:   ev.OrderID,
		Price:     ev.AvgFillPrice,
		Note:      note,
	})
	if err != nil {
		r.logger.Error("audit append failed", "dedupe_key", rec.Intention.DedupeKey, "err", err)
	}
}

// alert sends one notification. Alert failures never block reconciling.
func (r *Reconciler) alert(ctx context.Context, event alerting.AlertEvent, message string, fields ...any) {
	if r.alerter == nil {
		return
	}
	if err := r.alerter.Alert(ctx, alerting.EventSeverity(event), message, fields...); err != nil {
		r.logger.Error("alert failed", "event", string(event), "err", err)
	}
}
