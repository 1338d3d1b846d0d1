// Package engine provides the orchestration loop: poll the instruction
// feed, evaluate triggers, submit protective pairs and reconcile outcomes.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/tathienbao/trailbot/internal/alerting"
	"github.com/tathienbao/trailbot/internal/audit"
	"github.com/tathienbao/trailbot/internal/feed"
	"github.com/tathienbao/trailbot/internal/gateway"
	"github.com/tathienbao/trailbot/internal/intent"
	"github.com/tathienbao/trailbot/internal/metrics"
	"github.com/tathienbao/trailbot/internal/plan"
	"github.com/tathienbao/trailbot/internal/reconcile"
	"github.com/tathienbao/trailbot/internal/store"
	"github.com/tathienbao/trailbot/internal/submit"
	"github.com/tathienbao/trailbot/internal/trigger"
	"github.com/tathienbao/trailbot/internal/types"
)

// Config holds engine configuration.
type Config struct {
	Profile      string
	SyncInterval time.Duration
	TriggerMode  types.TriggerMode
	OrderTimeout time.Duration
}

// DefaultConfig returns default engine config.
func DefaultConfig() Config {
	return Config{
		Profile:      "main",
		SyncInterval: 300 * time.Second,
		TriggerMode:  types.TriggerImmediate,
		OrderTimeout: 10 * time.Second,
	}
}

// Engine coordinates the feed, store, gateway and reconciler.
type Engine struct {
	cfg    Config
	logger *slog.Logger

	source      feed.Source
	store       *store.Store
	gw          gateway.Gateway
	evaluator   *trigger.Evaluator
	coordinator *submit.Coordinator
	reconciler  *reconcile.Reconciler
	sink        audit.Sink
	alerter     alerting.Alerter
	recorder    *metrics.Recorder

	// State
	mu        sync.RWMutex
	running   bool
	lastCycle time.Time

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates an engine. The submission coordinator and reconciler are
// built here so every caller wires them identically.
func New(
	cfg Config,
	source feed.Source,
	st *store.Store,
	gw gateway.Gateway,
	sink audit.Sink,
	alerter alerting.Alerter,
	logger *slog.Logger,
) *Engine {
	if logger == nil {
		logger = slog.Default()
	}

	recorder := metrics.NewRecorder()

	return &Engine{
		cfg:         cfg,
		logger:      logger,
		source:      source,
		store:       st,
		gw:          gw,
		evaluator:   trigger.NewEvaluator(cfg.TriggerMode),
		coordinator: submit.New(st, gw, cfg.OrderTimeout, logger),
		reconciler:  reconcile.New(st, gw, sink, alerter, recorder, logger),
		sink:        sink,
		alerter:     alerter,
		recorder:    recorder,
	}
}

// Start starts the poll and reconcile loops.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	if e.running {
		e.mu.Unlock()
		return fmt.Errorf("engine already running")
	}
	e.running = true
	e.mu.Unlock()

	e.logger.Info("starting engine",
		"profile", e.cfg.Profile,
		"feed", e.source.Name(),
		"trigger_mode", e.cfg.TriggerMode.String(),
		"sync_interval", e.cfg.SyncInterval,
	)

	// Adopt pairs left resting by a previous run before the first cycle
	// can re-fire their triggers.
	e.recoverOpenOrders(ctx)

	runCtx, cancel := context.WithCancel(ctx)
	e.cancel = cancel

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		e.reconciler.Run(runCtx)
	}()

	e.wg.Add(1)
	go e.pollLoop(runCtx)

	e.alert(ctx, alerting.EventEngineStarted, "engine started",
		"profile", e.cfg.Profile,
		"feed", e.source.Name(),
	)

	return nil
}

// Stop stops the engine and drains its loops.
func (e *Engine) Stop(ctx context.Context) error {
	e.mu.Lock()
	if !e.running {
		e.mu.Unlock()
		return nil
	}
	e.running = false
	e.mu.Unlock()

	e.logger.Info("stopping engine")

	e.cancel()
	e.wg.Wait()

	e.alert(ctx, alerting.EventEngineStopped, "engine stopped")

	e.logger.Info("engine stopped")
	return nil
}

// IsRunning returns true if the engine is running.
func (e *Engine) IsRunning() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.running
}

// LastCycle returns when the last successful cycle completed.
func (e *Engine) LastCycle() time.Time {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.lastCycle
}

// pollLoop runs cycles at the configured cadence. The first cycle runs
// immediately.
func (e *Engine) pollLoop(ctx context.Context) {
	defer e.wg.Done()

	e.logger.Info("poll loop started")

	if err := e.runCycle(ctx); err != nil {
		e.logger.Error("cycle failed", "err", err)
	}

	ticker := time.NewTicker(e.cfg.SyncInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			e.logger.Info("poll loop stopped")
			return
		case <-ticker.C:
			if err := e.runCycle(ctx); err != nil {
				e.logger.Error("cycle failed", "err", err)
			}
		}
	}
}

// runCycle executes one poll cycle. A feed-level failure aborts the whole
// cycle without touching any record.
func (e *Engine) runCycle(ctx context.Context) error {
	timer := metrics.NewTimer()

	table, err := e.source.Fetch(ctx)
	if err != nil {
		return e.cycleAborted(timer, "fetch", err)
	}

	idx, err := table.Index()
	if err != nil {
		return e.cycleAborted(timer, "header", err)
	}

	e.recorder.RecordFeedStatus(true)

	for _, row := range table.Rows {
		// Shutdown drain: stop firing new triggers, leave the remaining
		// rows Pending for the next run.
		if ctx.Err() != nil {
			e.logger.Info("cycle interrupted, remaining rows deferred")
			break
		}
		e.processRow(ctx, row, idx)
	}

	e.updateStateGauges()
	e.recorder.RecordGatewayStatus(e.gw.IsConnected())
	e.recorder.RecordHeartbeat()
	e.recorder.RecordCycle(true, timer.Elapsed())

	e.mu.Lock()
	e.lastCycle = time.Now()
	e.mu.Unlock()

	return nil
}

// cycleAborted records and reports a feed-level cycle failure.
func (e *Engine) cycleAborted(timer *metrics.Timer, op string, err error) error {
	e.recorder.RecordFeedStatus(false)
	e.recorder.RecordError("feed_" + op)
	e.recorder.RecordCycle(false, timer.Elapsed())

	e.alert(context.Background(), alerting.EventFeedUnavailable, "instruction feed unavailable",
		"feed", e.source.Name(),
		"op", op,
		"error", err.Error(),
	)

	return fmt.Errorf("feed %s: %w", op, err)
}

// processRow handles one instruction row: filter, validate, evaluate and
// possibly submit. Row-level failures skip the row only.
func (e *Engine) processRow(ctx context.Context, row []string, idx map[string]int) {
	if !strings.EqualFold(strings.TrimSpace(feed.Cell(row, idx, "profile")), e.cfg.Profile) {
		e.recorder.RecordRow(metrics.RowFiltered)
		return
	}

	ti, err := intent.Validate(row, idx)
	if err != nil {
		e.recorder.RecordRow(metrics.RowInvalid)
		e.logger.Warn("row skipped", "err", err)
		return
	}
	e.recorder.RecordRow(metrics.RowAccepted)

	rec, created := e.store.GetOrCreate(ti)
	if created {
		e.logger.Info("intention tracked",
			"dedupe_key", ti.DedupeKey,
			"symbol", ti.Symbol,
			"qty", ti.SignedQty,
			"trigger", ti.TriggerPrice.String(),
		)
	}

	if rec.State != types.StatePending {
		return
	}

	// A trigger that fires while the gateway is down would burn its
	// one-shot latch on a submission that cannot start.
	if !e.gw.IsConnected() {
		e.logger.Warn("gateway disconnected, deferring trigger", "dedupe_key", ti.DedupeKey)
		return
	}

	sample := e.sampleFor(ti)

	fired, err := e.store.TransitionIf(ti.DedupeKey, types.StatePending, types.StateTriggered,
		func(r types.IntentionRecord) bool {
			return e.evaluator.ShouldFire(r.Intention, sample)
		})
	if err != nil {
		e.logger.Debug("trigger race lost", "dedupe_key", ti.DedupeKey, "err", err)
		return
	}
	if !fired {
		return
	}

	e.recorder.RecordTrigger(ti.Symbol)
	e.logger.Info("trigger fired",
		"dedupe_key", ti.DedupeKey,
		"symbol", ti.Symbol,
		"mode", e.evaluator.Mode().String(),
	)

	e.submitPlan(ctx, ti)
}

// sampleFor builds the price sample for trigger evaluation. Immediate mode
// needs none.
func (e *Engine) sampleFor(ti types.TradeIntention) trigger.Sample {
	if e.cfg.TriggerMode != types.TriggerPriceCrossing {
		return trigger.Sample{}
	}

	if err := e.gw.WatchSymbol(ti.Symbol); err != nil {
		e.logger.Debug("watch failed", "symbol", ti.Symbol, "err", err)
	}

	price, ok := e.gw.LastPrice(ti.Symbol)
	return trigger.Sample{Price: price, HasPrice: ok}
}

// submitPlan derives and submits the protective pair for a just-triggered
// intention.
func (e *Engine) submitPlan(ctx context.Context, ti types.TradeIntention) {
	orderPlan, err := plan.Build(ti, ti.TriggerPrice)
	if err != nil {
		e.store.SetError(ti.DedupeKey, types.StateFailed, err.Error())
		e.recorder.RecordSubmission(ti.Symbol, metrics.SubmissionFailed)
		e.recorder.RecordError("plan_rejected")
		e.logger.Warn("plan rejected", "dedupe_key", ti.DedupeKey, "err", err)
		e.alert(ctx, alerting.EventOrderRejected, "order plan rejected",
			"symbol", ti.Symbol,
			"error", err.Error(),
		)
		return
	}

	timer := metrics.NewTimer()
	err = e.coordinator.Submit(ctx, ti.DedupeKey, orderPlan)
	timer.ObserveSubmit()

	var perr *types.PartialSubmissionError
	switch {
	case err == nil:
		e.recorder.RecordSubmission(ti.Symbol, metrics.SubmissionSubmitted)
		rec, _ := e.store.Get(ti.DedupeKey)
		e.audit(ctx, ti, "SUBMITTED", orderPlan.GroupID, firstOrderID(rec.OrderIDs), "protective pair resting")
		e.alert(ctx, alerting.EventPairSubmitted, "protective pair submitted",
			"symbol", ti.Symbol,
			"qty", ti.Quantity(),
			"group", orderPlan.GroupID,
		)

	case errors.As(err, &perr):
		e.recorder.RecordSubmission(ti.Symbol, metrics.SubmissionPartial)
		e.recorder.RecordCompensation(perr.ExposureResolved)
		e.audit(ctx, ti, "PARTIAL", orderPlan.GroupID, perr.AcceptedOrderID, perr.Error())
		if perr.ExposureResolved {
			e.alert(ctx, alerting.EventPartialSubmission, "partial submission unwound",
				"symbol", ti.Symbol,
				"order_id", perr.AcceptedOrderID,
			)
		} else {
			e.alert(ctx, alerting.EventExposureUncertain, "exposure uncertain, manual check required",
				"symbol", ti.Symbol,
				"order_id", perr.AcceptedOrderID,
				"error", perr.Error(),
			)
		}

	case submit.IsConflict(err):
		e.logger.Debug("submission race lost", "dedupe_key", ti.DedupeKey, "err", err)

	default:
		e.recorder.RecordSubmission(ti.Symbol, metrics.SubmissionFailed)
		e.audit(ctx, ti, "FAILED", orderPlan.GroupID, 0, err.Error())
		e.alert(ctx, alerting.EventOrderRejected, "protective pair rejected",
			"symbol", ti.Symbol,
			"error", err.Error(),
		)
	}
}

// recoverOpenOrders adopts pairs a previous run left resting at the
// broker, so their intentions do not fire twice. Best effort: any failure
// here leaves records Pending and the operator a log line.
func (e *Engine) recoverOpenOrders(ctx context.Context) {
	if !e.gw.IsConnected() {
		e.logger.Debug("recovery skipped, gateway not connected")
		return
	}

	table, err := e.source.Fetch(ctx)
	if err != nil {
		e.logger.Warn("recovery skipped, feed unavailable", "err", err)
		return
	}
	idx, err := table.Index()
	if err != nil {
		e.logger.Warn("recovery skipped, bad header", "err", err)
		return
	}

	// Seed records so open orders have something to attach to.
	for _, row := range table.Rows {
		if !strings.EqualFold(strings.TrimSpace(feed.Cell(row, idx, "profile")), e.cfg.Profile) {
			continue
		}
		ti, err := intent.Validate(row, idx)
		if err != nil {
			continue
		}
		e.store.GetOrCreate(ti)
	}

	open, err := e.gw.OpenOrders(ctx)
	if err != nil {
		e.logger.Warn("recovery skipped, open orders unavailable", "err", err)
		return
	}

	groups := make(map[string][]int64)
	for _, o := range open {
		groups[o.GroupID] = append(groups[o.GroupID], o.OrderID)
	}

	for groupID, ids := range groups {
		profile, symbol, ok := plan.ParseGroupID(groupID)
		if !ok || !strings.EqualFold(profile, e.cfg.Profile) {
			continue
		}

		key := types.DedupeKeyFor(profile, symbol)
		if err := e.store.AdoptSubmitted(key, groupID, ids...); err != nil {
			e.logger.Debug("resting group not adopted", "group", groupID, "err", err)
			continue
		}

		e.logger.Info("adopted resting pair",
			"dedupe_key", key,
			"group", groupID,
			"orders", len(ids),
		)
	}
}

// updateStateGauges publishes per-state record counts.
func (e *Engine) updateStateGauges() {
	for _, st := range []types.IntentionState{
		types.StatePending,
		types.StateTriggered,
		types.StateSubmitting,
		types.StateSubmitted,
		types.StateFilled,
		types.StateCancelled,
		types.StateFailed,
	} {
		e.recorder.RecordIntentionState(st.String(), e.store.CountInState(st))
	}
}

// audit appends one trail record. Failures are logged, never fatal.
func (e *Engine) audit(ctx context.Context, ti types.TradeIntention, status, groupID string, orderID int64, note string) {
	if e.sink == nil {
		return
	}
	err := e.sink.Append(ctx, audit.Record{
		Timestamp: time.Now(),
		Profile:   ti.Profile,
		Symbol:    ti.Symbol,
		Quantity:  ti.Quantity(),
		Status:    status,
		GroupID:   groupID,
		OrderID:   orderID,
		Note:      note,
	})
	if err != nil {
		e.logger.Error("audit append failed", "dedupe_key", ti.DedupeKey, "err", err)
	}
}

// alert sends one notification. Failures are logged, never fatal.
func (e *Engine) alert(ctx context.Context, event alerting.AlertEvent, message string, fields ...any) {
	if e.alerter == nil {
		return
	}
	if err := e.alerter.Alert(ctx, alerting.EventSeverity(event), message, fields...); err != nil {
		e.logger.Warn("alert failed", "event", string(event), "err", err)
	}
}

func firstOrderID(ids []int64) int64 {
	if len(ids) == 0 {
		return 0
	}
	return ids[0]
}
