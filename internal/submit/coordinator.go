// Package submit coordinates two-phase submission of protective order
// pairs. Both legs must rest at the broker or neither may.
package submit

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/tathienbao/trailbot/internal/gateway"
	"github.com/tathienbao/trailbot/internal/store"
	"github.com/tathienbao/trailbot/internal/types"
)

// DefaultOrderTimeout bounds each individual gateway call.
const DefaultOrderTimeout = 10 * time.Second

// Coordinator submits order plans leg by leg and unwinds on partial
// failure. It never holds the store lock across a gateway call.
type Coordinator struct {
	store   *store.Store
	gw      gateway.Gateway
	timeout time.Duration
	logger  *slog.Logger
}

// New creates a coordinator.
func New(st *store.Store, gw gateway.Gateway, timeout time.Duration, logger *slog.Logger) *Coordinator {
	if timeout <= 0 {
		timeout = DefaultOrderTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Coordinator{
		store:   st,
		gw:      gw,
		timeout: timeout,
		logger:  logger,
	}
}

// Submit places both legs of a plan for the record at key. The record must
// be Triggered; the Submitting latch makes concurrent submissions for the
// same key collapse to one.
//
// Failure handling:
//   - first leg rejected: nothing rests at the broker, record goes Failed.
//   - second leg rejected: the accepted first leg is cancelled. If the
//     cancel is also rejected the returned *types.PartialSubmissionError
//     has ExposureResolved false and the position needs a manual check.
func (c *Coordinator) Submit(ctx context.Context, key string, plan types.OrderPlan) error {
	if err := c.store.Transition(key, types.StateTriggered, types.StateSubmitting); err != nil {
		return err
	}

	// Once the latch is taken the pair must reach the broker whole, even
	// when the run context is cancelled for shutdown mid-pair. Only the
	// per-leg timeout bounds the placements from here.
	ctx = context.WithoutCancel(ctx)

	contract := gateway.StockContract(plan.Symbol)

	trailID := c.gw.NextOrderID()
	if err := c.placeLeg(ctx, trailID, contract, plan.LegTrail); err != nil {
		c.store.SetError(key, types.StateFailed, err.Error())
		c.logger.Error("first leg rejected",
			"dedupe_key", key,
			"order_id", trailID,
			"err", err,
		)
		return fmt.Errorf("trail leg: %w", err)
	}

	stopID := c.gw.NextOrderID()
	if err := c.placeLeg(ctx, stopID, contract, plan.LegStop); err != nil {
		return c.compensate(key, trailID, err)
	}

	if err := c.store.AttachOrders(key, plan.GroupID, trailID, stopID); err != nil {
		c.logger.Warn("record vanished after submission", "dedupe_key", key, "err", err)
	}
	if err := c.store.Transition(key, types.StateSubmitting, types.StateSubmitted); err != nil {
		c.logger.Warn("record not in Submitting after submission", "dedupe_key", key, "err", err)
	}

	c.logger.Info("protective pair submitted",
		"dedupe_key", key,
		"symbol", plan.Symbol,
		"group", plan.GroupID,
		"trail_order_id", trailID,
		"stop_order_id", stopID,
	)
	return nil
}

// placeLeg places one leg with a per-call timeout.
func (c *Coordinator) placeLeg(ctx context.Context, orderID int64, contract gateway.Contract, leg types.OrderDescriptor) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	return c.gw.PlaceOrder(ctx, orderID, contract, leg)
}

// compensate cancels the accepted first leg after the second was rejected.
// The cancel uses a fresh context so an expired submission context cannot
// leave the leg resting.
func (c *Coordinator) compensate(key string, acceptedID int64, legErr error) error {
	ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
	defer cancel()

	cancelErr := c.gw.CancelOrder(ctx, acceptedID)

	perr := &types.PartialSubmissionError{
		DedupeKey:        key,
		AcceptedOrderID:  acceptedID,
		LegErr:           legErr,
		CancelErr:        cancelErr,
		ExposureResolved: cancelErr == nil,
	}
	c.store.SetError(key, types.StateFailed, perr.Error())

	if perr.ExposureResolved {
		c.logger.Warn("second leg rejected, first leg cancelled",
			"dedupe_key", key,
			"order_id", acceptedID,
			"err", legErr,
		)
	} else {
		c.logger.Error("second leg rejected and cancel failed, exposure uncertain",
			"dedupe_key", key,
			"order_id", acceptedID,
			"leg_err", legErr,
			"cancel_err", cancelErr,
		)
	}
	return perr
}

// IsConflict reports whether err is a lost-latch conflict rather than a
// submission failure.
func IsConflict(err error) bool {
	var ce *types.ConflictError
	return errors.As(err, &ce)
}
