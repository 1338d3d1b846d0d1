// Package trigger decides whether an intention's activation condition has
// fired. Evaluation is pure; the state store latches the result.
package trigger

import (
	"github.com/shopspring/decimal"
	"github.com/tathienbao/trailbot/internal/types"
)

// Sample is one price/condition observation for a symbol. HasPrice is false
// when no live tick is available for the cycle.
type Sample struct {
	Price    decimal.Decimal
	HasPrice bool
}

// Evaluator evaluates activation conditions under a fixed trigger mode.
// The mode is a property of the instruction source, not of individual rows.
type Evaluator struct {
	mode types.TriggerMode
}

// NewEvaluator creates an evaluator for the given mode.
func NewEvaluator(mode types.TriggerMode) *Evaluator {
	return &Evaluator{mode: mode}
}

// Mode returns the configured trigger mode.
func (e *Evaluator) Mode() types.TriggerMode {
	return e.mode
}

// ShouldFire reports whether the intention's activation condition holds for
// the given sample. It never mutates state: the caller performs the
// Pending -> Triggered transition under the store's lock, which is what
// latches the decision against later samples.
func (e *Evaluator) ShouldFire(ti types.TradeIntention, sample Sample) bool {
	if e.mode == types.TriggerImmediate {
		return true
	}

	if !sample.HasPrice {
		return false
	}

	// Sell-side plans protect long positions: fire once price rises
	// through the trigger. Buy-side mirrors below the trigger.
	if ti.Action() == types.ActionSell {
		return sample.Price.GreaterThan(ti.TriggerPrice)
	}
	return sample.Price.LessThan(ti.TriggerPrice)
}
