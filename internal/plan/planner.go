// Package plan derives the two-leg protective order plan for a triggered
// intention. Derivation is pure apart from group id generation.
package plan

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/tathienbao/trailbot/internal/types"
)

var hundred = decimal.NewFromInt(100)

// Build computes the protective pair for an intention against a reference
// price. Pass the intention's own trigger price as ref when no live tick is
// available. Returns *types.PlanRejectedError when the sanity gate fails.
func Build(ti types.TradeIntention, ref decimal.Decimal) (types.OrderPlan, error) {
	trailAmt := ref.Mul(ti.TrailingPct).Div(hundred)
	stopDelta := ref.Mul(ti.StopPct).Div(hundred)

	var stopPrice, limitOffset decimal.Decimal
	switch ti.Action() {
	case types.ActionSell:
		// Long position: the stop must sit below the reference and the
		// trigger must not lag it.
		stopPrice = ref.Sub(stopDelta)
		if stopPrice.GreaterThanOrEqual(ref) {
			return types.OrderPlan{}, &types.PlanRejectedError{
				Symbol: ti.Symbol,
				Reason: fmt.Sprintf("stop price %s not below reference %s", stopPrice, ref),
			}
		}
		if ti.TriggerPrice.LessThan(ref) {
			return types.OrderPlan{}, &types.PlanRejectedError{
				Symbol: ti.Symbol,
				Reason: fmt.Sprintf("trigger price %s below reference %s", ti.TriggerPrice, ref),
			}
		}
		limitOffset = ti.TriggerPrice.Sub(trailAmt).Sub(stopPrice).Round(2)

	default: // types.ActionBuy
		stopPrice = ref.Add(stopDelta)
		if stopPrice.LessThanOrEqual(ref) {
			return types.OrderPlan{}, &types.PlanRejectedError{
				Symbol: ti.Symbol,
				Reason: fmt.Sprintf("stop price %s not above reference %s", stopPrice, ref),
			}
		}
		if ti.TriggerPrice.GreaterThan(ref) {
			return types.OrderPlan{}, &types.PlanRejectedError{
				Symbol: ti.Symbol,
				Reason: fmt.Sprintf("trigger price %s above reference %s", ti.TriggerPrice, ref),
			}
		}
		limitOffset = trailAmt.Add(stopPrice).Sub(ti.TriggerPrice).Round(2)
	}

	group := NewGroupID(ti.Profile, ti.Symbol)
	action := ti.Action()
	qty := ti.Quantity()

	trail := types.OrderDescriptor{
		Action:      action,
		Quantity:    qty,
		Kind:        types.OrderKindTrailingStopLimit,
		AuxPrice:    trailAmt.Round(2),
		LimitOffset: limitOffset,
		TIF:         ti.TIF,
		GroupID:     group,
	}

	stop := types.OrderDescriptor{
		Action:     action,
		Quantity:   qty,
		Kind:       types.OrderKindStopLimit,
		AuxPrice:   stopPrice.Round(2),
		LimitPrice: stopPrice.Round(2),
		TIF:        ti.TIF,
		GroupID:    group,
	}

	return types.OrderPlan{
		GroupID:  group,
		Symbol:   ti.Symbol,
		LegTrail: trail,
		LegStop:  stop,
	}, nil
}

// NewGroupID generates a fresh OCA group id. The unix timestamp keeps ids
// readable in broker UIs; the uuid suffix tolerates clock coarseness.
func NewGroupID(profile, symbol string) string {
	return fmt.Sprintf("OCA_%s_%s_%d_%s",
		profile, symbol, time.Now().Unix(), uuid.NewString()[:8])
}

// ParseGroupID recovers the profile and symbol from a group id produced by
// NewGroupID. Profiles may contain underscores; the symbol, timestamp and
// random suffix never do.
func ParseGroupID(group string) (profile, symbol string, ok bool) {
	parts := strings.Split(group, "_")
	if len(parts) < 5 || parts[0] != "OCA" {
		return "", "", false
	}
	symbol = parts[len(parts)-3]
	profile = strings.Join(parts[1:len(parts)-3], "_")
	if profile == "" || symbol == "" {
		return "", "", false
	}
	return profile, symbol, true
}
