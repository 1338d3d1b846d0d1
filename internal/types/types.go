// Package types defines shared types used across the orchestration engine.
package types

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Action represents the direction of an order.
type Action int

const (
	ActionBuy Action = iota
	ActionSell
)

func (a Action) String() string {
	if a == ActionSell {
		return "SELL"
	}
	return "BUY"
}

// OrderKind represents the broker order type of a protective leg.
type OrderKind string

const (
	OrderKindTrailingStopLimit OrderKind = "TRAIL LIMIT"
	OrderKindStopLimit         OrderKind = "STP LMT"
)

// IntentionState represents the lifecycle state of a tracked intention.
type IntentionState int

const (
	StatePending IntentionState = iota
	StateTriggered
	StateSubmitting
	StateSubmitted
	StateFilled
	StateCancelled
	StateFailed
)

func (s IntentionState) String() string {
	switch s {
	case StatePending:
		return "PENDING"
	case StateTriggered:
		return "TRIGGERED"
	case StateSubmitting:
		return "SUBMITTING"
	case StateSubmitted:
		return "SUBMITTED"
	case StateFilled:
		return "FILLED"
	case StateCancelled:
		return "CANCELLED"
	case StateFailed:
		return "FAILED"
	default:
		return "UNKNOWN"
	}
}

// IsFinal returns true if the intention is in a terminal state.
func (s IntentionState) IsFinal() bool {
	switch s {
	case StateFilled, StateCancelled, StateFailed:
		return true
	default:
		return false
	}
}

// TriggerMode selects how an intention's activation condition is evaluated.
type TriggerMode int

const (
	// TriggerImmediate treats every instruction row as already armed.
	TriggerImmediate TriggerMode = iota
	// TriggerPriceCrossing arms an instruction only once the reference
	// price crosses its trigger price.
	TriggerPriceCrossing
)

func (m TriggerMode) String() string {
	if m == TriggerPriceCrossing {
		return "price_crossing"
	}
	return "immediate"
}

// ParseTriggerMode parses a trigger mode name from configuration.
func ParseTriggerMode(s string) (TriggerMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "immediate":
		return TriggerImmediate, nil
	case "price_crossing", "price-crossing":
		return TriggerPriceCrossing, nil
	default:
		return TriggerImmediate, fmt.Errorf("%w: unknown trigger mode %q", ErrInvalidConfig, s)
	}
}

// TradeIntention is one validated position-protection instruction.
type TradeIntention struct {
	Profile      string
	Symbol       string
	SignedQty    int64 // positive = long position to protect (sell-side plan)
	TriggerPrice decimal.Decimal
	TrailingPct  decimal.Decimal
	StopPct      decimal.Decimal
	TIF          string
	DedupeKey    string
}

// Action returns the order action both protective legs share.
func (ti TradeIntention) Action() Action {
	if ti.SignedQty > 0 {
		return ActionSell
	}
	return ActionBuy
}

// Quantity returns the absolute order quantity.
func (ti TradeIntention) Quantity() int64 {
	if ti.SignedQty < 0 {
		return -ti.SignedQty
	}
	return ti.SignedQty
}

// DedupeKeyFor builds the implicit dedupe key for a profile/symbol pair.
func DedupeKeyFor(profile, symbol string) string {
	return profile + "/" + symbol
}

// OrderDescriptor describes one protective leg as submitted to the gateway.
type OrderDescriptor struct {
	Action      Action
	Quantity    int64
	Kind        OrderKind
	AuxPrice    decimal.Decimal // trailing amount (trail leg) or stop price (stop leg)
	LimitPrice  decimal.Decimal // stop leg only
	LimitOffset decimal.Decimal // trail leg only
	TIF         string
	GroupID     string
}

// OrderPlan is a pair of mutually exclusive protective legs sharing one
// OCA group. A plan exists only once its intention has triggered.
type OrderPlan struct {
	GroupID  string
	Symbol   string
	LegTrail OrderDescriptor
	LegStop  OrderDescriptor
}

// IntentionRecord is the store's view of one intention. The store owns the
// record; callers receive copies.
type IntentionRecord struct {
	ID        string
	Intention TradeIntention
	State     IntentionState
	GroupID   string
	OrderIDs  []int64
	LastError string
	UpdatedAt time.Time
}
