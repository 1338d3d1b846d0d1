package types

import (
	"errors"
	"fmt"
)

// Sentinel errors for the orchestration engine.
var (
	// Feed errors
	ErrFeedUnavailable = errors.New("instruction feed unavailable")
	ErrMissingColumns  = errors.New("instruction feed missing required columns")

	// Gateway errors
	ErrNotConnected   = errors.New("gateway not connected")
	ErrConnectTimeout = errors.New("gateway connection timeout")
	ErrOrderRejected  = errors.New("order rejected by gateway")

	// Validation errors
	ErrInvalidConfig = errors.New("invalid configuration")
)

// ValidationError reports a malformed instruction row. The offending row is
// skipped; the cycle continues.
type ValidationError struct {
	Field  string
	Value  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s %q: %s", e.Field, e.Value, e.Reason)
}

// FeedError reports a feed-level failure (unreachable source, malformed
// header). The whole cycle aborts without mutating any record.
type FeedError struct {
	Op  string
	Err error
}

func (e *FeedError) Error() string {
	return fmt.Sprintf("feed %s: %v", e.Op, e.Err)
}

func (e *FeedError) Unwrap() error { return e.Err }

// PlanRejectedError reports that the planner's sanity inequality failed.
// The intention is marked Failed and not retried without operator action.
type PlanRejectedError struct {
	Symbol string
	Reason string
}

func (e *PlanRejectedError) Error() string {
	return fmt.Sprintf("plan rejected for %s: %s", e.Symbol, e.Reason)
}

// ConflictError reports a transition attempted from an unexpected state.
// The offending operation is dropped, not retried.
type ConflictError struct {
	DedupeKey string
	Expected  IntentionState
	Actual    IntentionState
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("conflict on %s: expected %s, record is %s",
		e.DedupeKey, e.Expected, e.Actual)
}

// PartialSubmissionError reports that the second leg failed after the first
// was accepted. ExposureResolved is true only when the compensating cancel
// of the first leg was accepted by the gateway.
type PartialSubmissionError struct {
	DedupeKey        string
	AcceptedOrderID  int64
	LegErr           error
	CancelErr        error
	ExposureResolved bool
}

func (e *PartialSubmissionError) Error() string {
	if e.ExposureResolved {
		return fmt.Sprintf("partial submission on %s: second leg failed (%v), leg %d cancelled, exposure resolved",
			e.DedupeKey, e.LegErr, e.AcceptedOrderID)
	}
	return fmt.Sprintf("partial submission on %s: second leg failed (%v), cancel of leg %d failed (%v), exposure uncertain, manual check required",
		e.DedupeKey, e.LegErr, e.AcceptedOrderID, e.CancelErr)
}

func (e *PartialSubmissionError) Unwrap() error { return e.LegErr }
