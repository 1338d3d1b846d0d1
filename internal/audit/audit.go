// Package audit records order lifecycle outcomes in a durable trail.
package audit

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// Record is one audit trail entry.
type Record struct {
	Timestamp time.Time
	Profile   string
	Symbol    string
	Quantity  int64
	Status    string
	GroupID   string
	OrderID   int64
	Price     decimal.Decimal
	Note      string
}

// Sink appends audit records. Append failures are logged by callers and
// never block order handling.
type Sink interface {
	Append(ctx context.Context, rec Record) error
	Close() error
}
