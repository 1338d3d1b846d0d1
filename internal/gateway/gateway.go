// Package gateway provides order gateway connectivity for the engine.
package gateway

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
	"github.com/tathienbao/trailbot/internal/types"
)

// ConnectionState represents the gateway connection state.
type ConnectionState int

const (
	StateDisconnected ConnectionState = iota
	StateConnecting
	StateConnected
	StateError
)

func (s ConnectionState) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateError:
		return "error"
	default:
		return "unknown"
	}
}

// OrderStatus is a gateway-reported order state.
type OrderStatus string

const (
	StatusSubmitted OrderStatus = "Submitted"
	StatusFilled    OrderStatus = "Filled"
	StatusCancelled OrderStatus = "Cancelled"
	StatusRejected  OrderStatus = "Rejected"
)

// IsTerminal reports whether no further transitions follow this status.
func (s OrderStatus) IsTerminal() bool {
	return s == StatusFilled || s == StatusCancelled || s == StatusRejected
}

// OrderEvent is one asynchronous status notification from the gateway.
type OrderEvent struct {
	OrderID      int64
	Status       OrderStatus
	FilledQty    int64
	AvgFillPrice decimal.Decimal
	Timestamp    time.Time
}

// OpenOrder is one currently-open order as reported by the gateway,
// used by the startup reconciliation pass.
type OpenOrder struct {
	OrderID int64
	Symbol  string
	GroupID string
	Status  OrderStatus
}

// Contract identifies the instrument an order trades.
type Contract struct {
	Symbol   string
	SecType  string
	Exchange string
	Currency string
}

// StockContract returns the SMART-routed US stock contract for a symbol.
func StockContract(symbol string) Contract {
	return Contract{
		Symbol:   symbol,
		SecType:  "STK",
		Exchange: "SMART",
		Currency: "USD",
	}
}

// Gateway defines the interface to the brokerage. Order ids are
// caller-assigned: NextOrderID increments a counter seeded at connect time.
type Gateway interface {
	// Connection management
	Connect(ctx context.Context) error
	Disconnect() error
	State() ConnectionState
	IsConnected() bool

	// Order id assignment
	NextOrderID() int64

	// Order execution. PlaceOrder and CancelOrder return synchronously
	// (accepted or error); fills arrive later on Events.
	PlaceOrder(ctx context.Context, orderID int64, contract Contract, leg types.OrderDescriptor) error
	CancelOrder(ctx context.Context, orderID int64) error
	OpenOrders(ctx context.Context) ([]OpenOrder, error)

	// Events returns the inbound order-status stream. The channel is
	// bounded; it is consumed exclusively by the reconciler.
	Events() <-chan OrderEvent

	// WatchSymbol starts streaming trade prices for a symbol so that
	// LastPrice has data. Watching an already-watched symbol is a no-op.
	WatchSymbol(symbol string) error

	// LastPrice returns the most recent trade price seen for a symbol,
	// if any. Serves the trigger evaluator's price samples.
	LastPrice(symbol string) (decimal.Decimal, bool)
}
