// Package paper provides a simulated order gateway for offline runs and
// tests.
package paper

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"
	"github.com/tathienbao/trailbot/internal/gateway"
	"github.com/tathienbao/trailbot/internal/types"
)

// Config holds paper gateway configuration.
type Config struct {
	// OrderIDSeed is the first caller-assigned order id handed out.
	OrderIDSeed int64
	// EventBuffer bounds the order-status event queue.
	EventBuffer int
}

// DefaultConfig returns default paper gateway config.
func DefaultConfig() Config {
	return Config{
		OrderIDSeed: 1000,
		EventBuffer: 256,
	}
}

// placedOrder is one accepted order held by the simulator.
type placedOrder struct {
	id       int64
	contract gateway.Contract
	leg      types.OrderDescriptor
	status   gateway.OrderStatus
}

// Gateway implements gateway.Gateway entirely in memory. Failures can be
// scripted per call index to exercise the compensating paths.
type Gateway struct {
	cfg    Config
	logger *slog.Logger

	state       atomic.Int32
	nextOrderID atomic.Int64

	mu         sync.Mutex
	orders     map[int64]*placedOrder
	placeCalls int
	failPlace  map[int]error // call index (1-based) -> error
	failCancel error
	cancelled  []int64
	prices     map[string]decimal.Decimal

	events chan gateway.OrderEvent
}

// New creates a paper gateway.
func New(cfg Config, logger *slog.Logger) *Gateway {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.EventBuffer <= 0 {
		cfg.EventBuffer = 256
	}

	g := &Gateway{
		cfg:       cfg,
		logger:    logger,
		orders:    make(map[int64]*placedOrder),
		failPlace: make(map[int]error),
		prices:    make(map[string]decimal.Decimal),
		events:    make(chan gateway.OrderEvent, cfg.EventBuffer),
	}
	g.state.Store(int32(gateway.StateDisconnected))
	return g
}

// Connect simulates connecting and seeds the order id counter.
func (g *Gateway) Connect(_ context.Context) error {
	g.nextOrderID.Store(g.cfg.OrderIDSeed)
	g.state.Store(int32(gateway.StateConnected))
	g.logger.Info("paper gateway connected", "order_id_seed", g.cfg.OrderIDSeed)
	return nil
}

// Disconnect simulates disconnecting.
func (g *Gateway) Disconnect() error {
	g.state.Store(int32(gateway.StateDisconnected))
	g.logger.Info("paper gateway disconnected")
	return nil
}

// State returns the connection state.
func (g *Gateway) State() gateway.ConnectionState {
	return gateway.ConnectionState(g.state.Load())
}

// IsConnected returns true if connected.
func (g *Gateway) IsConnected() bool {
	return g.State() == gateway.StateConnected
}

// NextOrderID hands out the next caller-assigned order id.
func (g *Gateway) NextOrderID() int64 {
	return g.nextOrderID.Add(1)
}

// PlaceOrder accepts or rejects an order per the scripted failures.
func (g *Gateway) PlaceOrder(ctx context.Context, orderID int64, contract gateway.Contract, leg types.OrderDescriptor) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if !g.IsConnected() {
		return types.ErrNotConnected
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	g.placeCalls++
	if err, ok := g.failPlace[g.placeCalls]; ok {
		return err
	}

	g.orders[orderID] = &placedOrder{
		id:       orderID,
		contract: contract,
		leg:      leg,
		status:   gateway.StatusSubmitted,
	}

	g.logger.Debug("paper order accepted",
		"order_id", orderID,
		"symbol", contract.Symbol,
		"kind", string(leg.Kind),
		"group", leg.GroupID,
	)
	return nil
}

// CancelOrder cancels an accepted order.
func (g *Gateway) CancelOrder(ctx context.Context, orderID int64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if !g.IsConnected() {
		return types.ErrNotConnected
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	if g.failCancel != nil {
		return g.failCancel
	}

	order, ok := g.orders[orderID]
	if !ok {
		return fmt.Errorf("%w: unknown order %d", types.ErrOrderRejected, orderID)
	}
	order.status = gateway.StatusCancelled
	g.cancelled = append(g.cancelled, orderID)
	return nil
}

// OpenOrders returns orders still in Submitted state.
func (g *Gateway) OpenOrders(_ context.Context) ([]gateway.OpenOrder, error) {
	if !g.IsConnected() {
		return nil, types.ErrNotConnected
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	var out []gateway.OpenOrder
	for _, o := range g.orders {
		if o.status == gateway.StatusSubmitted {
			out = append(out, gateway.OpenOrder{
				OrderID: o.id,
				Symbol:  o.contract.Symbol,
				GroupID: o.leg.GroupID,
				Status:  o.status,
			})
		}
	}
	return out, nil
}

// Events returns the simulated order-status stream.
func (g *Gateway) Events() <-chan gateway.OrderEvent {
	return g.events
}

// WatchSymbol is a no-op; scripted prices are always visible.
func (g *Gateway) WatchSymbol(string) error {
	return nil
}

// LastPrice returns the scripted last price for a symbol.
func (g *Gateway) LastPrice(symbol string) (decimal.Decimal, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	p, ok := g.prices[symbol]
	return p, ok
}

// SetLastPrice scripts the last-trade price for a symbol.
func (g *Gateway) SetLastPrice(symbol string, price decimal.Decimal) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.prices[symbol] = price
}

// FailPlaceCall makes the n-th PlaceOrder call (1-based) fail with err.
func (g *Gateway) FailPlaceCall(n int, err error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.failPlace[n] = err
}

// FailCancel makes every CancelOrder call fail with err.
func (g *Gateway) FailCancel(err error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.failCancel = err
}

// EmitEvent pushes a scripted order-status event.
func (g *Gateway) EmitEvent(ev gateway.OrderEvent) {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}
	g.events <- ev
}

// Fill marks an order filled and emits the matching event.
func (g *Gateway) Fill(orderID int64, qty int64, price decimal.Decimal) {
	g.mu.Lock()
	if o, ok := g.orders[orderID]; ok {
		o.status = gateway.StatusFilled
	}
	g.mu.Unlock()

	g.EmitEvent(gateway.OrderEvent{
		OrderID:      orderID,
		Status:       gateway.StatusFilled,
		FilledQty:    qty,
		AvgFillPrice: price,
	})
}

// PlaceCalls returns how many PlaceOrder calls were made.
func (g *Gateway) PlaceCalls() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.placeCalls
}

// Cancelled returns the order ids cancelled so far.
func (g *Gateway) Cancelled() []int64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]int64(nil), g.cancelled...)
}

// Orders returns a copy of the accepted order legs keyed by id.
func (g *Gateway) Orders() map[int64]types.OrderDescriptor {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make(map[int64]types.OrderDescriptor, len(g.orders))
	for id, o := range g.orders {
		out[id] = o.leg
	}
	return out
}

// Ensure Gateway implements gateway.Gateway
var _ gateway.Gateway = (*Gateway)(nil)
