package ibkr

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"
	"github.com/tathienbao/trailbot/internal/gateway"
	"github.com/tathienbao/trailbot/internal/types"
	"golang.org/x/time/rate"
)

// IB API message IDs.
const (
	msgTickPrice    = 1
	msgOrderStatus  = 3
	msgErrMsg       = 4
	msgOpenOrder    = 5
	msgNextValidID  = 9
	msgOpenOrderEnd = 53
)

// Client implements the gateway.Gateway interface for IBKR TWS/Gateway.
type Client struct {
	cfg    Config
	logger *slog.Logger

	// Connection
	conn        net.Conn
	state       atomic.Int32
	stateMu     sync.Mutex
	lastError   error
	connectedAt time.Time

	// Rate limiting
	limiter *rate.Limiter

	// Caller-assigned order ids, seeded by nextValidId at connect
	nextOrderID atomic.Int64
	seedCh      chan int64

	// Market data watches
	nextTickerID atomic.Int64
	watchMu      sync.RWMutex
	watched      map[string]int64 // symbol -> ticker id
	tickers      map[int64]string // ticker id -> symbol
	prices       map[string]decimal.Decimal

	// Open orders
	openMu  sync.Mutex
	open    map[int64]gateway.OpenOrder
	openEnd chan struct{}

	// Order status events, consumed by the reconciler
	events chan gateway.OrderEvent

	// Shutdown
	done chan struct{}
	wg   sync.WaitGroup
}

// NewClient creates a new IBKR client.
func NewClient(cfg Config, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.EventBuffer <= 0 {
		cfg.EventBuffer = 256
	}

	c := &Client{
		cfg:     cfg,
		logger:  logger,
		limiter: rate.NewLimiter(rate.Limit(cfg.MaxRequestsPerSecond), cfg.MaxRequestsPerSecond),
		seedCh:  make(chan int64, 1),
		watched: make(map[string]int64),
		tickers: make(map[int64]string),
		prices:  make(map[string]decimal.Decimal),
		open:    make(map[int64]gateway.OpenOrder),
		events:  make(chan gateway.OrderEvent, cfg.EventBuffer),
		done:    make(chan struct{}),
	}

	c.state.Store(int32(gateway.StateDisconnected))
	c.nextTickerID.Store(1)

	return c
}

// Connect establishes the connection to TWS/Gateway and waits for the
// nextValidId seed so caller-assigned order ids start where the broker
// expects them.
func (c *Client) Connect(ctx context.Context) error {
	c.stateMu.Lock()
	defer c.stateMu.Unlock()

	if c.State() == gateway.StateConnected {
		return nil
	}

	c.state.Store(int32(gateway.StateConnecting))

	c.logger.Info("connecting to IBKR",
		"host", c.cfg.Host,
		"port", c.cfg.Port,
		"client_id", c.cfg.ClientID,
	)

	addr := fmt.Sprintf("%s:%d", c.cfg.Host, c.cfg.Port)
	dialer := net.Dialer{Timeout: c.cfg.ConnectTimeout}

	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		c.state.Store(int32(gateway.StateError))
		c.lastError = fmt.Errorf("dial: %w", err)
		return fmt.Errorf("%w: %v", types.ErrConnectTimeout, err)
	}

	c.conn = conn
	c.connectedAt = time.Now()

	if err := c.handshake(); err != nil {
		_ = conn.Close()
		c.state.Store(int32(gateway.StateError))
		c.lastError = err
		return fmt.Errorf("handshake: %w", err)
	}

	c.state.Store(int32(gateway.StateConnected))

	c.wg.Add(1)
	go c.readLoop()

	// Block until the broker hands out its next valid order id. Placing
	// an order with a stale id is silently dropped by TWS.
	select {
	case seed := <-c.seedCh:
		c.nextOrderID.Store(seed - 1)
		c.logger.Info("order id seed received", "seed", seed)
	case <-time.After(c.cfg.ConnectTimeout):
		_ = conn.Close()
		c.state.Store(int32(gateway.StateError))
		return fmt.Errorf("%w: no nextValidId from broker", types.ErrConnectTimeout)
	case <-ctx.Done():
		_ = conn.Close()
		c.state.Store(int32(gateway.StateError))
		return ctx.Err()
	}

	c.logger.Info("connected to IBKR", "connected_at", c.connectedAt)
	return nil
}

// handshake performs the IB API v100+ connection handshake.
func (c *Client) handshake() error {
	handshake := []byte("API\x00")
	versionStr := fmt.Sprintf("v%d..%d", 100, 151)
	handshake = append(handshake, []byte(versionStr)...)
	handshake = append(handshake, 0)

	if _, err := c.conn.Write(handshake); err != nil {
		return fmt.Errorf("write handshake: %w", err)
	}

	buf := make([]byte, 1024)
	_ = c.conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	n, err := c.conn.Read(buf)
	_ = c.conn.SetReadDeadline(time.Time{})

	if err != nil {
		return fmt.Errorf("read handshake response: %w", err)
	}

	c.logger.Debug("handshake response", "bytes", n)

	startAPI := c.buildStartAPIMessage(c.cfg.ClientID)
	if _, err := c.conn.Write(startAPI); err != nil {
		return fmt.Errorf("write startAPI: %w", err)
	}

	return nil
}

// buildStartAPIMessage creates the startAPI message.
func (c *Client) buildStartAPIMessage(clientID int) []byte {
	msg := fmt.Sprintf("71\x002\x00%d\x00", clientID)
	return frame(msg)
}

// frame prepends the 4-byte big-endian size prefix.
func frame(msg string) []byte {
	size := len(msg)
	out := make([]byte, 4+size)
	out[0] = byte(size >> 24)
	out[1] = byte(size >> 16)
	out[2] = byte(size >> 8)
	out[3] = byte(size)
	copy(out[4:], msg)
	return out
}

// readLoop reads messages from the connection.
func (c *Client) readLoop() {
	defer c.wg.Done()

	buf := make([]byte, 65536)
	for {
		select {
		case <-c.done:
			return
		default:
		}

		_ = c.conn.SetReadDeadline(time.Now().Add(100 * time.Millisecond))
		n, err := c.conn.Read(buf)
		if err != nil {
			if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
				continue
			}
			c.logger.Error("read error", "err", err)
			c.handleDisconnect()
			return
		}

		if n > 0 {
			c.processMessage(buf[:n])
		}
	}
}

// processMessage dispatches one incoming message. IB API fields are
// null-delimited.
func (c *Client) processMessage(data []byte) {
	fields := bytes.Split(data, []byte{0})
	if len(fields) < 2 {
		c.logger.Debug("received incomplete message", "size", len(data))
		return
	}

	msgID, err := strconv.Atoi(string(fields[0]))
	if err != nil {
		c.logger.Debug("invalid message ID", "data", string(fields[0]))
		return
	}

	switch msgID {
	case msgTickPrice:
		c.handleTickPrice(fields)
	case msgOrderStatus:
		c.handleOrderStatus(fields)
	case msgErrMsg:
		c.handleErrMsg(fields)
	case msgOpenOrder:
		c.handleOpenOrder(fields)
	case msgNextValidID:
		c.handleNextValidID(fields)
	case msgOpenOrderEnd:
		c.handleOpenOrderEnd()
	default:
		c.logger.Debug("unhandled message type", "msg_id", msgID)
	}
}

// handleNextValidID seeds the caller-assigned order id counter.
func (c *Client) handleNextValidID(fields [][]byte) {
	// Format: msgID, version, orderID
	if len(fields) < 3 {
		return
	}

	seed, err := strconv.ParseInt(string(fields[2]), 10, 64)
	if err != nil {
		return
	}

	select {
	case c.seedCh <- seed:
	default:
		// Broker re-announced the seed mid-session; keep the counter
		// only if it would move forward.
		for {
			cur := c.nextOrderID.Load()
			if seed-1 <= cur || c.nextOrderID.CompareAndSwap(cur, seed-1) {
				break
			}
		}
	}
}

// handleTickPrice records last-trade prices for watched symbols.
func (c *Client) handleTickPrice(fields [][]byte) {
	// Format: msgID, version, tickerID, tickType, price, size, attribs
	if len(fields) < 5 {
		return
	}

	tickerID, _ := strconv.ParseInt(string(fields[2]), 10, 64)
	tickType, _ := strconv.Atoi(string(fields[3]))

	// tickType 4 = last trade
	if tickType != 4 {
		return
	}

	price, err := decimal.NewFromString(string(fields[4]))
	if err != nil {
		return
	}

	c.watchMu.Lock()
	symbol, ok := c.tickers[tickerID]
	if ok {
		c.prices[symbol] = price
	}
	c.watchMu.Unlock()
}

// handleOrderStatus publishes an order event for the reconciler.
func (c *Client) handleOrderStatus(fields [][]byte) {
	// Format: msgID, orderID, status, filled, remaining, avgFillPrice, ...
	if len(fields) < 6 {
		return
	}

	orderID, err := strconv.ParseInt(string(fields[1]), 10, 64)
	if err != nil {
		return
	}

	status := string(fields[2])
	filled, _ := strconv.ParseInt(string(fields[3]), 10, 64)
	avgPrice, _ := decimal.NewFromString(string(fields[5]))

	var mapped gateway.OrderStatus
	switch status {
	case "Filled":
		mapped = gateway.StatusFilled
	case "Cancelled", "ApiCancelled":
		mapped = gateway.StatusCancelled
	case "Inactive":
		mapped = gateway.StatusRejected
	case "Submitted", "PreSubmitted":
		mapped = gateway.StatusSubmitted
	default:
		c.logger.Debug("ignoring order status", "order_id", orderID, "status", status)
		return
	}

	if mapped.IsTerminal() {
		c.openMu.Lock()
		delete(c.open, orderID)
		c.openMu.Unlock()
	}

	c.publishEvent(gateway.OrderEvent{
		OrderID:      orderID,
		Status:       mapped,
		FilledQty:    filled,
		AvgFillPrice: avgPrice,
		Timestamp:    time.Now(),
	})
}

// handleErrMsg logs broker errors and publishes rejections for orders.
func (c *Client) handleErrMsg(fields [][]byte) {
	// Format: msgID, version, reqID, errorCode, errorString
	if len(fields) < 5 {
		return
	}

	reqID, _ := strconv.ParseInt(string(fields[2]), 10, 64)
	code := string(fields[3])
	text := string(fields[4])

	c.logger.Error("broker error", "req_id", reqID, "code", code, "text", text)

	// reqID > 0 ties the error to an order we placed.
	if reqID > 0 {
		c.publishEvent(gateway.OrderEvent{
			OrderID:   reqID,
			Status:    gateway.StatusRejected,
			Timestamp: time.Now(),
		})
	}
}

// handleOpenOrder records one row of an open-orders snapshot.
func (c *Client) handleOpenOrder(fields [][]byte) {
	// Format: msgID, orderID, symbol, ocaGroup, status
	if len(fields) < 5 {
		return
	}

	orderID, err := strconv.ParseInt(string(fields[1]), 10, 64)
	if err != nil {
		return
	}

	c.openMu.Lock()
	c.open[orderID] = gateway.OpenOrder{
		OrderID: orderID,
		Symbol:  string(fields[2]),
		GroupID: string(fields[3]),
		Status:  gateway.OrderStatus(string(fields[4])),
	}
	c.openMu.Unlock()
}

// handleOpenOrderEnd completes a pending OpenOrders call.
func (c *Client) handleOpenOrderEnd() {
	c.openMu.Lock()
	if c.openEnd != nil {
		close(c.openEnd)
		c.openEnd = nil
	}
	c.openMu.Unlock()
}

// publishEvent pushes an event onto the bounded queue. A full queue drops
// the event rather than blocking the read loop.
func (c *Client) publishEvent(ev gateway.OrderEvent) {
	select {
	case c.events <- ev:
	default:
		c.logger.Warn("event queue full, dropping",
			"order_id", ev.OrderID,
			"status", string(ev.Status),
		)
	}
}

// handleDisconnect handles connection loss.
func (c *Client) handleDisconnect() {
	c.stateMu.Lock()
	defer c.stateMu.Unlock()

	if c.State() == gateway.StateDisconnected {
		return
	}

	c.state.Store(int32(gateway.StateDisconnected))
	c.logger.Warn("disconnected from IBKR")

	if c.cfg.AutoReconnect {
		go c.reconnectLoop()
	}
}

// reconnectLoop attempts to reconnect a bounded number of times. On
// exhaustion the client stays disconnected; the engine halts new
// submissions while IsConnected is false.
func (c *Client) reconnectLoop() {
	for i := 0; i < c.cfg.MaxReconnectTries; i++ {
		select {
		case <-c.done:
			return
		case <-time.After(c.cfg.ReconnectInterval):
		}

		c.logger.Info("attempting reconnect", "attempt", i+1)

		ctx, cancel := context.WithTimeout(context.Background(), c.cfg.ConnectTimeout)
		err := c.Connect(ctx)
		cancel()

		if err == nil {
			c.logger.Info("reconnected successfully")
			c.rewatch()
			return
		}

		c.logger.Warn("reconnect failed", "err", err)
	}

	c.logger.Error("max reconnect attempts reached, submissions halted")
}

// rewatch re-sends market data requests after a reconnect.
func (c *Client) rewatch() {
	c.watchMu.RLock()
	symbols := make(map[string]int64, len(c.watched))
	for sym, id := range c.watched {
		symbols[sym] = id
	}
	c.watchMu.RUnlock()

	for sym, id := range symbols {
		if err := c.requestMarketData(id, sym); err != nil {
			c.logger.Warn("rewatch failed", "symbol", sym, "err", err)
		}
	}
}

// sendMessage rate-limits, frames and writes one message.
func (c *Client) sendMessage(ctx context.Context, msg string) error {
	if c.State() != gateway.StateConnected {
		return types.ErrNotConnected
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit: %w", err)
	}

	_, err := c.conn.Write(frame(msg))
	return err
}

// Disconnect closes the connection.
func (c *Client) Disconnect() error {
	c.stateMu.Lock()
	defer c.stateMu.Unlock()

	if c.State() == gateway.StateDisconnected {
		return nil
	}

	close(c.done)

	if c.conn != nil {
		_ = c.conn.Close()
	}

	c.wg.Wait()
	c.state.Store(int32(gateway.StateDisconnected))

	c.logger.Info("disconnected from IBKR")
	return nil
}

// State returns the current connection state.
func (c *Client) State() gateway.ConnectionState {
	return gateway.ConnectionState(c.state.Load())
}

// IsConnected returns true if connected.
func (c *Client) IsConnected() bool {
	return c.State() == gateway.StateConnected
}

// NextOrderID hands out the next caller-assigned order id.
func (c *Client) NextOrderID() int64 {
	return c.nextOrderID.Add(1)
}

// PlaceOrder submits one protective leg.
func (c *Client) PlaceOrder(ctx context.Context, orderID int64, contract gateway.Contract, leg types.OrderDescriptor) error {
	if !c.IsConnected() {
		return types.ErrNotConnected
	}

	msg := c.buildPlaceOrderMessage(orderID, contract, leg)
	if err := c.sendMessage(ctx, msg); err != nil {
		return fmt.Errorf("send order: %w", err)
	}

	c.openMu.Lock()
	c.open[orderID] = gateway.OpenOrder{
		OrderID: orderID,
		Symbol:  contract.Symbol,
		GroupID: leg.GroupID,
		Status:  gateway.StatusSubmitted,
	}
	c.openMu.Unlock()

	c.logger.Info("order placed",
		"order_id", orderID,
		"symbol", contract.Symbol,
		"action", leg.Action.String(),
		"kind", string(leg.Kind),
		"quantity", leg.Quantity,
		"group", leg.GroupID,
	)
	return nil
}

// buildPlaceOrderMessage builds a PLACE_ORDER message. Both legs carry the
// OCA group with type 1 so the broker cancels the survivor on a fill.
func (c *Client) buildPlaceOrderMessage(orderID int64, contract gateway.Contract, leg types.OrderDescriptor) string {
	var auxPrice, lmtPrice, lmtOffset string
	auxPrice = leg.AuxPrice.StringFixed(2)
	switch leg.Kind {
	case types.OrderKindTrailingStopLimit:
		lmtOffset = leg.LimitOffset.StringFixed(2)
	default:
		lmtPrice = leg.LimitPrice.StringFixed(2)
	}

	// PLACE_ORDER = 3
	return fmt.Sprintf("3\x0045\x00%d\x00%s\x00%s\x00%s\x00%s\x00%s\x00%d\x00%s\x00%s\x00%s\x00%s\x00%s\x00%s\x001\x00",
		orderID,
		contract.Symbol,
		contract.SecType,
		contract.Exchange,
		contract.Currency,
		leg.Action.String(),
		leg.Quantity,
		string(leg.Kind),
		auxPrice,
		lmtPrice,
		lmtOffset,
		leg.TIF,
		leg.GroupID,
	)
}

// CancelOrder cancels an order.
func (c *Client) CancelOrder(ctx context.Context, orderID int64) error {
	if !c.IsConnected() {
		return types.ErrNotConnected
	}

	// CANCEL_ORDER = 4
	msg := fmt.Sprintf("4\x001\x00%d\x00\x00", orderID)
	if err := c.sendMessage(ctx, msg); err != nil {
		return fmt.Errorf("send cancel: %w", err)
	}

	c.logger.Info("order cancel requested", "order_id", orderID)
	return nil
}

// OpenOrders requests the broker's open-orders snapshot and returns it.
func (c *Client) OpenOrders(ctx context.Context) ([]gateway.OpenOrder, error) {
	if !c.IsConnected() {
		return nil, types.ErrNotConnected
	}

	c.openMu.Lock()
	done := c.openEnd
	if done == nil {
		done = make(chan struct{})
		c.openEnd = done
	}
	c.openMu.Unlock()

	// REQ_OPEN_ORDERS = 5
	if err := c.sendMessage(ctx, "5\x001\x00"); err != nil {
		return nil, fmt.Errorf("request open orders: %w", err)
	}

	select {
	case <-done:
	case <-time.After(c.cfg.RequestTimeout):
		c.logger.Warn("open orders snapshot timed out, returning tracked set")
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	c.openMu.Lock()
	defer c.openMu.Unlock()

	out := make([]gateway.OpenOrder, 0, len(c.open))
	for _, o := range c.open {
		out = append(out, o)
	}
	return out, nil
}

// Events returns the inbound order-status stream.
func (c *Client) Events() <-chan gateway.OrderEvent {
	return c.events
}

// WatchSymbol subscribes to last-trade prices for a symbol.
func (c *Client) WatchSymbol(symbol string) error {
	c.watchMu.Lock()
	if _, ok := c.watched[symbol]; ok {
		c.watchMu.Unlock()
		return nil
	}
	tickerID := c.nextTickerID.Add(1)
	c.watched[symbol] = tickerID
	c.tickers[tickerID] = symbol
	c.watchMu.Unlock()

	if err := c.requestMarketData(tickerID, symbol); err != nil {
		c.watchMu.Lock()
		delete(c.watched, symbol)
		delete(c.tickers, tickerID)
		c.watchMu.Unlock()
		return err
	}

	c.logger.Info("watching symbol", "symbol", symbol, "ticker_id", tickerID)
	return nil
}

// requestMarketData sends a market data request for a stock contract.
func (c *Client) requestMarketData(tickerID int64, symbol string) error {
	contract := gateway.StockContract(symbol)

	// REQ_MKT_DATA = 1
	msg := fmt.Sprintf("1\x0011\x00%d\x000\x00%s\x00%s\x00\x00\x00%s\x00%s\x00\x00\x00\x00\x00\x000\x00\x00\x00",
		tickerID,
		contract.Symbol,
		contract.SecType,
		contract.Exchange,
		contract.Currency,
	)

	return c.sendMessage(context.Background(), msg)
}

// LastPrice returns the most recent trade price for a watched symbol.
func (c *Client) LastPrice(symbol string) (decimal.Decimal, bool) {
	c.watchMu.RLock()
	defer c.watchMu.RUnlock()
	p, ok := c.prices[symbol]
	return p, ok
}

// Ensure Client implements gateway.Gateway
var _ gateway.Gateway = (*Client)(nil)
