package exchange

import (
	"context"
	"fmt"
	"math/rand"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Feed supplies market data to the simulator. In paper trading this is
// a live venue's public endpoints; in backtests it is nil and bars are
// pushed via UpdateBar.
type Feed interface {
	GetTicker(ctx context.Context, symbol string) (*Ticker, error)
	GetCandles(ctx context.Context, symbol, timeframe string, limit int) ([]Candle, error)
}

// SimulatorConfig tunes synthetic execution
type SimulatorConfig struct {
	InitialBalance   float64
	MakerFee         float64
	TakerFee         float64
	BaseSlippage     float64
	MarketImpactCoef float64
	MaxSlippage      float64
	LatencyMin       time.Duration
	LatencyMax       time.Duration
	SpikeThreshold   float64       // single-bar |return| that pauses fills
	SuspendDuration  time.Duration // how long fills stay paused
	FillAtNextBar    bool          // backtests: market orders fill at the next pushed bar
}

// DefaultSimulatorConfig returns conservative paper-trading defaults
func DefaultSimulatorConfig() SimulatorConfig {
	return SimulatorConfig{
		InitialBalance:   10000.0,
		MakerFee:         0.001,
		TakerFee:         0.001,
		BaseSlippage:     0.0005,
		MarketImpactCoef: 0.1,
		MaxSlippage:      0.003,
		SpikeThreshold:   0.02,
		SuspendDuration:  5 * time.Second,
	}
}

// Simulator is a synthetic execution venue. It prices fills off the
// last closed bar, charges taker fees, applies volume-aware slippage
// and monitors stop-loss/take-profit levels bar by bar. Bars advance a
// monotonic index; orders carrying a signal index beyond it are
// rejected as look-ahead.
type Simulator struct {
	mu sync.RWMutex

	cfg  SimulatorConfig
	feed Feed

	cash      float64 // collateral including realized pnl, net of fees
	locked    float64 // margin held against open positions
	orders    map[string]*Order
	positions map[string]*Position
	fills     map[string][]Fill
	lastBar   map[string]Candle
	suspended map[string]time.Time
	lastPrice map[string]float64
	triggered map[string]bool // stop orders whose trigger printed

	barsSeen  int
	nextID    int64
	connected bool
	logger    zerolog.Logger
	now       func() time.Time
}

// NewSimulator creates a simulated adapter. feed may be nil for
// backtests that push bars explicitly.
func NewSimulator(cfg SimulatorConfig, feed Feed) *Simulator {
	return &Simulator{
		cfg:       cfg,
		feed:      feed,
		cash:      cfg.InitialBalance,
		orders:    make(map[string]*Order),
		positions: make(map[string]*Position),
		fills:     make(map[string][]Fill),
		lastBar:   make(map[string]Candle),
		suspended: make(map[string]time.Time),
		lastPrice: make(map[string]float64),
		triggered: make(map[string]bool),
		logger:    log.With().Str("component", "simulator").Logger(),
		now:       time.Now,
	}
}

// Name identifies the venue
func (s *Simulator) Name() string { return "simulated" }

// Simulated reports that fills are synthetic
func (s *Simulator) Simulated() bool { return true }

// Connect prepares the adapter for trading
func (s *Simulator) Connect(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.connected = true
	s.logger.Info().Float64("initial_balance", s.cfg.InitialBalance).Msg("simulator connected")
	return nil
}

// Disconnect releases venue resources
func (s *Simulator) Disconnect(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.connected = false
	return nil
}

// SetMarketPrice overrides the reference price for a symbol.
// Intended for tests and for ticker-driven paper sessions.
func (s *Simulator) SetMarketPrice(symbol string, price float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastPrice[symbol] = price
	if pos, ok := s.positions[symbol]; ok {
		s.markPosition(pos, price)
	}
}

// BarIndex reports the index of the last pushed bar. It starts at 0 so
// live sessions, which never number their bars, always pass the
// look-ahead assertion.
func (s *Simulator) BarIndex() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.barIndexLocked()
}

func (s *Simulator) barIndexLocked() int {
	if s.barsSeen == 0 {
		return 0
	}
	return s.barsSeen - 1
}

// UpdateBar records a newly closed bar. The bar advances the simulation
// index and drives the reference price, deferred market fills, the stop
// monitor and the spike guard. Bars must arrive in chronological order;
// stale bars are ignored.
func (s *Simulator) UpdateBar(symbol string, bar Candle) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if prev, ok := s.lastBar[symbol]; ok && !bar.OpenTime.After(prev.OpenTime) {
		return
	}

	s.barsSeen++
	s.lastBar[symbol] = bar
	s.lastPrice[symbol] = bar.Close

	ret := bar.Return()
	if s.cfg.SpikeThreshold > 0 && abs(ret) > s.cfg.SpikeThreshold {
		until := s.now().Add(s.cfg.SuspendDuration)
		s.suspended[symbol] = until
		s.logger.Warn().
			Str("symbol", symbol).
			Float64("bar_return", ret).
			Time("until", until).
			Msg("price spike detected, fills suspended")
	}

	// Market orders submitted during the previous bar execute at this
	// close, so no fill can ever use data its signal had not seen.
	if s.cfg.FillAtNextBar {
		s.fillDeferredLocked(symbol, bar)
	}

	if pos, ok := s.positions[symbol]; ok {
		s.markPosition(pos, bar.Close)
		s.checkStopsLocked(symbol, pos, bar)
	}
	s.fillRestingLocked(symbol, bar)
}

// CreateOrder submits an order. Resubmitting a known client order id
// returns the stored order unchanged. Rejected orders are kept on the
// book so later lookups see the terminal state.
func (s *Simulator) CreateOrder(ctx context.Context, req OrderRequest) (*Order, error) {
	if err := s.simulateLatency(ctx); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.orders[req.ClientOrderID]; ok {
		s.logger.Debug().
			Str("client_order_id", req.ClientOrderID).
			Msg("duplicate client order id, returning existing order")
		return existing.Clone(), nil
	}

	if until, ok := s.suspended[req.Symbol]; ok {
		if s.now().Before(until) {
			return nil, &SuspendedError{Symbol: req.Symbol, Until: until}
		}
		delete(s.suspended, req.Symbol)
	}

	refPrice, ok := s.lastPrice[req.Symbol]
	if !ok || refPrice <= 0 {
		return nil, &APIError{Op: "create_order", Message: fmt.Sprintf("no market data for %s", req.Symbol), Retryable: false}
	}

	now := s.now()
	order := &Order{
		ID:              uuid.New().String(),
		ClientOrderID:   req.ClientOrderID,
		ExchangeOrderID: s.nextExchangeID(),
		TraceID:         req.TraceID,
		StrategyID:      req.StrategyID,
		Source:          req.Source,
		Symbol:          req.Symbol,
		Side:            req.Side,
		Type:            req.Type,
		Quantity:        req.Quantity,
		Price:           req.Price,
		StopPrice:       req.StopPrice,
		Leverage:        req.Leverage,
		StopLoss:        req.StopLoss,
		TakeProfit:      req.TakeProfit,
		ReduceOnly:      req.ReduceOnly,
		PostOnly:        req.PostOnly,
		Status:          OrderStatusPending,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if order.Leverage <= 0 {
		order.Leverage = 1
	}

	s.orders[order.ClientOrderID] = order

	if req.BarIndex > s.barIndexLocked() {
		err := &LookAheadError{RequestBar: req.BarIndex, CurrentBar: s.barIndexLocked()}
		return s.rejectLocked(order, err.Error()), err
	}

	order.Status = OrderStatusSubmitted

	switch req.Type {
	case OrderTypeMarket:
		if s.cfg.FillAtNextBar {
			// Executes at the close of the next pushed bar
			break
		}
		if err := s.fillLocked(order, refPrice); err != nil {
			return s.rejectLocked(order, err.Error()), err
		}
	case OrderTypeLimit:
		if req.PostOnly && s.wouldCross(req, refPrice) {
			err := &APIError{Op: "create_order", Message: "post-only order would cross the book", Retryable: false}
			return s.rejectLocked(order, err.Message), err
		}
		// Rests until a bar crosses the limit price
		order.Status = OrderStatusOpen
	case OrderTypeStop, OrderTypeStopLimit:
		if req.StopPrice <= 0 {
			err := &APIError{Op: "create_order", Message: "stop order requires a stop price", Retryable: false}
			return s.rejectLocked(order, err.Message), err
		}
		// Rests until a bar prints through the trigger
		order.Status = OrderStatusOpen
	default:
		err := &APIError{Op: "create_order", Message: "unsupported order type", Retryable: false}
		return s.rejectLocked(order, err.Message), err
	}

	s.logger.Info().
		Str("client_order_id", order.ClientOrderID).
		Str("symbol", order.Symbol).
		Str("side", string(order.Side)).
		Str("type", string(order.Type)).
		Float64("quantity", order.Quantity).
		Str("status", string(order.Status)).
		Msg("order accepted")

	return order.Clone(), nil
}

// rejectLocked finalizes an order as rejected and returns a snapshot.
// Caller holds the write lock.
func (s *Simulator) rejectLocked(order *Order, reason string) *Order {
	order.Status = OrderStatusRejected
	order.RejectReason = reason
	order.UpdatedAt = s.now()
	s.logger.Warn().
		Str("client_order_id", order.ClientOrderID).
		Str("reason", reason).
		Msg("order rejected")
	return order.Clone()
}

// wouldCross reports whether a limit order would execute immediately
// against the reference price.
func (s *Simulator) wouldCross(req OrderRequest, refPrice float64) bool {
	if req.Side == OrderSideBuy {
		return req.Price >= refPrice
	}
	return req.Price <= refPrice
}

// CancelOrder cancels by client order id. Terminal orders cannot be
// cancelled; cancelling reports the final order state.
func (s *Simulator) CancelOrder(ctx context.Context, clientOrderID string) (*Order, error) {
	if err := s.simulateLatency(ctx); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	order, ok := s.orders[clientOrderID]
	if !ok {
		return nil, ErrOrderNotFound
	}
	if order.Terminal() {
		return order.Clone(), &APIError{Op: "cancel_order", Message: fmt.Sprintf("order %s is %s", clientOrderID, order.Status), Retryable: false}
	}

	order.Status = OrderStatusCancelled
	order.UpdatedAt = s.now()
	delete(s.triggered, clientOrderID)
	s.logger.Info().Str("client_order_id", clientOrderID).Msg("order cancelled")

	return order.Clone(), nil
}

// GetOrder retrieves order state by client order id
func (s *Simulator) GetOrder(ctx context.Context, clientOrderID string) (*Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	order, ok := s.orders[clientOrderID]
	if !ok {
		return nil, ErrOrderNotFound
	}
	return order.Clone(), nil
}

// GetOrderFills returns the fills recorded for an order
func (s *Simulator) GetOrderFills(ctx context.Context, clientOrderID string) ([]Fill, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	fills := s.fills[clientOrderID]
	out := make([]Fill, len(fills))
	copy(out, fills)
	return out, nil
}

// GetOpenOrders lists orders that are not yet terminal
func (s *Simulator) GetOpenOrders(ctx context.Context) ([]Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []Order
	for _, o := range s.orders {
		if !o.Terminal() {
			out = append(out, *o.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// GetPositions lists open positions
func (s *Simulator) GetPositions(ctx context.Context) ([]Position, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []Position
	for _, p := range s.positions {
		out = append(out, *p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out, nil
}

// GetBalance returns the quote-currency account balance
func (s *Simulator) GetBalance(ctx context.Context) (*Balance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	unrealized := 0.0
	for _, p := range s.positions {
		unrealized += p.UnrealizedPnL
	}

	return &Balance{
		Currency:      "USDT",
		Total:         s.cash,
		Available:     s.cash - s.locked,
		UnrealizedPnL: unrealized,
		Equity:        s.cash + unrealized,
	}, nil
}

// GetTicker returns the current snapshot for a symbol. With a feed
// attached the live snapshot wins; otherwise it is synthesized from
// the last known price.
func (s *Simulator) GetTicker(ctx context.Context, symbol string) (*Ticker, error) {
	if s.feed != nil {
		t, err := s.feed.GetTicker(ctx, symbol)
		if err == nil && t.Last > 0 {
			s.SetMarketPrice(symbol, t.Last)
		}
		return t, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	price, ok := s.lastPrice[symbol]
	if !ok {
		return nil, &APIError{Op: "get_ticker", Message: fmt.Sprintf("no market data for %s", symbol), Retryable: false}
	}
	spread := price * s.cfg.BaseSlippage
	return &Ticker{
		Symbol:    symbol,
		Bid:       price - spread,
		Ask:       price + spread,
		Last:      price,
		Volume:    s.lastBar[symbol].Volume,
		Timestamp: s.now(),
	}, nil
}

// GetCandles returns recent closed bars. With a feed attached the bars
// come from the venue and the latest one primes the stop monitor.
func (s *Simulator) GetCandles(ctx context.Context, symbol, timeframe string, limit int) ([]Candle, error) {
	if s.feed == nil {
		s.mu.RLock()
		defer s.mu.RUnlock()
		if bar, ok := s.lastBar[symbol]; ok {
			return []Candle{bar}, nil
		}
		return nil, &APIError{Op: "get_candles", Message: fmt.Sprintf("no market data for %s", symbol), Retryable: false}
	}

	candles, err := s.feed.GetCandles(ctx, symbol, timeframe, limit)
	if err != nil {
		return nil, err
	}
	if len(candles) > 0 {
		s.UpdateBar(symbol, candles[len(candles)-1])
	}
	return candles, nil
}

// fillLocked executes a market order at the slipped reference price.
// Caller holds the write lock.
func (s *Simulator) fillLocked(order *Order, refPrice float64) error {
	fillPrice := s.slippedPrice(order, refPrice)
	notional := order.Quantity * fillPrice
	fee := notional * s.cfg.TakerFee

	if err := s.applyFillLocked(order, fillPrice, notional, fee); err != nil {
		return err
	}

	now := s.now()
	order.Status = OrderStatusFilled
	order.FilledQty = order.Quantity
	order.AvgFillPrice = fillPrice
	order.Fee = fee
	order.FilledAt = &now
	order.UpdatedAt = now

	fill := Fill{
		ClientOrderID: order.ClientOrderID,
		Quantity:      order.Quantity,
		Price:         fillPrice,
		Fee:           fee,
		Timestamp:     now,
	}
	order.Fills = append(order.Fills, fill)
	s.fills[order.ClientOrderID] = append(s.fills[order.ClientOrderID], fill)

	s.logger.Info().
		Str("client_order_id", order.ClientOrderID).
		Float64("fill_price", fillPrice).
		Float64("fee", fee).
		Msg("order filled")
	return nil
}

// slippedPrice applies base slippage plus volume-aware market impact,
// capped at the configured maximum. Buys pay up, sells receive less.
func (s *Simulator) slippedPrice(order *Order, refPrice float64) float64 {
	slip := s.cfg.BaseSlippage

	if bar, ok := s.lastBar[order.Symbol]; ok && bar.Volume > 0 {
		notional := order.Quantity * refPrice
		barNotional := bar.Volume * refPrice
		slip += (notional / barNotional) * s.cfg.MarketImpactCoef
	}
	if slip > s.cfg.MaxSlippage {
		slip = s.cfg.MaxSlippage
	}

	if order.Side == OrderSideBuy {
		return refPrice * (1 + slip)
	}
	return refPrice * (1 - slip)
}

// applyFillLocked moves the fill through the position book and the
// balance. Opening requires margin; reducing releases it pro rata and
// realizes pnl. Caller holds the write lock.
func (s *Simulator) applyFillLocked(order *Order, price, notional, fee float64) error {
	pos := s.positions[order.Symbol]

	opening := pos == nil ||
		(pos.Side == PositionSideLong && order.Side == OrderSideBuy) ||
		(pos.Side == PositionSideShort && order.Side == OrderSideSell)

	if order.ReduceOnly && opening {
		return &APIError{Op: "create_order", Message: "reduce-only order would open or extend a position", Retryable: false}
	}

	if opening {
		margin := notional / order.Leverage
		if margin+fee > s.cash-s.locked {
			return &InsufficientBalanceError{Required: margin + fee, Available: s.cash - s.locked}
		}

		if pos == nil {
			side := PositionSideLong
			if order.Side == OrderSideSell {
				side = PositionSideShort
			}
			pos = &Position{
				Symbol:     order.Symbol,
				Side:       side,
				Size:       order.Quantity,
				EntryPrice: price,
				Leverage:   order.Leverage,
				StopLoss:   order.StopLoss,
				TakeProfit: order.TakeProfit,
				OpenedAt:   s.now(),
			}
			s.positions[order.Symbol] = pos
		} else {
			total := pos.Size + order.Quantity
			pos.EntryPrice = (pos.EntryPrice*pos.Size + price*order.Quantity) / total
			pos.Size = total
			if order.StopLoss > 0 {
				pos.StopLoss = order.StopLoss
			}
			if order.TakeProfit > 0 {
				pos.TakeProfit = order.TakeProfit
			}
		}
		s.locked += margin
		s.cash -= fee
		s.markPosition(pos, price)
		return nil
	}

	// Reducing or closing
	closeQty := order.Quantity
	if closeQty > pos.Size {
		closeQty = pos.Size
	}

	pnl := (price - pos.EntryPrice) * closeQty
	if pos.Side == PositionSideShort {
		pnl = -pnl
	}

	marginRelease := (pos.EntryPrice * closeQty) / pos.Leverage
	s.locked -= marginRelease
	if s.locked < 0 {
		s.locked = 0
	}
	s.cash += pnl - fee

	pos.Size -= closeQty
	if pos.Size <= 1e-12 {
		delete(s.positions, order.Symbol)
	} else {
		s.markPosition(pos, price)
	}

	s.logger.Info().
		Str("symbol", order.Symbol).
		Float64("closed_qty", closeQty).
		Float64("realized_pnl", pnl).
		Msg("position reduced")
	return nil
}

// checkStopsLocked exits positions whose stop or target trades within
// the bar. The stop is checked first: taking the pessimistic exit when
// both levels print inside the same bar. Caller holds the write lock.
func (s *Simulator) checkStopsLocked(symbol string, pos *Position, bar Candle) {
	var exitPrice float64
	var reason string

	if pos.Side == PositionSideLong {
		if pos.StopLoss > 0 && bar.Low <= pos.StopLoss {
			exitPrice, reason = pos.StopLoss, "stop_loss"
		} else if pos.TakeProfit > 0 && bar.High >= pos.TakeProfit {
			exitPrice, reason = pos.TakeProfit, "take_profit"
		}
	} else {
		if pos.StopLoss > 0 && bar.High >= pos.StopLoss {
			exitPrice, reason = pos.StopLoss, "stop_loss"
		} else if pos.TakeProfit > 0 && bar.Low <= pos.TakeProfit {
			exitPrice, reason = pos.TakeProfit, "take_profit"
		}
	}

	if exitPrice == 0 {
		return
	}

	notional := pos.Size * exitPrice
	fee := notional * s.cfg.TakerFee
	pnl := (exitPrice - pos.EntryPrice) * pos.Size
	if pos.Side == PositionSideShort {
		pnl = -pnl
	}

	marginRelease := (pos.EntryPrice * pos.Size) / pos.Leverage
	s.locked -= marginRelease
	if s.locked < 0 {
		s.locked = 0
	}
	s.cash += pnl - fee
	delete(s.positions, symbol)

	s.logger.Info().
		Str("symbol", symbol).
		Str("reason", reason).
		Float64("exit_price", exitPrice).
		Float64("realized_pnl", pnl).
		Msg("position closed by protective order")
}

// fillDeferredLocked executes market orders held since the previous
// bar at this bar's close. Caller holds the write lock.
func (s *Simulator) fillDeferredLocked(symbol string, bar Candle) {
	for _, order := range s.restingLocked(symbol, OrderStatusSubmitted) {
		if order.Type != OrderTypeMarket {
			continue
		}
		if err := s.fillLocked(order, bar.Close); err != nil {
			s.rejectLocked(order, err.Error())
		}
	}
}

// fillRestingLocked fills resting limit orders the bar crossed and
// fires stop triggers that printed inside the bar. Caller holds the
// write lock.
func (s *Simulator) fillRestingLocked(symbol string, bar Candle) {
	for _, order := range s.restingLocked(symbol, OrderStatusOpen) {
		switch order.Type {
		case OrderTypeLimit:
			crossed := (order.Side == OrderSideBuy && bar.Low <= order.Price) ||
				(order.Side == OrderSideSell && bar.High >= order.Price)
			if !crossed {
				continue
			}
			if err := s.fillLocked(order, order.Price); err != nil {
				s.rejectLocked(order, err.Error())
			}

		case OrderTypeStop, OrderTypeStopLimit:
			if !s.triggered[order.ClientOrderID] {
				fired := (order.Side == OrderSideBuy && bar.High >= order.StopPrice) ||
					(order.Side == OrderSideSell && bar.Low <= order.StopPrice)
				if !fired {
					continue
				}
				s.triggered[order.ClientOrderID] = true
			}

			if order.Type == OrderTypeStop {
				if err := s.fillLocked(order, order.StopPrice); err != nil {
					s.rejectLocked(order, err.Error())
				}
				continue
			}
			// Triggered stop-limit behaves as a resting limit
			crossed := (order.Side == OrderSideBuy && bar.Low <= order.Price) ||
				(order.Side == OrderSideSell && bar.High >= order.Price)
			if !crossed {
				continue
			}
			if err := s.fillLocked(order, order.Price); err != nil {
				s.rejectLocked(order, err.Error())
			}
		}
	}
}

// restingLocked returns the symbol's orders in a given status, oldest
// first, so bar-driven fills are deterministic. Caller holds the lock.
func (s *Simulator) restingLocked(symbol string, status OrderStatus) []*Order {
	var out []*Order
	for _, o := range s.orders {
		if o.Symbol == symbol && o.Status == status {
			out = append(out, o)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ClientOrderID < out[j].ClientOrderID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// markPosition refreshes mark price and unrealized pnl
func (s *Simulator) markPosition(pos *Position, price float64) {
	pos.MarkPrice = price
	pnl := (price - pos.EntryPrice) * pos.Size
	if pos.Side == PositionSideShort {
		pnl = -pnl
	}
	pos.UnrealizedPnL = pnl
}

// simulateLatency sleeps a uniform random duration inside the
// configured window, honoring cancellation.
func (s *Simulator) simulateLatency(ctx context.Context) error {
	if s.cfg.LatencyMax <= 0 {
		return nil
	}
	span := s.cfg.LatencyMax - s.cfg.LatencyMin
	d := s.cfg.LatencyMin
	if span > 0 {
		d += time.Duration(rand.Int63n(int64(span)))
	}
	select {
	case <-ctx.Done():
		return &TimeoutError{Op: "simulate_latency", After: d}
	case <-time.After(d):
		return nil
	}
}

func (s *Simulator) nextExchangeID() string {
	s.nextID++
	return fmt.Sprintf("SIM-%06d", s.nextID)
}

func abs(x float64) float64 {
	if x < 0 {
		return -x
	}
	return x
}
