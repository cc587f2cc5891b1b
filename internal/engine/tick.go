package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/tradesentry/tradesentry/internal/agents"
	"github.com/tradesentry/tradesentry/internal/exchange"
	"github.com/tradesentry/tradesentry/internal/idempotency"
	"github.com/tradesentry/tradesentry/internal/market"
	"github.com/tradesentry/tradesentry/internal/metrics"
	"github.com/tradesentry/tradesentry/internal/risk"
)

// Tick outcomes, recorded per symbol in the tick counter.
const (
	outcomeError     = "error"
	outcomeTripped   = "tripped"
	outcomeBusy      = "busy"
	outcomeHold      = "hold"
	outcomeBlocked   = "blocked"
	outcomeSubmitted = "submitted"
)

// runSymbol drives the decision loop for one symbol until ctx ends.
func (r *Runtime) runSymbol(ctx context.Context, symbol string, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	r.logger.Info().Str("symbol", symbol).Dur("interval", interval).Msg("symbol loop started")
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if r.IsPaused() {
				continue
			}
			r.tick(ctx, symbol)
		}
	}
}

func (r *Runtime) tick(ctx context.Context, symbol string) {
	timeout := r.cfg.Trading.TickTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	tctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	outcome := r.tickOnce(tctx, symbol)

	r.mu.Lock()
	r.lastTick[symbol] = r.now()
	r.mu.Unlock()

	took := time.Since(start)
	metrics.EngineTicks.WithLabelValues(symbol, outcome).Inc()
	metrics.EngineTickDuration.Observe(float64(took.Milliseconds()))

	r.logger.Debug().
		Str("symbol", symbol).
		Str("outcome", outcome).
		Dur("took", took).
		Msg("tick")
}

// tickOnce runs one pass of the pipeline: snapshot, breaker feeds,
// account view, decision, admission. Every fallible step logs and ends
// the tick; a missed tick is recoverable, a half-applied one is not.
func (r *Runtime) tickOnce(ctx context.Context, symbol string) string {
	st, err := r.deps.Market.GetMarketState(ctx, symbol)
	if err != nil {
		r.logger.Error().Err(err).Str("symbol", symbol).Msg("market snapshot failed")
		return outcomeError
	}

	venueBar := r.pushBar(symbol, st)

	if tripped := r.deps.Breakers.UpdateMarketMetrics(st.Volatility(), st.PanicRatio()); tripped {
		// The trip event carries its close scope; the event consumer
		// handles flattening. Nothing left to decide this tick.
		return outcomeTripped
	}

	bal, err := r.deps.Venue.GetBalance(ctx)
	if err != nil {
		r.logger.Error().Err(err).Str("symbol", symbol).Msg("balance read failed")
		return outcomeError
	}
	positions, err := r.deps.Venue.GetPositions(ctx)
	if err != nil {
		r.logger.Error().Err(err).Str("symbol", symbol).Msg("positions read failed")
		return outcomeError
	}

	r.reconcile(symbol, st, positions)

	stats := r.deps.Gateway.Ledger().Stats(bal.Equity)
	r.deps.Breakers.UpdateAccountMetrics(stats.LossPct, stats.Drawdown)

	if id, busy := r.inFlight(symbol); busy {
		if !r.resolvePending(ctx, symbol, id) {
			return outcomeBusy
		}
	}

	view := r.buildView(bal, positions, stats)
	d := r.deps.Decider.Decide(ctx, st, view)
	if d == nil || !d.Actionable() {
		return outcomeHold
	}
	if r.deps.Advisor != nil {
		r.deps.Advisor.Annotate(*d)
	}

	req, intent, ok := r.buildRequest(d, st, view, bal.Equity, venueBar)
	if !ok {
		return outcomeHold
	}

	if _, err := r.submit(ctx, req, intent); err != nil {
		var reject *risk.RejectError
		if errors.As(err, &reject) {
			r.logger.Warn().
				Str("symbol", symbol).
				Str("rule", reject.Rule).
				Str("reason", reject.Message).
				Msg("order blocked")
			return outcomeBlocked
		}
		r.logger.Error().Err(err).Str("symbol", symbol).Msg("order submission failed")
		return outcomeError
	}
	return outcomeSubmitted
}

// pushBar forwards the snapshot's latest closed bar to the simulated
// venue so fills, marks and protective stops advance in step with the
// data the decisions see. It returns the venue bar index the snapshot
// now corresponds to, captured here so the request built later this
// tick is pinned to the data the decision saw rather than wherever
// the shared venue clock has moved by submit time. No-op against live
// venues, which ignore bar indexes.
func (r *Runtime) pushBar(symbol string, st *market.State) int {
	if r.deps.Bars == nil {
		return st.BarIndex
	}
	bars := st.Candles[st.Timeframe]
	if len(bars) > 0 {
		r.deps.Bars.UpdateBar(symbol, bars[len(bars)-1])
	}
	return r.deps.Bars.BarIndex()
}

func (r *Runtime) buildView(bal *exchange.Balance, positions []exchange.Position, stats risk.DayStats) agents.PortfolioView {
	limits := r.deps.Gateway.Limits()
	exposure := 0.0
	if bal.Equity > 0 {
		var notional float64
		for i := range positions {
			notional += positions[i].Notional()
		}
		exposure = notional / bal.Equity
	}
	return agents.PortfolioView{
		Equity:       bal.Equity,
		Exposure:     exposure,
		MaxExposure:  limits.MaxTotalExposure,
		DailyLossPct: stats.LossPct,
		MaxDailyLoss: limits.MaxDailyLoss,
		Drawdown:     stats.Drawdown,
		MaxDrawdown:  limits.MaxTotalDrawdown,
		Positions:    positions,
	}
}

// buildRequest maps a decision onto an order request. Opening decisions
// size from equity and carry protective levels; reducing decisions
// close the matching live position reduce-only and ignore the
// decision's own size. Returns false when nothing should be sent.
func (r *Runtime) buildRequest(d *agents.TradeDecision, st *market.State, view agents.PortfolioView, equity float64, venueBar int) (exchange.OrderRequest, *closeIntent, bool) {
	price := st.Price
	if price <= 0 {
		price = d.Price
	}
	if price <= 0 {
		r.logger.Warn().Str("symbol", d.Symbol).Msg("decision without a reference price")
		return exchange.OrderRequest{}, nil, false
	}

	req := exchange.OrderRequest{
		TraceID:    d.TraceID,
		StrategyID: d.StrategyID,
		Source:     "engine",
		Symbol:     d.Symbol,
		Side:       d.Action.Side(),
		Type:       exchange.OrderTypeMarket,
		Price:      price,
		Leverage:   d.Leverage,
		BarIndex:   venueBar,
	}

	if d.Action.Opens() {
		if equity <= 0 || d.Size <= 0 {
			return exchange.OrderRequest{}, nil, false
		}
		req.Quantity = d.Size * equity / price
		req.StopLoss, req.TakeProfit = protectionFor(req.Side, price, d.StopLossPct, d.TakeProfitPct)
		return req, nil, true
	}

	pos := positionToReduce(view.Positions, d.Symbol, d.Action)
	if pos == nil {
		r.logger.Debug().
			Str("symbol", d.Symbol).
			Str("action", string(d.Action)).
			Msg("reduce decision without a matching position")
		return exchange.OrderRequest{}, nil, false
	}
	req.Side = closeSide(pos.Side)
	req.Quantity = pos.Size
	req.Leverage = pos.Leverage
	req.ReduceOnly = true
	intent := &closeIntent{
		entryPrice: pos.EntryPrice,
		short:      pos.Side == exchange.PositionSideShort,
		size:       pos.Size,
		strategyID: d.StrategyID,
	}
	return req, intent, true
}

// protectionFor converts fractional stop distances into the price
// levels the venue expects, on the correct side of entry.
func protectionFor(side exchange.OrderSide, price, slPct, tpPct float64) (stop, target float64) {
	if side == exchange.OrderSideBuy {
		if slPct > 0 {
			stop = price * (1 - slPct)
		}
		if tpPct > 0 {
			target = price * (1 + tpPct)
		}
		return stop, target
	}
	if slPct > 0 {
		stop = price * (1 + slPct)
	}
	if tpPct > 0 {
		target = price * (1 - tpPct)
	}
	return stop, target
}

// positionToReduce finds the live position a reducing action applies
// to: SELL closes longs, COVER closes shorts, CLOSE takes either.
func positionToReduce(positions []exchange.Position, symbol string, action agents.Action) *exchange.Position {
	for i := range positions {
		p := &positions[i]
		if !sameSymbol(p.Symbol, symbol) || p.Size <= 0 {
			continue
		}
		switch action {
		case agents.ActionSell:
			if p.Side == exchange.PositionSideLong {
				return p
			}
		case agents.ActionCover:
			if p.Side == exchange.PositionSideShort {
				return p
			}
		case agents.ActionClose:
			return p
		}
	}
	return nil
}

func closeSide(side exchange.PositionSide) exchange.OrderSide {
	if side == exchange.PositionSideShort {
		return exchange.OrderSideBuy
	}
	return exchange.OrderSideSell
}

// sameSymbol compares symbols across spellings, BTC-USDT and BTCUSDT
// name the same market.
func sameSymbol(a, b string) bool {
	return idempotency.NormalizeSymbol(a) == idempotency.NormalizeSymbol(b)
}

// submit runs one request through gateway admission and tracks the
// resulting order. The close intent is armed before the venue call:
// the fill event can reach the consumer before Submit returns, and the
// settle path must already know what the order closes. Rejected orders
// are persisted too; the row is part of the trail.
func (r *Runtime) submit(ctx context.Context, req exchange.OrderRequest, intent *closeIntent) (*exchange.Order, error) {
	r.armClose(req.Symbol, intent)
	order, err := r.deps.Gateway.Submit(ctx, req)
	if order != nil {
		r.persistOrder(ctx, order)
	}
	if err != nil {
		if intent != nil {
			r.disarmClose(req.Symbol)
		}
		return order, err
	}
	r.track(ctx, order)
	return order, nil
}

// armClose stages what a reducing order is about to close, keyed by
// symbol because the client order id is not assigned yet.
func (r *Runtime) armClose(symbol string, intent *closeIntent) {
	if intent == nil {
		return
	}
	r.mu.Lock()
	r.staged[idempotency.NormalizeSymbol(symbol)] = *intent
	r.mu.Unlock()
}

func (r *Runtime) disarmClose(symbol string) {
	r.mu.Lock()
	delete(r.staged, idempotency.NormalizeSymbol(symbol))
	r.mu.Unlock()
}

// track records a live order in the per-symbol in-flight slot, moves a
// staged close intent onto its assigned id, and claims the symbol's
// strategy attribution for opens so a later venue-side protective close
// books against the right strategy. Orders that came back already
// terminal are settled inline; the event echo dedups.
func (r *Runtime) track(ctx context.Context, order *exchange.Order) {
	if order == nil {
		return
	}
	key := idempotency.NormalizeSymbol(order.Symbol)

	r.mu.Lock()
	_, done := r.settled[order.ClientOrderID]
	if !done && !order.Terminal() {
		r.pending[key] = order.ClientOrderID
	}
	if intent, ok := r.staged[key]; ok && order.ReduceOnly {
		delete(r.staged, key)
		if !done {
			r.closes[order.ClientOrderID] = intent
		}
	}
	if !order.ReduceOnly {
		r.posStrategy[key] = order.StrategyID
	}
	r.mu.Unlock()

	if order.Terminal() {
		r.settle(ctx, order)
	}
}

func (r *Runtime) inFlight(symbol string) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	id, ok := r.pending[idempotency.NormalizeSymbol(symbol)]
	return id, ok
}

// PlaceOrder admits a manual order through the same gateway pipeline
// the committee uses. Reduce-only requests are sized to the live
// position when quantity is left unset, and their fills are booked
// against the strategy that opened the position.
func (r *Runtime) PlaceOrder(ctx context.Context, req exchange.OrderRequest) (*exchange.Order, error) {
	if req.Source == "" {
		req.Source = "api"
	}
	if req.StrategyID == "" {
		req.StrategyID = "manual"
	}
	if req.Type == "" {
		req.Type = exchange.OrderTypeMarket
	}

	var intent *closeIntent
	if req.ReduceOnly {
		pos, err := r.livePosition(ctx, req.Symbol)
		if err != nil {
			return nil, err
		}
		if pos != nil {
			if req.Quantity <= 0 || req.Quantity > pos.Size {
				req.Quantity = pos.Size
			}
			req.Side = closeSide(pos.Side)
			intent = &closeIntent{
				entryPrice: pos.EntryPrice,
				short:      pos.Side == exchange.PositionSideShort,
				size:       pos.Size,
				strategyID: r.strategyFor(req.Symbol),
			}
		}
	}

	if req.Price <= 0 {
		ticker, err := r.deps.Venue.GetTicker(ctx, req.Symbol)
		if err != nil {
			return nil, fmt.Errorf("no reference price for %s: %w", req.Symbol, err)
		}
		req.Price = ticker.Last
	}
	if r.deps.Bars != nil {
		req.BarIndex = r.deps.Bars.BarIndex()
	}
	return r.submit(ctx, req, intent)
}

func (r *Runtime) livePosition(ctx context.Context, symbol string) (*exchange.Position, error) {
	positions, err := r.deps.Venue.GetPositions(ctx)
	if err != nil {
		return nil, fmt.Errorf("positions read failed: %w", err)
	}
	return findPosition(positions, symbol), nil
}

func findPosition(positions []exchange.Position, symbol string) *exchange.Position {
	for i := range positions {
		if sameSymbol(positions[i].Symbol, symbol) && positions[i].Size > 0 {
			return &positions[i]
		}
	}
	return nil
}

// strategyFor names the strategy that opened the symbol's position,
// falling back to the committee tag when nothing was recorded.
func (r *Runtime) strategyFor(symbol string) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if id, ok := r.posStrategy[idempotency.NormalizeSymbol(symbol)]; ok && id != "" {
		return id
	}
	return agents.StrategyCommittee
}

// closePosition flattens one position through the venue directly,
// bypassing gateway admission. A system-tier trip blocks every order
// including reduce-only ones, so emergency and flatten closes cannot
// sit behind the gateway; their own idempotency comes from the
// time-bucketed client order id.
func (r *Runtime) closePosition(ctx context.Context, pos exchange.Position, source string) (*exchange.Order, error) {
	price := pos.MarkPrice
	if price <= 0 {
		price = pos.EntryPrice
	}
	req := exchange.OrderRequest{
		ClientOrderID: idempotency.NewClientOrderID(idempotency.ActionFlat, pos.Symbol, r.now()),
		TraceID:       uuid.NewString(),
		StrategyID:    r.strategyFor(pos.Symbol),
		Source:        source,
		Symbol:        pos.Symbol,
		Side:          closeSide(pos.Side),
		Type:          exchange.OrderTypeMarket,
		Quantity:      pos.Size,
		Price:         price,
		ReduceOnly:    true,
	}
	if r.deps.Bars != nil {
		req.BarIndex = r.deps.Bars.BarIndex()
	}

	r.armClose(pos.Symbol, &closeIntent{
		entryPrice: pos.EntryPrice,
		short:      pos.Side == exchange.PositionSideShort,
		size:       pos.Size,
		strategyID: req.StrategyID,
	})
	order, err := r.deps.Venue.CreateOrder(ctx, req)
	if order != nil {
		r.persistOrder(ctx, order)
	}
	if err != nil {
		r.disarmClose(pos.Symbol)
		return order, err
	}
	r.track(ctx, order)
	return order, nil
}

// flattenAll closes every open position through the direct venue path.
// Runs once per trigger; concurrent triggers while a flatten is in
// progress are dropped, and the emergency path closes its own
// positions so its trip event is ignored here.
func (r *Runtime) flattenAll(ctx context.Context, reason string) {
	if r.emergency.Load() {
		return
	}
	if !r.flattening.CompareAndSwap(false, true) {
		return
	}
	defer r.flattening.Store(false)

	positions, err := r.deps.Venue.GetPositions(ctx)
	if err != nil {
		r.logger.Error().Err(err).Str("reason", reason).Msg("flatten could not list positions")
		return
	}
	if len(positions) == 0 {
		return
	}

	r.logger.Warn().
		Str("reason", reason).
		Int("positions", len(positions)).
		Msg("flattening all positions")

	for _, pos := range positions {
		if pos.Size <= 0 {
			continue
		}
		if _, err := r.closePosition(ctx, pos, "breaker"); err != nil {
			r.logger.Error().Err(err).
				Str("symbol", pos.Symbol).
				Msg("flatten close failed")
		}
	}
}
