package engine

import (
	"context"

	"github.com/tradesentry/tradesentry/internal/agents"
	"github.com/tradesentry/tradesentry/internal/breaker"
	"github.com/tradesentry/tradesentry/internal/events"
	"github.com/tradesentry/tradesentry/internal/exchange"
	"github.com/tradesentry/tradesentry/internal/idempotency"
	"github.com/tradesentry/tradesentry/internal/market"
)

// consumeEvents feeds the runtime from the event bus: terminal order
// events settle in-flight orders, breaker trips demanding a full close
// flatten the book.
func (r *Runtime) consumeEvents(ctx context.Context) error {
	sub := r.deps.Bus.Subscribe("engine", r.cfg.Bus.SubscriberSize)
	defer sub.Close()

	for {
		select {
		case <-ctx.Done():
			return nil
		case evt, ok := <-sub.C():
			if !ok {
				return nil
			}
			r.handleEvent(ctx, evt)
		}
	}
}

func (r *Runtime) handleEvent(ctx context.Context, evt events.Event) {
	switch evt.Type {
	case events.TypeOrderFilled, events.TypeOrderCancelled, events.TypeOrderRejected:
		if evt.OrderID == "" {
			return
		}
		order, err := r.deps.Venue.GetOrder(ctx, evt.OrderID)
		if err != nil {
			// The busy path retries the lookup next tick.
			r.logger.Warn().Err(err).
				Str("client_order_id", evt.OrderID).
				Str("event_type", string(evt.Type)).
				Msg("settle lookup failed")
			return
		}
		r.settle(ctx, order)
	case events.TypeBreakerTriggered:
		scope, _ := evt.Payload["close_scope"].(string)
		if scope != breaker.CloseAll {
			return
		}
		reason, _ := evt.Payload["reason"].(string)
		r.flattenAll(ctx, reason)
	}
}

// settle finalizes one terminal order exactly once: frees the symbol's
// in-flight slot, books the fill, and persists the final row. Duplicate
// calls for the same order id are no-ops.
func (r *Runtime) settle(ctx context.Context, order *exchange.Order) {
	if order == nil || !order.Terminal() {
		return
	}
	key := idempotency.NormalizeSymbol(order.Symbol)

	qty := order.FilledQty
	if qty <= 0 {
		qty = order.Quantity
	}

	r.mu.Lock()
	if _, done := r.settled[order.ClientOrderID]; done {
		r.mu.Unlock()
		return
	}
	r.settled[order.ClientOrderID] = struct{}{}
	r.settledFIFO = append(r.settledFIFO, order.ClientOrderID)
	if len(r.settledFIFO) > settledWindow {
		delete(r.settled, r.settledFIFO[0])
		r.settledFIFO = r.settledFIFO[1:]
	}

	if r.pending[key] == order.ClientOrderID {
		delete(r.pending, key)
	}
	intent, isClose := r.closes[order.ClientOrderID]
	delete(r.closes, order.ClientOrderID)
	if !isClose && order.ReduceOnly {
		// Fill event outran the submit path; the intent is still on
		// the symbol slot.
		if staged, ok := r.staged[key]; ok {
			intent, isClose = staged, true
			delete(r.staged, key)
		}
	}

	filled := order.Status == exchange.OrderStatusFilled
	if isClose && filled && qty >= intent.size*0.999 {
		// Position is gone; drop its attribution and the reconcile
		// baseline so the close is not booked a second time.
		delete(r.posStrategy, key)
		delete(r.lastPos, key)
	}
	r.mu.Unlock()

	if filled {
		r.bookFill(order, qty, intent, isClose)
	}
	r.persistOrder(ctx, order)
}

// bookFill feeds one fill into the day ledger and, for closes, the
// strategy breaker tier. Opening fills only realize their fee; the
// position's pnl stays unrealized until something closes it.
func (r *Runtime) bookFill(order *exchange.Order, qty float64, intent closeIntent, isClose bool) {
	if !isClose {
		if order.Fee != 0 {
			r.deps.Gateway.Ledger().RecordFill(-order.Fee)
		}
		return
	}

	pnl := (order.AvgFillPrice - intent.entryPrice) * qty
	if intent.short {
		pnl = -pnl
	}
	pnl -= order.Fee

	r.deps.Gateway.Ledger().RecordFill(pnl)
	r.deps.Breakers.RecordTrade(intent.strategyID, pnl, intent.entryPrice*qty)

	r.logger.Info().
		Str("symbol", order.Symbol).
		Str("client_order_id", order.ClientOrderID).
		Str("strategy_id", intent.strategyID).
		Float64("qty", qty).
		Float64("fill_price", order.AvgFillPrice).
		Float64("realized_pnl", pnl).
		Msg("close settled")
}

func (r *Runtime) persistOrder(ctx context.Context, order *exchange.Order) {
	if r.deps.Orders == nil || order == nil {
		return
	}
	if err := r.deps.Orders.Upsert(ctx, order); err != nil {
		r.logger.Warn().Err(err).
			Str("client_order_id", order.ClientOrderID).
			Msg("order row upsert failed")
	}
}

// reconcile books positions the venue closed on its own, typically a
// protective stop or target printing inside a bar without an order the
// engine ever saw. A vanished position with no close in flight realizes
// at the protective level the last bar reached, stop checked before
// target to match the venue's own pessimistic rule; failing that the
// snapshot price stands in.
func (r *Runtime) reconcile(symbol string, st *market.State, positions []exchange.Position) {
	key := idempotency.NormalizeSymbol(symbol)
	cur := findPosition(positions, symbol)

	r.mu.Lock()
	prev, had := r.lastPos[key]
	if cur != nil {
		r.lastPos[key] = *cur
	} else {
		delete(r.lastPos, key)
	}
	closing := false
	if id, ok := r.pending[key]; ok {
		if _, isClose := r.closes[id]; isClose {
			closing = true
		}
	}
	if _, ok := r.staged[key]; ok {
		closing = true
	}
	strategyID := r.posStrategy[key]
	if had && cur == nil && !closing {
		delete(r.posStrategy, key)
	}
	r.mu.Unlock()

	if !had || cur != nil || closing {
		return
	}

	exit := protectiveExit(prev, lastBar(st))
	if exit <= 0 {
		exit = st.Price
	}
	if exit <= 0 {
		r.logger.Warn().Str("symbol", symbol).Msg("position vanished without a bookable exit price")
		return
	}

	fee := exit * prev.Size * r.cfg.Exchange.Fees.Taker
	pnl := (exit - prev.EntryPrice) * prev.Size
	if prev.Side == exchange.PositionSideShort {
		pnl = -pnl
	}
	pnl -= fee

	if strategyID == "" {
		strategyID = agents.StrategyCommittee
	}
	r.deps.Gateway.Ledger().RecordFill(pnl)
	r.deps.Breakers.RecordTrade(strategyID, pnl, prev.EntryPrice*prev.Size)

	r.logger.Info().
		Str("symbol", symbol).
		Str("strategy_id", strategyID).
		Float64("exit_price", exit).
		Float64("realized_pnl", pnl).
		Msg("venue-side close booked")
}

func lastBar(st *market.State) *exchange.Candle {
	bars := st.Candles[st.Timeframe]
	if len(bars) == 0 {
		return nil
	}
	return &bars[len(bars)-1]
}

// protectiveExit picks the level a protective order printed at, stop
// before target when the bar spans both.
func protectiveExit(pos exchange.Position, bar *exchange.Candle) float64 {
	if bar == nil {
		return 0
	}
	if pos.Side == exchange.PositionSideLong {
		if pos.StopLoss > 0 && bar.Low <= pos.StopLoss {
			return pos.StopLoss
		}
		if pos.TakeProfit > 0 && bar.High >= pos.TakeProfit {
			return pos.TakeProfit
		}
		return 0
	}
	if pos.StopLoss > 0 && bar.High >= pos.StopLoss {
		return pos.StopLoss
	}
	if pos.TakeProfit > 0 && bar.Low <= pos.TakeProfit {
		return pos.TakeProfit
	}
	return 0
}
