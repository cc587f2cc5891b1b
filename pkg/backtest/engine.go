// Package backtest replays closed bars through the same decision and
// admission pipeline the live engine runs: committee decision, risk
// gateway, idempotent reservation, simulated venue. Orders submitted
// on bar i fill at bar i+1's close, so a decision can never consume
// the bar it is standing on twice; the simulator's look-ahead guard
// enforces the same boundary from the venue side.
package backtest

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/tradesentry/tradesentry/internal/agents"
	"github.com/tradesentry/tradesentry/internal/audit"
	"github.com/tradesentry/tradesentry/internal/breaker"
	"github.com/tradesentry/tradesentry/internal/config"
	"github.com/tradesentry/tradesentry/internal/events"
	"github.com/tradesentry/tradesentry/internal/exchange"
	"github.com/tradesentry/tradesentry/internal/idempotency"
	"github.com/tradesentry/tradesentry/internal/market"
	"github.com/tradesentry/tradesentry/internal/risk"
	"github.com/tradesentry/tradesentry/internal/strategy"
)

// Config tunes one backtest run. Zero values fall back to the same
// defaults the daemon ships with.
type Config struct {
	Symbol    string
	Timeframe string
	// Warmup is how many bars feed indicators before the first
	// decision. Must cover the slowest indicator chain.
	Warmup int

	Simulator  exchange.SimulatorConfig
	Risk       config.RiskLimits
	Breaker    config.BreakerConfig
	Agents     config.AgentsConfig
	Strategies config.StrategiesConfig
}

// DefaultConfig mirrors the daemon's shipped defaults with the
// simulator pinned to deterministic backtest behaviour.
func DefaultConfig(symbol string) Config {
	sim := exchange.DefaultSimulatorConfig()
	sim.FillAtNextBar = true

	return Config{
		Symbol:    symbol,
		Timeframe: "1h",
		Warmup:    40,
		Simulator: sim,
		Risk: config.RiskLimits{
			MaxPositionPct:          0.10,
			MaxTotalExposure:        0.40,
			MaxSingleSymbolExposure: 0.15,
			MaxOpenPositions:        3,
			MaxLeverage:             3.0,
			MaxStopLossPct:          0.10,
			MinStopLossPct:          0.01,
			MaxTakeProfitPct:        0.30,
			MaxDailyLoss:            0.05,
			MaxDailyTrades:          20,
			MaxTotalDrawdown:        0.15,
			CircuitBreakerTrigger:   0.08,
			MinOrderSize:            0.0001,
			SoftLimits:              true,
		},
		Agents: config.AgentsConfig{
			AgentTimeout:   2 * time.Second,
			DebateRounds:   3,
			MinActionScore: 0.1,
			RiskVetoScore:  -0.5,
			BaseStopPct:    0.02,
		},
		Breaker: config.BreakerConfig{
			StrategyMaxDailyLoss:         0.05,
			StrategyMaxConsecutiveLosses: 5,
			AccountMaxDailyLoss:          0.10,
			AccountMaxDrawdown:           0.20,
			SystemVolatilityThreshold:    0.20,
			SystemAPIFailureThreshold:    5,
			SystemPanicSellThreshold:     0.15,
			AutoRecoverMinutes:           60,
		},
	}
}

// Trade is one closed round trip reconstructed from the venue's
// position stream. Protective marks exits the simulator performed
// itself at a stop or target level.
type Trade struct {
	Symbol     string                `json:"symbol"`
	Side       exchange.PositionSide `json:"side"`
	StrategyID string                `json:"strategy_id,omitempty"`
	Size       float64               `json:"size"`
	EntryPrice float64               `json:"entry_price"`
	ExitPrice  float64               `json:"exit_price"`
	PnL        float64               `json:"pnl"` // net of entry and exit fees
	OpenedBar  int                   `json:"opened_bar"`
	ClosedBar  int                   `json:"closed_bar"`
	Protective bool                  `json:"protective"`
}

// EquityPoint is one sample of the account equity curve.
type EquityPoint struct {
	Bar    int       `json:"bar"`
	Time   time.Time `json:"time"`
	Equity float64   `json:"equity"`
}

// Result is everything a run produced.
type Result struct {
	Symbol         string         `json:"symbol"`
	Bars           int            `json:"bars"`
	InitialBalance float64        `json:"initial_balance"`
	FinalEquity    float64        `json:"final_equity"`
	OpenPositions  int            `json:"open_positions"`
	Equity         []EquityPoint  `json:"equity"`
	Trades         []Trade        `json:"trades"`
	Audit          []audit.Record `json:"-"`
	Stats          Stats          `json:"stats"`
}

// memAuditor keeps the decision trail in memory; a backtest has no
// database but the audit contract (exactly one record per submission,
// before any venue call) still holds.
type memAuditor struct {
	mu      sync.Mutex
	records []audit.Record
}

func (a *memAuditor) Append(_ context.Context, rec audit.Record) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.records = append(a.records, rec)
	return nil
}

func (a *memAuditor) Records() []audit.Record {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]audit.Record, len(a.records))
	copy(out, a.records)
	return out
}

// openPosition is the runner's book of one live position, kept so a
// venue-side close can be turned into a Trade.
type openPosition struct {
	side       exchange.PositionSide
	size       float64
	entry      float64
	stop       float64
	target     float64
	openedBar  int
	strategyID string
}

// Runner drives one symbol's candles through the pipeline.
type Runner struct {
	cfg         Config
	bus         *events.Bus
	sim         *exchange.Simulator
	breakers    *breaker.Manager
	gateway     *risk.Gateway
	coordinator *agents.Coordinator
	auditor     *memAuditor

	open            map[string]openPosition
	pendingStrategy string
	trades          []Trade
	equity          []EquityPoint

	logger zerolog.Logger
}

// NewRunner wires the pipeline against a fresh simulated venue.
func NewRunner(cfg Config) (*Runner, error) {
	if cfg.Symbol == "" {
		return nil, fmt.Errorf("backtest: symbol is required")
	}
	if cfg.Timeframe == "" {
		cfg.Timeframe = "1h"
	}
	if cfg.Warmup <= 0 {
		cfg.Warmup = 40
	}
	if cfg.Simulator.InitialBalance <= 0 {
		cfg.Simulator = exchange.DefaultSimulatorConfig()
	}
	// Determinism: fills at the next bar's close, no synthetic latency.
	cfg.Simulator.FillAtNextBar = true
	cfg.Simulator.LatencyMin = 0
	cfg.Simulator.LatencyMax = 0

	if cfg.Breaker.StateFile == "" {
		dir, err := os.MkdirTemp("", "backtest-breakers")
		if err != nil {
			return nil, fmt.Errorf("backtest: breaker state dir: %w", err)
		}
		cfg.Breaker.StateFile = filepath.Join(dir, "circuit_breakers.json")
	}

	logger := config.NewLogger("backtest")

	bus := events.NewBus()
	breakers, err := breaker.New(cfg.Breaker, bus)
	if err != nil {
		bus.Close()
		return nil, fmt.Errorf("backtest: breakers: %w", err)
	}

	sim := exchange.NewSimulator(cfg.Simulator, nil)
	idem := idempotency.NewManager(idempotency.NewMemoryStore(), 24*time.Hour, 5*time.Second)
	auditor := &memAuditor{}

	gateway := risk.New(cfg.Risk, cfg.Breaker, risk.Deps{
		Venue:    sim,
		Breaker:  breakers,
		Reserver: idem,
		Auditor:  auditor,
		Bus:      bus,
	})

	registry := strategy.NewRegistry(cfg.Strategies, logger)
	coordinator := agents.NewCoordinator(cfg.Agents, gateway.Limits(), agents.DefaultCommittee(registry), logger)

	return &Runner{
		cfg:         cfg,
		bus:         bus,
		sim:         sim,
		breakers:    breakers,
		gateway:     gateway,
		coordinator: coordinator,
		auditor:     auditor,
		open:        make(map[string]openPosition),
		logger:      logger,
	}, nil
}

// Run replays the candles oldest-first and returns the aggregated
// result. The candle slice is the single source of prices: the
// simulator sees exactly the bars the decisions saw.
func (r *Runner) Run(ctx context.Context, candles []exchange.Candle) (*Result, error) {
	defer r.bus.Close()

	if len(candles) <= r.cfg.Warmup+1 {
		return nil, fmt.Errorf("backtest: need more than %d bars, have %d", r.cfg.Warmup+1, len(candles))
	}
	if err := r.sim.Connect(ctx); err != nil {
		return nil, fmt.Errorf("backtest: connect: %w", err)
	}

	for i, bar := range candles {
		if ctx.Err() != nil {
			break
		}

		r.sim.UpdateBar(r.cfg.Symbol, bar)
		r.settleCloses(ctx, i, bar)

		if i >= r.cfg.Warmup {
			r.step(ctx, i, candles[:i+1])
		}

		r.recordEquity(ctx, i, bar)
	}

	r.breakers.Persist()

	positions, err := r.sim.GetPositions(ctx)
	if err != nil {
		return nil, fmt.Errorf("backtest: final positions: %w", err)
	}
	bal, err := r.sim.GetBalance(ctx)
	if err != nil {
		return nil, fmt.Errorf("backtest: final balance: %w", err)
	}

	result := &Result{
		Symbol:         r.cfg.Symbol,
		Bars:           len(candles),
		InitialBalance: r.cfg.Simulator.InitialBalance,
		FinalEquity:    bal.Equity,
		OpenPositions:  len(positions),
		Equity:         r.equity,
		Trades:         r.trades,
		Audit:          r.auditor.Records(),
	}
	result.Stats = ComputeStats(result.InitialBalance, r.equity, r.trades)
	return result, nil
}

// step runs one decision pass: snapshot, breaker feeds, committee,
// gateway. A failed step skips the bar; the next bar re-evaluates.
func (r *Runner) step(ctx context.Context, i int, window []exchange.Candle) {
	st, err := market.ComputeState(r.cfg.Symbol, r.cfg.Timeframe, window, i)
	if err != nil {
		r.logger.Debug().Err(err).Int("bar", i).Msg("snapshot skipped")
		return
	}

	if tripped := r.breakers.UpdateMarketMetrics(st.Volatility(), st.PanicRatio()); tripped {
		r.flatten(ctx, st.Price)
		return
	}

	bal, err := r.sim.GetBalance(ctx)
	if err != nil {
		r.logger.Error().Err(err).Int("bar", i).Msg("balance read failed")
		return
	}
	positions, err := r.sim.GetPositions(ctx)
	if err != nil {
		r.logger.Error().Err(err).Int("bar", i).Msg("positions read failed")
		return
	}

	stats := r.gateway.Ledger().Stats(bal.Equity)
	r.breakers.UpdateAccountMetrics(stats.LossPct, stats.Drawdown)

	// Sequential per symbol: while an order rests at the venue the
	// next decision waits for the bar that fills it.
	if r.hasRestingOrder(ctx) {
		return
	}

	view := r.buildView(bal, positions, stats)
	d := r.coordinator.Decide(ctx, st, view)
	if d == nil || !d.Actionable() {
		return
	}

	req, ok := r.buildRequest(d, st, view, bal.Equity)
	if !ok {
		return
	}

	r.pendingStrategy = d.StrategyID
	if _, err := r.gateway.Submit(ctx, req); err != nil {
		r.logger.Debug().Err(err).Int("bar", i).Str("symbol", d.Symbol).Msg("order not admitted")
	}
}

func (r *Runner) hasRestingOrder(ctx context.Context) bool {
	orders, err := r.sim.GetOpenOrders(ctx)
	if err != nil {
		return true
	}
	return len(orders) > 0
}

func (r *Runner) buildView(bal *exchange.Balance, positions []exchange.Position, stats risk.DayStats) agents.PortfolioView {
	limits := r.gateway.Limits()
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

// buildRequest mirrors the live engine's decision mapping: opens size
// from equity with protective levels, reduces close the matching live
// position reduce-only.
func (r *Runner) buildRequest(d *agents.TradeDecision, st *market.State, view agents.PortfolioView, equity float64) (exchange.OrderRequest, bool) {
	price := st.Price
	if price <= 0 {
		return exchange.OrderRequest{}, false
	}

	req := exchange.OrderRequest{
		TraceID:    d.TraceID,
		StrategyID: d.StrategyID,
		Source:     "backtest",
		Symbol:     d.Symbol,
		Side:       d.Action.Side(),
		Type:       exchange.OrderTypeMarket,
		Price:      price,
		Leverage:   d.Leverage,
		// The snapshot's own index, not the venue clock: a decision
		// computed over bars the simulator has not been shown yet must
		// trip the look-ahead guard, and stamping the clock here would
		// mask exactly that.
		BarIndex: d.BarIndex,
	}

	if d.Action.Opens() {
		if equity <= 0 || d.Size <= 0 {
			return exchange.OrderRequest{}, false
		}
		req.Quantity = d.Size * equity / price
		if d.StopLossPct > 0 {
			if req.Side == exchange.OrderSideBuy {
				req.StopLoss = price * (1 - d.StopLossPct)
			} else {
				req.StopLoss = price * (1 + d.StopLossPct)
			}
		}
		if d.TakeProfitPct > 0 {
			if req.Side == exchange.OrderSideBuy {
				req.TakeProfit = price * (1 + d.TakeProfitPct)
			} else {
				req.TakeProfit = price * (1 - d.TakeProfitPct)
			}
		}
		return req, true
	}

	var pos *exchange.Position
	for i := range view.Positions {
		p := &view.Positions[i]
		if p.Symbol != d.Symbol || p.Size <= 0 {
			continue
		}
		switch d.Action {
		case agents.ActionSell:
			if p.Side == exchange.PositionSideLong {
				pos = p
			}
		case agents.ActionCover:
			if p.Side == exchange.PositionSideShort {
				pos = p
			}
		case agents.ActionClose:
			pos = p
		}
		if pos != nil {
			break
		}
	}
	if pos == nil {
		return exchange.OrderRequest{}, false
	}

	if pos.Side == exchange.PositionSideShort {
		req.Side = exchange.OrderSideBuy
	} else {
		req.Side = exchange.OrderSideSell
	}
	req.Quantity = pos.Size
	req.Leverage = pos.Leverage
	req.ReduceOnly = true
	return req, true
}

// flatten closes every open position through the direct venue path,
// same as the live engine's system-trip response. The close order
// rests until the next bar fills it.
func (r *Runner) flatten(ctx context.Context, refPrice float64) {
	positions, err := r.sim.GetPositions(ctx)
	if err != nil {
		r.logger.Error().Err(err).Msg("flatten could not list positions")
		return
	}
	for _, pos := range positions {
		side := exchange.OrderSideSell
		if pos.Side == exchange.PositionSideShort {
			side = exchange.OrderSideBuy
		}
		req := exchange.OrderRequest{
			ClientOrderID: idempotency.NewClientOrderID(idempotency.ActionFlat, pos.Symbol, time.Now()),
			TraceID:       uuid.NewString(),
			StrategyID:    r.open[pos.Symbol].strategyID,
			Source:        "backtest-flatten",
			Symbol:        pos.Symbol,
			Side:          side,
			Type:          exchange.OrderTypeMarket,
			Quantity:      pos.Size,
			Price:         refPrice,
			ReduceOnly:    true,
			BarIndex:      r.sim.BarIndex(),
		}
		if _, err := r.sim.CreateOrder(ctx, req); err != nil {
			r.logger.Error().Err(err).Str("symbol", pos.Symbol).Msg("flatten order failed")
		}
	}
}

// settleCloses diffs the venue's positions against the runner's book:
// vanished positions become Trades, new ones are recorded. The exit
// price follows the simulator's own protective ordering: stop first,
// then target, else the bar's close.
func (r *Runner) settleCloses(ctx context.Context, bar int, candle exchange.Candle) {
	positions, err := r.sim.GetPositions(ctx)
	if err != nil {
		return
	}

	live := make(map[string]exchange.Position, len(positions))
	for _, p := range positions {
		live[p.Symbol] = p
	}

	for symbol, book := range r.open {
		if _, still := live[symbol]; still {
			continue
		}

		exit, protective := protectiveExit(book, candle)
		pnl := (exit - book.entry) * book.size
		if book.side == exchange.PositionSideShort {
			pnl = -pnl
		}
		fees := (book.entry + exit) * book.size * r.cfg.Simulator.TakerFee
		pnl -= fees

		r.trades = append(r.trades, Trade{
			Symbol:     symbol,
			Side:       book.side,
			StrategyID: book.strategyID,
			Size:       book.size,
			EntryPrice: book.entry,
			ExitPrice:  exit,
			PnL:        pnl,
			OpenedBar:  book.openedBar,
			ClosedBar:  bar,
			Protective: protective,
		})

		r.gateway.Ledger().RecordFill(pnl)
		r.breakers.RecordTrade(book.strategyID, pnl, book.entry*book.size)
		delete(r.open, symbol)
	}

	for symbol, p := range live {
		if _, known := r.open[symbol]; known {
			continue
		}
		strategyID := r.pendingStrategy
		if strategyID == "" {
			strategyID = "committee"
		}
		r.open[symbol] = openPosition{
			side:       p.Side,
			size:       p.Size,
			entry:      p.EntryPrice,
			stop:       p.StopLoss,
			target:     p.TakeProfit,
			openedBar:  bar,
			strategyID: strategyID,
		}
	}
}

// protectiveExit estimates where a vanished position went out, using
// the same stop-before-target ordering the simulator applies.
func protectiveExit(book openPosition, bar exchange.Candle) (price float64, protective bool) {
	if book.side == exchange.PositionSideLong {
		if book.stop > 0 && bar.Low <= book.stop {
			return book.stop, true
		}
		if book.target > 0 && bar.High >= book.target {
			return book.target, true
		}
	} else {
		if book.stop > 0 && bar.High >= book.stop {
			return book.stop, true
		}
		if book.target > 0 && bar.Low <= book.target {
			return book.target, true
		}
	}
	return bar.Close, false
}

func (r *Runner) recordEquity(ctx context.Context, bar int, candle exchange.Candle) {
	bal, err := r.sim.GetBalance(ctx)
	if err != nil {
		return
	}
	r.equity = append(r.equity, EquityPoint{Bar: bar, Time: candle.CloseTime, Equity: bal.Equity})
}
