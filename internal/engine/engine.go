// Package engine runs the trading loop. A Runtime owns one goroutine
// per configured symbol, each turning market snapshots into committee
// decisions and gateway-admitted orders, plus the fill feedback that
// keeps the day ledger and circuit breakers honest, the once-a-day
// maintenance workflow and the pause/resume/shutdown lifecycle the API
// exposes.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/tradesentry/tradesentry/internal/agents"
	"github.com/tradesentry/tradesentry/internal/breaker"
	"github.com/tradesentry/tradesentry/internal/config"
	"github.com/tradesentry/tradesentry/internal/events"
	"github.com/tradesentry/tradesentry/internal/exchange"
	"github.com/tradesentry/tradesentry/internal/market"
	"github.com/tradesentry/tradesentry/internal/metrics"
	"github.com/tradesentry/tradesentry/internal/risk"
	"github.com/tradesentry/tradesentry/internal/state"
)

// Lifecycle command errors, mapped onto the API error envelope.
var (
	ErrAlreadyPaused  = errors.New("trading already paused")
	ErrAlreadyRunning = errors.New("trading already running")
)

// breakerCheckInterval drives breaker recovery lifecycles.
const breakerCheckInterval = 30 * time.Second

// settledWindow bounds the settled-order dedup set. Fill events echo
// orders the submit path may have settled inline already; remembering
// the last thousand ids is far more than one event round-trip needs.
const settledWindow = 1024

// MarketSource yields per-symbol snapshots. Implemented by
// market.Service.
type MarketSource interface {
	GetMarketState(ctx context.Context, symbol string) (*market.State, error)
}

// Decider turns one snapshot and portfolio view into a decision.
// Implemented by agents.Coordinator.
type Decider interface {
	Decide(ctx context.Context, state *market.State, view agents.PortfolioView) *agents.TradeDecision
}

// Venue is the slice of the execution service the engine calls
// directly: account reads for the portfolio view, order lookups for
// in-flight tracking, and CreateOrder for the emergency close path
// that must not sit behind gateway admission.
type Venue interface {
	CreateOrder(ctx context.Context, req exchange.OrderRequest) (*exchange.Order, error)
	GetOrder(ctx context.Context, clientOrderID string) (*exchange.Order, error)
	GetBalance(ctx context.Context) (*exchange.Balance, error)
	GetPositions(ctx context.Context) ([]exchange.Position, error)
	GetTicker(ctx context.Context, symbol string) (*exchange.Ticker, error)
}

// OrderSink persists order snapshots. Implemented by db.OrderStore.
type OrderSink interface {
	Upsert(ctx context.Context, o *exchange.Order) error
}

// Annotator attaches the advisory model's second opinion to decisions.
// Implemented by advisor.Advisor; calls must never block the tick.
type Annotator interface {
	Annotate(d agents.TradeDecision)
}

// BarSink receives closed bars when the venue is simulated, advancing
// the simulator's clock, protective stops and resting fills in step
// with the data the decisions saw. Implemented by exchange.Simulator.
type BarSink interface {
	UpdateBar(symbol string, bar exchange.Candle)
	BarIndex() int
}

// FearGreedSource supplies the sentiment index for the daily artefact.
type FearGreedSource interface {
	Index(ctx context.Context) (market.FearGreedIndex, error)
}

// Deps bundles the runtime's collaborators. Config, Bus, Market,
// Decider, Gateway, Venue and Breakers are required; the rest degrade
// to no-ops when nil.
type Deps struct {
	Config   *config.Config
	Bus      *events.Bus
	Market   MarketSource
	Decider  Decider
	Gateway  *risk.Gateway
	Venue    Venue
	Breakers *breaker.Manager

	Advisor   Annotator
	Orders    OrderSink
	State     *state.Writer
	FearGreed FearGreedSource
	Bars      BarSink
}

// closeIntent remembers what a reducing order is closing so the fill
// can be booked as realized pnl against the right strategy.
type closeIntent struct {
	entryPrice float64
	short      bool
	size       float64 // position size when the close was submitted
	strategyID string
}

// Runtime is the live trading loop.
type Runtime struct {
	cfg  *config.Config
	deps Deps

	// Maps below are keyed by the venue-normalized symbol unless noted.
	mu          sync.Mutex
	paused      bool
	startedAt   time.Time
	lastTick    map[string]time.Time   // keyed by the configured spelling
	pending     map[string]string      // in-flight client order id
	closes      map[string]closeIntent // keyed by client order id
	staged      map[string]closeIntent // armed before submission assigns the id
	settled     map[string]struct{}    // recently settled order ids
	settledFIFO []string
	posStrategy map[string]string // strategy that opened the position
	lastPos     map[string]exchange.Position
	cancel      context.CancelFunc

	emergency  atomic.Bool
	flattening atomic.Bool

	logger zerolog.Logger
	now    func() time.Time
}

// New validates deps and builds a runtime. The loop starts paused when
// trading.start_paused is set.
func New(deps Deps) (*Runtime, error) {
	switch {
	case deps.Config == nil:
		return nil, fmt.Errorf("engine: config is required")
	case deps.Bus == nil:
		return nil, fmt.Errorf("engine: event bus is required")
	case deps.Market == nil:
		return nil, fmt.Errorf("engine: market source is required")
	case deps.Decider == nil:
		return nil, fmt.Errorf("engine: decider is required")
	case deps.Gateway == nil:
		return nil, fmt.Errorf("engine: risk gateway is required")
	case deps.Venue == nil:
		return nil, fmt.Errorf("engine: venue is required")
	case deps.Breakers == nil:
		return nil, fmt.Errorf("engine: breaker manager is required")
	}

	r := &Runtime{
		cfg:         deps.Config,
		deps:        deps,
		paused:      deps.Config.Trading.StartPaused,
		lastTick:    make(map[string]time.Time),
		pending:     make(map[string]string),
		closes:      make(map[string]closeIntent),
		staged:      make(map[string]closeIntent),
		settled:     make(map[string]struct{}),
		posStrategy: make(map[string]string),
		lastPos:     make(map[string]exchange.Position),
		logger:      log.With().Str("component", "engine").Logger(),
		now:         time.Now,
	}
	if r.paused {
		metrics.EnginePaused.Set(1)
	}
	return r, nil
}

// Run drives the loop until ctx ends or Stop is called, then performs
// the ordered shutdown: drain in-flight orders (skipped after an
// emergency stop), persist breaker states, emit SHUTDOWN. Closing the
// adapters and stores stays with the caller.
func (r *Runtime) Run(ctx context.Context) error {
	rctx, cancel := context.WithCancel(ctx)
	defer cancel()

	r.mu.Lock()
	r.cancel = cancel
	r.startedAt = r.now()
	r.mu.Unlock()

	interval := r.cfg.Trading.TickEvery(r.cfg.Market.BarDuration())
	r.logger.Info().
		Str("venue", r.cfg.Exchange.Name).
		Strs("symbols", r.cfg.Market.Symbols).
		Dur("tick_interval", interval).
		Bool("start_paused", r.IsPaused()).
		Msg("trading engine starting")

	g, gctx := errgroup.WithContext(rctx)
	g.Go(func() error {
		r.deps.Breakers.Run(gctx, breakerCheckInterval)
		return nil
	})
	g.Go(func() error { return r.consumeEvents(gctx) })
	g.Go(func() error { return r.runDaily(gctx) })
	for _, symbol := range r.cfg.Market.Symbols {
		g.Go(func() error { return r.runSymbol(gctx, symbol, interval) })
	}

	err := g.Wait()
	r.shutdown()
	return err
}

// Stop ends Run without an external context cancellation.
func (r *Runtime) Stop() {
	r.mu.Lock()
	cancel := r.cancel
	r.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// Emergency reports whether the runtime stopped through the emergency
// path. The process maps this onto its exit code.
func (r *Runtime) Emergency() bool { return r.emergency.Load() }

func (r *Runtime) shutdown() {
	timeout := r.cfg.Trading.ShutdownTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if r.emergency.Load() {
		r.logger.Warn().Msg("emergency stop, skipping in-flight order drain")
	} else {
		r.awaitInFlight(ctx)
	}

	r.deps.Breakers.Persist()

	r.deps.Bus.Publish(events.Event{
		Type: events.TypeShutdown,
		Payload: map[string]any{
			"emergency": r.emergency.Load(),
			"venue":     r.cfg.Exchange.Name,
		},
	})
	r.logger.Info().Bool("emergency", r.emergency.Load()).Msg("trading engine stopped")
}

// awaitInFlight polls non-terminal engine orders until they settle or
// the shutdown deadline passes. The event consumer is already gone at
// this point, so terminal orders are settled inline.
func (r *Runtime) awaitInFlight(ctx context.Context) {
	for {
		ids := r.pendingSnapshot()
		if len(ids) == 0 {
			return
		}
		for symbol, id := range ids {
			r.resolvePending(ctx, symbol, id)
		}
		if len(r.pendingSnapshot()) == 0 {
			return
		}
		select {
		case <-ctx.Done():
			r.logger.Warn().
				Int("orders", len(r.pendingSnapshot())).
				Msg("shutdown deadline reached with orders still in flight")
			return
		case <-time.After(500 * time.Millisecond):
		}
	}
}

func (r *Runtime) pendingSnapshot() map[string]string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]string, len(r.pending))
	for symbol, id := range r.pending {
		out[symbol] = id
	}
	return out
}

// resolvePending checks one in-flight order against the venue and
// settles it when terminal. Returns true when the slot is now free.
func (r *Runtime) resolvePending(ctx context.Context, symbol, clientOrderID string) bool {
	order, err := r.deps.Venue.GetOrder(ctx, clientOrderID)
	if err != nil {
		r.logger.Debug().Err(err).
			Str("symbol", symbol).
			Str("client_order_id", clientOrderID).
			Msg("in-flight order lookup failed")
		return false
	}
	if !order.Terminal() {
		return false
	}
	r.settle(ctx, order)
	return true
}

// Pause suspends decision ticks. In-flight orders keep settling and
// breaker feeds keep running.
func (r *Runtime) Pause(source string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.paused {
		return ErrAlreadyPaused
	}
	r.paused = true
	metrics.EnginePaused.Set(1)
	r.logger.Warn().Str("source", source).Msg("trading paused")
	return nil
}

// Resume restarts decision ticks.
func (r *Runtime) Resume(source string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.paused {
		return ErrAlreadyRunning
	}
	r.paused = false
	metrics.EnginePaused.Set(0)
	r.logger.Warn().Str("source", source).Msg("trading resumed")
	return nil
}

// IsPaused reports whether decision ticks are suspended.
func (r *Runtime) IsPaused() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.paused
}

// Status is the operator view of the loop, served by /api/v1/status
// and the websocket status command.
type Status struct {
	Paused    bool                 `json:"paused"`
	Venue     string               `json:"venue"`
	Symbols   []string             `json:"symbols"`
	StartedAt time.Time            `json:"started_at"`
	LastTick  map[string]time.Time `json:"last_tick,omitempty"`
	Breakers  breaker.Snapshot     `json:"breakers"`
	Timestamp time.Time            `json:"timestamp"`
}

// Status snapshots the runtime.
func (r *Runtime) Status() Status {
	r.mu.Lock()
	last := make(map[string]time.Time, len(r.lastTick))
	for symbol, at := range r.lastTick {
		last[symbol] = at
	}
	st := Status{
		Paused:    r.paused,
		Venue:     r.cfg.Exchange.Name,
		Symbols:   r.cfg.Market.Symbols,
		StartedAt: r.startedAt,
		LastTick:  last,
		Timestamp: r.now().UTC(),
	}
	r.mu.Unlock()

	st.Breakers = r.deps.Breakers.States()
	return st
}

// EmergencyStop trips the account and system breakers, flattens every
// position through the direct venue path and ends Run. The in-flight
// drain is skipped: closing exposure beats waiting for stragglers.
func (r *Runtime) EmergencyStop(ctx context.Context, reason string) []exchange.Position {
	if !r.emergency.CompareAndSwap(false, true) {
		return nil
	}
	if err := r.Pause("emergency"); err != nil && !errors.Is(err, ErrAlreadyPaused) {
		r.logger.Error().Err(err).Msg("emergency pause failed")
	}

	positions, err := r.deps.Venue.GetPositions(ctx)
	if err != nil {
		r.logger.Error().Err(err).Msg("emergency stop could not list positions")
	}

	toClose := r.deps.Breakers.EmergencyShutdown(reason, positions)
	for _, pos := range toClose {
		if _, cerr := r.closePosition(ctx, pos, "emergency"); cerr != nil {
			r.logger.Error().Err(cerr).
				Str("symbol", pos.Symbol).
				Msg("emergency close failed")
		}
	}

	r.Stop()
	return toClose
}
