// Package risk implements the order admission gateway: the single
// mandatory checkpoint between any decision source and any venue call.
// Every request is either admitted, possibly with size or leverage
// reduced, or rejected with a typed reason. Either way exactly one
// audit record is written, and always before the venue sees the order.
package risk

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/tradesentry/tradesentry/internal/audit"
	"github.com/tradesentry/tradesentry/internal/breaker"
	"github.com/tradesentry/tradesentry/internal/config"
	"github.com/tradesentry/tradesentry/internal/events"
	"github.com/tradesentry/tradesentry/internal/exchange"
	"github.com/tradesentry/tradesentry/internal/idempotency"
	"github.com/tradesentry/tradesentry/internal/metrics"
)

// Rule names, in evaluation order. The first failing rule decides a
// rejection; clamping rules append themselves to the applied list.
const (
	RuleRequest        = "request" // pre-rule shape check
	RuleCircuitBreaker = "circuit_breaker"
	RuleBalance        = "balance"
	RuleSymbolDeny     = "symbol_deny"
	RuleLeverage       = "leverage"
	RulePositionLimit  = "position_limit"
	RuleSymbolExposure = "symbol_exposure"
	RuleTotalExposure  = "total_exposure"
	RuleOpenPositions  = "open_positions"
	RuleStopLoss       = "stop_loss"
	RuleTakeProfit     = "take_profit"
	RuleDailyLoss      = "daily_loss"
	RuleDailyTrades    = "daily_trades"
	RuleDrawdown       = "drawdown"
)

// Reject codes carried on rejected orders and the API error envelope
const (
	CodeRiskCheckFailed    = "RISK_CHECK_FAILED"
	CodeInsufficientMargin = "INSUFFICIENT_MARGIN"
	CodeLeverageExceeded   = "LEVERAGE_EXCEEDED"
	CodePositionLimit      = "POSITION_LIMIT_EXCEEDED"
	CodeAPIError           = "API_ERROR"
)

// Applied-rule actions
const (
	actionReduced = "reduced"
	actionClamped = "clamped"
)

// projectionTolerance absorbs float rounding so a loss projection that
// lands exactly on the threshold still counts as reaching it.
const projectionTolerance = 1e-9

// RejectError is the typed refusal Submit returns alongside the
// rejected order.
type RejectError struct {
	Rule    string
	Kind    string
	Message string
}

func (e *RejectError) Error() string {
	return fmt.Sprintf("risk check %s: %s", e.Rule, e.Message)
}

// Code classifies the rejection for the API error envelope
func (e *RejectError) Code() string { return e.Kind }

// BreakerTrip is the account-tier trip a failing projection or
// drawdown rule demands. Check only reports it; Submit performs the
// write so Check stays side-effect free.
type BreakerTrip struct {
	Reason    string
	Value     float64
	Threshold float64
}

// ValidationResult is the outcome of running the rule chain once
type ValidationResult struct {
	Allowed      bool
	Rule         string // first failing rule when rejected
	Kind         string // reject code when rejected
	Message      string
	RiskScore    float64
	Warnings     []string
	AppliedRules []audit.AppliedRule
	Modified     exchange.OrderRequest
	BreakerTrip  *BreakerTrip
}

// Venue is the slice of the execution service the gateway calls
type Venue interface {
	CreateOrder(ctx context.Context, req exchange.OrderRequest) (*exchange.Order, error)
	GetOrder(ctx context.Context, clientOrderID string) (*exchange.Order, error)
	GetBalance(ctx context.Context) (*exchange.Balance, error)
	GetPositions(ctx context.Context) ([]exchange.Position, error)
	GetOpenOrders(ctx context.Context) ([]exchange.Order, error)
}

// Breaker gates admission and accepts the gateway's account-tier trips
type Breaker interface {
	AllowOrder(strategyID string, reduceOnly bool) error
	TriggerAccount(reason string, value, threshold float64)
}

// Reserver claims order intents so resubmissions map onto the original
// order instead of producing a second one
type Reserver interface {
	Reserve(ctx context.Context, action idempotency.Action, symbol string, price, size float64) (idempotency.Reservation, error)
}

// Auditor appends decision records
type Auditor interface {
	Append(ctx context.Context, rec audit.Record) error
}

// Deps bundles the gateway's collaborators. Bus may be nil.
type Deps struct {
	Venue    Venue
	Breaker  Breaker
	Reserver Reserver
	Auditor  Auditor
	Bus      *events.Bus
}

// Gateway enforces the hard-limit rule set
type Gateway struct {
	deps   Deps
	ledger *Ledger

	mu           sync.RWMutex
	limits       config.RiskLimits
	projectedMax float64 // account breaker daily-loss threshold

	logger zerolog.Logger
	now    func() time.Time
}

// New builds a gateway. Limits are sanitized against the compiled
// bounds before first use.
func New(limits config.RiskLimits, breakerCfg config.BreakerConfig, deps Deps) *Gateway {
	return &Gateway{
		deps:         deps,
		ledger:       NewLedger(),
		limits:       SanitizeLimits(limits),
		projectedMax: breakerCfg.AccountMaxDailyLoss,
		logger:       log.With().Str("component", "risk-gateway").Logger(),
		now:          time.Now,
	}
}

// Ledger exposes the daily ledger so the engine can feed fills into it
// and roll the day.
func (g *Gateway) Ledger() *Ledger { return g.ledger }

// Limits returns the active limit set
func (g *Gateway) Limits() config.RiskLimits {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.limits
}

// UpdateLimits swaps the active limit set. Values looser than the
// compiled bounds are silently tightened back.
func (g *Gateway) UpdateLimits(limits config.RiskLimits) {
	sanitized := SanitizeLimits(limits)
	g.mu.Lock()
	g.limits = sanitized
	g.mu.Unlock()
	g.logger.Info().
		Float64("max_position_pct", sanitized.MaxPositionPct).
		Float64("max_leverage", sanitized.MaxLeverage).
		Float64("max_daily_loss", sanitized.MaxDailyLoss).
		Bool("soft_limits", sanitized.SoftLimits).
		Msg("risk limits updated")
}

// Submit runs the full admission pipeline: snapshot, rule chain,
// idempotent reservation, audit, venue. Rejections come back as a
// rejected Order plus a *RejectError so callers can branch on either.
func (g *Gateway) Submit(ctx context.Context, req exchange.OrderRequest) (*exchange.Order, error) {
	if req.TraceID == "" {
		req.TraceID = uuid.New().String()
	}

	state, err := g.AccountState(ctx)
	if err != nil {
		// No snapshot, no admission. The audit row still documents
		// the attempt.
		result := ValidationResult{
			Rule:     "account_state",
			Kind:     CodeAPIError,
			Message:  fmt.Sprintf("account snapshot unavailable: %v", err),
			Modified: req,
		}
		return g.rejectSubmit(ctx, req, result, state)
	}

	result := g.Check(req, state)

	if result.BreakerTrip != nil {
		g.deps.Breaker.TriggerAccount(result.BreakerTrip.Reason, result.BreakerTrip.Value, result.BreakerTrip.Threshold)
	}

	if !result.Allowed {
		return g.rejectSubmit(ctx, req, result, state)
	}

	modified := result.Modified

	// Reserve the intent before anything irreversible. A duplicate
	// reservation short-circuits to the original order; a store error
	// fails closed because an unprovable intent may already be live.
	reservation, err := g.deps.Reserver.Reserve(ctx, actionFor(modified), modified.Symbol, modified.Price, modified.Quantity)
	if err != nil {
		result.Allowed = false
		result.Rule = "idempotency"
		result.Kind = CodeAPIError
		result.Message = fmt.Sprintf("idempotency store unavailable: %v", err)
		return g.rejectSubmit(ctx, req, result, state)
	}

	modified.ClientOrderID = reservation.ClientOrderID
	result.Modified = modified

	rec := g.buildRecord(reservation.ClientOrderID, req, result, state)
	if aerr := g.deps.Auditor.Append(ctx, rec); aerr != nil {
		// Fail closed: nothing executes without its audit row
		result.Allowed = false
		result.Rule = "audit"
		result.Kind = CodeAPIError
		result.Message = fmt.Sprintf("audit append failed: %v", aerr)
		g.publishBlocked(modified, result)
		metrics.RiskBlocked.WithLabelValues(result.Rule).Inc()
		return rejectedOrder(req, result, g.now()), &RejectError{Rule: result.Rule, Kind: result.Kind, Message: result.Message}
	}

	if reservation.Duplicate {
		existing, gerr := g.deps.Venue.GetOrder(ctx, reservation.ClientOrderID)
		if gerr != nil {
			return nil, fmt.Errorf("duplicate intent %s but prior order unavailable: %w", reservation.ClientOrderID, gerr)
		}
		g.logger.Info().
			Str("client_order_id", reservation.ClientOrderID).
			Str("trace_id", req.TraceID).
			Msg("duplicate intent, returning prior order")
		return existing, nil
	}

	for _, applied := range result.AppliedRules {
		metrics.RiskClamped.WithLabelValues(applied.Rule).Inc()
	}
	// The daily budget counts admitted intents, not fills: counting
	// before the venue call means a venue-side reject still consumes a
	// slot, and a flapping venue cannot turn the trade cap into
	// unlimited retries.
	g.ledger.CountTrade()

	order, err := g.deps.Venue.CreateOrder(ctx, modified)
	if err != nil {
		return order, err
	}

	g.logger.Info().
		Str("client_order_id", order.ClientOrderID).
		Str("trace_id", order.TraceID).
		Str("symbol", order.Symbol).
		Str("side", string(order.Side)).
		Float64("quantity", order.Quantity).
		Float64("risk_score", result.RiskScore).
		Int("applied_rules", len(result.AppliedRules)).
		Msg("order admitted")
	return order, nil
}

// rejectSubmit finishes a refused Submit: audit row, blocked event,
// metrics, and the rejected order. An audit failure here is logged but
// cannot change the outcome, which is already a rejection.
func (g *Gateway) rejectSubmit(ctx context.Context, req exchange.OrderRequest, result ValidationResult, state AccountState) (*exchange.Order, error) {
	metrics.RiskBlocked.WithLabelValues(result.Rule).Inc()

	rec := g.buildRecord(req.ClientOrderID, req, result, state)
	if err := g.deps.Auditor.Append(ctx, rec); err != nil {
		g.logger.Error().Err(err).
			Str("trace_id", req.TraceID).
			Msg("audit append failed on rejected submission")
	}
	g.publishBlocked(req, result)

	g.logger.Warn().
		Str("trace_id", req.TraceID).
		Str("symbol", req.Symbol).
		Str("rule", result.Rule).
		Str("reason", result.Kind).
		Str("message", result.Message).
		Msg("order rejected")

	return rejectedOrder(req, result, g.now()), &RejectError{Rule: result.Rule, Kind: result.Kind, Message: result.Message}
}

// Check runs the hard-limit rule chain against one request and
// snapshot. It performs no I/O and no writes; breaker trips it decides
// are reported on the result for Submit to apply.
//
// Rule order is fixed: breaker, balance, deny list, leverage, position
// size, symbol exposure, total exposure, open positions, stop loss,
// take profit, daily loss, daily trades, drawdown. The first failure
// decides; clamping rules adjust and continue.
func (g *Gateway) Check(req exchange.OrderRequest, state AccountState) ValidationResult {
	g.mu.RLock()
	limits := g.limits
	projectedMax := g.projectedMax
	g.mu.RUnlock()

	res := ValidationResult{Allowed: true, Modified: req}
	mod := &res.Modified

	reject := func(rule, kind, msg string) ValidationResult {
		res.Allowed = false
		res.Rule = rule
		res.Kind = kind
		res.Message = msg
		res.RiskScore = riskScore(*mod, state, limits)
		return res
	}

	if req.Symbol == "" || req.Quantity <= 0 || req.Price <= 0 {
		return reject(RuleRequest, CodeRiskCheckFailed, "request must carry a symbol, a positive quantity and a positive price")
	}
	symbol := idempotency.NormalizeSymbol(req.Symbol)
	price := req.Price

	// 1. Circuit breakers
	if err := g.deps.Breaker.AllowOrder(req.StrategyID, req.ReduceOnly); err != nil {
		return reject(RuleCircuitBreaker, CodeRiskCheckFailed, err.Error())
	}

	// 2. Funding
	if state.AvailableBalance <= 0 {
		return reject(RuleBalance, CodeInsufficientMargin, "no available balance")
	}

	// 3. Deny list
	for _, denied := range limits.DenySymbols {
		if idempotency.NormalizeSymbol(denied) == symbol {
			return reject(RuleSymbolDeny, CodeRiskCheckFailed, fmt.Sprintf("symbol %s is deny-listed", symbol))
		}
	}

	// 4. Leverage
	if mod.Leverage > limits.MaxLeverage {
		if !limits.SoftLimits {
			return reject(RuleLeverage, CodeLeverageExceeded,
				fmt.Sprintf("leverage %.1fx exceeds maximum %.1fx", mod.Leverage, limits.MaxLeverage))
		}
		res.AppliedRules = append(res.AppliedRules, audit.AppliedRule{
			Rule: RuleLeverage, Action: actionClamped, Original: mod.Leverage, ReducedTo: limits.MaxLeverage,
		})
		res.Warnings = append(res.Warnings, fmt.Sprintf("leverage clamped from %.1fx to %.1fx", mod.Leverage, limits.MaxLeverage))
		mod.Leverage = limits.MaxLeverage
	}

	notional := mod.Quantity * price

	// Reducing orders shrink exposure; the sizing and loss-projection
	// rules exist to stop new risk, so they do not apply.
	if !mod.ReduceOnly {
		// 5. Position size vs equity
		maxNotional := state.Equity * limits.MaxPositionPct
		if notional > maxNotional {
			if !limits.SoftLimits {
				return reject(RulePositionLimit, CodePositionLimit,
					fmt.Sprintf("notional %.2f exceeds %.0f%% of equity", notional, limits.MaxPositionPct*100))
			}
			reduced := maxNotional / price
			if reduced < limits.MinOrderSize {
				return reject(RulePositionLimit, CodePositionLimit,
					fmt.Sprintf("size %.8f after position-limit reduction is below the %.8f dust floor", reduced, limits.MinOrderSize))
			}
			res.AppliedRules = append(res.AppliedRules, audit.AppliedRule{
				Rule: RulePositionLimit, Action: actionReduced, Original: mod.Quantity, ReducedTo: reduced,
			})
			res.Warnings = append(res.Warnings, fmt.Sprintf("size reduced from %v to %v by the position limit", mod.Quantity, reduced))
			mod.Quantity = reduced
			notional = maxNotional
		}

		// 6. Per-symbol exposure
		headroom := state.Equity*limits.MaxSingleSymbolExposure - state.ExposureBySymbol[symbol]
		if notional > headroom {
			reduced := headroom / price
			if !limits.SoftLimits || reduced < limits.MinOrderSize {
				return reject(RuleSymbolExposure, CodePositionLimit,
					fmt.Sprintf("symbol exposure headroom %.2f cannot fit the order", math.Max(headroom, 0)))
			}
			res.AppliedRules = append(res.AppliedRules, audit.AppliedRule{
				Rule: RuleSymbolExposure, Action: actionReduced, Original: mod.Quantity, ReducedTo: reduced,
			})
			res.Warnings = append(res.Warnings, fmt.Sprintf("size reduced from %v to %v by the symbol exposure cap", mod.Quantity, reduced))
			mod.Quantity = reduced
			notional = headroom
		}

		// 7. Total exposure
		if state.TotalExposure+notional > state.Equity*limits.MaxTotalExposure {
			return reject(RuleTotalExposure, CodePositionLimit,
				fmt.Sprintf("total exposure %.2f plus order notional %.2f exceeds %.0f%% of equity",
					state.TotalExposure, notional, limits.MaxTotalExposure*100))
		}

		// 8. Open-position slots; symbols already held reuse theirs
		if !state.Held(symbol) && state.OpenPositions >= limits.MaxOpenPositions {
			return reject(RuleOpenPositions, CodePositionLimit,
				fmt.Sprintf("already holding %d of %d positions", state.OpenPositions, limits.MaxOpenPositions))
		}
	}

	// 9. Stop-loss distance
	if mod.StopLoss > 0 {
		slPct := stopDistancePct(mod.Side, price, mod.StopLoss)
		switch {
		case slPct <= 0:
			return reject(RuleStopLoss, CodeRiskCheckFailed, "stop loss is on the wrong side of the price")
		case slPct < limits.MinStopLossPct:
			return reject(RuleStopLoss, CodeRiskCheckFailed,
				fmt.Sprintf("stop distance %.2f%% is below the %.2f%% minimum", slPct*100, limits.MinStopLossPct*100))
		case slPct > limits.MaxStopLossPct:
			if !limits.SoftLimits {
				return reject(RuleStopLoss, CodeRiskCheckFailed,
					fmt.Sprintf("stop distance %.2f%% exceeds the %.2f%% maximum", slPct*100, limits.MaxStopLossPct*100))
			}
			clamped := stopAtDistance(mod.Side, price, limits.MaxStopLossPct)
			res.AppliedRules = append(res.AppliedRules, audit.AppliedRule{
				Rule: RuleStopLoss, Action: actionClamped, Original: mod.StopLoss, ReducedTo: clamped,
			})
			res.Warnings = append(res.Warnings, fmt.Sprintf("stop loss clamped to the %.0f%% maximum distance", limits.MaxStopLossPct*100))
			mod.StopLoss = clamped
		}
	}

	// 10. Take-profit distance
	if mod.TakeProfit > 0 {
		tpPct := targetDistancePct(mod.Side, price, mod.TakeProfit)
		switch {
		case tpPct <= 0:
			return reject(RuleTakeProfit, CodeRiskCheckFailed, "take profit is on the wrong side of the price")
		case tpPct > limits.MaxTakeProfitPct:
			if !limits.SoftLimits {
				return reject(RuleTakeProfit, CodeRiskCheckFailed,
					fmt.Sprintf("take-profit distance %.2f%% exceeds the %.2f%% maximum", tpPct*100, limits.MaxTakeProfitPct*100))
			}
			clamped := targetAtDistance(mod.Side, price, limits.MaxTakeProfitPct)
			res.AppliedRules = append(res.AppliedRules, audit.AppliedRule{
				Rule: RuleTakeProfit, Action: actionClamped, Original: mod.TakeProfit, ReducedTo: clamped,
			})
			mod.TakeProfit = clamped
		}
	}

	// 11. Daily loss. The projected check runs first: when the order's
	// stop-distance loss would push today's loss to the account breaker
	// threshold, the breaker trips and the order dies, even if the
	// current loss alone would already fail the plain limit.
	if !mod.ReduceOnly {
		projected := state.DailyLossPct
		if slPct := stopDistancePct(mod.Side, price, mod.StopLoss); slPct > 0 && state.Equity > 0 {
			projected += notional * slPct / state.Equity
		}
		if projectedMax > 0 && projected >= projectedMax-projectionTolerance {
			res.BreakerTrip = &BreakerTrip{Reason: breaker.ReasonDailyLoss, Value: projected, Threshold: projectedMax}
			return reject(RuleDailyLoss, CodeRiskCheckFailed,
				fmt.Sprintf("projected daily loss %.1f%% reaches the account breaker threshold %.1f%%", projected*100, projectedMax*100))
		}
		if state.DailyLossPct > limits.MaxDailyLoss {
			return reject(RuleDailyLoss, CodeRiskCheckFailed,
				fmt.Sprintf("daily loss %.1f%% exceeds the %.1f%% limit", state.DailyLossPct*100, limits.MaxDailyLoss*100))
		}
	}

	// 12. Daily trade budget, reduce-only included
	if state.DailyTrades >= limits.MaxDailyTrades {
		return reject(RuleDailyTrades, CodeRiskCheckFailed,
			fmt.Sprintf("daily trade count %d has reached the limit %d", state.DailyTrades, limits.MaxDailyTrades))
	}

	// 13. Drawdown
	if !mod.ReduceOnly && state.Drawdown >= limits.CircuitBreakerTrigger {
		res.BreakerTrip = &BreakerTrip{Reason: breaker.ReasonDrawdown, Value: state.Drawdown, Threshold: limits.CircuitBreakerTrigger}
		return reject(RuleDrawdown, CodeRiskCheckFailed,
			fmt.Sprintf("drawdown %.1f%% has reached the circuit-breaker trigger %.1f%%", state.Drawdown*100, limits.CircuitBreakerTrigger*100))
	}

	if mod.StopLoss == 0 && !mod.ReduceOnly && notional > state.Equity*0.05 {
		res.Warnings = append(res.Warnings, "large order without a stop loss")
	}

	res.RiskScore = riskScore(*mod, state, limits)
	return res
}

// riskScore grades a request 0..1: post-clamp leverage and size carry
// 30% each, the account's current daily loss and drawdown 20% each.
func riskScore(req exchange.OrderRequest, state AccountState, limits config.RiskLimits) float64 {
	score := 0.0
	if limits.MaxLeverage > 0 && req.Leverage > 0 {
		score += math.Min(req.Leverage/limits.MaxLeverage, 1) * 0.3
	}
	if state.Equity > 0 && limits.MaxPositionPct > 0 {
		positionPct := req.Quantity * req.Price / state.Equity
		score += math.Min(positionPct/limits.MaxPositionPct, 1) * 0.3
	}
	if limits.MaxDailyLoss > 0 {
		score += math.Min(state.DailyLossPct/limits.MaxDailyLoss, 1) * 0.2
	}
	if limits.CircuitBreakerTrigger > 0 {
		score += math.Min(state.Drawdown/limits.CircuitBreakerTrigger, 1) * 0.2
	}
	return score
}

// stopDistancePct converts a stop price to its fractional distance
// from the entry price. Negative means the stop is on the wrong side.
func stopDistancePct(side exchange.OrderSide, price, stop float64) float64 {
	if stop <= 0 || price <= 0 {
		return 0
	}
	if side == exchange.OrderSideSell {
		return (stop - price) / price
	}
	return (price - stop) / price
}

// targetDistancePct converts a take-profit price to its fractional
// distance from the entry price.
func targetDistancePct(side exchange.OrderSide, price, target float64) float64 {
	if target <= 0 || price <= 0 {
		return 0
	}
	if side == exchange.OrderSideSell {
		return (price - target) / price
	}
	return (target - price) / price
}

func stopAtDistance(side exchange.OrderSide, price, pct float64) float64 {
	if side == exchange.OrderSideSell {
		return price * (1 + pct)
	}
	return price * (1 - pct)
}

func targetAtDistance(side exchange.OrderSide, price, pct float64) float64 {
	if side == exchange.OrderSideSell {
		return price * (1 - pct)
	}
	return price * (1 + pct)
}

// actionFor classifies a request for idempotency keying and audit
func actionFor(req exchange.OrderRequest) idempotency.Action {
	switch {
	case req.ReduceOnly:
		return idempotency.ActionClose
	case req.Side == exchange.OrderSideSell:
		return idempotency.ActionSell
	default:
		return idempotency.ActionBuy
	}
}

func (g *Gateway) buildRecord(orderID string, req exchange.OrderRequest, result ValidationResult, state AccountState) audit.Record {
	return audit.Record{
		OrderID:       orderID,
		TraceID:       req.TraceID,
		Symbol:        idempotency.NormalizeSymbol(req.Symbol),
		Action:        string(actionFor(req)),
		Original:      snapshotOf(req),
		Modified:      snapshotOf(result.Modified),
		Passed:        result.Allowed,
		BlockedReason: result.Kind,
		AppliedRules:  result.AppliedRules,
		Balance:       state.AvailableBalance,
		Exposure:      state.TotalExposure,
		Timestamp:     g.now().UTC(),
	}
}

func snapshotOf(req exchange.OrderRequest) audit.Snapshot {
	return audit.Snapshot{
		Side:       string(req.Side),
		Type:       string(req.Type),
		Size:       req.Quantity,
		Price:      req.Price,
		Leverage:   req.Leverage,
		StopLoss:   req.StopLoss,
		TakeProfit: req.TakeProfit,
		ReduceOnly: req.ReduceOnly,
	}
}

func (g *Gateway) publishBlocked(req exchange.OrderRequest, result ValidationResult) {
	if g.deps.Bus == nil {
		return
	}
	g.deps.Bus.Publish(events.Event{
		Type:    events.TypeRiskBlocked,
		Symbol:  idempotency.NormalizeSymbol(req.Symbol),
		OrderID: req.ClientOrderID,
		TraceID: req.TraceID,
		Payload: map[string]any{
			"rule":        result.Rule,
			"reason":      result.Kind,
			"message":     result.Message,
			"strategy_id": req.StrategyID,
		},
	})
}

func rejectedOrder(req exchange.OrderRequest, result ValidationResult, at time.Time) *exchange.Order {
	return &exchange.Order{
		ID:            uuid.New().String(),
		ClientOrderID: req.ClientOrderID,
		TraceID:       req.TraceID,
		StrategyID:    req.StrategyID,
		Source:        req.Source,
		Symbol:        req.Symbol,
		Side:          req.Side,
		Type:          req.Type,
		Quantity:      req.Quantity,
		Price:         req.Price,
		Leverage:      req.Leverage,
		StopLoss:      req.StopLoss,
		TakeProfit:    req.TakeProfit,
		ReduceOnly:    req.ReduceOnly,
		Status:        exchange.OrderStatusRejected,
		RejectReason:  result.Kind,
		CreatedAt:     at,
		UpdatedAt:     at,
	}
}
