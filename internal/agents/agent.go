// Package agents implements the analyst committee behind every trade
// decision: six specialised agents score one market snapshot in
// parallel and a coordinator folds the scores into a TradeDecision.
// Agents are pure with respect to the tick; anything they need beyond
// the snapshot is injected at construction.
package agents

import (
	"context"

	"github.com/tradesentry/tradesentry/internal/exchange"
	"github.com/tradesentry/tradesentry/internal/market"
)

// Committee agent names. Config weight tables key on these.
const (
	AgentMarket    = "market"
	AgentStrategy  = "strategy"
	AgentRisk      = "risk"
	AgentOnChain   = "onchain"
	AgentSentiment = "sentiment"
	AgentMacro     = "macro"
)

// agentOrder fixes iteration order wherever determinism matters
// (reason assembly, debate passes).
var agentOrder = []string{
	AgentMarket,
	AgentStrategy,
	AgentRisk,
	AgentOnChain,
	AgentSentiment,
	AgentMacro,
}

// Output is one agent's read of a snapshot. Score is directional in
// [-1, 1], Confidence in [0, 1]. Indicators carries named values the
// coordinator or the audit trail reads back (the risk agent publishes
// "risk_score" here).
type Output struct {
	Agent      string             `json:"agent"`
	Score      float64            `json:"score"`
	Confidence float64            `json:"confidence"`
	Reasons    []string           `json:"reasons,omitempty"`
	Indicators map[string]float64 `json:"indicators,omitempty"`
}

// Agent is one committee analyst. Analyse must respect ctx: the
// coordinator enforces a per-agent deadline and scores a miss as
// zero-signal.
type Agent interface {
	Name() string
	Analyse(ctx context.Context, state *market.State) (Output, error)
}

// PortfolioView is the account snapshot agents and the coordinator
// reason against. Fractions are of equity; DailyLossPct and Drawdown
// are positive when under water.
type PortfolioView struct {
	Equity       float64             `json:"equity"`
	Exposure     float64             `json:"exposure"`
	MaxExposure  float64             `json:"max_exposure"`
	DailyLossPct float64             `json:"daily_loss_pct"`
	MaxDailyLoss float64             `json:"max_daily_loss"`
	Drawdown     float64             `json:"drawdown"`
	MaxDrawdown  float64             `json:"max_drawdown"`
	Positions    []exchange.Position `json:"positions,omitempty"`
}

// HasLong reports an open long in the symbol.
func (v PortfolioView) HasLong(symbol string) bool {
	return v.has(symbol, exchange.PositionSideLong)
}

// HasShort reports an open short in the symbol.
func (v PortfolioView) HasShort(symbol string) bool {
	return v.has(symbol, exchange.PositionSideShort)
}

func (v PortfolioView) has(symbol string, side exchange.PositionSide) bool {
	for _, p := range v.Positions {
		if p.Symbol == symbol && p.Side == side && p.Size > 0 {
			return true
		}
	}
	return false
}

// PortfolioAware is implemented by agents that read account state.
// The coordinator seeds the view once per tick, before fan-out.
type PortfolioAware interface {
	SetPortfolio(view PortfolioView)
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func clampScore(v float64) float64 { return clamp(v, -1, 1) }

func clamp01(v float64) float64 { return clamp(v, 0, 1) }
