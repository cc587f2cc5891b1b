package agents

import (
	"time"

	"github.com/tradesentry/tradesentry/internal/exchange"
)

// Action is the trade intent produced by the coordinator.
type Action string

const (
	ActionBuy   Action = "BUY"   // open or add to a long
	ActionSell  Action = "SELL"  // close a long
	ActionShort Action = "SHORT" // open or add to a short
	ActionCover Action = "COVER" // close a short
	ActionHold  Action = "HOLD"
	ActionClose Action = "CLOSE" // flatten, operator and emergency paths
)

// Opens reports whether the action establishes new exposure.
func (a Action) Opens() bool {
	return a == ActionBuy || a == ActionShort
}

// Reduces reports whether the action only sheds exposure. Reducing
// orders stay allowed under an account-tier breaker trip.
func (a Action) Reduces() bool {
	return a == ActionSell || a == ActionCover || a == ActionClose
}

// Side maps the action onto the order side the venue understands.
func (a Action) Side() exchange.OrderSide {
	switch a {
	case ActionBuy, ActionCover:
		return exchange.OrderSideBuy
	default:
		return exchange.OrderSideSell
	}
}

// Confidence is the tripartite conviction breakdown behind a decision.
type Confidence struct {
	Overall     float64 `json:"overall"`
	Technical   float64 `json:"technical"`
	Fundamental float64 `json:"fundamental"`
	Sentiment   float64 `json:"sentiment"`
}

// TradeDecision is one coordinator verdict for one symbol and tick.
// Size is a fraction of account equity; for reducing actions the
// engine ignores it and closes the live position reduce-only.
type TradeDecision struct {
	TraceID       string     `json:"trace_id"`
	Symbol        string     `json:"symbol"`
	Action        Action     `json:"action"`
	Size          float64    `json:"size"`
	Leverage      float64    `json:"leverage"`
	StopLossPct   float64    `json:"stop_loss_pct"`
	TakeProfitPct float64    `json:"take_profit_pct"`
	Confidence    Confidence `json:"confidence"`
	Reasons       []string   `json:"reasons,omitempty"`

	// RiskScore is the risk agent's [0,1] severity; RiskCheckPassed is
	// the committee's own pre-gateway verdict. The risk gateway remains
	// authoritative either way.
	RiskScore       float64 `json:"risk_score"`
	RiskCheckPassed bool    `json:"risk_check_passed"`

	StrategyID    string  `json:"strategy_id"`
	WeightedScore float64 `json:"weighted_score"`

	// Price and BarIndex pin the snapshot the decision was computed
	// from so downstream audit and look-ahead checks can replay it.
	Price     float64   `json:"price"`
	BarIndex  int       `json:"bar_index"`
	Timestamp time.Time `json:"timestamp"`

	AgentOutputs map[string]Output `json:"agent_outputs,omitempty"`
}

// Actionable reports whether the decision asks for an order at all.
func (d *TradeDecision) Actionable() bool {
	return d.Action != ActionHold
}
