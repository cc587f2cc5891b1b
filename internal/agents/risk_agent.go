package agents

import (
	"context"
	"fmt"
	"sync"

	"github.com/tradesentry/tradesentry/internal/market"
)

// riskVolLimit is the ATR/price fraction treated as the volatility
// ceiling when normalising the risk score.
const riskVolLimit = 0.05

// RiskAgent scores how hostile current conditions are to adding
// exposure. It is the only committee member that reads the account:
// the coordinator seeds the portfolio view each tick. Besides the
// directional score it publishes "risk_score" in [0, 1], the max of
// the normalised pressure components, which drives sizing.
type RiskAgent struct {
	mu   sync.RWMutex
	view PortfolioView
}

// NewRiskAgent returns the risk analyst.
func NewRiskAgent() *RiskAgent { return &RiskAgent{} }

// Name implements Agent.
func (a *RiskAgent) Name() string { return AgentRisk }

// SetPortfolio implements PortfolioAware.
func (a *RiskAgent) SetPortfolio(view PortfolioView) {
	a.mu.Lock()
	a.view = view
	a.mu.Unlock()
}

// Analyse implements Agent.
func (a *RiskAgent) Analyse(_ context.Context, state *market.State) (Output, error) {
	a.mu.RLock()
	view := a.view
	a.mu.RUnlock()

	var score float64
	var reasons []string
	var volComp, ddComp, expComp, lossComp float64

	atrPct := state.Indicators["atr_pct"]
	volComp = clamp01(atrPct / riskVolLimit)
	if atrPct > riskVolLimit {
		score -= 0.4
		reasons = append(reasons, fmt.Sprintf("volatility elevated: ATR %.1f%% of price", atrPct*100))
	}

	if view.MaxDrawdown > 0 {
		ratio := view.Drawdown / view.MaxDrawdown
		ddComp = clamp01(ratio)
		if ratio >= 0.8 {
			score -= 0.4
			reasons = append(reasons, fmt.Sprintf("drawdown %.1f%% near the %.1f%% limit", view.Drawdown*100, view.MaxDrawdown*100))
		}
	}

	if view.MaxExposure > 0 {
		ratio := view.Exposure / view.MaxExposure
		expComp = clamp01(ratio)
		if ratio > 0.8 {
			score -= 0.3
			reasons = append(reasons, fmt.Sprintf("exposure %.1f%% above 80%% of the cap", view.Exposure*100))
		}
	}

	if view.MaxDailyLoss > 0 {
		ratio := view.DailyLossPct / view.MaxDailyLoss
		lossComp = clamp01(ratio)
		if ratio > 0.5 {
			score -= 0.3
			reasons = append(reasons, fmt.Sprintf("daily loss %.1f%% beyond half the cap", view.DailyLossPct*100))
		}
	}

	return Output{
		Agent:      AgentRisk,
		Score:      clampScore(score),
		Confidence: 0.8,
		Reasons:    reasons,
		Indicators: map[string]float64{
			"risk_score": max(volComp, ddComp, expComp, lossComp),
		},
	}, nil
}
