package agents

import (
	"context"
	"fmt"

	"github.com/tradesentry/tradesentry/internal/market"
)

const (
	// macroMoveThreshold is the daily fractional move in DXY or SP500
	// considered meaningful.
	macroMoveThreshold = 0.005
	// vixStressLevel marks broad risk-off stress.
	vixStressLevel = 30
)

// MacroAgent scores the cross-market backdrop: dollar strength,
// equity direction and the volatility complex. Crypto trades as a
// risk asset here, so a strong dollar and a high VIX score bearish.
type MacroAgent struct{}

// NewMacroAgent returns the cross-market analyst.
func NewMacroAgent() *MacroAgent { return &MacroAgent{} }

// Name implements Agent.
func (a *MacroAgent) Name() string { return AgentMacro }

// Analyse implements Agent.
func (a *MacroAgent) Analyse(_ context.Context, state *market.State) (Output, error) {
	d := state.Macro
	if d == nil {
		return Output{
			Agent:      AgentMacro,
			Confidence: 0.3,
			Reasons:    []string{"no macro data"},
		}, nil
	}

	var score float64
	var reasons []string

	switch {
	case d.DXYChange > macroMoveThreshold:
		score -= 0.2
		reasons = append(reasons, "dollar strengthening")
	case d.DXYChange < -macroMoveThreshold:
		score += 0.2
		reasons = append(reasons, "dollar weakening")
	}

	switch {
	case d.SP500Change > macroMoveThreshold:
		score += 0.2
		reasons = append(reasons, "equities risk-on")
	case d.SP500Change < -macroMoveThreshold:
		score -= 0.2
		reasons = append(reasons, "equities risk-off")
	}

	if d.VIX > vixStressLevel {
		score -= 0.3
		reasons = append(reasons, fmt.Sprintf("VIX elevated (%.1f)", d.VIX))
	}

	return Output{
		Agent:      AgentMacro,
		Score:      clampScore(score),
		Confidence: 0.6,
		Reasons:    reasons,
		Indicators: map[string]float64{
			"dxy_change":   d.DXYChange,
			"sp500_change": d.SP500Change,
			"vix":          d.VIX,
		},
	}, nil
}
