package agents

import (
	"context"
	"fmt"
	"math"

	"github.com/tradesentry/tradesentry/internal/market"
)

// MarketAgent scores the technical picture: trend, momentum, mean
// reversion and participation, all read from the snapshot indicators.
type MarketAgent struct{}

// NewMarketAgent returns the technical analyst.
func NewMarketAgent() *MarketAgent { return &MarketAgent{} }

// Name implements Agent.
func (a *MarketAgent) Name() string { return AgentMarket }

// Analyse implements Agent.
func (a *MarketAgent) Analyse(_ context.Context, state *market.State) (Output, error) {
	ind := state.Indicators

	var score float64
	var reasons []string

	emaFast, emaSlow := ind["ema_fast"], ind["ema_slow"]
	switch {
	case emaFast > emaSlow:
		score += 0.2
		reasons = append(reasons, "EMA fast above slow")
	case emaFast < emaSlow:
		score -= 0.2
		reasons = append(reasons, "EMA fast below slow")
	}

	if mid := ind["bb_middle"]; mid > 0 {
		switch {
		case state.Price > mid:
			score += 0.1
			reasons = append(reasons, "price above Bollinger middle")
		case state.Price < mid:
			score -= 0.1
			reasons = append(reasons, "price below Bollinger middle")
		}
	}

	rsi := ind["rsi"]
	switch {
	case rsi < 30:
		score += 0.2
		reasons = append(reasons, fmt.Sprintf("RSI oversold (%.1f)", rsi))
	case rsi > 70:
		score -= 0.2
		reasons = append(reasons, fmt.Sprintf("RSI overbought (%.1f)", rsi))
	}

	hist := ind["macd_histogram"]
	if hist > 0 {
		score += 0.15
		reasons = append(reasons, "MACD histogram positive")
	} else {
		score -= 0.15
		reasons = append(reasons, "MACD histogram negative")
	}

	vr, ok := state.Indicator("volume_ratio")
	if !ok {
		vr = 1
	}
	switch {
	case vr > 1.5:
		score += 0.2
		reasons = append(reasons, fmt.Sprintf("volume surge (%.2fx average)", vr))
	case vr > 1.2:
		score += 0.1
		reasons = append(reasons, "volume elevated")
	case vr < 0.8:
		score -= 0.1
		reasons = append(reasons, "volume fading")
	}

	score = clampScore(score)

	// Conviction grows with momentum extremity and histogram size;
	// a trending ADX scales the whole read up.
	adx := ind["adx"]
	conf := 0.5
	if math.Abs(rsi-50) > 20 {
		conf += 0.1
	}
	if math.Abs(hist) > state.Price*0.001 {
		conf += 0.1
	}
	if adx > 25 {
		conf *= 1.2
		reasons = append(reasons, fmt.Sprintf("trending market (ADX %.1f)", adx))
	}
	if conf > 0.95 {
		conf = 0.95
	}

	return Output{
		Agent:      AgentMarket,
		Score:      score,
		Confidence: conf,
		Reasons:    reasons,
		Indicators: map[string]float64{
			"rsi":            rsi,
			"macd_histogram": hist,
			"volume_ratio":   vr,
			"adx":            adx,
		},
	}, nil
}
