package agents

import (
	"context"
	"fmt"

	"github.com/tradesentry/tradesentry/internal/market"
)

// SentimentAgent reads crowd mood contrarian at the extremes: deep
// fear is a buy signal, euphoric greed a sell signal. Social score
// is followed directionally.
type SentimentAgent struct{}

// NewSentimentAgent returns the crowd-mood analyst.
func NewSentimentAgent() *SentimentAgent { return &SentimentAgent{} }

// Name implements Agent.
func (a *SentimentAgent) Name() string { return AgentSentiment }

// Analyse implements Agent.
func (a *SentimentAgent) Analyse(_ context.Context, state *market.State) (Output, error) {
	d := state.Sentiment
	if d == nil {
		return Output{
			Agent:      AgentSentiment,
			Confidence: 0.3,
			Reasons:    []string{"no sentiment data"},
		}, nil
	}

	var score float64
	var reasons []string
	extreme := false

	switch {
	case d.FearGreed <= 20:
		score += 0.3
		extreme = true
		reasons = append(reasons, fmt.Sprintf("extreme fear (index %d), contrarian buy", d.FearGreed))
	case d.FearGreed >= 80:
		score -= 0.3
		extreme = true
		reasons = append(reasons, fmt.Sprintf("extreme greed (index %d), contrarian sell", d.FearGreed))
	}

	switch {
	case d.SocialScore > 0:
		score += 0.2
		reasons = append(reasons, "social sentiment positive")
	case d.SocialScore < 0:
		score -= 0.2
		reasons = append(reasons, "social sentiment negative")
	}

	conf := 0.5
	if extreme {
		conf += 0.2
	}

	return Output{
		Agent:      AgentSentiment,
		Score:      clampScore(score),
		Confidence: conf,
		Reasons:    reasons,
		Indicators: map[string]float64{
			"fear_greed":   float64(d.FearGreed),
			"social_score": d.SocialScore,
		},
	}, nil
}
