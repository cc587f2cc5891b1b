package agents

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tradesentry/tradesentry/internal/market"
)

func TestSentimentAgentScoring(t *testing.T) {
	tests := []struct {
		name      string
		data      *market.SentimentData
		wantScore float64
		wantConf  float64
	}{
		{
			name:      "no data",
			data:      nil,
			wantScore: 0,
			wantConf:  0.3,
		},
		{
			name:      "neutral midpoint",
			data:      market.NeutralSentiment(),
			wantScore: 0,
			wantConf:  0.5,
		},
		{
			name:      "extreme fear is contrarian bullish",
			data:      &market.SentimentData{FearGreed: 15},
			wantScore: 0.3,
			wantConf:  0.7,
		},
		{
			name:      "extreme greed is contrarian bearish",
			data:      &market.SentimentData{FearGreed: 85},
			wantScore: -0.3,
			wantConf:  0.7,
		},
		{
			name:      "positive social mood",
			data:      &market.SentimentData{FearGreed: 50, SocialScore: 0.4},
			wantScore: 0.2,
			wantConf:  0.5,
		},
		{
			name:      "negative social mood",
			data:      &market.SentimentData{FearGreed: 50, SocialScore: -0.4},
			wantScore: -0.2,
			wantConf:  0.5,
		},
		{
			name:      "fear with negative social nets bullish",
			data:      &market.SentimentData{FearGreed: 15, SocialScore: -0.4},
			wantScore: 0.1,
			wantConf:  0.7,
		},
	}

	agent := NewSentimentAgent()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			state := &market.State{Symbol: "BTC-USDT", Sentiment: tt.data}
			out, err := agent.Analyse(context.Background(), state)
			require.NoError(t, err)

			assert.Equal(t, AgentSentiment, out.Agent)
			assert.InDelta(t, tt.wantScore, out.Score, 1e-9)
			assert.InDelta(t, tt.wantConf, out.Confidence, 1e-9)
		})
	}
}

func TestSentimentAgentEchoesIndex(t *testing.T) {
	state := &market.State{Symbol: "BTC-USDT", Sentiment: &market.SentimentData{FearGreed: 18}}
	out, err := NewSentimentAgent().Analyse(context.Background(), state)
	require.NoError(t, err)
	assert.InDelta(t, 18, out.Indicators["fear_greed"], 1e-9)
}
