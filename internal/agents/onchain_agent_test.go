package agents

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tradesentry/tradesentry/internal/market"
)

func TestOnChainAgentScoring(t *testing.T) {
	tests := []struct {
		name      string
		data      *market.OnChainData
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
			name:      "neutral reading treated as absent",
			data:      market.NeutralOnChain(),
			wantScore: 0,
			wantConf:  0.3,
		},
		{
			name:      "exchange outflows",
			data:      &market.OnChainData{ExchangeNetFlow: -1200},
			wantScore: 0.3,
			wantConf:  0.6,
		},
		{
			name:      "exchange inflows",
			data:      &market.OnChainData{ExchangeNetFlow: 800},
			wantScore: -0.2,
			wantConf:  0.6,
		},
		{
			name:      "whale spike dampens outflows",
			data:      &market.OnChainData{ExchangeNetFlow: -1200, WhaleTxCount: 15},
			wantScore: 0.1,
			wantConf:  0.6,
		},
		{
			name:      "stablecoin mints add buying power",
			data:      &market.OnChainData{ExchangeNetFlow: -1200, StablecoinMint: 2e8},
			wantScore: 0.5,
			wantConf:  0.6,
		},
		{
			name:      "inflows plus whales",
			data:      &market.OnChainData{ExchangeNetFlow: 800, WhaleTxCount: 15},
			wantScore: -0.4,
			wantConf:  0.6,
		},
	}

	agent := NewOnChainAgent()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			state := &market.State{Symbol: "BTC-USDT", OnChain: tt.data}
			out, err := agent.Analyse(context.Background(), state)
			require.NoError(t, err)

			assert.Equal(t, AgentOnChain, out.Agent)
			assert.InDelta(t, tt.wantScore, out.Score, 1e-9)
			assert.InDelta(t, tt.wantConf, out.Confidence, 1e-9)
			assert.NotEmpty(t, out.Reasons)
		})
	}
}
