package agents

import (
	"context"
	"fmt"

	"github.com/tradesentry/tradesentry/internal/market"
)

const (
	// whaleSpikeCount is the whale-transfer count treated as a
	// distribution warning.
	whaleSpikeCount = 10
	// mintSignificant is the stablecoin issuance (quote units) read
	// as fresh buying power.
	mintSignificant = 1e8
)

// OnChainAgent scores exchange flows, whale transfers and stablecoin
// issuance. Missing or neutral data scores zero so an unconfigured
// provider never biases the vote.
type OnChainAgent struct{}

// NewOnChainAgent returns the chain-flow analyst.
func NewOnChainAgent() *OnChainAgent { return &OnChainAgent{} }

// Name implements Agent.
func (a *OnChainAgent) Name() string { return AgentOnChain }

// Analyse implements Agent.
func (a *OnChainAgent) Analyse(_ context.Context, state *market.State) (Output, error) {
	d := state.OnChain
	if d.IsZero() {
		return Output{
			Agent:      AgentOnChain,
			Confidence: 0.3,
			Reasons:    []string{"no on-chain data"},
		}, nil
	}

	var score float64
	var reasons []string

	if d.ExchangeNetFlow < 0 {
		score += 0.3
		reasons = append(reasons, "exchange outflows (accumulation)")
	} else {
		score -= 0.2
		reasons = append(reasons, "exchange inflows (distribution)")
	}

	if d.WhaleTxCount > whaleSpikeCount {
		score -= 0.2
		reasons = append(reasons, fmt.Sprintf("whale transfer spike (%d)", d.WhaleTxCount))
	}

	if d.StablecoinMint > mintSignificant {
		score += 0.2
		reasons = append(reasons, "large stablecoin mints")
	}

	return Output{
		Agent:      AgentOnChain,
		Score:      clampScore(score),
		Confidence: 0.6,
		Reasons:    reasons,
		Indicators: map[string]float64{
			"exchange_net_flow": d.ExchangeNetFlow,
			"whale_tx_count":    float64(d.WhaleTxCount),
		},
	}, nil
}
