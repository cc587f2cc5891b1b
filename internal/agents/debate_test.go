package agents

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tradesentry/tradesentry/internal/config"
)

func debateOutputs(scores map[string]float64) map[string]Output {
	outputs := make(map[string]Output, len(scores))
	for name, score := range scores {
		outputs[name] = Output{Agent: name, Score: score, Confidence: 0.7}
	}
	return outputs
}

func debateCoordinator(rounds int, weights map[string]float64) *Coordinator {
	cfg := testAgentsConfig()
	cfg.DebateRounds = rounds
	cfg.Weights = weights
	return newTestCoordinator(cfg, testLimits(), nil)
}

func TestDebateMinorityConverges(t *testing.T) {
	coord := debateCoordinator(3, nil)
	outputs := debateOutputs(map[string]float64{
		AgentMarket:    0.8,
		AgentStrategy:  0.6,
		AgentRisk:      -0.2,
		AgentOnChain:   0.1,
		AgentSentiment: 0.0,
		AgentMacro:     0.2,
	})

	rounds := coord.runDebate(outputs)

	// consensus 0.30; the risk agent moves halfway toward it and
	// flips sign, so round two opens with full agreement
	assert.Equal(t, 1, rounds)
	assert.InDelta(t, 0.05, outputs[AgentRisk].Score, 1e-9)
	require.Len(t, outputs[AgentRisk].Reasons, 1)
	assert.Contains(t, outputs[AgentRisk].Reasons[0], "round 1")

	// the majority and abstainers are untouched
	assert.InDelta(t, 0.8, outputs[AgentMarket].Score, 1e-9)
	assert.Zero(t, outputs[AgentSentiment].Score)
	assert.Empty(t, outputs[AgentSentiment].Reasons)
}

func TestDebateSkipsAlignedCommittee(t *testing.T) {
	coord := debateCoordinator(3, nil)
	outputs := debateOutputs(map[string]float64{
		AgentMarket:   0.6,
		AgentStrategy: 0.3,
		AgentRisk:     0.1,
	})

	rounds := coord.runDebate(outputs)

	assert.Zero(t, rounds)
	assert.InDelta(t, 0.6, outputs[AgentMarket].Score, 1e-9)
}

func TestDebateNoMajorityStopsImmediately(t *testing.T) {
	coord := debateCoordinator(3, map[string]float64{AgentMarket: 0.5, AgentRisk: 0.5})
	outputs := debateOutputs(map[string]float64{
		AgentMarket: 0.6,
		AgentRisk:   -0.6,
	})

	rounds := coord.runDebate(outputs)

	assert.Zero(t, rounds)
	assert.InDelta(t, 0.6, outputs[AgentMarket].Score, 1e-9)
	assert.InDelta(t, -0.6, outputs[AgentRisk].Score, 1e-9)
}

// stubbornOutputs is a committee whose dissenter needs three halving
// passes to cross zero: others sum to 0.35 weighted, risk starts -0.9.
func stubbornOutputs() map[string]Output {
	return debateOutputs(map[string]float64{
		AgentMarket:    0.8,
		AgentStrategy:  0.6,
		AgentRisk:      -0.9,
		AgentOnChain:   0.1,
		AgentSentiment: 0.0,
		AgentMacro:     0.2,
	})
}

func TestDebateConfiguredRoundCap(t *testing.T) {
	coord := debateCoordinator(2, nil)
	outputs := stubbornOutputs()

	rounds := coord.runDebate(outputs)

	assert.Equal(t, 2, rounds)
	// round 1: -0.9 -> -0.3875; round 2: -> -0.0671875, still dissenting
	assert.InDelta(t, -0.0671875, outputs[AgentRisk].Score, 1e-9)
	assert.Len(t, outputs[AgentRisk].Reasons, 2)
}

func TestDebateHardCapAtThreeRounds(t *testing.T) {
	coord := debateCoordinator(99, nil)
	outputs := stubbornOutputs()

	rounds := coord.runDebate(outputs)

	assert.Equal(t, 3, rounds)
	assert.InDelta(t, 0.1330078125, outputs[AgentRisk].Score, 1e-9)
}

func TestDebateDisabledLeavesOutputsAlone(t *testing.T) {
	cfg := testAgentsConfig()
	cfg.DebateRounds = 0
	committee := stubCommittee(map[string]float64{
		AgentMarket: 0.8,
		AgentRisk:   -0.2,
	}, 0.7)
	cfg.Weights = map[string]float64{AgentMarket: 0.5, AgentRisk: 0.5}
	coord := newTestCoordinator(cfg, testLimits(), committee)

	d := coord.Decide(context.Background(), decisionState(50000, 0.03), PortfolioView{})
	assert.InDelta(t, -0.2, d.AgentOutputs[AgentRisk].Score, 1e-9)
}

func TestWeightsFallBackToDefaults(t *testing.T) {
	coord := newTestCoordinator(config.AgentsConfig{}, config.RiskLimits{}, nil)
	assert.InDelta(t, 0.25, coord.weights[AgentMarket], 1e-9)
	assert.InDelta(t, 0.10, coord.weights[AgentMacro], 1e-9)

	var sum float64
	for _, w := range DefaultWeights() {
		sum += w
	}
	assert.InDelta(t, 1.0, sum, 1e-9)
}
