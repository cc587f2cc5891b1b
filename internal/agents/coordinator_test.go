package agents

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tradesentry/tradesentry/internal/config"
	"github.com/tradesentry/tradesentry/internal/exchange"
	"github.com/tradesentry/tradesentry/internal/market"
)

type stubAgent struct {
	name  string
	out   Output
	err   error
	delay time.Duration
}

func (s *stubAgent) Name() string { return s.name }

func (s *stubAgent) Analyse(context.Context, *market.State) (Output, error) {
	if s.delay > 0 {
		time.Sleep(s.delay)
	}
	return s.out, s.err
}

func testAgentsConfig() config.AgentsConfig {
	return config.AgentsConfig{
		AgentTimeout:   2 * time.Second,
		DebateRounds:   0,
		MinActionScore: 0.1,
		RiskVetoScore:  -0.5,
		BaseStopPct:    0.05,
	}
}

func testLimits() config.RiskLimits {
	return config.RiskLimits{MaxPositionPct: 0.10, MaxLeverage: 3}
}

func newTestCoordinator(cfg config.AgentsConfig, limits config.RiskLimits, committee []Agent) *Coordinator {
	return NewCoordinator(cfg, limits, committee, zerolog.Nop())
}

func stubCommittee(scores map[string]float64, conf float64) []Agent {
	committee := make([]Agent, 0, len(scores))
	for _, name := range agentOrder {
		score, ok := scores[name]
		if !ok {
			continue
		}
		committee = append(committee, &stubAgent{
			name: name,
			out:  Output{Score: score, Confidence: conf, Reasons: []string{"stub"}},
		})
	}
	return committee
}

func decisionState(price float64, atrPct float64) *market.State {
	return &market.State{
		Symbol:     "BTC-USDT",
		Price:      price,
		BarIndex:   99,
		Indicators: map[string]float64{"atr_pct": atrPct},
	}
}

func TestCoordinatorAggregation(t *testing.T) {
	committee := stubCommittee(map[string]float64{
		AgentMarket:    0.8,
		AgentStrategy:  0.6,
		AgentRisk:      -0.2,
		AgentOnChain:   0.1,
		AgentSentiment: 0.0,
		AgentMacro:     0.2,
	}, 0.7)
	coord := newTestCoordinator(testAgentsConfig(), testLimits(), committee)

	view := PortfolioView{Equity: 10000, MaxExposure: 0.8, MaxDailyLoss: 0.1, MaxDrawdown: 0.2}
	d := coord.Decide(context.Background(), decisionState(50000, 0.03), view)

	assert.InDelta(t, 0.30, d.WeightedScore, 1e-9)
	assert.Equal(t, ActionBuy, d.Action)

	// risk agent published no risk_score, so severity falls back to -score
	assert.InDelta(t, 0.2, d.RiskScore, 1e-9)
	assert.True(t, d.RiskCheckPassed)

	// 0.7 * (1 - 0.2*0.5) = 0.63, clamped to the 10% position cap
	assert.InDelta(t, 0.10, d.Size, 1e-9)
	assert.InDelta(t, 2.0, d.Leverage, 1e-9)
	assert.InDelta(t, 0.05, d.StopLossPct, 1e-9)
	assert.InDelta(t, 0.10, d.TakeProfitPct, 1e-9)

	assert.InDelta(t, 0.7, d.Confidence.Overall, 1e-9)
	assert.NotEmpty(t, d.TraceID)
	assert.Equal(t, "multi-agent", d.StrategyID)
	assert.Equal(t, "BTC-USDT", d.Symbol)
	assert.InDelta(t, 50000, d.Price, 1e-9)
	assert.Equal(t, 99, d.BarIndex)
	assert.Len(t, d.AgentOutputs, 6)
	assert.False(t, d.Timestamp.IsZero())
}

func TestCoordinatorRiskVeto(t *testing.T) {
	committee := stubCommittee(map[string]float64{
		AgentMarket:    0.9,
		AgentStrategy:  0.9,
		AgentRisk:      -0.5,
		AgentOnChain:   0.9,
		AgentSentiment: 0.9,
		AgentMacro:     0.9,
	}, 0.8)
	coord := newTestCoordinator(testAgentsConfig(), testLimits(), committee)

	d := coord.Decide(context.Background(), decisionState(50000, 0.03), PortfolioView{})

	assert.Equal(t, ActionHold, d.Action)
	require.NotEmpty(t, d.Reasons)
	assert.Equal(t, "risk veto", d.Reasons[0])

	// held decisions carry no order parameters
	assert.Zero(t, d.Size)
	assert.Zero(t, d.Leverage)
	assert.Zero(t, d.StopLossPct)
	assert.Zero(t, d.TakeProfitPct)
}

func TestCoordinatorHoldBand(t *testing.T) {
	committee := stubCommittee(map[string]float64{
		AgentMarket: 0.15, AgentStrategy: 0.15, AgentRisk: 0.15,
		AgentOnChain: 0.15, AgentSentiment: 0.15, AgentMacro: 0.15,
	}, 0.7)
	coord := newTestCoordinator(testAgentsConfig(), testLimits(), committee)

	d := coord.Decide(context.Background(), decisionState(50000, 0.03), PortfolioView{})
	assert.InDelta(t, 0.15, d.WeightedScore, 1e-9)
	assert.Equal(t, ActionBuy, d.Action)

	committee = stubCommittee(map[string]float64{
		AgentMarket: 0.05, AgentStrategy: 0.05, AgentRisk: 0.05,
		AgentOnChain: 0.05, AgentSentiment: 0.05, AgentMacro: 0.05,
	}, 0.7)
	coord = newTestCoordinator(testAgentsConfig(), testLimits(), committee)

	d = coord.Decide(context.Background(), decisionState(50000, 0.03), PortfolioView{})
	assert.Equal(t, ActionHold, d.Action)
}

func TestCoordinatorActionTable(t *testing.T) {
	long := exchange.Position{Symbol: "BTC-USDT", Side: exchange.PositionSideLong, Size: 0.5}
	short := exchange.Position{Symbol: "BTC-USDT", Side: exchange.PositionSideShort, Size: 0.5}

	tests := []struct {
		name      string
		score     float64
		positions []exchange.Position
		want      Action
	}{
		{name: "bullish flat opens long", score: 0.5, want: ActionBuy},
		{name: "bullish with short covers first", score: 0.5, positions: []exchange.Position{short}, want: ActionCover},
		{name: "bullish already long holds", score: 0.5, positions: []exchange.Position{long}, want: ActionHold},
		{name: "bearish flat opens short", score: -0.5, want: ActionShort},
		{name: "bearish with long sells first", score: -0.5, positions: []exchange.Position{long}, want: ActionSell},
		{name: "bearish already short holds", score: -0.5, positions: []exchange.Position{short}, want: ActionHold},
		{name: "weak signal holds", score: 0.05, want: ActionHold},
		{name: "other symbol position ignored", score: 0.5,
			positions: []exchange.Position{{Symbol: "ETH-USDT", Side: exchange.PositionSideLong, Size: 1}},
			want:      ActionBuy},
	}

	cfg := testAgentsConfig()
	cfg.Weights = map[string]float64{AgentMarket: 1.0}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			committee := []Agent{&stubAgent{name: AgentMarket, out: Output{Score: tt.score, Confidence: 0.7}}}
			coord := newTestCoordinator(cfg, testLimits(), committee)

			d := coord.Decide(context.Background(), decisionState(50000, 0.03), PortfolioView{Positions: tt.positions})
			assert.Equal(t, tt.want, d.Action)
		})
	}
}

func TestCoordinatorAbsorbsTimeout(t *testing.T) {
	cfg := testAgentsConfig()
	cfg.AgentTimeout = 50 * time.Millisecond

	committee := []Agent{
		&stubAgent{name: AgentMarket, out: Output{Score: 0.9, Confidence: 0.9}, delay: 300 * time.Millisecond},
		&stubAgent{name: AgentRisk, out: Output{Score: 0.2, Confidence: 0.8}},
	}
	coord := newTestCoordinator(cfg, testLimits(), committee)

	d := coord.Decide(context.Background(), decisionState(50000, 0.03), PortfolioView{})

	slow := d.AgentOutputs[AgentMarket]
	assert.Zero(t, slow.Score)
	assert.Zero(t, slow.Confidence)
	assert.Contains(t, slow.Reasons, "timeout")

	// only the risk agent voted: total = 0.25 * 0.2
	assert.InDelta(t, 0.05, d.WeightedScore, 1e-9)
	assert.Equal(t, ActionHold, d.Action)
}

func TestCoordinatorAbsorbsError(t *testing.T) {
	committee := []Agent{
		&stubAgent{name: AgentMarket, err: errors.New("indicator backend down")},
		&stubAgent{name: AgentRisk, out: Output{Score: -0.2, Confidence: 0.8}},
	}
	coord := newTestCoordinator(testAgentsConfig(), testLimits(), committee)

	d := coord.Decide(context.Background(), decisionState(50000, 0.03), PortfolioView{})

	failed := d.AgentOutputs[AgentMarket]
	assert.Zero(t, failed.Score)
	assert.Contains(t, failed.Reasons, "error")
	assert.Equal(t, ActionHold, d.Action)
}

func TestCoordinatorSizingExposureDiscount(t *testing.T) {
	scores := map[string]float64{
		AgentMarket: 0.8, AgentStrategy: 0.8, AgentRisk: 0,
		AgentOnChain: 0.8, AgentSentiment: 0.8, AgentMacro: 0.8,
	}
	limits := config.RiskLimits{MaxPositionPct: 0.5, MaxLeverage: 3}

	t.Run("exposure discount capped at half", func(t *testing.T) {
		coord := newTestCoordinator(testAgentsConfig(), limits, stubCommittee(scores, 0.8))
		d := coord.Decide(context.Background(), decisionState(50000, 0.03), PortfolioView{Exposure: 0.7})
		// 0.8 * 1.0 * (1 - min(0.7, 0.5)) = 0.40
		assert.InDelta(t, 0.40, d.Size, 1e-9)
	})

	t.Run("cap binds before discount matters", func(t *testing.T) {
		coord := newTestCoordinator(testAgentsConfig(), limits, stubCommittee(scores, 0.8))
		d := coord.Decide(context.Background(), decisionState(50000, 0.03), PortfolioView{Exposure: 0.2})
		// 0.8 * 1.0 * 0.8 = 0.64 clamps to 0.5
		assert.InDelta(t, 0.5, d.Size, 1e-9)
	})

	t.Run("floor holds for tiny conviction", func(t *testing.T) {
		coord := newTestCoordinator(testAgentsConfig(), limits, stubCommittee(scores, 0.005))
		d := coord.Decide(context.Background(), decisionState(50000, 0.03), PortfolioView{})
		assert.InDelta(t, 0.01, d.Size, 1e-9)
	})
}

func TestCoordinatorConfidenceBreakdown(t *testing.T) {
	committee := []Agent{
		&stubAgent{name: AgentMarket, out: Output{Score: 0.5, Confidence: 0.9}},
		&stubAgent{name: AgentStrategy, out: Output{Score: 0.5, Confidence: 0.6}},
		&stubAgent{name: AgentRisk, out: Output{Score: 0.5, Confidence: 0.7}},
		&stubAgent{name: AgentOnChain, out: Output{Score: 0.5, Confidence: 0.2}},
		&stubAgent{name: AgentSentiment, out: Output{Score: 0.5, Confidence: 0.4}},
		&stubAgent{name: AgentMacro, out: Output{Score: 0.5, Confidence: 0.8}},
	}
	coord := newTestCoordinator(testAgentsConfig(), testLimits(), committee)

	d := coord.Decide(context.Background(), decisionState(50000, 0.03), PortfolioView{})

	assert.InDelta(t, 0.9, d.Confidence.Technical, 1e-9)
	assert.InDelta(t, 0.7, d.Confidence.Fundamental, 1e-9) // (0.6+0.8)/2
	assert.InDelta(t, 0.3, d.Confidence.Sentiment, 1e-9)   // (0.4+0.2)/2
	assert.InDelta(t, 0.68, d.Confidence.Overall, 1e-9)    // 0.4*0.9 + 0.35*0.7 + 0.25*0.3
}

func TestLeverageTable(t *testing.T) {
	tests := []struct {
		name    string
		conf    float64
		risk    float64
		atrPct  float64
		ceiling float64
		want    float64
	}{
		{name: "high conviction low risk", conf: 0.75, risk: 0.2, atrPct: 0.03, ceiling: 5, want: 3},
		{name: "good conviction", conf: 0.65, risk: 0.35, atrPct: 0.03, ceiling: 5, want: 2},
		{name: "moderate conviction", conf: 0.55, risk: 0.45, atrPct: 0.03, ceiling: 5, want: 1.5},
		{name: "weak conviction", conf: 0.45, risk: 0.1, atrPct: 0.03, ceiling: 5, want: 1},
		{name: "high volatility halves", conf: 0.75, risk: 0.2, atrPct: 0.06, ceiling: 5, want: 1.5},
		{name: "low volatility boosts", conf: 0.75, risk: 0.2, atrPct: 0.01, ceiling: 5, want: 3.6},
		{name: "ceiling clamps boost", conf: 0.75, risk: 0.2, atrPct: 0.01, ceiling: 3, want: 3},
		{name: "missing atr no boost", conf: 0.75, risk: 0.2, atrPct: 0, ceiling: 5, want: 3},
		{name: "never below one", conf: 0.45, risk: 0.6, atrPct: 0.06, ceiling: 5, want: 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, leverageFor(tt.conf, tt.risk, tt.atrPct, tt.ceiling), 1e-9)
		})
	}
}

func TestCoordinatorStops(t *testing.T) {
	coord := newTestCoordinator(testAgentsConfig(), testLimits(), nil)

	sl, tp := coord.stops(0.2)
	assert.InDelta(t, 0.05, sl, 1e-9)
	assert.InDelta(t, 0.10, tp, 1e-9)

	sl, tp = coord.stops(0.6)
	assert.InDelta(t, 0.04, sl, 1e-9) // tightened by 0.8
	assert.InDelta(t, 0.06, tp, 1e-9) // reward ratio compressed to 1.5
}

func TestCoordinatorUsesPublishedRiskScore(t *testing.T) {
	committee := []Agent{
		&stubAgent{name: AgentMarket, out: Output{Score: 0.8, Confidence: 0.7}},
		&stubAgent{name: AgentRisk, out: Output{
			Score:      -0.1,
			Confidence: 0.8,
			Indicators: map[string]float64{"risk_score": 0.9},
		}},
	}
	cfg := testAgentsConfig()
	cfg.Weights = map[string]float64{AgentMarket: 0.8, AgentRisk: 0.2}
	coord := newTestCoordinator(cfg, testLimits(), committee)

	d := coord.Decide(context.Background(), decisionState(50000, 0.03), PortfolioView{})

	assert.InDelta(t, 0.9, d.RiskScore, 1e-9)
	assert.False(t, d.RiskCheckPassed)
	// sizing uses the published severity: conf(0.4*0.7)=0.28 * (1-0.45) = 0.154
	assert.InDelta(t, 0.10, d.Size, 1e-9) // clamped to cap
}

func TestCoordinatorSeedsPortfolioAwareAgents(t *testing.T) {
	risk := NewRiskAgent()
	committee := []Agent{risk}
	cfg := testAgentsConfig()
	cfg.Weights = map[string]float64{AgentRisk: 1.0}
	coord := newTestCoordinator(cfg, testLimits(), committee)

	view := PortfolioView{Exposure: 0.79, MaxExposure: 0.8, MaxDrawdown: 0.2, MaxDailyLoss: 0.1}
	d := coord.Decide(context.Background(), decisionState(50000, 0.01), view)

	// 0.79/0.8 > 0.8 fires the exposure rule: score -0.3
	assert.InDelta(t, -0.3, d.AgentOutputs[AgentRisk].Score, 1e-9)
}
