package agents

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/tradesentry/tradesentry/internal/config"
	"github.com/tradesentry/tradesentry/internal/market"
	"github.com/tradesentry/tradesentry/internal/metrics"
)

// StrategyCommittee tags committee decisions in orders and audit
// records; individual rule strategies surface inside the reasons.
const StrategyCommittee = "multi-agent"

// DefaultWeights is the committee weight table used when config
// leaves agents.weights unset. Weights sum to 1.
func DefaultWeights() map[string]float64 {
	return map[string]float64{
		AgentMarket:    0.25,
		AgentStrategy:  0.20,
		AgentRisk:      0.25,
		AgentOnChain:   0.10,
		AgentSentiment: 0.10,
		AgentMacro:     0.10,
	}
}

// DefaultCommittee builds the standard six-analyst committee. source
// feeds the strategy agent and may be nil.
func DefaultCommittee(source SignalSource) []Agent {
	return []Agent{
		NewMarketAgent(),
		NewStrategyAgent(source),
		NewRiskAgent(),
		NewOnChainAgent(),
		NewSentimentAgent(),
		NewMacroAgent(),
	}
}

// Coordinator fans one snapshot out to the committee, optionally runs
// a debate, and folds the outputs into a TradeDecision. It never
// fails a tick: agent errors and deadline misses degrade to neutral
// outputs.
type Coordinator struct {
	cfg     config.AgentsConfig
	limits  config.RiskLimits
	agents  []Agent
	weights map[string]float64
	logger  zerolog.Logger
}

// NewCoordinator wires the committee. Weight lookup falls back to
// DefaultWeights when the config table is empty.
func NewCoordinator(cfg config.AgentsConfig, limits config.RiskLimits, committee []Agent, logger zerolog.Logger) *Coordinator {
	weights := cfg.Weights
	if len(weights) == 0 {
		weights = DefaultWeights()
	}
	return &Coordinator{
		cfg:     cfg,
		limits:  limits,
		agents:  committee,
		weights: weights,
		logger:  logger.With().Str("component", "coordinator").Logger(),
	}
}

// Decide produces the committee verdict for one snapshot. The
// portfolio view is seeded into portfolio-aware agents before
// fan-out and drives the action table and sizing afterwards.
func (c *Coordinator) Decide(ctx context.Context, state *market.State, view PortfolioView) *TradeDecision {
	start := time.Now()

	for _, ag := range c.agents {
		if pa, ok := ag.(PortfolioAware); ok {
			pa.SetPortfolio(view)
		}
	}

	outputs := c.fanOut(ctx, state)

	rounds := 0
	if c.cfg.DebateRounds > 0 {
		rounds = c.runDebate(outputs)
	}
	metrics.DebateRounds.Observe(float64(rounds))

	d := c.aggregate(state, outputs, view)

	metrics.DecisionLatency.Observe(float64(time.Since(start).Milliseconds()))
	metrics.Decisions.WithLabelValues(string(d.Action)).Inc()
	c.logger.Info().
		Str("symbol", state.Symbol).
		Str("trace_id", d.TraceID).
		Str("action", string(d.Action)).
		Float64("total", d.WeightedScore).
		Float64("size", d.Size).
		Float64("leverage", d.Leverage).
		Float64("risk_score", d.RiskScore).
		Int("debate_rounds", rounds).
		Msg("decision")
	return d
}

// fanOut runs every agent concurrently under the per-agent deadline.
func (c *Coordinator) fanOut(ctx context.Context, state *market.State) map[string]Output {
	timeout := c.cfg.AgentTimeout
	if timeout <= 0 {
		timeout = 2 * time.Second
	}

	var mu sync.Mutex
	outputs := make(map[string]Output, len(c.agents))

	var g errgroup.Group
	for _, ag := range c.agents {
		g.Go(func() error {
			agStart := time.Now()
			out := c.analyseOne(ctx, ag, state, timeout)
			metrics.AgentAnalysisDuration.WithLabelValues(ag.Name()).Observe(float64(time.Since(agStart).Milliseconds()))
			metrics.AgentScore.WithLabelValues(ag.Name()).Set(out.Score)
			mu.Lock()
			outputs[ag.Name()] = out
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	return outputs
}

// analyseOne gathers a single agent's output, degrading a deadline
// miss or error to a zero-signal output rather than failing the tick.
func (c *Coordinator) analyseOne(ctx context.Context, ag Agent, state *market.State, timeout time.Duration) Output {
	actx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type result struct {
		out Output
		err error
	}
	ch := make(chan result, 1)
	go func() {
		out, err := ag.Analyse(actx, state)
		ch <- result{out: out, err: err}
	}()

	select {
	case <-actx.Done():
		c.logger.Warn().Str("agent", ag.Name()).Dur("timeout", timeout).Msg("agent deadline missed")
		return Output{Agent: ag.Name(), Reasons: []string{"timeout"}}
	case r := <-ch:
		if r.err != nil {
			c.logger.Warn().Str("agent", ag.Name()).Err(r.err).Msg("agent failed")
			return Output{Agent: ag.Name(), Reasons: []string{"error"}}
		}
		out := r.out
		out.Agent = ag.Name()
		out.Score = clampScore(out.Score)
		out.Confidence = clamp01(out.Confidence)
		return out
	}
}

// aggregate folds agent outputs into the final decision.
func (c *Coordinator) aggregate(state *market.State, outputs map[string]Output, view PortfolioView) *TradeDecision {
	total := c.weightedTotal(outputs)

	riskOut := outputs[AgentRisk]
	riskScore, ok := riskOut.Indicators["risk_score"]
	if !ok {
		riskScore = math.Max(0, -riskOut.Score)
	}
	veto := riskOut.Score <= c.vetoScore()

	action, actionReason := c.selectAction(total, veto, view, state.Symbol)
	conf := c.confidence(outputs)

	d := &TradeDecision{
		TraceID:         uuid.NewString(),
		Symbol:          state.Symbol,
		Action:          action,
		Confidence:      conf,
		RiskScore:       riskScore,
		RiskCheckPassed: riskScore < 0.7,
		StrategyID:      StrategyCommittee,
		WeightedScore:   total,
		Price:           state.Price,
		BarIndex:        state.BarIndex,
		Timestamp:       time.Now().UTC(),
		AgentOutputs:    outputs,
	}

	if action != ActionHold {
		d.Size = clamp(
			conf.Overall*(1-riskScore*0.5)*(1-math.Min(view.Exposure, 0.5)),
			0.01, c.maxPositionPct(),
		)
		d.Leverage = leverageFor(conf.Overall, riskScore, state.Indicators["atr_pct"], c.maxLeverage())
		d.StopLossPct, d.TakeProfitPct = c.stops(riskScore)
	}

	var reasons []string
	if actionReason != "" {
		reasons = append(reasons, actionReason)
	}
	for _, name := range agentOrder {
		out, ok := outputs[name]
		if !ok {
			continue
		}
		for _, r := range out.Reasons {
			reasons = append(reasons, fmt.Sprintf("%s: %s", name, r))
		}
	}
	d.Reasons = reasons
	return d
}

func (c *Coordinator) weightedTotal(outputs map[string]Output) float64 {
	var total float64
	for name, out := range outputs {
		total += c.weights[name] * out.Score
	}
	return total
}

// selectAction applies the veto, the hold band and the position-aware
// action table. When the signal opposes an open position the closing
// action wins; the reversal entry belongs to a later tick.
func (c *Coordinator) selectAction(total float64, veto bool, view PortfolioView, symbol string) (Action, string) {
	if veto {
		return ActionHold, "risk veto"
	}
	if math.Abs(total) < c.minActionScore() {
		return ActionHold, ""
	}
	if total > 0 {
		if view.HasShort(symbol) {
			return ActionCover, "closing short before reversing long"
		}
		if !view.HasLong(symbol) {
			return ActionBuy, ""
		}
		return ActionHold, "already long"
	}
	if view.HasLong(symbol) {
		return ActionSell, "closing long before reversing short"
	}
	if !view.HasShort(symbol) {
		return ActionShort, ""
	}
	return ActionHold, "already short"
}

// confidence builds the tripartite breakdown: technical from the
// market agent, fundamental from strategy+macro, sentiment from
// sentiment+onchain.
func (c *Coordinator) confidence(outputs map[string]Output) Confidence {
	tech := outputs[AgentMarket].Confidence
	fund := (outputs[AgentStrategy].Confidence + outputs[AgentMacro].Confidence) / 2
	sent := (outputs[AgentSentiment].Confidence + outputs[AgentOnChain].Confidence) / 2
	return Confidence{
		Overall:     0.40*tech + 0.35*fund + 0.25*sent,
		Technical:   tech,
		Fundamental: fund,
		Sentiment:   sent,
	}
}

// leverageFor maps conviction and risk onto the discrete leverage
// table, then adjusts for realised volatility and clamps to the
// account ceiling.
func leverageFor(conf, risk, atrPct, ceiling float64) float64 {
	lev := 1.0
	switch {
	case conf > 0.7 && risk < 0.3:
		lev = 3.0
	case conf > 0.6 && risk < 0.4:
		lev = 2.0
	case conf > 0.5 && risk < 0.5:
		lev = 1.5
	}

	switch {
	case atrPct > 0.05:
		lev *= 0.5
	case atrPct > 0 && atrPct < 0.02:
		lev *= 1.2
	}

	if lev > ceiling {
		lev = ceiling
	}
	if lev < 1 {
		lev = 1
	}
	return lev
}

// stops derives the stop-loss and take-profit distances. Elevated
// risk tightens the stop and compresses the reward ratio.
func (c *Coordinator) stops(riskScore float64) (sl, tp float64) {
	sl = c.cfg.BaseStopPct
	if sl <= 0 {
		sl = 0.02
	}
	ratio := 2.0
	if riskScore > 0.5 {
		sl *= 0.8
		ratio = 1.5
	}
	return sl, sl * ratio
}

func (c *Coordinator) minActionScore() float64 {
	if c.cfg.MinActionScore > 0 {
		return c.cfg.MinActionScore
	}
	return 0.1
}

func (c *Coordinator) vetoScore() float64 {
	if c.cfg.RiskVetoScore < 0 {
		return c.cfg.RiskVetoScore
	}
	return -0.5
}

func (c *Coordinator) maxPositionPct() float64 {
	if c.limits.MaxPositionPct > 0 {
		return c.limits.MaxPositionPct
	}
	return 0.10
}

func (c *Coordinator) maxLeverage() float64 {
	if c.limits.MaxLeverage > 0 {
		return c.limits.MaxLeverage
	}
	return 3.0
}
