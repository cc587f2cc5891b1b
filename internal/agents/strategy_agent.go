package agents

import (
	"context"
	"fmt"

	"github.com/tradesentry/tradesentry/internal/market"
)

// RuleSignaler is the slice of a trading strategy the committee
// consumes: a pure rule evaluation over one snapshot, no I/O.
type RuleSignaler interface {
	Name() string
	Signal(state *market.State) (float64, error)
}

// SignalSource yields the strategies currently enabled. The registry
// in internal/strategy implements it; enable/disable toggles take
// effect on the next tick.
type SignalSource interface {
	EnabledSignalers() []RuleSignaler
}

// StrategyAgent votes the mean of the enabled strategies' rule
// signals. A strategy that errors is skipped for the tick; when none
// are enabled the agent abstains.
type StrategyAgent struct {
	source SignalSource
}

// NewStrategyAgent returns the strategy analyst. source may be nil,
// in which case the agent always abstains.
func NewStrategyAgent(source SignalSource) *StrategyAgent {
	return &StrategyAgent{source: source}
}

// Name implements Agent.
func (a *StrategyAgent) Name() string { return AgentStrategy }

// Analyse implements Agent.
func (a *StrategyAgent) Analyse(_ context.Context, state *market.State) (Output, error) {
	var signalers []RuleSignaler
	if a.source != nil {
		signalers = a.source.EnabledSignalers()
	}
	if len(signalers) == 0 {
		return Output{
			Agent:      AgentStrategy,
			Confidence: 0.3,
			Reasons:    []string{"no strategies enabled"},
		}, nil
	}

	var sum float64
	var pos, neg, n int
	var reasons []string
	for _, s := range signalers {
		v, err := s.Signal(state)
		if err != nil {
			reasons = append(reasons, fmt.Sprintf("%s: %v", s.Name(), err))
			continue
		}
		v = clampScore(v)
		sum += v
		n++
		switch {
		case v > 0:
			pos++
		case v < 0:
			neg++
		}
		reasons = append(reasons, fmt.Sprintf("%s: %+.2f", s.Name(), v))
	}
	if n == 0 {
		return Output{
			Agent:      AgentStrategy,
			Confidence: 0.3,
			Reasons:    append(reasons, "no strategy signals"),
		}, nil
	}

	conf := 0.6
	if n > 1 && (pos == n || neg == n) {
		conf = 0.7
	}

	return Output{
		Agent:      AgentStrategy,
		Score:      sum / float64(n),
		Confidence: conf,
		Reasons:    reasons,
	}, nil
}
