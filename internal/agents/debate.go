package agents

import (
	"fmt"
	"math"
)

// Debate rounds are capped regardless of config; a committee that
// cannot converge in three passes trades on the weighted vote as-is.
const maxDebateRounds = 3

// debateStabilityEps stops the debate once revisions stop moving
// anyone meaningfully.
const debateStabilityEps = 0.01

// runDebate nudges dissenting agents toward the weighted consensus:
// each round, agents whose score sign opposes the weighted total
// revise halfway toward it. The debate only rewrites inputs; the
// aggregation math that follows is unchanged. Returns rounds used.
func (c *Coordinator) runDebate(outputs map[string]Output) int {
	limit := c.cfg.DebateRounds
	if limit > maxDebateRounds {
		limit = maxDebateRounds
	}

	rounds := 0
	for round := 1; round <= limit; round++ {
		consensus := c.weightedTotal(outputs)
		if consensus == 0 || c.signsAgree(outputs, consensus) {
			break
		}

		changed := false
		for _, name := range agentOrder {
			out, ok := outputs[name]
			if !ok || out.Score == 0 || sameSign(out.Score, consensus) {
				continue
			}
			revised := clampScore(out.Score + (consensus-out.Score)/2)
			if math.Abs(revised-out.Score) >= debateStabilityEps {
				changed = true
			}
			out.Score = revised
			out.Reasons = append(out.Reasons, fmt.Sprintf("revised toward consensus in round %d", round))
			outputs[name] = out
		}
		rounds = round
		if !changed {
			break
		}
	}
	return rounds
}

// signsAgree reports whether every non-abstaining agent points the
// same way as the consensus.
func (c *Coordinator) signsAgree(outputs map[string]Output, consensus float64) bool {
	for _, out := range outputs {
		if out.Score != 0 && !sameSign(out.Score, consensus) {
			return false
		}
	}
	return true
}

func sameSign(a, b float64) bool { return a*b > 0 }
