package strategy

import (
	"github.com/cinar/indicator/v2/trend"

	"github.com/tradesentry/tradesentry/internal/market"
)

func init() {
	Register(&trendFollowing{fastPeriod: 12, slowPeriod: 26})
}

// trendFollowing is the EMA crossover rule. A fresh golden cross votes
// long and a fresh death cross votes short at full strength; an
// established spread keeps a reduced vote in its direction so the rule
// still counts between crossings.
type trendFollowing struct {
	fastPeriod int
	slowPeriod int
}

func (t *trendFollowing) Name() string    { return "trend_following" }
func (t *trendFollowing) Version() string { return "1.2.0" }
func (t *trendFollowing) Description() string {
	return "EMA crossover trend rule with reduced between-cross votes"
}

func (t *trendFollowing) Signal(state *market.State) (float64, error) {
	closes := state.Closes()
	if len(closes) < t.slowPeriod+2 {
		return 0, nil
	}

	fast := drain(trend.NewEmaWithPeriod[float64](t.fastPeriod).Compute(toChan(closes)))
	slow := drain(trend.NewEmaWithPeriod[float64](t.slowPeriod).Compute(toChan(closes)))
	if len(fast) < 2 || len(slow) < 2 {
		return 0, nil
	}

	// cinar trims the warm-up, so both series end at the latest bar.
	f, fPrev := fast[len(fast)-1], fast[len(fast)-2]
	s, sPrev := slow[len(slow)-1], slow[len(slow)-2]

	switch {
	case fPrev <= sPrev && f > s:
		return 0.65, nil // golden cross
	case fPrev >= sPrev && f < s:
		return -0.65, nil // death cross
	case f > s:
		return 0.25, nil
	case f < s:
		return -0.25, nil
	}
	return 0, nil
}
