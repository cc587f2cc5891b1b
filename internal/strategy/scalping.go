package strategy

import (
	"github.com/cinar/indicator/v2/momentum"
	"github.com/cinar/indicator/v2/trend"

	"github.com/tradesentry/tradesentry/internal/market"
)

func init() {
	Register(&scalping{
		rsiPeriod:  2,
		oversold:   15,
		overbought: 85,
		fastPeriod: 5,
		slowPeriod: 20,
	})
}

// scalping is the short-horizon reversal rule: a washed-out two-bar RSI
// only counts when the EMA pair confirms the direction, so it buys dips
// in uptrends and sells bounces in downtrends rather than fading trends.
type scalping struct {
	rsiPeriod  int
	oversold   float64
	overbought float64
	fastPeriod int
	slowPeriod int
}

func (s *scalping) Name() string    { return "scalping" }
func (s *scalping) Version() string { return "1.0.0" }
func (s *scalping) Description() string {
	return "Short-horizon RSI pullback rule with EMA trend confirmation"
}

func (s *scalping) Signal(state *market.State) (float64, error) {
	closes := state.Closes()
	if len(closes) < s.slowPeriod+2 {
		return 0, nil
	}

	rsi := drain(momentum.NewRsiWithPeriod[float64](s.rsiPeriod).Compute(toChan(closes)))
	fast := drain(trend.NewEmaWithPeriod[float64](s.fastPeriod).Compute(toChan(closes)))
	slow := drain(trend.NewEmaWithPeriod[float64](s.slowPeriod).Compute(toChan(closes)))
	if len(rsi) == 0 || len(fast) == 0 || len(slow) == 0 {
		return 0, nil
	}

	switch {
	case last(rsi) < s.oversold && last(fast) > last(slow):
		return 0.65, nil // dip in an uptrend
	case last(rsi) > s.overbought && last(fast) < last(slow):
		return -0.65, nil // bounce in a downtrend
	}
	return 0, nil
}
