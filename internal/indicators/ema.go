package indicators

import (
	"fmt"
)

// EMAResult represents the EMA calculation result
type EMAResult struct {
	Value float64 `json:"value"`
	Trend string  `json:"trend"` // "bullish", "bearish", "neutral"
}

// EMA computes an exponential moving average over the full series.
// The accumulation is fixed: the first output is seeded with
// prices[0], every following value uses k = 2/(period+1). Backtest
// and live decisions must see identical numbers, so there is exactly
// one formula.
func EMA(prices []float64, period int) ([]float64, error) {
	if period < 1 {
		return nil, fmt.Errorf("invalid period: %d (must be >= 1)", period)
	}
	if len(prices) == 0 {
		return nil, fmt.Errorf("prices array is empty")
	}

	k := 2.0 / float64(period+1)
	out := make([]float64, len(prices))
	out[0] = prices[0]
	for i := 1; i < len(prices); i++ {
		out[i] = prices[i]*k + out[i-1]*(1-k)
	}
	return out, nil
}

// LatestEMA returns the most recent EMA value with a price-vs-EMA
// trend classification.
func LatestEMA(prices []float64, period int) (*EMAResult, error) {
	if period > len(prices) {
		return nil, fmt.Errorf("invalid period: %d (must be between 1 and %d)", period, len(prices))
	}
	ema, err := EMA(prices, period)
	if err != nil {
		return nil, err
	}

	currentEMA := ema[len(ema)-1]
	currentPrice := prices[len(prices)-1]

	trend := "neutral"
	if currentPrice > currentEMA {
		trend = "bullish"
	} else if currentPrice < currentEMA {
		trend = "bearish"
	}

	return &EMAResult{Value: currentEMA, Trend: trend}, nil
}
