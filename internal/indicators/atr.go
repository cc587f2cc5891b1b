package indicators

import (
	"fmt"
	"math"
)

// ATRResult represents the ATR calculation result
type ATRResult struct {
	Value float64 `json:"value"`
	Pct   float64 `json:"pct"` // ATR as a fraction of the last close
}

// ATR computes the Average True Range with Wilder smoothing. The true
// range of the first bar is its high−low span (no previous close);
// the first smoothed value at index period−1 is the simple mean of
// the first `period` true ranges. Entries before that are zero.
func ATR(high, low, closes []float64, period int) ([]float64, error) {
	if len(high) != len(low) || len(high) != len(closes) {
		return nil, fmt.Errorf("high, low, and close arrays must have the same length")
	}
	if period < 1 {
		return nil, fmt.Errorf("invalid period: %d (must be >= 1)", period)
	}
	if len(closes) < period {
		return nil, fmt.Errorf("insufficient data: need at least %d bars, got %d", period, len(closes))
	}

	n := len(closes)
	tr := make([]float64, n)
	tr[0] = high[0] - low[0]
	for i := 1; i < n; i++ {
		tr[i] = math.Max(high[i]-low[i],
			math.Max(math.Abs(high[i]-closes[i-1]),
				math.Abs(low[i]-closes[i-1])))
	}

	return smoothWilder(tr, period), nil
}

// LatestATR returns the most recent ATR in absolute and fractional form
func LatestATR(high, low, closes []float64, period int) (*ATRResult, error) {
	values, err := ATR(high, low, closes, period)
	if err != nil {
		return nil, err
	}

	value := values[len(values)-1]
	lastClose := closes[len(closes)-1]
	pct := 0.0
	if lastClose != 0 {
		pct = value / lastClose
	}

	return &ATRResult{Value: value, Pct: pct}, nil
}
