package indicators

import (
	"fmt"
	"math"
)

// ADXResult represents the ADX calculation result
type ADXResult struct {
	Value    float64 `json:"value"`
	Strength string  `json:"strength"` // "weak", "strong", "very_strong"
}

// ADX computes the Average Directional Index. Needs at least 2×period
// bars for the double Wilder smoothing to settle.
func ADX(high, low, closes []float64, period int) (float64, error) {
	if len(high) != len(low) || len(high) != len(closes) {
		return 0, fmt.Errorf("high, low, and close arrays must have the same length")
	}
	if period < 1 {
		return 0, fmt.Errorf("invalid period: %d (must be >= 1)", period)
	}
	minRequired := period * 2
	if len(closes) < minRequired {
		return 0, fmt.Errorf("insufficient data: need at least %d bars, got %d", minRequired, len(closes))
	}

	n := len(closes)

	// True Range, +DM, -DM
	tr := make([]float64, n)
	plusDM := make([]float64, n)
	minusDM := make([]float64, n)

	for i := 1; i < n; i++ {
		tr[i] = math.Max(high[i]-low[i],
			math.Max(math.Abs(high[i]-closes[i-1]),
				math.Abs(low[i]-closes[i-1])))

		upMove := high[i] - high[i-1]
		downMove := low[i-1] - low[i]

		if upMove > downMove && upMove > 0 {
			plusDM[i] = upMove
		}
		if downMove > upMove && downMove > 0 {
			minusDM[i] = downMove
		}
	}

	smoothTR := smoothWilder(tr, period)
	smoothPlusDM := smoothWilder(plusDM, period)
	smoothMinusDM := smoothWilder(minusDM, period)

	// +DI, -DI, DX
	dx := make([]float64, n)
	for i := period; i < n; i++ {
		if smoothTR[i] == 0 {
			continue
		}
		plusDI := 100 * smoothPlusDM[i] / smoothTR[i]
		minusDI := 100 * smoothMinusDM[i] / smoothTR[i]

		diSum := plusDI + minusDI
		if diSum != 0 {
			dx[i] = 100 * math.Abs(plusDI-minusDI) / diSum
		}
	}

	// ADX is the smoothed DX
	adxValues := smoothWilder(dx, period)
	return adxValues[n-1], nil
}

// LatestADX returns the most recent ADX with a trend-strength
// classification (below 25 weak, 25-50 strong, above 50 very strong).
func LatestADX(high, low, closes []float64, period int) (*ADXResult, error) {
	adx, err := ADX(high, low, closes, period)
	if err != nil {
		return nil, err
	}

	strength := "weak"
	if adx >= 25 && adx < 50 {
		strength = "strong"
	} else if adx >= 50 {
		strength = "very_strong"
	}

	return &ADXResult{Value: adx, Strength: strength}, nil
}

// smoothWilder applies Wilder's smoothing method: the value at index
// period−1 seeds with the simple average of the first `period`
// entries, later values use (prev·(period−1)+current)/period.
func smoothWilder(data []float64, period int) []float64 {
	n := len(data)
	result := make([]float64, n)

	if n < period {
		return result
	}

	sum := 0.0
	for i := 0; i < period; i++ {
		sum += data[i]
	}
	result[period-1] = sum / float64(period)

	for i := period; i < n; i++ {
		result[i] = (result[i-1]*float64(period-1) + data[i]) / float64(period)
	}

	return result
}
