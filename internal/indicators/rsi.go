package indicators

import (
	"fmt"
)

// RSIResult represents the RSI calculation result
type RSIResult struct {
	Value  float64 `json:"value"`
	Signal string  `json:"signal"` // "oversold", "overbought", "neutral"
}

// RSI computes the Relative Strength Index with Wilder smoothing: the
// first average gain/loss is the simple mean of the first `period`
// moves, every later one is (prev·(period−1)+current)/period. Output
// has the input's length; entries before index `period` are zero
// (warm-up).
func RSI(prices []float64, period int) ([]float64, error) {
	if period < 1 {
		return nil, fmt.Errorf("invalid period: %d (must be >= 1)", period)
	}
	if len(prices) <= period {
		return nil, fmt.Errorf("insufficient data: need at least %d prices, got %d", period+1, len(prices))
	}

	out := make([]float64, len(prices))

	var avgGain, avgLoss float64
	for i := 1; i <= period; i++ {
		diff := prices[i] - prices[i-1]
		if diff > 0 {
			avgGain += diff
		} else {
			avgLoss += -diff
		}
	}
	avgGain /= float64(period)
	avgLoss /= float64(period)
	out[period] = rsiValue(avgGain, avgLoss)

	for i := period + 1; i < len(prices); i++ {
		diff := prices[i] - prices[i-1]
		gain, loss := 0.0, 0.0
		if diff > 0 {
			gain = diff
		} else {
			loss = -diff
		}
		avgGain = (avgGain*float64(period-1) + gain) / float64(period)
		avgLoss = (avgLoss*float64(period-1) + loss) / float64(period)
		out[i] = rsiValue(avgGain, avgLoss)
	}

	return out, nil
}

func rsiValue(avgGain, avgLoss float64) float64 {
	if avgLoss == 0 {
		if avgGain == 0 {
			return 50
		}
		return 100
	}
	rs := avgGain / avgLoss
	return 100 - 100/(1+rs)
}

// LatestRSI returns the most recent RSI with the 30/70 classification
func LatestRSI(prices []float64, period int) (*RSIResult, error) {
	values, err := RSI(prices, period)
	if err != nil {
		return nil, err
	}

	current := values[len(values)-1]
	signal := "neutral"
	if current < 30 {
		signal = "oversold"
	} else if current > 70 {
		signal = "overbought"
	}

	return &RSIResult{Value: current, Signal: signal}, nil
}
