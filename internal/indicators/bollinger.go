package indicators

import (
	"fmt"
	"math"
)

// BollingerBandsResult represents the Bollinger Bands calculation result
type BollingerBandsResult struct {
	Upper  float64 `json:"upper"`
	Middle float64 `json:"middle"`
	Lower  float64 `json:"lower"`
	Width  float64 `json:"width"`  // Band width percentage
	Signal string  `json:"signal"` // "buy", "sell", "neutral"
}

// BollingerSeries holds the full band series. Entries before index
// period−1 are zero (warm-up).
type BollingerSeries struct {
	Upper  []float64
	Middle []float64
	Lower  []float64
}

// Bollinger computes middle = SMA(period) with upper/lower =
// middle ± mult·σ, where σ is the population standard deviation of
// the same window.
func Bollinger(prices []float64, period int, mult float64) (*BollingerSeries, error) {
	if period < 2 || period > len(prices) {
		return nil, fmt.Errorf("invalid period: %d (must be between 2 and %d)", period, len(prices))
	}
	if mult <= 0 {
		return nil, fmt.Errorf("invalid band multiplier: %f (must be > 0)", mult)
	}

	n := len(prices)
	s := &BollingerSeries{
		Upper:  make([]float64, n),
		Middle: make([]float64, n),
		Lower:  make([]float64, n),
	}

	for i := period - 1; i < n; i++ {
		window := prices[i-period+1 : i+1]

		sum := 0.0
		for _, p := range window {
			sum += p
		}
		mean := sum / float64(period)

		variance := 0.0
		for _, p := range window {
			d := p - mean
			variance += d * d
		}
		sigma := math.Sqrt(variance / float64(period))

		s.Middle[i] = mean
		s.Upper[i] = mean + mult*sigma
		s.Lower[i] = mean - mult*sigma
	}

	return s, nil
}

// LatestBollinger returns the most recent bands with the price
// position classification.
func LatestBollinger(prices []float64, period int, mult float64) (*BollingerBandsResult, error) {
	series, err := Bollinger(prices, period, mult)
	if err != nil {
		return nil, err
	}

	n := len(prices)
	upper := series.Upper[n-1]
	middle := series.Middle[n-1]
	lower := series.Lower[n-1]
	price := prices[n-1]

	width := 0.0
	if middle != 0 {
		width = (upper - lower) / middle * 100
	}

	signal := "neutral"
	if price <= lower {
		signal = "buy"
	} else if price >= upper {
		signal = "sell"
	}

	return &BollingerBandsResult{
		Upper:  upper,
		Middle: middle,
		Lower:  lower,
		Width:  width,
		Signal: signal,
	}, nil
}
