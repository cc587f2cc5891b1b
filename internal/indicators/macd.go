package indicators

import (
	"fmt"
)

// MACDResult represents the MACD calculation result
type MACDResult struct {
	MACD      float64 `json:"macd"`
	Signal    float64 `json:"signal"`
	Histogram float64 `json:"histogram"`
	Crossover string  `json:"crossover"` // "bullish", "bearish", "none"
}

// MACDSeries holds the full MACD, signal and histogram series
type MACDSeries struct {
	MACD      []float64
	Signal    []float64
	Histogram []float64
}

// MACD computes MACD = EMA(fast) − EMA(slow), signal = EMA(signal
// period) of the MACD series, histogram = MACD − signal. All three
// EMAs use the price[0] seeding from EMA, so the series are defined
// from index 0.
func MACD(prices []float64, fastPeriod, slowPeriod, signalPeriod int) (*MACDSeries, error) {
	if fastPeriod < 1 || slowPeriod < 1 || signalPeriod < 1 {
		return nil, fmt.Errorf("invalid periods: fast=%d, slow=%d, signal=%d", fastPeriod, slowPeriod, signalPeriod)
	}
	if fastPeriod >= slowPeriod {
		return nil, fmt.Errorf("fast period (%d) must be less than slow period (%d)", fastPeriod, slowPeriod)
	}
	minRequired := slowPeriod + signalPeriod
	if len(prices) < minRequired {
		return nil, fmt.Errorf("insufficient data: need at least %d prices, got %d", minRequired, len(prices))
	}

	fast, err := EMA(prices, fastPeriod)
	if err != nil {
		return nil, err
	}
	slow, err := EMA(prices, slowPeriod)
	if err != nil {
		return nil, err
	}

	macd := make([]float64, len(prices))
	for i := range prices {
		macd[i] = fast[i] - slow[i]
	}

	signal, err := EMA(macd, signalPeriod)
	if err != nil {
		return nil, err
	}

	histogram := make([]float64, len(prices))
	for i := range prices {
		histogram[i] = macd[i] - signal[i]
	}

	return &MACDSeries{MACD: macd, Signal: signal, Histogram: histogram}, nil
}

// LatestMACD returns the most recent MACD values with crossover
// detection against the previous bar.
func LatestMACD(prices []float64, fastPeriod, slowPeriod, signalPeriod int) (*MACDResult, error) {
	series, err := MACD(prices, fastPeriod, slowPeriod, signalPeriod)
	if err != nil {
		return nil, err
	}

	n := len(series.MACD)
	current := series.Histogram[n-1]

	crossover := "none"
	if n >= 2 {
		prev := series.Histogram[n-2]
		if prev <= 0 && current > 0 {
			crossover = "bullish"
		}
		if prev >= 0 && current < 0 {
			crossover = "bearish"
		}
	}

	return &MACDResult{
		MACD:      series.MACD[n-1],
		Signal:    series.Signal[n-1],
		Histogram: current,
		Crossover: crossover,
	}, nil
}
