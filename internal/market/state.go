// Package market assembles the per-tick snapshot the decision pipeline
// runs on: OHLCV windows, derived indicators, derivatives metadata and
// auxiliary (on-chain / sentiment / macro) readings. Snapshots are
// immutable once built; agents receive them read-only and the tick
// discards them.
package market

import (
	"fmt"
	"time"

	"github.com/tradesentry/tradesentry/internal/exchange"
	"github.com/tradesentry/tradesentry/internal/indicators"
)

// State is one market snapshot. Built by the Service in live mode and
// by the backtest runner bar-by-bar; both paths go through
// ComputeState so indicator numbers are identical.
type State struct {
	Symbol    string    `json:"symbol"`
	Price     float64   `json:"price"`
	Timestamp time.Time `json:"timestamp"`

	// Timeframe is the window the snapshot's indicators and bar index
	// refer to; Candles may carry additional windows alongside it.
	Timeframe string `json:"timeframe"`

	// BarIndex is the index of the bar this snapshot was computed
	// from. Deterministic adapters refuse orders whose snapshot index
	// is ahead of their own clock.
	BarIndex int `json:"bar_index"`

	// Top of book, zero when the venue snapshot was unavailable.
	Bid float64 `json:"bid,omitempty"`
	Ask float64 `json:"ask,omitempty"`

	// Candles holds the fetched OHLCV windows keyed by timeframe.
	Candles map[string][]exchange.Candle `json:"-"`

	FundingRate       float64 `json:"funding_rate,omitempty"`
	OpenInterest      float64 `json:"open_interest,omitempty"`
	OpenInterestDelta float64 `json:"open_interest_delta,omitempty"`

	// Indicators carries the snapshot values keyed by name, plus
	// volume_ratio and panic_sell_ratio derived from the same window.
	Indicators map[string]float64 `json:"indicators"`

	OnChain   *OnChainData   `json:"onchain,omitempty"`
	Sentiment *SentimentData `json:"sentiment,omitempty"`
	Macro     *MacroData     `json:"macro,omitempty"`
}

// Indicator returns a named indicator value and whether it is present.
func (s *State) Indicator(name string) (float64, bool) {
	v, ok := s.Indicators[name]
	return v, ok
}

// Closes returns the close series of the primary window, oldest first.
// Nil when the snapshot carries no candles for its timeframe.
func (s *State) Closes() []float64 {
	bars := s.Candles[s.Timeframe]
	if len(bars) == 0 {
		return nil
	}
	out := make([]float64, len(bars))
	for i, c := range bars {
		out[i] = c.Close
	}
	return out
}

// Volatility returns the returns-stdev over the trailing window,
// zero when the snapshot predates indicator computation.
func (s *State) Volatility() float64 {
	return s.Indicators["volatility"]
}

// PanicRatio returns the fractional drop from the window high,
// the mass-liquidation input of the system breaker tier.
func (s *State) PanicRatio() float64 {
	return s.Indicators["panic_sell_ratio"]
}

// ComputeState builds a snapshot from one closed-bar window. candles
// must be oldest-first and barIndex names the bar the caller is
// standing on: live callers pass len(candles)-1, the backtest runner
// passes its simulation index. Price and Timestamp come from the last
// bar's close; live callers overlay the venue ticker afterwards.
func ComputeState(symbol string, timeframe string, candles []exchange.Candle, barIndex int) (*State, error) {
	if len(candles) < indicators.MinSnapshotBars {
		return nil, fmt.Errorf("compute state %s: need %d bars, have %d", symbol, indicators.MinSnapshotBars, len(candles))
	}

	high := make([]float64, len(candles))
	low := make([]float64, len(candles))
	closes := make([]float64, len(candles))
	volumes := make([]float64, len(candles))
	for i, c := range candles {
		high[i] = c.High
		low[i] = c.Low
		closes[i] = c.Close
		volumes[i] = c.Volume
	}

	snap, err := indicators.ComputeSnapshot(high, low, closes)
	if err != nil {
		return nil, fmt.Errorf("compute state %s: %w", symbol, err)
	}

	values := snap.Map()
	values["volume_ratio"] = VolumeRatio(volumes, indicators.DefaultVolWindow)
	values["panic_sell_ratio"] = PanicSellRatio(closes, indicators.DefaultVolWindow)

	last := candles[len(candles)-1]
	return &State{
		Symbol:     symbol,
		Price:      last.Close,
		Timestamp:  last.CloseTime,
		Timeframe:  timeframe,
		BarIndex:   barIndex,
		Candles:    map[string][]exchange.Candle{timeframe: candles},
		Indicators: values,
	}, nil
}

// VolumeRatio compares the latest bar's volume against the average of
// the preceding window. 1 means in line with recent activity; returns
// the neutral 1 when the series is too short or the window is flat.
func VolumeRatio(volumes []float64, window int) float64 {
	if len(volumes) < 2 || window <= 0 {
		return 1
	}
	start := len(volumes) - 1 - window
	if start < 0 {
		start = 0
	}
	prev := volumes[start : len(volumes)-1]

	var sum float64
	for _, v := range prev {
		sum += v
	}
	avg := sum / float64(len(prev))
	if avg == 0 {
		return 1
	}
	return volumes[len(volumes)-1] / avg
}

// PanicSellRatio measures the fractional drop from the highest close
// in the trailing window to the latest close. 0 when the series is at
// or above its window high.
func PanicSellRatio(closes []float64, window int) float64 {
	if len(closes) == 0 || window <= 0 {
		return 0
	}
	start := len(closes) - window
	if start < 0 {
		start = 0
	}

	high := closes[start]
	for _, c := range closes[start:] {
		if c > high {
			high = c
		}
	}
	if high <= 0 {
		return 0
	}
	last := closes[len(closes)-1]
	if last >= high {
		return 0
	}
	return (high - last) / high
}
