package strategy

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/tradesentry/tradesentry/internal/exchange"
	"github.com/tradesentry/tradesentry/internal/market"
)

// ruleState wraps a close series into the snapshot shape rules consume.
func ruleState(closes []float64) *market.State {
	bars := make([]exchange.Candle, len(closes))
	for i, c := range closes {
		bars[i] = exchange.Candle{Close: c}
	}
	return &market.State{
		Symbol:    "BTC-USDT",
		Price:     closes[len(closes)-1],
		Timeframe: "5m",
		Candles:   map[string][]exchange.Candle{"5m": bars},
	}
}

func constantSeries(v float64, n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = v
	}
	return out
}

func rampSeries(start, step float64, n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = start + step*float64(i)
	}
	return out
}

// channelWindow builds a series whose trailing twenty bars are ten
// 105s, nine 95s and the given final close, so the Bollinger window
// statistics are fixed regardless of bar order.
func channelWindow(final float64) []float64 {
	closes := []float64{100}
	closes = append(closes, constantSeries(105, 10)...)
	closes = append(closes, constantSeries(95, 9)...)
	return append(closes, final)
}

func TestToChanDrainRoundTrip(t *testing.T) {
	in := []float64{1, 2, 3}
	assert.Equal(t, in, drain(toChan(in)))
	assert.Empty(t, drain(toChan(nil)))
}

func TestDrainBandsLockstep(t *testing.T) {
	up, mid, low := drainBands(
		toChan([]float64{3, 4}),
		toChan([]float64{2, 3}),
		toChan([]float64{1, 2}),
	)

	assert.Equal(t, []float64{3, 4}, up)
	assert.Equal(t, []float64{2, 3}, mid)
	assert.Equal(t, []float64{1, 2}, low)
}
