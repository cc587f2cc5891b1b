package indicators

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRSIWilderSmoothing(t *testing.T) {
	// Three gains of 1 then three losses of 1, period 3.
	// First avg gain = 1, avg loss = 0 => RSI 100; then Wilder:
	// (prev*2 + current)/3 per step.
	values, err := RSI([]float64{1, 2, 3, 4, 3, 2, 1}, 3)
	require.NoError(t, err)

	assert.Zero(t, values[0])
	assert.Zero(t, values[2], "warm-up entries are zero")
	assert.InDelta(t, 100.0, values[3], 1e-9)
	assert.InDelta(t, 66.666667, values[4], 1e-5)
	assert.InDelta(t, 44.444444, values[5], 1e-5)
	assert.InDelta(t, 29.629630, values[6], 1e-5)
}

func TestRSIFlatSeriesIsNeutral(t *testing.T) {
	values, err := RSI([]float64{5, 5, 5, 5, 5}, 3)
	require.NoError(t, err)
	assert.InDelta(t, 50.0, values[3], 1e-9)
	assert.InDelta(t, 50.0, values[4], 1e-9)
}

func TestRSIInsufficientData(t *testing.T) {
	_, err := RSI([]float64{1, 2, 3}, 3)
	assert.Error(t, err, "needs period+1 prices")

	_, err = RSI([]float64{1, 2, 3, 4}, 0)
	assert.Error(t, err)
}

func TestLatestRSISignals(t *testing.T) {
	// Pure downtrend pins RSI at 0: oversold
	res, err := LatestRSI([]float64{10, 9, 8, 7, 6, 5}, 3)
	require.NoError(t, err)
	assert.Equal(t, "oversold", res.Signal)

	// Pure uptrend pins RSI at 100: overbought
	res, err = LatestRSI([]float64{5, 6, 7, 8, 9, 10}, 3)
	require.NoError(t, err)
	assert.Equal(t, "overbought", res.Signal)

	res, err = LatestRSI([]float64{5, 5, 5, 5, 5}, 3)
	require.NoError(t, err)
	assert.Equal(t, "neutral", res.Signal)
}
