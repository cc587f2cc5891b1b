package indicators

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMACDGoldenValues(t *testing.T) {
	// fast=2 (k=2/3), slow=3 (k=1/2), signal=2 over a clean ramp
	series, err := MACD([]float64{1, 2, 3, 4, 5}, 2, 3, 2)
	require.NoError(t, err)

	// EMA2 = [1, 1.666667, 2.555556, 3.518519, 4.506173]
	// EMA3 = [1, 1.5, 2.25, 3.125, 4.0625]
	assert.InDelta(t, 0.0, series.MACD[0], 1e-9)
	assert.InDelta(t, 0.166667, series.MACD[1], 1e-5)
	assert.InDelta(t, 0.305556, series.MACD[2], 1e-5)
	assert.InDelta(t, 0.393519, series.MACD[3], 1e-5)
	assert.InDelta(t, 0.443673, series.MACD[4], 1e-5)

	// Signal is EMA2 of the MACD series
	assert.InDelta(t, 0.409979, series.Signal[4], 1e-5)
	assert.InDelta(t, 0.033693, series.Histogram[4], 1e-5)
}

func TestMACDValidation(t *testing.T) {
	_, err := MACD([]float64{1, 2, 3, 4, 5}, 3, 2, 2)
	assert.Error(t, err, "fast must be below slow")

	_, err = MACD([]float64{1, 2, 3}, 2, 3, 2)
	assert.Error(t, err, "needs slow+signal prices")

	_, err = MACD([]float64{1, 2, 3, 4, 5}, 0, 3, 2)
	assert.Error(t, err)
}

func TestLatestMACDCrossover(t *testing.T) {
	// Steady ramp: histogram stays positive, no crossover
	res, err := LatestMACD([]float64{1, 2, 3, 4, 5}, 2, 3, 2)
	require.NoError(t, err)
	assert.Equal(t, "none", res.Crossover)
	assert.Greater(t, res.Histogram, 0.0)

	// Ramp that stalls: histogram flips negative on the last bar
	res, err = LatestMACD([]float64{1, 2, 3, 4, 5, 5}, 2, 3, 2)
	require.NoError(t, err)
	assert.Equal(t, "bearish", res.Crossover)
	assert.Less(t, res.Histogram, 0.0)

	// Downtrend that turns: bullish crossover
	res, err = LatestMACD([]float64{6, 5, 4, 3, 2, 6}, 2, 3, 2)
	require.NoError(t, err)
	assert.Equal(t, "bullish", res.Crossover)
}
