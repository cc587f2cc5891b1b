package indicators

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestATRWilderSmoothing(t *testing.T) {
	high := []float64{10, 11, 12, 14}
	low := []float64{8, 9, 10, 11}
	closes := []float64{9, 10, 11, 13}

	// TR = [2, 2, 2, 3]; seed ATR[2] = 2; ATR[3] = (2*2+3)/3
	values, err := ATR(high, low, closes, 3)
	require.NoError(t, err)
	assert.Zero(t, values[0])
	assert.Zero(t, values[1])
	assert.InDelta(t, 2.0, values[2], 1e-12)
	assert.InDelta(t, 7.0/3.0, values[3], 1e-12)
}

func TestATRUsesGapsAgainstPreviousClose(t *testing.T) {
	// Second bar gaps far above the prior close: TR must use
	// |high − prev close|, not just the bar span.
	high := []float64{10, 20, 21}
	low := []float64{8, 19, 20}
	closes := []float64{9, 19.5, 20.5}

	values, err := ATR(high, low, closes, 2)
	require.NoError(t, err)
	// TR = [2, 11, 1.5]; seed at index 1 = (2+11)/2 = 6.5
	assert.InDelta(t, 6.5, values[1], 1e-12)
	assert.InDelta(t, (6.5+1.5)/2, values[2], 1e-12)
}

func TestATRValidation(t *testing.T) {
	_, err := ATR([]float64{1, 2}, []float64{1}, []float64{1, 2}, 2)
	assert.Error(t, err, "mismatched lengths")

	_, err = ATR([]float64{1}, []float64{1}, []float64{1}, 2)
	assert.Error(t, err, "not enough bars")
}

func TestLatestATRPct(t *testing.T) {
	high := []float64{10, 11, 12, 14}
	low := []float64{8, 9, 10, 11}
	closes := []float64{9, 10, 11, 13}

	res, err := LatestATR(high, low, closes, 3)
	require.NoError(t, err)
	assert.InDelta(t, 7.0/3.0, res.Value, 1e-12)
	assert.InDelta(t, 7.0/3.0/13.0, res.Pct, 1e-12)
}
