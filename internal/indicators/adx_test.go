package indicators

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func trendingBars(n int) (high, low, closes []float64) {
	for i := 0; i < n; i++ {
		base := float64(i)
		high = append(high, base+1.5)
		low = append(low, base+0.5)
		closes = append(closes, base+1)
	}
	return
}

func choppyBars(n int) (high, low, closes []float64) {
	for i := 0; i < n; i++ {
		c := 10.0
		if i%2 == 1 {
			c = 11.0
		}
		high = append(high, c+0.5)
		low = append(low, c-0.5)
		closes = append(closes, c)
	}
	return
}

func TestADXStrongTrend(t *testing.T) {
	high, low, closes := trendingBars(30)
	adx, err := ADX(high, low, closes, 5)
	require.NoError(t, err)
	assert.Greater(t, adx, 25.0, "monotone trend must read as directional")
	assert.LessOrEqual(t, adx, 100.0)
}

func TestADXChoppyMarket(t *testing.T) {
	high, low, closes := choppyBars(30)
	adx, err := ADX(high, low, closes, 5)
	require.NoError(t, err)
	assert.Less(t, adx, 25.0, "alternating bars must read as trendless")
}

func TestADXValidation(t *testing.T) {
	high, low, closes := trendingBars(8)
	_, err := ADX(high, low, closes, 5)
	assert.Error(t, err, "needs 2x period bars")

	_, err = ADX([]float64{1, 2}, []float64{1}, []float64{1, 2}, 1)
	assert.Error(t, err, "mismatched lengths")
}

func TestLatestADXStrengthBands(t *testing.T) {
	high, low, closes := trendingBars(30)
	res, err := LatestADX(high, low, closes, 5)
	require.NoError(t, err)
	assert.Contains(t, []string{"strong", "very_strong"}, res.Strength)

	high, low, closes = choppyBars(30)
	res, err = LatestADX(high, low, closes, 5)
	require.NoError(t, err)
	assert.Equal(t, "weak", res.Strength)
}
