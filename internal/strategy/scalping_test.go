package strategy

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScalpingSignal(t *testing.T) {
	rule := &scalping{
		rsiPeriod:  2,
		oversold:   15,
		overbought: 85,
		fastPeriod: 5,
		slowPeriod: 20,
	}

	tests := []struct {
		name   string
		closes []float64
		want   float64
	}{
		{
			name:   "sharp pullback in an uptrend votes long",
			closes: append(rampSeries(100, 2, 28), 146, 138),
			want:   0.65,
		},
		{
			name:   "sharp bounce in a downtrend votes short",
			closes: append(rampSeries(200, -2, 28), 154, 162),
			want:   -0.65,
		},
		{
			name:   "overbought rally is not faded against the trend",
			closes: rampSeries(100, 2, 30),
			want:   0,
		},
		{
			name:   "oversold crash is not bought against the trend",
			closes: rampSeries(200, -2, 30),
			want:   0,
		},
		{
			name:   "too few bars abstains",
			closes: rampSeries(100, 1, 12),
			want:   0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := rule.Signal(ruleState(tt.closes))
			require.NoError(t, err)
			assert.InDelta(t, tt.want, got, 1e-9)
		})
	}
}
