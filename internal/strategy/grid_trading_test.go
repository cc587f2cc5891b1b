package strategy

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGridTradingSignal(t *testing.T) {
	rule := &gridTrading{lookback: 20, levels: 10, proximity: 0.3}

	tests := []struct {
		name   string
		closes []float64
		want   float64
	}{
		{
			name:   "breakout above the channel reads take-profit",
			closes: channelWindow(200),
			want:   -0.3,
		},
		{
			name:   "breakdown below the channel reads accumulation",
			closes: channelWindow(20),
			want:   0.8,
		},
		{
			name:   "touch just above a grid line votes long",
			closes: channelWindow(100.6),
			want:   0.6,
		},
		{
			name:   "touch just below a grid line votes short",
			closes: channelWindow(100.0),
			want:   -0.6,
		},
		{
			name:   "mid-cell price abstains",
			closes: channelWindow(101.3),
			want:   0,
		},
		{
			name:   "flat channel abstains",
			closes: constantSeries(100, 25),
			want:   0,
		},
		{
			name:   "too few bars abstains",
			closes: constantSeries(100, 10),
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
