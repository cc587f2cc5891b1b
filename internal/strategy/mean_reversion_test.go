package strategy

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMeanReversionSignal(t *testing.T) {
	rule := &meanReversion{lookback: 20, entryZ: 2.0}

	tests := []struct {
		name   string
		closes []float64
		want   float64
	}{
		{
			name:   "crash through the band votes long",
			closes: channelWindow(60),
			want:   0.7,
		},
		{
			name:   "melt-up through the band votes short",
			closes: channelWindow(140),
			want:   -0.7,
		},
		{
			name:   "inside the channel abstains",
			closes: channelWindow(100),
			want:   0,
		},
		{
			name:   "flat tape abstains",
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
