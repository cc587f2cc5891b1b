package risk

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLedgerSeedsBaselineOnFirstObservation(t *testing.T) {
	l := NewLedger()

	stats := l.Stats(10000)
	assert.InDelta(t, 10000, stats.DayStartEquity, 1e-9)
	assert.InDelta(t, 10000, stats.HighWaterMark, 1e-9)
	assert.Zero(t, stats.LossPct)
	assert.Zero(t, stats.Drawdown)
	assert.Zero(t, stats.Trades)
}

func TestLedgerLossPctIsFractionOfDayStart(t *testing.T) {
	l := NewLedger()
	l.Stats(10000)

	l.RecordFill(-950)

	stats := l.Stats(10000)
	assert.InDelta(t, -950, stats.RealizedPnL, 1e-9)
	assert.InDelta(t, 0.095, stats.LossPct, 1e-9)
}

func TestLedgerGainIsNotALoss(t *testing.T) {
	l := NewLedger()
	l.Stats(10000)

	l.RecordFill(500)

	stats := l.Stats(10500)
	assert.InDelta(t, 500, stats.RealizedPnL, 1e-9)
	assert.Zero(t, stats.LossPct)
}

func TestLedgerDrawdownTracksHighWaterMark(t *testing.T) {
	l := NewLedger()

	assert.Zero(t, l.Stats(10000).Drawdown)
	assert.InDelta(t, 0.10, l.Stats(9000).Drawdown, 1e-9)

	// A new high resets the mark
	assert.Zero(t, l.Stats(11000).Drawdown)
	assert.InDelta(t, 0.05, l.Stats(10450).Drawdown, 1e-9)
}

func TestLedgerRollsOverAtUTCMidnight(t *testing.T) {
	l := NewLedger()
	now := time.Date(2025, 6, 1, 23, 50, 0, 0, time.UTC)
	l.now = func() time.Time { return now }

	l.Stats(10000)
	l.RecordFill(-500)
	l.CountTrade()
	require.InDelta(t, 0.05, l.Stats(10000).LossPct, 1e-9)
	require.Equal(t, 1, l.Stats(10000).Trades)

	now = time.Date(2025, 6, 2, 0, 5, 0, 0, time.UTC)

	stats := l.Stats(9500)
	assert.Equal(t, "2025-06-02", stats.Day)
	assert.Zero(t, stats.LossPct)
	assert.Zero(t, stats.Trades)
	assert.InDelta(t, 9500, stats.DayStartEquity, 1e-9)

	// The high-water mark spans days
	assert.InDelta(t, 10000, stats.HighWaterMark, 1e-9)
	assert.InDelta(t, 0.05, stats.Drawdown, 1e-9)
}

func TestLedgerCountsTrades(t *testing.T) {
	l := NewLedger()
	l.Stats(10000)

	l.CountTrade()
	l.CountTrade()

	assert.Equal(t, 2, l.Stats(10000).Trades)
}
