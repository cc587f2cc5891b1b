package backtest

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeCSV(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "candles.csv")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadCandlesCSV(t *testing.T) {
	path := writeCSV(t, `open_time,open,high,low,close,volume,close_time
1740787200000,50000,50500,49800,50200,120,1740790800000
1740790800000,50200,50600,50100,50400,95,1740794400000
`)

	candles, err := LoadCandlesCSV(path)
	require.NoError(t, err)
	require.Len(t, candles, 2)

	assert.Equal(t, time.UnixMilli(1740787200000).UTC(), candles[0].OpenTime)
	assert.Equal(t, 50000.0, candles[0].Open)
	assert.Equal(t, 50500.0, candles[0].High)
	assert.Equal(t, 49800.0, candles[0].Low)
	assert.Equal(t, 50200.0, candles[0].Close)
	assert.Equal(t, 120.0, candles[0].Volume)
	assert.Equal(t, time.UnixMilli(1740790800000).UTC(), candles[0].CloseTime)
}

func TestLoadCandlesCSVInfersCloseTime(t *testing.T) {
	path := writeCSV(t, `1740787200000,50000,50500,49800,50200,120
1740790800000,50200,50600,50100,50400,95
`)

	candles, err := LoadCandlesCSV(path)
	require.NoError(t, err)
	require.Len(t, candles, 2)
	assert.Equal(t, candles[0].OpenTime.Add(time.Hour), candles[0].CloseTime)
	assert.Equal(t, candles[1].OpenTime.Add(time.Hour), candles[1].CloseTime)
}

func TestLoadCandlesCSVErrors(t *testing.T) {
	t.Run("missing file", func(t *testing.T) {
		_, err := LoadCandlesCSV(filepath.Join(t.TempDir(), "nope.csv"))
		require.Error(t, err)
	})

	t.Run("header only", func(t *testing.T) {
		path := writeCSV(t, "open_time,open,high,low,close,volume\n")
		_, err := LoadCandlesCSV(path)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "no candles")
	})

	t.Run("short row", func(t *testing.T) {
		path := writeCSV(t, "1740787200000,50000,50500\n")
		_, err := LoadCandlesCSV(path)
		require.Error(t, err)
	})

	t.Run("bad number", func(t *testing.T) {
		path := writeCSV(t, "1740787200000,abc,50500,49800,50200,120\n")
		_, err := LoadCandlesCSV(path)
		require.Error(t, err)
	})

	t.Run("out of order", func(t *testing.T) {
		path := writeCSV(t, `1740790800000,50200,50600,50100,50400,95
1740787200000,50000,50500,49800,50200,120
`)
		_, err := LoadCandlesCSV(path)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "ordered")
	})
}
