package market

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHistoryStore(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	start := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	candles := testCandles(2, start, 5*time.Minute)

	for _, c := range candles {
		mock.ExpectExec("INSERT INTO market_candles").
			WithArgs("BTC-USDT", "5m", c.OpenTime, c.Open, c.High, c.Low, c.Close, c.Volume, c.CloseTime).
			WillReturnResult(pgxmock.NewResult("INSERT", 1))
	}

	h := NewHistory(mock)
	require.NoError(t, h.Store(context.Background(), "BTC-USDT", "5m", candles))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestHistoryStoreSurfacesDBError(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	start := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	candles := testCandles(1, start, 5*time.Minute)

	mock.ExpectExec("INSERT INTO market_candles").
		WithArgs("BTC-USDT", "5m", candles[0].OpenTime, candles[0].Open, candles[0].High,
			candles[0].Low, candles[0].Close, candles[0].Volume, candles[0].CloseTime).
		WillReturnError(errors.New("connection refused"))

	h := NewHistory(mock)
	err = h.Store(context.Background(), "BTC-USDT", "5m", candles)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection refused")
}

func TestHistoryLoad(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	start := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	end := start.Add(time.Hour)

	rows := pgxmock.NewRows([]string{"open_time", "open", "high", "low", "close", "volume", "close_time"}).
		AddRow(start, 100.0, 101.0, 99.0, 100.5, 12.0, start.Add(5*time.Minute)).
		AddRow(start.Add(5*time.Minute), 100.5, 102.0, 100.0, 101.5, 14.0, start.Add(10*time.Minute))

	mock.ExpectQuery("SELECT open_time, open, high, low, close, volume, close_time").
		WithArgs("BTC-USDT", "5m", start, end).
		WillReturnRows(rows)

	h := NewHistory(mock)
	candles, err := h.Load(context.Background(), "BTC-USDT", "5m", start, end)
	require.NoError(t, err)

	require.Len(t, candles, 2)
	assert.Equal(t, 100.5, candles[0].Close)
	assert.Equal(t, 101.5, candles[1].Close)
	assert.True(t, candles[0].OpenTime.Before(candles[1].OpenTime))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestHistoryBackfill(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	source := newTestSource(t)
	for _, c := range source.candles["5m"] {
		mock.ExpectExec("INSERT INTO market_candles").
			WithArgs("BTC-USDT", "5m", c.OpenTime, c.Open, c.High, c.Low, c.Close, c.Volume, c.CloseTime).
			WillReturnResult(pgxmock.NewResult("INSERT", 1))
	}

	h := NewHistory(mock)
	n, err := h.Backfill(context.Background(), source, "BTC-USDT", "5m", 40)
	require.NoError(t, err)
	assert.Equal(t, 40, n)
	assert.NoError(t, mock.ExpectationsWereMet())
}
