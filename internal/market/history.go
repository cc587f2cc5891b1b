package market

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/tradesentry/tradesentry/internal/exchange"
)

// HistoryDB is the database surface History needs. *pgxpool.Pool
// satisfies it, and so does pgxmock in tests.
type HistoryDB interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// History persists closed bars so backtests replay stored venue data
// instead of refetching it. Nothing on the live order path reads from
// here.
type History struct {
	db     HistoryDB
	logger zerolog.Logger
}

// NewHistory returns a candle history repository over db.
func NewHistory(db HistoryDB) *History {
	return &History{
		db:     db,
		logger: log.With().Str("component", "market-history").Logger(),
	}
}

// Store upserts a window of closed bars. Re-storing a bar overwrites
// it, so repeated backfills of overlapping windows are harmless.
func (h *History) Store(ctx context.Context, symbol, timeframe string, candles []exchange.Candle) error {
	const q = `
		INSERT INTO market_candles (symbol, timeframe, open_time, open, high, low, close, volume, close_time)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (symbol, timeframe, open_time)
		DO UPDATE SET
			open = EXCLUDED.open,
			high = EXCLUDED.high,
			low = EXCLUDED.low,
			close = EXCLUDED.close,
			volume = EXCLUDED.volume,
			close_time = EXCLUDED.close_time`

	for _, c := range candles {
		_, err := h.db.Exec(ctx, q,
			symbol, timeframe, c.OpenTime,
			c.Open, c.High, c.Low, c.Close, c.Volume, c.CloseTime,
		)
		if err != nil {
			return fmt.Errorf("store candle %s %s @ %s: %w",
				symbol, timeframe, c.OpenTime.Format(time.RFC3339), err)
		}
	}
	return nil
}

// Load returns stored bars with open_time in [from, to], oldest first.
func (h *History) Load(ctx context.Context, symbol, timeframe string, from, to time.Time) ([]exchange.Candle, error) {
	const q = `
		SELECT open_time, open, high, low, close, volume, close_time
		FROM market_candles
		WHERE symbol = $1 AND timeframe = $2 AND open_time >= $3 AND open_time <= $4
		ORDER BY open_time ASC`

	rows, err := h.db.Query(ctx, q, symbol, timeframe, from, to)
	if err != nil {
		return nil, fmt.Errorf("load candles %s %s: %w", symbol, timeframe, err)
	}
	defer rows.Close()

	var out []exchange.Candle
	for rows.Next() {
		var c exchange.Candle
		if err := rows.Scan(&c.OpenTime, &c.Open, &c.High, &c.Low, &c.Close, &c.Volume, &c.CloseTime); err != nil {
			return nil, fmt.Errorf("scan candle: %w", err)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("load candles %s %s: %w", symbol, timeframe, err)
	}
	return out, nil
}

// Backfill fetches the most recent window from source and stores it,
// returning the number of bars written.
func (h *History) Backfill(ctx context.Context, source CandleSource, symbol, timeframe string, limit int) (int, error) {
	candles, err := source.GetCandles(ctx, symbol, timeframe, limit)
	if err != nil {
		return 0, fmt.Errorf("backfill %s %s: %w", symbol, timeframe, err)
	}
	if err := h.Store(ctx, symbol, timeframe, candles); err != nil {
		return 0, err
	}

	h.logger.Info().
		Str("symbol", symbol).
		Str("timeframe", timeframe).
		Int("bars", len(candles)).
		Msg("backfilled candle history")
	return len(candles), nil
}
