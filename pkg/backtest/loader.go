package backtest

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"github.com/tradesentry/tradesentry/internal/exchange"
)

// LoadCandlesCSV reads bars from a CSV file with columns
// open_time,open,high,low,close,volume[,close_time]. Timestamps are
// unix milliseconds. A header row is detected and skipped. When
// close_time is absent it is inferred from the spacing of the first
// two rows.
func LoadCandlesCSV(path string) ([]exchange.Candle, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("backtest: open candles: %w", err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1

	var candles []exchange.Candle
	row := 0
	for {
		record, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("backtest: read candles: %w", err)
		}
		row++

		if len(record) < 6 {
			return nil, fmt.Errorf("backtest: row %d: want at least 6 columns, got %d", row, len(record))
		}
		if row == 1 {
			if _, err := strconv.ParseInt(record[0], 10, 64); err != nil {
				continue // header
			}
		}

		c, err := parseCandle(record)
		if err != nil {
			return nil, fmt.Errorf("backtest: row %d: %w", row, err)
		}
		candles = append(candles, c)
	}

	if len(candles) == 0 {
		return nil, fmt.Errorf("backtest: %s holds no candles", path)
	}

	// Infer close times when the file omits them.
	if candles[0].CloseTime.IsZero() {
		interval := time.Hour
		if len(candles) > 1 {
			interval = candles[1].OpenTime.Sub(candles[0].OpenTime)
		}
		for i := range candles {
			candles[i].CloseTime = candles[i].OpenTime.Add(interval)
		}
	}

	for i := 1; i < len(candles); i++ {
		if !candles[i].OpenTime.After(candles[i-1].OpenTime) {
			return nil, fmt.Errorf("backtest: candles not strictly ordered at row %d", i+1)
		}
	}
	return candles, nil
}

func parseCandle(record []string) (exchange.Candle, error) {
	openMs, err := strconv.ParseInt(record[0], 10, 64)
	if err != nil {
		return exchange.Candle{}, fmt.Errorf("open_time: %w", err)
	}

	vals := make([]float64, 5)
	names := [5]string{"open", "high", "low", "close", "volume"}
	for i := 0; i < 5; i++ {
		vals[i], err = strconv.ParseFloat(record[i+1], 64)
		if err != nil {
			return exchange.Candle{}, fmt.Errorf("%s: %w", names[i], err)
		}
	}

	c := exchange.Candle{
		OpenTime: time.UnixMilli(openMs).UTC(),
		Open:     vals[0],
		High:     vals[1],
		Low:      vals[2],
		Close:    vals[3],
		Volume:   vals[4],
	}
	if len(record) >= 7 {
		closeMs, err := strconv.ParseInt(record[6], 10, 64)
		if err != nil {
			return exchange.Candle{}, fmt.Errorf("close_time: %w", err)
		}
		c.CloseTime = time.UnixMilli(closeMs).UTC()
	}
	return c, nil
}
