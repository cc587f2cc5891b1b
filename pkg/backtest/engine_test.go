package backtest

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tradesentry/tradesentry/internal/agents"
	"github.com/tradesentry/tradesentry/internal/exchange"
	"github.com/tradesentry/tradesentry/internal/market"
)

// syntheticCandles produces a deterministic series: a slow uptrend
// with a sine wobble so the indicator chain sees both momentum and
// pullbacks.
func syntheticCandles(n int) []exchange.Candle {
	out := make([]exchange.Candle, n)
	base := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	price := 50000.0
	for i := 0; i < n; i++ {
		drift := 1 + 0.0008*math.Sin(float64(i)/7.0) + 0.0003
		next := price * drift
		high := math.Max(price, next) * 1.002
		low := math.Min(price, next) * 0.998
		out[i] = exchange.Candle{
			OpenTime:  base.Add(time.Duration(i) * time.Hour),
			Open:      price,
			High:      high,
			Low:       low,
			Close:     next,
			Volume:    100 + 10*math.Sin(float64(i)/3.0),
			CloseTime: base.Add(time.Duration(i+1) * time.Hour),
		}
		price = next
	}
	return out
}

func TestNewRunnerValidation(t *testing.T) {
	_, err := NewRunner(Config{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "symbol")
}

func TestNewRunnerForcesDeterministicFills(t *testing.T) {
	cfg := DefaultConfig("BTCUSDT")
	cfg.Simulator.FillAtNextBar = false
	cfg.Simulator.LatencyMin = 50 * time.Millisecond
	cfg.Simulator.LatencyMax = 200 * time.Millisecond

	r, err := NewRunner(cfg)
	require.NoError(t, err)
	assert.True(t, r.cfg.Simulator.FillAtNextBar)
	assert.Zero(t, r.cfg.Simulator.LatencyMin)
	assert.Zero(t, r.cfg.Simulator.LatencyMax)
}

func TestRunNeedsWarmup(t *testing.T) {
	r, err := NewRunner(DefaultConfig("BTCUSDT"))
	require.NoError(t, err)

	_, err = r.Run(context.Background(), syntheticCandles(10))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bars")
}

func TestRunProducesResult(t *testing.T) {
	cfg := DefaultConfig("BTCUSDT")
	r, err := NewRunner(cfg)
	require.NoError(t, err)

	candles := syntheticCandles(200)
	res, err := r.Run(context.Background(), candles)
	require.NoError(t, err)

	assert.Equal(t, "BTCUSDT", res.Symbol)
	assert.Equal(t, 200, res.Bars)
	assert.Equal(t, cfg.Simulator.InitialBalance, res.InitialBalance)
	assert.Len(t, res.Equity, 200)
	assert.Positive(t, res.FinalEquity)

	// The equity curve is sampled on every bar in order.
	for i, pt := range res.Equity {
		assert.Equal(t, i, pt.Bar)
	}

	// Every closed trade sits inside the replay and fills strictly
	// after its decision bar.
	for _, tr := range res.Trades {
		assert.Equal(t, "BTCUSDT", tr.Symbol)
		assert.Greater(t, tr.ClosedBar, tr.OpenedBar)
		assert.Less(t, tr.ClosedBar, 200)
		assert.Positive(t, tr.Size)
		assert.Positive(t, tr.EntryPrice)
	}

	// One audit record per gateway submission.
	for _, rec := range res.Audit {
		assert.Equal(t, "BTCUSDT", rec.Symbol)
		assert.False(t, rec.Timestamp.IsZero())
	}

	assert.Equal(t, len(res.Trades), res.Stats.TotalTrades)
}

func TestBuildRequestPinsSnapshotBar(t *testing.T) {
	r, err := NewRunner(DefaultConfig("BTCUSDT"))
	require.NoError(t, err)
	defer r.bus.Close()

	for _, bar := range syntheticCandles(10) {
		r.sim.UpdateBar("BTCUSDT", bar)
	}
	require.Equal(t, 9, r.sim.BarIndex())

	d := &agents.TradeDecision{
		TraceID:       "trace-pin",
		Symbol:        "BTCUSDT",
		Action:        agents.ActionBuy,
		Size:          0.05,
		Leverage:      2,
		StopLossPct:   0.02,
		TakeProfitPct: 0.04,
		StrategyID:    "trend_following",
		BarIndex:      4,
	}
	st := &market.State{Symbol: "BTCUSDT", Price: 50000, BarIndex: 4}

	// The request carries the bar the decision was computed from, not
	// whatever the venue clock reads at submit time.
	req, ok := r.buildRequest(d, st, agents.PortfolioView{}, 10000)
	require.True(t, ok)
	assert.Equal(t, 4, req.BarIndex)

	// A decision computed over bars the venue has not been shown yet
	// is refused at the venue instead of being silently re-stamped.
	d.BarIndex = r.sim.BarIndex() + 1
	req, ok = r.buildRequest(d, st, agents.PortfolioView{}, 10000)
	require.True(t, ok)
	_, err = r.gateway.Submit(context.Background(), req)
	var look *exchange.LookAheadError
	require.ErrorAs(t, err, &look)
}

func TestRunHonorsContextCancel(t *testing.T) {
	r, err := NewRunner(DefaultConfig("BTCUSDT"))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res, err := r.Run(ctx, syntheticCandles(200))
	require.NoError(t, err)
	// Cancelled before the first bar: nothing sampled.
	assert.Empty(t, res.Equity)
}

func TestProtectiveExit(t *testing.T) {
	bar := exchange.Candle{Open: 100, High: 106, Low: 94, Close: 101}

	tests := []struct {
		name       string
		book       openPosition
		wantPrice  float64
		protective bool
	}{
		{
			name:       "long stop hit",
			book:       openPosition{side: exchange.PositionSideLong, stop: 95, target: 120},
			wantPrice:  95,
			protective: true,
		},
		{
			name:       "long target hit",
			book:       openPosition{side: exchange.PositionSideLong, stop: 90, target: 105},
			wantPrice:  105,
			protective: true,
		},
		{
			name: "long stop wins when both straddle the bar",
			book: openPosition{side: exchange.PositionSideLong, stop: 95, target: 105},
			// Stop is checked before target, matching the venue.
			wantPrice:  95,
			protective: true,
		},
		{
			name:       "short stop hit",
			book:       openPosition{side: exchange.PositionSideShort, stop: 105, target: 80},
			wantPrice:  105,
			protective: true,
		},
		{
			name:       "short target hit",
			book:       openPosition{side: exchange.PositionSideShort, stop: 110, target: 95},
			wantPrice:  95,
			protective: true,
		},
		{
			name:       "no level touched falls back to close",
			book:       openPosition{side: exchange.PositionSideLong, stop: 90, target: 120},
			wantPrice:  101,
			protective: false,
		},
		{
			name:       "no protection at all",
			book:       openPosition{side: exchange.PositionSideShort},
			wantPrice:  101,
			protective: false,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			price, protective := protectiveExit(tt.book, bar)
			assert.InDelta(t, tt.wantPrice, price, 1e-9)
			assert.Equal(t, tt.protective, protective)
		})
	}
}
