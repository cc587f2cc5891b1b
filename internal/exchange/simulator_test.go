package exchange

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testBar(open, high, low, close, volume float64, at time.Time) Candle {
	return Candle{
		OpenTime:  at,
		Open:      open,
		High:      high,
		Low:       low,
		Close:     close,
		Volume:    volume,
		CloseTime: at.Add(5 * time.Minute),
	}
}

func newTestSimulator(cfg SimulatorConfig) *Simulator {
	sim := NewSimulator(cfg, nil)
	sim.now = func() time.Time { return time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC) }
	return sim
}

func TestSimulatorMarketOrderSlippage(t *testing.T) {
	cfg := DefaultSimulatorConfig()
	sim := newTestSimulator(cfg)
	require.NoError(t, sim.Connect(context.Background()))

	base := time.Date(2025, 6, 1, 11, 55, 0, 0, time.UTC)
	sim.UpdateBar("BTC-USDT", testBar(49900, 50100, 49800, 50000, 1000, base))

	order, err := sim.CreateOrder(context.Background(), OrderRequest{
		ClientOrderID: "BUY_BTCUSDT_1748779200000_aaaaaaaa",
		Symbol:        "BTC-USDT",
		Side:          OrderSideBuy,
		Type:          OrderTypeMarket,
		Quantity:      0.1,
		Leverage:      1,
	})
	require.NoError(t, err)
	require.Equal(t, OrderStatusFilled, order.Status)

	// slippage = base 0.0005 + (5000/50000000)*0.1 = 0.00051
	wantFill := 50000 * (1 + 0.00051)
	assert.InDelta(t, wantFill, order.AvgFillPrice, 1e-6)
	assert.InDelta(t, 0.1*wantFill*cfg.TakerFee, order.Fee, 1e-9)
	assert.Equal(t, 0.1, order.FilledQty)
	require.Len(t, order.Fills, 1)

	positions, err := sim.GetPositions(context.Background())
	require.NoError(t, err)
	require.Len(t, positions, 1)
	assert.Equal(t, PositionSideLong, positions[0].Side)
	assert.InDelta(t, wantFill, positions[0].EntryPrice, 1e-6)
}

func TestSimulatorSlippageCapped(t *testing.T) {
	cfg := DefaultSimulatorConfig()
	sim := newTestSimulator(cfg)

	base := time.Date(2025, 6, 1, 11, 55, 0, 0, time.UTC)
	// Tiny bar volume so raw impact far exceeds the cap
	sim.UpdateBar("ETH-USDT", testBar(3000, 3010, 2990, 3000, 0.5, base))

	order, err := sim.CreateOrder(context.Background(), OrderRequest{
		ClientOrderID: "BUY_ETHUSDT_1748779200000_bbbbbbbb",
		Symbol:        "ETH-USDT",
		Side:          OrderSideBuy,
		Type:          OrderTypeMarket,
		Quantity:      1,
		Leverage:      2,
	})
	require.NoError(t, err)
	assert.InDelta(t, 3000*(1+cfg.MaxSlippage), order.AvgFillPrice, 1e-6)
}

func TestSimulatorSellReceivesLess(t *testing.T) {
	cfg := DefaultSimulatorConfig()
	cfg.MarketImpactCoef = 0
	sim := newTestSimulator(cfg)

	base := time.Date(2025, 6, 1, 11, 55, 0, 0, time.UTC)
	sim.UpdateBar("BTC-USDT", testBar(49900, 50100, 49800, 50000, 1000, base))

	order, err := sim.CreateOrder(context.Background(), OrderRequest{
		ClientOrderID: "SELL_BTCUSDT_1748779200000_cccccccc",
		Symbol:        "BTC-USDT",
		Side:          OrderSideSell,
		Type:          OrderTypeMarket,
		Quantity:      0.1,
		Leverage:      1,
	})
	require.NoError(t, err)
	assert.InDelta(t, 50000*(1-cfg.BaseSlippage), order.AvgFillPrice, 1e-6)

	positions, err := sim.GetPositions(context.Background())
	require.NoError(t, err)
	require.Len(t, positions, 1)
	assert.Equal(t, PositionSideShort, positions[0].Side)
}

func TestSimulatorSpikeGuardSuspendsFills(t *testing.T) {
	cfg := DefaultSimulatorConfig()
	sim := newTestSimulator(cfg)

	base := time.Date(2025, 6, 1, 11, 55, 0, 0, time.UTC)
	// 3% single-bar move exceeds the 2% threshold
	sim.UpdateBar("BTC-USDT", testBar(50000, 51600, 49900, 51500, 1000, base))

	_, err := sim.CreateOrder(context.Background(), OrderRequest{
		ClientOrderID: "BUY_BTCUSDT_1748779200000_dddddddd",
		Symbol:        "BTC-USDT",
		Side:          OrderSideBuy,
		Type:          OrderTypeMarket,
		Quantity:      0.1,
		Leverage:      1,
	})
	var suspended *SuspendedError
	require.ErrorAs(t, err, &suspended)
	assert.Equal(t, "BTC-USDT", suspended.Symbol)
	assert.Equal(t, "MARKET_SUSPENDED", suspended.Code())
	assert.False(t, IsRetryable(err))
}

func TestSimulatorLookAheadRejected(t *testing.T) {
	cfg := DefaultSimulatorConfig()
	sim := newTestSimulator(cfg)

	base := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 3; i++ {
		at := base.Add(time.Duration(i) * 5 * time.Minute)
		sim.UpdateBar("BTC-USDT", testBar(50000, 50100, 49900, 50000, 1000, at))
	}
	require.Equal(t, 2, sim.BarIndex())

	order, err := sim.CreateOrder(context.Background(), OrderRequest{
		ClientOrderID: "BUY_BTCUSDT_1748779200000_eeeeeeee",
		Symbol:        "BTC-USDT",
		Side:          OrderSideBuy,
		Type:          OrderTypeMarket,
		Quantity:      0.1,
		Leverage:      1,
		BarIndex:      3,
	})
	var lookAhead *LookAheadError
	require.ErrorAs(t, err, &lookAhead)
	assert.Equal(t, 3, lookAhead.RequestBar)
	assert.Equal(t, 2, lookAhead.CurrentBar)
	assert.Equal(t, "RISK_CHECK_FAILED", lookAhead.Code())

	require.NotNil(t, order)
	assert.Equal(t, OrderStatusRejected, order.Status)
	assert.Contains(t, order.RejectReason, "look-ahead")

	// The reject is recorded; later lookups see the terminal state
	got, err := sim.GetOrder(context.Background(), "BUY_BTCUSDT_1748779200000_eeeeeeee")
	require.NoError(t, err)
	assert.Equal(t, OrderStatusRejected, got.Status)

	// Signals computed at or before the current bar pass
	ok, err := sim.CreateOrder(context.Background(), OrderRequest{
		ClientOrderID: "BUY_BTCUSDT_1748779200001_ffffffff",
		Symbol:        "BTC-USDT",
		Side:          OrderSideBuy,
		Type:          OrderTypeMarket,
		Quantity:      0.1,
		Leverage:      1,
		BarIndex:      2,
	})
	require.NoError(t, err)
	assert.Equal(t, OrderStatusFilled, ok.Status)
}

func TestSimulatorDuplicateClientOrderID(t *testing.T) {
	cfg := DefaultSimulatorConfig()
	sim := newTestSimulator(cfg)

	base := time.Date(2025, 6, 1, 11, 55, 0, 0, time.UTC)
	sim.UpdateBar("BTC-USDT", testBar(49900, 50100, 49800, 50000, 1000, base))

	req := OrderRequest{
		ClientOrderID: "BUY_BTCUSDT_1748779200000_abcd1234",
		Symbol:        "BTC-USDT",
		Side:          OrderSideBuy,
		Type:          OrderTypeMarket,
		Quantity:      0.1,
		Leverage:      1,
	}

	first, err := sim.CreateOrder(context.Background(), req)
	require.NoError(t, err)

	second, err := sim.CreateOrder(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, first.ExchangeOrderID, second.ExchangeOrderID)
	assert.Equal(t, first.AvgFillPrice, second.AvgFillPrice)

	// No double fill: the position holds a single order's quantity
	positions, err := sim.GetPositions(context.Background())
	require.NoError(t, err)
	require.Len(t, positions, 1)
	assert.Equal(t, 0.1, positions[0].Size)
}

func TestSimulatorStopLossExit(t *testing.T) {
	cfg := DefaultSimulatorConfig()
	cfg.SpikeThreshold = 0.10 // keep the guard out of the way
	sim := newTestSimulator(cfg)

	base := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	sim.UpdateBar("BTC-USDT", testBar(49900, 50100, 49800, 50000, 1000, base))

	_, err := sim.CreateOrder(context.Background(), OrderRequest{
		ClientOrderID: "BUY_BTCUSDT_1748779200000_11111111",
		Symbol:        "BTC-USDT",
		Side:          OrderSideBuy,
		Type:          OrderTypeMarket,
		Quantity:      0.1,
		Leverage:      1,
		StopLoss:      49000,
		TakeProfit:    52000,
	})
	require.NoError(t, err)

	balBefore, err := sim.GetBalance(context.Background())
	require.NoError(t, err)

	// Bar trades through the stop; position exits at the stop price
	sim.UpdateBar("BTC-USDT", testBar(49500, 49600, 48900, 49100, 1000, base.Add(5*time.Minute)))

	positions, err := sim.GetPositions(context.Background())
	require.NoError(t, err)
	assert.Empty(t, positions)

	balAfter, err := sim.GetBalance(context.Background())
	require.NoError(t, err)
	assert.Less(t, balAfter.Total, balBefore.Total)
	assert.Zero(t, balAfter.UnrealizedPnL)
}

func TestSimulatorStopBeatsTargetInSameBar(t *testing.T) {
	cfg := DefaultSimulatorConfig()
	cfg.SpikeThreshold = 0.20
	sim := newTestSimulator(cfg)

	base := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	sim.UpdateBar("BTC-USDT", testBar(49900, 50100, 49800, 50000, 1000, base))

	_, err := sim.CreateOrder(context.Background(), OrderRequest{
		ClientOrderID: "BUY_BTCUSDT_1748779200000_22222222",
		Symbol:        "BTC-USDT",
		Side:          OrderSideBuy,
		Type:          OrderTypeMarket,
		Quantity:      0.1,
		Leverage:      1,
		StopLoss:      49000,
		TakeProfit:    51000,
	})
	require.NoError(t, err)

	balBefore, err := sim.GetBalance(context.Background())
	require.NoError(t, err)

	// Both levels print inside one wide bar: the pessimistic stop wins
	sim.UpdateBar("BTC-USDT", testBar(50000, 51500, 48500, 50000, 1000, base.Add(5*time.Minute)))

	balAfter, err := sim.GetBalance(context.Background())
	require.NoError(t, err)
	assert.Less(t, balAfter.Total, balBefore.Total)
}

func TestSimulatorFillAtNextBar(t *testing.T) {
	cfg := DefaultSimulatorConfig()
	cfg.BaseSlippage = 0
	cfg.MarketImpactCoef = 0
	cfg.FillAtNextBar = true
	sim := newTestSimulator(cfg)

	base := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	sim.UpdateBar("BTC-USDT", testBar(99, 101, 98, 100, 1000, base))

	order, err := sim.CreateOrder(context.Background(), OrderRequest{
		ClientOrderID: "BUY_BTCUSDT_1748779200000_33333333",
		Symbol:        "BTC-USDT",
		Side:          OrderSideBuy,
		Type:          OrderTypeMarket,
		Quantity:      1,
		Leverage:      1,
		BarIndex:      0,
	})
	require.NoError(t, err)
	assert.Equal(t, OrderStatusSubmitted, order.Status)

	sim.UpdateBar("BTC-USDT", testBar(100, 102, 99, 101, 1000, base.Add(5*time.Minute)))

	got, err := sim.GetOrder(context.Background(), order.ClientOrderID)
	require.NoError(t, err)
	assert.Equal(t, OrderStatusFilled, got.Status)
	assert.InDelta(t, 101.0, got.AvgFillPrice, 1e-9)
}

func TestSimulatorInsufficientMargin(t *testing.T) {
	cfg := DefaultSimulatorConfig()
	cfg.InitialBalance = 100
	sim := newTestSimulator(cfg)

	base := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	sim.UpdateBar("BTC-USDT", testBar(49900, 50100, 49800, 50000, 1000, base))

	order, err := sim.CreateOrder(context.Background(), OrderRequest{
		ClientOrderID: "BUY_BTCUSDT_1748779200000_44444444",
		Symbol:        "BTC-USDT",
		Side:          OrderSideBuy,
		Type:          OrderTypeMarket,
		Quantity:      1,
		Leverage:      1,
	})
	var insufficient *InsufficientBalanceError
	require.ErrorAs(t, err, &insufficient)
	assert.Equal(t, "INSUFFICIENT_MARGIN", insufficient.Code())
	require.NotNil(t, order)
	assert.Equal(t, OrderStatusRejected, order.Status)
}

func TestSimulatorReduceOnlyCannotOpen(t *testing.T) {
	cfg := DefaultSimulatorConfig()
	sim := newTestSimulator(cfg)

	base := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	sim.UpdateBar("BTC-USDT", testBar(49900, 50100, 49800, 50000, 1000, base))

	_, err := sim.CreateOrder(context.Background(), OrderRequest{
		ClientOrderID: "SELL_BTCUSDT_1748779200000_55555555",
		Symbol:        "BTC-USDT",
		Side:          OrderSideSell,
		Type:          OrderTypeMarket,
		Quantity:      0.1,
		Leverage:      1,
		ReduceOnly:    true,
	})
	require.Error(t, err)
	assert.False(t, errors.Is(err, ErrOrderNotFound))
	assert.Contains(t, err.Error(), "reduce-only")
}

func TestSimulatorLimitOrderRestsAndFills(t *testing.T) {
	cfg := DefaultSimulatorConfig()
	cfg.SpikeThreshold = 0.10
	sim := newTestSimulator(cfg)

	base := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	sim.UpdateBar("BTC-USDT", testBar(49900, 50100, 49800, 50000, 1000, base))

	order, err := sim.CreateOrder(context.Background(), OrderRequest{
		ClientOrderID: "BUY_BTCUSDT_1748779200000_66666666",
		Symbol:        "BTC-USDT",
		Side:          OrderSideBuy,
		Type:          OrderTypeLimit,
		Quantity:      0.1,
		Price:         49500,
		Leverage:      1,
	})
	require.NoError(t, err)
	assert.Equal(t, OrderStatusOpen, order.Status)

	// Bar does not reach the limit
	sim.UpdateBar("BTC-USDT", testBar(50000, 50200, 49700, 50100, 1000, base.Add(5*time.Minute)))
	got, _ := sim.GetOrder(context.Background(), order.ClientOrderID)
	assert.Equal(t, OrderStatusOpen, got.Status)

	// Bar trades through the limit price
	sim.UpdateBar("BTC-USDT", testBar(50100, 50150, 49400, 49600, 1000, base.Add(10*time.Minute)))
	got, _ = sim.GetOrder(context.Background(), order.ClientOrderID)
	require.Equal(t, OrderStatusFilled, got.Status)
	assert.Equal(t, 49500.0, got.AvgFillPrice)
}

func TestSimulatorCancelResting(t *testing.T) {
	cfg := DefaultSimulatorConfig()
	sim := newTestSimulator(cfg)

	base := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	sim.UpdateBar("BTC-USDT", testBar(49900, 50100, 49800, 50000, 1000, base))

	order, err := sim.CreateOrder(context.Background(), OrderRequest{
		ClientOrderID: "BUY_BTCUSDT_1748779200000_77777777",
		Symbol:        "BTC-USDT",
		Side:          OrderSideBuy,
		Type:          OrderTypeLimit,
		Quantity:      0.1,
		Price:         48000,
		Leverage:      1,
	})
	require.NoError(t, err)

	cancelled, err := sim.CancelOrder(context.Background(), order.ClientOrderID)
	require.NoError(t, err)
	assert.Equal(t, OrderStatusCancelled, cancelled.Status)

	// Cancelling a terminal order reports the state with an error
	again, err := sim.CancelOrder(context.Background(), order.ClientOrderID)
	require.Error(t, err)
	assert.Equal(t, OrderStatusCancelled, again.Status)

	_, err = sim.CancelOrder(context.Background(), "BUY_BTCUSDT_0000000000000_00000000")
	assert.ErrorIs(t, err, ErrOrderNotFound)
}

func TestRateLimiterBurstThenWait(t *testing.T) {
	rl := NewRateLimiter(60, 2)

	require.NoError(t, rl.Acquire("orders"))
	require.NoError(t, rl.Acquire("orders"))

	err := rl.Acquire("orders")
	var rateErr *RateLimitError
	require.ErrorAs(t, err, &rateErr)
	assert.Equal(t, "orders", rateErr.Key)
	assert.Greater(t, rateErr.RetryAfter, time.Duration(0))
	assert.Equal(t, "RATE_LIMIT", rateErr.Code())

	// Buckets are independent per key
	assert.NoError(t, rl.Acquire("market"))
}

func TestWithRetryStopsOnNonRetryable(t *testing.T) {
	cfg := RetryConfig{MaxRetries: 3, InitialBackoff: time.Millisecond, MaxBackoff: 5 * time.Millisecond, BackoffFactor: 2}

	calls := 0
	err := WithRetry(context.Background(), cfg, func() error {
		calls++
		return &InsufficientBalanceError{Required: 10, Available: 1}
	})
	require.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestWithRetryRecoversAfterTransientErrors(t *testing.T) {
	cfg := RetryConfig{MaxRetries: 3, InitialBackoff: time.Millisecond, MaxBackoff: 5 * time.Millisecond, BackoffFactor: 2}

	calls := 0
	err := WithRetry(context.Background(), cfg, func() error {
		calls++
		if calls < 3 {
			return &APIError{Op: "create_order", Message: "connection reset", Retryable: true}
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestWithRetryExhaustsAttempts(t *testing.T) {
	cfg := RetryConfig{MaxRetries: 2, InitialBackoff: time.Millisecond, MaxBackoff: 2 * time.Millisecond, BackoffFactor: 2}

	calls := 0
	err := WithRetry(context.Background(), cfg, func() error {
		calls++
		return &TimeoutError{Op: "get_order", After: time.Second}
	})
	require.Error(t, err)
	assert.Equal(t, 3, calls)

	var timeoutErr *TimeoutError
	assert.ErrorAs(t, err, &timeoutErr)
}
