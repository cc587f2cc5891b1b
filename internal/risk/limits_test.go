package risk

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/tradesentry/tradesentry/internal/config"
)

func TestSanitizeLimitsTightensLooseValues(t *testing.T) {
	loose := config.RiskLimits{
		MaxPositionPct:          0.90,
		MaxTotalExposure:        5.0,
		MaxSingleSymbolExposure: 2.0,
		MaxOpenPositions:        50,
		MaxLeverage:             50,
		MaxStopLossPct:          0.80,
		MinStopLossPct:          0.0001,
		MaxTakeProfitPct:        3.0,
		MaxDailyLoss:            0.50,
		MaxDailyTrades:          1000,
		MaxTotalDrawdown:        0.90,
		CircuitBreakerTrigger:   0.50,
	}

	got := SanitizeLimits(loose)

	assert.InDelta(t, HardMaxPositionPct, got.MaxPositionPct, 1e-9)
	assert.InDelta(t, HardMaxTotalExposure, got.MaxTotalExposure, 1e-9)
	assert.InDelta(t, HardMaxSingleSymbolExposure, got.MaxSingleSymbolExposure, 1e-9)
	assert.Equal(t, HardMaxOpenPositions, got.MaxOpenPositions)
	assert.InDelta(t, HardMaxLeverage, got.MaxLeverage, 1e-9)
	assert.InDelta(t, HardMaxStopLossPct, got.MaxStopLossPct, 1e-9)
	assert.InDelta(t, HardMinStopLossPct, got.MinStopLossPct, 1e-9)
	assert.InDelta(t, HardMaxTakeProfitPct, got.MaxTakeProfitPct, 1e-9)
	assert.InDelta(t, HardMaxDailyLoss, got.MaxDailyLoss, 1e-9)
	assert.Equal(t, HardMaxDailyTrades, got.MaxDailyTrades)
	assert.InDelta(t, HardMaxTotalDrawdown, got.MaxTotalDrawdown, 1e-9)
	assert.InDelta(t, HardCircuitBreakerTrigger, got.CircuitBreakerTrigger, 1e-9)
	assert.InDelta(t, defaultMinOrderSize, got.MinOrderSize, 1e-9)
}

func TestSanitizeLimitsKeepsTighterValues(t *testing.T) {
	tight := testLimits()
	assert.Equal(t, tight, SanitizeLimits(tight))
}

func TestSanitizeLimitsZeroValuesFailClosed(t *testing.T) {
	got := SanitizeLimits(config.RiskLimits{})

	assert.InDelta(t, HardMaxPositionPct, got.MaxPositionPct, 1e-9)
	assert.InDelta(t, HardMaxLeverage, got.MaxLeverage, 1e-9)
	assert.InDelta(t, HardMaxDailyLoss, got.MaxDailyLoss, 1e-9)
	assert.Equal(t, HardMaxOpenPositions, got.MaxOpenPositions)
	assert.InDelta(t, HardCircuitBreakerTrigger, got.CircuitBreakerTrigger, 1e-9)
}

func TestSanitizeLimitsRepairsInvertedStopBand(t *testing.T) {
	l := testLimits()
	l.MinStopLossPct = 0.20
	l.MaxStopLossPct = 0.10

	got := SanitizeLimits(l)
	assert.InDelta(t, HardMinStopLossPct, got.MinStopLossPct, 1e-9)
	assert.InDelta(t, 0.10, got.MaxStopLossPct, 1e-9)
	assert.Less(t, got.MinStopLossPct, got.MaxStopLossPct)
}
