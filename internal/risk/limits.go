package risk

import "github.com/tradesentry/tradesentry/internal/config"

// Compiled hard bounds. Runtime configuration can tighten limits but
// never loosen them past these values; SanitizeLimits pulls anything
// out of range back inside.
const (
	HardMaxPositionPct          = 0.25
	HardMaxTotalExposure        = 1.00
	HardMaxSingleSymbolExposure = 0.50
	HardMaxOpenPositions        = 10
	HardMaxLeverage             = 10.0
	HardMaxStopLossPct          = 0.25
	HardMinStopLossPct          = 0.001
	HardMaxTakeProfitPct        = 1.00
	HardMaxDailyLoss            = 0.10
	HardMaxDailyTrades          = 100
	HardMaxTotalDrawdown        = 0.30
	HardCircuitBreakerTrigger   = 0.15

	defaultMinOrderSize = 0.01
)

// SanitizeLimits bounds a configured limit set. Zero and negative
// values fall back to the compiled bound itself, so a hand-built
// RiskLimits can never disable a rule by omission.
func SanitizeLimits(l config.RiskLimits) config.RiskLimits {
	l.MaxPositionPct = capAt(l.MaxPositionPct, HardMaxPositionPct)
	l.MaxTotalExposure = capAt(l.MaxTotalExposure, HardMaxTotalExposure)
	l.MaxSingleSymbolExposure = capAt(l.MaxSingleSymbolExposure, HardMaxSingleSymbolExposure)
	l.MaxLeverage = capAt(l.MaxLeverage, HardMaxLeverage)
	l.MaxStopLossPct = capAt(l.MaxStopLossPct, HardMaxStopLossPct)
	l.MaxTakeProfitPct = capAt(l.MaxTakeProfitPct, HardMaxTakeProfitPct)
	l.MaxDailyLoss = capAt(l.MaxDailyLoss, HardMaxDailyLoss)
	l.MaxTotalDrawdown = capAt(l.MaxTotalDrawdown, HardMaxTotalDrawdown)
	l.CircuitBreakerTrigger = capAt(l.CircuitBreakerTrigger, HardCircuitBreakerTrigger)

	if l.MaxOpenPositions <= 0 || l.MaxOpenPositions > HardMaxOpenPositions {
		l.MaxOpenPositions = HardMaxOpenPositions
	}
	if l.MaxDailyTrades <= 0 || l.MaxDailyTrades > HardMaxDailyTrades {
		l.MaxDailyTrades = HardMaxDailyTrades
	}

	if l.MinStopLossPct < HardMinStopLossPct {
		l.MinStopLossPct = HardMinStopLossPct
	}
	if l.MinStopLossPct >= l.MaxStopLossPct {
		l.MinStopLossPct = HardMinStopLossPct
	}

	if l.MinOrderSize <= 0 {
		l.MinOrderSize = defaultMinOrderSize
	}

	return l
}

func capAt(v, hard float64) float64 {
	if v <= 0 || v > hard {
		return hard
	}
	return v
}
