package backtest

import "math"

// Stats summarizes a run's equity curve and trade list.
type Stats struct {
	TotalReturnPct float64 `json:"total_return_pct"`
	MaxDrawdownPct float64 `json:"max_drawdown_pct"`
	SharpeRatio    float64 `json:"sharpe_ratio"`

	TotalTrades      int     `json:"total_trades"`
	WinningTrades    int     `json:"winning_trades"`
	LosingTrades     int     `json:"losing_trades"`
	ProtectiveExits  int     `json:"protective_exits"`
	WinRate          float64 `json:"win_rate"`
	AverageWin       float64 `json:"average_win"`
	AverageLoss      float64 `json:"average_loss"` // positive magnitude
	LargestWin       float64 `json:"largest_win"`
	LargestLoss      float64 `json:"largest_loss"` // negative
	ProfitFactor     float64 `json:"profit_factor"`
	Expectancy       float64 `json:"expectancy"`
	KellyFraction    float64 `json:"kelly_fraction"`
	AvgHoldBars      float64 `json:"avg_hold_bars"`
	ConsecutiveWins  int     `json:"max_consecutive_wins"`
	ConsecutiveLoses int     `json:"max_consecutive_losses"`
}

// ComputeStats derives the summary from one run's outputs. The Sharpe
// ratio is per-bar, annualization is left to the caller since the bar
// interval is theirs to know.
func ComputeStats(initial float64, equity []EquityPoint, trades []Trade) Stats {
	var s Stats

	if initial > 0 && len(equity) > 0 {
		final := equity[len(equity)-1].Equity
		s.TotalReturnPct = (final - initial) / initial * 100
	}
	s.MaxDrawdownPct = maxDrawdown(equity) * 100
	s.SharpeRatio = sharpe(equity)

	s.TotalTrades = len(trades)
	if len(trades) == 0 {
		return s
	}

	var grossWin, grossLoss, holdBars float64
	var winStreak, lossStreak int
	for _, tr := range trades {
		holdBars += float64(tr.ClosedBar - tr.OpenedBar)
		if tr.Protective {
			s.ProtectiveExits++
		}
		if tr.PnL > 0 {
			s.WinningTrades++
			grossWin += tr.PnL
			if tr.PnL > s.LargestWin {
				s.LargestWin = tr.PnL
			}
			winStreak++
			lossStreak = 0
			if winStreak > s.ConsecutiveWins {
				s.ConsecutiveWins = winStreak
			}
		} else {
			s.LosingTrades++
			grossLoss += -tr.PnL
			if tr.PnL < s.LargestLoss {
				s.LargestLoss = tr.PnL
			}
			lossStreak++
			winStreak = 0
			if lossStreak > s.ConsecutiveLoses {
				s.ConsecutiveLoses = lossStreak
			}
		}
	}

	s.WinRate = float64(s.WinningTrades) / float64(s.TotalTrades)
	s.AvgHoldBars = holdBars / float64(s.TotalTrades)
	if s.WinningTrades > 0 {
		s.AverageWin = grossWin / float64(s.WinningTrades)
	}
	if s.LosingTrades > 0 {
		s.AverageLoss = grossLoss / float64(s.LosingTrades)
	}
	if grossLoss > 0 {
		s.ProfitFactor = grossWin / grossLoss
	} else if grossWin > 0 {
		s.ProfitFactor = math.Inf(1)
	}
	s.Expectancy = (grossWin - grossLoss) / float64(s.TotalTrades)
	s.KellyFraction = kelly(s.WinRate, s.AverageWin, s.AverageLoss)
	return s
}

// kelly returns the fraction of capital the classic Kelly criterion
// would stake: f = W - (1-W)/R with R the payoff ratio. Clamped to
// [0,1]; a negative edge stakes nothing.
func kelly(winRate, avgWin, avgLoss float64) float64 {
	if avgLoss <= 0 || avgWin <= 0 {
		return 0
	}
	r := avgWin / avgLoss
	f := winRate - (1-winRate)/r
	if f < 0 {
		return 0
	}
	if f > 1 {
		return 1
	}
	return f
}

// maxDrawdown returns the deepest peak-to-trough fall as a fraction
// of the peak.
func maxDrawdown(equity []EquityPoint) float64 {
	var peak, worst float64
	for _, pt := range equity {
		if pt.Equity > peak {
			peak = pt.Equity
		}
		if peak > 0 {
			dd := (peak - pt.Equity) / peak
			if dd > worst {
				worst = dd
			}
		}
	}
	return worst
}

// sharpe is mean/stdev of per-bar simple returns. Zero-variance
// curves score zero.
func sharpe(equity []EquityPoint) float64 {
	if len(equity) < 3 {
		return 0
	}

	returns := make([]float64, 0, len(equity)-1)
	for i := 1; i < len(equity); i++ {
		prev := equity[i-1].Equity
		if prev <= 0 {
			continue
		}
		returns = append(returns, (equity[i].Equity-prev)/prev)
	}
	if len(returns) < 2 {
		return 0
	}

	var mean float64
	for _, r := range returns {
		mean += r
	}
	mean /= float64(len(returns))

	var variance float64
	for _, r := range returns {
		d := r - mean
		variance += d * d
	}
	variance /= float64(len(returns) - 1)
	if variance == 0 {
		return 0
	}
	return mean / math.Sqrt(variance)
}
