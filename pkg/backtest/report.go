package backtest

import (
	"fmt"
	"math"
	"strings"
)

// Report renders a run summary for the terminal.
func Report(r *Result) string {
	var b strings.Builder
	s := r.Stats

	line := strings.Repeat("=", 52)
	fmt.Fprintf(&b, "%s\n", line)
	fmt.Fprintf(&b, "  BACKTEST REPORT  %s\n", r.Symbol)
	fmt.Fprintf(&b, "%s\n\n", line)

	fmt.Fprintf(&b, "Bars replayed:        %d\n", r.Bars)
	fmt.Fprintf(&b, "Initial balance:      %.2f\n", r.InitialBalance)
	fmt.Fprintf(&b, "Final equity:         %.2f\n", r.FinalEquity)
	fmt.Fprintf(&b, "Total return:         %+.2f%%\n", s.TotalReturnPct)
	fmt.Fprintf(&b, "Max drawdown:         %.2f%%\n", s.MaxDrawdownPct)
	fmt.Fprintf(&b, "Sharpe (per bar):     %.3f\n\n", s.SharpeRatio)

	fmt.Fprintf(&b, "Trades:               %d (%d open at end)\n", s.TotalTrades, r.OpenPositions)
	if s.TotalTrades > 0 {
		fmt.Fprintf(&b, "Win rate:             %.1f%% (%dW / %dL)\n", s.WinRate*100, s.WinningTrades, s.LosingTrades)
		fmt.Fprintf(&b, "Protective exits:     %d\n", s.ProtectiveExits)
		fmt.Fprintf(&b, "Average win:          %+.2f\n", s.AverageWin)
		fmt.Fprintf(&b, "Average loss:         %+.2f\n", -s.AverageLoss)
		fmt.Fprintf(&b, "Largest win:          %+.2f\n", s.LargestWin)
		fmt.Fprintf(&b, "Largest loss:         %+.2f\n", s.LargestLoss)
		if math.IsInf(s.ProfitFactor, 1) {
			fmt.Fprintf(&b, "Profit factor:        inf\n")
		} else {
			fmt.Fprintf(&b, "Profit factor:        %.2f\n", s.ProfitFactor)
		}
		fmt.Fprintf(&b, "Expectancy:           %+.2f per trade\n", s.Expectancy)
		fmt.Fprintf(&b, "Kelly fraction:       %.1f%%\n", s.KellyFraction*100)
		fmt.Fprintf(&b, "Avg hold:             %.1f bars\n", s.AvgHoldBars)
		fmt.Fprintf(&b, "Max streaks:          %dW / %dL\n", s.ConsecutiveWins, s.ConsecutiveLoses)
	}
	fmt.Fprintf(&b, "\nAudit records:        %d\n", len(r.Audit))
	fmt.Fprintf(&b, "%s\n", line)
	return b.String()
}
