package strategy

import (
	"github.com/cinar/indicator/v2/volatility"

	"github.com/tradesentry/tradesentry/internal/market"
)

func init() {
	Register(&meanReversion{lookback: 20, entryZ: 2.0})
}

// meanReversion fades stretched moves: when price sits more than entryZ
// standard deviations from the rolling mean it votes against the move.
type meanReversion struct {
	lookback int
	entryZ   float64
}

func (m *meanReversion) Name() string    { return "mean_reversion" }
func (m *meanReversion) Version() string { return "1.1.0" }
func (m *meanReversion) Description() string {
	return "Bollinger-channel mean reversion rule"
}

func (m *meanReversion) Signal(state *market.State) (float64, error) {
	closes := state.Closes()
	if len(closes) < m.lookback+1 {
		return 0, nil
	}

	upper, middle, lower := volatility.NewBollingerBandsWithPeriod[float64](m.lookback).Compute(toChan(closes))
	up, mid, low := drainBands(upper, middle, lower)
	if len(up) == 0 || len(mid) == 0 || len(low) == 0 {
		return 0, nil
	}

	sigma := (last(up) - last(low)) / 4 // the bands sit two std devs out
	if sigma <= 0 {
		return 0, nil
	}

	z := (state.Price - last(mid)) / sigma
	switch {
	case z <= -m.entryZ:
		return 0.7, nil // oversold
	case z >= m.entryZ:
		return -0.7, nil // overbought
	}
	return 0, nil
}
