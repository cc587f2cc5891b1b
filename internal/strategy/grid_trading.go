package strategy

import (
	"math"

	"github.com/cinar/indicator/v2/volatility"

	"github.com/tradesentry/tradesentry/internal/market"
)

func init() {
	Register(&gridTrading{lookback: 20, levels: 10, proximity: 0.3})
}

// gridTrading lays an evenly spaced grid across the Bollinger channel
// and votes when price approaches a line: buy pressure just above a
// line, sell pressure just below the next one up. A break above the
// channel reads as take-profit pressure, a break below as accumulation.
// Suited to ranging markets; the trend rules outvote it when price runs.
type gridTrading struct {
	lookback  int
	levels    int
	proximity float64 // fraction of one grid step that counts as a touch
}

func (g *gridTrading) Name() string    { return "grid_trading" }
func (g *gridTrading) Version() string { return "1.0.1" }
func (g *gridTrading) Description() string {
	return "Bollinger-channel grid rule for ranging markets"
}

func (g *gridTrading) Signal(state *market.State) (float64, error) {
	closes := state.Closes()
	if len(closes) < g.lookback+1 {
		return 0, nil
	}

	upper, middle, lower := volatility.NewBollingerBandsWithPeriod[float64](g.lookback).Compute(toChan(closes))
	up, _, low := drainBands(upper, middle, lower)
	if len(up) == 0 || len(low) == 0 {
		return 0, nil
	}

	top, bottom := last(up), last(low)
	if top <= bottom {
		return 0, nil // flat channel, no grid to trade
	}

	price := state.Price
	switch {
	case price >= top:
		return -0.3, nil // above the channel: take-profit pressure
	case price <= bottom:
		return 0.8, nil // below the channel: accumulate
	}

	step := (top - bottom) / float64(g.levels)
	pos := (price - bottom) / step
	frac := pos - math.Floor(pos)
	switch {
	case frac < g.proximity:
		return 0.6, nil // touching the line below
	case frac > 1-g.proximity:
		return -0.6, nil // touching the line above
	}
	return 0, nil
}
