package risk

import (
	"context"
	"fmt"

	"github.com/tradesentry/tradesentry/internal/idempotency"
	"github.com/tradesentry/tradesentry/internal/metrics"
)

// AccountState is the consistent snapshot of account risk inputs one
// validation pass reads. Exposure values are notional in the quote
// currency; DailyLossPct and Drawdown are fractions, always >= 0.
type AccountState struct {
	Equity           float64
	AvailableBalance float64
	MarginBalance    float64
	UnrealizedPnL    float64
	ExposureBySymbol map[string]float64
	TotalExposure    float64
	OpenPositions    int
	OpenOrders       int
	DailyPnL         float64
	DailyLossPct     float64
	DailyTrades      int
	Drawdown         float64
}

// Held reports whether the account already has exposure on the symbol
// (venue form, separators stripped).
func (s AccountState) Held(symbol string) bool {
	return s.ExposureBySymbol[symbol] > 0
}

// AccountState assembles the snapshot Submit validates against. The
// venue provides balances, positions and working orders; the ledger
// provides the daily trail. Any venue failure aborts: admission
// decisions are never made on a partial snapshot.
func (g *Gateway) AccountState(ctx context.Context) (AccountState, error) {
	bal, err := g.deps.Venue.GetBalance(ctx)
	if err != nil {
		return AccountState{}, fmt.Errorf("fetch balance: %w", err)
	}
	positions, err := g.deps.Venue.GetPositions(ctx)
	if err != nil {
		return AccountState{}, fmt.Errorf("fetch positions: %w", err)
	}
	working, err := g.deps.Venue.GetOpenOrders(ctx)
	if err != nil {
		return AccountState{}, fmt.Errorf("fetch open orders: %w", err)
	}

	state := AccountState{
		Equity:           bal.Equity,
		AvailableBalance: bal.Available,
		MarginBalance:    bal.Total,
		UnrealizedPnL:    bal.UnrealizedPnL,
		ExposureBySymbol: make(map[string]float64, len(positions)),
		OpenOrders:       len(working),
	}
	for i := range positions {
		p := &positions[i]
		symbol := idempotency.NormalizeSymbol(p.Symbol)
		if _, held := state.ExposureBySymbol[symbol]; !held {
			state.OpenPositions++
		}
		notional := p.Notional()
		state.ExposureBySymbol[symbol] += notional
		state.TotalExposure += notional
	}

	day := g.ledger.Stats(bal.Equity)
	state.DailyPnL = day.RealizedPnL
	state.DailyLossPct = day.LossPct
	state.DailyTrades = day.Trades
	state.Drawdown = day.Drawdown

	metrics.CurrentDrawdown.Set(day.Drawdown)
	return state, nil
}
