package agents

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/tradesentry/tradesentry/internal/exchange"
)

func TestActionSemantics(t *testing.T) {
	tests := []struct {
		action  Action
		opens   bool
		reduces bool
		side    exchange.OrderSide
	}{
		{ActionBuy, true, false, exchange.OrderSideBuy},
		{ActionShort, true, false, exchange.OrderSideSell},
		{ActionSell, false, true, exchange.OrderSideSell},
		{ActionCover, false, true, exchange.OrderSideBuy},
		{ActionClose, false, true, exchange.OrderSideSell},
		{ActionHold, false, false, exchange.OrderSideSell},
	}
	for _, tt := range tests {
		t.Run(string(tt.action), func(t *testing.T) {
			assert.Equal(t, tt.opens, tt.action.Opens())
			assert.Equal(t, tt.reduces, tt.action.Reduces())
			assert.Equal(t, tt.side, tt.action.Side())
		})
	}
}

func TestTradeDecisionActionable(t *testing.T) {
	assert.False(t, (&TradeDecision{Action: ActionHold}).Actionable())
	assert.True(t, (&TradeDecision{Action: ActionBuy}).Actionable())
	assert.True(t, (&TradeDecision{Action: ActionClose}).Actionable())
}

func TestPortfolioViewSides(t *testing.T) {
	view := PortfolioView{Positions: []exchange.Position{
		{Symbol: "BTC-USDT", Side: exchange.PositionSideLong, Size: 0.5},
		{Symbol: "ETH-USDT", Side: exchange.PositionSideShort, Size: 2},
		{Symbol: "SOL-USDT", Side: exchange.PositionSideLong, Size: 0}, // closed remnant
	}}

	assert.True(t, view.HasLong("BTC-USDT"))
	assert.False(t, view.HasShort("BTC-USDT"))
	assert.True(t, view.HasShort("ETH-USDT"))
	assert.False(t, view.HasLong("SOL-USDT"))
	assert.False(t, view.HasLong("XRP-USDT"))
}
