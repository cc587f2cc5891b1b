package exchange

import (
	"testing"
	"time"

	"github.com/adshao/go-binance/v2/common"
	"github.com/adshao/go-binance/v2/futures"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTickerFromBook(t *testing.T) {
	got := tickerFromBook("BTC-USDT", &futures.BookTicker{
		Symbol:      "BTCUSDT",
		BidPrice:    "50123.40",
		BidQuantity: "1.5",
		AskPrice:    "50124.10",
		AskQuantity: "0.8",
	})

	assert.Equal(t, "BTC-USDT", got.Symbol)
	assert.InDelta(t, 50123.40, got.Bid, 1e-9)
	assert.InDelta(t, 50124.10, got.Ask, 1e-9)
	assert.False(t, got.Timestamp.IsZero())
}

func TestToVenueSymbol(t *testing.T) {
	assert.Equal(t, "BTCUSDT", toVenueSymbol("BTC-USDT"))
	assert.Equal(t, "ETHUSDT", toVenueSymbol("eth/usdt"))
	assert.Equal(t, "SOLUSDT", toVenueSymbol("SOLUSDT"))
}

func TestVenueStatusMapping(t *testing.T) {
	cases := []struct {
		venue futures.OrderStatusType
		want  OrderStatus
	}{
		{futures.OrderStatusTypeNew, OrderStatusOpen},
		{futures.OrderStatusTypePartiallyFilled, OrderStatusPartial},
		{futures.OrderStatusTypeFilled, OrderStatusFilled},
		{futures.OrderStatusTypeCanceled, OrderStatusCancelled},
		{futures.OrderStatusTypeExpired, OrderStatusCancelled},
		{futures.OrderStatusTypeRejected, OrderStatusRejected},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, fromVenueStatus(tc.venue), string(tc.venue))
	}
}

func TestOrderFromVenue(t *testing.T) {
	now := time.Now().UnixMilli()
	o := orderFromVenue(&futures.Order{
		ClientOrderID:    "BUY_BTCUSDT_1748779200000_aaaa1111",
		OrderID:          987654321,
		Symbol:           "BTCUSDT",
		Side:             futures.SideTypeBuy,
		Type:             futures.OrderTypeMarket,
		OrigQuantity:     "0.040",
		ExecutedQuantity: "0.040",
		AvgPrice:         "50010.5",
		Status:           futures.OrderStatusTypeFilled,
		Time:             now,
		UpdateTime:       now,
	})

	assert.Equal(t, "987654321", o.ExchangeOrderID)
	assert.Equal(t, OrderSideBuy, o.Side)
	assert.Equal(t, OrderTypeMarket, o.Type)
	assert.InDelta(t, 0.04, o.Quantity, 1e-9)
	assert.InDelta(t, 0.04, o.FilledQty, 1e-9)
	assert.InDelta(t, 50010.5, o.AvgFillPrice, 1e-9)
	assert.Equal(t, OrderStatusFilled, o.Status)
	require.NotNil(t, o.FilledAt)
}

func TestWrapBinanceErr(t *testing.T) {
	wrapped := wrapBinanceErr("create_order", &common.APIError{Code: -1001, Message: "Internal error"})
	var apiErr *APIError
	require.ErrorAs(t, wrapped, &apiErr)
	assert.Equal(t, -1001, apiErr.StatusCode)
	assert.True(t, apiErr.Retryable)

	wrapped = wrapBinanceErr("create_order", &common.APIError{Code: -2019, Message: "Margin is insufficient"})
	require.ErrorAs(t, wrapped, &apiErr)
	assert.False(t, apiErr.Retryable)
}
