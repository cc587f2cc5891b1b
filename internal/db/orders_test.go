package db

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tradesentry/tradesentry/internal/exchange"
)

func filledTestOrder() *exchange.Order {
	created := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	filled := created.Add(30 * time.Millisecond)
	return &exchange.Order{
		ID:              "11111111-2222-3333-4444-555555555555",
		ClientOrderID:   "ts-abc123",
		ExchangeOrderID: "9988776655",
		TraceID:         "trace-1",
		StrategyID:      "momentum-v1",
		Source:          "coordinator",
		Symbol:          "BTCUSDT",
		Side:            exchange.OrderSideBuy,
		Type:            exchange.OrderTypeMarket,
		Quantity:        0.02,
		Price:           50000,
		FilledQty:       0.02,
		AvgFillPrice:    50012.5,
		Fee:             0.5,
		Leverage:        3,
		StopLoss:        47500,
		TakeProfit:      55000,
		Status:          exchange.OrderStatusFilled,
		Fills: []exchange.Fill{{
			ClientOrderID: "ts-abc123",
			Quantity:      0.02,
			Price:         50012.5,
			Fee:           0.5,
			Timestamp:     filled,
		}},
		CreatedAt: created,
		UpdatedAt: filled,
		FilledAt:  &filled,
	}
}

func expectUpsert(mock pgxmock.PgxPoolIface, o *exchange.Order) {
	fills, _ := json.Marshal(o.Fills)
	mock.ExpectExec("INSERT INTO orders").
		WithArgs(
			o.ID, o.ClientOrderID, o.ExchangeOrderID, o.TraceID, o.StrategyID, o.Source,
			o.Symbol, string(o.Side), string(o.Type), o.Quantity, o.Price, o.StopPrice,
			o.FilledQty, o.AvgFillPrice, o.Fee, o.Leverage, o.StopLoss, o.TakeProfit,
			o.ReduceOnly, o.PostOnly, string(o.Status), o.RejectReason,
			fills, o.CreatedAt, o.UpdatedAt, o.FilledAt,
		).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
}

func TestOrderStoreUpsert(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	o := filledTestOrder()
	expectUpsert(mock, o)

	store := NewOrderStore(mock)
	require.NoError(t, store.Upsert(context.Background(), o))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestOrderStoreUpsertSurfacesDBError(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	o := filledTestOrder()
	fills, _ := json.Marshal(o.Fills)
	mock.ExpectExec("INSERT INTO orders").
		WithArgs(
			o.ID, o.ClientOrderID, o.ExchangeOrderID, o.TraceID, o.StrategyID, o.Source,
			o.Symbol, string(o.Side), string(o.Type), o.Quantity, o.Price, o.StopPrice,
			o.FilledQty, o.AvgFillPrice, o.Fee, o.Leverage, o.StopLoss, o.TakeProfit,
			o.ReduceOnly, o.PostOnly, string(o.Status), o.RejectReason,
			fills, o.CreatedAt, o.UpdatedAt, o.FilledAt,
		).
		WillReturnError(errors.New("connection refused"))

	store := NewOrderStore(mock)
	err = store.Upsert(context.Background(), o)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection refused")
	assert.Contains(t, err.Error(), "ts-abc123")
}

func orderRows(orders ...*exchange.Order) *pgxmock.Rows {
	rows := pgxmock.NewRows([]string{
		"id", "client_order_id", "exchange_order_id", "trace_id", "strategy_id", "source",
		"symbol", "side", "type", "quantity", "price", "stop_price",
		"filled_qty", "avg_fill_price", "fee", "leverage", "stop_loss", "take_profit",
		"reduce_only", "post_only", "status", "reject_reason",
		"fills", "created_at", "updated_at", "filled_at",
	})
	for _, o := range orders {
		fills, _ := json.Marshal(o.Fills)
		rows.AddRow(
			o.ID, o.ClientOrderID, o.ExchangeOrderID, o.TraceID, o.StrategyID, o.Source,
			o.Symbol, string(o.Side), string(o.Type), o.Quantity, o.Price, o.StopPrice,
			o.FilledQty, o.AvgFillPrice, o.Fee, o.Leverage, o.StopLoss, o.TakeProfit,
			o.ReduceOnly, o.PostOnly, string(o.Status), o.RejectReason,
			fills, o.CreatedAt, o.UpdatedAt, o.FilledAt,
		)
	}
	return rows
}

func TestOrderStoreGetByClientID(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	want := filledTestOrder()
	mock.ExpectQuery("SELECT (.+) FROM orders WHERE client_order_id").
		WithArgs("ts-abc123").
		WillReturnRows(orderRows(want))

	store := NewOrderStore(mock)
	got, found, err := store.GetByClientID(context.Background(), "ts-abc123")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, want, got)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestOrderStoreGetByClientIDMissing(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectQuery("SELECT (.+) FROM orders WHERE client_order_id").
		WithArgs("ts-missing").
		WillReturnRows(orderRows())

	store := NewOrderStore(mock)
	got, found, err := store.GetByClientID(context.Background(), "ts-missing")
	require.NoError(t, err)
	assert.False(t, found)
	assert.Nil(t, got)
}

func TestOrderStoreList(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	first := filledTestOrder()
	second := filledTestOrder()
	second.ClientOrderID = "ts-def456"
	second.CreatedAt = first.CreatedAt.Add(-time.Minute)

	mock.ExpectQuery("SELECT (.+) FROM orders WHERE (.+) symbol").
		WithArgs("BTCUSDT", 100).
		WillReturnRows(orderRows(first, second))

	store := NewOrderStore(mock)
	got, err := store.List(context.Background(), OrderFilter{Symbol: "BTCUSDT"})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "ts-abc123", got[0].ClientOrderID)
	assert.Equal(t, "ts-def456", got[1].ClientOrderID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestOrderStoreListStatusFilter(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	rejected := filledTestOrder()
	rejected.Status = exchange.OrderStatusRejected
	rejected.RejectReason = "POSITION_LIMIT_EXCEEDED"

	mock.ExpectQuery("SELECT (.+) FROM orders WHERE (.+) status").
		WithArgs(string(exchange.OrderStatusRejected), 5).
		WillReturnRows(orderRows(rejected))

	store := NewOrderStore(mock)
	got, err := store.List(context.Background(), OrderFilter{Status: exchange.OrderStatusRejected, Limit: 5})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, exchange.OrderStatusRejected, got[0].Status)
	assert.Equal(t, "POSITION_LIMIT_EXCEEDED", got[0].RejectReason)
}

func TestOrderStoreListCapsLimit(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectQuery("SELECT (.+) FROM orders").
		WithArgs(1000).
		WillReturnRows(orderRows())

	store := NewOrderStore(mock)
	_, err = store.List(context.Background(), OrderFilter{Limit: 50000})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}
