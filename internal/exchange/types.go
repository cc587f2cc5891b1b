package exchange

import "time"

// OrderSide represents buy or sell
type OrderSide string

const (
	OrderSideBuy  OrderSide = "buy"
	OrderSideSell OrderSide = "sell"
)

// OrderType represents the execution style of an order
type OrderType string

const (
	OrderTypeMarket    OrderType = "market"
	OrderTypeLimit     OrderType = "limit"
	OrderTypeStop      OrderType = "stop"
	OrderTypeStopLimit OrderType = "stop_limit"
)

// OrderStatus represents the current state of an order.
// Orders are born pending and advance monotonically:
// pending -> submitted -> open/partial -> filled|cancelled|rejected|failed.
type OrderStatus string

const (
	OrderStatusPending   OrderStatus = "pending"
	OrderStatusSubmitted OrderStatus = "submitted"
	OrderStatusOpen      OrderStatus = "open"
	OrderStatusPartial   OrderStatus = "partial"
	OrderStatusFilled    OrderStatus = "filled"
	OrderStatusCancelled OrderStatus = "cancelled"
	OrderStatusRejected  OrderStatus = "rejected"
	OrderStatusFailed    OrderStatus = "failed"
)

// PositionSide represents the direction of an open position
type PositionSide string

const (
	PositionSideLong  PositionSide = "long"
	PositionSideShort PositionSide = "short"
)

// Order represents a trading order
type Order struct {
	ID              string      `json:"id"` // internal uuid
	ClientOrderID   string      `json:"client_order_id"`
	ExchangeOrderID string      `json:"exchange_order_id,omitempty"`
	TraceID         string      `json:"trace_id,omitempty"`
	StrategyID      string      `json:"strategy_id,omitempty"`
	Source          string      `json:"source,omitempty"` // coordinator, api, sweep
	Symbol          string      `json:"symbol"`
	Side            OrderSide   `json:"side"`
	Type            OrderType   `json:"type"`
	Quantity        float64     `json:"quantity"`
	Price           float64     `json:"price,omitempty"`      // for limit orders
	StopPrice       float64     `json:"stop_price,omitempty"` // for stop orders
	FilledQty       float64     `json:"filled_qty"`
	AvgFillPrice    float64     `json:"avg_fill_price,omitempty"`
	Fee             float64     `json:"fee"`
	Leverage        float64     `json:"leverage,omitempty"`
	StopLoss        float64     `json:"stop_loss,omitempty"`
	TakeProfit      float64     `json:"take_profit,omitempty"`
	ReduceOnly      bool        `json:"reduce_only,omitempty"`
	PostOnly        bool        `json:"post_only,omitempty"`
	Status          OrderStatus `json:"status"`
	Fills           []Fill      `json:"fills,omitempty"`
	CreatedAt       time.Time   `json:"created_at"`
	UpdatedAt       time.Time   `json:"updated_at"`
	FilledAt        *time.Time  `json:"filled_at,omitempty"`
	RejectReason    string      `json:"reject_reason,omitempty"`
}

// Terminal reports whether the order can no longer change state
func (o *Order) Terminal() bool {
	switch o.Status {
	case OrderStatusFilled, OrderStatusCancelled, OrderStatusRejected, OrderStatusFailed:
		return true
	}
	return false
}

// Clone returns a deep copy so callers can hold snapshots without racing
// the adapter's own bookkeeping.
func (o *Order) Clone() *Order {
	cp := *o
	if len(o.Fills) > 0 {
		cp.Fills = make([]Fill, len(o.Fills))
		copy(cp.Fills, o.Fills)
	}
	if o.FilledAt != nil {
		t := *o.FilledAt
		cp.FilledAt = &t
	}
	return &cp
}

// Fill represents a partial or complete order fill
type Fill struct {
	ClientOrderID string    `json:"client_order_id"`
	Quantity      float64   `json:"quantity"`
	Price         float64   `json:"price"`
	Fee           float64   `json:"fee"`
	Timestamp     time.Time `json:"timestamp"`
}

// OrderRequest represents a request to place an order.
// ClientOrderID is mandatory; adapters treat resubmission of the same
// id as a lookup of the already-accepted order. BarIndex carries the
// market-state index the signal was computed from so deterministic
// adapters can refuse orders built on future data.
type OrderRequest struct {
	ClientOrderID string    `json:"client_order_id"`
	TraceID       string    `json:"trace_id,omitempty"`
	StrategyID    string    `json:"strategy_id,omitempty"`
	Source        string    `json:"source,omitempty"`
	Symbol        string    `json:"symbol"`
	Side          OrderSide `json:"side"`
	Type          OrderType `json:"type"`
	Quantity      float64   `json:"quantity"`
	Price         float64   `json:"price,omitempty"`
	StopPrice     float64   `json:"stop_price,omitempty"`
	Leverage      float64   `json:"leverage,omitempty"`
	StopLoss      float64   `json:"stop_loss,omitempty"`
	TakeProfit    float64   `json:"take_profit,omitempty"`
	ReduceOnly    bool      `json:"reduce_only,omitempty"`
	PostOnly      bool      `json:"post_only,omitempty"`
	BarIndex      int       `json:"bar_index,omitempty"`
}

// Position represents an open position on the venue
type Position struct {
	Symbol        string       `json:"symbol"`
	Side          PositionSide `json:"side"`
	Size          float64      `json:"size"` // base units, always positive
	EntryPrice    float64      `json:"entry_price"`
	MarkPrice     float64      `json:"mark_price"`
	Leverage      float64      `json:"leverage"`
	StopLoss      float64      `json:"stop_loss,omitempty"`
	TakeProfit    float64      `json:"take_profit,omitempty"`
	UnrealizedPnL float64      `json:"unrealized_pnl"`
	OpenedAt      time.Time    `json:"opened_at"`
}

// Notional returns the position value at the mark price
func (p *Position) Notional() float64 {
	return p.Size * p.MarkPrice
}

// Balance represents account balance in the quote currency
type Balance struct {
	Currency      string  `json:"currency"`
	Total         float64 `json:"total"`
	Available     float64 `json:"available"`
	UnrealizedPnL float64 `json:"unrealized_pnl"`
	Equity        float64 `json:"equity"` // total + unrealized
}

// Ticker represents the current top-of-book snapshot for a symbol
type Ticker struct {
	Symbol    string    `json:"symbol"`
	Bid       float64   `json:"bid"`
	Ask       float64   `json:"ask"`
	Last      float64   `json:"last"`
	Volume    float64   `json:"volume"` // 24h base volume
	Timestamp time.Time `json:"timestamp"`
}

// Candle represents one OHLCV bar
type Candle struct {
	OpenTime  time.Time `json:"open_time"`
	Open      float64   `json:"open"`
	High      float64   `json:"high"`
	Low       float64   `json:"low"`
	Close     float64   `json:"close"`
	Volume    float64   `json:"volume"` // base units traded during the bar
	CloseTime time.Time `json:"close_time"`
}

// Return is the bar's close-to-open fractional move
func (c *Candle) Return() float64 {
	if c.Open == 0 {
		return 0
	}
	return (c.Close - c.Open) / c.Open
}
