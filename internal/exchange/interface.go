package exchange

import "context"

// Adapter is the execution interface every venue backend implements.
// The simulated adapter and the Binance adapter are interchangeable:
// the trading engine never branches on which one it holds.
//
// CreateOrder is idempotent on ClientOrderID: resubmitting an id the
// venue has already accepted returns the existing order and no error.
type Adapter interface {
	// Name identifies the venue, e.g. "simulated" or "binance"
	Name() string

	// Simulated reports whether fills are synthetic
	Simulated() bool

	// Connect prepares the adapter for trading
	Connect(ctx context.Context) error

	// Disconnect releases venue resources
	Disconnect(ctx context.Context) error

	// CreateOrder submits an order. New orders are accepted in
	// pending state; status advances as the venue reports fills.
	CreateOrder(ctx context.Context, req OrderRequest) (*Order, error)

	// CancelOrder cancels by client order id
	CancelOrder(ctx context.Context, clientOrderID string) (*Order, error)

	// GetOrder retrieves order state by client order id
	GetOrder(ctx context.Context, clientOrderID string) (*Order, error)

	// GetOpenOrders lists orders that are not yet terminal
	GetOpenOrders(ctx context.Context) ([]Order, error)

	// GetPositions lists open positions
	GetPositions(ctx context.Context) ([]Position, error)

	// GetBalance returns the quote-currency account balance
	GetBalance(ctx context.Context) (*Balance, error)

	// GetTicker returns the current snapshot for a symbol
	GetTicker(ctx context.Context, symbol string) (*Ticker, error)

	// GetCandles returns up to limit most recent closed bars
	GetCandles(ctx context.Context, symbol, timeframe string, limit int) ([]Candle, error)
}
