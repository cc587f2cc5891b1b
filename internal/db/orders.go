package db

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/tradesentry/tradesentry/internal/exchange"
)

// Querier is the pool surface the repositories need. *pgxpool.Pool
// satisfies it, and so does pgxmock in tests.
type Querier interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// OrderStore keeps the durable order history. The live order path
// works off the exchange service's in-memory table; this store is the
// crash-surviving record the engine writes on every transition event.
type OrderStore struct {
	db     Querier
	logger zerolog.Logger
}

// NewOrderStore returns an order repository over db
func NewOrderStore(db Querier) *OrderStore {
	return &OrderStore{
		db:     db,
		logger: log.With().Str("component", "order-store").Logger(),
	}
}

const orderColumns = `id, client_order_id, exchange_order_id, trace_id, strategy_id, source,
		symbol, side, type, quantity, price, stop_price, filled_qty, avg_fill_price, fee,
		leverage, stop_loss, take_profit, reduce_only, post_only, status, reject_reason,
		fills, created_at, updated_at, filled_at`

// Upsert writes one order snapshot keyed by client order id. Later
// transitions of the same order overwrite the mutable columns.
func (s *OrderStore) Upsert(ctx context.Context, o *exchange.Order) error {
	fills, err := json.Marshal(o.Fills)
	if err != nil {
		return fmt.Errorf("marshal fills for %s: %w", o.ClientOrderID, err)
	}

	const q = `
		INSERT INTO orders (` + orderColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16,
			$17, $18, $19, $20, $21, $22, $23, $24, $25, $26)
		ON CONFLICT (client_order_id) DO UPDATE SET
			exchange_order_id = EXCLUDED.exchange_order_id,
			status = EXCLUDED.status,
			filled_qty = EXCLUDED.filled_qty,
			avg_fill_price = EXCLUDED.avg_fill_price,
			fee = EXCLUDED.fee,
			reject_reason = EXCLUDED.reject_reason,
			fills = EXCLUDED.fills,
			updated_at = EXCLUDED.updated_at,
			filled_at = EXCLUDED.filled_at`

	_, err = s.db.Exec(ctx, q,
		o.ID, o.ClientOrderID, o.ExchangeOrderID, o.TraceID, o.StrategyID, o.Source,
		o.Symbol, string(o.Side), string(o.Type), o.Quantity, o.Price, o.StopPrice,
		o.FilledQty, o.AvgFillPrice, o.Fee, o.Leverage, o.StopLoss, o.TakeProfit,
		o.ReduceOnly, o.PostOnly, string(o.Status), o.RejectReason,
		fills, o.CreatedAt, o.UpdatedAt, o.FilledAt,
	)
	if err != nil {
		return fmt.Errorf("upsert order %s: %w", o.ClientOrderID, err)
	}

	s.logger.Debug().
		Str("client_order_id", o.ClientOrderID).
		Str("status", string(o.Status)).
		Msg("order snapshot persisted")
	return nil
}

// GetByClientID fetches one order; found is false when no row exists
func (s *OrderStore) GetByClientID(ctx context.Context, clientOrderID string) (*exchange.Order, bool, error) {
	const q = `SELECT ` + orderColumns + ` FROM orders WHERE client_order_id = $1`

	o, err := scanOrder(s.db.QueryRow(ctx, q, clientOrderID))
	if err == pgx.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("get order %s: %w", clientOrderID, err)
	}
	return o, true, nil
}

// OrderFilter narrows List. Zero values mean no constraint.
type OrderFilter struct {
	Symbol   string
	Status   exchange.OrderStatus
	OpenOnly bool
	Limit    int
}

// List returns matching orders, newest first. Limit defaults to 100
// and caps at 1000.
func (s *OrderStore) List(ctx context.Context, f OrderFilter) ([]exchange.Order, error) {
	q := `SELECT ` + orderColumns + ` FROM orders WHERE 1=1`
	args := []any{}

	if f.Symbol != "" {
		args = append(args, f.Symbol)
		q += fmt.Sprintf(" AND symbol = $%d", len(args))
	}
	if f.Status != "" {
		args = append(args, string(f.Status))
		q += fmt.Sprintf(" AND status = $%d", len(args))
	}
	if f.OpenOnly {
		q += ` AND status NOT IN ('filled', 'cancelled', 'rejected', 'failed')`
	}

	limit := f.Limit
	if limit <= 0 {
		limit = 100
	}
	if limit > 1000 {
		limit = 1000
	}
	args = append(args, limit)
	q += fmt.Sprintf(" ORDER BY created_at DESC LIMIT $%d", len(args))

	rows, err := s.db.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("list orders: %w", err)
	}
	defer rows.Close()

	var out []exchange.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("scan order: %w", err)
		}
		out = append(out, *o)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list orders: %w", err)
	}
	return out, nil
}

func scanOrder(row pgx.Row) (*exchange.Order, error) {
	var (
		o     exchange.Order
		side  string
		typ   string
		state string
		fills []byte
	)
	err := row.Scan(
		&o.ID, &o.ClientOrderID, &o.ExchangeOrderID, &o.TraceID, &o.StrategyID, &o.Source,
		&o.Symbol, &side, &typ, &o.Quantity, &o.Price, &o.StopPrice,
		&o.FilledQty, &o.AvgFillPrice, &o.Fee, &o.Leverage, &o.StopLoss, &o.TakeProfit,
		&o.ReduceOnly, &o.PostOnly, &state, &o.RejectReason,
		&fills, &o.CreatedAt, &o.UpdatedAt, &o.FilledAt,
	)
	if err != nil {
		return nil, err
	}
	o.Side = exchange.OrderSide(side)
	o.Type = exchange.OrderType(typ)
	o.Status = exchange.OrderStatus(state)
	if len(fills) > 0 {
		if err := json.Unmarshal(fills, &o.Fills); err != nil {
			return nil, fmt.Errorf("decode fills for %s: %w", o.ClientOrderID, err)
		}
	}
	return &o, nil
}
