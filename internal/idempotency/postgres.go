package idempotency

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// PgxIface is the slice of pgxpool.Pool the store needs
type PgxIface interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresStore keeps reservations in the idempotency_keys table.
// ON CONFLICT DO NOTHING provides the atomic reserve-once insert.
type PostgresStore struct {
	db PgxIface
}

// NewPostgresStore wraps a pgx pool or compatible handle
func NewPostgresStore(db PgxIface) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) PutIfAbsent(ctx context.Context, rec Record, ttl time.Duration) (Record, bool, error) {
	tag, err := s.db.Exec(ctx, `
		INSERT INTO idempotency_keys (key, client_order_id, action, symbol, first_seen_at, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (key) DO NOTHING`,
		rec.Key, rec.ClientOrderID, string(rec.Action), rec.Symbol, rec.CreatedAt, rec.CreatedAt.Add(ttl),
	)
	if err != nil {
		return Record{}, false, fmt.Errorf("insert idempotency key: %w", err)
	}
	if tag.RowsAffected() > 0 {
		return rec, true, nil
	}

	existing, found, err := s.Get(ctx, rec.Key)
	if err != nil {
		return Record{}, false, err
	}
	if !found {
		return Record{}, false, fmt.Errorf("idempotency key %s conflicted but is not live", rec.Key)
	}
	return existing, false, nil
}

func (s *PostgresStore) Get(ctx context.Context, key string) (Record, bool, error) {
	var rec Record
	var action string
	err := s.db.QueryRow(ctx, `
		SELECT key, client_order_id, action, symbol, first_seen_at
		FROM idempotency_keys
		WHERE key = $1 AND expires_at > now()`,
		key,
	).Scan(&rec.Key, &rec.ClientOrderID, &action, &rec.Symbol, &rec.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Record{}, false, nil
	}
	if err != nil {
		return Record{}, false, fmt.Errorf("select idempotency key: %w", err)
	}
	rec.Action = Action(action)
	return rec, true, nil
}

func (s *PostgresStore) Sweep(ctx context.Context) (int, error) {
	tag, err := s.db.Exec(ctx, `DELETE FROM idempotency_keys WHERE expires_at <= now()`)
	if err != nil {
		return 0, fmt.Errorf("sweep idempotency keys: %w", err)
	}
	return int(tag.RowsAffected()), nil
}
