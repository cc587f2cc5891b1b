// Package db owns the PostgreSQL pool and the durable repositories:
// order history, plus the migration runner cmd/migrate drives. The
// audit and idempotency packages bring their own store types and share
// the pool through narrow interfaces.
package db

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"

	"github.com/tradesentry/tradesentry/internal/config"
)

// DB wraps the PostgreSQL connection pool
type DB struct {
	pool *pgxpool.Pool
}

// Connect builds the pool from storage config and verifies it with a
// ping before anything depends on it.
func Connect(ctx context.Context, cfg config.StorageConfig) (*DB, error) {
	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("storage.database_url is not set")
	}

	pc, err := pgxpool.ParseConfig(cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}

	pc.MaxConns = int32(cfg.PoolSize)
	if pc.MaxConns <= 0 {
		pc.MaxConns = 10
	}
	pc.MinConns = 2
	if pc.MinConns > pc.MaxConns {
		pc.MinConns = pc.MaxConns
	}
	pc.MaxConnLifetime = time.Hour
	pc.MaxConnIdleTime = 30 * time.Minute
	pc.HealthCheckPeriod = time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, pc)
	if err != nil {
		return nil, fmt.Errorf("create connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	log.Info().Int32("max_conns", pc.MaxConns).Msg("database pool ready")
	return &DB{pool: pool}, nil
}

// FromPool wraps an existing pool; test containers hand pools in here.
func FromPool(pool *pgxpool.Pool) *DB {
	return &DB{pool: pool}
}

// Pool exposes the underlying pool for the repository constructors
func (db *DB) Pool() *pgxpool.Pool {
	return db.pool
}

// Health reports database connectivity
func (db *DB) Health(ctx context.Context) error {
	return db.pool.Ping(ctx)
}

// Close releases the pool
func (db *DB) Close() {
	if db.pool != nil {
		db.pool.Close()
		log.Info().Msg("database pool closed")
	}
}
