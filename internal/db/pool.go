// Package db opens the database handles the stores run on.
package db

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// PoolOptions sizes the postgres pool. Zero fields keep whatever the
// database URL asked for (pool_max_conns and friends), else pgx defaults.
type PoolOptions struct {
	MaxConns     int
	ConnLifetime time.Duration
}

// Connect opens and pings a pgx pool. Every game commit holds one connection
// for its transaction, so MaxConns bounds how many games advance at once.
func Connect(ctx context.Context, databaseURL string, opts PoolOptions) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}
	opts.apply(cfg)

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect db: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping db: %w", err)
	}
	return pool, nil
}

func (o PoolOptions) apply(cfg *pgxpool.Config) {
	if o.MaxConns > 0 {
		cfg.MaxConns = int32(o.MaxConns)
	}
	cfg.MinConns = max(1, cfg.MaxConns/4)
	if o.ConnLifetime > 0 {
		cfg.MaxConnLifetime = o.ConnLifetime
		cfg.MaxConnIdleTime = o.ConnLifetime / 3
	}
}
