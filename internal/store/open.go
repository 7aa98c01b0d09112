package store

import (
	"context"
	"fmt"

	"mediasim/internal/config"
	"mediasim/internal/db"
)

// Open builds the store named by cfg.Driver.
func Open(ctx context.Context, cfg config.StoreConfig) (Store, error) {
	switch cfg.Driver {
	case config.StoreMemory:
		return NewMemory(), nil
	case config.StorePostgres:
		pool, err := db.Connect(ctx, cfg.DatabaseURL, db.PoolOptions{MaxConns: cfg.MaxConns, ConnLifetime: cfg.ConnLifetime})
		if err != nil {
			return nil, err
		}
		s, err := NewPostgres(ctx, pool)
		if err != nil {
			pool.Close()
			return nil, err
		}
		return s, nil
	case config.StoreSQLite, "":
		handle, err := db.OpenSQLite(ctx, cfg.SQLitePath)
		if err != nil {
			return nil, err
		}
		s, err := NewSQLite(ctx, handle)
		if err != nil {
			handle.Close()
			return nil, err
		}
		return s, nil
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.Driver)
	}
}
