package main

import (
	"context"
	"log/slog"

	cl "mediasim/internal/cli"
	"mediasim/internal/config"
	"mediasim/internal/game"
	"mediasim/internal/model"
	"mediasim/internal/randstate"
	"mediasim/internal/store"
	"mediasim/internal/traffic"
)

// backend is what every simctl command runs against: either the store on
// this machine or a mediasim-api server.
type backend interface {
	CreateGame(ctx context.Context, params model.GameParams) (game.GameView, error)
	ListGames(ctx context.Context) ([]model.Game, error)
	Game(ctx context.Context, id int64) (game.GameView, error)
	GenerateTraffic(ctx context.Context, id int64, req game.TrafficRequest) (traffic.Summary, error)
	Backfill(ctx context.Context, id int64) (traffic.Summary, error)
	AdvanceDay(ctx context.Context, id int64) (traffic.Summary, error)
	Pageviews(ctx context.Context, f store.PageviewFilter) ([]model.Pageview, error)
	GenerateRV(ctx context.Context, req game.RVRequest) (randstate.Variates, error)
	Close() error
}

type remoteBackend struct {
	*cl.Client
}

func (remoteBackend) Close() error { return nil }

type localBackend struct {
	svc   *game.Service
	store store.Store
}

func openLocal(ctx context.Context, cfg config.CLIConfig, logger *slog.Logger) (*localBackend, error) {
	st, err := store.Open(ctx, cfg.Store)
	if err != nil {
		return nil, err
	}
	cache, err := traffic.NewPageviewCache(cfg.CacheEntries, traffic.SeenWindow)
	if err != nil {
		st.Close()
		return nil, err
	}
	return &localBackend{svc: game.NewService(st, cache, logger), store: st}, nil
}

func (b *localBackend) CreateGame(ctx context.Context, params model.GameParams) (game.GameView, error) {
	g, err := b.svc.SeedWorld(ctx, params)
	if err != nil {
		return game.GameView{}, err
	}
	return b.svc.View(ctx, g.ID)
}

func (b *localBackend) ListGames(ctx context.Context) ([]model.Game, error) {
	return b.svc.Games(ctx)
}

func (b *localBackend) Game(ctx context.Context, id int64) (game.GameView, error) {
	return b.svc.View(ctx, id)
}

func (b *localBackend) GenerateTraffic(ctx context.Context, id int64, req game.TrafficRequest) (traffic.Summary, error) {
	return b.svc.GenerateTraffic(ctx, id, req.Start, req.End, req.UseCache)
}

func (b *localBackend) Backfill(ctx context.Context, id int64) (traffic.Summary, error) {
	return b.svc.Backfill(ctx, id)
}

func (b *localBackend) AdvanceDay(ctx context.Context, id int64) (traffic.Summary, error) {
	return b.svc.AdvanceDay(ctx, id)
}

func (b *localBackend) Pageviews(ctx context.Context, f store.PageviewFilter) ([]model.Pageview, error) {
	if _, err := b.svc.Game(ctx, f.GameID); err != nil {
		return nil, err
	}
	return b.svc.Pageviews(ctx, f)
}

func (b *localBackend) GenerateRV(ctx context.Context, req game.RVRequest) (randstate.Variates, error) {
	return b.svc.GenerateRV(ctx, req)
}

func (b *localBackend) Close() error {
	return b.store.Close()
}
