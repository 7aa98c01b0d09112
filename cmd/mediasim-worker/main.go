package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"mediasim/internal/config"
	"mediasim/internal/game"
	"mediasim/internal/store"
	"mediasim/internal/traffic"
)

// Games advanced concurrently per tick.
const advanceLimit = 4

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.LoadWorkerFromEnv()
	if err != nil {
		slog.Error("load config", "err", err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.LogLevel}))
	st, err := store.Open(ctx, cfg.Store)
	if err != nil {
		logger.Error("store open failed", "driver", cfg.Store.Driver, "err", err)
		os.Exit(1)
	}
	defer st.Close()

	cache, err := traffic.NewPageviewCache(cfg.CacheEntries, traffic.SeenWindow)
	if err != nil {
		logger.Error("pageview cache init failed", "err", err)
		os.Exit(1)
	}
	svc := game.NewService(st, cache, logger)

	if cfg.RunOnce {
		if err := tick(ctx, svc, logger); err != nil {
			logger.Error("tick failed", "err", err)
			os.Exit(1)
		}
		logger.Info("worker run-once completed")
		return
	}

	ticker := time.NewTicker(cfg.TickEvery)
	defer ticker.Stop()

	logger.Info("worker started", "tick_every", cfg.TickEvery.String(), "store", cfg.Store.Driver)
	for {
		select {
		case <-ctx.Done():
			logger.Info("worker shutdown")
			return
		case <-ticker.C:
			if err := tick(ctx, svc, logger); err != nil {
				logger.Error("day advance failed", "err", err)
			}
		}
	}
}

func tick(ctx context.Context, svc *game.Service, logger *slog.Logger) error {
	sums, err := svc.AdvanceAll(ctx, advanceLimit)
	if err != nil {
		return err
	}
	for _, sum := range sums {
		logger.Info("day advanced", "game_id", sum.GameID, "day", sum.StartDay, "next_day", sum.NextDay, "clicks", sum.Clicks)
	}
	return nil
}
