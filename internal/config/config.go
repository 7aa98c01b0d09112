package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"mediasim/internal/model"
)

const (
	StoreSQLite   = "sqlite"
	StorePostgres = "postgres"
	StoreMemory   = "memory"
)

type StoreConfig struct {
	Driver      string
	SQLitePath  string
	DatabaseURL string
	// Postgres pool sizing. Positive values override pool_* settings in
	// DatabaseURL.
	MaxConns     int
	ConnLifetime time.Duration
}

type APIConfig struct {
	Addr         string
	Store        StoreConfig
	AdminToken   string
	CacheEntries int
	LogLevel     slog.Level
}

type WorkerConfig struct {
	Store        StoreConfig
	TickEvery    time.Duration
	RunOnce      bool
	CacheEntries int
	LogLevel     slog.Level
}

type CLIConfig struct {
	APIBaseURL   string
	AdminToken   string
	Store        StoreConfig
	CacheEntries int
	LogLevel     slog.Level
}

func LoadAPIFromEnv() (APIConfig, error) {
	addr := os.Getenv("PORT")
	if addr != "" {
		if !strings.HasPrefix(addr, ":") {
			addr = ":" + addr
		}
	} else {
		addr = envDefault("MEDIASIM_API_ADDR", ":8080")
	}

	store, err := loadStore()
	if err != nil {
		return APIConfig{}, err
	}
	return APIConfig{
		Addr:         addr,
		Store:        store,
		AdminToken:   strings.TrimSpace(os.Getenv("MEDIASIM_ADMIN_TOKEN")),
		CacheEntries: envIntDefault("MEDIASIM_CACHE_ENTRIES", 1<<20),
		LogLevel:     envLogLevel("MEDIASIM_LOG_LEVEL", slog.LevelInfo),
	}, nil
}

func LoadWorkerFromEnv() (WorkerConfig, error) {
	store, err := loadStore()
	if err != nil {
		return WorkerConfig{}, err
	}
	cfg := WorkerConfig{
		Store:        store,
		TickEvery:    envDurationDefault("MEDIASIM_WORKER_TICK_EVERY", time.Minute),
		RunOnce:      envBoolDefault("MEDIASIM_WORKER_RUN_ONCE", false),
		CacheEntries: envIntDefault("MEDIASIM_CACHE_ENTRIES", 1<<20),
		LogLevel:     envLogLevel("MEDIASIM_LOG_LEVEL", slog.LevelInfo),
	}
	if cfg.TickEvery <= 0 {
		return cfg, fmt.Errorf("MEDIASIM_WORKER_TICK_EVERY must be > 0")
	}
	return cfg, nil
}

func LoadCLIFromEnv() (CLIConfig, error) {
	store, err := loadStore()
	if err != nil {
		return CLIConfig{}, err
	}
	return CLIConfig{
		APIBaseURL:   strings.TrimRight(envDefault("MEDIASIM_API_BASE_URL", "http://localhost:8080"), "/"),
		AdminToken:   strings.TrimSpace(os.Getenv("MEDIASIM_ADMIN_TOKEN")),
		Store:        store,
		CacheEntries: envIntDefault("MEDIASIM_CACHE_ENTRIES", 1<<20),
		LogLevel:     envLogLevel("MEDIASIM_LOG_LEVEL", slog.LevelWarn),
	}, nil
}

func loadStore() (StoreConfig, error) {
	cfg := StoreConfig{
		Driver:      strings.ToLower(envDefault("MEDIASIM_STORE", StoreSQLite)),
		SQLitePath:  envDefault("MEDIASIM_SQLITE_PATH", "game.db"),
		DatabaseURL: strings.TrimSpace(os.Getenv("DATABASE_URL")),

		MaxConns:     envIntDefault("MEDIASIM_DB_MAX_CONNS", 10),
		ConnLifetime: envDurationDefault("MEDIASIM_DB_CONN_LIFETIME", 30*time.Minute),
	}
	switch cfg.Driver {
	case StoreSQLite, StoreMemory:
	case StorePostgres:
		if cfg.DatabaseURL == "" {
			return cfg, fmt.Errorf("DATABASE_URL is required for the postgres store")
		}
	default:
		return cfg, fmt.Errorf("MEDIASIM_STORE must be sqlite, postgres or memory, got %q", cfg.Driver)
	}
	return cfg, nil
}

// LoadGameParams reads a YAML game file over model.DefaultGameParams. Lists
// given in the file (topics, teams) replace the defaults wholesale.
func LoadGameParams(path string) (model.GameParams, error) {
	params := model.DefaultGameParams()
	if path == "" {
		return params, params.Validate()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return params, fmt.Errorf("read game file: %w", err)
	}
	if err := yaml.Unmarshal(data, &params); err != nil {
		return params, fmt.Errorf("parse game file %s: %w", path, err)
	}
	if err := params.Validate(); err != nil {
		return params, fmt.Errorf("game file %s: %w", path, err)
	}
	return params, nil
}

func envDefault(key, fallback string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	return v
}

func envIntDefault(key string, fallback int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return fallback
	}
	return n
}

func envDurationDefault(key string, fallback time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return d
}

func envBoolDefault(key string, fallback bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}

func envLogLevel(key string, fallback slog.Level) slog.Level {
	switch strings.ToLower(strings.TrimSpace(os.Getenv(key))) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return fallback
	}
}
