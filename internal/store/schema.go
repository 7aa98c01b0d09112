package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// SchemaVersion is bumped whenever either schema changes shape.
const SchemaVersion = 1

// Entity ids below the game are local to the game, so every child table is
// keyed by (game_id, id). Per-topic vectors are stored as JSON objects keyed
// by topic id.
const sqliteSchema = `
CREATE TABLE IF NOT EXISTS schema_version (
    version INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS games (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    name TEXT NOT NULL,
    seed INTEGER NOT NULL,
    random_state TEXT NOT NULL DEFAULT '',
    n_days INTEGER NOT NULL,
    n_days_period_0 INTEGER NOT NULL,
    n_authors INTEGER NOT NULL,
    n_users INTEGER NOT NULL,
    events_per_day REAL NOT NULL,
    conversion_rate REAL NOT NULL,
    next_day INTEGER NOT NULL DEFAULT 0,
    created_at TEXT NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS teams (
    game_id INTEGER NOT NULL REFERENCES games(id) ON DELETE CASCADE,
    id INTEGER NOT NULL,
    name TEXT NOT NULL,
    seed INTEGER NOT NULL,
    random_state TEXT NOT NULL DEFAULT '',
    PRIMARY KEY (game_id, id),
    UNIQUE (game_id, name)
);

CREATE TABLE IF NOT EXISTS strategies (
    game_id INTEGER NOT NULL,
    id INTEGER NOT NULL,
    team_id INTEGER NOT NULL,
    cost REAL NOT NULL,
    ads INTEGER NOT NULL,
    free_pvs INTEGER NOT NULL,
    PRIMARY KEY (game_id, id),
    FOREIGN KEY (game_id, team_id) REFERENCES teams(game_id, id) ON DELETE CASCADE
);

CREATE TABLE IF NOT EXISTS topics (
    game_id INTEGER NOT NULL REFERENCES games(id) ON DELETE CASCADE,
    id INTEGER NOT NULL,
    name TEXT NOT NULL,
    freq REAL NOT NULL,
    PRIMARY KEY (game_id, id)
);

CREATE TABLE IF NOT EXISTS authors (
    game_id INTEGER NOT NULL REFERENCES games(id) ON DELETE CASCADE,
    id INTEGER NOT NULL,
    name TEXT NOT NULL,
    quality REAL NOT NULL,
    productivity REAL NOT NULL,
    expertise TEXT NOT NULL,  -- JSON
    PRIMARY KEY (game_id, id)
);

CREATE TABLE IF NOT EXISTS events (
    game_id INTEGER NOT NULL REFERENCES games(id) ON DELETE CASCADE,
    id INTEGER NOT NULL,
    start_day INTEGER NOT NULL,
    end_day INTEGER NOT NULL,
    intensity REAL NOT NULL,
    relevance TEXT NOT NULL,  -- JSON
    PRIMARY KEY (game_id, id)
);
CREATE INDEX IF NOT EXISTS idx_events_live ON events(game_id, start_day, end_day);

CREATE TABLE IF NOT EXISTS articles (
    game_id INTEGER NOT NULL REFERENCES games(id) ON DELETE CASCADE,
    id INTEGER NOT NULL,
    topic_id INTEGER NOT NULL,
    author_id INTEGER NOT NULL,
    event_id INTEGER NOT NULL,
    day INTEGER NOT NULL,
    word_count INTEGER NOT NULL,
    vocab REAL NOT NULL,
    PRIMARY KEY (game_id, id)
);
CREATE INDEX IF NOT EXISTS idx_articles_day ON articles(game_id, day);

CREATE TABLE IF NOT EXISTS users (
    game_id INTEGER NOT NULL REFERENCES games(id) ON DELETE CASCADE,
    id INTEGER NOT NULL,
    ip TEXT NOT NULL,
    agent TEXT NOT NULL,
    freq INTEGER NOT NULL,
    first_day INTEGER NOT NULL,
    lifetime INTEGER NOT NULL,
    ad_sensitivity REAL NOT NULL,
    age INTEGER,
    income REAL,
    media_consumption REAL,
    interests TEXT NOT NULL,         -- JSON
    favorite_authors TEXT NOT NULL,  -- JSON array
    PRIMARY KEY (game_id, id)
);
CREATE INDEX IF NOT EXISTS idx_users_active ON users(game_id, first_day);

CREATE TABLE IF NOT EXISTS pageviews (
    game_id INTEGER NOT NULL REFERENCES games(id) ON DELETE CASCADE,
    id INTEGER NOT NULL,
    team_id INTEGER NOT NULL,
    user_id INTEGER NOT NULL,
    article_id INTEGER NOT NULL,
    day INTEGER NOT NULL,
    duration REAL NOT NULL,
    ads_seen INTEGER NOT NULL,
    saw_paywall INTEGER NOT NULL,
    converted INTEGER NOT NULL,
    PRIMARY KEY (game_id, id)
);
CREATE INDEX IF NOT EXISTS idx_pageviews_reader ON pageviews(game_id, team_id, user_id, day);

CREATE TABLE IF NOT EXISTS user_strategies (
    game_id INTEGER NOT NULL REFERENCES games(id) ON DELETE CASCADE,
    team_id INTEGER NOT NULL,
    user_id INTEGER NOT NULL,
    strategy_id INTEGER NOT NULL,
    start_day INTEGER NOT NULL,
    end_day INTEGER,
    PRIMARY KEY (game_id, team_id, user_id)
);
`

const postgresSchema = `
CREATE SCHEMA IF NOT EXISTS sim;

CREATE TABLE IF NOT EXISTS sim.games (
    id BIGSERIAL PRIMARY KEY,
    name TEXT NOT NULL,
    seed BIGINT NOT NULL,
    random_state TEXT NOT NULL DEFAULT '',
    n_days INTEGER NOT NULL,
    n_days_period_0 INTEGER NOT NULL,
    n_authors INTEGER NOT NULL,
    n_users INTEGER NOT NULL,
    events_per_day DOUBLE PRECISION NOT NULL,
    conversion_rate DOUBLE PRECISION NOT NULL,
    next_day INTEGER NOT NULL DEFAULT 0,
    created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS sim.teams (
    game_id BIGINT NOT NULL REFERENCES sim.games(id) ON DELETE CASCADE,
    id BIGINT NOT NULL,
    name TEXT NOT NULL,
    seed BIGINT NOT NULL,
    random_state TEXT NOT NULL DEFAULT '',
    PRIMARY KEY (game_id, id),
    UNIQUE (game_id, name)
);

CREATE TABLE IF NOT EXISTS sim.strategies (
    game_id BIGINT NOT NULL,
    id BIGINT NOT NULL,
    team_id BIGINT NOT NULL,
    cost DOUBLE PRECISION NOT NULL,
    ads INTEGER NOT NULL,
    free_pvs INTEGER NOT NULL,
    PRIMARY KEY (game_id, id),
    FOREIGN KEY (game_id, team_id) REFERENCES sim.teams(game_id, id) ON DELETE CASCADE
);

CREATE TABLE IF NOT EXISTS sim.topics (
    game_id BIGINT NOT NULL REFERENCES sim.games(id) ON DELETE CASCADE,
    id BIGINT NOT NULL,
    name TEXT NOT NULL,
    freq DOUBLE PRECISION NOT NULL,
    PRIMARY KEY (game_id, id)
);

CREATE TABLE IF NOT EXISTS sim.authors (
    game_id BIGINT NOT NULL REFERENCES sim.games(id) ON DELETE CASCADE,
    id BIGINT NOT NULL,
    name TEXT NOT NULL,
    quality DOUBLE PRECISION NOT NULL,
    productivity DOUBLE PRECISION NOT NULL,
    expertise JSONB NOT NULL,
    PRIMARY KEY (game_id, id)
);

CREATE TABLE IF NOT EXISTS sim.events (
    game_id BIGINT NOT NULL REFERENCES sim.games(id) ON DELETE CASCADE,
    id BIGINT NOT NULL,
    start_day INTEGER NOT NULL,
    end_day INTEGER NOT NULL,
    intensity DOUBLE PRECISION NOT NULL,
    relevance JSONB NOT NULL,
    PRIMARY KEY (game_id, id)
);
CREATE INDEX IF NOT EXISTS idx_events_live ON sim.events(game_id, start_day, end_day);

CREATE TABLE IF NOT EXISTS sim.articles (
    game_id BIGINT NOT NULL REFERENCES sim.games(id) ON DELETE CASCADE,
    id BIGINT NOT NULL,
    topic_id BIGINT NOT NULL,
    author_id BIGINT NOT NULL,
    event_id BIGINT NOT NULL,
    day INTEGER NOT NULL,
    word_count INTEGER NOT NULL,
    vocab DOUBLE PRECISION NOT NULL,
    PRIMARY KEY (game_id, id)
);
CREATE INDEX IF NOT EXISTS idx_articles_day ON sim.articles(game_id, day);

CREATE TABLE IF NOT EXISTS sim.users (
    game_id BIGINT NOT NULL REFERENCES sim.games(id) ON DELETE CASCADE,
    id BIGINT NOT NULL,
    ip TEXT NOT NULL,
    agent TEXT NOT NULL,
    freq INTEGER NOT NULL,
    first_day INTEGER NOT NULL,
    lifetime INTEGER NOT NULL,
    ad_sensitivity DOUBLE PRECISION NOT NULL,
    age INTEGER,
    income DOUBLE PRECISION,
    media_consumption DOUBLE PRECISION,
    interests JSONB NOT NULL,
    favorite_authors JSONB NOT NULL,
    PRIMARY KEY (game_id, id)
);
CREATE INDEX IF NOT EXISTS idx_users_active ON sim.users(game_id, first_day);

CREATE TABLE IF NOT EXISTS sim.pageviews (
    game_id BIGINT NOT NULL REFERENCES sim.games(id) ON DELETE CASCADE,
    id BIGINT NOT NULL,
    team_id BIGINT NOT NULL,
    user_id BIGINT NOT NULL,
    article_id BIGINT NOT NULL,
    day INTEGER NOT NULL,
    duration DOUBLE PRECISION NOT NULL,
    ads_seen INTEGER NOT NULL,
    saw_paywall BOOLEAN NOT NULL,
    converted BOOLEAN NOT NULL,
    PRIMARY KEY (game_id, id)
);
CREATE INDEX IF NOT EXISTS idx_pageviews_reader ON sim.pageviews(game_id, team_id, user_id, day);

CREATE TABLE IF NOT EXISTS sim.user_strategies (
    game_id BIGINT NOT NULL REFERENCES sim.games(id) ON DELETE CASCADE,
    team_id BIGINT NOT NULL,
    user_id BIGINT NOT NULL,
    strategy_id BIGINT NOT NULL,
    start_day INTEGER NOT NULL,
    end_day INTEGER,
    PRIMARY KEY (game_id, team_id, user_id)
);
`

// InitSQLiteSchema creates the tables if needed and records the version.
func InitSQLiteSchema(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		return fmt.Errorf("create tables: %w", err)
	}
	var version int
	err := db.QueryRowContext(ctx, `SELECT version FROM schema_version LIMIT 1`).Scan(&version)
	switch {
	case err == sql.ErrNoRows:
		if _, err := db.ExecContext(ctx, `INSERT INTO schema_version (version) VALUES (?)`, SchemaVersion); err != nil {
			return fmt.Errorf("record schema version: %w", err)
		}
	case err != nil:
		return fmt.Errorf("read schema version: %w", err)
	case version > SchemaVersion:
		return fmt.Errorf("database schema version %d is newer than supported %d", version, SchemaVersion)
	}
	return nil
}

// InitPostgresSchema creates the sim schema if needed.
func InitPostgresSchema(ctx context.Context, pool *pgxpool.Pool) error {
	if _, err := pool.Exec(ctx, postgresSchema); err != nil {
		return fmt.Errorf("create sim schema: %w", err)
	}
	return nil
}

func encodeJSON(v any) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func decodeTopicMap(raw []byte) (map[int64]float64, error) {
	out := map[int64]float64{}
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("decode topic map: %w", err)
	}
	return out, nil
}

func decodeIDs(raw []byte) ([]int64, error) {
	var out []int64
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("decode id list: %w", err)
	}
	return out, nil
}
