package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"mediasim/internal/model"
	"mediasim/internal/simerr"
)

// Postgres stores games in the sim schema of a shared database.
type Postgres struct {
	db *pgxpool.Pool
}

// NewPostgres wraps a pool (see db.Connect) and makes sure the schema
// exists.
func NewPostgres(ctx context.Context, pool *pgxpool.Pool) (*Postgres, error) {
	if err := InitPostgresSchema(ctx, pool); err != nil {
		return nil, err
	}
	return &Postgres{db: pool}, nil
}

func (p *Postgres) CreateGame(ctx context.Context, g *model.Game, w *model.World) error {
	if g == nil || w == nil {
		return fmt.Errorf("%w: game and world are required", simerr.ErrInvalidArgument)
	}
	tx, err := p.db.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	var id int64
	err = tx.QueryRow(ctx, `
		INSERT INTO sim.games (name, seed, random_state, n_days, n_days_period_0, n_authors, n_users, events_per_day, conversion_rate, next_day)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING id
	`, g.Name, g.Seed, g.RandomState, g.NDays, g.NDaysPeriod0, g.NAuthors, g.NUsers, g.EventsPerDay, g.ConversionRate, g.NextDay).Scan(&id)
	if err != nil {
		return fmt.Errorf("insert game: %w", err)
	}
	stamp(id, w)

	tables, err := worldRows(w)
	if err != nil {
		return err
	}
	for _, table := range tables {
		if len(table.rows) == 0 {
			continue
		}
		if _, err := tx.CopyFrom(ctx, pgx.Identifier{"sim", table.name}, table.columns, pgx.CopyFromRows(table.rows)); err != nil {
			return fmt.Errorf("copy %s: %w", table.name, err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return err
	}
	g.ID = id
	return nil
}

func (p *Postgres) GetGame(ctx context.Context, id int64) (model.Game, error) {
	g, err := scanGame(p.db.QueryRow(ctx, `SELECT `+gameColumns+` FROM sim.games WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return model.Game{}, gameNotFound(id)
	}
	return g, err
}

func (p *Postgres) ListGames(ctx context.Context) ([]model.Game, error) {
	rows, err := p.db.Query(ctx, `SELECT `+gameColumns+` FROM sim.games ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []model.Game
	for rows.Next() {
		g, err := scanGame(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, g)
	}
	return out, rows.Err()
}

func (p *Postgres) requireGame(ctx context.Context, id int64) error {
	var one int
	err := p.db.QueryRow(ctx, `SELECT 1 FROM sim.games WHERE id = $1`, id).Scan(&one)
	if errors.Is(err, pgx.ErrNoRows) {
		return gameNotFound(id)
	}
	return err
}

func (p *Postgres) ListTeams(ctx context.Context, gameID int64) ([]model.Team, error) {
	if err := p.requireGame(ctx, gameID); err != nil {
		return nil, err
	}
	rows, err := p.db.Query(ctx, `
		SELECT game_id, id, name, seed, random_state FROM sim.teams WHERE game_id = $1 ORDER BY id
	`, gameID)
	if err != nil {
		return nil, err
	}
	teams, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (model.Team, error) {
		var t model.Team
		err := row.Scan(&t.GameID, &t.ID, &t.Name, &t.Seed, &t.RandomState)
		return t, err
	})
	if err != nil {
		return nil, err
	}

	srows, err := p.db.Query(ctx, `
		SELECT game_id, id, team_id, cost, ads, free_pvs FROM sim.strategies WHERE game_id = $1 ORDER BY id
	`, gameID)
	if err != nil {
		return nil, err
	}
	defer srows.Close()
	for srows.Next() {
		var st model.Strategy
		if err := srows.Scan(&st.GameID, &st.ID, &st.TeamID, &st.Cost, &st.Ads, &st.FreePVs); err != nil {
			return nil, err
		}
		attachStrategy(teams, st)
	}
	return teams, srows.Err()
}

func (p *Postgres) ListTopics(ctx context.Context, gameID int64) ([]model.Topic, error) {
	if err := p.requireGame(ctx, gameID); err != nil {
		return nil, err
	}
	rows, err := p.db.Query(ctx, `SELECT game_id, id, name, freq FROM sim.topics WHERE game_id = $1 ORDER BY id`, gameID)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (model.Topic, error) {
		var t model.Topic
		err := row.Scan(&t.GameID, &t.ID, &t.Name, &t.Freq)
		return t, err
	})
}

func (p *Postgres) ListAuthors(ctx context.Context, gameID int64) ([]model.Author, error) {
	if err := p.requireGame(ctx, gameID); err != nil {
		return nil, err
	}
	rows, err := p.db.Query(ctx, `
		SELECT game_id, id, name, quality, productivity, expertise FROM sim.authors WHERE game_id = $1 ORDER BY id
	`, gameID)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (model.Author, error) {
		var a model.Author
		var expertise []byte
		if err := row.Scan(&a.GameID, &a.ID, &a.Name, &a.Quality, &a.Productivity, &expertise); err != nil {
			return a, err
		}
		var err error
		if a.Expertise, err = decodeTopicMap(expertise); err != nil {
			return a, fmt.Errorf("author %d: %w", a.ID, err)
		}
		return a, nil
	})
}

func (p *Postgres) FilterEvents(ctx context.Context, f EventFilter) ([]model.Event, error) {
	if err := p.requireGame(ctx, f.GameID); err != nil {
		return nil, err
	}
	query := `SELECT game_id, id, start_day, end_day, intensity, relevance FROM sim.events WHERE game_id = $1`
	args := []any{f.GameID}
	if f.LiveOn != nil {
		query += ` AND start_day <= $2 AND end_day >= $2`
		args = append(args, *f.LiveOn)
	}
	rows, err := p.db.Query(ctx, query+` ORDER BY id`, args...)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (model.Event, error) {
		var e model.Event
		var relevance []byte
		if err := row.Scan(&e.GameID, &e.ID, &e.Start, &e.End, &e.Intensity, &relevance); err != nil {
			return e, err
		}
		var err error
		if e.Relevance, err = decodeTopicMap(relevance); err != nil {
			return e, fmt.Errorf("event %d: %w", e.ID, err)
		}
		return e, nil
	})
}

func (p *Postgres) FilterArticles(ctx context.Context, f ArticleFilter) ([]model.Article, error) {
	if err := p.requireGame(ctx, f.GameID); err != nil {
		return nil, err
	}
	query := `SELECT game_id, id, topic_id, author_id, event_id, day, word_count, vocab FROM sim.articles WHERE game_id = $1`
	args := []any{f.GameID}
	if f.Days != nil {
		query += ` AND day BETWEEN $2 AND $3`
		args = append(args, f.Days.From, f.Days.To)
	}
	rows, err := p.db.Query(ctx, query+` ORDER BY id`, args...)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (model.Article, error) {
		var a model.Article
		err := row.Scan(&a.GameID, &a.ID, &a.TopicID, &a.AuthorID, &a.EventID, &a.Day, &a.WordCount, &a.Vocab)
		return a, err
	})
}

func (p *Postgres) FilterUsers(ctx context.Context, f UserFilter) ([]model.User, error) {
	if err := p.requireGame(ctx, f.GameID); err != nil {
		return nil, err
	}
	query := `
		SELECT game_id, id, ip, agent, freq, first_day, lifetime, ad_sensitivity,
		       age, income, media_consumption, interests, favorite_authors
		FROM sim.users WHERE game_id = $1`
	args := []any{f.GameID}
	if f.ActiveOn != nil {
		query += ` AND first_day <= $2 AND $2 < first_day + lifetime`
		args = append(args, *f.ActiveOn)
	}
	rows, err := p.db.Query(ctx, query+` ORDER BY id`, args...)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (model.User, error) {
		var u model.User
		var interests, favorites []byte
		if err := row.Scan(&u.GameID, &u.ID, &u.IP, &u.Agent, &u.Freq, &u.FirstDay, &u.Lifetime, &u.AdSensitivity,
			&u.Age, &u.Income, &u.MediaConsumption, &interests, &favorites); err != nil {
			return u, err
		}
		var err error
		if u.Interests, err = decodeTopicMap(interests); err != nil {
			return u, fmt.Errorf("user %d: %w", u.ID, err)
		}
		if u.FavoriteAuthors, err = decodeIDs(favorites); err != nil {
			return u, fmt.Errorf("user %d: %w", u.ID, err)
		}
		return u, nil
	})
}

func postgresPageviewWhere(f PageviewFilter) (string, []any) {
	where := `game_id = $1`
	args := []any{f.GameID}
	add := func(clause string, v any) {
		args = append(args, v)
		where += fmt.Sprintf(clause, len(args))
	}
	if f.TeamID != 0 {
		add(` AND team_id = $%d`, f.TeamID)
	}
	if f.UserID != 0 {
		add(` AND user_id = $%d`, f.UserID)
	}
	if f.Days != nil {
		add(` AND day >= $%d`, f.Days.From)
		add(` AND day <= $%d`, f.Days.To)
	}
	return where, args
}

func (p *Postgres) FilterPageviews(ctx context.Context, f PageviewFilter) ([]model.Pageview, error) {
	if err := p.requireGame(ctx, f.GameID); err != nil {
		return nil, err
	}
	where, args := postgresPageviewWhere(f)
	query := `
		SELECT game_id, id, team_id, user_id, article_id, day, duration, ads_seen, saw_paywall, converted
		FROM sim.pageviews WHERE ` + where + ` ORDER BY day, id`
	if f.Limit > 0 {
		args = append(args, f.Limit)
		query += fmt.Sprintf(` LIMIT $%d`, len(args))
	}
	rows, err := p.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (model.Pageview, error) {
		var pv model.Pageview
		err := row.Scan(&pv.GameID, &pv.ID, &pv.TeamID, &pv.UserID, &pv.ArticleID, &pv.Day,
			&pv.Duration, &pv.AdsSeen, &pv.SawPaywall, &pv.Converted)
		return pv, err
	})
}

func (p *Postgres) CountPageviews(ctx context.Context, f PageviewFilter) (int, error) {
	if err := p.requireGame(ctx, f.GameID); err != nil {
		return 0, err
	}
	where, args := postgresPageviewWhere(f)
	var n int
	err := p.db.QueryRow(ctx, `SELECT COUNT(*) FROM sim.pageviews WHERE `+where, args...).Scan(&n)
	return n, err
}

func (p *Postgres) ListUserStrategies(ctx context.Context, gameID int64) ([]model.UserStrategy, error) {
	if err := p.requireGame(ctx, gameID); err != nil {
		return nil, err
	}
	rows, err := p.db.Query(ctx, `
		SELECT game_id, team_id, user_id, strategy_id, start_day, end_day
		FROM sim.user_strategies WHERE game_id = $1 ORDER BY start_day, team_id, user_id
	`, gameID)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (model.UserStrategy, error) {
		var us model.UserStrategy
		err := row.Scan(&us.GameID, &us.TeamID, &us.UserID, &us.StrategyID, &us.StartDay, &us.EndDay)
		return us, err
	})
}

func (p *Postgres) CommitDay(ctx context.Context, c model.DayCommit) error {
	tx, err := p.db.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	var next int
	err = tx.QueryRow(ctx, `SELECT next_day FROM sim.games WHERE id = $1 FOR UPDATE`, c.GameID).Scan(&next)
	if errors.Is(err, pgx.ErrNoRows) {
		return gameNotFound(c.GameID)
	}
	if err != nil {
		return err
	}
	if c.Day != next {
		return dayConflict(c.GameID, c.Day, next)
	}

	var lastID int64
	if err := tx.QueryRow(ctx, `SELECT COALESCE(MAX(id), 0) FROM sim.pageviews WHERE game_id = $1`, c.GameID).Scan(&lastID); err != nil {
		return err
	}
	if len(c.Pageviews) > 0 {
		rows := make([][]any, len(c.Pageviews))
		for i, pv := range c.Pageviews {
			lastID++
			rows[i] = []any{c.GameID, lastID, pv.TeamID, pv.UserID, pv.ArticleID, pv.Day, pv.Duration, pv.AdsSeen, pv.SawPaywall, pv.Converted}
		}
		_, err := tx.CopyFrom(ctx, pgx.Identifier{"sim", "pageviews"},
			[]string{"game_id", "id", "team_id", "user_id", "article_id", "day", "duration", "ads_seen", "saw_paywall", "converted"},
			pgx.CopyFromRows(rows))
		if err != nil {
			return fmt.Errorf("copy pageviews: %w", err)
		}
	}

	batch := &pgx.Batch{}
	teamIDs := make([]int64, 0, len(c.TeamStates))
	for teamID, state := range c.TeamStates {
		teamIDs = append(teamIDs, teamID)
		batch.Queue(`UPDATE sim.teams SET random_state = $1 WHERE game_id = $2 AND id = $3`, state, c.GameID, teamID)
	}
	for _, us := range c.Conversions {
		batch.Queue(`
			INSERT INTO sim.user_strategies (game_id, team_id, user_id, strategy_id, start_day, end_day)
			VALUES ($1, $2, $3, $4, $5, $6)
		`, c.GameID, us.TeamID, us.UserID, us.StrategyID, us.StartDay, us.EndDay)
	}
	batch.Queue(`
		UPDATE sim.games
		SET next_day = $1, random_state = CASE WHEN $2 = '' THEN random_state ELSE $2 END
		WHERE id = $3
	`, c.Day+1, c.GameState, c.GameID)

	br := tx.SendBatch(ctx, batch)
	for _, teamID := range teamIDs {
		tag, err := br.Exec()
		if err != nil {
			br.Close()
			return fmt.Errorf("save team state: %w", err)
		}
		if tag.RowsAffected() == 0 {
			br.Close()
			return teamNotFound(c.GameID, teamID)
		}
	}
	for _, us := range c.Conversions {
		if _, err := br.Exec(); err != nil {
			br.Close()
			if isUniqueViolation(err) {
				return fmt.Errorf("%w: user %d already subscribed to team %d", simerr.ErrConflict, us.UserID, us.TeamID)
			}
			return fmt.Errorf("insert user strategy: %w", err)
		}
	}
	if _, err := br.Exec(); err != nil {
		br.Close()
		return fmt.Errorf("advance game: %w", err)
	}
	if err := br.Close(); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (p *Postgres) SaveGameState(ctx context.Context, gameID int64, state string) error {
	tag, err := p.db.Exec(ctx, `UPDATE sim.games SET random_state = $1 WHERE id = $2`, state, gameID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return gameNotFound(gameID)
	}
	return nil
}

func (p *Postgres) SaveTeamState(ctx context.Context, gameID, teamID int64, state string) error {
	if err := p.requireGame(ctx, gameID); err != nil {
		return err
	}
	tag, err := p.db.Exec(ctx, `UPDATE sim.teams SET random_state = $1 WHERE game_id = $2 AND id = $3`, state, gameID, teamID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return teamNotFound(gameID, teamID)
	}
	return nil
}

// Close releases the pool.
func (p *Postgres) Close() error {
	p.db.Close()
	return nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
