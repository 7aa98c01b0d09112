package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"mediasim/internal/model"
	"mediasim/internal/simerr"
)

// SQLite stores games in a single local database file.
type SQLite struct {
	db *sql.DB
}

// NewSQLite wraps an open handle (see db.OpenSQLite) and makes sure the
// schema exists.
func NewSQLite(ctx context.Context, db *sql.DB) (*SQLite, error) {
	if err := InitSQLiteSchema(ctx, db); err != nil {
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return &SQLite{db: db}, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

const gameColumns = `id, name, seed, random_state, n_days, n_days_period_0, n_authors, n_users, events_per_day, conversion_rate, next_day`

func scanGame(row rowScanner) (model.Game, error) {
	var g model.Game
	err := row.Scan(&g.ID, &g.Name, &g.Seed, &g.RandomState, &g.NDays, &g.NDaysPeriod0,
		&g.NAuthors, &g.NUsers, &g.EventsPerDay, &g.ConversionRate, &g.NextDay)
	return g, err
}

func (s *SQLite) CreateGame(ctx context.Context, g *model.Game, w *model.World) error {
	if g == nil || w == nil {
		return fmt.Errorf("%w: game and world are required", simerr.ErrInvalidArgument)
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		INSERT INTO games (name, seed, random_state, n_days, n_days_period_0, n_authors, n_users, events_per_day, conversion_rate, next_day)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, g.Name, g.Seed, g.RandomState, g.NDays, g.NDaysPeriod0, g.NAuthors, g.NUsers, g.EventsPerDay, g.ConversionRate, g.NextDay)
	if err != nil {
		return fmt.Errorf("insert game: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	stamp(id, w)

	rows, err := worldRows(w)
	if err != nil {
		return err
	}
	for _, table := range rows {
		placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(table.columns)), ", ")
		stmt, err := tx.PrepareContext(ctx, fmt.Sprintf(`INSERT INTO %s (%s) VALUES (%s)`,
			table.name, strings.Join(table.columns, ", "), placeholders))
		if err != nil {
			return fmt.Errorf("prepare %s insert: %w", table.name, err)
		}
		for _, r := range table.rows {
			if _, err := stmt.ExecContext(ctx, r...); err != nil {
				stmt.Close()
				return fmt.Errorf("insert %s: %w", table.name, err)
			}
		}
		stmt.Close()
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	g.ID = id
	return nil
}

func (s *SQLite) GetGame(ctx context.Context, id int64) (model.Game, error) {
	g, err := scanGame(s.db.QueryRowContext(ctx, `SELECT `+gameColumns+` FROM games WHERE id = ?`, id))
	if err == sql.ErrNoRows {
		return model.Game{}, gameNotFound(id)
	}
	return g, err
}

func (s *SQLite) ListGames(ctx context.Context) ([]model.Game, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+gameColumns+` FROM games ORDER BY id`)
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

// requireGame turns an empty result for a missing game into ErrNotFound.
func (s *SQLite) requireGame(ctx context.Context, id int64) error {
	var one int
	err := s.db.QueryRowContext(ctx, `SELECT 1 FROM games WHERE id = ?`, id).Scan(&one)
	if err == sql.ErrNoRows {
		return gameNotFound(id)
	}
	return err
}

func (s *SQLite) ListTeams(ctx context.Context, gameID int64) ([]model.Team, error) {
	if err := s.requireGame(ctx, gameID); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT game_id, id, name, seed, random_state FROM teams WHERE game_id = ? ORDER BY id
	`, gameID)
	if err != nil {
		return nil, err
	}
	var teams []model.Team
	for rows.Next() {
		var t model.Team
		if err := rows.Scan(&t.GameID, &t.ID, &t.Name, &t.Seed, &t.RandomState); err != nil {
			rows.Close()
			return nil, err
		}
		teams = append(teams, t)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	srows, err := s.db.QueryContext(ctx, `
		SELECT game_id, id, team_id, cost, ads, free_pvs FROM strategies WHERE game_id = ? ORDER BY id
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

func (s *SQLite) ListTopics(ctx context.Context, gameID int64) ([]model.Topic, error) {
	if err := s.requireGame(ctx, gameID); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, `SELECT game_id, id, name, freq FROM topics WHERE game_id = ? ORDER BY id`, gameID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []model.Topic
	for rows.Next() {
		var t model.Topic
		if err := rows.Scan(&t.GameID, &t.ID, &t.Name, &t.Freq); err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (s *SQLite) ListAuthors(ctx context.Context, gameID int64) ([]model.Author, error) {
	if err := s.requireGame(ctx, gameID); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT game_id, id, name, quality, productivity, expertise FROM authors WHERE game_id = ? ORDER BY id
	`, gameID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []model.Author
	for rows.Next() {
		var a model.Author
		var expertise string
		if err := rows.Scan(&a.GameID, &a.ID, &a.Name, &a.Quality, &a.Productivity, &expertise); err != nil {
			return nil, err
		}
		if a.Expertise, err = decodeTopicMap([]byte(expertise)); err != nil {
			return nil, fmt.Errorf("author %d: %w", a.ID, err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (s *SQLite) FilterEvents(ctx context.Context, f EventFilter) ([]model.Event, error) {
	if err := s.requireGame(ctx, f.GameID); err != nil {
		return nil, err
	}
	query := `SELECT game_id, id, start_day, end_day, intensity, relevance FROM events WHERE game_id = ?`
	args := []any{f.GameID}
	if f.LiveOn != nil {
		query += ` AND start_day <= ? AND end_day >= ?`
		args = append(args, *f.LiveOn, *f.LiveOn)
	}
	rows, err := s.db.QueryContext(ctx, query+` ORDER BY id`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []model.Event
	for rows.Next() {
		var e model.Event
		var relevance string
		if err := rows.Scan(&e.GameID, &e.ID, &e.Start, &e.End, &e.Intensity, &relevance); err != nil {
			return nil, err
		}
		if e.Relevance, err = decodeTopicMap([]byte(relevance)); err != nil {
			return nil, fmt.Errorf("event %d: %w", e.ID, err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *SQLite) FilterArticles(ctx context.Context, f ArticleFilter) ([]model.Article, error) {
	if err := s.requireGame(ctx, f.GameID); err != nil {
		return nil, err
	}
	query := `SELECT game_id, id, topic_id, author_id, event_id, day, word_count, vocab FROM articles WHERE game_id = ?`
	args := []any{f.GameID}
	if f.Days != nil {
		query += ` AND day >= ? AND day <= ?`
		args = append(args, f.Days.From, f.Days.To)
	}
	rows, err := s.db.QueryContext(ctx, query+` ORDER BY id`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []model.Article
	for rows.Next() {
		var a model.Article
		if err := rows.Scan(&a.GameID, &a.ID, &a.TopicID, &a.AuthorID, &a.EventID, &a.Day, &a.WordCount, &a.Vocab); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (s *SQLite) FilterUsers(ctx context.Context, f UserFilter) ([]model.User, error) {
	if err := s.requireGame(ctx, f.GameID); err != nil {
		return nil, err
	}
	query := `
		SELECT game_id, id, ip, agent, freq, first_day, lifetime, ad_sensitivity,
		       age, income, media_consumption, interests, favorite_authors
		FROM users WHERE game_id = ?`
	args := []any{f.GameID}
	if f.ActiveOn != nil {
		query += ` AND first_day <= ? AND ? < first_day + lifetime`
		args = append(args, *f.ActiveOn, *f.ActiveOn)
	}
	rows, err := s.db.QueryContext(ctx, query+` ORDER BY id`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []model.User
	for rows.Next() {
		var u model.User
		var age sql.NullInt64
		var income, media sql.NullFloat64
		var interests, favorites string
		if err := rows.Scan(&u.GameID, &u.ID, &u.IP, &u.Agent, &u.Freq, &u.FirstDay, &u.Lifetime, &u.AdSensitivity,
			&age, &income, &media, &interests, &favorites); err != nil {
			return nil, err
		}
		if age.Valid {
			v := int(age.Int64)
			u.Age = &v
		}
		if income.Valid {
			u.Income = &income.Float64
		}
		if media.Valid {
			u.MediaConsumption = &media.Float64
		}
		if u.Interests, err = decodeTopicMap([]byte(interests)); err != nil {
			return nil, fmt.Errorf("user %d: %w", u.ID, err)
		}
		if u.FavoriteAuthors, err = decodeIDs([]byte(favorites)); err != nil {
			return nil, fmt.Errorf("user %d: %w", u.ID, err)
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

func sqlitePageviewWhere(f PageviewFilter) (string, []any) {
	where := `game_id = ?`
	args := []any{f.GameID}
	if f.TeamID != 0 {
		where += ` AND team_id = ?`
		args = append(args, f.TeamID)
	}
	if f.UserID != 0 {
		where += ` AND user_id = ?`
		args = append(args, f.UserID)
	}
	if f.Days != nil {
		where += ` AND day >= ? AND day <= ?`
		args = append(args, f.Days.From, f.Days.To)
	}
	return where, args
}

func (s *SQLite) FilterPageviews(ctx context.Context, f PageviewFilter) ([]model.Pageview, error) {
	if err := s.requireGame(ctx, f.GameID); err != nil {
		return nil, err
	}
	where, args := sqlitePageviewWhere(f)
	query := `
		SELECT game_id, id, team_id, user_id, article_id, day, duration, ads_seen, saw_paywall, converted
		FROM pageviews WHERE ` + where + ` ORDER BY day, id`
	if f.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, f.Limit)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []model.Pageview
	for rows.Next() {
		var pv model.Pageview
		if err := rows.Scan(&pv.GameID, &pv.ID, &pv.TeamID, &pv.UserID, &pv.ArticleID, &pv.Day,
			&pv.Duration, &pv.AdsSeen, &pv.SawPaywall, &pv.Converted); err != nil {
			return nil, err
		}
		out = append(out, pv)
	}
	return out, rows.Err()
}

func (s *SQLite) CountPageviews(ctx context.Context, f PageviewFilter) (int, error) {
	if err := s.requireGame(ctx, f.GameID); err != nil {
		return 0, err
	}
	where, args := sqlitePageviewWhere(f)
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM pageviews WHERE `+where, args...).Scan(&n)
	return n, err
}

func (s *SQLite) ListUserStrategies(ctx context.Context, gameID int64) ([]model.UserStrategy, error) {
	if err := s.requireGame(ctx, gameID); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT game_id, team_id, user_id, strategy_id, start_day, end_day
		FROM user_strategies WHERE game_id = ? ORDER BY start_day, team_id, user_id
	`, gameID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []model.UserStrategy
	for rows.Next() {
		var us model.UserStrategy
		var end sql.NullInt64
		if err := rows.Scan(&us.GameID, &us.TeamID, &us.UserID, &us.StrategyID, &us.StartDay, &end); err != nil {
			return nil, err
		}
		if end.Valid {
			v := int(end.Int64)
			us.EndDay = &v
		}
		out = append(out, us)
	}
	return out, rows.Err()
}

func (s *SQLite) CommitDay(ctx context.Context, c model.DayCommit) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var next int
	err = tx.QueryRowContext(ctx, `SELECT next_day FROM games WHERE id = ?`, c.GameID).Scan(&next)
	if err == sql.ErrNoRows {
		return gameNotFound(c.GameID)
	}
	if err != nil {
		return err
	}
	if c.Day != next {
		return dayConflict(c.GameID, c.Day, next)
	}

	for teamID, state := range c.TeamStates {
		res, err := tx.ExecContext(ctx, `UPDATE teams SET random_state = ? WHERE game_id = ? AND id = ?`, state, c.GameID, teamID)
		if err != nil {
			return fmt.Errorf("save team state: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return teamNotFound(c.GameID, teamID)
		}
	}

	var lastID int64
	if err := tx.QueryRowContext(ctx, `SELECT COALESCE(MAX(id), 0) FROM pageviews WHERE game_id = ?`, c.GameID).Scan(&lastID); err != nil {
		return err
	}
	if len(c.Pageviews) > 0 {
		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO pageviews (game_id, id, team_id, user_id, article_id, day, duration, ads_seen, saw_paywall, converted)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`)
		if err != nil {
			return err
		}
		defer stmt.Close()
		for _, pv := range c.Pageviews {
			lastID++
			if _, err := stmt.ExecContext(ctx, c.GameID, lastID, pv.TeamID, pv.UserID, pv.ArticleID, pv.Day,
				pv.Duration, pv.AdsSeen, pv.SawPaywall, pv.Converted); err != nil {
				return fmt.Errorf("insert pageview: %w", err)
			}
		}
	}

	for _, us := range c.Conversions {
		var exists int
		err := tx.QueryRowContext(ctx, `
			SELECT COUNT(*) FROM user_strategies WHERE game_id = ? AND team_id = ? AND user_id = ?
		`, c.GameID, us.TeamID, us.UserID).Scan(&exists)
		if err != nil {
			return err
		}
		if exists > 0 {
			return fmt.Errorf("%w: user %d already subscribed to team %d", simerr.ErrConflict, us.UserID, us.TeamID)
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO user_strategies (game_id, team_id, user_id, strategy_id, start_day, end_day)
			VALUES (?, ?, ?, ?, ?, ?)
		`, c.GameID, us.TeamID, us.UserID, us.StrategyID, us.StartDay, us.EndDay); err != nil {
			return fmt.Errorf("insert user strategy: %w", err)
		}
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE games
		SET next_day = ?, random_state = CASE WHEN ? = '' THEN random_state ELSE ? END
		WHERE id = ?
	`, c.Day+1, c.GameState, c.GameState, c.GameID); err != nil {
		return fmt.Errorf("advance game: %w", err)
	}
	return tx.Commit()
}

func (s *SQLite) SaveGameState(ctx context.Context, gameID int64, state string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE games SET random_state = ? WHERE id = ?`, state, gameID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return gameNotFound(gameID)
	}
	return nil
}

func (s *SQLite) SaveTeamState(ctx context.Context, gameID, teamID int64, state string) error {
	if err := s.requireGame(ctx, gameID); err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, `UPDATE teams SET random_state = ? WHERE game_id = ? AND id = ?`, state, gameID, teamID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return teamNotFound(gameID, teamID)
	}
	return nil
}

func (s *SQLite) Close() error {
	return s.db.Close()
}
