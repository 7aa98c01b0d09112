// Package game runs games end to end: seeding worlds, generating traffic day
// by day and handing out reproducible random variates tied to a game or team.
package game

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"mediasim/internal/model"
	"mediasim/internal/randstate"
	"mediasim/internal/simerr"
	"mediasim/internal/store"
	"mediasim/internal/traffic"
	"mediasim/internal/world"
)

// Service serializes all work on one game: every operation that draws from a
// game's or team's random stream holds that game's lock from load to save.
// Different games run independently.
type Service struct {
	store    store.Store
	cache    *traffic.PageviewCache
	resolver traffic.StrategyResolver
	log      *slog.Logger

	mu    sync.Mutex
	locks map[int64]*sync.Mutex
}

// NewService builds a service. cache may be nil when cache-mode runs
// (Backfill, GenerateTraffic with useCache) are never requested.
func NewService(st store.Store, cache *traffic.PageviewCache, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:    st,
		cache:    cache,
		resolver: traffic.FirstStrategy{},
		log:      logger,
		locks:    map[int64]*sync.Mutex{},
	}
}

// SetStrategyResolver replaces the default first-strategy policy.
func (s *Service) SetStrategyResolver(r traffic.StrategyResolver) {
	if r == nil {
		r = traffic.FirstStrategy{}
	}
	s.resolver = r
}

func (s *Service) lock(gameID int64) func() {
	s.mu.Lock()
	l, ok := s.locks[gameID]
	if !ok {
		l = &sync.Mutex{}
		s.locks[gameID] = l
	}
	s.mu.Unlock()
	l.Lock()
	return l.Unlock
}

// SeedWorld generates and persists a new game from p.
func (s *Service) SeedWorld(ctx context.Context, p model.GameParams) (model.Game, error) {
	started := time.Now()
	g := p.NewGame()
	w, err := world.Generate(g, p)
	if err != nil {
		return model.Game{}, err
	}
	if err := s.store.CreateGame(ctx, g, w); err != nil {
		return model.Game{}, fmt.Errorf("save world: %w", err)
	}
	s.log.Info("world seeded",
		"game_id", g.ID,
		"seed", g.Seed,
		"teams", len(w.Teams),
		"authors", len(w.Authors),
		"events", len(w.Events),
		"articles", len(w.Articles),
		"users", len(w.Users),
		"elapsed", time.Since(started).String(),
	)
	return *g, nil
}

func (s *Service) Game(ctx context.Context, id int64) (model.Game, error) {
	return s.store.GetGame(ctx, id)
}

func (s *Service) Games(ctx context.Context) ([]model.Game, error) {
	return s.store.ListGames(ctx)
}

// View loads a game together with its teams and their strategies.
func (s *Service) View(ctx context.Context, id int64) (GameView, error) {
	g, err := s.store.GetGame(ctx, id)
	if err != nil {
		return GameView{}, err
	}
	teams, err := s.store.ListTeams(ctx, id)
	if err != nil {
		return GameView{}, err
	}
	return GameView{Game: g, Teams: teams}, nil
}

func (s *Service) Pageviews(ctx context.Context, f store.PageviewFilter) ([]model.Pageview, error) {
	return s.store.FilterPageviews(ctx, f)
}

// GenerateTraffic simulates days [start, end) of a game and commits each day
// as it completes. Days already committed are skipped, so a run can be
// resumed with the same arguments after a failure; a start past the next
// unsimulated day is rejected. With useCache the already-seen sets come from
// the in-process PageviewCache instead of the stored history.
func (s *Service) GenerateTraffic(ctx context.Context, gameID int64, start, end int, useCache bool) (traffic.Summary, error) {
	unlock := s.lock(gameID)
	defer unlock()
	return s.runTraffic(ctx, gameID, start, end, useCache)
}

// Backfill simulates the rest of period 0 in cache mode.
func (s *Service) Backfill(ctx context.Context, gameID int64) (traffic.Summary, error) {
	unlock := s.lock(gameID)
	defer unlock()
	g, err := s.store.GetGame(ctx, gameID)
	if err != nil {
		return traffic.Summary{}, err
	}
	if g.NextDay >= g.NDaysPeriod0 {
		return traffic.Summary{GameID: gameID, StartDay: g.NextDay, EndDay: g.NextDay, Cached: true, NextDay: g.NextDay}, nil
	}
	return s.runTraffic(ctx, gameID, g.NextDay, g.NDaysPeriod0, true)
}

// AdvanceDay simulates the next unsimulated day from stored history.
func (s *Service) AdvanceDay(ctx context.Context, gameID int64) (traffic.Summary, error) {
	unlock := s.lock(gameID)
	defer unlock()
	g, err := s.store.GetGame(ctx, gameID)
	if err != nil {
		return traffic.Summary{}, err
	}
	if g.NextDay >= g.NDays {
		return traffic.Summary{}, fmt.Errorf("%w: game %d has simulated all %d days", simerr.ErrConflict, gameID, g.NDays)
	}
	return s.runTraffic(ctx, gameID, g.NextDay, g.NextDay+1, false)
}

// AdvanceAll advances every unfinished game by one day, running up to limit
// games at once. It stops at the first failure.
func (s *Service) AdvanceAll(ctx context.Context, limit int) ([]traffic.Summary, error) {
	games, err := s.store.ListGames(ctx)
	if err != nil {
		return nil, err
	}
	var pending []model.Game
	for _, g := range games {
		if g.NextDay < g.NDays {
			pending = append(pending, g)
		}
	}
	out := make([]traffic.Summary, len(pending))
	eg, ctx := errgroup.WithContext(ctx)
	if limit > 0 {
		eg.SetLimit(limit)
	}
	for i, g := range pending {
		eg.Go(func() error {
			sum, err := s.AdvanceDay(ctx, g.ID)
			if err != nil {
				return fmt.Errorf("advance game %d: %w", g.ID, err)
			}
			out[i] = sum
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Service) runTraffic(ctx context.Context, gameID int64, start, end int, useCache bool) (traffic.Summary, error) {
	g, err := s.store.GetGame(ctx, gameID)
	if err != nil {
		return traffic.Summary{}, err
	}
	if start < 0 || end < start || end > g.NDays {
		return traffic.Summary{}, fmt.Errorf("%w: day range [%d, %d) outside [0, %d)", simerr.ErrInvalidArgument, start, end, g.NDays)
	}
	if start > g.NextDay {
		return traffic.Summary{}, fmt.Errorf("%w: day %d requested but game %d has only simulated up to day %d", simerr.ErrInvalidArgument, start, gameID, g.NextDay)
	}
	if useCache && s.cache == nil {
		return traffic.Summary{}, fmt.Errorf("%w: no pageview cache configured", simerr.ErrInvalidArgument)
	}

	sum := traffic.Summary{
		RunID:    uuid.NewString(),
		GameID:   gameID,
		StartDay: max(start, g.NextDay),
		EndDay:   end,
		Cached:   useCache,
	}
	teams, err := s.store.ListTeams(ctx, gameID)
	if err != nil {
		return sum, err
	}
	authors, err := s.store.ListAuthors(ctx, gameID)
	if err != nil {
		return sum, err
	}
	strategies, err := s.store.ListUserStrategies(ctx, gameID)
	if err != nil {
		return sum, err
	}

	started := time.Now()
	sim := traffic.NewSimulator(s.store, s.cache, s.resolver, s.log)
	d := &traffic.Day{
		Game:        &g,
		Teams:       teams,
		Authors:     traffic.AuthorIndex(authors),
		Subscribers: traffic.Subscribers(strategies, sum.StartDay),
	}
	for day := sum.StartDay; day < end; day++ {
		users, articles, err := traffic.Candidates(ctx, s.store, gameID, day)
		if err != nil {
			return sum, err
		}
		d.Number, d.Users, d.Articles = day, users, articles
		commit, tally, err := sim.SimulateDay(ctx, d, useCache)
		if err != nil {
			return sum, err
		}
		if err := s.store.CommitDay(ctx, commit); err != nil {
			return sum, fmt.Errorf("commit day %d: %w", day, err)
		}
		sim.Remember(commit)
		g.NextDay = day + 1
		sum.Tally.Add(tally)
	}
	sum.NextDay = g.NextDay
	sum.ScoreMean = sum.Tally.ScoreMean()
	sum.ScoreStd = sum.Tally.ScoreStd()

	s.log.Info("traffic generated",
		"run_id", sum.RunID,
		"game_id", gameID,
		"start_day", sum.StartDay,
		"end_day", end,
		"cached", useCache,
		"sessions", sum.Sessions,
		"clicks", sum.Clicks,
		"paywalls", sum.Paywalls,
		"conversions", sum.Conversions,
		"score_mean", sum.ScoreMean,
		"score_std", sum.ScoreStd,
		"elapsed", time.Since(started).String(),
	)
	return sum, nil
}

// GenerateRV draws from the stream of a game (TeamID zero) or one of its
// teams and persists the advanced state.
func (s *Service) GenerateRV(ctx context.Context, req RVRequest) (randstate.Variates, error) {
	unlock := s.lock(req.GameID)
	defer unlock()

	if req.TeamID == 0 {
		g, err := s.store.GetGame(ctx, req.GameID)
		if err != nil {
			return randstate.Variates{}, err
		}
		v, err := g.Generate(req.Kind, req.N, req.Params)
		if err != nil {
			return randstate.Variates{}, err
		}
		if err := s.store.SaveGameState(ctx, g.ID, g.RandomState); err != nil {
			return randstate.Variates{}, fmt.Errorf("save game state: %w", err)
		}
		return v, nil
	}

	teams, err := s.store.ListTeams(ctx, req.GameID)
	if err != nil {
		return randstate.Variates{}, err
	}
	for _, team := range teams {
		if team.ID != req.TeamID {
			continue
		}
		v, err := team.Generate(req.Kind, req.N, req.Params)
		if err != nil {
			return randstate.Variates{}, err
		}
		if err := s.store.SaveTeamState(ctx, req.GameID, team.ID, team.RandomState); err != nil {
			return randstate.Variates{}, fmt.Errorf("save team state: %w", err)
		}
		return v, nil
	}
	return randstate.Variates{}, fmt.Errorf("%w: team %d in game %d", simerr.ErrNotFound, req.TeamID, req.GameID)
}
