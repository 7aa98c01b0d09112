package store

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"mediasim/internal/model"
	"mediasim/internal/simerr"
)

// Memory keeps everything in process. Slices handed out are copies; the
// per-topic maps inside authors, events and users are shared and must be
// treated as read-only.
type Memory struct {
	mu     sync.RWMutex
	nextID int64
	games  map[int64]*memGame
}

type memGame struct {
	game       model.Game
	world      model.World
	pageviews  []model.Pageview
	strategies []model.UserStrategy
}

func NewMemory() *Memory {
	return &Memory{games: map[int64]*memGame{}}
}

func (m *Memory) CreateGame(_ context.Context, g *model.Game, w *model.World) error {
	if g == nil || w == nil {
		return fmt.Errorf("%w: game and world are required", simerr.ErrInvalidArgument)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	g.ID = m.nextID
	stamp(g.ID, w)
	m.games[g.ID] = &memGame{game: *g, world: cloneWorld(*w)}
	return nil
}

func (m *Memory) GetGame(_ context.Context, id int64) (model.Game, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	mg, ok := m.games[id]
	if !ok {
		return model.Game{}, gameNotFound(id)
	}
	return mg.game, nil
}

func (m *Memory) ListGames(_ context.Context) ([]model.Game, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]model.Game, 0, len(m.games))
	for _, mg := range m.games {
		out = append(out, mg.game)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *Memory) ListTeams(_ context.Context, gameID int64) ([]model.Team, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	mg, ok := m.games[gameID]
	if !ok {
		return nil, gameNotFound(gameID)
	}
	return cloneTeams(mg.world.Teams), nil
}

func (m *Memory) ListTopics(_ context.Context, gameID int64) ([]model.Topic, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	mg, ok := m.games[gameID]
	if !ok {
		return nil, gameNotFound(gameID)
	}
	return append([]model.Topic(nil), mg.world.Topics...), nil
}

func (m *Memory) ListAuthors(_ context.Context, gameID int64) ([]model.Author, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	mg, ok := m.games[gameID]
	if !ok {
		return nil, gameNotFound(gameID)
	}
	return append([]model.Author(nil), mg.world.Authors...), nil
}

func (m *Memory) FilterEvents(_ context.Context, f EventFilter) ([]model.Event, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	mg, ok := m.games[f.GameID]
	if !ok {
		return nil, gameNotFound(f.GameID)
	}
	var out []model.Event
	for _, e := range mg.world.Events {
		if f.LiveOn == nil || e.LiveOn(*f.LiveOn) {
			out = append(out, e)
		}
	}
	return out, nil
}

func (m *Memory) FilterArticles(_ context.Context, f ArticleFilter) ([]model.Article, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	mg, ok := m.games[f.GameID]
	if !ok {
		return nil, gameNotFound(f.GameID)
	}
	var out []model.Article
	for _, a := range mg.world.Articles {
		if f.Days.contains(a.Day) {
			out = append(out, a)
		}
	}
	return out, nil
}

func (m *Memory) FilterUsers(_ context.Context, f UserFilter) ([]model.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	mg, ok := m.games[f.GameID]
	if !ok {
		return nil, gameNotFound(f.GameID)
	}
	var out []model.User
	for _, u := range mg.world.Users {
		if f.ActiveOn == nil || u.ActiveOn(*f.ActiveOn) {
			out = append(out, u)
		}
	}
	return out, nil
}

func (m *Memory) FilterPageviews(_ context.Context, f PageviewFilter) ([]model.Pageview, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	mg, ok := m.games[f.GameID]
	if !ok {
		return nil, gameNotFound(f.GameID)
	}
	var out []model.Pageview
	for _, pv := range mg.pageviews {
		if !f.matches(pv) {
			continue
		}
		out = append(out, pv)
		if f.Limit > 0 && len(out) == f.Limit {
			break
		}
	}
	return out, nil
}

func (m *Memory) CountPageviews(_ context.Context, f PageviewFilter) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	mg, ok := m.games[f.GameID]
	if !ok {
		return 0, gameNotFound(f.GameID)
	}
	n := 0
	for _, pv := range mg.pageviews {
		if f.matches(pv) {
			n++
		}
	}
	return n, nil
}

func (m *Memory) ListUserStrategies(_ context.Context, gameID int64) ([]model.UserStrategy, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	mg, ok := m.games[gameID]
	if !ok {
		return nil, gameNotFound(gameID)
	}
	return append([]model.UserStrategy(nil), mg.strategies...), nil
}

func (m *Memory) CommitDay(_ context.Context, c model.DayCommit) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	mg, ok := m.games[c.GameID]
	if !ok {
		return gameNotFound(c.GameID)
	}
	if c.Day != mg.game.NextDay {
		return dayConflict(c.GameID, c.Day, mg.game.NextDay)
	}
	teams := map[int64]int{}
	for i, t := range mg.world.Teams {
		teams[t.ID] = i
	}
	for teamID := range c.TeamStates {
		if _, ok := teams[teamID]; !ok {
			return teamNotFound(c.GameID, teamID)
		}
	}
	subscribed := map[[2]int64]bool{}
	for _, us := range mg.strategies {
		subscribed[[2]int64{us.TeamID, us.UserID}] = true
	}
	for _, us := range c.Conversions {
		key := [2]int64{us.TeamID, us.UserID}
		if subscribed[key] {
			return fmt.Errorf("%w: user %d already subscribed to team %d", simerr.ErrConflict, us.UserID, us.TeamID)
		}
		subscribed[key] = true
	}

	next := int64(len(mg.pageviews))
	for _, pv := range c.Pageviews {
		next++
		pv.ID = next
		pv.GameID = c.GameID
		mg.pageviews = append(mg.pageviews, pv)
	}
	mg.strategies = append(mg.strategies, c.Conversions...)
	for teamID, state := range c.TeamStates {
		mg.world.Teams[teams[teamID]].RandomState = state
	}
	if c.GameState != "" {
		mg.game.RandomState = c.GameState
	}
	mg.game.NextDay = c.Day + 1
	return nil
}

func (m *Memory) SaveGameState(_ context.Context, gameID int64, state string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	mg, ok := m.games[gameID]
	if !ok {
		return gameNotFound(gameID)
	}
	mg.game.RandomState = state
	return nil
}

func (m *Memory) SaveTeamState(_ context.Context, gameID, teamID int64, state string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	mg, ok := m.games[gameID]
	if !ok {
		return gameNotFound(gameID)
	}
	for i := range mg.world.Teams {
		if mg.world.Teams[i].ID == teamID {
			mg.world.Teams[i].RandomState = state
			return nil
		}
	}
	return teamNotFound(gameID, teamID)
}

func (m *Memory) Close() error { return nil }

func cloneTeams(in []model.Team) []model.Team {
	out := make([]model.Team, len(in))
	for i, t := range in {
		t.Strategies = append([]model.Strategy(nil), t.Strategies...)
		out[i] = t
	}
	return out
}

func cloneWorld(w model.World) model.World {
	users := make([]model.User, len(w.Users))
	for i, u := range w.Users {
		u.FavoriteAuthors = append([]int64(nil), u.FavoriteAuthors...)
		users[i] = u
	}
	return model.World{
		Teams:    cloneTeams(w.Teams),
		Topics:   append([]model.Topic(nil), w.Topics...),
		Authors:  append([]model.Author(nil), w.Authors...),
		Events:   append([]model.Event(nil), w.Events...),
		Articles: append([]model.Article(nil), w.Articles...),
		Users:    users,
	}
}
