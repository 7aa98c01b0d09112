// Package store persists games, their worlds and their traffic. Three
// implementations share one contract: Memory for tests and throwaway runs,
// SQLite for local files and Postgres for shared deployments.
package store

import (
	"context"
	"fmt"

	"mediasim/internal/model"
	"mediasim/internal/simerr"
)

// DayRange is an inclusive range of days. From > To matches nothing.
type DayRange struct {
	From int
	To   int
}

func (r *DayRange) contains(day int) bool {
	return r == nil || (r.From <= day && day <= r.To)
}

// Days returns the inclusive range [from, to].
func Days(from, to int) *DayRange { return &DayRange{From: from, To: to} }

// On returns a pointer to day, for the single-day filters.
func On(day int) *int { return &day }

type EventFilter struct {
	GameID int64
	// LiveOn keeps events with Start <= day <= End.
	LiveOn *int
}

type ArticleFilter struct {
	GameID int64
	Days   *DayRange
}

type UserFilter struct {
	GameID int64
	// ActiveOn keeps users with FirstDay <= day < FirstDay+Lifetime.
	ActiveOn *int
}

// PageviewFilter narrows pageviews of one game. Zero TeamID or UserID match
// any; a nil Days matches every day. Limit <= 0 means no limit.
type PageviewFilter struct {
	GameID int64
	TeamID int64
	UserID int64
	Days   *DayRange
	Limit  int
}

func (f PageviewFilter) matches(pv model.Pageview) bool {
	return pv.GameID == f.GameID &&
		(f.TeamID == 0 || pv.TeamID == f.TeamID) &&
		(f.UserID == 0 || pv.UserID == f.UserID) &&
		f.Days.contains(pv.Day)
}

// Store is the storage collaborator of the simulation. Every list comes back
// ordered by id; pageviews by day, then id.
type Store interface {
	// CreateGame inserts g and its world in one transaction, assigns g.ID and
	// stamps the game id on every world entity.
	CreateGame(ctx context.Context, g *model.Game, w *model.World) error
	GetGame(ctx context.Context, id int64) (model.Game, error)
	ListGames(ctx context.Context) ([]model.Game, error)

	ListTeams(ctx context.Context, gameID int64) ([]model.Team, error)
	ListTopics(ctx context.Context, gameID int64) ([]model.Topic, error)
	ListAuthors(ctx context.Context, gameID int64) ([]model.Author, error)
	FilterEvents(ctx context.Context, f EventFilter) ([]model.Event, error)
	FilterArticles(ctx context.Context, f ArticleFilter) ([]model.Article, error)
	FilterUsers(ctx context.Context, f UserFilter) ([]model.User, error)

	FilterPageviews(ctx context.Context, f PageviewFilter) ([]model.Pageview, error)
	CountPageviews(ctx context.Context, f PageviewFilter) (int, error)
	ListUserStrategies(ctx context.Context, gameID int64) ([]model.UserStrategy, error)

	// CommitDay durably writes one simulated day and advances the game's
	// NextDay past it. A commit for any day other than NextDay fails with
	// simerr.ErrConflict and writes nothing.
	CommitDay(ctx context.Context, c model.DayCommit) error

	SaveGameState(ctx context.Context, gameID int64, state string) error
	SaveTeamState(ctx context.Context, gameID, teamID int64, state string) error

	Close() error
}

func gameNotFound(id int64) error {
	return fmt.Errorf("%w: game %d", simerr.ErrNotFound, id)
}

func teamNotFound(gameID, teamID int64) error {
	return fmt.Errorf("%w: team %d in game %d", simerr.ErrNotFound, teamID, gameID)
}

func dayConflict(gameID int64, day, next int) error {
	return fmt.Errorf("%w: game %d expects day %d, got %d", simerr.ErrConflict, gameID, next, day)
}

// stamp sets the game id on every entity of w.
func stamp(gameID int64, w *model.World) {
	for i := range w.Teams {
		w.Teams[i].GameID = gameID
		for j := range w.Teams[i].Strategies {
			w.Teams[i].Strategies[j].GameID = gameID
		}
	}
	for i := range w.Topics {
		w.Topics[i].GameID = gameID
	}
	for i := range w.Authors {
		w.Authors[i].GameID = gameID
	}
	for i := range w.Events {
		w.Events[i].GameID = gameID
	}
	for i := range w.Articles {
		w.Articles[i].GameID = gameID
	}
	for i := range w.Users {
		w.Users[i].GameID = gameID
	}
}
