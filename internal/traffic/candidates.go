package traffic

import (
	"context"
	"fmt"

	"mediasim/internal/model"
	"mediasim/internal/store"
	"mediasim/internal/world"
)

// Catalog is the part of the store a day's inputs are read from.
type Catalog interface {
	FilterEvents(ctx context.Context, f store.EventFilter) ([]model.Event, error)
	FilterArticles(ctx context.Context, f store.ArticleFilter) ([]model.Article, error)
	FilterUsers(ctx context.Context, f store.UserFilter) ([]model.User, error)
}

// Candidates returns the users active on day and the articles they may be
// offered: everything published between the longtail bound and day.
func Candidates(ctx context.Context, c Catalog, gameID int64, day int) ([]model.User, []model.Article, error) {
	live, err := c.FilterEvents(ctx, store.EventFilter{GameID: gameID, LiveOn: store.On(day)})
	if err != nil {
		return nil, nil, fmt.Errorf("load live events: %w", err)
	}
	users, err := c.FilterUsers(ctx, store.UserFilter{GameID: gameID, ActiveOn: store.On(day)})
	if err != nil {
		return nil, nil, fmt.Errorf("load active users: %w", err)
	}
	articles, err := c.FilterArticles(ctx, store.ArticleFilter{
		GameID: gameID,
		Days:   store.Days(world.Longtail(live, day), day),
	})
	if err != nil {
		return nil, nil, fmt.Errorf("load articles: %w", err)
	}
	return users, articles, nil
}

// Subscribers indexes the strategies active on day.
func Subscribers(strategies []model.UserStrategy, day int) map[Subscriber]bool {
	out := make(map[Subscriber]bool, len(strategies))
	for _, us := range strategies {
		if us.StartDay <= day && (us.EndDay == nil || day <= *us.EndDay) {
			out[Subscriber{TeamID: us.TeamID, UserID: us.UserID}] = true
		}
	}
	return out
}

// AuthorIndex keys authors by id.
func AuthorIndex(authors []model.Author) map[int64]model.Author {
	out := make(map[int64]model.Author, len(authors))
	for _, a := range authors {
		out[a.ID] = a
	}
	return out
}
