package store

import (
	"fmt"

	"mediasim/internal/model"
)

// tableRows is one table's worth of world rows, in insert order.
type tableRows struct {
	name    string
	columns []string
	rows    [][]any
}

// worldRows flattens a stamped world into rows for the SQL stores. Parents
// come before children.
func worldRows(w *model.World) ([]tableRows, error) {
	teams := tableRows{name: "teams", columns: []string{"game_id", "id", "name", "seed", "random_state"}}
	strategies := tableRows{name: "strategies", columns: []string{"game_id", "id", "team_id", "cost", "ads", "free_pvs"}}
	for _, t := range w.Teams {
		teams.rows = append(teams.rows, []any{t.GameID, t.ID, t.Name, t.Seed, t.RandomState})
		for _, s := range t.Strategies {
			strategies.rows = append(strategies.rows, []any{s.GameID, s.ID, t.ID, s.Cost, s.Ads, s.FreePVs})
		}
	}

	topics := tableRows{name: "topics", columns: []string{"game_id", "id", "name", "freq"}}
	for _, t := range w.Topics {
		topics.rows = append(topics.rows, []any{t.GameID, t.ID, t.Name, t.Freq})
	}

	authors := tableRows{name: "authors", columns: []string{"game_id", "id", "name", "quality", "productivity", "expertise"}}
	for _, a := range w.Authors {
		expertise, err := encodeJSON(a.Expertise)
		if err != nil {
			return nil, fmt.Errorf("author %d expertise: %w", a.ID, err)
		}
		authors.rows = append(authors.rows, []any{a.GameID, a.ID, a.Name, a.Quality, a.Productivity, expertise})
	}

	events := tableRows{name: "events", columns: []string{"game_id", "id", "start_day", "end_day", "intensity", "relevance"}}
	for _, e := range w.Events {
		relevance, err := encodeJSON(e.Relevance)
		if err != nil {
			return nil, fmt.Errorf("event %d relevance: %w", e.ID, err)
		}
		events.rows = append(events.rows, []any{e.GameID, e.ID, e.Start, e.End, e.Intensity, relevance})
	}

	articles := tableRows{name: "articles", columns: []string{"game_id", "id", "topic_id", "author_id", "event_id", "day", "word_count", "vocab"}}
	for _, a := range w.Articles {
		articles.rows = append(articles.rows, []any{a.GameID, a.ID, a.TopicID, a.AuthorID, a.EventID, a.Day, a.WordCount, a.Vocab})
	}

	users := tableRows{name: "users", columns: []string{
		"game_id", "id", "ip", "agent", "freq", "first_day", "lifetime", "ad_sensitivity",
		"age", "income", "media_consumption", "interests", "favorite_authors",
	}}
	for _, u := range w.Users {
		interests, err := encodeJSON(u.Interests)
		if err != nil {
			return nil, fmt.Errorf("user %d interests: %w", u.ID, err)
		}
		favorites := u.FavoriteAuthors
		if favorites == nil {
			favorites = []int64{}
		}
		favs, err := encodeJSON(favorites)
		if err != nil {
			return nil, fmt.Errorf("user %d favourites: %w", u.ID, err)
		}
		users.rows = append(users.rows, []any{
			u.GameID, u.ID, u.IP, u.Agent, u.Freq, u.FirstDay, u.Lifetime, u.AdSensitivity,
			u.Age, u.Income, u.MediaConsumption, interests, favs,
		})
	}

	return []tableRows{teams, strategies, topics, authors, events, articles, users}, nil
}

// attachStrategy appends st to its team in teams.
func attachStrategy(teams []model.Team, st model.Strategy) {
	for i := range teams {
		if teams[i].ID == st.TeamID {
			teams[i].Strategies = append(teams[i].Strategies, st)
			return
		}
	}
}
