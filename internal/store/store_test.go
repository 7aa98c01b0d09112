package store

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"mediasim/internal/db"
	"mediasim/internal/model"
	"mediasim/internal/simerr"
	"mediasim/internal/world"
)

func openers(t *testing.T) map[string]func(t *testing.T) Store {
	t.Helper()
	out := map[string]func(t *testing.T) Store{
		"memory": func(t *testing.T) Store { return NewMemory() },
		"sqlite": func(t *testing.T) Store {
			ctx := context.Background()
			handle, err := db.OpenSQLite(ctx, filepath.Join(t.TempDir(), "game.db"))
			if err != nil {
				t.Fatalf("open sqlite: %v", err)
			}
			s, err := NewSQLite(ctx, handle)
			if err != nil {
				t.Fatalf("new sqlite store: %v", err)
			}
			t.Cleanup(func() { s.Close() })
			return s
		},
	}
	if url := os.Getenv("MEDIASIM_TEST_DATABASE_URL"); url != "" {
		out["postgres"] = func(t *testing.T) Store {
			ctx := context.Background()
			pool, err := db.Connect(ctx, url, db.PoolOptions{MaxConns: 4})
			if err != nil {
				t.Fatalf("connect postgres: %v", err)
			}
			s, err := NewPostgres(ctx, pool)
			if err != nil {
				t.Fatalf("new postgres store: %v", err)
			}
			t.Cleanup(func() { s.Close() })
			return s
		}
	}
	return out
}

func seedWorld(t *testing.T, s Store) (*model.Game, *model.World) {
	t.Helper()
	p := model.DefaultGameParams()
	p.NDays = 30
	p.NDaysPeriod0 = 10
	p.NAuthors = 6
	p.NUsers = 25
	g := p.NewGame()
	w, err := world.Generate(g, p)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if err := s.CreateGame(context.Background(), g, w); err != nil {
		t.Fatalf("create game: %v", err)
	}
	return g, w
}

func TestWorldRoundTrip(t *testing.T) {
	for name, open := range openers(t) {
		t.Run(name, func(t *testing.T) {
			s := open(t)
			ctx := context.Background()
			g, w := seedWorld(t, s)
			if g.ID == 0 {
				t.Fatalf("game id not assigned")
			}
			for _, a := range w.Articles {
				if a.GameID != g.ID {
					t.Fatalf("article %d not stamped with game id", a.ID)
				}
			}

			got, err := s.GetGame(ctx, g.ID)
			if err != nil {
				t.Fatalf("get game: %v", err)
			}
			if !reflect.DeepEqual(got, *g) {
				t.Fatalf("game round trip:\n got %+v\nwant %+v", got, *g)
			}
			games, err := s.ListGames(ctx)
			if err != nil || len(games) == 0 || games[len(games)-1].ID != g.ID {
				t.Fatalf("list games = %v, %v", games, err)
			}

			teams, err := s.ListTeams(ctx, g.ID)
			if err != nil {
				t.Fatalf("teams: %v", err)
			}
			if !reflect.DeepEqual(teams, w.Teams) {
				t.Fatalf("teams round trip:\n got %+v\nwant %+v", teams, w.Teams)
			}
			topics, err := s.ListTopics(ctx, g.ID)
			if err != nil || !reflect.DeepEqual(topics, w.Topics) {
				t.Fatalf("topics round trip: %v", err)
			}
			authors, err := s.ListAuthors(ctx, g.ID)
			if err != nil || !reflect.DeepEqual(authors, w.Authors) {
				t.Fatalf("authors round trip: %v", err)
			}
			events, err := s.FilterEvents(ctx, EventFilter{GameID: g.ID})
			if err != nil || !reflect.DeepEqual(events, w.Events) {
				t.Fatalf("events round trip: %v", err)
			}
			articles, err := s.FilterArticles(ctx, ArticleFilter{GameID: g.ID})
			if err != nil || !reflect.DeepEqual(articles, w.Articles) {
				t.Fatalf("articles round trip: %v", err)
			}
			users, err := s.FilterUsers(ctx, UserFilter{GameID: g.ID})
			if err != nil || !reflect.DeepEqual(users, w.Users) {
				t.Fatalf("users round trip: %v", err)
			}
		})
	}
}

func TestFilters(t *testing.T) {
	for name, open := range openers(t) {
		t.Run(name, func(t *testing.T) {
			s := open(t)
			ctx := context.Background()
			g, w := seedWorld(t, s)
			for _, day := range []int{0, 7, 29} {
				live, err := s.FilterEvents(ctx, EventFilter{GameID: g.ID, LiveOn: On(day)})
				if err != nil {
					t.Fatalf("events: %v", err)
				}
				if want := world.LiveEvents(w.Events, day); !reflect.DeepEqual(live, want) {
					t.Fatalf("day %d: %d live events, want %d", day, len(live), len(want))
				}

				users, err := s.FilterUsers(ctx, UserFilter{GameID: g.ID, ActiveOn: On(day)})
				if err != nil {
					t.Fatalf("users: %v", err)
				}
				var active []model.User
				for _, u := range w.Users {
					if u.ActiveOn(day) {
						active = append(active, u)
					}
				}
				if !reflect.DeepEqual(users, active) {
					t.Fatalf("day %d: %d active users, want %d", day, len(users), len(active))
				}
			}

			articles, err := s.FilterArticles(ctx, ArticleFilter{GameID: g.ID, Days: Days(5, 9)})
			if err != nil {
				t.Fatalf("articles: %v", err)
			}
			for _, a := range articles {
				if a.Day < 5 || a.Day > 9 {
					t.Fatalf("article %d on day %d outside [5,9]", a.ID, a.Day)
				}
			}
			empty, err := s.FilterArticles(ctx, ArticleFilter{GameID: g.ID, Days: Days(3, 2)})
			if err != nil || len(empty) != 0 {
				t.Fatalf("inverted range returned %d articles, %v", len(empty), err)
			}
		})
	}
}

func TestCommitDay(t *testing.T) {
	for name, open := range openers(t) {
		t.Run(name, func(t *testing.T) {
			s := open(t)
			ctx := context.Background()
			g, _ := seedWorld(t, s)

			day0 := model.DayCommit{
				GameID:     g.ID,
				Day:        0,
				GameState:  "game-after-0",
				TeamStates: map[int64]string{1: "austin-after-0", 2: "drew-after-0"},
				Pageviews: []model.Pageview{
					{TeamID: 1, UserID: 3, ArticleID: 1, Day: 0, Duration: 1.5, AdsSeen: 4},
					{TeamID: 1, UserID: 3, ArticleID: 2, Day: 0, Duration: 2.5, AdsSeen: 4, SawPaywall: true, Converted: true},
					{TeamID: 2, UserID: 4, ArticleID: 1, Day: 0, Duration: 0.5, AdsSeen: 4},
				},
				Conversions: []model.UserStrategy{{GameID: g.ID, TeamID: 1, UserID: 3, StrategyID: 1, StartDay: 0}},
			}
			if err := s.CommitDay(ctx, model.DayCommit{GameID: g.ID, Day: 1}); !errors.Is(err, simerr.ErrConflict) {
				t.Fatalf("out of order commit: err = %v, want conflict", err)
			}
			if err := s.CommitDay(ctx, day0); err != nil {
				t.Fatalf("commit day 0: %v", err)
			}
			if err := s.CommitDay(ctx, day0); !errors.Is(err, simerr.ErrConflict) {
				t.Fatalf("repeat commit: err = %v, want conflict", err)
			}

			got, err := s.GetGame(ctx, g.ID)
			if err != nil {
				t.Fatalf("get game: %v", err)
			}
			if got.NextDay != 1 || got.RandomState != "game-after-0" {
				t.Fatalf("game after commit: next=%d state=%q", got.NextDay, got.RandomState)
			}
			teams, err := s.ListTeams(ctx, g.ID)
			if err != nil {
				t.Fatalf("teams: %v", err)
			}
			if teams[0].RandomState != "austin-after-0" || teams[1].RandomState != "drew-after-0" {
				t.Fatalf("team states not saved: %+v", teams)
			}

			pvs, err := s.FilterPageviews(ctx, PageviewFilter{GameID: g.ID})
			if err != nil {
				t.Fatalf("pageviews: %v", err)
			}
			if len(pvs) != 3 {
				t.Fatalf("pageviews = %d, want 3", len(pvs))
			}
			for i, pv := range pvs {
				want := day0.Pageviews[i]
				want.ID = int64(i + 1)
				want.GameID = g.ID
				if !reflect.DeepEqual(pv, want) {
					t.Fatalf("pageview %d:\n got %+v\nwant %+v", i, pv, want)
				}
			}

			counts := []struct {
				name string
				f    PageviewFilter
				want int
			}{
				{name: "all", f: PageviewFilter{GameID: g.ID}, want: 3},
				{name: "team", f: PageviewFilter{GameID: g.ID, TeamID: 1}, want: 2},
				{name: "reader", f: PageviewFilter{GameID: g.ID, TeamID: 2, UserID: 4}, want: 1},
				{name: "window before day", f: PageviewFilter{GameID: g.ID, Days: Days(-30, -1)}, want: 0},
				{name: "window on day", f: PageviewFilter{GameID: g.ID, Days: Days(0, 0)}, want: 3},
			}
			for _, tt := range counts {
				n, err := s.CountPageviews(ctx, tt.f)
				if err != nil || n != tt.want {
					t.Fatalf("%s: count = %d, %v; want %d", tt.name, n, err, tt.want)
				}
			}
			limited, err := s.FilterPageviews(ctx, PageviewFilter{GameID: g.ID, Limit: 2})
			if err != nil || len(limited) != 2 {
				t.Fatalf("limit: %d, %v", len(limited), err)
			}

			strategies, err := s.ListUserStrategies(ctx, g.ID)
			if err != nil {
				t.Fatalf("strategies: %v", err)
			}
			if len(strategies) != 1 || strategies[0].UserID != 3 || strategies[0].EndDay != nil {
				t.Fatalf("strategies = %+v", strategies)
			}

			dup := model.DayCommit{
				GameID:      g.ID,
				Day:         1,
				Pageviews:   []model.Pageview{{TeamID: 1, UserID: 3, ArticleID: 5, Day: 1}},
				Conversions: []model.UserStrategy{{GameID: g.ID, TeamID: 1, UserID: 3, StartDay: 1}},
			}
			if err := s.CommitDay(ctx, dup); !errors.Is(err, simerr.ErrConflict) {
				t.Fatalf("duplicate subscription: err = %v, want conflict", err)
			}
			if n, _ := s.CountPageviews(ctx, PageviewFilter{GameID: g.ID}); n != 3 {
				t.Fatalf("failed commit left %d pageviews", n)
			}
			if got, _ := s.GetGame(ctx, g.ID); got.NextDay != 1 {
				t.Fatalf("failed commit advanced the game to %d", got.NextDay)
			}
		})
	}
}

func TestRandomStateUpdates(t *testing.T) {
	for name, open := range openers(t) {
		t.Run(name, func(t *testing.T) {
			s := open(t)
			ctx := context.Background()
			g, _ := seedWorld(t, s)
			if err := s.SaveGameState(ctx, g.ID, "advanced"); err != nil {
				t.Fatalf("save game state: %v", err)
			}
			if got, _ := s.GetGame(ctx, g.ID); got.RandomState != "advanced" {
				t.Fatalf("game state = %q", got.RandomState)
			}
			if err := s.SaveTeamState(ctx, g.ID, 2, "drew-advanced"); err != nil {
				t.Fatalf("save team state: %v", err)
			}
			teams, _ := s.ListTeams(ctx, g.ID)
			if teams[1].RandomState != "drew-advanced" {
				t.Fatalf("team state = %q", teams[1].RandomState)
			}
			if err := s.SaveTeamState(ctx, g.ID, 99, "x"); !errors.Is(err, simerr.ErrNotFound) {
				t.Fatalf("missing team: err = %v", err)
			}
		})
	}
}

func TestMissingGame(t *testing.T) {
	for name, open := range openers(t) {
		t.Run(name, func(t *testing.T) {
			s := open(t)
			ctx := context.Background()
			const missing = 424242
			checks := map[string]error{}
			_, checks["get"] = s.GetGame(ctx, missing)
			_, checks["teams"] = s.ListTeams(ctx, missing)
			_, checks["users"] = s.FilterUsers(ctx, UserFilter{GameID: missing})
			_, checks["pageviews"] = s.FilterPageviews(ctx, PageviewFilter{GameID: missing})
			checks["commit"] = s.CommitDay(ctx, model.DayCommit{GameID: missing})
			checks["state"] = s.SaveGameState(ctx, missing, "x")
			for op, err := range checks {
				if !errors.Is(err, simerr.ErrNotFound) {
					t.Fatalf("%s: err = %v, want not found", op, err)
				}
			}
		})
	}
}
