package traffic

import (
	"context"
	"errors"
	"math"
	"reflect"
	"testing"

	"mediasim/internal/model"
	"mediasim/internal/randstate"
	"mediasim/internal/simerr"
	"mediasim/internal/store"
	"mediasim/internal/world"
)

// fixture is a one-topic world with a single star author whose articles every
// reader wants, so every candidate is clicked.
func fixture(t *testing.T, freePVs int, rate float64, articlesPerDay, days int) (*store.Memory, *model.Game) {
	t.Helper()
	game := &model.Game{
		Name:           "paywall",
		Stream:         randstate.Stream{Seed: 5},
		NDays:          days,
		NAuthors:       1,
		NUsers:         1,
		EventsPerDay:   1,
		ConversionRate: rate,
	}
	w := &model.World{
		Teams: []model.Team{{
			ID:         1,
			Name:       "austin",
			Stream:     randstate.Stream{Seed: 9},
			Strategies: []model.Strategy{{ID: 1, TeamID: 1, Cost: 5, Ads: 2, FreePVs: freePVs}},
		}},
		Topics:  []model.Topic{{ID: 1, Name: "Only", Freq: 1}},
		Authors: []model.Author{{ID: 1, Name: "Star", Quality: 10, Productivity: 1, Expertise: map[int64]float64{1: 1}}},
		Events:  []model.Event{{ID: 1, Start: 0, End: days - 1, Intensity: 1, Relevance: map[int64]float64{1: 1}}},
		Users: []model.User{{
			ID:              1,
			Lifetime:        days,
			Interests:       map[int64]float64{1: 1},
			FavoriteAuthors: []int64{1},
		}},
	}
	var id int64
	for day := 0; day < days; day++ {
		for i := 0; i < articlesPerDay; i++ {
			id++
			w.Articles = append(w.Articles, model.Article{ID: id, TopicID: 1, AuthorID: 1, EventID: 1, Day: day, WordCount: 460, Vocab: 0.5})
		}
	}
	mem := store.NewMemory()
	if err := mem.CreateGame(context.Background(), game, w); err != nil {
		t.Fatalf("create game: %v", err)
	}
	return mem, game
}

// runDays simulates [from, to) against mem, committing each day.
func runDays(t *testing.T, mem *store.Memory, sim *Simulator, gameID int64, from, to int, useCache bool) Tally {
	t.Helper()
	ctx := context.Background()
	game, err := mem.GetGame(ctx, gameID)
	if err != nil {
		t.Fatalf("get game: %v", err)
	}
	teams, err := mem.ListTeams(ctx, gameID)
	if err != nil {
		t.Fatalf("list teams: %v", err)
	}
	authors, err := mem.ListAuthors(ctx, gameID)
	if err != nil {
		t.Fatalf("list authors: %v", err)
	}
	strategies, err := mem.ListUserStrategies(ctx, gameID)
	if err != nil {
		t.Fatalf("list strategies: %v", err)
	}
	subs := Subscribers(strategies, from)
	var total Tally
	for day := from; day < to; day++ {
		users, articles, err := Candidates(ctx, mem, gameID, day)
		if err != nil {
			t.Fatalf("candidates: %v", err)
		}
		d := &Day{
			Number:      day,
			Game:        &game,
			Teams:       teams,
			Users:       users,
			Articles:    articles,
			Authors:     AuthorIndex(authors),
			Subscribers: subs,
		}
		commit, tally, err := sim.SimulateDay(ctx, d, useCache)
		if err != nil {
			t.Fatalf("simulate day %d: %v", day, err)
		}
		if err := mem.CommitDay(ctx, commit); err != nil {
			t.Fatalf("commit day %d: %v", day, err)
		}
		sim.Remember(commit)
		total.Add(tally)
	}
	return total
}

func allPageviews(t *testing.T, mem *store.Memory, gameID int64) []model.Pageview {
	t.Helper()
	pvs, err := mem.FilterPageviews(context.Background(), store.PageviewFilter{GameID: gameID})
	if err != nil {
		t.Fatalf("pageviews: %v", err)
	}
	return pvs
}

func TestPaywallAfterFreeViews(t *testing.T) {
	mem, game := fixture(t, 2, 1, 5, 2)
	sim := NewSimulator(mem, nil, nil, nil)
	tally := runDays(t, mem, sim, game.ID, 0, 1, false)

	pvs := allPageviews(t, mem, game.ID)
	if len(pvs) != 5 {
		t.Fatalf("pageviews = %d, want every article clicked", len(pvs))
	}
	for i, pv := range pvs {
		wantPaywall := i == 2
		if pv.SawPaywall != wantPaywall || pv.Converted != wantPaywall {
			t.Fatalf("pageview %d: paywall=%v converted=%v", i, pv.SawPaywall, pv.Converted)
		}
		if pv.AdsSeen != 2 {
			t.Fatalf("pageview %d ads = %d", i, pv.AdsSeen)
		}
	}
	strategies, err := mem.ListUserStrategies(context.Background(), game.ID)
	if err != nil {
		t.Fatalf("list strategies: %v", err)
	}
	if len(strategies) != 1 || strategies[0].StartDay != 0 || strategies[0].StrategyID != 1 {
		t.Fatalf("user strategies = %+v", strategies)
	}
	if tally.Conversions != 1 || tally.Paywalls != 1 {
		t.Fatalf("tally = %+v", tally)
	}

	runDays(t, mem, sim, game.ID, 1, 2, false)
	for _, pv := range allPageviews(t, mem, game.ID) {
		if pv.Day == 1 && pv.SawPaywall {
			t.Fatalf("subscriber hit the paywall again: %+v", pv)
		}
	}
}

func TestPaywallCountsAcrossDays(t *testing.T) {
	mem, game := fixture(t, 3, 0, 2, 3)
	sim := NewSimulator(mem, nil, nil, nil)
	runDays(t, mem, sim, game.ID, 0, 3, false)

	var walls []bool
	for _, pv := range allPageviews(t, mem, game.ID) {
		walls = append(walls, pv.SawPaywall)
		if pv.Converted {
			t.Fatalf("conversion with zero conversion rate")
		}
	}
	want := []bool{false, false, false, true, true, true}
	if !reflect.DeepEqual(walls, want) {
		t.Fatalf("paywalls = %v, want %v", walls, want)
	}
}

func TestDefaultStrategyWhenNoneConfigured(t *testing.T) {
	team := model.Team{ID: 3, GameID: 7}
	s := FirstStrategy{}.Resolve(team, model.User{}, model.Article{}, 0)
	if s.FreePVs != model.DefaultStrategy.FreePVs || s.TeamID != 3 || s.GameID != 7 {
		t.Fatalf("resolved %+v", s)
	}
	custom := StrategyFunc(func(model.Team, model.User, model.Article, int) model.Strategy {
		return model.Strategy{FreePVs: 99}
	})
	if custom.Resolve(team, model.User{}, model.Article{}, 0).FreePVs != 99 {
		t.Fatalf("custom resolver ignored")
	}
}

func generated(t *testing.T) (*store.Memory, *model.Game) {
	t.Helper()
	p := model.DefaultGameParams()
	p.NDays = 40
	p.NDaysPeriod0 = 20
	p.NAuthors = 10
	p.NUsers = 60
	game := p.NewGame()
	w, err := world.Generate(game, p)
	if err != nil {
		t.Fatalf("generate world: %v", err)
	}
	mem := store.NewMemory()
	if err := mem.CreateGame(context.Background(), game, w); err != nil {
		t.Fatalf("create game: %v", err)
	}
	return mem, game
}

func TestCutoffRisesWithinSession(t *testing.T) {
	mem, game := generated(t)
	sim := NewSimulator(mem, nil, nil, nil)
	runDays(t, mem, sim, game.ID, 0, 12, false)

	articles, err := mem.FilterArticles(context.Background(), store.ArticleFilter{GameID: game.ID})
	if err != nil {
		t.Fatalf("articles: %v", err)
	}
	words := map[int64]int{}
	for _, a := range articles {
		words[a.ID] = a.WordCount
	}
	type session struct {
		day          int
		team, userID int64
	}
	clicks := map[session]int{}
	pvs := allPageviews(t, mem, game.ID)
	if len(pvs) == 0 {
		t.Fatalf("no traffic generated")
	}
	for _, pv := range pvs {
		key := session{pv.Day, pv.TeamID, pv.UserID}
		k := clicks[key]
		clicks[key] = k + 1
		score := pv.Duration * wordsPerMinute / (2 * float64(words[pv.ArticleID]))
		cutoff := ScoreAverage + ScoreStddev + float64(k)*cutoffStep
		if score <= cutoff-1e-9 {
			t.Fatalf("click %d of session %+v scored %v under cutoff %v", k, key, score, cutoff)
		}
	}
}

func TestNoRepeatClicksInWindow(t *testing.T) {
	mem, game := generated(t)
	sim := NewSimulator(mem, nil, nil, nil)
	runDays(t, mem, sim, game.ID, 0, 40, false)

	type seenKey struct{ team, user, article int64 }
	last := map[seenKey]int{}
	for _, pv := range allPageviews(t, mem, game.ID) {
		key := seenKey{pv.TeamID, pv.UserID, pv.ArticleID}
		if day, ok := last[key]; ok && pv.Day-day <= SeenWindow {
			t.Fatalf("article %d clicked on day %d and again on day %d", pv.ArticleID, day, pv.Day)
		}
		last[key] = pv.Day
	}
}

func TestCacheMatchesHistory(t *testing.T) {
	histStore, histGame := generated(t)
	cacheStore, cacheGame := generated(t)
	cache, err := NewPageviewCache(1<<12, SeenWindow)
	if err != nil {
		t.Fatalf("cache: %v", err)
	}
	runDays(t, histStore, NewSimulator(histStore, nil, nil, nil), histGame.ID, 0, 40, false)
	cached := NewSimulator(cacheStore, cache, nil, nil)
	runDays(t, cacheStore, cached, cacheGame.ID, 0, 40, true)

	hist := allPageviews(t, histStore, histGame.ID)
	got := allPageviews(t, cacheStore, cacheGame.ID)
	if !reflect.DeepEqual(hist, got) {
		t.Fatalf("cache mode diverged from history mode: %d vs %d pageviews", len(got), len(hist))
	}

	// The trailing window of the cache is the history query for active users.
	ctx := context.Background()
	users, err := histStore.FilterUsers(ctx, store.UserFilter{GameID: histGame.ID, ActiveOn: store.On(39)})
	if err != nil {
		t.Fatalf("users: %v", err)
	}
	for _, u := range users {
		pvs, err := histStore.FilterPageviews(ctx, store.PageviewFilter{
			GameID: histGame.ID, TeamID: 1, UserID: u.ID, Days: store.Days(40-SeenWindow, 39),
		})
		if err != nil {
			t.Fatalf("pageviews: %v", err)
		}
		want := map[int64]bool{}
		for _, pv := range pvs {
			want[pv.ArticleID] = true
		}
		have := map[int64]bool{}
		for _, id := range cache.Get(cacheGame.ID, 1, u.ID, SeenWindow) {
			have[id] = true
		}
		if !reflect.DeepEqual(want, have) {
			t.Fatalf("user %d: cache window %v, history window %v", u.ID, have, want)
		}
	}
}

func TestSimulateIsDeterministic(t *testing.T) {
	a, ga := generated(t)
	b, gb := generated(t)
	runDays(t, a, NewSimulator(a, nil, nil, nil), ga.ID, 0, 10, false)
	runDays(t, b, NewSimulator(b, nil, nil, nil), gb.ID, 0, 10, false)
	if !reflect.DeepEqual(allPageviews(t, a, ga.ID), allPageviews(t, b, gb.ID)) {
		t.Fatalf("same seed produced different traffic")
	}
	sa, _ := a.GetGame(context.Background(), ga.ID)
	sb, _ := b.GetGame(context.Background(), gb.ID)
	if sa.RandomState != sb.RandomState || sa.NextDay != 10 {
		t.Fatalf("game states diverged or NextDay wrong: %d", sa.NextDay)
	}
}

func TestScoreStatsAccumulate(t *testing.T) {
	mem, game := generated(t)
	tally := runDays(t, mem, NewSimulator(mem, nil, nil, nil), game.ID, 0, 5, false)
	if tally.Candidates == 0 || tally.Days != 5 {
		t.Fatalf("tally = %+v", tally)
	}
	if tally.ScoreMean() <= 0 || tally.ScoreStd() <= 0 {
		t.Fatalf("score mean %v std %v", tally.ScoreMean(), tally.ScoreStd())
	}
	if tally.Clicks > tally.Candidates {
		t.Fatalf("more clicks than candidates")
	}
}

func TestMissingInterestIsIntegrityError(t *testing.T) {
	mem, game := fixture(t, 2, 0, 1, 1)
	ctx := context.Background()
	g, _ := mem.GetGame(ctx, game.ID)
	teams, _ := mem.ListTeams(ctx, game.ID)
	authors, _ := mem.ListAuthors(ctx, game.ID)
	_, articles, err := Candidates(ctx, mem, game.ID, 0)
	if err != nil {
		t.Fatalf("candidates: %v", err)
	}
	d := &Day{
		Game:     &g,
		Teams:    teams,
		Users:    []model.User{{ID: 1, GameID: game.ID, Lifetime: 1}},
		Articles: articles,
		Authors:  AuthorIndex(authors),
	}
	_, _, err = NewSimulator(mem, nil, nil, nil).SimulateDay(ctx, d, false)
	if !errors.Is(err, simerr.ErrDataIntegrity) {
		t.Fatalf("err = %v, want data integrity", err)
	}

	d.Users[0].Interests = map[int64]float64{1: 1}
	d.Authors = map[int64]model.Author{}
	_, _, err = NewSimulator(mem, nil, nil, nil).SimulateDay(ctx, d, false)
	if !errors.Is(err, simerr.ErrDataIntegrity) {
		t.Fatalf("missing author: err = %v", err)
	}
}

func TestCacheModeNeedsCache(t *testing.T) {
	mem, game := fixture(t, 2, 0, 1, 1)
	g, _ := mem.GetGame(context.Background(), game.ID)
	_, _, err := NewSimulator(mem, nil, nil, nil).SimulateDay(context.Background(), &Day{Game: &g}, true)
	if !errors.Is(err, simerr.ErrInvalidArgument) {
		t.Fatalf("err = %v, want invalid argument", err)
	}
}

func TestDurationScalesWithScore(t *testing.T) {
	mem, game := fixture(t, 10, 0, 1, 1)
	runDays(t, mem, NewSimulator(mem, nil, nil, nil), game.ID, 0, 1, false)
	pvs := allPageviews(t, mem, game.ID)
	if len(pvs) != 1 {
		t.Fatalf("pageviews = %d", len(pvs))
	}
	// 460 words at 230 wpm, doubled and scaled by a score of 2.7.
	if want := 460.0 / 230 * 2 * 2.7; math.Abs(pvs[0].Duration-want) > 1e-9 {
		t.Fatalf("duration = %v, want %v", pvs[0].Duration, want)
	}
}

func TestCacheFilledOnlyAfterRemember(t *testing.T) {
	mem, game := generated(t)
	cache, err := NewPageviewCache(1<<12, SeenWindow)
	if err != nil {
		t.Fatalf("cache: %v", err)
	}
	sim := NewSimulator(mem, cache, nil, nil)
	ctx := context.Background()
	teams, err := mem.ListTeams(ctx, game.ID)
	if err != nil {
		t.Fatalf("teams: %v", err)
	}
	authors, err := mem.ListAuthors(ctx, game.ID)
	if err != nil {
		t.Fatalf("authors: %v", err)
	}
	users, articles, err := Candidates(ctx, mem, game.ID, 0)
	if err != nil {
		t.Fatalf("candidates: %v", err)
	}
	g := *game
	d := &Day{Game: &g, Teams: teams, Users: users, Articles: articles, Authors: AuthorIndex(authors)}
	commit, _, err := sim.SimulateDay(ctx, d, true)
	if err != nil {
		t.Fatalf("simulate: %v", err)
	}
	if cache.Len() != 0 {
		t.Fatalf("cache filled before commit: %d entries", cache.Len())
	}
	if len(commit.Sessions) != len(users)*len(teams) {
		t.Fatalf("sessions = %d, want %d", len(commit.Sessions), len(users)*len(teams))
	}
	sim.Remember(commit)
	clicks := 0
	for _, sc := range commit.Sessions {
		clicks += cache.Total(game.ID, sc.TeamID, sc.UserID)
	}
	if clicks != len(commit.Pageviews) {
		t.Fatalf("cached clicks = %d, pageviews = %d", clicks, len(commit.Pageviews))
	}
}
