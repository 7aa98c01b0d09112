package world

import (
	"errors"
	"math"
	"reflect"
	"testing"

	"mediasim/internal/model"
	"mediasim/internal/randstate"
	"mediasim/internal/simerr"
)

func smallParams() model.GameParams {
	p := model.DefaultGameParams()
	p.NDays = 60
	p.NDaysPeriod0 = 30
	p.NAuthors = 8
	p.NUsers = 40
	return p
}

func newGame(p model.GameParams) *model.Game {
	return &model.Game{
		ID:           1,
		Name:         p.Name,
		Stream:       randstate.Stream{Seed: p.Seed},
		NDays:        p.NDays,
		NDaysPeriod0: p.NDaysPeriod0,
		NAuthors:     p.NAuthors,
		NUsers:       p.NUsers,
		EventsPerDay: p.EventsPerDay,
	}
}

func TestGenerateIsDeterministic(t *testing.T) {
	p := smallParams()
	ga, gb := newGame(p), newGame(p)
	wa, err := Generate(ga, p)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	wb, err := Generate(gb, p)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if !reflect.DeepEqual(wa, wb) {
		t.Fatalf("same seed produced different worlds")
	}
	if ga.RandomState != gb.RandomState {
		t.Fatalf("game streams diverged")
	}
	if ga.RandomState == "" {
		t.Fatalf("game stream was not advanced")
	}

	p.Seed = 124
	wc, err := Generate(newGame(p), p)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if reflect.DeepEqual(wa.Authors, wc.Authors) {
		t.Fatalf("different seeds produced identical authors")
	}
}

func TestGenerateCounts(t *testing.T) {
	p := smallParams()
	w, err := Generate(newGame(p), p)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if len(w.Topics) != len(p.Topics) {
		t.Fatalf("topics = %d, want %d", len(w.Topics), len(p.Topics))
	}
	if len(w.Authors) != p.NAuthors {
		t.Fatalf("authors = %d, want %d", len(w.Authors), p.NAuthors)
	}
	if len(w.Users) != p.NUsers {
		t.Fatalf("users = %d, want %d", len(w.Users), p.NUsers)
	}
	if len(w.Teams) != 2 {
		t.Fatalf("teams = %d, want 2", len(w.Teams))
	}
	if len(w.Events) == 0 || len(w.Articles) == 0 {
		t.Fatalf("expected events and articles, got %d and %d", len(w.Events), len(w.Articles))
	}
	for i, a := range w.Articles {
		if a.ID != int64(i+1) {
			t.Fatalf("article %d has id %d", i, a.ID)
		}
		if a.WordCount < minWords || a.WordCount >= maxWords {
			t.Fatalf("word count %d out of range", a.WordCount)
		}
		if a.Vocab < 0 || a.Vocab > 1 {
			t.Fatalf("vocab %v out of range", a.Vocab)
		}
		if i > 0 && a.Day < w.Articles[i-1].Day {
			t.Fatalf("articles out of day order")
		}
	}
}

func TestGenerateDistributions(t *testing.T) {
	p := smallParams()
	w, err := Generate(newGame(p), p)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	sumOf := func(m map[int64]float64) float64 {
		s := 0.0
		for _, v := range m {
			s += v
		}
		return s
	}
	productivity := 0.0
	for _, a := range w.Authors {
		productivity += a.Productivity
		if got := sumOf(a.Expertise); math.Abs(got-1) > 1e-9 {
			t.Fatalf("author %d expertise sums to %v", a.ID, got)
		}
		if a.Quality < 0 || a.Quality >= 10 {
			t.Fatalf("author %d quality %v", a.ID, a.Quality)
		}
	}
	if math.Abs(productivity-1) > 1e-9 {
		t.Fatalf("productivity sums to %v", productivity)
	}
	for _, e := range w.Events {
		if got := sumOf(e.Relevance); math.Abs(got-1) > 1e-9 {
			t.Fatalf("event %d relevance sums to %v", e.ID, got)
		}
		if e.Intensity < intensityLoc || e.Intensity > 1 {
			t.Fatalf("event %d intensity %v", e.ID, e.Intensity)
		}
		if e.End < e.Start || e.End > p.NDays-1 {
			t.Fatalf("event %d spans [%d,%d]", e.ID, e.Start, e.End)
		}
	}
	for _, u := range w.Users {
		if got := sumOf(u.Interests); math.Abs(got-1) > 1e-9 {
			t.Fatalf("user %d interests sum to %v", u.ID, got)
		}
		if u.Freq < 0 || u.Lifetime < int(lifetimeLoc) {
			t.Fatalf("user %d freq %d lifetime %d", u.ID, u.Freq, u.Lifetime)
		}
		if u.FirstDay < 0 || u.FirstDay >= p.NDays {
			t.Fatalf("user %d first day %d", u.ID, u.FirstDay)
		}
		if len(u.FavoriteAuthors) < 1 || len(u.FavoriteAuthors) > maxFavoriteAuth {
			t.Fatalf("user %d has %d favourites", u.ID, len(u.FavoriteAuthors))
		}
		seen := map[int64]bool{}
		for _, id := range u.FavoriteAuthors {
			if seen[id] || id < 1 || id > int64(p.NAuthors) {
				t.Fatalf("user %d has bad favourite list %v", u.ID, u.FavoriteAuthors)
			}
			seen[id] = true
		}
	}
}

func TestArticlesComeFromLiveEvents(t *testing.T) {
	p := smallParams()
	w, err := Generate(newGame(p), p)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	events := map[int64]model.Event{}
	for _, e := range w.Events {
		events[e.ID] = e
	}
	for _, a := range w.Articles {
		e, ok := events[a.EventID]
		if !ok {
			t.Fatalf("article %d references unknown event %d", a.ID, a.EventID)
		}
		if !e.LiveOn(a.Day) {
			t.Fatalf("article %d on day %d but event lives [%d,%d]", a.ID, a.Day, e.Start, e.End)
		}
		if e.Relevance[a.TopicID] == 0 {
			t.Fatalf("article %d on a topic its event has no relevance for", a.ID)
		}
	}
}

func TestSingleAuthorWritesEverything(t *testing.T) {
	p := model.GameParams{
		Name:         "solo",
		Seed:         123,
		NDays:        1,
		NAuthors:     1,
		NUsers:       1,
		EventsPerDay: 7,
		Topics:       []model.TopicSpec{{Name: "Only", Freq: 1}},
	}
	w, err := Generate(newGame(p), p)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if w.Authors[0].Productivity != 1 || w.Authors[0].Expertise[1] != 1 {
		t.Fatalf("lone author should own all output: %+v", w.Authors[0])
	}
	for _, a := range w.Articles {
		if a.AuthorID != 1 || a.TopicID != 1 {
			t.Fatalf("article %+v not by the lone author on the lone topic", a)
		}
	}
	if got := w.Users[0].Interests[1]; got != 1 {
		t.Fatalf("lone topic interest = %v, want 1", got)
	}
	if got := w.Users[0].FavoriteAuthors; !reflect.DeepEqual(got, []int64{1}) {
		t.Fatalf("favourites = %v", got)
	}
}

func TestTeamsGetDerivedStreams(t *testing.T) {
	p := smallParams()
	g := newGame(p)
	w, err := Generate(g, p)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if w.Teams[0].Seed == w.Teams[1].Seed {
		t.Fatalf("teams share a seed")
	}
	for _, team := range w.Teams {
		if team.RandomState == "" {
			t.Fatalf("team %s stream not initialized", team.Name)
		}
		if team.Seed != randstate.DeriveSeed(p.Seed, "team:"+team.Name) {
			t.Fatalf("team %s seed not derived from game seed", team.Name)
		}
		if len(team.Strategies) != 1 || team.Strategies[0].FreePVs != 10 {
			t.Fatalf("team %s strategies = %+v", team.Name, team.Strategies)
		}
	}
}

func TestGenerateRejectsInvalidParams(t *testing.T) {
	p := smallParams()
	p.NAuthors = 0
	if _, err := Generate(newGame(p), p); !errors.Is(err, simerr.ErrInvalidArgument) {
		t.Fatalf("err = %v, want invalid argument", err)
	}
}

func TestGenerateWithoutUsers(t *testing.T) {
	p := smallParams()
	p.NUsers = 0
	w, err := Generate(newGame(p), p)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if len(w.Users) != 0 {
		t.Fatalf("users = %d", len(w.Users))
	}
}

func TestAuthorWeights(t *testing.T) {
	g := &generator{w: &model.World{Authors: []model.Author{
		{ID: 1, Productivity: 0.25, Expertise: map[int64]float64{1: 0.5, 2: 0}},
		{ID: 2, Productivity: 0.75, Expertise: map[int64]float64{1: 0.2, 2: 0}},
	}}}
	got, err := g.authorWeights(1)
	if err != nil {
		t.Fatalf("weights: %v", err)
	}
	if want := []float64{0.125, 0.15}; math.Abs(got[0]-want[0]) > 1e-12 || math.Abs(got[1]-want[1]) > 1e-12 {
		t.Fatalf("weights = %v, want %v", got, want)
	}
	if _, err := g.authorWeights(2); !errors.Is(err, simerr.ErrInvalidArgument) {
		t.Fatalf("topic nobody covers: err = %v", err)
	}
	if _, err := g.authorWeights(3); !errors.Is(err, simerr.ErrDataIntegrity) {
		t.Fatalf("unknown topic: err = %v", err)
	}
}
