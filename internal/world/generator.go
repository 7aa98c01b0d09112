// Package world builds the static content of a game: teams, topics, authors,
// events, articles and users. Every draw comes from the game's own random
// stream, batched per category in a fixed order, so a seed fully determines
// the world.
package world

import (
	"fmt"
	"math"

	"mediasim/internal/model"
	"mediasim/internal/randstate"
	"mediasim/internal/simerr"
)

const (
	productivityAlpha = 0.5
	expertiseAlpha    = 0.3
	relevanceAlpha    = 0.25
	interestAlpha     = 1.0

	qualityMax = 10.0

	intensityLoc   = 0.1
	intensityScale = 0.2

	minWords   = 300
	maxWords   = 2000
	vocabLoc   = 0.5
	vocabScale = 0.2

	freqLoc         = 5.0
	freqScale       = 5.0
	lifetimeLoc     = 20.0
	lifetimeScale   = 730.0
	adSensLoc       = 3.0
	adSensScale     = 1.0
	maxFavoriteAuth = 4
)

// Generate draws the world for game. The game's stream is advanced in place
// and must be persisted together with the returned world. Ids are local to
// the game and start at 1.
func Generate(game *model.Game, p model.GameParams) (*model.World, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	if game == nil {
		return nil, fmt.Errorf("%w: game is required", simerr.ErrInvalidArgument)
	}
	g := &generator{game: game, params: p, w: &model.World{}}
	steps := []struct {
		name string
		fn   func() error
	}{
		{"teams", g.teams},
		{"topics", g.topics},
		{"authors", g.authors},
		{"events", g.events},
		{"articles", g.articles},
		{"users", g.users},
	}
	for _, step := range steps {
		if err := step.fn(); err != nil {
			return nil, fmt.Errorf("generate %s: %w", step.name, err)
		}
	}
	return g.w, nil
}

type generator struct {
	game   *model.Game
	params model.GameParams
	w      *model.World
}

func (g *generator) draw(kind randstate.Kind, n int, p randstate.Params) (randstate.Variates, error) {
	return g.game.Generate(kind, n, p)
}

// teams take no draws from the game stream; each team gets its own stream
// derived from the game seed and its name.
func (g *generator) teams() error {
	var strategyID int64
	for i, tp := range g.params.Teams {
		team := model.Team{
			ID:     int64(i + 1),
			GameID: g.game.ID,
			Name:   tp.Name,
			Stream: randstate.Stream{Seed: randstate.DeriveSeed(g.game.Seed, "team:"+tp.Name)},
		}
		if err := team.Init(); err != nil {
			return err
		}
		if s := tp.Strategy; s != nil {
			strategyID++
			team.Strategies = []model.Strategy{{
				ID:      strategyID,
				GameID:  g.game.ID,
				TeamID:  team.ID,
				Cost:    s.Cost,
				Ads:     s.Ads,
				FreePVs: s.FreePVs,
			}}
		}
		g.w.Teams = append(g.w.Teams, team)
	}
	return nil
}

func (g *generator) topics() error {
	for i, ts := range g.params.Topics {
		g.w.Topics = append(g.w.Topics, model.Topic{
			ID:     int64(i + 1),
			GameID: g.game.ID,
			Name:   ts.Name,
			Freq:   ts.Freq,
		})
	}
	return nil
}

func (g *generator) authors() error {
	n := g.params.NAuthors
	names, err := g.draw(randstate.KindName, n, randstate.Params{})
	if err != nil {
		return err
	}
	quality, err := g.draw(randstate.KindUniform, n, randstate.Params{Low: 0, High: qualityMax})
	if err != nil {
		return err
	}
	productivity, err := g.draw(randstate.KindDirichlet, 1, randstate.Params{Alpha: repeat(productivityAlpha, n)})
	if err != nil {
		return err
	}
	expertise, err := g.draw(randstate.KindDirichlet, n, randstate.Params{Alpha: repeat(expertiseAlpha, len(g.w.Topics))})
	if err != nil {
		return err
	}
	for i := 0; i < n; i++ {
		g.w.Authors = append(g.w.Authors, model.Author{
			ID:           int64(i + 1),
			GameID:       g.game.ID,
			Name:         names.Strings[i],
			Quality:      quality.Floats[i],
			Productivity: productivity.Vectors[0][i],
			Expertise:    g.byTopic(expertise.Vectors[i]),
		})
	}
	return nil
}

func (g *generator) events() error {
	var id int64
	for day := 0; day < g.params.NDays; day++ {
		count, err := g.draw(randstate.KindPoisson, 1, randstate.Params{Lambda: g.params.EventsPerDay})
		if err != nil {
			return err
		}
		k := count.Ints[0]
		if k == 0 {
			continue
		}
		intensity, err := g.draw(randstate.KindExponential, k, randstate.Params{Loc: intensityLoc, Scale: intensityScale})
		if err != nil {
			return err
		}
		relevance, err := g.draw(randstate.KindDirichlet, k, randstate.Params{Alpha: repeat(relevanceAlpha, len(g.w.Topics))})
		if err != nil {
			return err
		}
		for i := 0; i < k; i++ {
			id++
			level := math.Min(1, intensity.Floats[i])
			g.w.Events = append(g.w.Events, model.Event{
				ID:        id,
				GameID:    g.game.ID,
				Start:     day,
				End:       lastLiveDay(level, day, g.params.NDays),
				Intensity: level,
				Relevance: g.byTopic(relevance.Vectors[i]),
			})
		}
	}
	return nil
}

func (g *generator) articles() error {
	var id int64
	for day := 0; day < g.params.NDays; day++ {
		live := LiveEvents(g.w.Events, day)
		if len(live) == 0 {
			continue
		}
		gate, err := g.draw(randstate.KindUniform, len(live), randstate.Params{})
		if err != nil {
			return err
		}
		var drafts []model.Article
		for i, e := range live {
			if gate.Floats[i] > e.Intensity*TimeEffect(e.Intensity, e.Start, day) {
				continue
			}
			topicIdx, err := g.draw(randstate.KindChoice, 1, randstate.Params{Weights: g.topicWeights(e.Relevance)})
			if err != nil {
				return fmt.Errorf("event %d topic: %w", e.ID, err)
			}
			topic := g.w.Topics[topicIdx.Ints[0]]
			weights, err := g.authorWeights(topic.ID)
			if err != nil {
				return err
			}
			authorIdx, err := g.draw(randstate.KindChoice, 1, randstate.Params{Weights: weights})
			if err != nil {
				return fmt.Errorf("event %d author: %w", e.ID, err)
			}
			drafts = append(drafts, model.Article{
				GameID:   g.game.ID,
				TopicID:  topic.ID,
				AuthorID: g.w.Authors[authorIdx.Ints[0]].ID,
				EventID:  e.ID,
				Day:      day,
			})
		}
		if len(drafts) == 0 {
			continue
		}
		words, err := g.draw(randstate.KindUniform, len(drafts), randstate.Params{Low: minWords, High: maxWords})
		if err != nil {
			return err
		}
		vocab, err := g.draw(randstate.KindNormal, len(drafts), randstate.Params{Loc: vocabLoc, Scale: vocabScale})
		if err != nil {
			return err
		}
		for i := range drafts {
			id++
			drafts[i].ID = id
			drafts[i].WordCount = int(words.Floats[i])
			drafts[i].Vocab = clamp(vocab.Floats[i], 0, 1)
		}
		g.w.Articles = append(g.w.Articles, drafts...)
	}
	return nil
}

func (g *generator) users() error {
	n := g.params.NUsers
	if n == 0 {
		return nil
	}
	ips, err := g.draw(randstate.KindIPv4, n, randstate.Params{})
	if err != nil {
		return err
	}
	agents, err := g.draw(randstate.KindUserAgent, n, randstate.Params{})
	if err != nil {
		return err
	}
	freq, err := g.draw(randstate.KindNormal, n, randstate.Params{Loc: freqLoc, Scale: freqScale})
	if err != nil {
		return err
	}
	first, err := g.draw(randstate.KindUniform, n, randstate.Params{})
	if err != nil {
		return err
	}
	lifetime, err := g.draw(randstate.KindExponential, n, randstate.Params{Loc: lifetimeLoc, Scale: lifetimeScale})
	if err != nil {
		return err
	}
	adSens, err := g.draw(randstate.KindNormal, n, randstate.Params{Loc: adSensLoc, Scale: adSensScale})
	if err != nil {
		return err
	}
	interests, err := g.draw(randstate.KindDirichlet, n, randstate.Params{Alpha: repeat(interestAlpha, len(g.w.Topics))})
	if err != nil {
		return err
	}
	favCount, err := g.draw(randstate.KindUniform, n, randstate.Params{})
	if err != nil {
		return err
	}
	favOrder, err := g.draw(randstate.KindShuffle, n, randstate.Params{Size: len(g.w.Authors)})
	if err != nil {
		return err
	}
	maxFav := min(maxFavoriteAuth, len(g.w.Authors))
	for i := 0; i < n; i++ {
		k := int(math.Ceil(favCount.Floats[i] * maxFavoriteAuth))
		k = max(1, min(k, maxFav))
		favs := make([]int64, k)
		for j := 0; j < k; j++ {
			favs[j] = g.w.Authors[favOrder.Perms[i][j]].ID
		}
		g.w.Users = append(g.w.Users, model.User{
			ID:              int64(i + 1),
			GameID:          g.game.ID,
			IP:              ips.Strings[i],
			Agent:           agents.Strings[i],
			Freq:            max(0, int(freq.Floats[i])),
			FirstDay:        int(first.Floats[i] * float64(g.params.NDays)),
			Lifetime:        int(lifetime.Floats[i]),
			AdSensitivity:   adSens.Floats[i],
			Interests:       g.byTopic(interests.Vectors[i]),
			FavoriteAuthors: favs,
		})
	}
	return nil
}

// byTopic keys a vector drawn in topic order by topic id.
func (g *generator) byTopic(vec []float64) map[int64]float64 {
	out := make(map[int64]float64, len(vec))
	for i, v := range vec {
		out[g.w.Topics[i].ID] = v
	}
	return out
}

func (g *generator) topicWeights(byID map[int64]float64) []float64 {
	out := make([]float64, len(g.w.Topics))
	for i, t := range g.w.Topics {
		out[i] = byID[t.ID]
	}
	return out
}

// authorWeights is P(author | topic) up to normalization: expertise on the
// topic times the author's share of output.
func (g *generator) authorWeights(topicID int64) ([]float64, error) {
	out := make([]float64, len(g.w.Authors))
	sum := 0.0
	for i, a := range g.w.Authors {
		e, err := a.ExpertiseFor(topicID)
		if err != nil {
			return nil, err
		}
		out[i] = e * a.Productivity
		sum += out[i]
	}
	if !(sum > 0) {
		return nil, fmt.Errorf("%w: no author weight on topic %d", simerr.ErrInvalidArgument, topicID)
	}
	return out, nil
}

func repeat(v float64, n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = v
	}
	return out
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}
