// Package traffic simulates reader sessions: which articles each active user
// clicks on each team's site, and when they hit the paywall.
package traffic

import (
	"context"
	"fmt"
	"log/slog"

	"mediasim/internal/model"
	"mediasim/internal/randstate"
	"mediasim/internal/simerr"
	"mediasim/internal/store"
)

// Click score calibration. A session starts with a cutoff one standard
// deviation above the mean and every click raises it by half a deviation.
const (
	ScoreAverage = 0.25651818456545666
	ScoreStddev  = 0.14619941832318883
	cutoffStep   = 0.5 * ScoreStddev
)

const (
	// SeenWindow is how many trailing days of clicks hide an article.
	SeenWindow     = 30
	wordsPerMinute = 230.0
)

// History is the persisted pageview query path.
type History interface {
	FilterPageviews(ctx context.Context, f store.PageviewFilter) ([]model.Pageview, error)
	CountPageviews(ctx context.Context, f store.PageviewFilter) (int, error)
}

// Subscriber identifies a (team, user) pair with a paid relationship.
type Subscriber struct {
	TeamID int64
	UserID int64
}

// Day is the slice of a world one simulated day reads. The game and team
// streams are advanced in place; Subscribers gains today's conversions.
type Day struct {
	Number   int
	Game     *model.Game
	Teams    []model.Team
	Users    []model.User
	Articles []model.Article
	Authors  map[int64]model.Author

	Subscribers map[Subscriber]bool
}

type Simulator struct {
	history  History
	cache    *PageviewCache
	resolver StrategyResolver
	log      *slog.Logger
}

// NewSimulator builds a simulator. cache may be nil, in which case only the
// history path is available. A nil resolver means FirstStrategy.
func NewSimulator(history History, cache *PageviewCache, resolver StrategyResolver, logger *slog.Logger) *Simulator {
	if resolver == nil {
		resolver = FirstStrategy{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Simulator{history: history, cache: cache, resolver: resolver, log: logger}
}

// Score is a user's affinity for an article.
func Score(user model.User, article model.Article, author model.Author) (float64, error) {
	interest, err := user.InterestIn(article.TopicID)
	if err != nil {
		return 0, err
	}
	return 2*interest + 0.5*author.Popularity() + 0.02*author.Quality, nil
}

// SimulateDay runs one session per active user per team. With useCache the
// already-seen set and free view count come from the PageviewCache instead
// of the pageview history. The returned commit carries the advanced random
// states and must be persisted before the next day is simulated; once it is,
// Remember feeds its sessions to the cache.
func (s *Simulator) SimulateDay(ctx context.Context, d *Day, useCache bool) (model.DayCommit, Tally, error) {
	if useCache && s.cache == nil {
		return model.DayCommit{}, Tally{}, fmt.Errorf("%w: cache mode requested without a pageview cache", simerr.ErrInvalidArgument)
	}
	if d.Subscribers == nil {
		d.Subscribers = map[Subscriber]bool{}
	}
	commit := model.DayCommit{GameID: d.Game.ID, Day: d.Number}
	tally := Tally{Days: 1}

	for _, user := range d.Users {
		if err := ctx.Err(); err != nil {
			return model.DayCommit{}, Tally{}, err
		}
		var order []int
		if len(d.Articles) > 0 {
			v, err := d.Game.Generate(randstate.KindShuffle, 1, randstate.Params{Size: len(d.Articles)})
			if err != nil {
				return model.DayCommit{}, Tally{}, fmt.Errorf("shuffle for user %d: %w", user.ID, err)
			}
			order = v.Perms[0]
		}
		for i := range d.Teams {
			team := &d.Teams[i]
			clicked, err := s.session(ctx, d, team, user, order, useCache, &commit, &tally)
			if err != nil {
				return model.DayCommit{}, Tally{}, fmt.Errorf("day %d team %d user %d: %w", d.Number, team.ID, user.ID, err)
			}
			commit.Sessions = append(commit.Sessions, model.SessionClicks{TeamID: team.ID, UserID: user.ID, Articles: clicked})
		}
	}

	commit.GameState = d.Game.RandomState
	commit.TeamStates = make(map[int64]string, len(d.Teams))
	for _, team := range d.Teams {
		commit.TeamStates[team.ID] = team.RandomState
	}
	s.log.Debug("simulated day",
		"game_id", d.Game.ID,
		"day", d.Number,
		"users", len(d.Users),
		"articles", len(d.Articles),
		"clicks", tally.Clicks,
		"conversions", tally.Conversions,
		"cached", useCache,
	)
	return commit, tally, nil
}

// Remember appends a committed day's sessions to the cache. Calling it for a
// commit that was not persisted would hide articles the history never saw.
func (s *Simulator) Remember(commit model.DayCommit) {
	if s.cache == nil {
		return
	}
	for _, sc := range commit.Sessions {
		s.cache.Append(commit.GameID, sc.TeamID, sc.UserID, sc.Articles)
	}
}

func (s *Simulator) session(ctx context.Context, d *Day, team *model.Team, user model.User, order []int, useCache bool, commit *model.DayCommit, tally *Tally) ([]int64, error) {
	tally.Sessions++
	if len(order) == 0 {
		return nil, nil
	}
	seen, err := s.seen(ctx, d, team.ID, user.ID, useCache)
	if err != nil {
		return nil, err
	}

	key := Subscriber{TeamID: team.ID, UserID: user.ID}
	prior := -1
	cutoff := ScoreAverage + ScoreStddev
	var clicked []int64
	for _, idx := range order {
		article := d.Articles[idx]
		if seen[article.ID] {
			continue
		}
		author, ok := d.Authors[article.AuthorID]
		if !ok {
			return nil, fmt.Errorf("%w: article %d has unknown author %d", simerr.ErrDataIntegrity, article.ID, article.AuthorID)
		}
		score, err := Score(user, article, author)
		if err != nil {
			return nil, err
		}
		tally.Candidates++
		tally.scores.observe(score)
		if score <= cutoff {
			continue
		}

		strategy := s.resolver.Resolve(*team, user, article, d.Number)
		pv := model.Pageview{
			GameID:    d.Game.ID,
			TeamID:    team.ID,
			UserID:    user.ID,
			ArticleID: article.ID,
			Day:       d.Number,
			Duration:  float64(article.WordCount) / wordsPerMinute * 2 * score,
			AdsSeen:   strategy.Ads,
		}
		if !d.Subscribers[key] {
			if prior < 0 {
				if prior, err = s.priorViews(ctx, d, team.ID, user.ID, useCache); err != nil {
					return nil, err
				}
			}
			pv.SawPaywall = prior+len(clicked) >= strategy.FreePVs
		}
		if pv.SawPaywall {
			tally.Paywalls++
			v, err := team.Generate(randstate.KindUniform, 1, randstate.Params{})
			if err != nil {
				return nil, fmt.Errorf("conversion draw: %w", err)
			}
			if v.Floats[0] < d.Game.ConversionRate {
				pv.Converted = true
				d.Subscribers[key] = true
				tally.Conversions++
				commit.Conversions = append(commit.Conversions, model.UserStrategy{
					GameID:     d.Game.ID,
					TeamID:     team.ID,
					UserID:     user.ID,
					StrategyID: strategy.ID,
					StartDay:   d.Number,
				})
			}
		}
		commit.Pageviews = append(commit.Pageviews, pv)
		clicked = append(clicked, article.ID)
		tally.Clicks++
		cutoff += cutoffStep
	}
	return clicked, nil
}

// seen is the set of articles the user clicked on this team's site during
// days [day-SeenWindow, day-1].
func (s *Simulator) seen(ctx context.Context, d *Day, teamID, userID int64, useCache bool) (map[int64]bool, error) {
	var ids []int64
	if useCache {
		ids = s.cache.Get(d.Game.ID, teamID, userID, SeenWindow)
	} else {
		pvs, err := s.history.FilterPageviews(ctx, store.PageviewFilter{
			GameID: d.Game.ID,
			TeamID: teamID,
			UserID: userID,
			Days:   store.Days(d.Number-SeenWindow, d.Number-1),
		})
		if err != nil {
			return nil, fmt.Errorf("load recent pageviews: %w", err)
		}
		for _, pv := range pvs {
			ids = append(ids, pv.ArticleID)
		}
	}
	out := make(map[int64]bool, len(ids))
	for _, id := range ids {
		out[id] = true
	}
	return out, nil
}

// priorViews counts the user's pageviews on the team's site before today.
func (s *Simulator) priorViews(ctx context.Context, d *Day, teamID, userID int64, useCache bool) (int, error) {
	if useCache {
		return s.cache.Total(d.Game.ID, teamID, userID), nil
	}
	n, err := s.history.CountPageviews(ctx, store.PageviewFilter{
		GameID: d.Game.ID,
		TeamID: teamID,
		UserID: userID,
		Days:   store.Days(0, d.Number-1),
	})
	if err != nil {
		return 0, fmt.Errorf("count prior pageviews: %w", err)
	}
	return n, nil
}
