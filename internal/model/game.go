// Package model defines the entities of a simulated media game.
//
// Games are assigned ids by the store. Every entity a game owns (teams,
// strategies, topics, authors, events, articles, users) carries an id local to
// its game, assigned in generation order starting at 1, so references inside
// a world are identical no matter which store persisted it.
package model

import (
	"fmt"
	"math"
	"strings"

	"mediasim/internal/randstate"
	"mediasim/internal/simerr"
)

type Game struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
	randstate.Stream
	NDays        int     `json:"n_days"`
	NDaysPeriod0 int     `json:"n_days_period_0"`
	NAuthors     int     `json:"n_authors"`
	NUsers       int     `json:"n_users"`
	EventsPerDay float64 `json:"events_per_day"`
	// ConversionRate is the chance a paywalled reader subscribes.
	ConversionRate float64 `json:"conversion_rate"`
	// NextDay is the first day without committed traffic.
	NextDay int `json:"next_day"`
}

type Team struct {
	ID     int64  `json:"id"`
	GameID int64  `json:"game_id"`
	Name   string `json:"name"`
	randstate.Stream
	Strategies []Strategy `json:"strategies,omitempty"`
}

type Strategy struct {
	ID      int64   `json:"id"`
	GameID  int64   `json:"game_id"`
	TeamID  int64   `json:"team_id"`
	Cost    float64 `json:"cost"`
	Ads     int     `json:"ads"`
	FreePVs int     `json:"free_pvs"`
}

// DefaultStrategy applies when a team has configured none.
var DefaultStrategy = Strategy{Cost: 9, Ads: 3, FreePVs: 12}

type TopicSpec struct {
	Name string  `json:"name" yaml:"name"`
	Freq float64 `json:"freq" yaml:"freq"`
}

// DefaultTopics is the topic catalog with baseline frequencies.
var DefaultTopics = []TopicSpec{
	{"Opinion", 0.1},
	{"Politics", 0.1},
	{"World Events", 0.1},
	{"Business", 0.1},
	{"Technology", 0.08},
	{"Arts & Culture", 0.08},
	{"Sports", 0.08},
	{"Health", 0.08},
	{"Home", 0.08},
	{"Travel", 0.07},
	{"Fashion", 0.07},
	{"Food", 0.06},
}

type StrategyParams struct {
	Cost    float64 `json:"cost" yaml:"cost"`
	Ads     int     `json:"ads" yaml:"ads"`
	FreePVs int     `json:"free_pvs" yaml:"free_pvs"`
}

type TeamParams struct {
	Name     string          `json:"name" yaml:"name"`
	Strategy *StrategyParams `json:"strategy,omitempty" yaml:"strategy,omitempty"`
}

// GameParams is everything needed to seed a world.
type GameParams struct {
	Name           string       `json:"name" yaml:"name"`
	Seed           int64        `json:"seed" yaml:"seed"`
	NDays          int          `json:"n_days" yaml:"n_days"`
	NDaysPeriod0   int          `json:"n_days_period_0" yaml:"n_days_period_0"`
	NAuthors       int          `json:"n_authors" yaml:"n_authors"`
	NUsers         int          `json:"n_users" yaml:"n_users"`
	EventsPerDay   float64      `json:"events_per_day" yaml:"events_per_day"`
	ConversionRate float64      `json:"conversion_rate" yaml:"conversion_rate"`
	Topics         []TopicSpec  `json:"topics,omitempty" yaml:"topics,omitempty"`
	Teams          []TeamParams `json:"teams,omitempty" yaml:"teams,omitempty"`
}

func DefaultGameParams() GameParams {
	return GameParams{
		Name:           "Test Game",
		Seed:           123,
		NDays:          365 * 2,
		NDaysPeriod0:   365,
		NAuthors:       50,
		NUsers:         1000,
		EventsPerDay:   7,
		ConversionRate: 0.1,
		Topics:         append([]TopicSpec(nil), DefaultTopics...),
		Teams: []TeamParams{
			{Name: "austin", Strategy: &StrategyParams{Cost: 7.99, Ads: 4, FreePVs: 10}},
			{Name: "drew", Strategy: &StrategyParams{Cost: 7.99, Ads: 4, FreePVs: 10}},
		},
	}
}

// NewGame builds the unsaved game row for p.
func (p GameParams) NewGame() *Game {
	return &Game{
		Name:           p.Name,
		Stream:         randstate.Stream{Seed: p.Seed},
		NDays:          p.NDays,
		NDaysPeriod0:   p.NDaysPeriod0,
		NAuthors:       p.NAuthors,
		NUsers:         p.NUsers,
		EventsPerDay:   p.EventsPerDay,
		ConversionRate: p.ConversionRate,
	}
}

func (p GameParams) Validate() error {
	invalid := func(format string, args ...any) error {
		return fmt.Errorf("%w: %s", simerr.ErrInvalidArgument, fmt.Sprintf(format, args...))
	}
	if strings.TrimSpace(p.Name) == "" {
		return invalid("game name is required")
	}
	if p.NDays < 1 {
		return invalid("n_days must be > 0")
	}
	if p.NDaysPeriod0 < 0 || p.NDaysPeriod0 > p.NDays {
		return invalid("n_days_period_0 must be within [0, n_days]")
	}
	if p.NAuthors < 1 {
		return invalid("n_authors must be > 0")
	}
	if p.NUsers < 0 {
		return invalid("n_users must be >= 0")
	}
	if !(p.EventsPerDay > 0) || math.IsInf(p.EventsPerDay, 0) {
		return invalid("events_per_day must be > 0")
	}
	if p.ConversionRate < 0 || p.ConversionRate > 1 {
		return invalid("conversion_rate must be within [0, 1]")
	}
	if len(p.Topics) == 0 {
		return invalid("at least one topic is required")
	}
	seen := make(map[string]bool, len(p.Topics))
	sum := 0.0
	for _, t := range p.Topics {
		name := strings.TrimSpace(t.Name)
		if name == "" {
			return invalid("topic name is required")
		}
		if seen[name] {
			return invalid("duplicate topic %q", name)
		}
		seen[name] = true
		if t.Freq < 0 {
			return invalid("topic %q has negative frequency", name)
		}
		sum += t.Freq
	}
	if math.Abs(sum-1) > 1e-6 {
		return invalid("topic frequencies sum to %v, want 1", sum)
	}
	teams := make(map[string]bool, len(p.Teams))
	for _, t := range p.Teams {
		name := strings.TrimSpace(t.Name)
		if name == "" {
			return invalid("team name is required")
		}
		if teams[name] {
			return invalid("duplicate team %q", name)
		}
		teams[name] = true
		if s := t.Strategy; s != nil && (s.Cost < 0 || s.Ads < 0 || s.FreePVs < 0) {
			return invalid("team %q strategy values must be >= 0", name)
		}
	}
	return nil
}
