package traffic

import "mediasim/internal/model"

// StrategyResolver picks the strategy a team applies to one pageview.
type StrategyResolver interface {
	Resolve(team model.Team, user model.User, article model.Article, day int) model.Strategy
}

// StrategyFunc adapts a plain function to StrategyResolver.
type StrategyFunc func(team model.Team, user model.User, article model.Article, day int) model.Strategy

func (f StrategyFunc) Resolve(team model.Team, user model.User, article model.Article, day int) model.Strategy {
	return f(team, user, article, day)
}

// FirstStrategy applies the team's first configured strategy, or
// model.DefaultStrategy when it has none.
type FirstStrategy struct{}

func (FirstStrategy) Resolve(team model.Team, _ model.User, _ model.Article, _ int) model.Strategy {
	if len(team.Strategies) > 0 {
		return team.Strategies[0]
	}
	s := model.DefaultStrategy
	s.GameID = team.GameID
	s.TeamID = team.ID
	return s
}
