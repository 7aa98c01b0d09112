package model

type Pageview struct {
	ID         int64   `json:"id"`
	GameID     int64   `json:"game_id"`
	TeamID     int64   `json:"team_id"`
	UserID     int64   `json:"user_id"`
	ArticleID  int64   `json:"article_id"`
	Day        int     `json:"day"`
	Duration   float64 `json:"duration"`
	AdsSeen    int     `json:"ads_seen"`
	SawPaywall bool    `json:"saw_paywall"`
	Converted  bool    `json:"converted"`
}

// UserStrategy records that a user converted to a paying relationship with a
// team. At most one exists per (team, user).
type UserStrategy struct {
	GameID     int64 `json:"game_id"`
	TeamID     int64 `json:"team_id"`
	UserID     int64 `json:"user_id"`
	StrategyID int64 `json:"strategy_id"`
	StartDay   int   `json:"start_day"`
	EndDay     *int  `json:"end_day,omitempty"`
}

// DayCommit is everything one simulated day writes. Stores persist it
// atomically.
type DayCommit struct {
	GameID      int64
	Day         int
	GameState   string
	TeamStates  map[int64]string
	Pageviews   []Pageview
	Conversions []UserStrategy
	// Sessions lists the clicks of every (team, user) session in simulation
	// order, empty sessions included. Stores do not persist it.
	Sessions []SessionClicks
}

type SessionClicks struct {
	TeamID   int64
	UserID   int64
	Articles []int64
}
