package game

import (
	"mediasim/internal/model"
	"mediasim/internal/randstate"
)

// RVRequest asks for n variates from a game's stream, or from one of its
// teams when TeamID is set.
type RVRequest struct {
	GameID int64            `json:"game_id"`
	TeamID int64            `json:"team_id,omitempty"`
	Kind   randstate.Kind   `json:"kind"`
	N      int              `json:"n"`
	Params randstate.Params `json:"params"`
}

type TrafficRequest struct {
	Start    int  `json:"start"`
	End      int  `json:"end"`
	UseCache bool `json:"use_cache"`
}

// GameView is a game with its teams, as returned by the API.
type GameView struct {
	model.Game
	Teams []model.Team `json:"teams"`
}
