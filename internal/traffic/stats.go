package traffic

import "math"

// Tally counts what one or more simulated days produced.
type Tally struct {
	Days        int `json:"days"`
	Sessions    int `json:"sessions"`
	Candidates  int `json:"candidates"`
	Clicks      int `json:"clicks"`
	Paywalls    int `json:"paywalls"`
	Conversions int `json:"conversions"`

	scores scoreStats
}

// Add folds o into t.
func (t *Tally) Add(o Tally) {
	t.Days += o.Days
	t.Sessions += o.Sessions
	t.Candidates += o.Candidates
	t.Clicks += o.Clicks
	t.Paywalls += o.Paywalls
	t.Conversions += o.Conversions
	t.scores.merge(o.scores)
}

// ScoreMean is the mean click score over every candidate scored.
func (t Tally) ScoreMean() float64 { return t.scores.mean }

// ScoreStd is the population standard deviation of candidate scores. These
// two figures are what the click cutoff constants were calibrated from.
func (t Tally) ScoreStd() float64 {
	if t.scores.n == 0 {
		return 0
	}
	return math.Sqrt(t.scores.m2 / float64(t.scores.n))
}

// Summary reports one traffic run.
type Summary struct {
	RunID     string  `json:"run_id"`
	GameID    int64   `json:"game_id"`
	StartDay  int     `json:"start_day"`
	EndDay    int     `json:"end_day"`
	Cached    bool    `json:"cached"`
	NextDay   int     `json:"next_day"`
	ScoreMean float64 `json:"score_mean"`
	ScoreStd  float64 `json:"score_std"`
	Tally
}

// scoreStats is a running mean and variance (Welford), mergeable across days.
type scoreStats struct {
	n    int
	mean float64
	m2   float64
}

func (s *scoreStats) observe(x float64) {
	s.n++
	d := x - s.mean
	s.mean += d / float64(s.n)
	s.m2 += d * (x - s.mean)
}

func (s *scoreStats) merge(o scoreStats) {
	if o.n == 0 {
		return
	}
	if s.n == 0 {
		*s = o
		return
	}
	n := s.n + o.n
	d := o.mean - s.mean
	s.mean += d * float64(o.n) / float64(n)
	s.m2 += o.m2 + d*d*float64(s.n)*float64(o.n)/float64(n)
	s.n = n
}
