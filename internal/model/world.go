package model

import (
	"fmt"

	"mediasim/internal/simerr"
)

type Topic struct {
	ID     int64   `json:"id"`
	GameID int64   `json:"game_id"`
	Name   string  `json:"name"`
	Freq   float64 `json:"freq"`
}

type Author struct {
	ID           int64   `json:"id"`
	GameID       int64   `json:"game_id"`
	Name         string  `json:"name"`
	Quality      float64 `json:"quality"`
	Productivity float64 `json:"productivity"`
	// Expertise maps topic id to P(topic | author).
	Expertise map[int64]float64 `json:"expertise"`
}

// Popularity is the reader-facing weight of an author in click scoring; it is
// the author's share of the game's output.
func (a Author) Popularity() float64 { return a.Productivity }

// ExpertiseFor fails when the author has no entry for topicID.
func (a Author) ExpertiseFor(topicID int64) (float64, error) {
	v, ok := a.Expertise[topicID]
	if !ok {
		return 0, fmt.Errorf("%w: author %d has no expertise for topic %d", simerr.ErrDataIntegrity, a.ID, topicID)
	}
	return v, nil
}

type Event struct {
	ID        int64   `json:"id"`
	GameID    int64   `json:"game_id"`
	Start     int     `json:"start"`
	End       int     `json:"end"`
	Intensity float64 `json:"intensity"`
	// Relevance maps topic id to the event's share of coverage on that topic.
	Relevance map[int64]float64 `json:"relevance"`
}

func (e Event) LiveOn(day int) bool { return e.Start <= day && day <= e.End }

type Article struct {
	ID        int64   `json:"id"`
	GameID    int64   `json:"game_id"`
	TopicID   int64   `json:"topic_id"`
	AuthorID  int64   `json:"author_id"`
	EventID   int64   `json:"event_id"`
	Day       int     `json:"day"`
	WordCount int     `json:"word_count"`
	Vocab     float64 `json:"vocab"`
}

type User struct {
	ID            int64   `json:"id"`
	GameID        int64   `json:"game_id"`
	IP            string  `json:"ip"`
	Agent         string  `json:"agent"`
	Freq          int     `json:"freq"`
	FirstDay      int     `json:"first_day"`
	Lifetime      int     `json:"lifetime"`
	AdSensitivity float64 `json:"ad_sensitivity"`
	// Demographics are not generated yet.
	Age              *int     `json:"age,omitempty"`
	Income           *float64 `json:"income,omitempty"`
	MediaConsumption *float64 `json:"media_consumption,omitempty"`
	// Interests maps topic id to the user's interest weight.
	Interests       map[int64]float64 `json:"interests"`
	FavoriteAuthors []int64           `json:"favorite_authors"`
}

func (u User) ActiveOn(day int) bool {
	return u.FirstDay <= day && day < u.FirstDay+u.Lifetime
}

// InterestIn fails when the user has no entry for topicID.
func (u User) InterestIn(topicID int64) (float64, error) {
	if len(u.Interests) == 0 {
		return 0, fmt.Errorf("%w: user %d has no topic interests", simerr.ErrDataIntegrity, u.ID)
	}
	v, ok := u.Interests[topicID]
	if !ok {
		return 0, fmt.Errorf("%w: user %d has no interest for topic %d", simerr.ErrDataIntegrity, u.ID, topicID)
	}
	return v, nil
}

// World is the static content of one game, in generation order.
type World struct {
	Teams    []Team    `json:"teams"`
	Topics   []Topic   `json:"topics"`
	Authors  []Author  `json:"authors"`
	Events   []Event   `json:"events"`
	Articles []Article `json:"articles"`
	Users    []User    `json:"users"`
}
