package world

import (
	"math"

	"mediasim/internal/model"
)

// decayFloor is the smallest time effect that still counts as live.
const decayFloor = 0.01

// TimeEffect is how strongly an event still drives coverage on day. It is 1
// on the start day and decays exponentially with a half-life set by the
// intensity; values under decayFloor are cut to 0.
func TimeEffect(intensity float64, start, day int) float64 {
	if day < start {
		return 0
	}
	if intensity >= 1 {
		return 1
	}
	tau := -4 / math.Log(intensity)
	v := math.Exp(-float64(day-start) / tau)
	if v < decayFloor {
		return 0
	}
	return v
}

// lastLiveDay is the last day TimeEffect stays at or above the floor, capped
// at the game horizon.
func lastLiveDay(intensity float64, start, nDays int) int {
	last := nDays - 1
	if intensity >= 1 {
		return last
	}
	tau := -4 / math.Log(intensity)
	span := math.Floor(tau * math.Log(1/decayFloor))
	if float64(start)+span >= float64(last) {
		return last
	}
	return start + int(span)
}

// LiveEvents returns the events live on day, preserving order.
func LiveEvents(events []model.Event, day int) []model.Event {
	var out []model.Event
	for _, e := range events {
		if e.LiveOn(day) {
			out = append(out, e)
		}
	}
	return out
}

// Longtail is the earliest start among live events, or day itself when none
// are live. Articles older than it are not offered to readers.
func Longtail(live []model.Event, day int) int {
	lo := day
	for _, e := range live {
		if e.Start < lo {
			lo = e.Start
		}
	}
	return lo
}
