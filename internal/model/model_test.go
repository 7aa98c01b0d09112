package model

import (
	"errors"
	"testing"

	"mediasim/internal/simerr"
)

func TestGameParamsValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(p *GameParams)
		ok     bool
	}{
		{name: "defaults", mutate: func(p *GameParams) {}, ok: true},
		{name: "no teams", mutate: func(p *GameParams) { p.Teams = nil }, ok: true},
		{name: "blank name", mutate: func(p *GameParams) { p.Name = "  " }},
		{name: "zero days", mutate: func(p *GameParams) { p.NDays = 0 }},
		{name: "period 0 past horizon", mutate: func(p *GameParams) { p.NDaysPeriod0 = p.NDays + 1 }},
		{name: "no authors", mutate: func(p *GameParams) { p.NAuthors = 0 }},
		{name: "negative users", mutate: func(p *GameParams) { p.NUsers = -1 }},
		{name: "zero event rate", mutate: func(p *GameParams) { p.EventsPerDay = 0 }},
		{name: "no topics", mutate: func(p *GameParams) { p.Topics = nil }},
		{name: "topic freqs off", mutate: func(p *GameParams) { p.Topics[0].Freq = 0.5 }},
		{name: "duplicate topic", mutate: func(p *GameParams) { p.Topics[1].Name = p.Topics[0].Name }},
		{name: "duplicate team", mutate: func(p *GameParams) { p.Teams[1].Name = p.Teams[0].Name }},
		{name: "negative free views", mutate: func(p *GameParams) { p.Teams[0].Strategy.FreePVs = -1 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := DefaultGameParams()
			tt.mutate(&p)
			err := p.Validate()
			if tt.ok && err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if !tt.ok && !errors.Is(err, simerr.ErrInvalidArgument) {
				t.Fatalf("err = %v, want invalid argument", err)
			}
		})
	}
}

func TestLookupsReportIntegrityErrors(t *testing.T) {
	u := User{ID: 4}
	if _, err := u.InterestIn(1); !errors.Is(err, simerr.ErrDataIntegrity) {
		t.Fatalf("empty interests: err = %v", err)
	}
	u.Interests = map[int64]float64{1: 0.4, 2: 0.6}
	if v, err := u.InterestIn(2); err != nil || v != 0.6 {
		t.Fatalf("InterestIn(2) = %v, %v", v, err)
	}
	if _, err := u.InterestIn(3); !errors.Is(err, simerr.ErrDataIntegrity) {
		t.Fatalf("missing topic: err = %v", err)
	}

	a := Author{ID: 2, Productivity: 0.3, Expertise: map[int64]float64{1: 1}}
	if _, err := a.ExpertiseFor(9); !errors.Is(err, simerr.ErrDataIntegrity) {
		t.Fatalf("missing expertise: err = %v", err)
	}
	if a.Popularity() != 0.3 {
		t.Fatalf("popularity = %v", a.Popularity())
	}
}

func TestActivityWindows(t *testing.T) {
	u := User{FirstDay: 10, Lifetime: 5}
	for day, want := range map[int]bool{9: false, 10: true, 14: true, 15: false} {
		if got := u.ActiveOn(day); got != want {
			t.Fatalf("ActiveOn(%d) = %v", day, got)
		}
	}
	e := Event{Start: 3, End: 5}
	if e.LiveOn(2) || !e.LiveOn(3) || !e.LiveOn(5) || e.LiveOn(6) {
		t.Fatalf("LiveOn window wrong")
	}
}
