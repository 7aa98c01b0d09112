package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"mediasim/internal/config"
	"mediasim/internal/game"
	"mediasim/internal/model"
	"mediasim/internal/randstate"
	"mediasim/internal/store"
	"mediasim/internal/traffic"
)

func newTestServer(t *testing.T, token string) *httptest.Server {
	t.Helper()
	cache, err := traffic.NewPageviewCache(1024, traffic.SeenWindow)
	if err != nil {
		t.Fatalf("cache: %v", err)
	}
	svc := game.NewService(store.NewMemory(), cache, nil)
	srv := httptest.NewServer(New(config.APIConfig{AdminToken: token}, nil, svc).Handler())
	t.Cleanup(srv.Close)
	return srv
}

func smallParams() model.GameParams {
	p := model.DefaultGameParams()
	p.NDays = 6
	p.NDaysPeriod0 = 3
	p.NAuthors = 4
	p.NUsers = 25
	p.EventsPerDay = 2
	return p
}

func do(t *testing.T, srv *httptest.Server, method, path, token string, body any, out any) int {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode: %v", err)
		}
	}
	req, err := http.NewRequest(method, srv.URL+path, &buf)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	if body == nil {
		req.Body = http.NoBody
		req.ContentLength = 0
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	res, err := srv.Client().Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer res.Body.Close()
	if out != nil {
		if err := json.NewDecoder(res.Body).Decode(out); err != nil {
			t.Fatalf("decode %s %s: %v", method, path, err)
		}
	}
	return res.StatusCode
}

func TestGameLifecycle(t *testing.T) {
	srv := newTestServer(t, "")

	var view game.GameView
	if code := do(t, srv, http.MethodPost, "/v1/games", "", smallParams(), &view); code != http.StatusCreated {
		t.Fatalf("create status = %d", code)
	}
	if view.ID != 1 || len(view.Teams) != 2 || view.NextDay != 0 {
		t.Fatalf("created game = %+v", view)
	}

	var list struct {
		Games []model.Game `json:"games"`
	}
	if code := do(t, srv, http.MethodGet, "/v1/games", "", nil, &list); code != http.StatusOK || len(list.Games) != 1 {
		t.Fatalf("list status = %d games = %d", code, len(list.Games))
	}

	var sum traffic.Summary
	if code := do(t, srv, http.MethodPost, "/v1/games/1/backfill", "", nil, &sum); code != http.StatusOK {
		t.Fatalf("backfill status = %d", code)
	}
	if sum.NextDay != 3 || !sum.Cached {
		t.Fatalf("backfill summary = %+v", sum)
	}
	if code := do(t, srv, http.MethodPost, "/v1/games/1/advance", "", nil, &sum); code != http.StatusOK || sum.NextDay != 4 {
		t.Fatalf("advance status = %d summary = %+v", code, sum)
	}
	req := game.TrafficRequest{Start: 4, End: 6}
	if code := do(t, srv, http.MethodPost, "/v1/games/1/traffic", "", req, &sum); code != http.StatusOK || sum.NextDay != 6 {
		t.Fatalf("traffic status = %d summary = %+v", code, sum)
	}
	if code := do(t, srv, http.MethodPost, "/v1/games/1/advance", "", nil, nil); code != http.StatusConflict {
		t.Fatalf("advance past end status = %d", code)
	}

	var pvs struct {
		Pageviews []model.Pageview `json:"pageviews"`
	}
	if code := do(t, srv, http.MethodGet, "/v1/games/1/pageviews?team=1&from=4&to=5", "", nil, &pvs); code != http.StatusOK {
		t.Fatalf("pageviews status = %d", code)
	}
	for _, pv := range pvs.Pageviews {
		if pv.TeamID != 1 || pv.Day < 4 || pv.Day > 5 {
			t.Fatalf("pageview outside filter: %+v", pv)
		}
	}
}

func TestRandomVariates(t *testing.T) {
	srv := newTestServer(t, "")
	if code := do(t, srv, http.MethodPost, "/v1/games", "", smallParams(), nil); code != http.StatusCreated {
		t.Fatalf("create status = %d", code)
	}

	var v randstate.Variates
	body := map[string]any{"kind": "uniform", "n": 4, "params": map[string]any{"low": 2, "high": 3}}
	if code := do(t, srv, http.MethodPost, "/v1/games/1/rv", "", body, &v); code != http.StatusOK {
		t.Fatalf("game rv status = %d", code)
	}
	if v.Kind != randstate.KindUniform || len(v.Floats) != 4 {
		t.Fatalf("variates = %+v", v)
	}
	for _, x := range v.Floats {
		if x < 2 || x >= 3 {
			t.Fatalf("uniform draw %v outside [2, 3)", x)
		}
	}

	var again randstate.Variates
	if code := do(t, srv, http.MethodPost, "/v1/games/1/rv", "", body, &again); code != http.StatusOK {
		t.Fatalf("second rv status = %d", code)
	}
	if again.Floats[0] == v.Floats[0] {
		t.Fatalf("stream did not advance between requests")
	}

	team := map[string]any{"kind": "name", "n": 2}
	if code := do(t, srv, http.MethodPost, "/v1/games/1/teams/2/rv", "", team, &v); code != http.StatusOK || len(v.Strings) != 2 {
		t.Fatalf("team rv status = %d variates = %+v", code, v)
	}

	tests := []struct {
		name string
		path string
		body any
		want int
	}{
		{name: "unknown kind", path: "/v1/games/1/rv", body: map[string]any{"kind": "cauchy", "n": 1}, want: http.StatusBadRequest},
		{name: "missing params", path: "/v1/games/1/rv", body: map[string]any{"kind": "dirichlet", "n": 1}, want: http.StatusBadRequest},
		{name: "unknown field", path: "/v1/games/1/rv", body: map[string]any{"kind": "uniform", "count": 1}, want: http.StatusBadRequest},
		{name: "unknown game", path: "/v1/games/9/rv", body: map[string]any{"kind": "uniform", "n": 1}, want: http.StatusNotFound},
		{name: "unknown team", path: "/v1/games/1/teams/9/rv", body: map[string]any{"kind": "uniform", "n": 1}, want: http.StatusNotFound},
		{name: "bad id", path: "/v1/games/abc/rv", body: map[string]any{"kind": "uniform", "n": 1}, want: http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if code := do(t, srv, http.MethodPost, tt.path, "", tt.body, nil); code != tt.want {
				t.Fatalf("status = %d, want %d", code, tt.want)
			}
		})
	}
}

func TestAdminToken(t *testing.T) {
	srv := newTestServer(t, "s3cret")

	if code := do(t, srv, http.MethodPost, "/v1/games", "", smallParams(), nil); code != http.StatusUnauthorized {
		t.Fatalf("no token status = %d", code)
	}
	if code := do(t, srv, http.MethodPost, "/v1/games", "wrong", smallParams(), nil); code != http.StatusUnauthorized {
		t.Fatalf("wrong token status = %d", code)
	}
	if code := do(t, srv, http.MethodPost, "/v1/games", "s3cret", smallParams(), nil); code != http.StatusCreated {
		t.Fatalf("admin status = %d", code)
	}
	if code := do(t, srv, http.MethodGet, "/v1/games/1", "", nil, nil); code != http.StatusOK {
		t.Fatalf("read status = %d", code)
	}
	if code := do(t, srv, http.MethodGet, "/v1/games/2", "", nil, nil); code != http.StatusNotFound {
		t.Fatalf("missing game status = %d", code)
	}
	if code := do(t, srv, http.MethodGet, "/v1/games/2/pageviews", "", nil, nil); code != http.StatusNotFound {
		t.Fatalf("missing game pageviews status = %d", code)
	}
}

func TestBearerToken(t *testing.T) {
	tests := []struct {
		header string
		want   string
	}{
		{"", ""},
		{"Bearer abc", "abc"},
		{"bearer  abc ", "abc"},
		{"Basic abc", ""},
		{"Bearer", ""},
	}
	for _, tt := range tests {
		if got := bearerToken(tt.header); got != tt.want {
			t.Fatalf("bearerToken(%q) = %q, want %q", tt.header, got, tt.want)
		}
	}
}
