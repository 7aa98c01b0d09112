package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"mediasim/internal/game"
	"mediasim/internal/model"
	"mediasim/internal/randstate"
	"mediasim/internal/simerr"
	"mediasim/internal/store"
	"mediasim/internal/traffic"
)

// Client talks to a mediasim-api server.
type Client struct {
	BaseURL string
	Token   string
	HTTP    *http.Client
}

func NewClient(baseURL, token string) *Client {
	return &Client{
		BaseURL: strings.TrimRight(baseURL, "/"),
		Token:   strings.TrimSpace(token),
		HTTP: &http.Client{
			Timeout: 10 * time.Minute,
		},
	}
}

// APIError is a non-2xx reply. It unwraps to the simerr sentinel matching
// the status, so callers handle local and remote failures alike.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api status %d: %s", e.Status, e.Message)
}

func (e *APIError) Unwrap() error {
	switch e.Status {
	case http.StatusBadRequest:
		return simerr.ErrInvalidArgument
	case http.StatusNotFound:
		return simerr.ErrNotFound
	case http.StatusConflict:
		return simerr.ErrConflict
	default:
		return nil
	}
}

func (c *Client) CreateGame(ctx context.Context, params model.GameParams) (game.GameView, error) {
	var out game.GameView
	err := c.jsonRequest(ctx, http.MethodPost, "/v1/games", params, &out)
	return out, err
}

func (c *Client) ListGames(ctx context.Context) ([]model.Game, error) {
	var out struct {
		Games []model.Game `json:"games"`
	}
	err := c.jsonRequest(ctx, http.MethodGet, "/v1/games", nil, &out)
	return out.Games, err
}

func (c *Client) Game(ctx context.Context, id int64) (game.GameView, error) {
	var out game.GameView
	err := c.jsonRequest(ctx, http.MethodGet, fmt.Sprintf("/v1/games/%d", id), nil, &out)
	return out, err
}

func (c *Client) GenerateTraffic(ctx context.Context, id int64, req game.TrafficRequest) (traffic.Summary, error) {
	var out traffic.Summary
	err := c.jsonRequest(ctx, http.MethodPost, fmt.Sprintf("/v1/games/%d/traffic", id), req, &out)
	return out, err
}

func (c *Client) Backfill(ctx context.Context, id int64) (traffic.Summary, error) {
	var out traffic.Summary
	err := c.jsonRequest(ctx, http.MethodPost, fmt.Sprintf("/v1/games/%d/backfill", id), nil, &out)
	return out, err
}

func (c *Client) AdvanceDay(ctx context.Context, id int64) (traffic.Summary, error) {
	var out traffic.Summary
	err := c.jsonRequest(ctx, http.MethodPost, fmt.Sprintf("/v1/games/%d/advance", id), nil, &out)
	return out, err
}

func (c *Client) Pageviews(ctx context.Context, f store.PageviewFilter) ([]model.Pageview, error) {
	q := url.Values{}
	if f.TeamID != 0 {
		q.Set("team", strconv.FormatInt(f.TeamID, 10))
	}
	if f.UserID != 0 {
		q.Set("user", strconv.FormatInt(f.UserID, 10))
	}
	if f.Days != nil {
		q.Set("from", strconv.Itoa(f.Days.From))
		q.Set("to", strconv.Itoa(f.Days.To))
	}
	if f.Limit > 0 {
		q.Set("limit", strconv.Itoa(f.Limit))
	}
	path := fmt.Sprintf("/v1/games/%d/pageviews", f.GameID)
	if len(q) > 0 {
		path += "?" + q.Encode()
	}
	var out struct {
		Pageviews []model.Pageview `json:"pageviews"`
	}
	err := c.jsonRequest(ctx, http.MethodGet, path, nil, &out)
	return out.Pageviews, err
}

func (c *Client) GenerateRV(ctx context.Context, req game.RVRequest) (randstate.Variates, error) {
	path := fmt.Sprintf("/v1/games/%d/rv", req.GameID)
	if req.TeamID != 0 {
		path = fmt.Sprintf("/v1/games/%d/teams/%d/rv", req.GameID, req.TeamID)
	}
	var out randstate.Variates
	err := c.jsonRequest(ctx, http.MethodPost, path, map[string]any{
		"kind":   req.Kind,
		"n":      req.N,
		"params": req.Params,
	}, &out)
	return out, err
}

func (c *Client) jsonRequest(ctx context.Context, method, path string, in any, out any) error {
	var body io.Reader
	if in != nil {
		raw, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.Token)
	}
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		msg := strings.TrimSpace(string(raw))
		var payload struct {
			Error string `json:"error"`
		}
		if json.Unmarshal(raw, &payload) == nil && payload.Error != "" {
			msg = payload.Error
		}
		return &APIError{Status: resp.StatusCode, Message: msg}
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
