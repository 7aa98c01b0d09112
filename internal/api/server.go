package api

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"mediasim/internal/config"
	"mediasim/internal/game"
	"mediasim/internal/model"
	"mediasim/internal/randstate"
	"mediasim/internal/simerr"
	"mediasim/internal/store"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

type Server struct {
	cfg  config.APIConfig
	log  *slog.Logger
	game *game.Service
	mux  *chi.Mux
}

func New(cfg config.APIConfig, logger *slog.Logger, gameSvc *game.Service) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		cfg:  cfg,
		log:  logger,
		game: gameSvc,
		mux:  chi.NewRouter(),
	}
	s.routes()
	return s
}

func (s *Server) Handler() http.Handler {
	return s.mux
}

func (s *Server) routes() {
	r := s.mux
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(10 * time.Minute))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
	})

	r.Route("/v1", func(r chi.Router) {
		r.Get("/games", s.handleGamesList)
		r.Get("/games/{id}", s.handleGame)
		r.Get("/games/{id}/pageviews", s.handlePageviews)

		r.Group(func(r chi.Router) {
			r.Use(s.adminMiddleware)
			r.Post("/games", s.handleCreateGame)
			r.Post("/games/{id}/traffic", s.handleTraffic)
			r.Post("/games/{id}/backfill", s.handleBackfill)
			r.Post("/games/{id}/advance", s.handleAdvance)
			r.Post("/games/{id}/rv", s.handleGameRV)
			r.Post("/games/{id}/teams/{teamID}/rv", s.handleTeamRV)
		})
	})
}

// adminMiddleware guards every mutating route with MEDIASIM_ADMIN_TOKEN.
// With no token configured the routes are open.
func (s *Server) adminMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.cfg.AdminToken == "" {
			next.ServeHTTP(w, r)
			return
		}
		token := bearerToken(r.Header.Get("Authorization"))
		if token == "" {
			writeError(w, http.StatusUnauthorized, "missing bearer token")
			return
		}
		if subtle.ConstantTimeCompare([]byte(token), []byte(s.cfg.AdminToken)) != 1 {
			writeError(w, http.StatusUnauthorized, "invalid token")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleGamesList(w http.ResponseWriter, r *http.Request) {
	games, err := s.game.Games(r.Context())
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if games == nil {
		games = []model.Game{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"games": games})
}

func (s *Server) handleGame(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	view, err := s.game.View(r.Context(), id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (s *Server) handleCreateGame(w http.ResponseWriter, r *http.Request) {
	params := model.DefaultGameParams()
	if r.ContentLength != 0 {
		if err := decodeJSON(r, &params); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
	}
	g, err := s.game.SeedWorld(r.Context(), params)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	view, err := s.game.View(r.Context(), g.ID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, view)
}

func (s *Server) handleTraffic(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	var in game.TrafficRequest
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	sum, err := s.game.GenerateTraffic(r.Context(), id, in.Start, in.End, in.UseCache)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sum)
}

func (s *Server) handleBackfill(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	sum, err := s.game.Backfill(r.Context(), id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sum)
}

func (s *Server) handleAdvance(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	sum, err := s.game.AdvanceDay(r.Context(), id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sum)
}

func (s *Server) handlePageviews(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	q := r.URL.Query()
	f := store.PageviewFilter{GameID: id}
	if f.TeamID, err = queryInt64(q.Get("team")); err != nil {
		writeError(w, http.StatusBadRequest, "team: "+err.Error())
		return
	}
	if f.UserID, err = queryInt64(q.Get("user")); err != nil {
		writeError(w, http.StatusBadRequest, "user: "+err.Error())
		return
	}
	limit, err := queryInt64(q.Get("limit"))
	if err != nil || limit < 0 {
		writeError(w, http.StatusBadRequest, "limit must be a non-negative integer")
		return
	}
	f.Limit = int(limit)
	if q.Has("from") || q.Has("to") {
		from, err := queryInt64(q.Get("from"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "from: "+err.Error())
			return
		}
		to := int64(math.MaxInt32)
		if q.Has("to") {
			if to, err = queryInt64(q.Get("to")); err != nil {
				writeError(w, http.StatusBadRequest, "to: "+err.Error())
				return
			}
		}
		f.Days = store.Days(int(from), int(to))
	}
	if _, err := s.game.Game(r.Context(), id); err != nil {
		writeDomainError(w, err)
		return
	}
	pvs, err := s.game.Pageviews(r.Context(), f)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if pvs == nil {
		pvs = []model.Pageview{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"pageviews": pvs})
}

type rvInput struct {
	Kind   randstate.Kind   `json:"kind"`
	N      int              `json:"n"`
	Params randstate.Params `json:"params"`
}

func (s *Server) handleGameRV(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	s.generateRV(w, r, id, 0)
}

func (s *Server) handleTeamRV(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	teamID, err := pathID(r, "teamID")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	s.generateRV(w, r, id, teamID)
}

func (s *Server) generateRV(w http.ResponseWriter, r *http.Request, gameID, teamID int64) {
	var in rvInput
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if in.N == 0 {
		in.N = 1
	}
	v, err := s.game.GenerateRV(r.Context(), game.RVRequest{
		GameID: gameID,
		TeamID: teamID,
		Kind:   in.Kind,
		N:      in.N,
		Params: in.Params,
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

func writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, simerr.ErrInvalidArgument):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, simerr.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, simerr.ErrConflict):
		writeError(w, http.StatusConflict, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

func pathID(r *http.Request, name string) (int64, error) {
	id, err := strconv.ParseInt(chi.URLParam(r, name), 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid %s", name)
	}
	return id, nil
}

func queryInt64(v string) (int64, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0, nil
	}
	return strconv.ParseInt(v, 10, 64)
}

func decodeJSON(r *http.Request, out any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(out); err != nil {
		return err
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]any{"error": strings.TrimSpace(message)})
}

func bearerToken(header string) string {
	header = strings.TrimSpace(header)
	if header == "" {
		return ""
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}
