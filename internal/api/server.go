// Package api serves a read-only HTTP view of the chain state.
package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"cosmossdk.io/log"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"oddeven/apps/chain/internal/game"
)

// Querier is the read side of the app.
type Querier interface {
	ActiveGame() *game.Game
	FinishedGames() []*game.Game
	Game(id uint64) *game.Game
	Params() game.Params
	Balance(addr string) uint64
	Height() int64
}

type Server struct {
	q         Querier
	logger    log.Logger
	startTime time.Time
}

func NewServer(q Querier, logger log.Logger) *Server {
	return &Server{
		q:         q,
		logger:    logger.With(log.ModuleKey, "api"),
		startTime: time.Now(),
	}
}

// ErrorResponse is the body of every non-2xx reply.
type ErrorResponse struct {
	Error     string `json:"error"`
	RequestID string `json:"requestId,omitempty"`
}

// ParamsResponse adds the derived judge fee to the chain params.
type ParamsResponse struct {
	game.Params
	JudgeFeeBps uint64 `json:"judgeFeeBps"`
}

type AccountResponse struct {
	Addr    string `json:"addr"`
	Balance uint64 `json:"balance"`
}

type HealthResponse struct {
	Status string `json:"status"`
	Height int64  `json:"height"`
	Uptime string `json:"uptime"`
}

func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(10 * time.Second))

	r.Get("/health", s.handleHealth)

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/games/active", s.handleActiveGame)
		r.Get("/games/finished", s.handleFinishedGames)
		r.Get("/games/{id}", s.handleGame)
		r.Get("/params", s.handleParams)
		r.Get("/accounts/{addr}", s.handleAccount)
	})

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, HealthResponse{
		Status: "ok",
		Height: s.q.Height(),
		Uptime: time.Since(s.startTime).Round(time.Second).String(),
	})
}

func (s *Server) handleActiveGame(w http.ResponseWriter, r *http.Request) {
	g := s.q.ActiveGame()
	if g == nil {
		s.writeError(w, r, http.StatusNotFound, "no active game")
		return
	}
	s.writeJSON(w, http.StatusOK, g)
}

func (s *Server) handleFinishedGames(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, s.q.FinishedGames())
}

func (s *Server) handleGame(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseUint(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		s.writeError(w, r, http.StatusBadRequest, "invalid game id")
		return
	}
	g := s.q.Game(id)
	if g == nil {
		s.writeError(w, r, http.StatusNotFound, "game not found")
		return
	}
	s.writeJSON(w, http.StatusOK, g)
}

func (s *Server) handleParams(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, ParamsResponse{Params: s.q.Params(), JudgeFeeBps: game.JudgeFeeBps})
}

func (s *Server) handleAccount(w http.ResponseWriter, r *http.Request) {
	addr := chi.URLParam(r, "addr")
	s.writeJSON(w, http.StatusOK, AccountResponse{Addr: addr, Balance: s.q.Balance(addr)})
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.logger.Debug("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration", time.Since(start),
			"requestId", middleware.GetReqID(r.Context()),
		)
	})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.logger.Error("encode response", "err", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, status int, msg string) {
	s.writeJSON(w, status, ErrorResponse{Error: msg, RequestID: middleware.GetReqID(r.Context())})
}
