// Package api declares HTTP contracts and route registration helpers.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	service "github.com/okian/ratekeep/internal/app"
	"github.com/okian/ratekeep/internal/adapters/mq/sequencer"
	"github.com/okian/ratekeep/internal/adapters/repository"
	"github.com/okian/ratekeep/internal/domain/finisher"
	"github.com/okian/ratekeep/internal/domain/theme"
	"github.com/okian/ratekeep/internal/domain/types"
)

// Dependencies required by HTTP handlers. Using an interface bundle keeps
// the handler layer loosely coupled to implementations in other packages.
type Dependencies interface {
	FinishDependencies
	PuzzleDependencies
	CasualDependencies
	LeaderboardDependencies
	RankDependencies
	HistoryDependencies
	FeedDependencies
}

// Entry mirrors the read shape returned by leaderboard queries.
type Entry = types.Entry

// Server wires HTTP routes for the business API.
type Server struct {
	healthHandler      *HealthHandler
	statsHandler       *StatsHandler
	finishHandler      *FinishHandler
	puzzleHandler      *PuzzleHandler
	casualHandler      *CasualHandler
	leaderboardHandler *LeaderboardHandler
	rankHandler        *RankHandler
	historyHandler     *HistoryHandler
	feedHandler        *FeedHandler
}

// NewServer creates a new API server with all handlers.
func NewServer(deps Dependencies, statsProvider StatsProvider, maxLimit int) *Server {
	return &Server{
		healthHandler:      NewHealthHandler(),
		statsHandler:       NewStatsHandler(statsProvider),
		finishHandler:      NewFinishHandler(deps),
		puzzleHandler:      NewPuzzleHandler(deps),
		casualHandler:      NewCasualHandler(deps),
		leaderboardHandler: NewLeaderboardHandler(deps, maxLimit),
		rankHandler:        NewRankHandler(deps),
		historyHandler:     NewHistoryHandler(deps, maxLimit),
		feedHandler:        NewFeedHandler(deps, maxLimit),
	}
}

// Register attaches all HTTP routes to mux.
func (s *Server) Register(_ context.Context, mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", MetricsMiddleware(s.healthHandler.HandleHealth, "healthz"))
	mux.HandleFunc("GET /metrics", s.healthHandler.HandleHealth)
	mux.HandleFunc("GET /stats", MetricsMiddleware(s.statsHandler.HandleStats, "stats"))
	mux.HandleFunc("POST /finish", MetricsMiddleware(s.finishHandler.HandlePostFinish, "finish"))
	mux.HandleFunc("POST /puzzles", MetricsMiddleware(s.puzzleHandler.HandleCreatePuzzle, "puzzles"))
	mux.HandleFunc("GET /puzzles/{id}", MetricsMiddleware(s.puzzleHandler.HandleGetPuzzle, "puzzle"))
	mux.HandleFunc("POST /puzzles/{id}/plays", MetricsMiddleware(s.puzzleHandler.HandleIncrementPlays, "plays"))
	mux.HandleFunc("POST /casual", MetricsMiddleware(s.casualHandler.HandleMarkCasual, "casual"))
	mux.HandleFunc("GET /leaderboard", MetricsMiddleware(s.leaderboardHandler.HandleGetLeaderboard, "leaderboard"))
	mux.HandleFunc("GET /rank/{player}", MetricsMiddleware(s.rankHandler.HandleGetRank, "rank"))
	mux.HandleFunc("GET /history/{player}", MetricsMiddleware(s.historyHandler.HandleGetHistory, "history"))
	mux.HandleFunc("GET /finishes/recent", MetricsMiddleware(s.feedHandler.HandleGetRecent, "recent"))
}

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code string, err error) {
	msg := http.StatusText(status)
	if err != nil {
		msg = err.Error()
	}
	writeJSON(w, status, errorResponse{Code: code, Message: msg})
}

// writeFailure maps domain errors onto status codes.
func writeFailure(w http.ResponseWriter, err error) {
	status, code := classify(err)
	writeError(w, status, code, err)
}

func classify(err error) (int, string) {
	switch {
	case errors.Is(err, ErrBadRequest),
		errors.Is(err, service.ErrInvalidRequest),
		errors.Is(err, service.ErrInvalidRating),
		errors.Is(err, theme.ErrUnknown),
		errors.Is(err, repository.ErrInvalidLimit):
		return http.StatusBadRequest, "bad_request"
	case errors.Is(err, finisher.ErrPuzzleNotFound),
		errors.Is(err, repository.ErrNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, service.ErrDuplicate),
		errors.Is(err, repository.ErrExists):
		return http.StatusConflict, "duplicate"
	case errors.Is(err, sequencer.ErrBusy):
		return http.StatusTooManyRequests, "backpressure"
	case errors.Is(err, sequencer.ErrTimeout),
		errors.Is(err, sequencer.ErrClosed),
		errors.Is(err, service.ErrNotStarted):
		return http.StatusServiceUnavailable, "unavailable"
	default:
		return http.StatusInternalServerError, "internal_error"
	}
}

// parseLimit reads ?limit=, falling back to def when absent.
func parseLimit(r *http.Request, def, maxLimit int) (int, error) {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 {
		return 0, errors.New("limit must be a positive integer")
	}
	if n > maxLimit {
		return 0, errors.New("limit exceeds maximum of " + strconv.Itoa(maxLimit))
	}
	return n, nil
}
