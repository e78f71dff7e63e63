package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/okian/ratekeep/internal/domain/model"
)

// PuzzleDependencies defines the puzzle operations exposed over HTTP.
type PuzzleDependencies interface {
	CreatePuzzle(ctx context.Context, id string, rating model.Rating) (model.Puzzle, error)
	Puzzle(ctx context.Context, id string) (model.Puzzle, error)
	IncrementPlays(ctx context.Context, puzzleID string) error
}

// PuzzleHandler handles puzzle requests.
type PuzzleHandler struct {
	deps PuzzleDependencies
}

// NewPuzzleHandler creates a new puzzle handler.
func NewPuzzleHandler(deps PuzzleDependencies) *PuzzleHandler {
	return &PuzzleHandler{deps: deps}
}

// createPuzzleRequest mirrors the OpenAPI schema for POST /puzzles. Rating
// fields are optional; all three omitted means the default rating.
type createPuzzleRequest struct {
	ID         string  `json:"id"`
	Rating     float64 `json:"rating"`
	Deviation  float64 `json:"deviation"`
	Volatility float64 `json:"volatility"`
}

// HandleCreatePuzzle handles POST /puzzles requests.
func (h *PuzzleHandler) HandleCreatePuzzle(w http.ResponseWriter, r *http.Request) {
	const op = "api.create_puzzle"
	var body createPuzzleRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", WrapKind(op, ErrBadRequest, err))
		return
	}
	if body.ID == "" {
		writeError(w, http.StatusBadRequest, "bad_request", WrapKind(op, ErrBadRequest, errMissing("id")))
		return
	}

	rating := model.Rating{Rating: body.Rating, Deviation: body.Deviation, Volatility: body.Volatility}
	if rating != (model.Rating{}) {
		def := model.DefaultGlicko()
		if rating.Deviation == 0 {
			rating.Deviation = def.Deviation
		}
		if rating.Volatility == 0 {
			rating.Volatility = def.Volatility
		}
	}

	p, err := h.deps.CreatePuzzle(r.Context(), body.ID, rating)
	if err != nil {
		writeFailure(w, Wrap(op, err))
		return
	}
	writeJSON(w, http.StatusCreated, p)
}

// HandleGetPuzzle handles GET /puzzles/{id} requests.
func (h *PuzzleHandler) HandleGetPuzzle(w http.ResponseWriter, r *http.Request) {
	const op = "api.get_puzzle"
	p, err := h.deps.Puzzle(r.Context(), r.PathValue("id"))
	if err != nil {
		writeFailure(w, Wrap(op, err))
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// HandleIncrementPlays handles POST /puzzles/{id}/plays requests.
func (h *PuzzleHandler) HandleIncrementPlays(w http.ResponseWriter, r *http.Request) {
	const op = "api.increment_plays"
	// the body is ignored; drain it so keep-alive connections can be reused
	_, _ = io.Copy(io.Discard, r.Body)

	if err := h.deps.IncrementPlays(r.Context(), r.PathValue("id")); err != nil {
		writeFailure(w, Wrap(op, err))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func errMissing(field string) error {
	return errors.New("missing " + field)
}
