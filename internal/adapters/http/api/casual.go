package api

import (
	"context"
	"encoding/json"
	"net/http"
)

// CasualDependencies defines what POST /casual needs.
type CasualDependencies interface {
	MarkCasual(ctx context.Context, playerID, puzzleID string) error
}

// CasualHandler handles casual-pair requests.
type CasualHandler struct {
	deps CasualDependencies
}

// NewCasualHandler creates a new casual handler.
func NewCasualHandler(deps CasualDependencies) *CasualHandler {
	return &CasualHandler{deps: deps}
}

type casualRequest struct {
	PlayerID string `json:"player_id"`
	PuzzleID string `json:"puzzle_id"`
}

// HandleMarkCasual handles POST /casual requests.
func (h *CasualHandler) HandleMarkCasual(w http.ResponseWriter, r *http.Request) {
	const op = "api.mark_casual"
	var body casualRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", WrapKind(op, ErrBadRequest, err))
		return
	}
	if err := h.deps.MarkCasual(r.Context(), body.PlayerID, body.PuzzleID); err != nil {
		writeFailure(w, Wrap(op, err))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
