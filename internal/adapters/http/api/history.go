package api

import (
	"context"
	"net/http"

	"github.com/okian/ratekeep/internal/domain/model"
)

// HistoryDependencies defines the interface for rating history reads.
type HistoryDependencies interface {
	History(ctx context.Context, playerID string, limit int) ([]model.RatingPoint, error)
}

// HistoryHandler handles rating history requests.
type HistoryHandler struct {
	deps     HistoryDependencies
	maxLimit int
}

// NewHistoryHandler creates a new history handler.
func NewHistoryHandler(deps HistoryDependencies, maxLimit int) *HistoryHandler {
	return &HistoryHandler{deps: deps, maxLimit: maxLimit}
}

// HandleGetHistory handles GET /history/{player}?limit=N requests.
func (h *HistoryHandler) HandleGetHistory(w http.ResponseWriter, r *http.Request) {
	const op = "api.get_history"
	n, err := parseLimit(r, h.maxLimit, h.maxLimit)
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", WrapKind(op, ErrBadRequest, err))
		return
	}
	points, err := h.deps.History(r.Context(), r.PathValue("player"), n)
	if err != nil {
		writeFailure(w, Wrap(op, err))
		return
	}
	if points == nil {
		points = []model.RatingPoint{}
	}
	writeJSON(w, http.StatusOK, points)
}
