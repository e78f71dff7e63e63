package api

import (
	"net/http"

	"github.com/okian/ratekeep/internal/domain/model"
)

// FeedDependencies exposes recently delivered finish events.
type FeedDependencies interface {
	RecentFinishes(limit int) []model.FinishEvent
}

// FeedHandler handles recent finish requests.
type FeedHandler struct {
	deps     FeedDependencies
	maxLimit int
}

// NewFeedHandler creates a new feed handler.
func NewFeedHandler(deps FeedDependencies, maxLimit int) *FeedHandler {
	return &FeedHandler{deps: deps, maxLimit: maxLimit}
}

// HandleGetRecent handles GET /finishes/recent?limit=N requests.
func (h *FeedHandler) HandleGetRecent(w http.ResponseWriter, r *http.Request) {
	const op = "api.get_recent"
	n, err := parseLimit(r, h.maxLimit, h.maxLimit)
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", WrapKind(op, ErrBadRequest, err))
		return
	}
	events := h.deps.RecentFinishes(n)
	if events == nil {
		events = []model.FinishEvent{}
	}
	writeJSON(w, http.StatusOK, events)
}
