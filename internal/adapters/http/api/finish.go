package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	service "github.com/okian/ratekeep/internal/app"
	"github.com/okian/ratekeep/internal/domain/finisher"
	"github.com/okian/ratekeep/internal/domain/model"
	"github.com/okian/ratekeep/internal/domain/theme"
)

// FinishDependencies defines what POST /finish needs.
type FinishDependencies interface {
	Finish(ctx context.Context, req service.FinishRequest) (finisher.Result, error)
}

// FinishHandler handles finish requests.
type FinishHandler struct {
	deps FinishDependencies
}

// NewFinishHandler creates a new finish handler.
func NewFinishHandler(deps FinishDependencies) *FinishHandler {
	return &FinishHandler{deps: deps}
}

// finishRequest mirrors the OpenAPI schema for POST /finish.
type finishRequest struct {
	RequestID string `json:"request_id"`
	PlayerID  string `json:"player_id"`
	PuzzleID  string `json:"puzzle_id"`
	Theme     string `json:"theme"`
	Win       *bool  `json:"win"`
	Mode      string `json:"mode"`
}

func (f finishRequest) toService() (service.FinishRequest, error) {
	const op = "api.finish_request"
	switch {
	case strings.TrimSpace(f.PlayerID) == "":
		return service.FinishRequest{}, WrapKind(op, ErrBadRequest, errMissing("player_id"))
	case strings.TrimSpace(f.PuzzleID) == "":
		return service.FinishRequest{}, WrapKind(op, ErrBadRequest, errMissing("puzzle_id"))
	case f.Win == nil:
		return service.FinishRequest{}, WrapKind(op, ErrBadRequest, errMissing("win"))
	}

	th := theme.Mix
	if f.Theme != "" {
		parsed, err := theme.Parse(f.Theme)
		if err != nil {
			return service.FinishRequest{}, WrapKind(op, ErrBadRequest, err)
		}
		th = parsed
	}

	mode := model.ModeRated
	switch model.Mode(f.Mode) {
	case "", model.ModeRated:
	case model.ModeCasual:
		mode = model.ModeCasual
	default:
		return service.FinishRequest{}, WrapKind(op, ErrBadRequest, fmt.Errorf("unknown mode %q", f.Mode))
	}

	return service.FinishRequest{
		RequestID: f.RequestID,
		PlayerID:  f.PlayerID,
		PuzzleID:  f.PuzzleID,
		Theme:     th,
		Win:       *f.Win,
		Mode:      mode,
	}, nil
}

// HandlePostFinish handles POST /finish requests.
func (h *FinishHandler) HandlePostFinish(w http.ResponseWriter, r *http.Request) {
	const op = "api.post_finish"
	var body finishRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", WrapKind(op, ErrBadRequest, err))
		return
	}
	req, err := body.toService()
	if err != nil {
		writeFailure(w, err)
		return
	}

	res, err := h.deps.Finish(r.Context(), req)
	if err != nil {
		writeFailure(w, Wrap(op, err))
		return
	}
	writeJSON(w, http.StatusOK, res)
}
