package api_test

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"

	"github.com/okian/ratekeep/internal/adapters/http/api"
	"github.com/okian/ratekeep/internal/adapters/mq/sequencer"
	"github.com/okian/ratekeep/internal/adapters/repository"
	service "github.com/okian/ratekeep/internal/app"
	"github.com/okian/ratekeep/internal/domain/finisher"
	"github.com/okian/ratekeep/internal/domain/model"
	"github.com/okian/ratekeep/internal/domain/theme"
	"github.com/okian/ratekeep/internal/domain/types"
)

// mockDependencies records calls and returns canned answers.
type mockDependencies struct {
	finishReq  service.FinishRequest
	finishRes  finisher.Result
	finishErr  error
	created    model.Puzzle
	createErr  error
	puzzle     model.Puzzle
	puzzleErr  error
	playsID    string
	playsErr   error
	casualErr  error
	casualPair [2]string
	topN       []types.Entry
	topNErr    error
	topNLimit  int
	rank       types.Entry
	rankErr    error
	history    []model.RatingPoint
	historyErr error
	histLimit  int
	recent     []model.FinishEvent
}

func (m *mockDependencies) Finish(_ context.Context, req service.FinishRequest) (finisher.Result, error) {
	m.finishReq = req
	return m.finishRes, m.finishErr
}

func (m *mockDependencies) CreatePuzzle(_ context.Context, id string, r model.Rating) (model.Puzzle, error) {
	m.created = model.Puzzle{ID: id, Rating: r}
	return m.created, m.createErr
}

func (m *mockDependencies) Puzzle(_ context.Context, id string) (model.Puzzle, error) {
	return m.puzzle, m.puzzleErr
}

func (m *mockDependencies) IncrementPlays(_ context.Context, id string) error {
	m.playsID = id
	return m.playsErr
}

func (m *mockDependencies) MarkCasual(_ context.Context, playerID, puzzleID string) error {
	m.casualPair = [2]string{playerID, puzzleID}
	return m.casualErr
}

func (m *mockDependencies) TopN(_ context.Context, n int) ([]types.Entry, error) {
	m.topNLimit = n
	if m.topNErr != nil {
		return nil, m.topNErr
	}
	if n > len(m.topN) {
		return m.topN, nil
	}
	return m.topN[:n], nil
}

func (m *mockDependencies) Rank(_ context.Context, playerID string) (types.Entry, error) {
	return m.rank, m.rankErr
}

func (m *mockDependencies) History(_ context.Context, playerID string, limit int) ([]model.RatingPoint, error) {
	m.histLimit = limit
	return m.history, m.historyErr
}

func (m *mockDependencies) RecentFinishes(limit int) []model.FinishEvent {
	if limit > 0 && limit < len(m.recent) {
		return m.recent[:limit]
	}
	return m.recent
}

type mockStatsProvider struct {
	stats map[string]interface{}
}

func (m *mockStatsProvider) GetStats() map[string]interface{} {
	return m.stats
}

func newMux(deps *mockDependencies) *http.ServeMux {
	server := api.NewServer(deps, &mockStatsProvider{stats: map[string]interface{}{"started": true}}, 50)
	mux := http.NewServeMux()
	server.Register(context.Background(), mux)
	return mux
}

func do(mux *http.ServeMux, method, path, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, http.NoBody)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
	}
	w := httptest.NewRecorder()
	mux.ServeHTTP(w, req)
	return w
}

func errorCode(w *httptest.ResponseRecorder) string {
	var body struct {
		Code string `json:"code"`
	}
	_ = json.Unmarshal(w.Body.Bytes(), &body)
	return body.Code
}

func TestFinishEndpoint(t *testing.T) {
	Convey("Given the API with mocked dependencies", t, func() {
		deps := &mockDependencies{}
		mux := newMux(deps)

		Convey("A valid finish is passed through and answered with the result", func() {
			deps.finishRes = finisher.Result{
				Round:  model.Round{PlayerID: "u1", PuzzleID: "z1", Win: true, CreatedAt: time.Unix(0, 0).UTC()},
				Rating: model.Rating{Rating: 1520, Deviation: 300, Volatility: 0.09},
			}
			w := do(mux, http.MethodPost, "/finish", `{"request_id":"r1","player_id":"u1","puzzle_id":"z1","theme":"fork","win":true}`)

			So(w.Code, ShouldEqual, http.StatusOK)
			So(deps.finishReq, ShouldResemble, service.FinishRequest{
				RequestID: "r1", PlayerID: "u1", PuzzleID: "z1", Theme: theme.Fork, Win: true, Mode: model.ModeRated,
			})

			var got finisher.Result
			So(json.Unmarshal(w.Body.Bytes(), &got), ShouldBeNil)
			So(got.Rating.Rating, ShouldEqual, 1520)
			So(got.Round.Win, ShouldBeTrue)
		})

		Convey("Theme and mode default to mix and rated", func() {
			w := do(mux, http.MethodPost, "/finish", `{"player_id":"u1","puzzle_id":"z1","win":false}`)
			So(w.Code, ShouldEqual, http.StatusOK)
			So(deps.finishReq.Theme, ShouldEqual, theme.Mix)
			So(deps.finishReq.Mode, ShouldEqual, model.ModeRated)
		})

		Convey("Casual mode is accepted", func() {
			w := do(mux, http.MethodPost, "/finish", `{"player_id":"u1","puzzle_id":"z1","win":true,"mode":"casual"}`)
			So(w.Code, ShouldEqual, http.StatusOK)
			So(deps.finishReq.Mode, ShouldEqual, model.ModeCasual)
		})

		Convey("Malformed requests are rejected before reaching the service", func() {
			for _, body := range []string{
				`not json`,
				`{"puzzle_id":"z1","win":true}`,
				`{"player_id":"u1","win":true}`,
				`{"player_id":"u1","puzzle_id":"z1"}`,
				`{"player_id":"u1","puzzle_id":"z1","win":true,"theme":"nope"}`,
				`{"player_id":"u1","puzzle_id":"z1","win":true,"mode":"blitz"}`,
			} {
				w := do(mux, http.MethodPost, "/finish", body)
				So(w.Code, ShouldEqual, http.StatusBadRequest)
				So(errorCode(w), ShouldEqual, "bad_request")
			}
			So(deps.finishReq, ShouldResemble, service.FinishRequest{})
		})

		Convey("Service errors map onto status codes", func() {
			cases := []struct {
				err    error
				status int
				code   string
			}{
				{fmt.Errorf("wrapped: %w", finisher.ErrPuzzleNotFound), http.StatusNotFound, "not_found"},
				{service.ErrDuplicate, http.StatusConflict, "duplicate"},
				{sequencer.ErrBusy, http.StatusTooManyRequests, "backpressure"},
				{sequencer.ErrTimeout, http.StatusServiceUnavailable, "unavailable"},
				{service.ErrNotStarted, http.StatusServiceUnavailable, "unavailable"},
				{finisher.ErrPersistence, http.StatusInternalServerError, "internal_error"},
			}
			for _, c := range cases {
				deps.finishErr = c.err
				w := do(mux, http.MethodPost, "/finish", `{"player_id":"u1","puzzle_id":"z1","win":true}`)
				So(w.Code, ShouldEqual, c.status)
				So(errorCode(w), ShouldEqual, c.code)
			}
		})

		Convey("Other methods are not allowed", func() {
			w := do(mux, http.MethodGet, "/finish", "")
			So(w.Code, ShouldEqual, http.StatusMethodNotAllowed)
		})
	})
}

func TestPuzzleEndpoints(t *testing.T) {
	Convey("Given the API with mocked dependencies", t, func() {
		deps := &mockDependencies{}
		mux := newMux(deps)

		Convey("POST /puzzles creates with the default rating when none is given", func() {
			w := do(mux, http.MethodPost, "/puzzles", `{"id":"z1"}`)
			So(w.Code, ShouldEqual, http.StatusCreated)
			So(deps.created.Rating, ShouldResemble, model.Rating{})
		})

		Convey("POST /puzzles fills missing deviation and volatility", func() {
			w := do(mux, http.MethodPost, "/puzzles", `{"id":"z1","rating":1800}`)
			So(w.Code, ShouldEqual, http.StatusCreated)
			So(deps.created.Rating, ShouldResemble, model.Rating{
				Rating: 1800, Deviation: model.DefaultDeviation, Volatility: model.DefaultVolatility,
			})
		})

		Convey("POST /puzzles rejects a missing id and reports conflicts", func() {
			So(do(mux, http.MethodPost, "/puzzles", `{}`).Code, ShouldEqual, http.StatusBadRequest)

			deps.createErr = repository.ErrExists
			So(do(mux, http.MethodPost, "/puzzles", `{"id":"z1"}`).Code, ShouldEqual, http.StatusConflict)

			deps.createErr = service.ErrInvalidRating
			So(do(mux, http.MethodPost, "/puzzles", `{"id":"z1","rating":-5}`).Code, ShouldEqual, http.StatusBadRequest)
		})

		Convey("GET /puzzles/{id} returns the puzzle", func() {
			deps.puzzle = model.Puzzle{ID: "z1", Plays: 3}
			w := do(mux, http.MethodGet, "/puzzles/z1", "")
			So(w.Code, ShouldEqual, http.StatusOK)
			So(w.Body.String(), ShouldContainSubstring, `"plays":3`)

			deps.puzzleErr = repository.ErrNotFound
			So(do(mux, http.MethodGet, "/puzzles/z9", "").Code, ShouldEqual, http.StatusNotFound)
		})

		Convey("POST /puzzles/{id}/plays bumps plays", func() {
			w := do(mux, http.MethodPost, "/puzzles/z7/plays", "")
			So(w.Code, ShouldEqual, http.StatusNoContent)
			So(deps.playsID, ShouldEqual, "z7")

			deps.playsErr = fmt.Errorf("%w: %w", finisher.ErrPersistence, repository.ErrNotFound)
			So(do(mux, http.MethodPost, "/puzzles/z7/plays", "").Code, ShouldEqual, http.StatusNotFound)
		})

		Convey("POST /casual marks the pair", func() {
			w := do(mux, http.MethodPost, "/casual", `{"player_id":"u1","puzzle_id":"z1"}`)
			So(w.Code, ShouldEqual, http.StatusNoContent)
			So(deps.casualPair, ShouldResemble, [2]string{"u1", "z1"})

			deps.casualErr = service.ErrInvalidRequest
			So(do(mux, http.MethodPost, "/casual", `{"player_id":"u1"}`).Code, ShouldEqual, http.StatusBadRequest)
			So(do(mux, http.MethodPost, "/casual", `[`).Code, ShouldEqual, http.StatusBadRequest)
		})
	})
}

func TestReadEndpoints(t *testing.T) {
	Convey("Given the API with mocked dependencies", t, func() {
		deps := &mockDependencies{
			topN: []types.Entry{
				{Rank: 1, PlayerID: "u1", Rating: 1900, Deviation: 60},
				{Rank: 2, PlayerID: "u2", Rating: 1800, Deviation: 70},
			},
			rank: types.Entry{Rank: 2, PlayerID: "u2", Rating: 1800, Deviation: 70},
		}
		mux := newMux(deps)

		Convey("GET /leaderboard honours the limit", func() {
			w := do(mux, http.MethodGet, "/leaderboard?limit=1", "")
			So(w.Code, ShouldEqual, http.StatusOK)

			var entries []types.Entry
			So(json.Unmarshal(w.Body.Bytes(), &entries), ShouldBeNil)
			So(len(entries), ShouldEqual, 1)
			So(entries[0].PlayerID, ShouldEqual, "u1")
		})

		Convey("GET /leaderboard defaults the limit", func() {
			So(do(mux, http.MethodGet, "/leaderboard", "").Code, ShouldEqual, http.StatusOK)
			So(deps.topNLimit, ShouldEqual, 10)
		})

		Convey("GET /leaderboard rejects bad limits", func() {
			for _, q := range []string{"0", "-1", "abc", "51"} {
				w := do(mux, http.MethodGet, "/leaderboard?limit="+q, "")
				So(w.Code, ShouldEqual, http.StatusBadRequest)
			}
		})

		Convey("GET /leaderboard surfaces store failures", func() {
			deps.topNErr = fmt.Errorf("boom")
			So(do(mux, http.MethodGet, "/leaderboard?limit=5", "").Code, ShouldEqual, http.StatusInternalServerError)
		})

		Convey("GET /rank/{player} returns the entry or 404", func() {
			w := do(mux, http.MethodGet, "/rank/u2", "")
			So(w.Code, ShouldEqual, http.StatusOK)
			So(w.Body.String(), ShouldContainSubstring, `"rank":2`)

			deps.rankErr = repository.ErrNotFound
			So(do(mux, http.MethodGet, "/rank/ghost", "").Code, ShouldEqual, http.StatusNotFound)
		})

		Convey("GET /history/{player} returns an array", func() {
			w := do(mux, http.MethodGet, "/history/u1", "")
			So(w.Code, ShouldEqual, http.StatusOK)
			So(strings.TrimSpace(w.Body.String()), ShouldEqual, "[]")
			So(deps.histLimit, ShouldEqual, 50)

			deps.history = []model.RatingPoint{{PlayerID: "u1", Rating: model.DefaultGlicko()}}
			w = do(mux, http.MethodGet, "/history/u1?limit=5", "")
			So(w.Code, ShouldEqual, http.StatusOK)
			So(deps.histLimit, ShouldEqual, 5)
			So(w.Body.String(), ShouldContainSubstring, `"player_id":"u1"`)
		})

		Convey("GET /finishes/recent returns the feed", func() {
			w := do(mux, http.MethodGet, "/finishes/recent", "")
			So(strings.TrimSpace(w.Body.String()), ShouldEqual, "[]")

			deps.recent = []model.FinishEvent{{ID: "e2"}, {ID: "e1"}}
			w = do(mux, http.MethodGet, "/finishes/recent?limit=1", "")
			So(w.Code, ShouldEqual, http.StatusOK)

			var events []model.FinishEvent
			So(json.Unmarshal(w.Body.Bytes(), &events), ShouldBeNil)
			So(len(events), ShouldEqual, 1)
			So(events[0].ID, ShouldEqual, "e2")
		})

		Convey("GET /stats returns the provider's map", func() {
			w := do(mux, http.MethodGet, "/stats", "")
			So(w.Code, ShouldEqual, http.StatusOK)
			So(w.Body.String(), ShouldContainSubstring, `"started":true`)
		})

		Convey("GET /healthz and /metrics expose prometheus metrics", func() {
			So(do(mux, http.MethodGet, "/healthz", "").Code, ShouldEqual, http.StatusOK)
			w := do(mux, http.MethodGet, "/metrics", "")
			So(w.Code, ShouldEqual, http.StatusOK)
			So(w.Body.String(), ShouldContainSubstring, "ratekeep_")
		})
	})
}
