package repository_test

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"

	"github.com/okian/ratekeep/internal/adapters/repository"
	"github.com/okian/ratekeep/internal/domain/model"
	"github.com/okian/ratekeep/internal/domain/theme"
)

type storeFactory struct {
	name string
	open func(t *testing.T) repository.Store
}

func factories() []storeFactory {
	return []storeFactory{
		{name: "memory", open: func(*testing.T) repository.Store {
			return repository.NewMemoryStore(repository.WithHistoryLimit(3))
		}},
		{name: "sqlite", open: func(t *testing.T) repository.Store {
			s, err := repository.OpenSQLite(filepath.Join(t.TempDir(), "data", "ratekeep.db"), repository.WithHistoryLimit(3))
			if err != nil {
				t.Fatalf("open sqlite: %v", err)
			}
			return s
		}},
	}
}

func TestStoreContract(t *testing.T) {
	for _, f := range factories() {
		f := f
		Convey("Given a "+f.name+" store", t, func() {
			ctx := context.Background()
			store := f.open(t)
			defer func() { _ = store.Close() }()

			settled := model.Rating{Rating: 1450, Deviation: 60, Volatility: 0.06}

			Convey("When a puzzle is created", func() {
				So(store.CreatePuzzle(ctx, model.Puzzle{ID: "z1", Rating: settled, Plays: 12}), ShouldBeNil)

				Convey("Then it can be found with its provisional flag", func() {
					p, err := store.FindPuzzle(ctx, "z1")
					So(err, ShouldBeNil)
					So(p, ShouldNotBeNil)
					So(p.Rating, ShouldResemble, settled)
					So(p.Plays, ShouldEqual, 12)
					So(p.Provisional, ShouldBeFalse)
				})

				Convey("Then creating it again fails with ErrExists", func() {
					err := store.CreatePuzzle(ctx, model.Puzzle{ID: "z1", Rating: settled})
					So(errors.Is(err, repository.ErrExists), ShouldBeTrue)
				})

				Convey("Then plays and rating can be updated", func() {
					So(store.IncrementPlays(ctx, "z1"), ShouldBeNil)
					moved := model.Rating{Rating: 1470, Deviation: 58, Volatility: 0.06}
					So(store.SetPuzzleRating(ctx, "z1", moved), ShouldBeNil)

					p, err := store.FindPuzzle(ctx, "z1")
					So(err, ShouldBeNil)
					So(p.Plays, ShouldEqual, 13)
					So(p.Rating, ShouldResemble, moved)
				})
			})

			Convey("When a fresh puzzle is created", func() {
				So(store.CreatePuzzle(ctx, model.Puzzle{ID: "fresh", Rating: model.DefaultGlicko()}), ShouldBeNil)

				Convey("Then it is provisional", func() {
					p, err := store.FindPuzzle(ctx, "fresh")
					So(err, ShouldBeNil)
					So(p.Provisional, ShouldBeTrue)
				})
			})

			Convey("When an unknown puzzle is used", func() {
				p, err := store.FindPuzzle(ctx, "missing")

				Convey("Then lookups return nil and writes ErrNotFound", func() {
					So(err, ShouldBeNil)
					So(p, ShouldBeNil)
					So(errors.Is(store.IncrementPlays(ctx, "missing"), repository.ErrNotFound), ShouldBeTrue)
					So(errors.Is(store.SetPuzzleRating(ctx, "missing", settled), repository.ErrNotFound), ShouldBeTrue)
				})
			})

			Convey("When a round is upserted twice", func() {
				created := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
				first := model.Round{PlayerID: "u1", PuzzleID: "z1", Win: false, CreatedAt: created}
				So(store.UpsertRound(ctx, first, theme.Fork), ShouldBeNil)
				So(store.UpsertRound(ctx, first.WithWin(true, created.Add(time.Minute)), theme.Fork), ShouldBeNil)

				Convey("Then one round holds the latest outcome", func() {
					r, err := store.FindRound(ctx, "u1", "z1")
					So(err, ShouldBeNil)
					So(r, ShouldNotBeNil)
					So(r.Win, ShouldBeTrue)
					So(r.CreatedAt.Equal(created), ShouldBeTrue)
					So(r.FixedAt, ShouldNotBeNil)
					So(r.FixedAt.Equal(created.Add(time.Minute)), ShouldBeTrue)

					st, err := store.Stats(ctx)
					So(err, ShouldBeNil)
					So(st.Rounds, ShouldEqual, 1)
				})

				Convey("Then other pairs have no round", func() {
					r, err := store.FindRound(ctx, "u2", "z1")
					So(err, ShouldBeNil)
					So(r, ShouldBeNil)
				})
			})

			Convey("When players are saved and rated", func() {
				So(store.SavePlayer(ctx, model.Player{ID: "a", Rating: model.Rating{Rating: 1500, Deviation: 80, Volatility: 0.06}}), ShouldBeNil)
				So(store.SavePlayer(ctx, model.Player{ID: "b", Rating: model.Rating{Rating: 1700, Deviation: 80, Volatility: 0.06}}), ShouldBeNil)
				So(store.SavePlayer(ctx, model.Player{ID: "c", Rating: model.DefaultGlicko()}), ShouldBeNil)
				So(store.AppendRecent(ctx, "a", "z1"), ShouldBeNil)
				So(store.SetPlayerRating(ctx, "a", model.Rating{Rating: 1800, Deviation: 75, Volatility: 0.06}), ShouldBeNil)

				Convey("Then the leaderboard follows ratings", func() {
					top, err := store.TopN(ctx, 2)
					So(err, ShouldBeNil)
					So(len(top), ShouldEqual, 2)
					So(top[0].PlayerID, ShouldEqual, "a")
					So(top[0].Rank, ShouldEqual, 1)
					So(top[1].PlayerID, ShouldEqual, "b")

					e, err := store.Rank(ctx, "c")
					So(err, ShouldBeNil)
					So(e.Rank, ShouldEqual, 3)
				})

				Convey("Then the rating write cleared the recent history", func() {
					p, err := store.FindPlayer(ctx, "a")
					So(err, ShouldBeNil)
					So(p.RecentHistory, ShouldBeEmpty)
					So(p.Dubious, ShouldBeFalse)
				})

				Convey("Then an uncertain player is dubious", func() {
					p, err := store.FindPlayer(ctx, "c")
					So(err, ShouldBeNil)
					So(p.Dubious, ShouldBeTrue)
				})

				Convey("Then unknown players are reported", func() {
					_, err := store.Rank(ctx, "ghost")
					So(errors.Is(err, repository.ErrNotFound), ShouldBeTrue)
					So(errors.Is(store.SetPlayerRating(ctx, "ghost", settled), repository.ErrNotFound), ShouldBeTrue)
					So(errors.Is(store.AppendRecent(ctx, "ghost", "z1"), repository.ErrNotFound), ShouldBeTrue)
					_, err = store.TopN(ctx, 0)
					So(errors.Is(err, repository.ErrInvalidLimit), ShouldBeTrue)
				})
			})

			Convey("When more rating points are appended than kept", func() {
				base := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
				for i := 0; i < 5; i++ {
					r := model.Rating{Rating: 1500 + float64(i), Deviation: 80, Volatility: 0.06}
					So(store.AppendRating(ctx, model.RatingPoint{PlayerID: "a", At: base.Add(time.Duration(i) * time.Hour), Rating: r}), ShouldBeNil)
				}

				Convey("Then only the newest are returned, oldest first", func() {
					h, err := store.History(ctx, "a", 0)
					So(err, ShouldBeNil)
					So(len(h), ShouldEqual, 3)
					So(h[0].Rating.Rating, ShouldEqual, 1502)
					So(h[2].Rating.Rating, ShouldEqual, 1504)
					So(h[2].At.Equal(base.Add(4*time.Hour)), ShouldBeTrue)

					last, err := store.History(ctx, "a", 1)
					So(err, ShouldBeNil)
					So(len(last), ShouldEqual, 1)
					So(last[0].Rating.Rating, ShouldEqual, 1504)
				})
			})
		})
	}
}
