// Package finisher applies the outcome of a puzzle attempt to the puzzle and
// the player.
//
// Finishes of one puzzle are serialized through a sequencer keyed by puzzle
// id, so the check for a prior round and the writes that follow it happen
// without interleaving. Only the first rated attempt of a (player, puzzle)
// pair changes ratings; later attempts only count as plays.
package finisher

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/okian/ratekeep/internal/adapters/mq/sequencer"
	"github.com/okian/ratekeep/internal/domain/blend"
	"github.com/okian/ratekeep/internal/domain/model"
	"github.com/okian/ratekeep/internal/domain/theme"
	"github.com/okian/ratekeep/pkg/logger"
	"github.com/okian/ratekeep/pkg/metrics"
	"github.com/okian/ratekeep/pkg/tracing"
)

// DefaultMaxRatingDelta bounds puzzle rating drift per finish.
const DefaultMaxRatingDelta = 200.0

// Branches reported to metrics.
const (
	branchCasualPair  = "casual_pair"
	branchCasualFirst = "casual_first"
	branchCasualAgain = "casual_repeat"
	branchFirstRated  = "first_rated"
	branchRepeat      = "repeat"
	branchNotFound    = "not_found"
	branchFailed      = "failed"
)

// Calculator runs one rating period between a player and a puzzle.
type Calculator interface {
	Update(a, b model.Rating, aWon bool) (model.Rating, model.Rating, error)
}

// PuzzleStore reads and updates puzzles. FindPuzzle returns nil, nil when
// the puzzle does not exist.
type PuzzleStore interface {
	FindPuzzle(ctx context.Context, id string) (*model.Puzzle, error)
	IncrementPlays(ctx context.Context, id string) error
	SetPuzzleRating(ctx context.Context, id string, r model.Rating) error
}

// RoundStore reads and writes rounds. FindRound returns nil, nil when the
// player never attempted the puzzle.
type RoundStore interface {
	FindRound(ctx context.Context, playerID, puzzleID string) (*model.Round, error)
	UpsertRound(ctx context.Context, round model.Round, th theme.Theme) error
}

// PlayerStore writes player ratings. Writing a rating clears the player's
// recent history.
type PlayerStore interface {
	SetPlayerRating(ctx context.Context, playerID string, r model.Rating) error
}

// HistoryLog records player rating changes.
type HistoryLog interface {
	AppendRating(ctx context.Context, point model.RatingPoint) error
}

// Publisher delivers finish events. Delivery is best effort.
type Publisher interface {
	Publish(ctx context.Context, e model.FinishEvent) bool
}

// CasualChecker reports whether a player's attempts on a puzzle never count.
type CasualChecker interface {
	IsCasual(ctx context.Context, playerID, puzzleID string) bool
}

// Result is what a finish returns to its caller.
type Result struct {
	Round  model.Round  `json:"round"`
	Rating model.Rating `json:"rating"`
}

// Finisher applies finishes.
type Finisher struct {
	seq       *sequencer.Sequencer[string]
	calc      Calculator
	puzzles   PuzzleStore
	rounds    RoundStore
	players   PlayerStore
	history   HistoryLog
	publisher Publisher
	casual    CasualChecker
	maxDelta  float64
	clock     clockwork.Clock
	newID     func() string
	logger    logger.Logger
}

// New creates a finisher with configuration options.
func New(seq *sequencer.Sequencer[string], calc Calculator, puzzles PuzzleStore, rounds RoundStore, players PlayerStore, opts ...Option) *Finisher {
	f := &Finisher{
		seq:       seq,
		calc:      calc,
		puzzles:   puzzles,
		rounds:    rounds,
		players:   players,
		history:   noopHistory{},
		publisher: noopPublisher{},
		casual:    neverCasual{},
		maxDelta:  DefaultMaxRatingDelta,
		clock:     clockwork.NewRealClock(),
		newID:     uuid.NewString,
		logger:    logger.Discard(),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Finish applies one attempt of player on puzzleID and returns the round and
// the player's rating after it.
func (f *Finisher) Finish(ctx context.Context, puzzleID string, th theme.Theme, player model.Player, win bool, mode model.Mode) (res Result, err error) {
	start := f.clock.Now()
	ctx, span := tracing.StartSpan(ctx, "finisher.Finish")
	span.String("puzzle_id", puzzleID).String("player_id", player.ID).Bool("win", win).String("mode", string(mode))
	defer func() {
		tracing.EndSpan(span, err)
		metrics.RecordFinishLatency(float64(f.clock.Since(start).Milliseconds()))
	}()

	if f.casual.IsCasual(ctx, player.ID, puzzleID) {
		metrics.RecordFinish(branchCasualPair)
		return Result{Round: f.freshRound(player.ID, puzzleID, win), Rating: player.Rating}, nil
	}

	res, err = sequencer.Call(ctx, f.seq, puzzleID, func(ctx context.Context) (Result, error) {
		return f.apply(ctx, puzzleID, th, player, win, mode)
	})
	if err != nil && (errors.Is(err, sequencer.ErrTimeout) || errors.Is(err, sequencer.ErrBusy)) {
		metrics.RecordFinish(branchFailed)
		f.logger.Warn(ctx, "finish not applied in time",
			logger.String("puzzle_id", puzzleID),
			logger.String("player_id", player.ID),
			logger.Error(err),
		)
	}
	return res, err
}

// IncrementPlaysOnly bumps a puzzle's play counter outside the rating
// pipeline.
func (f *Finisher) IncrementPlaysOnly(ctx context.Context, puzzleID string) error {
	if err := f.puzzles.IncrementPlays(ctx, puzzleID); err != nil {
		return fmt.Errorf("%w: increment plays of %s: %w", ErrPersistence, puzzleID, err)
	}
	metrics.RecordPlaysIncrement()
	return nil
}

// apply runs under the puzzle's exclusivity.
func (f *Finisher) apply(ctx context.Context, puzzleID string, th theme.Theme, player model.Player, win bool, mode model.Mode) (Result, error) {
	prior, err := f.rounds.FindRound(ctx, player.ID, puzzleID)
	if err != nil {
		return Result{}, fmt.Errorf("%w: find round: %w", ErrPersistence, err)
	}
	puzzle, err := f.puzzles.FindPuzzle(ctx, puzzleID)
	if err != nil {
		return Result{}, fmt.Errorf("%w: find puzzle: %w", ErrPersistence, err)
	}
	if puzzle == nil {
		metrics.RecordFinish(branchNotFound)
		return Result{}, fmt.Errorf("%w: %s", ErrPuzzleNotFound, puzzleID)
	}

	now := f.clock.Now()
	first := prior == nil
	round := f.freshRound(player.ID, puzzleID, win)
	if !first {
		round = prior.WithWin(win, now)
	}

	if !mode.Rated() {
		if first {
			f.publish(ctx, round, player.Rating, player.Rating)
			metrics.RecordFinish(branchCasualFirst)
		} else {
			metrics.RecordFinish(branchCasualAgain)
		}
		return Result{Round: round, Rating: player.Rating}, nil
	}

	newPlayer, newPuzzle, puzzleMoved := player.Rating, puzzle.Rating, false
	if first {
		newPlayer, newPuzzle, puzzleMoved = f.rate(ctx, player, *puzzle, th, win)
	}

	if err := f.rounds.UpsertRound(ctx, round, th); err != nil {
		return Result{}, fmt.Errorf("%w: upsert round: %w", ErrPersistence, err)
	}
	if err := f.puzzles.IncrementPlays(ctx, puzzleID); err != nil {
		return Result{}, fmt.Errorf("%w: increment plays: %w", ErrPersistence, err)
	}
	metrics.RecordPlaysIncrement()
	if puzzleMoved {
		if err := f.puzzles.SetPuzzleRating(ctx, puzzleID, newPuzzle); err != nil {
			return Result{}, fmt.Errorf("%w: set puzzle rating: %w", ErrPersistence, err)
		}
		metrics.RecordPuzzleRatingUpdate()
	}
	if newPlayer != player.Rating {
		if err := f.players.SetPlayerRating(ctx, player.ID, newPlayer); err != nil {
			return Result{}, fmt.Errorf("%w: set player rating: %w", ErrPersistence, err)
		}
		if err := f.history.AppendRating(ctx, model.RatingPoint{PlayerID: player.ID, At: now, Rating: newPlayer}); err != nil {
			return Result{}, fmt.Errorf("%w: append rating history: %w", ErrPersistence, err)
		}
		metrics.RecordPlayerRatingUpdate()
	}

	if first {
		f.publish(ctx, round, player.Rating, newPlayer)
		metrics.RecordFinish(branchFirstRated)
	} else {
		metrics.RecordFinish(branchRepeat)
	}
	return Result{Round: round, Rating: newPlayer}, nil
}

// rate computes the post-finish ratings. A failed calculation leaves both
// ratings untouched.
func (f *Finisher) rate(ctx context.Context, player model.Player, puzzle model.Puzzle, th theme.Theme, win bool) (model.Rating, model.Rating, bool) {
	freshPlayer, freshPuzzle, err := f.calc.Update(player.Rating, puzzle.Rating, win)
	if err != nil {
		metrics.RecordCalculationFailure()
		f.logger.Warn(ctx, "rating calculation failed",
			logger.String("puzzle_id", puzzle.ID),
			logger.String("player_id", player.ID),
			logger.Error(err),
		)
		return player.Rating, puzzle.Rating, false
	}

	freshPuzzle = freshPuzzle.Capped(puzzle.Rating, f.maxDelta)
	candidate := blend.ForPuzzle(puzzle.Rating, freshPuzzle, player.Rating, th, win)
	moved := !player.Dubious && candidate != puzzle.Rating && candidate.SanityCheck()
	if !moved {
		candidate = puzzle.Rating
	}

	return blend.ForPlayer(player.Rating, freshPlayer, puzzle.Provisional, th, win), candidate, moved
}

func (f *Finisher) publish(ctx context.Context, round model.Round, prior, next model.Rating) {
	e := model.FinishEvent{
		ID:          f.newID(),
		PuzzleID:    round.PuzzleID,
		PlayerID:    round.PlayerID,
		Win:         round.Win,
		PriorRating: prior.Int(),
		NewRating:   next.Int(),
		At:          f.clock.Now(),
	}
	if !f.publisher.Publish(ctx, e) {
		f.logger.Debug(ctx, "finish event dropped", logger.String("event_id", e.ID))
	}
}

func (f *Finisher) freshRound(playerID, puzzleID string, win bool) model.Round {
	return model.Round{PlayerID: playerID, PuzzleID: puzzleID, Win: win, CreatedAt: f.clock.Now()}
}

type noopHistory struct{}

func (noopHistory) AppendRating(context.Context, model.RatingPoint) error { return nil }

type noopPublisher struct{}

func (noopPublisher) Publish(context.Context, model.FinishEvent) bool { return true }

type neverCasual struct{}

func (neverCasual) IsCasual(context.Context, string, string) bool { return false }
