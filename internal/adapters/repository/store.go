// Package repository persists puzzles, rounds, players and rating history,
// and ranks players by rating.
package repository

import (
	"context"

	"github.com/okian/ratekeep/internal/domain/model"
	"github.com/okian/ratekeep/internal/domain/theme"
)

// Policy thresholds for the flags the finisher treats as opaque.
const (
	ProvisionalPlays     = 10
	ProvisionalDeviation = 110.0
	DubiousDeviation     = 300.0
	DubiousRatingFloor   = 600.0
)

// Entry represents a leaderboard row.
type Entry struct {
	Rank     int
	PlayerID string
	Rating   model.Rating
}

// Stats summarizes what a store holds.
type Stats struct {
	Puzzles int `json:"puzzles"`
	Players int `json:"players"`
	Rounds  int `json:"rounds"`
}

// Store provides read/write access to puzzles, rounds, players and history.
// Find* methods return nil, nil for unknown ids.
type Store interface {
	CreatePuzzle(ctx context.Context, p model.Puzzle) error
	FindPuzzle(ctx context.Context, id string) (*model.Puzzle, error)
	IncrementPlays(ctx context.Context, id string) error
	SetPuzzleRating(ctx context.Context, id string, r model.Rating) error

	FindRound(ctx context.Context, playerID, puzzleID string) (*model.Round, error)
	UpsertRound(ctx context.Context, round model.Round, th theme.Theme) error

	FindPlayer(ctx context.Context, id string) (*model.Player, error)
	SavePlayer(ctx context.Context, p model.Player) error
	SetPlayerRating(ctx context.Context, playerID string, r model.Rating) error
	AppendRecent(ctx context.Context, playerID, puzzleID string) error

	AppendRating(ctx context.Context, point model.RatingPoint) error
	History(ctx context.Context, playerID string, limit int) ([]model.RatingPoint, error)

	// Rank returns the player's position; equal ratings share a rank.
	// Returns ErrNotFound if the player is unknown.
	Rank(ctx context.Context, playerID string) (Entry, error)
	// TopN returns the top-N players ordered by rating desc.
	TopN(ctx context.Context, n int) ([]Entry, error)
	Stats(ctx context.Context) (Stats, error)

	Close() error
}

// Provisional reports whether a puzzle's rating has too few observations to
// be trusted.
func Provisional(p model.Puzzle) bool {
	return p.Plays < ProvisionalPlays || p.Rating.Deviation > ProvisionalDeviation
}

// Dubious reports whether a player's rating is too unreliable to move puzzle
// ratings.
func Dubious(p model.Player) bool {
	return p.Rating.Deviation > DubiousDeviation || p.Rating.Rating < DubiousRatingFloor
}
