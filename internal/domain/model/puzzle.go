package model

import "time"

// Puzzle is the rated resource players attempt.
type Puzzle struct {
	ID     string `json:"id"`
	Rating Rating `json:"rating"`
	Plays  int    `json:"plays"`
	// Provisional is decided by the store that loaded the puzzle.
	Provisional bool `json:"provisional"`
}

// Player is the rated participant finishing puzzles.
type Player struct {
	ID     string `json:"id"`
	Rating Rating `json:"rating"`
	// Dubious is decided by the store that loaded the player. Dubious
	// players never move puzzle ratings.
	Dubious bool `json:"dubious"`
	// RecentHistory is owned by the player store and reset whenever the
	// rating is rewritten.
	RecentHistory []string `json:"recent_history,omitempty"`
}

// Round is the durable witness that a player attempted a puzzle.
type Round struct {
	PlayerID  string     `json:"player_id"`
	PuzzleID  string     `json:"puzzle_id"`
	Win       bool       `json:"win"`
	FixedAt   *time.Time `json:"fixed_at,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
}

// WithWin returns a copy of the round carrying a new outcome. A loss turned
// into a win keeps track of when the correction happened.
func (r Round) WithWin(win bool, at time.Time) Round {
	if win && !r.Win {
		fixed := at
		r.FixedAt = &fixed
	}
	r.Win = win
	return r
}

// Mode tells whether a finish may affect ratings.
type Mode string

// Play modes.
const (
	ModeRated  Mode = "rated"
	ModeCasual Mode = "casual"
)

// Rated reports whether the mode allows rating updates. Anything that is not
// explicitly casual is rated.
func (m Mode) Rated() bool {
	return m != ModeCasual
}

// FinishEvent is published once per (player, puzzle) pair on the first attempt.
type FinishEvent struct {
	ID          string    `json:"id"`
	PuzzleID    string    `json:"puzzle_id"`
	PlayerID    string    `json:"player_id"`
	Win         bool      `json:"win"`
	PriorRating int       `json:"prior_rating"`
	NewRating   int       `json:"new_rating"`
	At          time.Time `json:"at"`
}

// RatingPoint is one entry of a player's rating history.
type RatingPoint struct {
	PlayerID string    `json:"player_id"`
	At       time.Time `json:"at"`
	Rating   Rating    `json:"rating"`
}
