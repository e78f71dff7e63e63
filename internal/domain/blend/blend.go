// Package blend weighs a freshly computed rating against the prior one.
//
// A theme that reveals or trivializes the solution makes a win less
// informative and a loss more informative, so the weights below are
// intentionally asymmetric between outcomes.
package blend

import (
	"math"

	"github.com/okian/ratekeep/internal/domain/model"
	"github.com/okian/ratekeep/internal/domain/theme"
)

const (
	minPlayerWeight = 0.1

	provisionalWinPenalty  = 0.2
	provisionalLossPenalty = 0.7
)

// WeightOf returns the fraction of a fresh estimate to keep for a theme
// and outcome.
func WeightOf(th theme.Theme, win bool) float64 {
	switch {
	case th.IsMix():
		return 1
	case th.Obvious():
		return pick(win, 0.2, 0.6)
	case th.Hinting():
		return pick(win, 0.3, 0.7)
	default:
		return pick(win, 0.7, 0.8)
	}
}

// ForPlayer blends the player's rating. Results on provisional puzzles are
// discounted further, never below minPlayerWeight.
func ForPlayer(prior, fresh model.Rating, puzzleProvisional bool, th theme.Theme, win bool) model.Rating {
	weight := WeightOf(th, win)
	if puzzleProvisional {
		weight -= pick(win, provisionalWinPenalty, provisionalLossPenalty)
	}
	return prior.Average(fresh, math.Max(minPlayerWeight, weight))
}

// ForPuzzle blends the puzzle's rating. A clueless player says nothing about
// the puzzle, so its prior is kept.
func ForPuzzle(prior, fresh, player model.Rating, th theme.Theme, win bool) model.Rating {
	if player.Clueless() {
		return prior
	}
	return prior.Average(fresh, WeightOf(th, win))
}

func pick(win bool, onWin, onLoss float64) float64 {
	if win {
		return onWin
	}
	return onLoss
}
