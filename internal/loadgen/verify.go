package loadgen

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strconv"
)

// ErrInconsistent reports server state that contradicts what was submitted.
var ErrInconsistent = errors.New("inconsistent server state")

// verify checks that every accepted rated finish was counted as a play and
// that the leaderboard agrees with per-player ranks.
func (r *Runner) verify(ctx context.Context, stats *Stats) error {
	var problems []error

	for _, id := range r.puzzleIDs {
		var p puzzle
		if err := r.client.get(ctx, "/puzzles/"+url.PathEscape(id), &p); err != nil {
			return err
		}
		if want := int(r.ratedOK[id].Load()); p.Plays != want {
			problems = append(problems, fmt.Errorf("%w: puzzle %s has %d plays, expected %d", ErrInconsistent, id, p.Plays, want))
			continue
		}
		stats.Verified++
	}

	var board []entry
	if err := r.client.get(ctx, "/leaderboard?limit="+strconv.Itoa(r.cfg.TopN), &board); err != nil {
		return err
	}
	for i, e := range board {
		if i > 0 && (e.Rating > board[i-1].Rating || e.Rank < board[i-1].Rank) {
			problems = append(problems, fmt.Errorf("%w: leaderboard out of order at position %d", ErrInconsistent, i+1))
		}
		var ranked entry
		if err := r.client.get(ctx, "/rank/"+url.PathEscape(e.PlayerID), &ranked); err != nil {
			return err
		}
		// ratings may have moved if other clients are active
		if ranked.Rating == e.Rating && ranked.Rank != e.Rank {
			problems = append(problems, fmt.Errorf("%w: %s is rank %d on the leaderboard but rank %d alone",
				ErrInconsistent, e.PlayerID, e.Rank, ranked.Rank))
		}
	}

	return errors.Join(problems...)
}
