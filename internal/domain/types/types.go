// Package types contains the read shapes shared by the service and the API.
package types

import (
	"math"

	"github.com/okian/ratekeep/internal/domain/model"
)

// Entry represents a leaderboard entry as shown to clients.
type Entry struct {
	Rank      int    `json:"rank"`
	PlayerID  string `json:"player_id"`
	Rating    int    `json:"rating"`
	Deviation int    `json:"deviation"`
}

// NewEntry rounds r for display.
func NewEntry(rank int, playerID string, r model.Rating) Entry {
	return Entry{
		Rank:      rank,
		PlayerID:  playerID,
		Rating:    r.Int(),
		Deviation: int(math.Round(r.Deviation)),
	}
}
