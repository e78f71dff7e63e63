// Package loadgen drives a running ratekeep server with concurrent finishes
// and checks that its counters and rankings stay consistent.
package loadgen

import "time"

// Config holds configuration for a load run.
type Config struct {
	BaseURL    string        // Base URL of the service
	Players    int           // Distinct players to simulate
	Puzzles    int           // Puzzles created for the run
	Finishes   int           // Finish requests to submit
	CasualRate float64       // Share of finishes sent in casual mode (0-1)
	Workers    int           // Concurrent submitters
	Timeout    time.Duration // HTTP request timeout
	TopN       int           // Leaderboard entries fetched for verification
	Verbose    bool          // Log every failed request
}

// Stats holds run statistics.
type Stats struct {
	PuzzlesCreated int
	Submitted      int
	Rated          int
	Casual         int
	Duplicate      int
	Backpressure   int
	Failed         int
	Verified       int
	StartTime      time.Time
	EndTime        time.Time
	Duration       time.Duration
}

// FinishesPerSecond is the submit throughput of the run.
func (s *Stats) FinishesPerSecond() float64 {
	if s.Duration <= 0 {
		return 0
	}
	return float64(s.Submitted) / s.Duration.Seconds()
}

// finish is one generated request.
type finish struct {
	RequestID string `json:"request_id"`
	PlayerID  string `json:"player_id"`
	PuzzleID  string `json:"puzzle_id"`
	Theme     string `json:"theme"`
	Win       bool   `json:"win"`
	Mode      string `json:"mode"`
}

type puzzle struct {
	ID    string `json:"id"`
	Plays int    `json:"plays"`
}

type entry struct {
	Rank     int    `json:"rank"`
	PlayerID string `json:"player_id"`
	Rating   int    `json:"rating"`
}
