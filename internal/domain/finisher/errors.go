package finisher

import "errors"

// Sentinel kinds for finish errors.
var (
	ErrPuzzleNotFound = errors.New("puzzle not found")
	ErrPersistence    = errors.New("persisting finish failed")
)
