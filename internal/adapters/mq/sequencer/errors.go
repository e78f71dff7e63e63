package sequencer

import "errors"

// Sentinel kinds for sequencer errors.
var (
	ErrBusy    = errors.New("sequencer busy")
	ErrTimeout = errors.New("sequenced task timed out")
	ErrClosed  = errors.New("sequencer closed")
	ErrPanic   = errors.New("sequenced task panicked")

	// ErrSkipped means the task never started: its caller gave up before
	// the task's turn came.
	ErrSkipped = errors.New("sequenced task skipped")
)
