package finisher

import (
	"github.com/jonboulle/clockwork"

	"github.com/okian/ratekeep/pkg/logger"
)

// Option applies a configuration option to the Finisher.
type Option func(*Finisher)

// WithMaxRatingDelta bounds how far one finish may move a puzzle rating.
// Zero or less disables the bound.
func WithMaxRatingDelta(delta float64) Option {
	return func(f *Finisher) {
		f.maxDelta = delta
	}
}

// WithCasualChecker sets the predicate that short-circuits casual pairs.
func WithCasualChecker(c CasualChecker) Option {
	return func(f *Finisher) {
		if c != nil {
			f.casual = c
		}
	}
}

// WithHistoryLog sets where player rating changes are recorded.
func WithHistoryLog(h HistoryLog) Option {
	return func(f *Finisher) {
		if h != nil {
			f.history = h
		}
	}
}

// WithPublisher sets where finish events are published.
func WithPublisher(p Publisher) Option {
	return func(f *Finisher) {
		if p != nil {
			f.publisher = p
		}
	}
}

// WithClock sets the clock stamping rounds and events.
func WithClock(clock clockwork.Clock) Option {
	return func(f *Finisher) {
		if clock != nil {
			f.clock = clock
		}
	}
}

// WithIDGenerator sets the generator for finish event ids.
func WithIDGenerator(gen func() string) Option {
	return func(f *Finisher) {
		if gen != nil {
			f.newID = gen
		}
	}
}

// WithLogger sets a custom logger.
func WithLogger(l logger.Logger) Option {
	return func(f *Finisher) {
		if l != nil {
			f.logger = l
		}
	}
}
