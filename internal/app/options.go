package service

import (
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/okian/ratekeep/internal/adapters/repository"
	"github.com/okian/ratekeep/internal/domain/finisher"
	"github.com/okian/ratekeep/pkg/logger"
)

// Option applies a configuration option to the Service.
type Option func(*Service)

// WithStore makes the service use store instead of an in-memory one. The
// service closes it on Stop, after which Start fails with ErrStoreClosed.
func WithStore(store repository.Store) Option {
	return func(s *Service) {
		if store != nil {
			s.store = store
		}
	}
}

// WithSequencerCapacity bounds how many puzzles may have a live queue.
func WithSequencerCapacity(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.seqCapacity = n
		}
	}
}

// WithSequencerExpiration sets how long an idle puzzle queue is kept.
func WithSequencerExpiration(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.seqExpiration = d
		}
	}
}

// WithSequencerTimeout bounds a single finish transaction.
func WithSequencerTimeout(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.seqTimeout = d
		}
	}
}

// WithMaxRatingDelta caps how far a single finish moves a puzzle rating.
func WithMaxRatingDelta(delta float64) Option {
	return func(s *Service) {
		if delta > 0 {
			s.maxDelta = delta
		}
	}
}

// WithGlickoTau sets the volatility constraint of the default calculator.
func WithGlickoTau(tau float64) Option {
	return func(s *Service) {
		if tau > 0 {
			s.tau = tau
		}
	}
}

// WithCalculator replaces the Glicko-2 calculator.
func WithCalculator(calc finisher.Calculator) Option {
	return func(s *Service) {
		if calc != nil {
			s.calc = calc
		}
	}
}

// WithQueueSize sets the maximum size of the finish event queue.
func WithQueueSize(size int) Option {
	return func(s *Service) {
		if size > 0 {
			s.queueSize = size
		}
	}
}

// WithWorkerCount sets the number of event delivery workers.
func WithWorkerCount(count int) Option {
	return func(s *Service) {
		if count > 0 {
			s.workerCount = count
		}
	}
}

// WithDedupeSize sets how many finish request IDs are remembered.
func WithDedupeSize(size int) Option {
	return func(s *Service) {
		if size > 0 {
			s.dedupeSize = size
		}
	}
}

// WithCasualMemo bounds the casual-pair memo.
func WithCasualMemo(size int, ttl time.Duration) Option {
	return func(s *Service) {
		s.casualSize = size
		s.casualTTL = ttl
	}
}

// WithRecentFinishes sets how many finish events the feed keeps.
func WithRecentFinishes(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.recentSize = n
		}
	}
}

// WithClock sets the clock used for timestamps and timeouts.
func WithClock(clock clockwork.Clock) Option {
	return func(s *Service) {
		if clock != nil {
			s.clock = clock
		}
	}
}

// WithLogger sets a custom logger for the service.
func WithLogger(logger logger.Logger) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}
