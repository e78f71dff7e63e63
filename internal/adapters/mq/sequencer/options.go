package sequencer

import (
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/okian/ratekeep/pkg/logger"
)

// Option applies a configuration option to the Sequencer.
type Option func(*config)

type config struct {
	name          string
	capacity      int
	expiration    time.Duration
	timeout       time.Duration
	sweepInterval time.Duration
	clock         clockwork.Clock
	logger        logger.Logger
}

// WithName sets the name used in logs and metric labels.
func WithName(name string) Option {
	return func(c *config) {
		if name != "" {
			c.name = name
		}
	}
}

// WithCapacity sets the maximum number of keys tracked at once.
func WithCapacity(capacity int) Option {
	return func(c *config) {
		if capacity > 0 {
			c.capacity = capacity
		}
	}
}

// WithExpiration sets how long an idle key queue is kept.
func WithExpiration(d time.Duration) Option {
	return func(c *config) {
		if d > 0 {
			c.expiration = d
		}
	}
}

// WithTimeout sets the maximum run time of a single task.
func WithTimeout(d time.Duration) Option {
	return func(c *config) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithSweepInterval sets how often the janitor started by Start sweeps
// expired queues. Defaults to the expiration window.
func WithSweepInterval(d time.Duration) Option {
	return func(c *config) {
		if d > 0 {
			c.sweepInterval = d
		}
	}
}

// WithClock sets the clock used for timeouts and expiry.
func WithClock(clock clockwork.Clock) Option {
	return func(c *config) {
		if clock != nil {
			c.clock = clock
		}
	}
}

// WithLogger sets a custom logger.
func WithLogger(l logger.Logger) Option {
	return func(c *config) {
		if l != nil {
			c.logger = l
		}
	}
}
