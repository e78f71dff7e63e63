package bus

import (
	"github.com/okian/ratekeep/pkg/logger"
)

// Option applies a configuration option to the Bus.
type Option func(*config)

type config struct {
	capacity int
	workers  int
	logger   logger.Logger
}

// WithCapacity sets how many events may wait for delivery.
func WithCapacity(n int) Option {
	return func(c *config) {
		if n > 0 {
			c.capacity = n
		}
	}
}

// WithWorkers sets how many goroutines deliver events.
func WithWorkers(n int) Option {
	return func(c *config) {
		if n > 0 {
			c.workers = n
		}
	}
}

// WithLogger sets a custom logger for the bus.
func WithLogger(l logger.Logger) Option {
	return func(c *config) {
		if l != nil {
			c.logger = l
		}
	}
}
