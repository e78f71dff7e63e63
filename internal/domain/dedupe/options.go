package dedupe

// Option applies a configuration option to the deduper.
type Option func(*config)

type config struct {
	maxSize int
}

// WithMaxSize sets the maximum number of request IDs to remember. The least
// recently seen ID is forgotten first. Values below one keep the default.
func WithMaxSize(maxSize int) Option {
	return func(c *config) {
		if maxSize > 0 {
			c.maxSize = maxSize
		}
	}
}
