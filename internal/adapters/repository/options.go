package repository

// Default store configuration constants.
const (
	defaultRecentLimit  = 20
	defaultHistoryLimit = 1000
)

type storeConfig struct {
	recentLimit  int
	historyLimit int
}

func defaultStoreConfig() storeConfig {
	return storeConfig{recentLimit: defaultRecentLimit, historyLimit: defaultHistoryLimit}
}

// Option applies a configuration option to a store.
type Option func(*storeConfig)

// WithRecentLimit bounds how many puzzle ids a player's recent history keeps.
func WithRecentLimit(n int) Option {
	return func(c *storeConfig) {
		if n > 0 {
			c.recentLimit = n
		}
	}
}

// WithHistoryLimit bounds how many rating points are kept per player.
func WithHistoryLimit(n int) Option {
	return func(c *storeConfig) {
		if n > 0 {
			c.historyLimit = n
		}
	}
}
