// Package config defines service configuration and how it is loaded.
//
// Conventions:
// - Every key has a default in New; files and env vars only override.
// - Durations are given in milliseconds and exposed through helpers.
package config

import (
	"fmt"
	"time"
)

// Config contains process configuration.
type Config struct {
	// LogLevel controls verbosity: debug, info, warn, error.
	LogLevel string `koanf:"log_level"`

	// Addr configures the HTTP listen address, e.g. ":8080".
	Addr string `koanf:"addr"`

	// DBPath is the SQLite database file. Empty keeps everything in memory.
	DBPath string `koanf:"db_path"`

	// SequencerCapacity bounds how many puzzles have a live queue.
	SequencerCapacity int `koanf:"sequencer_capacity"`

	// SequencerExpiryMS removes puzzle queues idle for longer.
	SequencerExpiryMS int `koanf:"sequencer_expiry_ms"`

	// SequencerTimeoutMS bounds a single finish transaction.
	SequencerTimeoutMS int `koanf:"sequencer_timeout_ms"`

	// MaxRatingDelta caps how far one finish moves a puzzle rating.
	MaxRatingDelta float64 `koanf:"max_rating_delta"`

	// GlickoTau constrains volatility changes of the Glicko-2 calculator.
	GlickoTau float64 `koanf:"glicko_tau"`

	// EventQueueSize bounds the in-memory finish event queue.
	EventQueueSize int `koanf:"event_queue_size"`

	// EventWorkerCount sets the number of event delivery workers.
	EventWorkerCount int `koanf:"event_worker_count"`

	// DedupeSize sets how many finish request IDs are remembered.
	DedupeSize int `koanf:"dedupe_size"`

	// CasualTTLMS and CasualSize bound the casual-pair memo.
	CasualTTLMS int `koanf:"casual_ttl_ms"`
	CasualSize  int `koanf:"casual_size"`

	// MaxLeaderboardLimit caps GET /leaderboard?limit.
	MaxLeaderboardLimit int `koanf:"max_leaderboard_limit"`

	// RecentFinishes is how many finish events GET /finishes/recent keeps.
	RecentFinishes int `koanf:"recent_finishes"`

	// TracingEnabled turns on span export. TracingOutput is a file path;
	// empty writes to stdout.
	TracingEnabled bool   `koanf:"tracing_enabled"`
	TracingOutput  string `koanf:"tracing_output"`

	// MetricsEnabled turns metric recording on. MetricsRefreshMS is how
	// often runtime and store gauges are polled.
	MetricsEnabled   bool `koanf:"metrics_enabled"`
	MetricsRefreshMS int  `koanf:"metrics_refresh_ms"`
}

// New creates a Config populated with defaults.
func New() *Config {
	return &Config{
		LogLevel:            "info",
		Addr:                ":9080",
		DBPath:              "",
		SequencerCapacity:   64,
		SequencerExpiryMS:   300_000,
		SequencerTimeoutMS:  5_000,
		MaxRatingDelta:      200,
		GlickoTau:           0.75,
		EventQueueSize:      10_000,
		EventWorkerCount:    4,
		DedupeSize:          100_000,
		CasualTTLMS:         1_800_000,
		CasualSize:          10_000,
		MaxLeaderboardLimit: 100,
		RecentFinishes:      100,
		TracingEnabled:      false,
		TracingOutput:       "",
		MetricsEnabled:      true,
		MetricsRefreshMS:    10_000,
	}
}

// SequencerExpiry returns SequencerExpiryMS as a duration.
func (c *Config) SequencerExpiry() time.Duration {
	return time.Duration(c.SequencerExpiryMS) * time.Millisecond
}

// SequencerTimeout returns SequencerTimeoutMS as a duration.
func (c *Config) SequencerTimeout() time.Duration {
	return time.Duration(c.SequencerTimeoutMS) * time.Millisecond
}

// CasualTTL returns CasualTTLMS as a duration.
func (c *Config) CasualTTL() time.Duration {
	return time.Duration(c.CasualTTLMS) * time.Millisecond
}

// MetricsRefresh returns MetricsRefreshMS as a duration.
func (c *Config) MetricsRefresh() time.Duration {
	return time.Duration(c.MetricsRefreshMS) * time.Millisecond
}

// Validate reports the first setting that cannot be used.
func (c *Config) Validate() error {
	switch {
	case c.Addr == "":
		return fmt.Errorf("%w: addr must not be empty", ErrInvalidConfig)
	case c.SequencerCapacity < 1:
		return fmt.Errorf("%w: sequencer_capacity must be positive", ErrInvalidConfig)
	case c.SequencerExpiryMS < 1:
		return fmt.Errorf("%w: sequencer_expiry_ms must be positive", ErrInvalidConfig)
	case c.SequencerTimeoutMS < 1:
		return fmt.Errorf("%w: sequencer_timeout_ms must be positive", ErrInvalidConfig)
	case c.MaxRatingDelta <= 0:
		return fmt.Errorf("%w: max_rating_delta must be positive", ErrInvalidConfig)
	case c.GlickoTau <= 0:
		return fmt.Errorf("%w: glicko_tau must be positive", ErrInvalidConfig)
	case c.EventQueueSize < 1:
		return fmt.Errorf("%w: event_queue_size must be positive", ErrInvalidConfig)
	case c.EventWorkerCount < 1:
		return fmt.Errorf("%w: event_worker_count must be positive", ErrInvalidConfig)
	case c.MaxLeaderboardLimit < 1:
		return fmt.Errorf("%w: max_leaderboard_limit must be positive", ErrInvalidConfig)
	case c.MetricsRefreshMS < 1:
		return fmt.Errorf("%w: metrics_refresh_ms must be positive", ErrInvalidConfig)
	}
	return nil
}
