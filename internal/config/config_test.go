package config_test

import (
	"errors"
	"testing"
	"time"

	"github.com/smartystreets/goconvey/convey"

	"github.com/okian/ratekeep/internal/config"
)

func TestConfig_New(t *testing.T) {
	convey.Convey("Given a new config with default options", t, func() {
		cfg := config.New()

		convey.Convey("Then it should have sensible defaults", func() {
			convey.So(cfg.Addr, convey.ShouldEqual, ":9080")
			convey.So(cfg.DBPath, convey.ShouldBeEmpty)
			convey.So(cfg.SequencerCapacity, convey.ShouldEqual, 64)
			convey.So(cfg.SequencerExpiry(), convey.ShouldEqual, 5*time.Minute)
			convey.So(cfg.SequencerTimeout(), convey.ShouldEqual, 5*time.Second)
			convey.So(cfg.MaxRatingDelta, convey.ShouldEqual, 200)
			convey.So(cfg.GlickoTau, convey.ShouldEqual, 0.75)
			convey.So(cfg.CasualTTL(), convey.ShouldEqual, 30*time.Minute)
			convey.So(cfg.MetricsEnabled, convey.ShouldBeTrue)
			convey.So(cfg.MetricsRefresh(), convey.ShouldEqual, 10*time.Second)
			convey.So(cfg.Validate(), convey.ShouldBeNil)
		})
	})
}

func TestConfig_Validate(t *testing.T) {
	convey.Convey("Given a config with one broken setting", t, func() {
		cases := map[string]func(*config.Config){
			"addr must not be empty":                func(c *config.Config) { c.Addr = "" },
			"sequencer_capacity must be positive":   func(c *config.Config) { c.SequencerCapacity = 0 },
			"sequencer_expiry_ms must be positive":  func(c *config.Config) { c.SequencerExpiryMS = -1 },
			"sequencer_timeout_ms must be positive": func(c *config.Config) { c.SequencerTimeoutMS = 0 },
			"max_rating_delta must be positive":     func(c *config.Config) { c.MaxRatingDelta = 0 },
			"glicko_tau must be positive":           func(c *config.Config) { c.GlickoTau = -0.5 },
			"event_queue_size must be positive":     func(c *config.Config) { c.EventQueueSize = 0 },
			"event_worker_count must be positive":   func(c *config.Config) { c.EventWorkerCount = 0 },
			"max_leaderboard_limit must be positive": func(c *config.Config) {
				c.MaxLeaderboardLimit = 0
			},
			"metrics_refresh_ms must be positive": func(c *config.Config) { c.MetricsRefreshMS = 0 },
		}

		for msg, breakIt := range cases {
			cfg := config.New()
			breakIt(cfg)
			err := cfg.Validate()

			convey.So(errors.Is(err, config.ErrInvalidConfig), convey.ShouldBeTrue)
			convey.So(err.Error(), convey.ShouldContainSubstring, msg)
		}
	})
}
