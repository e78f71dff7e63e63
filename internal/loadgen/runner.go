package loadgen

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/okian/ratekeep/internal/domain/model"
	"github.com/okian/ratekeep/internal/domain/theme"
	"github.com/okian/ratekeep/pkg/logger"
)

// replayShare is the fraction of finishes resent with their request id to
// exercise duplicate detection.
const replayShare = 10

// ErrInvalidConfig is returned by Run for unusable settings.
var ErrInvalidConfig = errors.New("invalid load config")

func (c *Config) validate() error {
	switch {
	case c.BaseURL == "":
		return fmt.Errorf("%w: base url must not be empty", ErrInvalidConfig)
	case c.Players < 1, c.Puzzles < 1, c.Finishes < 1, c.Workers < 1:
		return fmt.Errorf("%w: players, puzzles, finishes and workers must be positive", ErrInvalidConfig)
	case c.CasualRate < 0 || c.CasualRate > 1:
		return fmt.Errorf("%w: casual rate must be within [0, 1]", ErrInvalidConfig)
	}
	return nil
}

// Runner executes one load run.
type Runner struct {
	cfg    Config
	client *client
	logger logger.Logger
	runID  string

	puzzleIDs []string
	playerIDs []string
	// ratedOK counts accepted rated finishes per puzzle. The map is built
	// before submission starts and only the counters change.
	ratedOK map[string]*atomic.Int64
}

// NewRunner prepares a run. A nil logger discards output.
func NewRunner(cfg Config, log logger.Logger) (*Runner, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if cfg.TopN < 1 {
		cfg.TopN = 10
	}
	if log == nil {
		log = logger.Discard()
	}

	r := &Runner{
		cfg:     cfg,
		client:  newClient(cfg.BaseURL, cfg.Timeout),
		logger:  log,
		runID:   uuid.NewString()[:8],
		ratedOK: make(map[string]*atomic.Int64, cfg.Puzzles),
	}
	for i := range cfg.Puzzles {
		id := fmt.Sprintf("lg-%s-z%d", r.runID, i)
		r.puzzleIDs = append(r.puzzleIDs, id)
		r.ratedOK[id] = new(atomic.Int64)
	}
	for i := range cfg.Players {
		r.playerIDs = append(r.playerIDs, fmt.Sprintf("lg-%s-u%d", r.runID, i))
	}
	return r, nil
}

// Run executes the complete load run and verifies the outcome.
func (r *Runner) Run(ctx context.Context) (*Stats, error) {
	stats := &Stats{StartTime: time.Now()}

	r.logger.Info(ctx, "starting load run",
		logger.String("baseURL", r.cfg.BaseURL),
		logger.String("run", r.runID),
		logger.Int("players", r.cfg.Players),
		logger.Int("puzzles", r.cfg.Puzzles),
		logger.Int("finishes", r.cfg.Finishes),
		logger.Int("workers", r.cfg.Workers))

	if err := r.client.get(ctx, "/healthz", nil); err != nil {
		return stats, fmt.Errorf("service health check failed: %w", err)
	}
	if err := r.createPuzzles(ctx, stats); err != nil {
		return stats, fmt.Errorf("puzzle creation failed: %w", err)
	}

	finishes := r.generate()
	r.submit(ctx, finishes, stats)
	r.submit(ctx, replays(finishes), stats)

	if err := r.verify(ctx, stats); err != nil {
		return stats, fmt.Errorf("verification failed: %w", err)
	}

	stats.EndTime = time.Now()
	stats.Duration = stats.EndTime.Sub(stats.StartTime)
	r.logger.Info(ctx, "load run completed",
		logger.Int("submitted", stats.Submitted),
		logger.Int("rated", stats.Rated),
		logger.Int("casual", stats.Casual),
		logger.Int("duplicate", stats.Duplicate),
		logger.Int("backpressure", stats.Backpressure),
		logger.Int("failed", stats.Failed),
		logger.Int("verified", stats.Verified),
		logger.Duration("duration", stats.Duration),
		logger.Float64("finishesPerSecond", stats.FinishesPerSecond()))
	return stats, nil
}

func (r *Runner) createPuzzles(ctx context.Context, stats *Stats) error {
	for _, id := range r.puzzleIDs {
		status, err := r.client.post(ctx, "/puzzles", map[string]any{
			"id":     id,
			"rating": model.DefaultRating + float64(rand.IntN(800)) - 400,
		})
		if err != nil {
			return err
		}
		if status != http.StatusCreated {
			return fmt.Errorf("create puzzle %s: status %d", id, status)
		}
		stats.PuzzlesCreated++
	}
	return nil
}

func (r *Runner) generate() []finish {
	themes := theme.All()
	out := make([]finish, r.cfg.Finishes)
	for i := range out {
		mode := model.ModeRated
		if rand.Float64() < r.cfg.CasualRate {
			mode = model.ModeCasual
		}
		out[i] = finish{
			RequestID: uuid.NewString(),
			PlayerID:  r.playerIDs[rand.IntN(len(r.playerIDs))],
			PuzzleID:  r.puzzleIDs[rand.IntN(len(r.puzzleIDs))],
			Theme:     string(themes[rand.IntN(len(themes))]),
			Win:       rand.IntN(2) == 0,
			Mode:      string(mode),
		}
	}
	return out
}

// replays returns every replayShare-th finish for resubmission.
func replays(finishes []finish) []finish {
	var out []finish
	for i := 0; i < len(finishes); i += replayShare {
		out = append(out, finishes[i])
	}
	return out
}

// submit posts finishes from a pool of workers and folds the outcomes into
// stats.
func (r *Runner) submit(ctx context.Context, finishes []finish, stats *Stats) {
	var submitted, rated, casual, duplicate, backpressure, failed atomic.Int64

	work := make(chan finish, r.cfg.Workers*2)
	var wg sync.WaitGroup
	for range r.cfg.Workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for f := range work {
				submitted.Add(1)
				status, err := r.client.post(ctx, "/finish", f)
				switch {
				case err != nil:
					failed.Add(1)
					if r.cfg.Verbose {
						r.logger.Warn(ctx, "finish request failed", logger.String("request_id", f.RequestID), logger.Error(err))
					}
				case status == http.StatusOK && f.Mode == string(model.ModeCasual):
					casual.Add(1)
				case status == http.StatusOK:
					rated.Add(1)
					r.ratedOK[f.PuzzleID].Add(1)
				case status == http.StatusConflict:
					duplicate.Add(1)
				case status == http.StatusTooManyRequests:
					backpressure.Add(1)
				default:
					failed.Add(1)
					if r.cfg.Verbose {
						r.logger.Warn(ctx, "finish rejected", logger.String("request_id", f.RequestID), logger.Int("status", status))
					}
				}
			}
		}()
	}

feed:
	for _, f := range finishes {
		select {
		case <-ctx.Done():
			break feed
		case work <- f:
		}
	}
	close(work)
	wg.Wait()

	stats.Submitted += int(submitted.Load())
	stats.Rated += int(rated.Load())
	stats.Casual += int(casual.Load())
	stats.Duplicate += int(duplicate.Load())
	stats.Backpressure += int(backpressure.Load())
	stats.Failed += int(failed.Load())
}
