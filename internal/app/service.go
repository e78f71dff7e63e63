// Package service provides the core business service that implements
// the dependencies required by the HTTP API.
package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/okian/ratekeep/internal/adapters/cache"
	"github.com/okian/ratekeep/internal/adapters/mq/bus"
	"github.com/okian/ratekeep/internal/adapters/mq/sequencer"
	"github.com/okian/ratekeep/internal/adapters/repository"
	"github.com/okian/ratekeep/internal/domain/dedupe"
	"github.com/okian/ratekeep/internal/domain/finisher"
	"github.com/okian/ratekeep/internal/domain/glicko"
	"github.com/okian/ratekeep/internal/domain/model"
	"github.com/okian/ratekeep/internal/domain/theme"
	"github.com/okian/ratekeep/internal/domain/types"
	"github.com/okian/ratekeep/pkg/logger"
	"github.com/okian/ratekeep/pkg/metrics"
)

// FinishRequest is one reported attempt.
type FinishRequest struct {
	// RequestID is optional. When set, a retry with the same id is rejected
	// with ErrDuplicate instead of being applied twice.
	RequestID string
	PlayerID  string
	PuzzleID  string
	Theme     theme.Theme
	Win       bool
	Mode      model.Mode
}

func (r FinishRequest) validate() error {
	switch {
	case strings.TrimSpace(r.PlayerID) == "":
		return fmt.Errorf("%w: missing player_id", ErrInvalidRequest)
	case strings.TrimSpace(r.PuzzleID) == "":
		return fmt.Errorf("%w: missing puzzle_id", ErrInvalidRequest)
	case r.Mode != model.ModeRated && r.Mode != model.ModeCasual:
		return fmt.Errorf("%w: unknown mode %q", ErrInvalidRequest, r.Mode)
	}
	return nil
}

// Service implements the API dependencies for the rating system.
type Service struct {
	mu sync.RWMutex

	// Core components
	store    repository.Store
	seq      *sequencer.Sequencer[string]
	finisher *finisher.Finisher
	bus      *bus.Bus
	feed     *bus.Feed
	deduper  dedupe.Deduper
	casual   *cache.CasualStore
	calc     finisher.Calculator

	// playersMu serializes first-time player creation.
	playersMu sync.Mutex

	// Configuration
	seqCapacity   int
	seqExpiration time.Duration
	seqTimeout    time.Duration
	maxDelta      float64
	tau           float64
	queueSize     int
	workerCount   int
	dedupeSize    int
	casualSize    int
	casualTTL     time.Duration
	recentSize    int

	// State
	started     bool
	ownsStore   bool
	storeClosed bool
	clock       clockwork.Clock

	// Logging
	logger logger.Logger
}

// New constructs a new Service with default configuration.
func New(opts ...Option) *Service {
	s := &Service{
		seqCapacity:   64,
		seqExpiration: 5 * time.Minute,
		seqTimeout:    5 * time.Second,
		maxDelta:      finisher.DefaultMaxRatingDelta,
		tau:           0.75,
		queueSize:     10_000,
		workerCount:   4,
		dedupeSize:    100_000,
		casualSize:    cache.DefaultCasualSize,
		casualTTL:     cache.DefaultCasualTTL,
		recentSize:    100,
		clock:         clockwork.NewRealClock(),
		logger:        nil, // replaced on Start
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

// Start initializes and starts the service components.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return nil
	}

	if s.logger == nil {
		s.logger = logger.Get()
	}

	if s.storeClosed && !s.ownsStore {
		return ErrStoreClosed
	}

	s.logger.Info(ctx, "starting rating service...")

	if s.store == nil || s.storeClosed {
		s.store = repository.NewMemoryStore()
		s.ownsStore = true
		s.storeClosed = false
		s.logger.Info(ctx, "using in-memory store")
	}
	if s.calc == nil {
		s.calc = glicko.NewCalculator(glicko.WithTau(s.tau))
	}

	s.deduper = dedupe.NewInMemoryDeduper(dedupe.WithMaxSize(s.dedupeSize))
	s.casual = cache.NewCasualStore(s.casualSize, s.casualTTL)

	s.feed = bus.NewFeed(s.recentSize)
	s.bus = bus.New(
		bus.WithCapacity(s.queueSize),
		bus.WithWorkers(s.workerCount),
		bus.WithLogger(s.logger.Named("bus")),
	)
	s.bus.Subscribe(s.feed)

	s.seq = sequencer.New[string](
		sequencer.WithName("puzzle"),
		sequencer.WithCapacity(s.seqCapacity),
		sequencer.WithExpiration(s.seqExpiration),
		sequencer.WithTimeout(s.seqTimeout),
		sequencer.WithClock(s.clock),
		sequencer.WithLogger(s.logger.Named("sequencer")),
	)

	s.finisher = finisher.New(s.seq, s.calc, s.store, s.store, s.store,
		finisher.WithMaxRatingDelta(s.maxDelta),
		finisher.WithHistoryLog(s.store),
		finisher.WithPublisher(s.bus),
		finisher.WithCasualChecker(s.casual),
		finisher.WithClock(s.clock),
		finisher.WithLogger(s.logger.Named("finisher")),
	)

	// Components outlive the request that started them.
	runCtx := context.WithoutCancel(ctx)
	s.seq.Start(runCtx)
	s.bus.Start(runCtx)

	s.started = true
	s.logger.Info(ctx, "rating service started",
		logger.Int("sequencerCapacity", s.seqCapacity),
		logger.Duration("sequencerTimeout", s.seqTimeout),
		logger.Int("workers", s.workerCount),
		logger.Int("queueSize", s.queueSize),
		logger.Int("dedupeSize", s.dedupeSize),
	)

	return nil
}

// Stop drains in-flight finishes, delivers pending events and closes the
// store. A service that created its own in-memory store starts over with an
// empty one on the next Start; an injected store cannot be reopened.
func (s *Service) Stop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.started {
		return nil
	}

	s.logger.Info(ctx, "stopping rating service...")

	var errs []error
	if err := s.seq.Close(ctx); err != nil {
		errs = append(errs, fmt.Errorf("close sequencer: %w", err))
	}
	if err := s.bus.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("shutdown event bus: %w", err))
	}
	if err := s.store.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close store: %w", err))
	}
	s.storeClosed = true

	s.started = false
	s.logger.Info(ctx, "rating service stopped")
	return errors.Join(errs...)
}

// running returns the finisher pipeline or ErrNotStarted.
func (s *Service) running() (*finisher.Finisher, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.started {
		return nil, ErrNotStarted
	}
	return s.finisher, nil
}

// CreatePuzzle adds a puzzle. A zero rating starts it at the default.
func (s *Service) CreatePuzzle(ctx context.Context, id string, rating model.Rating) (model.Puzzle, error) {
	if _, err := s.running(); err != nil {
		return model.Puzzle{}, err
	}
	if strings.TrimSpace(id) == "" {
		return model.Puzzle{}, fmt.Errorf("%w: missing puzzle id", ErrInvalidRequest)
	}
	if rating == (model.Rating{}) {
		rating = model.DefaultGlicko()
	}
	if !rating.SanityCheck() {
		return model.Puzzle{}, fmt.Errorf("%w: %+v", ErrInvalidRating, rating)
	}

	p := model.Puzzle{ID: id, Rating: rating}
	if err := s.store.CreatePuzzle(ctx, p); err != nil {
		return model.Puzzle{}, fmt.Errorf("create puzzle %s: %w", id, err)
	}
	p.Provisional = repository.Provisional(p)
	s.logger.Debug(ctx, "puzzle created", logger.String("puzzle_id", id), logger.Int("rating", rating.Int()))
	return p, nil
}

// Puzzle returns the stored puzzle or repository.ErrNotFound.
func (s *Service) Puzzle(ctx context.Context, id string) (model.Puzzle, error) {
	if _, err := s.running(); err != nil {
		return model.Puzzle{}, err
	}
	p, err := s.store.FindPuzzle(ctx, id)
	if err != nil {
		return model.Puzzle{}, err
	}
	if p == nil {
		return model.Puzzle{}, fmt.Errorf("puzzle %s: %w", id, repository.ErrNotFound)
	}
	return *p, nil
}

// Finish applies one attempt. Unknown players are created with the default
// rating on their first finish.
func (s *Service) Finish(ctx context.Context, req FinishRequest) (finisher.Result, error) {
	f, err := s.running()
	if err != nil {
		return finisher.Result{}, err
	}
	if req.Mode == "" {
		req.Mode = model.ModeRated
	}
	if req.Theme == "" {
		req.Theme = theme.Mix
	}
	if err := req.validate(); err != nil {
		return finisher.Result{}, err
	}

	if req.RequestID != "" && s.deduper.SeenAndRecord(ctx, req.RequestID) {
		s.logger.Debug(ctx, "duplicate finish request", logger.String("request_id", req.RequestID))
		return finisher.Result{}, fmt.Errorf("%w: %s", ErrDuplicate, req.RequestID)
	}

	res, err := s.finish(ctx, f, req)
	if err != nil && req.RequestID != "" && nothingWritten(err) {
		s.deduper.Unrecord(ctx, req.RequestID)
	}
	return res, err
}

func (s *Service) finish(ctx context.Context, f *finisher.Finisher, req FinishRequest) (finisher.Result, error) {
	player, err := s.ensurePlayer(ctx, req.PlayerID)
	if err != nil {
		return finisher.Result{}, err
	}

	res, err := f.Finish(ctx, req.PuzzleID, req.Theme, *player, req.Win, req.Mode)
	if err != nil {
		return finisher.Result{}, err
	}

	if err := s.store.AppendRecent(ctx, req.PlayerID, req.PuzzleID); err != nil {
		s.logger.Warn(ctx, "recording recent puzzle failed",
			logger.String("player_id", req.PlayerID),
			logger.String("puzzle_id", req.PuzzleID),
			logger.Error(err),
		)
	}
	return res, nil
}

// nothingWritten reports errors raised before the finish touched the store,
// so a retry with the same request id must be allowed.
func nothingWritten(err error) bool {
	return errors.Is(err, finisher.ErrPuzzleNotFound) ||
		errors.Is(err, sequencer.ErrBusy) ||
		errors.Is(err, sequencer.ErrClosed) ||
		errors.Is(err, sequencer.ErrSkipped)
}

func (s *Service) ensurePlayer(ctx context.Context, id string) (*model.Player, error) {
	p, err := s.store.FindPlayer(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("%w: find player: %w", finisher.ErrPersistence, err)
	}
	if p != nil {
		return p, nil
	}

	s.playersMu.Lock()
	defer s.playersMu.Unlock()

	// another finish may have created the player meanwhile
	if p, err = s.store.FindPlayer(ctx, id); err != nil {
		return nil, fmt.Errorf("%w: find player: %w", finisher.ErrPersistence, err)
	}
	if p != nil {
		return p, nil
	}

	fresh := model.Player{ID: id, Rating: model.DefaultGlicko()}
	if err := s.store.SavePlayer(ctx, fresh); err != nil {
		return nil, fmt.Errorf("%w: save player: %w", finisher.ErrPersistence, err)
	}
	fresh.Dubious = repository.Dubious(fresh)
	s.logger.Debug(ctx, "player created", logger.String("player_id", id))
	return &fresh, nil
}

// MarkCasual makes the player's later attempts on the puzzle count for
// nothing until the memo forgets the pair.
func (s *Service) MarkCasual(ctx context.Context, playerID, puzzleID string) error {
	if _, err := s.running(); err != nil {
		return err
	}
	if strings.TrimSpace(playerID) == "" || strings.TrimSpace(puzzleID) == "" {
		return fmt.Errorf("%w: missing player_id or puzzle_id", ErrInvalidRequest)
	}
	s.casual.Mark(ctx, playerID, puzzleID)
	return nil
}

// IncrementPlays bumps a puzzle's play counter without rating anything.
func (s *Service) IncrementPlays(ctx context.Context, puzzleID string) error {
	f, err := s.running()
	if err != nil {
		return err
	}
	return f.IncrementPlaysOnly(ctx, puzzleID)
}

// TopN returns the top N leaderboard entries.
func (s *Service) TopN(ctx context.Context, n int) ([]types.Entry, error) {
	if _, err := s.running(); err != nil {
		return nil, err
	}
	entries, err := s.store.TopN(ctx, n)
	if err != nil {
		return nil, err
	}

	out := make([]types.Entry, len(entries))
	for i, e := range entries {
		out[i] = types.NewEntry(e.Rank, e.PlayerID, e.Rating)
	}
	return out, nil
}

// Rank returns the rank and rating for a given player id.
func (s *Service) Rank(ctx context.Context, playerID string) (types.Entry, error) {
	if _, err := s.running(); err != nil {
		return types.Entry{}, err
	}
	e, err := s.store.Rank(ctx, playerID)
	if err != nil {
		return types.Entry{}, err
	}
	return types.NewEntry(e.Rank, e.PlayerID, e.Rating), nil
}

// History returns the player's latest rating changes, oldest first.
func (s *Service) History(ctx context.Context, playerID string, limit int) ([]model.RatingPoint, error) {
	if _, err := s.running(); err != nil {
		return nil, err
	}
	p, err := s.store.FindPlayer(ctx, playerID)
	if err != nil {
		return nil, err
	}
	if p == nil {
		return nil, fmt.Errorf("player %s: %w", playerID, repository.ErrNotFound)
	}
	return s.store.History(ctx, playerID, limit)
}

// RecentFinishes returns up to limit delivered finish events, newest first.
func (s *Service) RecentFinishes(limit int) []model.FinishEvent {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.feed == nil {
		return nil
	}
	return s.feed.Recent(limit)
}

// GetStats returns service statistics for monitoring.
func (s *Service) GetStats() map[string]interface{} {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := map[string]interface{}{
		"started":           s.started,
		"sequencerCapacity": s.seqCapacity,
		"workerCount":       s.workerCount,
		"queueSize":         s.queueSize,
		"dedupeSize":        s.dedupeSize,
	}

	if s.started {
		ctx := context.Background()
		stats["activeSequencerQueues"] = s.seq.Len()
		stats["pendingEvents"] = s.bus.Pending()
		stats["recordedRequests"] = s.deduper.Size()
		stats["casualPairs"] = s.casual.Len()

		if st, err := s.store.Stats(ctx); err == nil {
			stats["puzzles"] = st.Puzzles
			stats["players"] = st.Players
			stats["rounds"] = st.Rounds
			metrics.UpdatePlayersTotal(st.Players)
		} else {
			s.logger.Warn(ctx, "reading store stats failed", logger.Error(err))
		}
	}

	return stats
}
