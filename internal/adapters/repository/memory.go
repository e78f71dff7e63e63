package repository

import (
	"context"
	"sync"

	"github.com/okian/ratekeep/internal/domain/model"
	"github.com/okian/ratekeep/internal/domain/theme"
)

type roundRow struct {
	round model.Round
	theme theme.Theme
}

// MemoryStore is a Store kept entirely in memory. Players and ranking live
// in the embedded TreapStore.
type MemoryStore struct {
	*TreapStore

	mu      sync.RWMutex
	puzzles map[string]model.Puzzle
	rounds  map[string]roundRow
	history map[string][]model.RatingPoint
	cfg     storeConfig
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore constructs an empty in-memory store.
func NewMemoryStore(opts ...Option) *MemoryStore {
	cfg := defaultStoreConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	return &MemoryStore{
		TreapStore: NewTreapStore(opts...),
		puzzles:    make(map[string]model.Puzzle),
		rounds:     make(map[string]roundRow),
		history:    make(map[string][]model.RatingPoint),
		cfg:        cfg,
	}
}

func roundKey(playerID, puzzleID string) string {
	return playerID + "\x00" + puzzleID
}

// CreatePuzzle adds a new puzzle. Returns ErrExists for a known id.
func (s *MemoryStore) CreatePuzzle(ctx context.Context, p model.Puzzle) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.puzzles[p.ID]; ok {
		return ErrExists
	}
	p.Provisional = false
	s.puzzles[p.ID] = p
	return nil
}

// FindPuzzle returns a copy of the puzzle with its Provisional flag evaluated.
func (s *MemoryStore) FindPuzzle(ctx context.Context, id string) (*model.Puzzle, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.puzzles[id]
	if !ok {
		return nil, nil
	}
	p.Provisional = Provisional(p)
	return &p, nil
}

// IncrementPlays adds one play to a puzzle.
func (s *MemoryStore) IncrementPlays(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.puzzles[id]
	if !ok {
		return ErrNotFound
	}
	p.Plays++
	s.puzzles[id] = p
	return nil
}

// SetPuzzleRating rewrites a puzzle's rating.
func (s *MemoryStore) SetPuzzleRating(ctx context.Context, id string, r model.Rating) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.puzzles[id]
	if !ok {
		return ErrNotFound
	}
	p.Rating = r
	s.puzzles[id] = p
	return nil
}

// FindRound returns the player's round on a puzzle.
func (s *MemoryStore) FindRound(ctx context.Context, playerID, puzzleID string) (*model.Round, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row, ok := s.rounds[roundKey(playerID, puzzleID)]
	if !ok {
		return nil, nil
	}
	r := row.round
	return &r, nil
}

// UpsertRound stores the round, replacing any earlier one of the pair.
func (s *MemoryStore) UpsertRound(ctx context.Context, round model.Round, th theme.Theme) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rounds[roundKey(round.PlayerID, round.PuzzleID)] = roundRow{round: round, theme: th}
	return nil
}

// AppendRating records a rating point, dropping the oldest beyond the limit.
func (s *MemoryStore) AppendRating(ctx context.Context, point model.RatingPoint) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	h := append(s.history[point.PlayerID], point)
	if over := len(h) - s.cfg.historyLimit; over > 0 {
		h = append([]model.RatingPoint(nil), h[over:]...)
	}
	s.history[point.PlayerID] = h
	return nil
}

// History returns up to limit of the player's most recent rating points,
// oldest first. A limit below one returns everything kept.
func (s *MemoryStore) History(ctx context.Context, playerID string, limit int) ([]model.RatingPoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	h := s.history[playerID]
	if limit > 0 && len(h) > limit {
		h = h[len(h)-limit:]
	}
	return append([]model.RatingPoint(nil), h...), nil
}

// Stats reports how many puzzles, players and rounds are stored.
func (s *MemoryStore) Stats(ctx context.Context) (Stats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Stats{Puzzles: len(s.puzzles), Players: s.Count(ctx), Rounds: len(s.rounds)}, nil
}

// Close releases nothing; it exists to satisfy Store.
func (s *MemoryStore) Close() error {
	return nil
}
