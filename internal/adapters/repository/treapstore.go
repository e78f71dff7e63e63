package repository

import (
	"context"
	"math"
	"math/rand/v2"
	"sync"

	"github.com/okian/ratekeep/internal/domain/model"
	"github.com/okian/ratekeep/pkg/metrics"
)

// Treap-based, in-memory player ranking.
//
// Ordering: rating DESC, then playerID ASC (deterministic).
// "less" means ranks earlier, so in-order traversal yields the leaderboard
// from best to worst. Subtree sizes give ranks in O(log n).

// ratingScale controls fixed-point scaling from float64.
const ratingScale = 1_000_000

type ratingFP int64

func toFixedPoint(x float64) ratingFP {
	if math.IsNaN(x) {
		return 0
	}
	scaled := x * ratingScale
	if scaled > float64(math.MaxInt64) {
		return ratingFP(math.MaxInt64)
	}
	if scaled < float64(math.MinInt64) {
		return ratingFP(math.MinInt64)
	}
	return ratingFP(math.Round(scaled))
}

// treap node
type node struct {
	id    string
	score ratingFP
	prio  uint64
	left  *node
	right *node
	size  int
}

func nsize(n *node) int {
	if n == nil {
		return 0
	}
	return n.size
}

func fix(n *node) {
	if n != nil {
		n.size = 1 + nsize(n.left) + nsize(n.right)
	}
}

// less returns true if (aScore, aID) should appear before (bScore, bID).
func less(aScore ratingFP, aID string, bScore ratingFP, bID string) bool {
	if aScore != bScore {
		return aScore > bScore
	}
	return aID < bID
}

func rotateRight(y *node) *node {
	x := y.left
	y.left = x.right
	x.right = y
	fix(y)
	fix(x)
	return x
}

func rotateLeft(x *node) *node {
	y := x.right
	x.right = y.left
	y.left = x
	fix(x)
	fix(y)
	return y
}

func insert(n *node, id string, score ratingFP, prio uint64) *node {
	if n == nil {
		return &node{id: id, score: score, prio: prio, size: 1}
	}
	if less(score, id, n.score, n.id) {
		n.left = insert(n.left, id, score, prio)
		if n.left.prio > n.prio {
			n = rotateRight(n)
		}
	} else {
		n.right = insert(n.right, id, score, prio)
		if n.right.prio > n.prio {
			n = rotateLeft(n)
		}
	}
	fix(n)
	return n
}

func deleteNode(n *node, id string, score ratingFP) *node {
	if n == nil {
		return nil
	}
	switch {
	case score == n.score && id == n.id:
		if n.left == nil {
			return n.right
		}
		if n.right == nil {
			return n.left
		}
		if n.left.prio > n.right.prio {
			n = rotateRight(n)
			n.right = deleteNode(n.right, id, score)
		} else {
			n = rotateLeft(n)
			n.left = deleteNode(n.left, id, score)
		}
	case less(score, id, n.score, n.id):
		n.left = deleteNode(n.left, id, score)
	default:
		n.right = deleteNode(n.right, id, score)
	}
	fix(n)
	return n
}

// countAbove returns how many nodes rank strictly above score.
func countAbove(n *node, score ratingFP) int {
	c := 0
	for n != nil {
		if n.score > score {
			c += 1 + nsize(n.left)
			n = n.right
		} else {
			n = n.left
		}
	}
	return c
}

// collectTopN appends up to limit ids in rank order.
func collectTopN(n *node, limit int, out *[]string) {
	if n == nil || len(*out) >= limit {
		return
	}
	collectTopN(n.left, limit, out)
	if len(*out) < limit {
		*out = append(*out, n.id)
	}
	if len(*out) < limit {
		collectTopN(n.right, limit, out)
	}
}

// TreapStore keeps players and ranks them by rating.
type TreapStore struct {
	mu   sync.RWMutex
	root *node
	byID map[string]model.Player
	rng  *rand.Rand
	cfg  storeConfig
}

// NewTreapStore constructs a treap store with configuration options.
func NewTreapStore(opts ...Option) *TreapStore {
	cfg := defaultStoreConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	return &TreapStore{
		byID: make(map[string]model.Player),
		rng:  rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64())),
		cfg:  cfg,
	}
}

// FindPlayer returns a copy of the player with its Dubious flag evaluated.
func (s *TreapStore) FindPlayer(ctx context.Context, id string) (*model.Player, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.byID[id]
	if !ok {
		return nil, nil
	}
	p.RecentHistory = append([]string(nil), p.RecentHistory...)
	p.Dubious = Dubious(p)
	return &p, nil
}

// SavePlayer inserts or replaces a player.
func (s *TreapStore) SavePlayer(ctx context.Context, p model.Player) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.putLocked(p)
	metrics.UpdatePlayersTotal(len(s.byID))
	return nil
}

// SetPlayerRating rewrites a player's rating and clears the recent history.
func (s *TreapStore) SetPlayerRating(ctx context.Context, playerID string, r model.Rating) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.byID[playerID]
	if !ok {
		return ErrNotFound
	}
	p.Rating = r
	p.RecentHistory = nil
	s.putLocked(p)
	return nil
}

// AppendRecent remembers puzzleID as recently played by the player.
func (s *TreapStore) AppendRecent(ctx context.Context, playerID, puzzleID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.byID[playerID]
	if !ok {
		return ErrNotFound
	}
	recent := append(p.RecentHistory, puzzleID)
	if over := len(recent) - s.cfg.recentLimit; over > 0 {
		recent = recent[over:]
	}
	p.RecentHistory = recent
	s.byID[playerID] = p
	return nil
}

// Rank returns the current rank and rating of a player in O(log n).
func (s *TreapStore) Rank(ctx context.Context, playerID string) (Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.byID[playerID]
	if !ok {
		return Entry{}, ErrNotFound
	}
	return Entry{
		Rank:     1 + countAbove(s.root, toFixedPoint(p.Rating.Rating)),
		PlayerID: playerID,
		Rating:   p.Rating,
	}, nil
}

// TopN returns the top N players ordered by rating desc.
func (s *TreapStore) TopN(ctx context.Context, n int) ([]Entry, error) {
	if n < 1 {
		return nil, ErrInvalidLimit
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := make([]string, 0, min(n, len(s.byID)))
	collectTopN(s.root, n, &ids)

	out := make([]Entry, len(ids))
	for i, id := range ids {
		out[i] = Entry{PlayerID: id, Rating: s.byID[id].Rating}
	}
	assignRanks(out)
	return out, nil
}

// Count returns the number of players.
func (s *TreapStore) Count(ctx context.Context) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.byID)
}

func (s *TreapStore) putLocked(p model.Player) {
	if old, ok := s.byID[p.ID]; ok {
		s.root = deleteNode(s.root, p.ID, toFixedPoint(old.Rating.Rating))
	}
	p.Dubious = false
	s.byID[p.ID] = p
	s.root = insert(s.root, p.ID, toFixedPoint(p.Rating.Rating), s.rng.Uint64())
}

// assignRanks gives equal ratings the same rank and skips the positions they
// share, so ranks match Rank for every entry of a prefix.
func assignRanks(entries []Entry) {
	for i := range entries {
		if i > 0 && toFixedPoint(entries[i].Rating.Rating) == toFixedPoint(entries[i-1].Rating.Rating) {
			entries[i].Rank = entries[i-1].Rank
			continue
		}
		entries[i].Rank = i + 1
	}
}
