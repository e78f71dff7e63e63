// Package cache holds short-lived, size-bounded lookups used on the finish
// path.
package cache

import (
	"context"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// Defaults for the casual-pair memo.
const (
	DefaultCasualSize = 10000
	DefaultCasualTTL  = 30 * time.Minute
)

// CasualStore remembers (player, puzzle) pairs whose attempts never count,
// for example because the player already saw the solution. Entries expire
// after the TTL or when the store is full.
type CasualStore struct {
	pairs *expirable.LRU[string, struct{}]
}

// NewCasualStore creates a store holding up to size pairs for ttl each.
// Non-positive arguments fall back to the defaults.
func NewCasualStore(size int, ttl time.Duration) *CasualStore {
	if size <= 0 {
		size = DefaultCasualSize
	}
	if ttl <= 0 {
		ttl = DefaultCasualTTL
	}
	return &CasualStore{pairs: expirable.NewLRU[string, struct{}](size, nil, ttl)}
}

func pairKey(playerID, puzzleID string) string {
	return playerID + "\x00" + puzzleID
}

// Mark records the pair as casual.
func (c *CasualStore) Mark(_ context.Context, playerID, puzzleID string) {
	c.pairs.Add(pairKey(playerID, puzzleID), struct{}{})
}

// IsCasual reports whether the pair is currently marked.
func (c *CasualStore) IsCasual(_ context.Context, playerID, puzzleID string) bool {
	_, ok := c.pairs.Peek(pairKey(playerID, puzzleID))
	return ok
}

// Len returns the number of marked pairs, expired ones included until they
// are purged.
func (c *CasualStore) Len() int {
	return c.pairs.Len()
}
