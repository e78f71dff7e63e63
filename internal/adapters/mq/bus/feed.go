package bus

import (
	"context"
	"sync"

	"github.com/okian/ratekeep/internal/domain/model"
)

// Feed keeps the most recent finish events in a ring.
type Feed struct {
	mu    sync.RWMutex
	ring  []model.FinishEvent
	next  int
	count int
}

// NewFeed creates a feed remembering up to size events.
func NewFeed(size int) *Feed {
	if size < 1 {
		size = 1
	}
	return &Feed{ring: make([]model.FinishEvent, size)}
}

// Handle records e, overwriting the oldest event when full.
func (f *Feed) Handle(_ context.Context, e model.FinishEvent) error { //nolint:gocritic // hugeParam: Event must be passed by value for channel semantics
	f.mu.Lock()
	defer f.mu.Unlock()

	f.ring[f.next] = e
	f.next = (f.next + 1) % len(f.ring)
	if f.count < len(f.ring) {
		f.count++
	}
	return nil
}

// Recent returns up to limit events, newest first. A limit below one returns
// everything kept.
func (f *Feed) Recent(limit int) []model.FinishEvent {
	f.mu.RLock()
	defer f.mu.RUnlock()

	n := f.count
	if limit > 0 && limit < n {
		n = limit
	}
	out := make([]model.FinishEvent, n)
	for i := 0; i < n; i++ {
		idx := (f.next - 1 - i + len(f.ring)) % len(f.ring)
		out[i] = f.ring[idx]
	}
	return out
}
