// Package dedupe remembers request IDs so retried finishes are applied once.
package dedupe

import (
	"context"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/okian/ratekeep/pkg/metrics"
)

const defaultMaxSize = 50000

// Deduper records seen request IDs to ensure at-most-once processing.
type Deduper interface {
	// SeenAndRecord atomically checks if id was seen and records it if not.
	// Returns true if id was already seen, false if it was newly recorded.
	SeenAndRecord(ctx context.Context, id string) bool

	// Unrecord forgets id so the request can be retried. Used when a request
	// was recorded but then failed before it changed anything.
	Unrecord(ctx context.Context, id string)

	Size() int64
}

type lruDeduper struct {
	// mu makes the lookup and the insert one step; the cache locks each call
	// on its own.
	mu   sync.Mutex
	seen *lru.Cache[string, struct{}]
}

// NewInMemoryDeduper creates a bounded in-memory deduper.
func NewInMemoryDeduper(opts ...Option) Deduper {
	cfg := config{maxSize: defaultMaxSize}
	for _, opt := range opts {
		opt(&cfg)
	}

	cache, err := lru.New[string, struct{}](cfg.maxSize)
	if err != nil {
		// only returned for a non-positive size, which options rule out
		panic(err)
	}
	return &lruDeduper{seen: cache}
}

func (d *lruDeduper) SeenAndRecord(_ context.Context, id string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	// Get refreshes recency, so a retried request stays remembered.
	if _, ok := d.seen.Get(id); ok {
		metrics.RecordDuplicateRequest()
		return true
	}
	d.seen.Add(id, struct{}{})
	return false
}

func (d *lruDeduper) Unrecord(_ context.Context, id string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.seen.Remove(id)
}

func (d *lruDeduper) Size() int64 {
	return int64(d.seen.Len())
}
