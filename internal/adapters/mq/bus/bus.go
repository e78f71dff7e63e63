// Package bus delivers finish events to subscribers asynchronously.
//
// Publishing never blocks: when the buffer is full the event is dropped and
// Publish reports false. Subscribers see every delivered event once, in no
// particular order across workers.
package bus

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/okian/ratekeep/internal/adapters/mq/queue"
	"github.com/okian/ratekeep/internal/adapters/mq/worker"
	"github.com/okian/ratekeep/internal/domain/model"
	"github.com/okian/ratekeep/pkg/logger"
)

const (
	defaultCapacity = 1024
	defaultWorkers  = 2
)

// Handler receives finish events.
type Handler interface {
	Handle(ctx context.Context, e model.FinishEvent) error
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, e model.FinishEvent) error

// Handle calls f.
func (f HandlerFunc) Handle(ctx context.Context, e model.FinishEvent) error {
	return f(ctx, e)
}

// Bus couples a bounded queue with a worker pool fanning events out to
// subscribers.
type Bus struct {
	queue *queue.InMemoryQueue
	pool  *worker.Pool

	mu       sync.RWMutex
	handlers []Handler
	started  bool

	logger logger.Logger
}

// New creates a bus with configuration options.
func New(opts ...Option) *Bus {
	cfg := config{
		capacity: defaultCapacity,
		workers:  defaultWorkers,
		logger:   logger.Discard(),
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	b := &Bus{
		queue:  queue.NewInMemoryQueue(queue.WithCapacity(cfg.capacity)),
		logger: cfg.logger,
	}
	b.pool = worker.NewPool(b.queue, worker.DispatcherFunc(b.dispatch),
		worker.WithWorkers(cfg.workers),
		worker.WithPoolLogger(cfg.logger),
	)
	return b
}

// Subscribe registers h for every event published after the call.
func (b *Bus) Subscribe(h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers = append(b.handlers, h)
}

// Publish queues e for delivery. It returns false when the event was dropped.
func (b *Bus) Publish(ctx context.Context, e model.FinishEvent) bool {
	if b.queue.Enqueue(ctx, e) {
		return true
	}
	if b.queue.IsClosed() {
		b.logger.Debug(ctx, "event published after shutdown", logger.String("event_id", e.ID))
	} else {
		b.logger.Warn(ctx, "event buffer full, dropping event",
			logger.String("event_id", e.ID),
			logger.Int("pending", b.queue.Len()),
		)
	}
	return false
}

// Pending returns how many events wait for delivery.
func (b *Bus) Pending() int {
	return b.queue.Len()
}

// Start begins delivery. Calling it more than once has no effect.
func (b *Bus) Start(ctx context.Context) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.started {
		return
	}
	b.started = true
	b.pool.Start(ctx)
	b.logger.Info(ctx, "event bus started", logger.Int("workers", b.pool.Size()))
}

// Shutdown stops accepting events and waits for the buffered ones to be
// delivered or ctx to end.
func (b *Bus) Shutdown(ctx context.Context) error {
	if err := b.queue.Close(); err != nil {
		return fmt.Errorf("close event queue: %w", err)
	}

	b.mu.RLock()
	started := b.started
	b.mu.RUnlock()
	if !started {
		return nil
	}

	if err := b.pool.Wait(ctx); err != nil {
		b.logger.Warn(ctx, "event bus shutdown incomplete",
			logger.Int("pending", b.queue.Len()),
			logger.Error(err),
		)
		return err
	}
	return nil
}

func (b *Bus) dispatch(ctx context.Context, e model.FinishEvent) error { //nolint:gocritic // hugeParam: Event must be passed by value for channel semantics
	b.mu.RLock()
	handlers := b.handlers
	b.mu.RUnlock()

	var errs []error
	for _, h := range handlers {
		if err := h.Handle(ctx, e); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
