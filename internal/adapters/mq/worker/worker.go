package worker

import (
	"context"
	"fmt"
	"strconv"
	"sync"

	"github.com/okian/ratekeep/internal/domain/model"
	"github.com/okian/ratekeep/pkg/logger"
	"github.com/okian/ratekeep/pkg/metrics"
)

const defaultPoolSize = 4

// Event is what workers read off the queue.
type Event = model.FinishEvent

// Queue defines how workers receive events.
type Queue interface {
	Dequeue() <-chan Event
}

// Dispatcher delivers one event to whoever is interested in it.
type Dispatcher interface {
	Dispatch(ctx context.Context, e Event) error
}

// DispatcherFunc adapts a function to Dispatcher.
type DispatcherFunc func(ctx context.Context, e Event) error

// Dispatch calls f.
func (f DispatcherFunc) Dispatch(ctx context.Context, e Event) error {
	return f(ctx, e)
}

// Worker processes events until its queue is drained or it is stopped.
type Worker interface {
	// Run starts the worker loop until ctx is canceled.
	Run(ctx context.Context)

	// Shutdown stops the worker after the event in hand.
	Shutdown(ctx context.Context) error
}

// InMemoryWorker implements Worker.
type InMemoryWorker struct {
	queue      Queue
	dispatcher Dispatcher
	name       string

	shutdown chan struct{}
	stopOnce sync.Once
	done     chan struct{}

	logger logger.Logger
}

// NewInMemoryWorker creates a new worker with configuration options.
func NewInMemoryWorker(queue Queue, dispatcher Dispatcher, opts ...Option) *InMemoryWorker {
	w := &InMemoryWorker{
		queue:      queue,
		dispatcher: dispatcher,
		name:       "worker",
		shutdown:   make(chan struct{}),
		done:       make(chan struct{}),
		logger:     logger.Discard(),
	}
	for _, opt := range opts {
		opt(w)
	}
	w.logger = w.logger.Named(w.name)
	return w
}

// Run drains the queue. It returns when the queue is closed and empty, when
// ctx ends or when Shutdown is called.
func (w *InMemoryWorker) Run(ctx context.Context) {
	defer close(w.done)

	events := w.queue.Dequeue()
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.shutdown:
			return
		case e, ok := <-events:
			if !ok {
				return
			}
			w.process(ctx, e)
		}
	}
}

// Shutdown signals the worker and waits for it to stop.
func (w *InMemoryWorker) Shutdown(ctx context.Context) error {
	w.stopOnce.Do(func() { close(w.shutdown) })

	select {
	case <-w.done:
		return nil
	case <-ctx.Done():
		w.logger.Warn(ctx, "shutdown timed out")
		return fmt.Errorf("shutdown timed out: %w", ctx.Err())
	}
}

// Done is closed once Run has returned.
func (w *InMemoryWorker) Done() <-chan struct{} {
	return w.done
}

func (w *InMemoryWorker) process(ctx context.Context, e Event) { //nolint:gocritic // hugeParam: Event must be passed by value for channel semantics
	defer func() {
		if r := recover(); r != nil {
			metrics.RecordBusHandlerError()
			w.logger.Error(ctx, "event handler panicked",
				logger.String("event_id", e.ID),
				logger.Any("panic", r),
			)
		}
	}()

	if err := w.dispatcher.Dispatch(ctx, e); err != nil {
		metrics.RecordBusHandlerError()
		w.logger.Error(ctx, "error dispatching event",
			logger.String("event_id", e.ID),
			logger.Error(err),
		)
		return
	}
	metrics.RecordBusDelivered()
}

// Pool runs several workers over one queue.
type Pool struct {
	workers    []*InMemoryWorker
	queue      Queue
	dispatcher Dispatcher
	size       int
	logger     logger.Logger
}

// NewPool creates a worker pool.
func NewPool(queue Queue, dispatcher Dispatcher, opts ...PoolOption) *Pool {
	p := &Pool{
		queue:      queue,
		dispatcher: dispatcher,
		size:       defaultPoolSize,
		logger:     logger.Discard(),
	}
	for _, opt := range opts {
		opt(p)
	}

	p.workers = make([]*InMemoryWorker, p.size)
	for i := range p.workers {
		p.workers[i] = NewInMemoryWorker(queue, dispatcher,
			WithName("worker-"+strconv.Itoa(i)),
			WithLogger(p.logger),
		)
	}
	metrics.UpdateBusWorkers(p.size)
	return p
}

// Size returns the number of workers.
func (p *Pool) Size() int {
	return len(p.workers)
}

// Start starts all workers in the pool.
func (p *Pool) Start(ctx context.Context) {
	for _, w := range p.workers {
		go w.Run(ctx)
	}
}

// Wait blocks until every worker has returned or ctx ends.
func (p *Pool) Wait(ctx context.Context) error {
	for i, w := range p.workers {
		select {
		case <-w.done:
		case <-ctx.Done():
			p.logger.Warn(ctx, "worker shutdown timed out", logger.Int("worker_id", i))
			return fmt.Errorf("waiting for workers: %w", ctx.Err())
		}
	}
	return nil
}

// Shutdown stops every worker without draining the queue.
func (p *Pool) Shutdown(ctx context.Context) error {
	for _, w := range p.workers {
		if err := w.Shutdown(ctx); err != nil {
			return err
		}
	}
	return nil
}
