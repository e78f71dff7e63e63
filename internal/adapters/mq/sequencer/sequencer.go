// Package sequencer runs tasks one at a time per key, in submission order.
//
// A Sequencer tracks at most a fixed number of key queues. A queue with no
// queued or running task is idle; idle queues are evicted least recently
// used first when a new key needs room, and are swept once they have been
// idle for the expiration window. When every tracked queue is busy a new key
// waits until one drains. Waiting keys are admitted in arrival order, and
// tasks of a waiting key keep their submission order.
//
// Every task gets a run-time budget measured from when it starts. A task
// that exceeds it fails its caller with ErrTimeout and the next task for
// the key starts. The slow task is not aborted beyond cancelling its
// context: it may still complete in the background, and its result is
// discarded.
package sequencer

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/okian/ratekeep/pkg/logger"
	"github.com/okian/ratekeep/pkg/metrics"
)

// Default sequencer configuration constants.
const (
	defaultName       = "sequencer"
	defaultCapacity   = 64
	defaultExpiration = 5 * time.Minute
	defaultTimeout    = 5 * time.Second
)

// Task is a unit of work run under a key's exclusivity.
type Task func(ctx context.Context) (any, error)

const (
	futurePending int32 = iota
	futureRunning
	futureAbandoned
)

// Future is the eventual outcome of an enqueued task.
type Future struct {
	done  chan struct{}
	state atomic.Int32
	val   any
	err   error
}

func newFuture() *Future {
	return &Future{done: make(chan struct{})}
}

func (f *Future) complete(val any, err error) {
	f.val, f.err = val, err
	close(f.done)
}

// Done is closed once the task has produced an outcome.
func (f *Future) Done() <-chan struct{} {
	return f.done
}

// abandon stops a task that has not started from ever running.
func (f *Future) abandon() bool {
	return f.state.CompareAndSwap(futurePending, futureAbandoned)
}

// Wait blocks until the task produced an outcome or ctx is done. Giving up
// on the wait does not cancel the task.
func (f *Future) Wait(ctx context.Context) (any, error) {
	select {
	case <-f.done:
		return f.val, f.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

type job struct {
	ctx    context.Context
	task   Task
	future *Future

	// admitted is closed once a waiting job has been pushed to its queue.
	admitted chan struct{}
}

// keyQueue holds the pending jobs of one key. Its fields are guarded by mu.
type keyQueue struct {
	mu         sync.Mutex
	pending    []*job
	running    bool
	lastUsed   uint64
	lastActive time.Time
}

func (q *keyQueue) idle() bool {
	return !q.running && len(q.pending) == 0
}

type outcome struct {
	val any
	err error
}

// Sequencer serializes tasks per key.
type Sequencer[K comparable] struct {
	cfg config

	// mu guards queues, waiting, waitOrder and closed. Lock order is mu, then
	// keyQueue.mu. Jobs are only pushed while mu is held, so eviction never
	// races a push. A key in waiting never has a tracked queue.
	mu        sync.Mutex
	queues    map[K]*keyQueue
	waiting   map[K][]*job
	waitOrder []K

	closed bool

	tick atomic.Uint64
	done chan struct{}
	once sync.Once
	wg   sync.WaitGroup
}

// New creates a sequencer with configuration options.
func New[K comparable](opts ...Option) *Sequencer[K] {
	cfg := config{
		name:       defaultName,
		capacity:   defaultCapacity,
		expiration: defaultExpiration,
		timeout:    defaultTimeout,
		clock:      clockwork.NewRealClock(),
		logger:     logger.Discard(),
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.sweepInterval <= 0 {
		cfg.sweepInterval = cfg.expiration
	}

	metrics.UpdateSequencerQueues(cfg.name, 0)

	return &Sequencer[K]{
		cfg:    cfg,
		queues:  make(map[K]*keyQueue, cfg.capacity),
		waiting: make(map[K][]*job),
		done:    make(chan struct{}),
	}
}

// Start runs the janitor that sweeps expired queues until ctx is done or
// the sequencer is closed.
func (s *Sequencer[K]) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := s.cfg.clock.NewTicker(s.cfg.sweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-s.done:
				return
			case <-ticker.Chan():
				if n := s.Sweep(); n > 0 {
					s.cfg.logger.Debug(ctx, "swept idle queues", logger.Int("count", n))
				}
			}
		}
	}()
}

// Enqueue submits task for key. Tasks of one key run in submission order,
// never concurrently. Enqueue blocks only while key has no queue and every
// tracked queue is busy; later tasks for key wait behind it in order. A
// waiting Enqueue fails with ErrBusy once ctx is done.
//
// The task runs with a context detached from ctx's cancellation. If ctx is
// already done when the task's turn comes, the task is skipped and its
// future fails with ErrSkipped.
func (s *Sequencer[K]) Enqueue(ctx context.Context, key K, task Task) (*Future, error) {
	if task == nil {
		return nil, fmt.Errorf("sequencer %s: nil task", s.cfg.name)
	}
	j := &job{ctx: ctx, task: task, future: newFuture()}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, ErrClosed
	}
	if q, ok := s.queues[key]; ok {
		s.push(q, j)
		s.mu.Unlock()
		return j.future, nil
	}
	if _, queued := s.waiting[key]; !queued && s.roomLocked() {
		s.push(s.openLocked(key), j)
		s.mu.Unlock()
		return j.future, nil
	}

	j.admitted = make(chan struct{})
	if _, queued := s.waiting[key]; !queued {
		s.waitOrder = append(s.waitOrder, key)
	}
	s.waiting[key] = append(s.waiting[key], j)
	s.mu.Unlock()

	metrics.RecordSequencerCapacityWait(s.cfg.name)
	select {
	case <-j.admitted:
		return j.future, nil
	case <-ctx.Done():
		if s.withdraw(key, j) {
			return nil, fmt.Errorf("%w: %w", ErrBusy, ctx.Err())
		}
		return j.future, nil
	case <-s.done:
		if s.withdraw(key, j) {
			return nil, ErrClosed
		}
		return j.future, nil
	}
}

// Do runs fn under key's exclusivity and waits for its error.
func (s *Sequencer[K]) Do(ctx context.Context, key K, fn func(ctx context.Context) error) error {
	_, err := Call(ctx, s, key, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return err
}

// Call runs fn under key's exclusivity and waits for its result. When ctx
// ends before fn started, fn never runs and the error wraps ErrSkipped;
// otherwise a ctx error leaves fn running in the background.
func Call[K comparable, T any](ctx context.Context, s *Sequencer[K], key K, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	future, err := s.Enqueue(ctx, key, func(ctx context.Context) (any, error) {
		return fn(ctx)
	})
	if err != nil {
		return zero, err
	}
	val, err := future.Wait(ctx)
	if err != nil {
		select {
		case <-future.Done():
		default:
			if future.abandon() {
				err = fmt.Errorf("%w: %w", ErrSkipped, err)
			}
		}
		return zero, err
	}
	out, ok := val.(T)
	if !ok {
		return zero, nil
	}
	return out, nil
}

// Sweep removes queues idle for at least the expiration window and returns
// how many were removed.
func (s *Sequencer[K]) Sweep() int {
	now := s.cfg.clock.Now()

	s.mu.Lock()
	removed := 0
	for key, q := range s.queues {
		q.mu.Lock()
		if q.idle() && now.Sub(q.lastActive) >= s.cfg.expiration {
			delete(s.queues, key)
			removed++
		}
		q.mu.Unlock()
	}
	if removed > 0 {
		s.admitWaitingLocked()
	}
	size := len(s.queues)
	s.mu.Unlock()

	if removed > 0 {
		metrics.RecordSequencerExpiration(s.cfg.name, removed)
	}
	metrics.UpdateSequencerQueues(s.cfg.name, size)
	return removed
}

// Len returns the number of tracked key queues.
func (s *Sequencer[K]) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queues)
}

// Close rejects new tasks and waits for queued ones, including timed out
// tasks still running in the background, until ctx is done.
func (s *Sequencer[K]) Close(ctx context.Context) error {
	s.once.Do(func() {
		s.mu.Lock()
		s.closed = true
		s.mu.Unlock()
		close(s.done)
	})

	drained := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(drained)
	}()

	select {
	case <-drained:
		return nil
	case <-ctx.Done():
		s.cfg.logger.Warn(ctx, "sequencer close timed out", logger.String("sequencer", s.cfg.name))
		return fmt.Errorf("sequencer %s close: %w", s.cfg.name, ctx.Err())
	}
}

// roomLocked reports whether a new queue fits, evicting the least recently
// used idle queue when at capacity.
func (s *Sequencer[K]) roomLocked() bool {
	return len(s.queues) < s.cfg.capacity || s.evictLocked()
}

func (s *Sequencer[K]) openLocked(key K) *keyQueue {
	q := &keyQueue{lastActive: s.cfg.clock.Now()}
	s.queues[key] = q
	metrics.UpdateSequencerQueues(s.cfg.name, len(s.queues))
	return q
}

// admitWaitingLocked opens queues for waiting keys, oldest first, while
// there is room. Each key's jobs are pushed in the order they arrived.
func (s *Sequencer[K]) admitWaitingLocked() {
	for len(s.waitOrder) > 0 && !s.closed && s.roomLocked() {
		key := s.waitOrder[0]
		s.waitOrder = s.waitOrder[1:]
		jobs := s.waiting[key]
		delete(s.waiting, key)

		q := s.openLocked(key)
		for _, j := range jobs {
			s.push(q, j)
			close(j.admitted)
		}
	}
}

// withdraw removes a waiting job. It returns false when the job was
// already admitted.
func (s *Sequencer[K]) withdraw(key K, j *job) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	select {
	case <-j.admitted:
		return false
	default:
	}

	jobs := s.waiting[key]
	for i, w := range jobs {
		if w == j {
			jobs = append(jobs[:i], jobs[i+1:]...)
			break
		}
	}
	if len(jobs) > 0 {
		s.waiting[key] = jobs
		return true
	}
	delete(s.waiting, key)
	for i, k := range s.waitOrder {
		if k == key {
			s.waitOrder = append(s.waitOrder[:i], s.waitOrder[i+1:]...)
			break
		}
	}
	return true
}

func (s *Sequencer[K]) evictLocked() bool {
	var (
		victim    K
		victimQ   *keyQueue
		oldestUse uint64
	)
	for key, q := range s.queues {
		q.mu.Lock()
		if q.idle() && (victimQ == nil || q.lastUsed < oldestUse) {
			victim, victimQ, oldestUse = key, q, q.lastUsed
		}
		q.mu.Unlock()
	}
	if victimQ == nil {
		return false
	}

	delete(s.queues, victim)
	metrics.RecordSequencerEviction(s.cfg.name)
	return true
}

// push appends j to q and starts a runner when q was idle. The caller
// holds s.mu.
func (s *Sequencer[K]) push(q *keyQueue, j *job) {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.pending = append(q.pending, j)
	q.lastUsed = s.tick.Add(1)
	if !q.running {
		q.running = true
		s.wg.Add(1)
		go s.run(q)
	}
}

// run drains q one job at a time.
func (s *Sequencer[K]) run(q *keyQueue) {
	defer s.wg.Done()
	for {
		q.mu.Lock()
		if len(q.pending) == 0 {
			q.running = false
			q.lastActive = s.cfg.clock.Now()
			q.mu.Unlock()

			s.mu.Lock()
			s.admitWaitingLocked()
			s.mu.Unlock()
			return
		}
		j := q.pending[0]
		q.pending[0] = nil
		q.pending = q.pending[1:]
		q.mu.Unlock()

		s.execute(j)
	}
}

// execute runs one job under the per-task timeout.
func (s *Sequencer[K]) execute(j *job) {
	if j.ctx.Err() != nil || !j.future.state.CompareAndSwap(futurePending, futureRunning) {
		j.future.complete(nil, fmt.Errorf("%w: %w", ErrSkipped, j.ctx.Err()))
		return
	}

	ctx, cancel := context.WithCancel(context.WithoutCancel(j.ctx))
	start := s.cfg.clock.Now()
	results := make(chan outcome, 1)
	go func() {
		val, err := safeRun(ctx, j.task)
		results <- outcome{val: val, err: err}
	}()

	timer := s.cfg.clock.NewTimer(s.cfg.timeout)
	defer timer.Stop()

	select {
	case r := <-results:
		cancel()
		metrics.RecordSequencerTaskLatency(s.cfg.name, float64(s.cfg.clock.Since(start).Milliseconds()))
		j.future.complete(r.val, r.err)
	case <-timer.Chan():
		cancel()
		metrics.RecordSequencerTimeout(s.cfg.name)
		s.cfg.logger.Warn(j.ctx, "task timed out",
			logger.String("sequencer", s.cfg.name),
			logger.Duration("timeout", s.cfg.timeout),
		)
		j.future.complete(nil, fmt.Errorf("%w after %s", ErrTimeout, s.cfg.timeout))

		// Drain the orphan so its goroutine result is accounted for.
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			r := <-results
			metrics.RecordSequencerOrphan(s.cfg.name)
			if r.err != nil {
				s.cfg.logger.Debug(j.ctx, "timed out task failed in background",
					logger.String("sequencer", s.cfg.name), logger.Error(r.err))
			}
		}()
	}
}

func safeRun(ctx context.Context, task Task) (val any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", ErrPanic, r)
		}
	}()
	return task(ctx)
}
