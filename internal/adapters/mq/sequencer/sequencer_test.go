package sequencer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	. "github.com/smartystreets/goconvey/convey"
)

func (s *Sequencer[K]) tracked(key K) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.queues[key]
	return ok
}

func (s *Sequencer[K]) waitingFor(key K) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.waiting[key])
}

func eventually(cond func() bool) bool {
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(time.Millisecond)
	}
	return false
}

func closeSequencer[K comparable](s *Sequencer[K]) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = s.Close(ctx)
}

func TestSequencer_Order(t *testing.T) {
	Convey("Given a sequencer", t, func() {
		ctx := context.Background()
		s := New[string]()
		defer closeSequencer(s)

		Convey("When many tasks are enqueued for one key", func() {
			const n = 200
			var (
				mu    sync.Mutex
				order []int
			)
			futures := make([]*Future, 0, n)
			for i := 0; i < n; i++ {
				i := i
				f, err := s.Enqueue(ctx, "p1", func(context.Context) (any, error) {
					mu.Lock()
					order = append(order, i)
					mu.Unlock()
					return i, nil
				})
				So(err, ShouldBeNil)
				futures = append(futures, f)
			}

			Convey("Then they run in submission order", func() {
				for i, f := range futures {
					val, err := f.Wait(ctx)
					So(err, ShouldBeNil)
					So(val, ShouldEqual, i)
				}
				mu.Lock()
				defer mu.Unlock()
				So(len(order), ShouldEqual, n)
				for i := range order {
					So(order[i], ShouldEqual, i)
				}
			})
		})

		Convey("When tasks for one key are submitted concurrently", func() {
			const n = 50
			var (
				inFlight atomic.Int32
				overlaps atomic.Int32
				wg       sync.WaitGroup
			)
			for i := 0; i < n; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					_ = s.Do(ctx, "shared", func(context.Context) error {
						if inFlight.Add(1) > 1 {
							overlaps.Add(1)
						}
						time.Sleep(100 * time.Microsecond)
						inFlight.Add(-1)
						return nil
					})
				}()
			}
			wg.Wait()

			Convey("Then their executions never overlap", func() {
				So(overlaps.Load(), ShouldEqual, 0)
			})
		})

		Convey("When two keys block independently", func() {
			release := make(chan struct{})
			started := make(chan string, 2)
			for _, key := range []string{"a", "b"} {
				key := key
				_, err := s.Enqueue(ctx, key, func(context.Context) (any, error) {
					started <- key
					<-release
					return nil, nil
				})
				So(err, ShouldBeNil)
			}

			Convey("Then both run at the same time", func() {
				got := map[string]bool{}
				for i := 0; i < 2; i++ {
					select {
					case k := <-started:
						got[k] = true
					case <-time.After(2 * time.Second):
					}
				}
				close(release)
				So(got["a"], ShouldBeTrue)
				So(got["b"], ShouldBeTrue)
			})
		})
	})
}

func TestSequencer_Failures(t *testing.T) {
	Convey("Given a sequencer", t, func() {
		ctx := context.Background()
		s := New[int]()
		defer closeSequencer(s)
		boom := errors.New("boom")

		Convey("When a task fails", func() {
			failed, err := s.Enqueue(ctx, 1, func(context.Context) (any, error) { return nil, boom })
			So(err, ShouldBeNil)
			next, err := s.Enqueue(ctx, 1, func(context.Context) (any, error) { return "ok", nil })
			So(err, ShouldBeNil)

			Convey("Then only its caller sees the failure", func() {
				_, err := failed.Wait(ctx)
				So(errors.Is(err, boom), ShouldBeTrue)
				val, err := next.Wait(ctx)
				So(err, ShouldBeNil)
				So(val, ShouldEqual, "ok")
			})
		})

		Convey("When a task panics", func() {
			err := s.Do(ctx, 2, func(context.Context) error { panic("kaboom") })
			after, callErr := Call(ctx, s, 2, func(context.Context) (int, error) { return 7, nil })

			Convey("Then the panic becomes an error and the key keeps working", func() {
				So(errors.Is(err, ErrPanic), ShouldBeTrue)
				So(callErr, ShouldBeNil)
				So(after, ShouldEqual, 7)
			})
		})

		Convey("When the caller gave up before the task's turn", func() {
			release := make(chan struct{})
			_, err := s.Enqueue(ctx, 3, func(context.Context) (any, error) {
				<-release
				return nil, nil
			})
			So(err, ShouldBeNil)

			cctx, cancel := context.WithCancel(ctx)
			var ran atomic.Bool
			skipped, err := s.Enqueue(cctx, 3, func(context.Context) (any, error) {
				ran.Store(true)
				return nil, nil
			})
			So(err, ShouldBeNil)
			cancel()
			close(release)

			Convey("Then the task is skipped", func() {
				<-skipped.Done()
				_, err := skipped.Wait(ctx)
				So(errors.Is(err, ErrSkipped), ShouldBeTrue)
				So(errors.Is(err, context.Canceled), ShouldBeTrue)
				So(ran.Load(), ShouldBeFalse)
			})
		})

		Convey("When a caller stops waiting before its task started", func() {
			release := make(chan struct{})
			_, err := s.Enqueue(ctx, 5, func(context.Context) (any, error) {
				<-release
				return nil, nil
			})
			So(err, ShouldBeNil)

			cctx, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
			defer cancel()
			var ran atomic.Bool
			err = s.Do(cctx, 5, func(context.Context) error {
				ran.Store(true)
				return nil
			})
			close(release)

			Convey("Then it learns the task will never run", func() {
				So(errors.Is(err, ErrSkipped), ShouldBeTrue)
				So(errors.Is(err, context.DeadlineExceeded), ShouldBeTrue)
				So(s.Do(ctx, 5, func(context.Context) error { return nil }), ShouldBeNil)
				So(ran.Load(), ShouldBeFalse)
			})
		})

		Convey("When a caller stops waiting on a task already running", func() {
			started := make(chan struct{})
			release := make(chan struct{})
			cctx, cancel := context.WithCancel(ctx)
			errs := make(chan error, 1)
			go func() {
				errs <- s.Do(cctx, 6, func(context.Context) error {
					close(started)
					<-release
					return nil
				})
			}()
			<-started
			cancel()
			err := <-errs
			close(release)

			Convey("Then the error does not claim the task was skipped", func() {
				So(errors.Is(err, context.Canceled), ShouldBeTrue)
				So(errors.Is(err, ErrSkipped), ShouldBeFalse)
			})
		})

		Convey("When the sequencer is closed", func() {
			closeSequencer(s)
			_, err := s.Enqueue(ctx, 4, func(context.Context) (any, error) { return nil, nil })

			Convey("Then new tasks are rejected", func() {
				So(errors.Is(err, ErrClosed), ShouldBeTrue)
			})
		})

		Convey("When a nil task is enqueued", func() {
			_, err := s.Enqueue(ctx, 5, nil)

			Convey("Then it is rejected", func() {
				So(err, ShouldNotBeNil)
			})
		})
	})
}

func TestSequencer_Timeout(t *testing.T) {
	Convey("Given a sequencer on a fake clock", t, func() {
		ctx := context.Background()
		clock := clockwork.NewFakeClock()
		s := New[string](WithClock(clock), WithTimeout(5*time.Second))
		defer closeSequencer(s)

		Convey("When a task runs past its budget", func() {
			release := make(chan struct{})
			var finished atomic.Bool
			slow, err := s.Enqueue(ctx, "p", func(context.Context) (any, error) {
				<-release
				finished.Store(true)
				return "late", nil
			})
			So(err, ShouldBeNil)
			next, err := s.Enqueue(ctx, "p", func(context.Context) (any, error) { return "next", nil })
			So(err, ShouldBeNil)

			bctx, cancel := context.WithTimeout(ctx, 2*time.Second)
			defer cancel()
			So(clock.BlockUntilContext(bctx, 1), ShouldBeNil)
			clock.Advance(5 * time.Second)

			Convey("Then its caller gets ErrTimeout and the key moves on", func() {
				_, err := slow.Wait(ctx)
				So(errors.Is(err, ErrTimeout), ShouldBeTrue)

				val, err := next.Wait(ctx)
				So(err, ShouldBeNil)
				So(val, ShouldEqual, "next")

				close(release)
				closeSequencer(s)
				So(finished.Load(), ShouldBeTrue)
			})
		})
	})
}

func TestSequencer_Capacity(t *testing.T) {
	Convey("Given a sequencer with capacity two", t, func() {
		ctx := context.Background()
		clock := clockwork.NewFakeClock()
		s := New[string](WithCapacity(2), WithClock(clock), WithExpiration(time.Minute))
		defer closeSequencer(s)

		noop := func(context.Context) error { return nil }

		Convey("When both tracked queues are idle and a third key arrives", func() {
			So(s.Do(ctx, "a", noop), ShouldBeNil)
			So(s.Do(ctx, "b", noop), ShouldBeNil)
			So(s.Do(ctx, "a", noop), ShouldBeNil)
			So(s.Do(ctx, "c", noop), ShouldBeNil)

			Convey("Then the least recently used idle queue is evicted", func() {
				So(s.Len(), ShouldEqual, 2)
				So(s.tracked("a"), ShouldBeTrue)
				So(s.tracked("b"), ShouldBeFalse)
				So(s.tracked("c"), ShouldBeTrue)
			})
		})

		Convey("When every tracked queue is busy", func() {
			releaseA := make(chan struct{})
			releaseB := make(chan struct{})
			block := func(ch chan struct{}) Task {
				return func(context.Context) (any, error) {
					<-ch
					return nil, nil
				}
			}
			_, err := s.Enqueue(ctx, "a", block(releaseA))
			So(err, ShouldBeNil)
			_, err = s.Enqueue(ctx, "b", block(releaseB))
			So(err, ShouldBeNil)

			admitted := make(chan error, 1)
			go func() {
				admitted <- s.Do(ctx, "c", noop)
			}()

			Convey("Then the new key waits and never exceeds capacity", func() {
				select {
				case <-admitted:
					t.Fatal("third key admitted while every queue was busy")
				case <-time.After(50 * time.Millisecond):
				}
				So(s.Len(), ShouldEqual, 2)

				close(releaseA)
				select {
				case err := <-admitted:
					So(err, ShouldBeNil)
				case <-time.After(2 * time.Second):
					t.Fatal("third key never admitted")
				}
				So(s.Len(), ShouldBeLessThanOrEqualTo, 2)
				So(s.tracked("c"), ShouldBeTrue)
				close(releaseB)
			})

			Convey("Then a waiting caller can give up with ErrBusy", func() {
				wctx, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
				defer cancel()
				_, err := s.Enqueue(wctx, "d", block(make(chan struct{})))
				So(errors.Is(err, ErrBusy), ShouldBeTrue)
				close(releaseA)
				close(releaseB)
				<-admitted
			})
		})

		Convey("When idle queues outlive the expiration window", func() {
			So(s.Do(ctx, "a", noop), ShouldBeNil)
			So(s.Do(ctx, "b", noop), ShouldBeNil)
			clock.Advance(30 * time.Second)
			So(s.Do(ctx, "b", noop), ShouldBeNil)
			clock.Advance(45 * time.Second)

			Convey("Then a sweep removes only the expired ones", func() {
				So(s.Sweep(), ShouldEqual, 1)
				So(s.tracked("a"), ShouldBeFalse)
				So(s.tracked("b"), ShouldBeTrue)
			})
		})
	})

	Convey("Given a sequencer with capacity one held by a busy key", t, func() {
		ctx := context.Background()
		s := New[string](WithCapacity(1))
		defer closeSequencer(s)

		release := make(chan struct{})
		_, err := s.Enqueue(ctx, "busy", func(context.Context) (any, error) {
			<-release
			return nil, nil
		})
		So(err, ShouldBeNil)

		Convey("When tasks for another key queue up behind capacity", func() {
			const n = 8
			var (
				mu    sync.Mutex
				order []int
			)
			futures := make(chan *Future, n)
			for i := 0; i < n; i++ {
				i := i
				go func() {
					f, err := s.Enqueue(ctx, "x", func(context.Context) (any, error) {
						mu.Lock()
						order = append(order, i)
						mu.Unlock()
						return nil, nil
					})
					if err == nil {
						futures <- f
					}
				}()
				So(eventually(func() bool { return s.waitingFor("x") == i+1 }), ShouldBeTrue)
			}
			close(release)

			Convey("Then same key waiting for capacity keeps submission order", func() {
				for i := 0; i < n; i++ {
					select {
					case f := <-futures:
						_, err := f.Wait(ctx)
						So(err, ShouldBeNil)
					case <-time.After(2 * time.Second):
						t.Fatal("waiting task never admitted")
					}
				}
				mu.Lock()
				defer mu.Unlock()
				So(order, ShouldResemble, []int{0, 1, 2, 3, 4, 5, 6, 7})
				So(s.Len(), ShouldEqual, 1)
				So(s.waitingFor("x"), ShouldEqual, 0)
			})
		})

		Convey("When a waiting caller gives up", func() {
			wctx, cancel := context.WithCancel(ctx)
			gaveUp := make(chan error, 1)
			go func() {
				_, err := s.Enqueue(wctx, "x", func(context.Context) (any, error) { return nil, nil })
				gaveUp <- err
			}()
			So(eventually(func() bool { return s.waitingFor("x") == 1 }), ShouldBeTrue)
			cancel()
			err := <-gaveUp
			close(release)

			Convey("Then it leaves the wait list and later keys still get in", func() {
				So(errors.Is(err, ErrBusy), ShouldBeTrue)
				So(s.waitingFor("x"), ShouldEqual, 0)
				So(s.Do(ctx, "y", func(context.Context) error { return nil }), ShouldBeNil)
			})
		})
	})

	Convey("Given a full sequencer with sixty four idle keys", t, func() {
		ctx := context.Background()
		clock := clockwork.NewFakeClock()
		s := New[string](WithClock(clock))
		defer closeSequencer(s)

		for i := 0; i < defaultCapacity; i++ {
			So(s.Do(ctx, fmt.Sprintf("puzzle-%d", i), func(context.Context) error { return nil }), ShouldBeNil)
		}
		clock.Advance(10 * time.Minute)

		Convey("When a sixty fifth key finishes", func() {
			err := s.Do(ctx, "puzzle-new", func(context.Context) error { return nil })

			Convey("Then it succeeds without exceeding capacity", func() {
				So(err, ShouldBeNil)
				So(s.Len(), ShouldEqual, defaultCapacity)
				So(s.tracked("puzzle-new"), ShouldBeTrue)
			})
		})
	})
}

func TestSequencer_Janitor(t *testing.T) {
	Convey("Given a started sequencer on a fake clock", t, func() {
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		clock := clockwork.NewFakeClock()
		s := New[string](WithClock(clock), WithExpiration(time.Minute), WithSweepInterval(time.Minute))
		defer closeSequencer(s)
		s.Start(ctx)

		So(s.Do(ctx, "a", func(context.Context) error { return nil }), ShouldBeNil)

		Convey("When the sweep interval passes", func() {
			bctx, bcancel := context.WithTimeout(ctx, 2*time.Second)
			defer bcancel()
			So(clock.BlockUntilContext(bctx, 1), ShouldBeNil)
			clock.Advance(time.Minute)

			Convey("Then the idle queue is released", func() {
				deadline := time.Now().Add(2 * time.Second)
				for s.Len() > 0 && time.Now().Before(deadline) {
					time.Sleep(5 * time.Millisecond)
				}
				So(s.Len(), ShouldEqual, 0)
			})
		})
	})
}
