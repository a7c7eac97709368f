package worker_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/smartystreets/goconvey/convey"

	"github.com/okian/mindlab/internal/adapters/mq/queue"
	"github.com/okian/mindlab/internal/adapters/mq/worker"
	"github.com/okian/mindlab/internal/domain/model"
	logging "github.com/okian/mindlab/pkg/logger"
)

type mockQueue struct {
	jobs chan queue.Job
	once sync.Once
}

func newMockQueue() *mockQueue {
	return &mockQueue{jobs: make(chan queue.Job, 10)}
}

func (mq *mockQueue) Dequeue(context.Context) <-chan queue.Job { return mq.jobs }

func (mq *mockQueue) Close() error {
	mq.once.Do(func() { close(mq.jobs) })
	return nil
}

func (mq *mockQueue) add(j queue.Job) { mq.jobs <- j }

// mockWarmer records warmed jobs and fails for configured games.
type mockWarmer struct {
	mu     sync.Mutex
	warmed []queue.Job
	fail   map[string]error
}

func newMockWarmer() *mockWarmer {
	return &mockWarmer{fail: make(map[string]error)}
}

func (m *mockWarmer) Warm(_ context.Context, j queue.Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err, ok := m.fail[j.Scope.GameID]; ok {
		return err
	}
	m.warmed = append(m.warmed, j)
	return nil
}

func (m *mockWarmer) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.warmed)
}

func (m *mockWarmer) has(game string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, j := range m.warmed {
		if j.Scope.GameID == game {
			return true
		}
	}
	return false
}

func job(game string) queue.Job {
	return queue.Job{Scope: model.GameScope(game), Period: "all_time", Limit: 100}
}

func eventually(cond func() bool) bool {
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(5 * time.Millisecond)
	}
	return cond()
}

func TestInMemoryWorker(t *testing.T) {
	convey.Convey("Given a new InMemoryWorker", t, func() {
		_ = logging.Init()

		q := newMockQueue()
		warmer := newMockWarmer()

		convey.Convey("When creating a worker with options", func() {
			w := worker.NewInMemoryWorker(q, warmer, worker.WithName("test-worker"), worker.WithLogger(logging.Get()))
			convey.So(w, convey.ShouldNotBeNil)
		})

		convey.Convey("When running a worker", func() {
			w := worker.NewInMemoryWorker(q, warmer)
			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()
			go w.Run(ctx)

			convey.Convey("Then queued jobs are warmed", func() {
				q.add(job("memory"))
				convey.So(eventually(func() bool { return warmer.has("memory") }), convey.ShouldBeTrue)
			})

			convey.Convey("Then a failing job does not stop the worker", func() {
				warmer.mu.Lock()
				warmer.fail["broken"] = errors.New("store down")
				warmer.mu.Unlock()

				q.add(job("broken"))
				q.add(job("reaction"))
				convey.So(eventually(func() bool { return warmer.has("reaction") }), convey.ShouldBeTrue)
				convey.So(warmer.has("broken"), convey.ShouldBeFalse)
			})

			convey.Convey("Then it shuts down gracefully", func() {
				shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
				defer shutdownCancel()
				convey.So(w.Shutdown(shutdownCtx), convey.ShouldBeNil)
			})
		})

		convey.Convey("When the queue closes", func() {
			w := worker.NewInMemoryWorker(q, warmer)
			done := make(chan struct{})
			go func() {
				w.Run(context.Background())
				close(done)
			}()
			_ = q.Close()

			convey.Convey("Then the worker returns", func() {
				select {
				case <-done:
					convey.So(true, convey.ShouldBeTrue)
				case <-time.After(time.Second):
					convey.So("worker still running", convey.ShouldBeEmpty)
				}
			})
		})
	})
}

func TestWorkerPool(t *testing.T) {
	convey.Convey("Given a worker pool", t, func() {
		_ = logging.Init()

		q := newMockQueue()
		warmer := newMockWarmer()

		convey.Convey("When created with a non-positive count", func() {
			pool := worker.NewPool(0, q, warmer)
			convey.So(pool.Size(), convey.ShouldBeGreaterThanOrEqualTo, 2)
		})

		convey.Convey("When started", func() {
			pool := worker.NewPool(3, q, warmer)
			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()
			pool.Start(ctx)

			for _, g := range []string{"memory", "reaction", "focus"} {
				q.add(job(g))
			}

			convey.Convey("Then every job is warmed", func() {
				convey.So(eventually(func() bool { return warmer.count() == 3 }), convey.ShouldBeTrue)
			})

			convey.Convey("Then shutdown drains and returns", func() {
				shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), time.Second)
				defer shutdownCancel()
				convey.So(pool.Shutdown(shutdownCtx), convey.ShouldBeNil)
				convey.So(warmer.count(), convey.ShouldEqual, 3)
			})
		})
	})
}

func TestWarmerFunc(t *testing.T) {
	convey.Convey("Given a WarmerFunc", t, func() {
		var got queue.Job
		w := worker.WarmerFunc(func(_ context.Context, j queue.Job) error {
			got = j
			return nil
		})
		convey.So(w.Warm(context.Background(), job("memory")), convey.ShouldBeNil)
		convey.So(got, convey.ShouldResemble, job("memory"))
	})
}
