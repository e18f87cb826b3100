package worker_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	queue "github.com/okian/spotted/internal/adapters/mq/queue"
	worker "github.com/okian/spotted/internal/adapters/mq/worker"
	model "github.com/okian/spotted/internal/domain/model"
	logging "github.com/okian/spotted/pkg/logger"
	. "github.com/smartystreets/goconvey/convey"
)

type recordingHandler struct {
	mu   sync.Mutex
	seen []string
	fail map[string]error
	boom map[string]bool
}

func (h *recordingHandler) Handle(_ context.Context, ev model.MessageEvent) error {
	if h.boom[ev.EventID] {
		panic("boom")
	}
	h.mu.Lock()
	h.seen = append(h.seen, ev.EventID)
	h.mu.Unlock()
	return h.fail[ev.EventID]
}

func (h *recordingHandler) count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.seen)
}

func TestWorker(t *testing.T) {
	ctx := context.Background()

	Convey("Given a worker reading from a queue", t, func() {
		q := queue.NewInMemoryQueue(queue.WithCapacity(10))
		h := &recordingHandler{
			fail: map[string]error{"C1:2": errors.New("store down")},
			boom: map[string]bool{"C1:3": true},
		}
		w := worker.NewInMemoryWorker(q, h, worker.WithName("w0"), worker.WithLogger(logging.Nop()))

		for i := 1; i <= 4; i++ {
			So(q.Enqueue(ctx, model.MessageEvent{EventID: fmt.Sprintf("C1:%d", i)}), ShouldBeNil)
		}
		So(q.Close(), ShouldBeNil)

		Convey("When it runs until the queue drains", func() {
			w.Run(ctx)

			Convey("Then handler errors and panics do not stop it", func() {
				So(h.seen, ShouldResemble, []string{"C1:1", "C1:2", "C1:4"})
			})
		})
	})

	Convey("Given a running worker on an open queue", t, func() {
		q := queue.NewInMemoryQueue(queue.WithCapacity(10))
		h := &recordingHandler{}
		w := worker.NewInMemoryWorker(q, h, worker.WithLogger(logging.Nop()))
		go w.Run(ctx)

		Convey("When it is shut down", func() {
			sctx, cancel := context.WithTimeout(ctx, time.Second)
			defer cancel()
			So(w.Shutdown(sctx), ShouldBeNil)
			So(w.Shutdown(sctx), ShouldBeNil)
		})
	})
}

func TestPool(t *testing.T) {
	ctx := context.Background()

	Convey("Given a pool of four workers", t, func() {
		q := queue.NewInMemoryQueue(queue.WithCapacity(200))
		var handled atomic.Int64
		h := worker.HandlerFunc(func(context.Context, model.MessageEvent) error {
			handled.Add(1)
			return nil
		})
		pool := worker.NewPool(q, h, worker.WithWorkerCount(4), worker.WithPoolLogger(logging.Nop()))
		So(pool.Size(), ShouldEqual, 4)

		pool.Start(ctx)
		for i := 0; i < 100; i++ {
			So(q.Enqueue(ctx, model.MessageEvent{EventID: fmt.Sprintf("C1:%d", i)}), ShouldBeNil)
		}

		Convey("When it is shut down", func() {
			So(pool.Shutdown(ctx), ShouldBeNil)

			Convey("Then every queued event was handled and the queue is closed", func() {
				So(handled.Load(), ShouldEqual, 100)
				So(q.IsClosed(), ShouldBeTrue)
			})
		})
	})
}
