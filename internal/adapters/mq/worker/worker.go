// Package worker runs the consumers that drain the event queue.
package worker

import (
	"context"
	"fmt"
	"runtime"
	"strconv"
	"sync"
	"time"

	"github.com/okian/spotted/internal/adapters/mq/queue"
	"github.com/okian/spotted/internal/domain/model"
	"github.com/okian/spotted/pkg/logger"
	"github.com/okian/spotted/pkg/metrics"
)

// Default worker configuration constants.
const (
	defaultWorkerMultiplier = 4 // multiplier for runtime.NumCPU(); workers mostly sleep on the attachment wait
	poolShutdownTimeout     = 30 * time.Second
)

// Handler processes a single message event.
type Handler interface {
	Handle(ctx context.Context, ev model.MessageEvent) error
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, ev model.MessageEvent) error

// Handle calls f.
func (f HandlerFunc) Handle(ctx context.Context, ev model.MessageEvent) error { //nolint:gocritic // hugeParam: events are values
	return f(ctx, ev)
}

// Source defines how workers receive events.
type Source interface {
	Dequeue() <-chan queue.Item
}

// Worker processes events from a Source.
type Worker interface {
	// Run starts the worker loop until ctx is canceled or the source closes.
	Run(ctx context.Context)
	// Shutdown stops the worker after its current event.
	Shutdown(ctx context.Context) error
}

// InMemoryWorker implements Worker for processing events.
type InMemoryWorker struct {
	source  Source
	handler Handler
	name    string

	shutdown     chan struct{}
	shutdownOnce sync.Once
	done         chan struct{}

	logger logger.Logger
}

// NewInMemoryWorker creates a new worker with configuration options.
func NewInMemoryWorker(source Source, handler Handler, opts ...Option) *InMemoryWorker {
	w := &InMemoryWorker{
		source:   source,
		handler:  handler,
		name:     "worker",
		shutdown: make(chan struct{}),
		done:     make(chan struct{}),
		logger:   logger.Get().Named("worker"),
	}
	for _, opt := range opts {
		opt(w)
	}
	if w.name != "worker" {
		w.logger = w.logger.Named(w.name)
	}
	return w
}

// Run starts the worker loop.
func (w *InMemoryWorker) Run(ctx context.Context) {
	defer close(w.done)

	items := w.source.Dequeue()
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.shutdown:
			return
		case item, ok := <-items:
			if !ok {
				return
			}
			metrics.RecordQueueWaitLatency(float64(time.Since(item.EnqueuedAt).Milliseconds()))
			if err := w.process(ctx, item.Event); err != nil {
				metrics.RecordWorkerError()
				w.logger.Error(ctx, "error processing event",
					logger.String("event_id", item.Event.EventID),
					logger.Error(err))
			}
		}
	}
}

// process runs the handler and turns a panic into an error so one bad
// message cannot take the worker down.
func (w *InMemoryWorker) process(ctx context.Context, ev model.MessageEvent) (err error) { //nolint:gocritic // hugeParam: events are values
	defer func() {
		if r := recover(); r != nil {
			metrics.RecordWorkerPanic()
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return w.handler.Handle(ctx, ev)
}

// Shutdown gracefully stops the worker.
func (w *InMemoryWorker) Shutdown(ctx context.Context) error {
	w.shutdownOnce.Do(func() { close(w.shutdown) })

	select {
	case <-w.done:
		return nil
	case <-ctx.Done():
		w.logger.Warn(ctx, "shutdown timed out")
		return fmt.Errorf("shutdown timed out: %w", ctx.Err())
	}
}

// Pool manages multiple workers.
type Pool struct {
	workers []*InMemoryWorker
	source  Source
	handler Handler
	count   int
	logger  logger.Logger
}

// NewPool creates a worker pool. The default size scales with the CPU count.
func NewPool(source Source, handler Handler, opts ...PoolOption) *Pool {
	p := &Pool{
		source:  source,
		handler: handler,
		count:   runtime.NumCPU() * defaultWorkerMultiplier,
		logger:  logger.Get().Named("worker-pool"),
	}
	for _, opt := range opts {
		opt(p)
	}

	p.workers = make([]*InMemoryWorker, p.count)
	for i := range p.workers {
		p.workers[i] = NewInMemoryWorker(source, handler,
			WithName("worker-"+strconv.Itoa(i)),
			WithLogger(p.logger))
	}
	metrics.UpdateWorkerCount(p.count)
	return p
}

// Size returns the number of workers.
func (p *Pool) Size() int { return len(p.workers) }

// Start starts all workers in the pool.
func (p *Pool) Start(ctx context.Context) {
	for _, w := range p.workers {
		go w.Run(ctx)
	}
	p.logger.Info(ctx, "worker pool started", logger.Int("workers", len(p.workers)))
}

// Shutdown closes the source if it can be closed, so workers drain what is
// already queued, then waits for every worker to exit.
func (p *Pool) Shutdown(ctx context.Context) error {
	if closer, ok := p.source.(interface{ Close() error }); ok {
		if err := closer.Close(); err != nil {
			p.logger.Error(ctx, "error closing queue", logger.Error(err))
		}
	}

	shutdownCtx, cancel := context.WithTimeout(ctx, poolShutdownTimeout)
	defer cancel()

	var timedOut int
	for i, w := range p.workers {
		select {
		case <-w.done:
		case <-shutdownCtx.Done():
			timedOut++
			p.logger.Warn(ctx, "worker shutdown timed out", logger.Int("worker_id", i))
		}
	}
	metrics.UpdateWorkerCount(0)
	if timedOut > 0 {
		return fmt.Errorf("%d workers did not stop: %w", timedOut, shutdownCtx.Err())
	}
	return nil
}
