// Package worker runs the pipeline's background consumers: a chunk worker
// that drains the recording queue and deadline loops that drive periodic
// producers (compositor ticks, layer draws, frame pumps, sync sampling).
package worker

import (
	"context"
	"fmt"
	"sync"

	"github.com/okian/facefx/internal/adapters/mq/queue"
	"github.com/okian/facefx/pkg/logger"
	"github.com/okian/facefx/pkg/metrics"
)

// Chunk is what the chunk worker reads off the queue.
type Chunk = queue.Chunk

// Sink receives chunks in arrival order.
type Sink interface {
	Append(ctx context.Context, c Chunk) error
}

// Queue defines how workers receive chunks.
type Queue interface {
	Dequeue(ctx context.Context) <-chan Chunk
}

// Worker is a background consumer.
type Worker interface {
	// Run blocks until ctx is canceled, Shutdown is called or the input ends.
	Run(ctx context.Context)

	// Shutdown stops the worker and waits for Run to return.
	Shutdown(ctx context.Context) error
}

// InMemoryWorker moves chunks from a queue into a sink.
type InMemoryWorker struct {
	queue Queue
	sink  Sink
	name  string

	shutdown     chan struct{}
	shutdownOnce sync.Once
	done         chan struct{}

	logger logger.Logger
}

// NewInMemoryWorker creates a chunk worker.
func NewInMemoryWorker(q Queue, sink Sink, opts ...Option) *InMemoryWorker {
	w := &InMemoryWorker{
		queue:    q,
		sink:     sink,
		name:     "chunk-worker",
		shutdown: make(chan struct{}),
		done:     make(chan struct{}),
		logger:   logger.Get().Named("worker"),
	}
	for _, opt := range opts {
		opt(w)
	}
	if w.name != "chunk-worker" {
		w.logger = w.logger.Named(w.name)
	}
	return w
}

// Run drains the queue until it is closed. Chunks still queued when the queue
// closes are delivered before Run returns.
func (w *InMemoryWorker) Run(ctx context.Context) {
	defer close(w.done)

	chunks := w.queue.Dequeue(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.shutdown:
			return
		case c, ok := <-chunks:
			if !ok {
				return
			}
			if err := w.sink.Append(ctx, c); err != nil {
				metrics.RecordErrorByComponent(w.name, "append_error")
				w.logger.Error(ctx, "append chunk failed",
					logger.Uint64("seq", c.Seq),
					logger.Error(err))
			}
		}
	}
}

// Done is closed when Run returns.
func (w *InMemoryWorker) Done() <-chan struct{} {
	return w.done
}

// Shutdown stops the worker without draining.
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
