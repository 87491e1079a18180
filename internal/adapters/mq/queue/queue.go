// Package queue carries encoded recording chunks from the encoder callback to
// the recorder's collector without blocking the encoder.
package queue

import (
	"context"
	"sync"

	"github.com/okian/facefx/internal/domain/model"
	"github.com/okian/facefx/pkg/metrics"
)

const (
	defaultQueueCapacity = 4096
	defaultBufferSize    = 4096
)

// Chunk is the payload type flowing through the queue.
type Chunk = model.Chunk

// Queue provides non-blocking enqueue and channel-based dequeue semantics.
type Queue interface {
	// Enqueue adds a chunk. Returns false if the queue is full or closed.
	Enqueue(ctx context.Context, c Chunk) bool

	// Dequeue returns a channel of chunks in enqueue order. It is closed
	// once the queue is closed and drained.
	Dequeue(ctx context.Context) <-chan Chunk

	Len(ctx context.Context) int

	// Close stops accepting chunks. Already queued chunks are still delivered.
	Close() error

	IsClosed() bool
}

// InMemoryQueue implements Queue using a buffered channel.
type InMemoryQueue struct {
	chunks     chan Chunk
	capacity   int
	bufferSize int
	mu         sync.RWMutex
	closed     bool
}

// NewInMemoryQueue creates a new in-memory queue.
func NewInMemoryQueue(opts ...Option) *InMemoryQueue {
	q := &InMemoryQueue{
		capacity:   defaultQueueCapacity,
		bufferSize: defaultBufferSize,
	}
	for _, opt := range opts {
		opt(q)
	}
	if q.capacity > q.bufferSize {
		q.capacity = q.bufferSize
	}
	q.chunks = make(chan Chunk, q.bufferSize)
	metrics.UpdateQueueSize(0)
	return q
}

// Enqueue adds a chunk to the queue.
func (q *InMemoryQueue) Enqueue(ctx context.Context, c Chunk) bool {
	q.mu.RLock()
	defer q.mu.RUnlock()

	if q.closed {
		metrics.RecordQueueEnqueueError("closed")
		return false
	}
	if len(q.chunks) >= q.capacity {
		metrics.RecordQueueEnqueueError("capacity_exceeded")
		return false
	}

	select {
	case q.chunks <- c:
		metrics.UpdateQueueSize(len(q.chunks))
		return true
	case <-ctx.Done():
		metrics.RecordQueueEnqueueError("context_cancelled")
		return false
	default:
		metrics.RecordQueueEnqueueError("queue_full")
		return false
	}
}

// Dequeue returns a channel that receives chunks as they become available.
func (q *InMemoryQueue) Dequeue(ctx context.Context) <-chan Chunk {
	out := make(chan Chunk)
	go func() {
		defer close(out)
		for c := range q.chunks {
			select {
			case out <- c:
				metrics.UpdateQueueSize(len(q.chunks))
			case <-ctx.Done():
				return
			}
		}
	}()
	return out
}

// Len returns the current number of queued chunks.
func (q *InMemoryQueue) Len(_ context.Context) int {
	return len(q.chunks)
}

// Close shuts down the queue. It is safe to call more than once.
func (q *InMemoryQueue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return nil
	}
	close(q.chunks)
	q.closed = true
	return nil
}

// IsClosed reports whether Close was called.
func (q *InMemoryQueue) IsClosed() bool {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return q.closed
}
