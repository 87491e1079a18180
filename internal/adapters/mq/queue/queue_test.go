package queue

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/okian/facefx/internal/domain/model"
)

func chunk(seq uint64) model.Chunk {
	return model.Chunk{Seq: seq, Data: []byte(fmt.Sprintf("chunk-%d", seq)), ArrivedAt: time.Now()}
}

func TestInMemoryQueue_BasicOperations(t *testing.T) {
	q := NewInMemoryQueue(WithCapacity(2))
	ctx := context.Background()

	if l := q.Len(ctx); l != 0 {
		t.Errorf("expected length 0, got %d", l)
	}
	if !q.Enqueue(ctx, chunk(1)) {
		t.Error("expected enqueue to succeed")
	}
	if l := q.Len(ctx); l != 1 {
		t.Errorf("expected length 1, got %d", l)
	}

	c := <-q.Dequeue(ctx)
	if c.Seq != 1 || string(c.Data) != "chunk-1" {
		t.Errorf("expected chunk 1, got %d %q", c.Seq, c.Data)
	}
}

func TestInMemoryQueue_Capacity(t *testing.T) {
	q := NewInMemoryQueue(WithCapacity(2))
	ctx := context.Background()

	if !q.Enqueue(ctx, chunk(1)) || !q.Enqueue(ctx, chunk(2)) {
		t.Fatal("expected enqueue to succeed")
	}
	if q.Enqueue(ctx, chunk(3)) {
		t.Error("expected enqueue to fail when full")
	}
	if l := q.Len(ctx); l != 2 {
		t.Errorf("expected length 2, got %d", l)
	}
}

func TestInMemoryQueue_OrderAndDrainOnClose(t *testing.T) {
	q := NewInMemoryQueue()
	ctx := context.Background()

	for i := uint64(1); i <= 10; i++ {
		if !q.Enqueue(ctx, chunk(i)) {
			t.Fatalf("enqueue %d failed", i)
		}
	}
	if err := q.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if q.Enqueue(ctx, chunk(11)) {
		t.Error("expected enqueue after close to fail")
	}

	var want uint64 = 1
	for c := range q.Dequeue(ctx) {
		if c.Seq != want {
			t.Fatalf("expected seq %d, got %d", want, c.Seq)
		}
		want++
	}
	if want != 11 {
		t.Errorf("expected 10 chunks drained, got %d", want-1)
	}
}

func TestInMemoryQueue_CloseIdempotent(t *testing.T) {
	q := NewInMemoryQueue()
	if err := q.Close(); err != nil {
		t.Fatal(err)
	}
	if err := q.Close(); err != nil {
		t.Fatal(err)
	}
	if !q.IsClosed() {
		t.Error("expected queue to be closed")
	}
}

func TestInMemoryQueue_CancelledContext(t *testing.T) {
	q := NewInMemoryQueue()
	ctx, cancel := context.WithCancel(context.Background())
	out := q.Dequeue(ctx)
	cancel()

	select {
	case _, ok := <-out:
		if ok {
			t.Error("expected no chunk after cancel")
		}
	case <-time.After(time.Second):
		// consumer goroutine blocks on the empty channel until Close
	}
	_ = q.Close()
}
