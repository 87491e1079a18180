// Package dedupe tracks keys that have already been acted on, so repeated
// per-frame conditions (an overlay image that failed to load, a detector that
// keeps returning the same error) are reported once instead of every tick.
package dedupe

import (
	"context"
	"sync"
	"sync/atomic"
)

// Deduper records seen keys.
type Deduper interface {
	// SeenAndRecord atomically checks if key was seen and records it if not.
	// Returns true if key was already seen.
	SeenAndRecord(ctx context.Context, key string) bool

	// Unrecord forgets key so the next occurrence is reported again.
	Unrecord(ctx context.Context, key string)

	Size() int64
}

// inMemoryDeduper keeps keys in a map plus an insertion ring. When bounded,
// the oldest key is evicted to make room.
type inMemoryDeduper struct {
	mu      sync.Mutex
	seen    map[string]int // key -> slot in order
	order   []string       // insertion ring; "" marks a free slot
	next    int
	maxSize int // <= 0 means unbounded
	size    atomic.Int64
}

// NewInMemoryDeduper creates a new in-memory deduper.
func NewInMemoryDeduper(opts ...Option) Deduper {
	d := &inMemoryDeduper{
		maxSize: 1024,
	}
	for _, opt := range opts {
		opt(d)
	}
	d.seen = make(map[string]int)
	if d.maxSize > 0 {
		d.order = make([]string, d.maxSize)
	}
	return d
}

func (d *inMemoryDeduper) SeenAndRecord(_ context.Context, key string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, ok := d.seen[key]; ok {
		return true
	}
	if d.maxSize <= 0 {
		d.seen[key] = -1
		d.size.Add(1)
		return false
	}

	slot := d.next
	if old := d.order[slot]; old != "" {
		delete(d.seen, old)
		d.size.Add(-1)
	}
	d.order[slot] = key
	d.seen[key] = slot
	d.next = (d.next + 1) % d.maxSize
	d.size.Add(1)
	return false
}

func (d *inMemoryDeduper) Unrecord(_ context.Context, key string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	slot, ok := d.seen[key]
	if !ok {
		return
	}
	delete(d.seen, key)
	if slot >= 0 {
		d.order[slot] = ""
	}
	d.size.Add(-1)
}

func (d *inMemoryDeduper) Size() int64 {
	return d.size.Load()
}
