// Package mailbox fans camera frames out to consumers. Each subscriber has a
// single-slot mailbox: a new frame overwrites an unread one, so slow consumers
// always see the most recent frame and never build a backlog.
package mailbox

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/okian/facefx/internal/domain/model"
	"github.com/okian/facefx/pkg/metrics"
)

// ReadFunc blocks until a frame is available and returns it, or returns nil
// once the subscription or the mailbox is closed.
type ReadFunc func() *model.Frame

// slot is one subscriber's mailbox.
type slot struct {
	mu    sync.Mutex
	cond  *sync.Cond
	frame *model.Frame

	lastConsumedAt  time.Time
	lastConsumedSeq uint64
	drops           uint64
	closed          bool
}

// SlotStats describes one subscriber.
type SlotStats struct {
	LastConsumedSeq uint64    `json:"last_consumed_seq"`
	LastConsumedAt  time.Time `json:"last_consumed_at"`
	Drops           uint64    `json:"drops"`
}

// Mailbox distributes frames to subscribers and keeps the latest frame for
// non-blocking readers.
type Mailbox struct {
	mu        sync.RWMutex
	slots     map[string]*slot
	latest    atomic.Pointer[model.Frame]
	published atomic.Uint64
	closed    bool
}

// New creates an empty mailbox.
func New() *Mailbox {
	return &Mailbox{slots: make(map[string]*slot)}
}

// Publish hands frame to every subscriber, replacing unread frames.
// The frame must not be modified afterwards.
func (m *Mailbox) Publish(frame *model.Frame) {
	if frame == nil {
		return
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return
	}
	m.latest.Store(frame)
	m.published.Add(1)
	for name, s := range m.slots {
		s.mu.Lock()
		if !s.closed {
			if s.frame != nil {
				s.drops++
				metrics.RecordFrameDropped("mailbox_" + name)
			}
			s.frame = frame
			s.cond.Signal()
		}
		s.mu.Unlock()
	}
}

// Latest returns the most recently published frame without consuming it.
func (m *Mailbox) Latest() *model.Frame {
	return m.latest.Load()
}

// Published returns the number of frames published so far.
func (m *Mailbox) Published() uint64 {
	return m.published.Load()
}

// Subscribe registers a consumer and returns its read function. A ReadFunc
// must be used from a single goroutine. Subscribing an existing name replaces
// the previous subscription, whose reader then returns nil.
func (m *Mailbox) Subscribe(name string) ReadFunc {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return func() *model.Frame { return nil }
	}
	if old, ok := m.slots[name]; ok {
		closeSlot(old)
	}
	s := &slot{lastConsumedAt: time.Now()}
	s.cond = sync.NewCond(&s.mu)
	m.slots[name] = s

	return func() *model.Frame {
		s.mu.Lock()
		defer s.mu.Unlock()
		for s.frame == nil && !s.closed {
			s.cond.Wait()
		}
		if s.closed {
			return nil
		}
		f := s.frame
		s.frame = nil
		s.lastConsumedAt = time.Now()
		s.lastConsumedSeq = f.Seq
		return f
	}
}

// Unsubscribe removes a consumer and wakes its reader. It is idempotent.
func (m *Mailbox) Unsubscribe(name string) {
	m.mu.Lock()
	s, ok := m.slots[name]
	delete(m.slots, name)
	m.mu.Unlock()
	if ok {
		closeSlot(s)
	}
}

// Close wakes all readers and rejects further publishes.
func (m *Mailbox) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return
	}
	m.closed = true
	for name, s := range m.slots {
		closeSlot(s)
		delete(m.slots, name)
	}
}

// Reset drops the latest frame, used when the source stops.
func (m *Mailbox) Reset() {
	m.latest.Store(nil)
}

// Stats returns per-subscriber counters.
func (m *Mailbox) Stats() map[string]SlotStats {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]SlotStats, len(m.slots))
	for name, s := range m.slots {
		s.mu.Lock()
		out[name] = SlotStats{
			LastConsumedSeq: s.lastConsumedSeq,
			LastConsumedAt:  s.lastConsumedAt,
			Drops:           s.drops,
		}
		s.mu.Unlock()
	}
	return out
}

func closeSlot(s *slot) {
	s.mu.Lock()
	s.closed = true
	s.frame = nil
	s.cond.Broadcast()
	s.mu.Unlock()
}
