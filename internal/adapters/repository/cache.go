package repository

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/okian/facefx/internal/domain/model"
	"github.com/okian/facefx/pkg/metrics"
)

// DefaultFreshness is the staleness bound used by Fresh when none is given.
const DefaultFreshness = 100 * time.Millisecond

// Status summarizes tracking state.
type Status struct {
	Initialized  bool      `json:"initialized"`
	Tracking     bool      `json:"tracking"`
	Confidence   float64   `json:"confidence"`
	LastUpdateAt time.Time `json:"last_update_at"`
	FaceCount    int       `json:"face_count"`
	Err          string    `json:"error,omitempty"`
}

// LandmarkCache holds the latest LandmarkSet. The tracker is the only writer;
// readers get an immutable snapshot pointer and never block the writer for
// longer than a pointer swap.
type LandmarkCache struct {
	mu        sync.Mutex
	current   atomic.Pointer[model.LandmarkSet]
	status    atomic.Pointer[Status]
	latestAt  time.Time // CapturedAt of the newest accepted result, face or not
	freshness time.Duration
}

// NewLandmarkCache creates an empty cache.
func NewLandmarkCache(opts ...CacheOption) *LandmarkCache {
	c := &LandmarkCache{
		freshness: DefaultFreshness,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.status.Store(&Status{})
	return c
}

// Read returns the latest snapshot or nil when no face is tracked.
// The returned set must not be modified.
func (c *LandmarkCache) Read() *model.LandmarkSet {
	return c.current.Load()
}

// Status returns the tracking summary.
func (c *LandmarkCache) Status() Status {
	return *c.status.Load()
}

// Fresh reports whether the tracked set was captured within bound of now.
// A zero bound uses the cache default.
func (c *LandmarkCache) Fresh(now time.Time, bound time.Duration) bool {
	if bound <= 0 {
		bound = c.freshness
	}
	set := c.current.Load()
	if set == nil {
		return false
	}
	return now.Sub(set.CapturedAt) <= bound
}

// Write adopts set unless its CapturedAt is older than the newest result.
func (c *LandmarkCache) Write(set *model.LandmarkSet) bool {
	if set == nil {
		return false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if set.CapturedAt.Before(c.latestAt) {
		metrics.RecordCacheWrite("out_of_order")
		return false
	}
	c.latestAt = set.CapturedAt
	c.current.Store(set)
	c.updateStatus(func(s *Status) {
		s.Initialized = true
		s.Tracking = true
		s.Confidence = set.Confidence
		s.LastUpdateAt = set.CapturedAt
		s.FaceCount = 1
		s.Err = ""
	})
	metrics.RecordCacheWrite("accepted")
	metrics.UpdateLandmarkConfidence(set.Confidence)
	metrics.UpdateTrackingActive(true)
	return true
}

// RecordNoFace clears the snapshot for a detection that found no face,
// subject to the same ordering rule as Write.
func (c *LandmarkCache) RecordNoFace(capturedAt time.Time) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if capturedAt.Before(c.latestAt) {
		metrics.RecordCacheWrite("out_of_order")
		return false
	}
	c.latestAt = capturedAt
	c.current.Store(nil)
	c.updateStatus(func(s *Status) {
		s.Initialized = true
		s.Tracking = false
		s.Confidence = 0
		s.LastUpdateAt = capturedAt
		s.FaceCount = 0
		s.Err = ""
	})
	metrics.RecordCacheWrite("no_face")
	metrics.UpdateLandmarkConfidence(0)
	metrics.UpdateTrackingActive(false)
	return true
}

// RecordError marks the last detection as failed. The snapshot is kept.
func (c *LandmarkCache) RecordError(err error) {
	if err == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.updateStatus(func(s *Status) {
		s.Err = err.Error()
	})
	metrics.RecordCacheWrite("error")
}

// MarkInitialized records that the detector is ready.
func (c *LandmarkCache) MarkInitialized() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.updateStatus(func(s *Status) {
		s.Initialized = true
	})
}

// Clear drops the tracked face, used when the camera stops. Whether the
// detector is initialized is kept.
func (c *LandmarkCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.latestAt = time.Time{}
	c.current.Store(nil)
	c.status.Store(&Status{Initialized: c.status.Load().Initialized})
	metrics.UpdateTrackingActive(false)
}

// updateStatus copies, edits and republishes the status. Callers hold mu.
func (c *LandmarkCache) updateStatus(edit func(*Status)) {
	next := *c.status.Load()
	edit(&next)
	c.status.Store(&next)
}
