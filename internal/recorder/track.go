package recorder

import (
	"image"
	"sync"
	"sync/atomic"
	"time"
)

// clock is the recording's media clock: wall time since start minus pauses.
type clock struct {
	mu          sync.Mutex
	startedAt   time.Time
	pausedAt    time.Time
	pausedTotal time.Duration
	paused      bool
}

func (c *clock) start(now time.Time) {
	c.mu.Lock()
	c.startedAt, c.pausedAt, c.pausedTotal, c.paused = now, time.Time{}, 0, false
	c.mu.Unlock()
}

func (c *clock) pause(now time.Time) {
	c.mu.Lock()
	if !c.paused {
		c.paused, c.pausedAt = true, now
	}
	c.mu.Unlock()
}

func (c *clock) resume(now time.Time) {
	c.mu.Lock()
	if c.paused {
		c.pausedTotal += now.Sub(c.pausedAt)
		c.paused, c.pausedAt = false, time.Time{}
	}
	c.mu.Unlock()
}

// stop freezes the clock at now. A pause still open is counted in pausedTotal.
func (c *clock) stop(now time.Time) {
	c.mu.Lock()
	if c.paused {
		c.pausedTotal += now.Sub(c.pausedAt)
	}
	c.paused, c.pausedAt = true, now
	c.mu.Unlock()
}

// elapsed is the active recording time at now.
func (c *clock) elapsed(now time.Time) time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.startedAt.IsZero() {
		return 0
	}
	end := now
	if c.paused {
		end = c.pausedAt
	}
	d := end.Sub(c.startedAt) - c.pausedTotal
	if d < 0 {
		return 0
	}
	return d
}

func (c *clock) snapshot() (startedAt, pausedAt time.Time, pausedTotal time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.startedAt, c.pausedAt, c.pausedTotal
}

// VideoTrack captures frames from the composite canvas at a fixed rate.
// Timestamps follow the recording's media clock.
type VideoTrack struct {
	src    FrameSource
	clock  *clock
	fps    int
	width  int
	height int
	last   atomic.Int64
}

// NewVideoTrack returns a standalone track whose media clock starts now.
func NewVideoTrack(src FrameSource, fps int) *VideoTrack {
	c := &clock{}
	c.start(time.Now())
	return newVideoTrack(src, c, fps)
}

func newVideoTrack(src FrameSource, c *clock, fps int) *VideoTrack {
	g := src.Geometry()
	return &VideoTrack{src: src, clock: c, fps: fps, width: g.Width, height: g.Height}
}

// Size is the captured frame size.
func (t *VideoTrack) Size() (width, height int) { return t.width, t.height }

// FPS is the capture rate.
func (t *VideoTrack) FPS() int { return t.fps }

// ReadFrame copies the current composite into dst and returns its media time.
func (t *VideoTrack) ReadFrame(dst *image.RGBA) (time.Duration, error) {
	if _, err := t.src.Snapshot(dst); err != nil {
		return 0, err
	}
	pts := t.clock.elapsed(time.Now())
	t.last.Store(int64(pts))
	return pts, nil
}

// Timestamp is the media time of the last captured frame.
func (t *VideoTrack) Timestamp() time.Duration {
	return time.Duration(t.last.Load())
}
