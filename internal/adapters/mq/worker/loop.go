package worker

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/okian/facefx/pkg/logger"
	"github.com/okian/facefx/pkg/metrics"
)

// TickFunc is called once per deadline with the scheduled tick time.
type TickFunc func(ctx context.Context, now time.Time)

// Loop calls a TickFunc on a fixed period using a next-deadline schedule.
// A tick that overruns causes the missed deadlines to be skipped, never
// replayed. Panics in the tick are recovered and logged.
type Loop struct {
	name     string
	interval time.Duration
	tick     TickFunc
	logger   logger.Logger

	ticks   atomic.Uint64
	skipped atomic.Uint64

	shutdown     chan struct{}
	shutdownOnce sync.Once
	done         chan struct{}
}

// LoopStats reports loop progress.
type LoopStats struct {
	Ticks   uint64 `json:"ticks"`
	Skipped uint64 `json:"skipped"`
}

// NewLoop creates a loop. A non-positive interval defaults to 1/30 s.
func NewLoop(interval time.Duration, tick TickFunc, opts ...LoopOption) *Loop {
	if interval <= 0 {
		interval = time.Second / 30
	}
	l := &Loop{
		name:     "loop",
		interval: interval,
		tick:     tick,
		shutdown: make(chan struct{}),
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(l)
	}
	if l.logger == nil {
		l.logger = logger.Get().Named(l.name)
	}
	return l
}

// Interval returns the tick period.
func (l *Loop) Interval() time.Duration {
	return l.interval
}

// Run ticks until ctx is canceled or Shutdown is called.
func (l *Loop) Run(ctx context.Context) {
	defer close(l.done)

	next := time.Now()
	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-l.shutdown:
			return
		case <-timer.C:
		}

		start := time.Now()
		l.safeTick(ctx, next)
		l.ticks.Add(1)
		metrics.RecordLoopTick(l.name, float64(time.Since(start).Microseconds())/1000)

		next = next.Add(l.interval)
		now := time.Now()
		if !now.Before(next) {
			missed := int(now.Sub(next)/l.interval) + 1
			next = next.Add(time.Duration(missed) * l.interval)
			l.skipped.Add(uint64(missed))
			metrics.RecordLoopSkipped(l.name, missed)
		}
		timer.Reset(next.Sub(now))
	}
}

func (l *Loop) safeTick(ctx context.Context, now time.Time) {
	defer func() {
		if r := recover(); r != nil {
			metrics.RecordErrorByComponent(l.name, "tick_panic")
			l.logger.Error(ctx, "tick panicked", logger.Any("panic", fmt.Sprint(r)))
		}
	}()
	l.tick(ctx, now)
}

// Stats returns tick counters.
func (l *Loop) Stats() LoopStats {
	return LoopStats{Ticks: l.ticks.Load(), Skipped: l.skipped.Load()}
}

// Done is closed when Run returns.
func (l *Loop) Done() <-chan struct{} {
	return l.done
}

// Shutdown stops the loop and waits for the running tick to finish.
func (l *Loop) Shutdown(ctx context.Context) error {
	l.shutdownOnce.Do(func() { close(l.shutdown) })
	select {
	case <-l.done:
		return nil
	case <-ctx.Done():
		l.logger.Warn(ctx, "loop shutdown timed out")
		return fmt.Errorf("loop %s shutdown timed out: %w", l.name, ctx.Err())
	}
}
