// Package recorder captures the composite canvas, optionally with microphone
// audio, into a container file through a pluggable encoder.
package recorder

import (
	"bytes"
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/okian/facefx/internal/adapters/mq/queue"
	"github.com/okian/facefx/internal/adapters/mq/worker"
	"github.com/okian/facefx/internal/domain/model"
	"github.com/okian/facefx/pkg/logger"
	"github.com/okian/facefx/pkg/metrics"
)

const (
	DefaultTimeslice    = 250 * time.Millisecond
	DefaultSyncInterval = 100 * time.Millisecond
	DefaultFinalWait    = 200 * time.Millisecond
	DefaultStopBudget   = 500 * time.Millisecond

	// CaptureFPS is the rate frames are read from the canvas. The encoder
	// resamples to the preset rate.
	CaptureFPS = 30
)

// StartOptions select the output of a recording.
type StartOptions struct {
	// Format is the requested container MIME type; empty picks the first supported.
	Format string `json:"format"`
	// Preset names an entry of Presets; empty is "native".
	Preset string `json:"preset"`
	// Quality scales the bitrate, in (0, 1].
	Quality      float64  `json:"quality"`
	IncludeAudio bool     `json:"include_audio"`
	Overlays     []string `json:"overlays,omitempty"`
}

// Session describes the recording in progress.
type Session struct {
	ID              string     `json:"id"`
	State           State      `json:"state"`
	StartedAt       time.Time  `json:"started_at"`
	PausedAt        *time.Time `json:"paused_at,omitempty"`
	PausedTotalMs   int64      `json:"paused_total_ms"`
	DurationMs      int64      `json:"duration_ms"`
	Format          string     `json:"format"`
	MimeType        string     `json:"mime_type"`
	RequestedFormat string     `json:"requested_format,omitempty"`
	Substituted     bool       `json:"substituted"`
	Preset          Preset     `json:"preset"`
	Bitrate         int        `json:"bitrate"`
	Audio           *AudioInfo `json:"audio,omitempty"`
	Overlays        []string   `json:"overlays,omitempty"`
	Chunks          int        `json:"chunks"`
	Bytes           int        `json:"bytes"`
	Sync            SyncStats  `json:"sync"`
}

// Result is the finalized recording. Err is set when the encoder failed; Blob
// then holds whatever arrived before the failure, or nil when nothing did.
type Result struct {
	ID              string     `json:"id"`
	Blob            []byte     `json:"-"`
	DurationMs      int64      `json:"duration_ms"`
	Format          string     `json:"format"`
	Extension       string     `json:"extension"`
	Filename        string     `json:"filename"`
	Size            int        `json:"size"`
	Chunks          int        `json:"chunks"`
	Sync            SyncStats  `json:"sync"`
	Audio           *AudioInfo `json:"audio"`
	RequestedFormat string     `json:"requested_format,omitempty"`
	Substituted     bool       `json:"substituted"`
	Truncated       bool       `json:"truncated"`
	StartedAt       time.Time  `json:"started_at"`
	EndedAt         time.Time  `json:"ended_at"`
	PausedTotalMs   int64      `json:"paused_total_ms"`
	Err             error      `json:"-"`
}

// collector appends chunks in arrival order.
type collector struct {
	mu     sync.Mutex
	chunks []model.Chunk
	bytes  int
}

func (c *collector) Append(_ context.Context, ch worker.Chunk) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if n := len(c.chunks); n > 0 && ch.ArrivedAt.Before(c.chunks[n-1].ArrivedAt) {
		ch.ArrivedAt = c.chunks[n-1].ArrivedAt
	}
	c.chunks = append(c.chunks, ch)
	c.bytes += len(ch.Data)
	return nil
}

func (c *collector) counts() (chunks, size int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.chunks), c.bytes
}

func (c *collector) blob() ([]byte, int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.chunks) == 0 {
		return nil, 0
	}
	var buf bytes.Buffer
	buf.Grow(c.bytes)
	for _, ch := range c.chunks {
		buf.Write(ch.Data)
	}
	return buf.Bytes(), len(c.chunks)
}

// run holds the per-session machinery.
type run struct {
	sess     Session
	enc      Encoder
	video    *VideoTrack
	audio    AudioTrack
	queue    *queue.InMemoryQueue
	worker   *worker.InMemoryWorker
	coll     collector
	seq      atomic.Uint64
	monitor  *worker.Loop
	stopped  chan struct{}
	stopOnce sync.Once
	err      atomic.Pointer[error]
}

func (rn *run) setErr(err error) bool {
	return rn.err.CompareAndSwap(nil, &err)
}

func (rn *run) loadErr() error {
	if p := rn.err.Load(); p != nil {
		return *p
	}
	return nil
}

// Recorder is the recording state machine.
type Recorder struct {
	factory EncoderFactory
	source  FrameSource
	mic     Microphone

	timeslice    time.Duration
	syncInterval time.Duration
	finalWait    time.Duration
	stopBudget   time.Duration
	logger       logger.Logger

	mu    sync.Mutex
	state State
	run   *run
	clock clock
	drift syncTracker
}

// New creates a recorder that captures from source and encodes with factory.
func New(factory EncoderFactory, source FrameSource, opts ...Option) *Recorder {
	r := &Recorder{
		factory:      factory,
		source:       source,
		timeslice:    DefaultTimeslice,
		syncInterval: DefaultSyncInterval,
		finalWait:    DefaultFinalWait,
		stopBudget:   DefaultStopBudget,
		logger:       logger.Named("recorder"),
	}
	for _, opt := range opts {
		opt(r)
	}
	metrics.UpdateRecorderState(int(StateInactive))
	return r
}

// State returns the current state.
func (r *Recorder) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// SupportedFormats lists the preferred formats the encoder accepts.
func (r *Recorder) SupportedFormats() []string {
	var out []string
	for _, f := range PreferredFormats {
		if r.factory.IsTypeSupported(f) {
			out = append(out, f)
		}
	}
	return out
}

// Session returns the active session; ok is false when idle.
func (r *Recorder) Session() (s Session, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.run == nil {
		return Session{}, false
	}
	return r.describe(time.Now()), true
}

func (r *Recorder) describe(now time.Time) Session {
	s := r.run.sess
	s.State = r.state
	_, pausedAt, pausedTotal := r.clock.snapshot()
	if s.State == StatePaused && !pausedAt.IsZero() {
		p := pausedAt
		s.PausedAt = &p
	}
	s.PausedTotalMs = pausedTotal.Milliseconds()
	s.DurationMs = r.clock.elapsed(now).Milliseconds()
	s.Chunks, s.Bytes = r.run.coll.counts()
	s.Sync = r.drift.stats()
	return s
}

func (r *Recorder) setState(s State) {
	r.state = s
	metrics.UpdateRecorderState(int(s))
}

// Start begins a recording of the composite canvas.
func (r *Recorder) Start(ctx context.Context, so StartOptions) (Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.state != StateInactive {
		return Session{}, fmt.Errorf("%w: start while %s", ErrInvalidState, r.state)
	}
	preset, err := LookupPreset(so.Preset)
	if err != nil {
		return Session{}, err
	}
	g := r.source.Geometry()
	if !g.Valid() {
		return Session{}, ErrNoSource
	}

	r.setState(StateStarting)
	mime, substituted, err := Negotiate(so.Format, r.factory.IsTypeSupported)
	if err != nil {
		r.setState(StateInactive)
		metrics.RecordRecording("unsupported", 0)
		return Session{}, err
	}
	if substituted {
		metrics.RecordFormatSubstitution()
		r.logger.Warn(ctx, "requested format unsupported, substituting",
			logger.String("requested", so.Format),
			logger.String("format", mime))
	}
	preset = preset.Resolve(g.Width, g.Height)

	rn := &run{stopped: make(chan struct{})}
	rn.video = newVideoTrack(r.source, &r.clock, CaptureFPS)
	rn.audio, rn.sess.Audio = r.acquireAudio(ctx, so.IncludeAudio)
	rn.queue = queue.NewInMemoryQueue()
	rn.worker = worker.NewInMemoryWorker(rn.queue, &rn.coll,
		worker.WithName("recorder-chunks"),
		worker.WithLogger(r.logger))

	rn.sess.ID = uuid.NewString()
	rn.sess.MimeType = mime
	rn.sess.Format = Extension(mime)
	rn.sess.RequestedFormat = so.Format
	rn.sess.Substituted = substituted
	rn.sess.Preset = preset
	rn.sess.Bitrate = preset.BitrateFor(so.Quality)
	rn.sess.Overlays = append([]string(nil), so.Overlays...)

	enc, err := r.factory.New(Tracks{Video: rn.video, Audio: rn.audio}, EncoderOptions{
		MimeType:           mime,
		VideoBitsPerSecond: rn.sess.Bitrate,
		Width:              preset.Width,
		Height:             preset.Height,
		FPS:                preset.FPS,
	}, r.handlers(rn))
	if err != nil {
		return Session{}, r.abortStart(ctx, rn, err)
	}
	rn.enc = enc

	go rn.worker.Run(context.Background())
	now := time.Now()
	r.clock.start(now)
	if err := enc.Start(r.timeslice); err != nil {
		return Session{}, r.abortStart(ctx, rn, err)
	}
	if rn.audio != nil {
		if err := r.mic.StartRecording(); err != nil {
			r.logger.Warn(ctx, "microphone recording did not start", logger.Error(err))
		}
	}

	rn.sess.StartedAt = now
	r.run = rn
	r.drift.reset()
	r.startMonitor(rn)
	r.setState(StateRecording)
	r.logger.Info(ctx, "recording started",
		logger.String("id", rn.sess.ID),
		logger.String("format", mime),
		logger.String("preset", preset.Name),
		logger.Int("bitrate", rn.sess.Bitrate),
		logger.Bool("audio", rn.audio != nil))
	return r.describe(now), nil
}

func (r *Recorder) abortStart(ctx context.Context, rn *run, cause error) error {
	_ = rn.queue.Close()
	r.clock.start(time.Time{})
	r.setState(StateInactive)
	metrics.RecordRecording("start_failed", 0)
	metrics.RecordErrorByComponent("recorder", "encoder_start")
	r.logger.Error(ctx, "encoder failed to start", logger.Error(cause))
	return fmt.Errorf("%w: %w", ErrEncoderError, cause)
}

func (r *Recorder) acquireAudio(ctx context.Context, want bool) (AudioTrack, *AudioInfo) {
	if !want {
		return nil, nil
	}
	if r.mic == nil || r.mic.State() != MicReady {
		state := MicUninitialized
		if r.mic != nil {
			state = r.mic.State()
		}
		r.logger.Info(ctx, "microphone not ready, recording video only",
			logger.String("mic_state", state.String()))
		return nil, nil
	}
	t := r.mic.AudioTrack()
	if t == nil {
		return nil, nil
	}
	f := t.Format()
	return t, &AudioInfo{SampleRate: f.SampleRate, Channels: f.Channels, Device: f.Device}
}

func (r *Recorder) handlers(rn *run) Handlers {
	return Handlers{
		OnData: func(b []byte) {
			if len(b) == 0 {
				return
			}
			c := model.Chunk{
				Seq:       rn.seq.Add(1),
				Data:      append([]byte(nil), b...),
				ArrivedAt: time.Now(),
			}
			if !rn.queue.Enqueue(context.Background(), c) {
				metrics.RecordErrorByComponent("recorder", "chunk_dropped")
				r.logger.Warn(context.Background(), "chunk dropped", logger.Uint64("seq", c.Seq))
				return
			}
			metrics.RecordChunk(len(c.Data))
		},
		OnStop: func() {
			rn.stopOnce.Do(func() { close(rn.stopped) })
		},
		OnError: func(err error) {
			if rn.setErr(err) {
				go r.fail(rn, err)
			}
		},
	}
}

// fail moves an active session to ERROR. Stop finalizes it.
func (r *Recorder) fail(rn *run, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.run != rn {
		return
	}
	metrics.RecordErrorByComponent("recorder", "encoder_error")
	r.logger.Error(context.Background(), "encoder failed while recording",
		logger.String("id", rn.sess.ID),
		logger.Error(err))
	if r.state == StateRecording || r.state == StatePaused {
		r.stopMonitor(rn)
		r.setState(StateError)
	}
}

// Pause halts the encoder and the sync monitor.
func (r *Recorder) Pause() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state != StateRecording {
		return fmt.Errorf("%w: pause while %s", ErrInvalidState, r.state)
	}
	rn := r.run
	if err := rn.enc.Pause(); err != nil {
		return fmt.Errorf("%w: %w", ErrEncoderError, err)
	}
	r.clock.pause(time.Now())
	r.stopMonitor(rn)
	if rn.audio != nil {
		r.mic.PauseRecording()
	}
	r.setState(StatePaused)
	return nil
}

// Resume restarts the encoder and the sync monitor.
func (r *Recorder) Resume() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state != StatePaused {
		return fmt.Errorf("%w: resume while %s", ErrInvalidState, r.state)
	}
	rn := r.run
	if err := rn.enc.Resume(); err != nil {
		return fmt.Errorf("%w: %w", ErrEncoderError, err)
	}
	r.clock.resume(time.Now())
	if rn.audio != nil {
		r.mic.ResumeRecording()
	}
	r.startMonitor(rn)
	r.setState(StateRecording)
	return nil
}

// Stop ends the recording and returns the finalized blob. Stop while idle
// returns an empty result. When the encoder failed, the returned error wraps
// ErrEncoderError and the result carries the truncated recording.
func (r *Recorder) Stop(ctx context.Context) (Result, error) {
	r.mu.Lock()
	switch r.state {
	case StateInactive:
		r.mu.Unlock()
		return Result{}, nil
	case StateStarting, StateStopping:
		s := r.state
		r.mu.Unlock()
		return Result{}, fmt.Errorf("%w: stop while %s", ErrInvalidState, s)
	}
	rn := r.run
	failed := r.state == StateError
	stopAt := time.Now()
	r.clock.stop(stopAt)
	r.stopMonitor(rn)
	r.setState(StateStopping)
	r.mu.Unlock()

	budget, cancel := context.WithTimeout(ctx, r.stopBudget)
	defer cancel()

	if err := rn.enc.Stop(); err != nil && !failed {
		rn.setErr(err)
	}
	wait := time.NewTimer(r.finalWait)
	select {
	case <-rn.stopped:
	case <-wait.C:
		r.logger.Warn(ctx, "final chunk not received in time", logger.Duration("wait", r.finalWait))
	case <-budget.Done():
	}
	wait.Stop()

	_ = rn.queue.Close()
	select {
	case <-rn.worker.Done():
	case <-budget.Done():
		r.logger.Warn(ctx, "chunk drain cut short", logger.Int("queued", rn.queue.Len(ctx)))
		_ = rn.worker.Shutdown(context.Background())
	}
	if rn.audio != nil {
		if err := r.mic.StopRecording(); err != nil {
			r.logger.Warn(ctx, "microphone stop failed", logger.Error(err))
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	res := r.finalize(rn, stopAt)
	r.run = nil
	r.setState(StateInactive)
	r.logger.Info(ctx, "recording stopped",
		logger.String("id", res.ID),
		logger.Int64("duration_ms", res.DurationMs),
		logger.Int("size", res.Size),
		logger.String("sync", res.Sync.Quality),
		logger.Duration("stop_took", time.Since(stopAt)))
	return res, res.Err
}

func (r *Recorder) finalize(rn *run, stopAt time.Time) Result {
	startedAt, _, pausedTotal := r.clock.snapshot()
	blob, n := rn.coll.blob()
	res := Result{
		ID:              rn.sess.ID,
		DurationMs:      r.clock.elapsed(stopAt).Milliseconds(),
		Format:          rn.sess.MimeType,
		Extension:       rn.sess.Format,
		Filename:        Filename(startedAt, rn.sess.Format),
		Chunks:          n,
		Sync:            r.drift.stats(),
		Audio:           rn.sess.Audio,
		RequestedFormat: rn.sess.RequestedFormat,
		Substituted:     rn.sess.Substituted,
		StartedAt:       startedAt,
		EndedAt:         stopAt,
		PausedTotalMs:   pausedTotal.Milliseconds(),
		Blob:            blob,
	}
	outcome := "ok"
	if err := rn.loadErr(); err != nil {
		res.Err = fmt.Errorf("%w: %w", ErrEncoderError, err)
		if n < 1 {
			res.Blob = nil
			outcome = "failed"
		} else {
			res.Truncated = true
			outcome = "truncated"
		}
	}
	res.Size = len(res.Blob)
	metrics.RecordRecording(outcome, float64(res.DurationMs)/1000)
	return res
}

func (r *Recorder) startMonitor(rn *run) {
	loop := worker.NewLoop(r.syncInterval, func(_ context.Context, _ time.Time) {
		var drift time.Duration
		if rn.audio != nil {
			drift = rn.audio.Timestamp() - rn.video.Timestamp()
		}
		metrics.RecordSyncDrift(r.drift.add(drift))
	}, worker.WithLoopName("sync-monitor"), worker.WithLoopLogger(r.logger))
	rn.monitor = loop
	go loop.Run(context.Background())
}

func (r *Recorder) stopMonitor(rn *run) {
	if rn.monitor == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), r.syncInterval)
	defer cancel()
	_ = rn.monitor.Shutdown(ctx)
	rn.monitor = nil
}
