// Package service wires the capture, tracking, rendering and recording
// components into one session and implements the dependencies required by
// the HTTP API.
package service

import (
	"context"
	"errors"
	"fmt"
	"image"
	"io"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/okian/facefx/internal/adapters/camera"
	"github.com/okian/facefx/internal/adapters/repository"
	"github.com/okian/facefx/internal/adapters/tracker"
	"github.com/okian/facefx/internal/domain/model"
	"github.com/okian/facefx/internal/domain/overlay"
	"github.com/okian/facefx/internal/domain/placement"
	"github.com/okian/facefx/internal/recorder"
	"github.com/okian/facefx/internal/render/compositor"
	"github.com/okian/facefx/internal/render/layer"
	"github.com/okian/facefx/pkg/logger"
	"github.com/okian/facefx/pkg/metrics"
)

// pipeline is the per-Start machinery. It is replaced as a whole on restart.
type pipeline struct {
	stream      camera.Stream
	geometry    model.CanvasGeometry
	cache       *repository.LandmarkCache
	tracker     *tracker.Adapter
	trackingErr error
	layers      []*layer.Renderer
	compositor  *compositor.Compositor
	recorder    *recorder.Recorder
	cancel      context.CancelFunc
	watchDone   chan struct{}
}

// draw repaints every layer from the current landmarks. It runs on the
// compositor goroutine at the start of each tick.
func (p *pipeline) draw(registry *overlay.Registry, now time.Time) {
	set := p.cache.Read()
	for _, r := range p.layers {
		var active *overlay.ActiveOverlay
		if a, ok := registry.ActiveByKind(r.Kind()); ok {
			active = &a
		}
		r.Draw(active, set, p.geometry, now)
	}
}

func (p *pipeline) layer(k overlay.Kind) *layer.Renderer {
	for _, r := range p.layers {
		if r.Kind() == k {
			return r
		}
	}
	return nil
}

// Service owns the overlay registry and runs one capture pipeline at a time.
type Service struct {
	mu sync.RWMutex

	// Adapters
	source   camera.Source
	detector tracker.Detector
	encoders recorder.EncoderFactory
	mic      recorder.Microphone
	store    repository.RecordingStore

	// Configuration
	defs            []overlay.Def
	initial         []string
	fps             int
	smoothing       float64
	smoothingMaxAge time.Duration
	edgePolicy      placement.EdgePolicy
	staleness       time.Duration
	maxResultAge    time.Duration
	imageTimeout    time.Duration
	timeslice       time.Duration
	defaults        recorder.StartOptions

	// State
	registry   *overlay.Registry
	registered bool
	pipe       *pipeline
	lastEvent  atomic.Pointer[camera.DeviceEvent]

	logger logger.Logger
}

// New constructs a Service. The registry exists from construction so
// overlays can be managed before the camera starts.
func New(opts ...Option) *Service {
	s := &Service{
		fps:          compositor.DefaultFPS,
		staleness:    layer.DefaultStaleness,
		maxResultAge: tracker.DefaultMaxResultAge,
		imageTimeout: 5 * time.Second,
		timeslice:    recorder.DefaultTimeslice,
		defaults: recorder.StartOptions{
			Format:  recorder.FormatWebMVP9,
			Preset:  "medium",
			Quality: 1,
		},
		logger: logger.Named("service"),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.registry = overlay.NewRegistry(
		overlay.WithLogger(s.logger.Named("overlay")),
		overlay.WithOnChange(s.onOverlayChange),
	)
	return s
}

// Start registers the overlay catalog on first use, opens the camera and
// starts tracking, layer drawing and compositing. A detector that fails to
// initialize leaves the session running without tracking.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.pipe != nil {
		return nil
	}
	if s.source == nil || s.encoders == nil {
		return fmt.Errorf("%w: camera and encoder are required", ErrMissingDependency)
	}
	if err := s.registerCatalog(ctx); err != nil {
		return err
	}

	s.logger.Info(ctx, "starting session...")

	runCtx, cancel := context.WithCancel(ctx)
	stream, err := s.source.Open(runCtx, "")
	if err != nil {
		cancel()
		metrics.RecordErrorByComponent("camera", "open")
		return fmt.Errorf("open camera: %w", err)
	}

	p := &pipeline{
		stream:    stream,
		geometry:  s.source.Meta().Geometry(),
		cache:     repository.NewLandmarkCache(repository.WithDefaultFreshness(s.staleness)),
		cancel:    cancel,
		watchDone: make(chan struct{}),
	}
	images := layer.NewLoader(s.imageTimeout)
	for _, k := range overlay.Kinds {
		p.layers = append(p.layers, layer.New(k,
			layer.WithEngine(placement.New(placement.WithEdgePolicy(s.edgePolicy))),
			layer.WithSmoother(s.newSmoother()),
			layer.WithImageSource(images),
			layer.WithStaleness(s.staleness),
			layer.WithLogger(s.logger.Named("layer."+string(k))),
		))
	}

	registry := s.registry
	p.compositor = compositor.New(
		compositor.WithFPS(s.fps),
		compositor.WithBeforeTick(func(now time.Time) { p.draw(registry, now) }),
		compositor.WithLogger(s.logger.Named("compositor")),
	)
	sources := make([]compositor.LayerSource, len(p.layers))
	for i, r := range p.layers {
		sources[i] = r
	}
	if err := p.compositor.Start(runCtx, stream, sources, p.geometry); err != nil {
		cancel()
		_ = s.source.Close()
		return fmt.Errorf("start compositor: %w", err)
	}

	recOpts := []recorder.Option{
		recorder.WithTimeslice(s.timeslice),
		recorder.WithLogger(s.logger.Named("recorder")),
	}
	if s.mic != nil {
		recOpts = append(recOpts, recorder.WithMicrophone(s.mic))
	}
	p.recorder = recorder.New(s.encoders, p.compositor, recOpts...)

	if s.detector != nil {
		p.tracker = tracker.New(s.detector, p.cache,
			tracker.WithMaxResultAge(s.maxResultAge),
			tracker.WithLogger(s.logger.Named("tracker")))
		if err := p.tracker.Attach(runCtx, stream); err != nil {
			p.trackingErr = err
			s.logger.Warn(ctx, "tracking disabled", logger.Error(err))
		}
	} else {
		p.trackingErr = fmt.Errorf("%w: no detector configured", tracker.ErrTrackerUnavailable)
	}
	metrics.UpdateTrackingActive(false)

	go s.watchDevice(runCtx, p)

	s.pipe = p
	for _, a := range s.registry.Active() {
		s.preload(p, a.Def)
	}

	s.logger.Info(ctx, "session started",
		logger.Int("width", p.geometry.Width),
		logger.Int("height", p.geometry.Height),
		logger.Bool("mirrored", p.geometry.Mirrored),
		logger.Bool("tracking", p.trackingErr == nil),
		logger.Int("fps", s.fps),
	)
	return nil
}

func (s *Service) newSmoother() *placement.Smoother {
	var opts []placement.SmootherOption
	if s.smoothing > 0 {
		opts = append(opts, placement.WithFactor(s.smoothing))
	}
	if s.smoothingMaxAge > 0 {
		opts = append(opts, placement.WithMaxAge(s.smoothingMaxAge))
	}
	return placement.NewSmoother(opts...)
}

// registerCatalog loads the configured overlays once. Callers hold mu.
func (s *Service) registerCatalog(ctx context.Context) error {
	if s.registered {
		return nil
	}
	for _, d := range s.defs {
		if err := s.registry.Register(d); err != nil {
			return fmt.Errorf("register overlay %q: %w", d.ID, err)
		}
	}
	for _, id := range s.initial {
		if err := s.registry.Activate(id); err != nil {
			return fmt.Errorf("activate overlay %q: %w", id, err)
		}
	}
	s.registered = true
	s.logger.Info(ctx, "overlay catalog registered",
		logger.Int("overlays", len(s.defs)),
		logger.Int("active", len(s.initial)))
	return nil
}

// Stop ends any recording, persisting what was captured, and tears the
// session down. Closing the adapters is left to Close.
func (s *Service) Stop(ctx context.Context) error {
	s.mu.Lock()
	p := s.pipe
	s.pipe = nil
	s.mu.Unlock()
	if p == nil {
		return nil
	}

	s.logger.Info(ctx, "stopping session...")

	var errs []error
	if st := p.recorder.State(); st != recorder.StateInactive {
		if _, _, err := s.finishRecording(ctx, p); err != nil {
			errs = append(errs, err)
		}
	}
	if p.tracker != nil {
		p.tracker.Detach()
	}
	if err := p.compositor.Stop(ctx); err != nil {
		errs = append(errs, fmt.Errorf("stop compositor: %w", err))
	}
	if err := s.source.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close camera: %w", err))
	}
	p.cancel()
	<-p.watchDone
	p.cache.Clear()

	s.logger.Info(ctx, "session stopped")
	return errors.Join(errs...)
}

// Close stops the session and releases the detector, microphone and catalog.
func (s *Service) Close(ctx context.Context) error {
	errs := []error{s.Stop(ctx)}
	if s.detector != nil {
		errs = append(errs, s.detector.Close())
	}
	if c, ok := s.mic.(io.Closer); ok {
		errs = append(errs, c.Close())
	}
	if s.store != nil {
		errs = append(errs, s.store.Close())
	}
	return errors.Join(errs...)
}

func (s *Service) current() (*pipeline, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.pipe == nil {
		return nil, ErrNotStarted
	}
	return s.pipe, nil
}

// watchDevice reacts to camera events for the lifetime of p. Losing the
// device ends the session's tracking and any recording in progress.
func (s *Service) watchDevice(ctx context.Context, p *pipeline) {
	defer close(p.watchDone)
	events := s.source.Events()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			s.lastEvent.Store(&ev)
			if ev.Type != camera.DeviceLost {
				continue
			}
			metrics.RecordErrorByComponent("camera", "device_lost")
			s.logger.Error(ctx, "camera lost",
				logger.String("device", ev.Device),
				logger.Error(ev.Err))
			p.cache.Clear()
			if p.recorder.State() != recorder.StateInactive {
				if _, _, err := s.finishRecording(ctx, p); err != nil {
					s.logger.Warn(ctx, "recording ended by device loss", logger.Error(err))
				}
			}
		}
	}
}

func (s *Service) onOverlayChange(active []overlay.ActiveOverlay) {
	metrics.UpdateActiveOverlays(len(active))
	s.mu.RLock()
	p := s.pipe
	s.mu.RUnlock()
	if p == nil {
		return
	}
	for _, a := range active {
		s.preload(p, a.Def)
	}
}

// preload fetches an overlay image in the background so drawing never waits on I/O.
func (s *Service) preload(p *pipeline, def overlay.Def) {
	r := p.layer(def.Kind)
	if r == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), s.imageTimeout)
		defer cancel()
		_ = r.Preload(ctx, def)
	}()
}

// Overlays returns every registered overlay with its current state.
func (s *Service) Overlays() []overlay.ActiveOverlay {
	return s.registry.Definitions()
}

// Overlay returns one overlay by id.
func (s *Service) Overlay(id string) (overlay.ActiveOverlay, error) {
	return s.registry.Get(id)
}

// RegisterOverlay adds a definition to the catalog.
func (s *Service) RegisterOverlay(def overlay.Def) error {
	return s.registry.Register(def)
}

// ActivateOverlay enables id, replacing the active overlay of its kind.
func (s *Service) ActivateOverlay(id string) error {
	return s.registry.Activate(id)
}

// DeactivateOverlay disables id.
func (s *Service) DeactivateOverlay(id string) error {
	return s.registry.Deactivate(id)
}

// SetOverlayRendering applies patch to id and returns the clamped result.
func (s *Service) SetOverlayRendering(id string, patch overlay.RenderingPatch) (overlay.Rendering, error) {
	return s.registry.SetRendering(id, patch)
}

// TrackingView is the tracking state exposed to clients.
type TrackingView struct {
	Status     repository.Status                `json:"status"`
	Error      string                           `json:"error,omitempty"`
	Tracker    tracker.Stats                    `json:"tracker"`
	FaceBox    *model.FaceBox                   `json:"face_box,omitempty"`
	Placements map[overlay.Kind]model.Placement `json:"placements"`
}

// Tracking reports the landmark cache status and the last placement of each layer.
func (s *Service) Tracking() (TrackingView, error) {
	p, err := s.current()
	if err != nil {
		return TrackingView{}, err
	}
	v := TrackingView{
		Status:     p.cache.Status(),
		Placements: make(map[overlay.Kind]model.Placement, len(p.layers)),
	}
	if p.trackingErr != nil {
		v.Error = p.trackingErr.Error()
	}
	if p.tracker != nil {
		v.Tracker = p.tracker.Stats()
	}
	if box, ok := p.cache.Read().FaceBox(); ok {
		v.FaceBox = &box
	}
	for _, r := range p.layers {
		v.Placements[r.Kind()] = r.Last()
	}
	return v, nil
}

// Snapshot returns a copy of the current composite canvas.
func (s *Service) Snapshot() (*image.RGBA, error) {
	p, err := s.current()
	if err != nil {
		return nil, err
	}
	img := p.compositor.Latest()
	if img == nil {
		return nil, compositor.ErrNoFrame
	}
	return img, nil
}

// RecordingDefaults returns the options applied to empty start request fields.
func (s *Service) RecordingDefaults() recorder.StartOptions {
	return s.defaults
}

// SupportedFormats lists the container types the encoder can produce.
func (s *Service) SupportedFormats() []string {
	p, err := s.current()
	if err != nil {
		return nil
	}
	return p.recorder.SupportedFormats()
}

// StartRecording starts capturing the composite. Empty fields of so take the
// configured defaults, and the active overlay IDs are attached to the session.
func (s *Service) StartRecording(ctx context.Context, so recorder.StartOptions) (recorder.Session, error) {
	p, err := s.current()
	if err != nil {
		return recorder.Session{}, err
	}
	if so.Format == "" {
		so.Format = s.defaults.Format
	}
	if so.Preset == "" {
		so.Preset = s.defaults.Preset
	}
	if so.Quality == 0 {
		so.Quality = s.defaults.Quality
	}
	if len(so.Overlays) == 0 {
		for _, a := range s.registry.Active() {
			so.Overlays = append(so.Overlays, a.Def.ID)
		}
	}
	if so.IncludeAudio && s.mic != nil && s.mic.State() != recorder.MicReady {
		// A refused or missing microphone downgrades to video only.
		if err := s.mic.RequestAccess(ctx); err != nil {
			s.logger.Warn(ctx, "microphone unavailable", logger.Error(err))
		}
	}
	return p.recorder.Start(ctx, so)
}

// PauseRecording pauses the current recording.
func (s *Service) PauseRecording() error {
	p, err := s.current()
	if err != nil {
		return err
	}
	return p.recorder.Pause()
}

// ResumeRecording resumes a paused recording.
func (s *Service) ResumeRecording() error {
	p, err := s.current()
	if err != nil {
		return err
	}
	return p.recorder.Resume()
}

// StopRecording finalizes the recording and persists it when a store is
// configured. A failed encoder still yields a result; its error is returned
// alongside. Stopping while idle returns an empty result.
func (s *Service) StopRecording(ctx context.Context) (recorder.Result, *repository.Recording, error) {
	p, err := s.current()
	if err != nil {
		return recorder.Result{}, nil, err
	}
	return s.finishRecording(ctx, p)
}

func (s *Service) finishRecording(ctx context.Context, p *pipeline) (recorder.Result, *repository.Recording, error) {
	res, recErr := p.recorder.Stop(ctx)
	if res.ID == "" || res.Blob == nil || s.store == nil {
		return res, nil, recErr
	}
	stored, err := s.store.Put(ctx, toRecording(res), res.Blob)
	if err != nil {
		s.logger.Error(ctx, "failed to persist recording",
			logger.String("id", res.ID), logger.Error(err))
		return res, nil, errors.Join(recErr, fmt.Errorf("persist recording: %w", err))
	}
	return res, &stored, recErr
}

func toRecording(res recorder.Result) repository.Recording {
	rec := repository.Recording{
		ID:              res.ID,
		Filename:        res.Filename,
		MimeType:        res.Format,
		Extension:       res.Extension,
		RequestedFormat: res.RequestedFormat,
		Substituted:     res.Substituted,
		DurationMs:      res.DurationMs,
		HasAudio:        res.Audio != nil,
		SyncQuality:     res.Sync.Quality,
		AvgDriftMs:      res.Sync.AvgDriftMs,
		MaxDriftMs:      res.Sync.MaxDriftMs,
		Truncated:       res.Truncated,
		CreatedAt:       res.StartedAt,
	}
	if res.Err != nil {
		rec.Error = res.Err.Error()
	}
	return rec
}

// Recording returns the session in progress.
func (s *Service) Recording() (recorder.Session, bool) {
	p, err := s.current()
	if err != nil {
		return recorder.Session{}, false
	}
	return p.recorder.Session()
}

// Recordings lists persisted recordings, newest first.
func (s *Service) Recordings(ctx context.Context, limit int) ([]repository.Recording, error) {
	if s.store == nil {
		return nil, ErrNoRecordingStore
	}
	return s.store.List(ctx, limit)
}

// OpenRecording returns a persisted recording and a reader over its bytes.
func (s *Service) OpenRecording(ctx context.Context, id string) (repository.Recording, io.ReadCloser, error) {
	if s.store == nil {
		return repository.Recording{}, nil, ErrNoRecordingStore
	}
	return s.store.Open(ctx, id)
}

// DeleteRecording removes a persisted recording.
func (s *Service) DeleteRecording(ctx context.Context, id string) error {
	if s.store == nil {
		return ErrNoRecordingStore
	}
	return s.store.Delete(ctx, id)
}

// Devices enumerates capture devices.
func (s *Service) Devices() ([]camera.Device, error) {
	return camera.ListDevices()
}

// Stats summarizes the session for monitoring.
type Stats struct {
	Started         bool                 `json:"started"`
	Geometry        model.CanvasGeometry `json:"geometry"`
	Tracking        repository.Status    `json:"tracking"`
	TrackingError   string               `json:"tracking_error,omitempty"`
	Tracker         tracker.Stats        `json:"tracker"`
	Compositor      compositor.Stats     `json:"compositor"`
	Recorder        recorder.State       `json:"recorder"`
	Microphone      string               `json:"microphone,omitempty"`
	ActiveOverlays  []string             `json:"active_overlays"`
	Recordings      int                  `json:"recordings"`
	LastDeviceEvent *camera.DeviceEvent  `json:"last_device_event,omitempty"`
	Goroutines      int                  `json:"goroutines"`
}

// GetStats returns service statistics for monitoring and refreshes the
// process gauges.
func (s *Service) GetStats() Stats {
	st := Stats{ActiveOverlays: []string{}, Goroutines: runtime.NumGoroutine()}
	for _, a := range s.registry.Active() {
		st.ActiveOverlays = append(st.ActiveOverlays, a.Def.ID)
	}
	if s.mic != nil {
		st.Microphone = s.mic.State().String()
	}
	st.LastDeviceEvent = s.lastEvent.Load()
	if s.store != nil {
		if n, err := s.store.Count(context.Background()); err == nil {
			st.Recordings = n
		}
	}

	if p, err := s.current(); err == nil {
		st.Started = true
		st.Geometry = p.geometry
		st.Tracking = p.cache.Status()
		if p.trackingErr != nil {
			st.TrackingError = p.trackingErr.Error()
		}
		if p.tracker != nil {
			st.Tracker = p.tracker.Stats()
		}
		st.Compositor = p.compositor.Stats()
		st.Recorder = p.recorder.State()
	}

	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	metrics.UpdateSystemMemoryUsage(ms.Alloc)
	metrics.UpdateSystemGoroutineCount(st.Goroutines)
	if ms.NumGC > 0 {
		metrics.RecordSystemGCPauseTime(float64(ms.PauseNs[(ms.NumGC+255)%256]) / 1e6)
	}
	return st
}
