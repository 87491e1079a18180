// Package encoder implements the recorder's encoder capability with an
// ffmpeg subprocess: raw RGBA frames go in on stdin, optional PCM audio on
// fd 3, and the container comes back on stdout.
package encoder

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"image"
	"io"
	"os"
	"os/exec"
	"sync"
	"sync/atomic"
	"time"

	"github.com/okian/facefx/internal/adapters/mq/worker"
	"github.com/okian/facefx/internal/recorder"
	"github.com/okian/facefx/pkg/logger"
	"github.com/okian/facefx/pkg/metrics"
)

const (
	DefaultCloseTimeout = 2 * time.Second
	probeTimeout        = 5 * time.Second
	readBufferSize      = 32 << 10
	audioBufferSize     = 4096
	defaultFPS          = 30
)

// Factory creates ffmpeg encoders.
type Factory struct {
	binary       string
	prefix       []string
	env          []string
	probe        bool
	closeTimeout time.Duration
	logger       logger.Logger

	probeOnce sync.Once
	available map[string]bool
}

// NewFactory returns a factory using the ffmpeg found on PATH.
func NewFactory(opts ...Option) *Factory {
	f := &Factory{
		binary:       "ffmpeg",
		probe:        true,
		closeTimeout: DefaultCloseTimeout,
		logger:       logger.Named("encoder"),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// IsTypeSupported reports whether ffmpeg has the video encoder the format needs.
func (f *Factory) IsTypeSupported(mime string) bool {
	c, ok := lookup(mime)
	if !ok {
		return false
	}
	if !f.probe {
		return true
	}
	f.probeOnce.Do(f.probeEncoders)
	return f.available[c.video]
}

func (f *Factory) probeEncoders() {
	ctx, cancel := context.WithTimeout(context.Background(), probeTimeout)
	defer cancel()
	args := append(append([]string{}, f.prefix...), "-hide_banner", "-encoders")
	cmd := exec.CommandContext(ctx, f.binary, args...)
	cmd.Env = append(os.Environ(), f.env...)
	out, err := cmd.Output()
	if err != nil {
		f.logger.Warn(ctx, "ffmpeg encoder probe failed", logger.String("binary", f.binary), logger.Error(err))
		f.available = map[string]bool{}
		return
	}
	f.available = parseEncoders(out)
	f.logger.Debug(ctx, "ffmpeg encoders probed", logger.Int("count", len(f.available)))
}

// New prepares an encoder; the process is spawned by Start.
func (f *Factory) New(tracks recorder.Tracks, opts recorder.EncoderOptions, h recorder.Handlers) (recorder.Encoder, error) {
	c, ok := lookup(opts.MimeType)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedFormat, opts.MimeType)
	}
	if tracks.Video == nil {
		return nil, fmt.Errorf("%w: no video track", ErrUnsupportedFormat)
	}
	inFPS := tracks.Video.FPS()
	if inFPS <= 0 {
		inFPS = defaultFPS
	}
	if opts.FPS <= 0 {
		opts.FPS = inFPS
	}
	return &FFmpeg{
		factory:   f,
		container: c,
		tracks:    tracks,
		opts:      opts,
		inFPS:     inFPS,
		h:         h,
		logger:    f.logger,
	}, nil
}

// FFmpeg is one encoding session.
type FFmpeg struct {
	factory   *Factory
	container container
	tracks    recorder.Tracks
	opts      recorder.EncoderOptions
	inFPS     int
	h         recorder.Handlers
	logger    logger.Logger

	mu      sync.Mutex
	started bool
	cmd     *exec.Cmd
	stdin   io.WriteCloser
	audioW  *os.File
	frames  *worker.Loop
	exited  chan struct{}

	paused   atomic.Bool
	stopping atomic.Bool
	stopOnce sync.Once
}

// Start spawns ffmpeg and begins feeding frames at the configured rate.
// Output is delivered through OnData about every timeslice.
func (e *FFmpeg) Start(timeslice time.Duration) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.started {
		return ErrAlreadyStarted
	}

	w, h := e.tracks.Video.Size()
	var af *recorder.AudioFormat
	if e.tracks.Audio != nil {
		f := e.tracks.Audio.Format()
		af = &f
	}
	args := append(append([]string{}, e.factory.prefix...), buildArgs(e.container, w, h, e.inFPS, e.opts, af)...)
	cmd := exec.Command(e.factory.binary, args...)
	cmd.Env = append(os.Environ(), e.factory.env...)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("ffmpeg stdin: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("ffmpeg stdout: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("ffmpeg stderr: %w", err)
	}
	var audioR *os.File
	if af != nil {
		pr, pw, err := os.Pipe()
		if err != nil {
			return fmt.Errorf("audio pipe: %w", err)
		}
		cmd.ExtraFiles = []*os.File{pr}
		audioR, e.audioW = pr, pw
	}
	if err := cmd.Start(); err != nil {
		if audioR != nil {
			_ = audioR.Close()
			_ = e.audioW.Close()
		}
		return fmt.Errorf("start ffmpeg: %w", err)
	}
	if audioR != nil {
		_ = audioR.Close()
	}

	e.cmd, e.stdin = cmd, stdin
	e.exited = make(chan struct{})
	out := make(chan []byte, 64)
	stderrDone := make(chan struct{})
	go e.readOutput(stdout, out)
	go e.logStderr(stderr, stderrDone)
	go e.emit(timeslice, out, stderrDone)

	buf := image.NewRGBA(image.Rect(0, 0, w, h))
	e.frames = worker.NewLoop(time.Second/time.Duration(e.inFPS),
		func(context.Context, time.Time) { e.pushFrame(buf) },
		worker.WithLoopName("encoder-frames"),
		worker.WithLoopLogger(e.logger))
	go e.frames.Run(context.Background())
	if af != nil {
		go e.pumpAudio()
	}
	e.started = true
	e.logger.Info(context.Background(), "ffmpeg started",
		logger.String("format", e.opts.MimeType),
		logger.Int("pid", cmd.Process.Pid),
		logger.Int("capture_fps", e.inFPS),
		logger.Int("fps", e.opts.FPS),
		logger.Bool("audio", af != nil))
	return nil
}

func (e *FFmpeg) pushFrame(buf *image.RGBA) {
	if e.paused.Load() || e.stopping.Load() {
		return
	}
	if _, err := e.tracks.Video.ReadFrame(buf); err != nil {
		return
	}
	if _, err := e.stdin.Write(buf.Pix); err != nil {
		metrics.RecordFrameDropped("encoder_write")
	}
}

func (e *FFmpeg) pumpAudio() {
	buf := make([]byte, audioBufferSize)
	for {
		n, err := e.tracks.Audio.Read(buf)
		if n > 0 && !e.paused.Load() {
			if _, werr := e.audioW.Write(buf[:n]); werr != nil {
				return
			}
		}
		if err != nil {
			return
		}
	}
}

func (e *FFmpeg) readOutput(r io.Reader, out chan<- []byte) {
	defer close(out)
	buf := make([]byte, readBufferSize)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			out <- append([]byte(nil), buf[:n]...)
		}
		if err != nil {
			return
		}
	}
}

func (e *FFmpeg) logStderr(r io.Reader, done chan<- struct{}) {
	defer close(done)
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		e.logger.Warn(context.Background(), "ffmpeg", logger.String("line", sc.Text()))
	}
}

// emit is the only goroutine that calls the handlers.
func (e *FFmpeg) emit(timeslice time.Duration, out <-chan []byte, stderrDone <-chan struct{}) {
	if timeslice <= 0 {
		timeslice = time.Second
	}
	t := time.NewTicker(timeslice)
	defer t.Stop()

	var pending bytes.Buffer
	flush := func() {
		if pending.Len() == 0 {
			return
		}
		chunk := append([]byte(nil), pending.Bytes()...)
		pending.Reset()
		e.h.OnData(chunk)
	}
	for {
		select {
		case b, ok := <-out:
			if !ok {
				flush()
				<-stderrDone
				e.finish()
				return
			}
			pending.Write(b)
		case <-t.C:
			flush()
		}
	}
}

func (e *FFmpeg) finish() {
	err := e.cmd.Wait()
	close(e.exited)
	if !e.stopping.Load() {
		if err == nil {
			err = io.ErrUnexpectedEOF
		}
		e.logger.Error(context.Background(), "ffmpeg exited while recording", logger.Error(err))
		metrics.RecordErrorByComponent("encoder", "process_exit")
		e.h.OnError(fmt.Errorf("%w: %w", ErrProcessFailed, err))
		return
	}
	if err != nil {
		e.logger.Warn(context.Background(), "ffmpeg exit after stop", logger.Error(err))
	}
	e.h.OnStop()
}

// Pause stops feeding frames and audio; ffmpeg timestamps follow frame
// count, so the gap does not appear in the output.
func (e *FFmpeg) Pause() error {
	if !e.isStarted() {
		return ErrNotStarted
	}
	e.paused.Store(true)
	return nil
}

// Resume continues feeding frames.
func (e *FFmpeg) Resume() error {
	if !e.isStarted() {
		return ErrNotStarted
	}
	e.paused.Store(false)
	return nil
}

// Stop closes the inputs so ffmpeg finalizes the container. OnStop follows
// the last chunk. ffmpeg is killed if it does not exit within the close timeout.
func (e *FFmpeg) Stop() error {
	if !e.isStarted() {
		return ErrNotStarted
	}
	e.stopOnce.Do(func() {
		e.stopping.Store(true)
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		_ = e.frames.Shutdown(ctx)
		cancel()
		_ = e.stdin.Close()
		if e.audioW != nil {
			_ = e.audioW.Close()
		}
		time.AfterFunc(e.factory.closeTimeout, func() {
			select {
			case <-e.exited:
			default:
				e.logger.Warn(context.Background(), "ffmpeg did not exit, killing")
				_ = e.cmd.Process.Kill()
			}
		})
	})
	return nil
}

func (e *FFmpeg) isStarted() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.started
}
