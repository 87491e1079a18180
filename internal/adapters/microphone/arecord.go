// Package microphone captures PCM audio from an ALSA device through the
// arecord tool and exposes it as a recorder audio track.
package microphone

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/okian/facefx/internal/recorder"
	"github.com/okian/facefx/pkg/logger"
	"github.com/okian/facefx/pkg/metrics"
)

const (
	DefaultDevice        = "default"
	DefaultSampleRate    = 48000
	DefaultChannels      = 1
	DefaultAccessTimeout = 3 * time.Second
	defaultMaxRecorded   = 64 << 20
	framesPerSecond      = 50 // 20 ms reads
	closeTimeout         = 2 * time.Second
)

var _ recorder.Microphone = (*ARecord)(nil)

// ARecord is a microphone backed by an arecord subprocess.
type ARecord struct {
	binary        string
	prefix        []string
	env           []string
	device        string
	format        recorder.AudioFormat
	accessTimeout time.Duration
	maxRecorded   int
	logger        logger.Logger

	mu        sync.Mutex
	state     recorder.MicState
	cmd       *exec.Cmd
	exited    chan struct{}
	track     *pcmTrack
	recording bool
	paused    bool
	closing   bool
	recorded  []byte
}

// New returns an idle microphone; RequestAccess opens the device.
func New(opts ...Option) *ARecord {
	m := &ARecord{
		binary:        "arecord",
		device:        DefaultDevice,
		format:        recorder.AudioFormat{SampleRate: DefaultSampleRate, Channels: DefaultChannels},
		accessTimeout: DefaultAccessTimeout,
		maxRecorded:   defaultMaxRecorded,
		logger:        logger.Named("microphone"),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.format.Device = m.device
	return m
}

func (m *ARecord) captureArgs() []string {
	return append(append([]string{}, m.prefix...),
		"-q",
		"-D", m.device,
		"-f", "S16_LE",
		"-r", strconv.Itoa(m.format.SampleRate),
		"-c", strconv.Itoa(m.format.Channels),
		"-t", "raw")
}

// Format returns the capture format.
func (m *ARecord) Format() recorder.AudioFormat { return m.format }

// State returns the current microphone state.
func (m *ARecord) State() recorder.MicState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// RequestAccess starts capture and waits for the first samples. Failures
// leave the microphone in MicError and match ErrMicrophoneUnavailable.
func (m *ARecord) RequestAccess(ctx context.Context) error {
	m.mu.Lock()
	switch m.state {
	case recorder.MicReady:
		m.mu.Unlock()
		return nil
	case recorder.MicInitializing:
		m.mu.Unlock()
		return fmt.Errorf("%w: access request in progress", ErrNotReady)
	}
	m.state = recorder.MicInitializing
	m.closing = false
	m.mu.Unlock()

	cmd := exec.Command(m.binary, m.captureArgs()...)
	cmd.Env = append(os.Environ(), m.env...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return m.fail(ctx, errors.Wrap(ErrDeviceUnavailable, err.Error()))
	}
	if err := cmd.Start(); err != nil {
		return m.fail(ctx, errors.Wrap(ErrDeviceUnavailable, err.Error()))
	}

	first := make(chan struct{})
	exited := make(chan struct{})
	go m.capture(cmd, stdout, first, exited)

	timer := time.NewTimer(m.accessTimeout)
	defer timer.Stop()
	select {
	case <-first:
		select {
		case <-exited:
			return m.fail(ctx, errors.Wrap(ErrDeviceUnavailable, "capture exited after first samples"))
		default:
		}
		m.mu.Lock()
		m.cmd, m.exited = cmd, exited
		m.track = newTrack(m.format)
		m.state = recorder.MicReady
		m.mu.Unlock()
		m.logger.Info(ctx, "microphone ready",
			logger.String("device", m.device),
			logger.Int("sample_rate", m.format.SampleRate),
			logger.Int("channels", m.format.Channels))
		return nil
	case <-exited:
		msg := strings.TrimSpace(stderr.String())
		if msg == "" {
			msg = "capture exited"
		}
		return m.fail(ctx, errors.Wrap(classify(msg), msg))
	case <-timer.C:
		_ = cmd.Process.Kill()
		return m.fail(ctx, errors.Wrap(ErrDeviceUnavailable, "no samples within "+m.accessTimeout.String()))
	case <-ctx.Done():
		_ = cmd.Process.Kill()
		return m.fail(ctx, errors.Wrap(ErrDeviceUnavailable, ctx.Err().Error()))
	}
}

func (m *ARecord) fail(ctx context.Context, err error) error {
	m.mu.Lock()
	m.state = recorder.MicError
	m.mu.Unlock()
	metrics.RecordErrorByComponent("microphone", "access")
	m.logger.Warn(ctx, "microphone access failed", logger.String("device", m.device), logger.Error(err))
	return err
}

func (m *ARecord) capture(cmd *exec.Cmd, r io.Reader, first, exited chan struct{}) {
	defer close(exited)
	size := m.format.SampleRate / framesPerSecond * m.format.Channels * 2
	buf := make([]byte, size)
	var once sync.Once
	for {
		n, err := io.ReadFull(r, buf)
		if n > 0 {
			once.Do(func() { close(first) })
			m.deliver(buf[:n])
		}
		if err != nil {
			break
		}
	}
	werr := cmd.Wait()

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cmd != cmd {
		return
	}
	if m.track != nil {
		m.track.close()
	}
	if m.closing {
		m.state = recorder.MicUninitialized
		return
	}
	m.state = recorder.MicError
	metrics.RecordErrorByComponent("microphone", "device_lost")
	m.logger.Warn(context.Background(), "microphone capture ended", logger.Error(werr))
}

func (m *ARecord) deliver(b []byte) {
	m.mu.Lock()
	if !m.recording || m.paused || m.track == nil {
		m.mu.Unlock()
		return
	}
	if len(m.recorded)+len(b) <= m.maxRecorded {
		m.recorded = append(m.recorded, b...)
	}
	t := m.track
	m.mu.Unlock()
	t.push(append([]byte(nil), b...))
}

// AudioTrack returns the live track while the microphone is ready.
func (m *ARecord) AudioTrack() recorder.AudioTrack {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != recorder.MicReady || m.track == nil {
		return nil
	}
	return m.track
}

// StartRecording begins feeding the audio track and the recorded buffer.
func (m *ARecord) StartRecording() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != recorder.MicReady {
		return fmt.Errorf("%w: state %s", ErrNotReady, m.state)
	}
	m.recording, m.paused = true, false
	m.recorded = m.recorded[:0]
	return nil
}

// PauseRecording drops samples until ResumeRecording.
func (m *ARecord) PauseRecording() {
	m.mu.Lock()
	m.paused = true
	m.mu.Unlock()
}

// ResumeRecording continues feeding samples.
func (m *ARecord) ResumeRecording() {
	m.mu.Lock()
	m.paused = false
	m.mu.Unlock()
}

// StopRecording ends the current track; the next recording gets a fresh one.
func (m *ARecord) StopRecording() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.recording {
		return nil
	}
	m.recording, m.paused = false, false
	if m.track != nil {
		m.track.close()
	}
	if m.state == recorder.MicReady {
		m.track = newTrack(m.format)
	}
	return nil
}

// RecordedAudio returns a copy of the PCM captured by the last recording.
func (m *ARecord) RecordedAudio() []byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]byte(nil), m.recorded...)
}

// Close stops capture and releases the device.
func (m *ARecord) Close() error {
	m.mu.Lock()
	cmd, exited := m.cmd, m.exited
	m.closing = true
	m.recording = false
	if m.track != nil {
		m.track.close()
	}
	m.mu.Unlock()
	if cmd == nil {
		return nil
	}
	_ = cmd.Process.Kill()
	select {
	case <-exited:
	case <-time.After(closeTimeout):
		return fmt.Errorf("arecord did not exit within %s", closeTimeout)
	}
	m.mu.Lock()
	m.cmd, m.track, m.state = nil, nil, recorder.MicUninitialized
	m.mu.Unlock()
	return nil
}
