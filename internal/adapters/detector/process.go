// Package detector runs an external face landmark detector as a subprocess.
// Frames go to its stdin as JPEG, results come back on stdout, and anything
// it writes to stderr is logged.
package detector

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/okian/facefx/internal/domain/model"
	"github.com/okian/facefx/pkg/logger"
	"github.com/okian/facefx/pkg/metrics"
)

const (
	defaultInitTimeout  = 10 * time.Second
	defaultWriteTimeout = 2 * time.Second
	defaultCloseTimeout = 2 * time.Second
	defaultJPEGQuality  = 80
)

type result struct {
	resp response
	err  error
}

// Process is a landmark detector backed by a long-running subprocess.
// Requests are matched to responses by sequence number, so several may be
// outstanding, although the tracker sends one at a time.
type Process struct {
	command string
	args    []string
	env     []string
	dir     string

	codecName    string
	codec        Codec
	initTimeout  time.Duration
	writeTimeout time.Duration
	closeTimeout time.Duration
	quality      int
	log          logger.Logger

	mu      sync.Mutex
	started bool
	cmd     *exec.Cmd
	stdin   io.WriteCloser
	cancel  context.CancelFunc
	pending map[uint64]chan result

	writeMu   sync.Mutex
	seq       atomic.Uint64
	ready     chan struct{}
	readyOnce sync.Once
	exited    chan struct{}
	exitErr   error
	closeOnce sync.Once
	wg        sync.WaitGroup
}

// New configures a detector that runs command with args. Nothing is started
// until Init.
func New(command string, args []string, opts ...Option) *Process {
	p := &Process{
		command:      command,
		args:         append([]string(nil), args...),
		initTimeout:  defaultInitTimeout,
		writeTimeout: defaultWriteTimeout,
		closeTimeout: defaultCloseTimeout,
		quality:      defaultJPEGQuality,
		log:          logger.Named("detector"),
		pending:      make(map[uint64]chan result),
		ready:        make(chan struct{}),
		exited:       make(chan struct{}),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Init starts the process and waits for its ready message.
func (p *Process) Init(ctx context.Context) error {
	codec, err := NewCodec(p.codecName)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInitFailed, err)
	}

	p.mu.Lock()
	if p.started {
		p.mu.Unlock()
		return ErrAlreadyStarted
	}
	p.started = true
	p.codec = codec
	if err := p.spawn(); err != nil {
		p.mu.Unlock()
		close(p.exited)
		return fmt.Errorf("%w: %w", ErrInitFailed, err)
	}
	p.mu.Unlock()

	timer := time.NewTimer(p.initTimeout)
	defer timer.Stop()
	select {
	case <-p.ready:
		p.log.Info(ctx, "detector ready",
			logger.String("command", p.command),
			logger.String("codec", codec.Name()),
			logger.Int("pid", p.cmd.Process.Pid))
		return nil
	case <-p.exited:
		return fmt.Errorf("%w: %w: %v", ErrInitFailed, ErrProcessExited, p.exitErr)
	case <-timer.C:
		_ = p.Close()
		return fmt.Errorf("%w: no ready message within %s", ErrInitFailed, p.initTimeout)
	case <-ctx.Done():
		_ = p.Close()
		return fmt.Errorf("%w: %w", ErrInitFailed, ctx.Err())
	}
}

// spawn starts the process and its pipe goroutines. Callers hold mu.
func (p *Process) spawn() error {
	pctx, cancel := context.WithCancel(context.Background())
	cmd := exec.CommandContext(pctx, p.command, p.args...)
	cmd.Dir = p.dir
	if len(p.env) > 0 {
		cmd.Env = append(os.Environ(), p.env...)
	}
	stdin, err := cmd.StdinPipe()
	if err != nil {
		cancel()
		return fmt.Errorf("stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		cancel()
		return fmt.Errorf("stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		cancel()
		return fmt.Errorf("stderr pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		cancel()
		return fmt.Errorf("start %s: %w", p.command, err)
	}
	p.cmd, p.stdin, p.cancel = cmd, stdin, cancel

	var pipes sync.WaitGroup
	pipes.Add(2)
	go func() {
		defer pipes.Done()
		p.readResults(stdout)
	}()
	go func() {
		defer pipes.Done()
		p.logStderr(stderr)
	}()
	p.wg.Add(1)
	go p.waitProcess(&pipes)
	return nil
}

// Detect sends img and waits for its result. A nil detection means no face.
func (p *Process) Detect(ctx context.Context, img image.Image) (*model.Detection, error) {
	select {
	case <-p.ready:
	default:
		return nil, ErrNotStarted
	}
	select {
	case <-p.exited:
		return nil, ErrProcessExited
	default:
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: p.quality}); err != nil {
		return nil, fmt.Errorf("encode frame: %w", err)
	}
	b := img.Bounds()
	req := request{
		Seq:    p.seq.Add(1),
		Width:  b.Dx(),
		Height: b.Dy(),
		Format: "jpeg",
		Data:   buf.Bytes(),
	}

	ch := make(chan result, 1)
	p.mu.Lock()
	p.pending[req.Seq] = ch
	p.mu.Unlock()

	if err := p.write(ctx, req); err != nil {
		p.forget(req.Seq)
		return nil, err
	}

	var r result
	select {
	case r = <-ch:
	case <-p.exited:
		// the reader may have delivered just before the process went away
		select {
		case r = <-ch:
		default:
			p.forget(req.Seq)
			return nil, ErrProcessExited
		}
	case <-ctx.Done():
		p.forget(req.Seq)
		return nil, ctx.Err()
	}
	if r.err != nil {
		return nil, r.err
	}
	if r.resp.Err != "" {
		return nil, fmt.Errorf("%w: %s", ErrRemote, r.resp.Err)
	}
	if len(r.resp.Faces) == 0 {
		return nil, nil
	}
	face := r.resp.Faces[0]
	return &face, nil
}

// write sends req, giving up after the write timeout.
func (p *Process) write(ctx context.Context, req request) error {
	done := make(chan error, 1)
	go func() {
		p.writeMu.Lock()
		defer p.writeMu.Unlock()
		done <- p.codec.WriteRequest(p.stdin, req)
	}()
	timer := time.NewTimer(p.writeTimeout)
	defer timer.Stop()
	select {
	case err := <-done:
		if err != nil {
			return fmt.Errorf("write request: %w", err)
		}
		return nil
	case <-timer.C:
		metrics.RecordErrorByComponent("detector", "write_timeout")
		return ErrWriteTimeout
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *Process) forget(seq uint64) {
	p.mu.Lock()
	delete(p.pending, seq)
	p.mu.Unlock()
}

// readResults dispatches responses until stdout closes, then fails whatever
// is still pending.
func (p *Process) readResults(stdout io.Reader) {
	br := bufio.NewReaderSize(stdout, 1<<16)
	defer p.failPending(ErrProcessExited)
	for {
		resp, err := p.codec.ReadResponse(br)
		if err != nil {
			if errors.Is(err, errMalformed) {
				p.log.Warn(context.Background(), "skipping detector output", logger.Error(err))
				continue
			}
			if !errors.Is(err, io.EOF) && !errors.Is(err, os.ErrClosed) {
				p.log.Error(context.Background(), "detector stdout read failed", logger.Error(err))
			}
			return
		}
		if resp.Ready {
			p.readyOnce.Do(func() { close(p.ready) })
			continue
		}
		p.mu.Lock()
		ch, ok := p.pending[resp.Seq]
		delete(p.pending, resp.Seq)
		p.mu.Unlock()
		if !ok {
			p.log.Debug(context.Background(), "late detector result", logger.Uint64("seq", resp.Seq))
			continue
		}
		ch <- result{resp: resp}
	}
}

func (p *Process) failPending(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for seq, ch := range p.pending {
		ch <- result{err: err}
		delete(p.pending, seq)
	}
}

// logStderr forwards stderr lines, mapping level markers to log levels.
func (p *Process) logStderr(stderr io.Reader) {
	ctx := context.Background()
	sc := bufio.NewScanner(stderr)
	for sc.Scan() {
		line := sc.Text()
		switch {
		case strings.Contains(line, "[ERROR]"), strings.Contains(line, "[CRITICAL]"):
			p.log.Error(ctx, "detector stderr", logger.String("line", line))
		case strings.Contains(line, "[WARNING]"), strings.Contains(line, "[WARN]"):
			p.log.Warn(ctx, "detector stderr", logger.String("line", line))
		default:
			p.log.Debug(ctx, "detector stderr", logger.String("line", line))
		}
	}
}

// waitProcess reaps the process once both output pipes are drained.
func (p *Process) waitProcess(pipes *sync.WaitGroup) {
	defer p.wg.Done()
	pipes.Wait()
	err := p.cmd.Wait()
	p.exitErr = err
	close(p.exited)
	if err != nil {
		p.log.Warn(context.Background(), "detector process exited",
			logger.Int("pid", p.cmd.Process.Pid), logger.Error(err))
		metrics.RecordErrorByComponent("detector", "process_exit")
		return
	}
	p.log.Info(context.Background(), "detector process exited", logger.Int("pid", p.cmd.Process.Pid))
}

// Close closes stdin, waits for the process to exit and kills it after the
// close timeout.
func (p *Process) Close() error {
	p.closeOnce.Do(func() {
		p.mu.Lock()
		started := p.cmd != nil
		p.mu.Unlock()
		if !started {
			return
		}
		_ = p.stdin.Close()
		timer := time.NewTimer(p.closeTimeout)
		defer timer.Stop()
		select {
		case <-p.exited:
		case <-timer.C:
			p.log.Warn(context.Background(), "detector did not exit, killing")
			p.cancel()
		}
		p.wg.Wait()
		p.cancel()
	})
	return nil
}
