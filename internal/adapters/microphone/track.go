package microphone

import (
	"io"
	"sync"
	"time"

	"github.com/okian/facefx/internal/recorder"
)

// pcmTrack hands captured PCM to one reader. Data pushed while the reader
// lags more than the buffer is dropped.
type pcmTrack struct {
	format recorder.AudioFormat
	data   chan []byte
	done   chan struct{}
	once   sync.Once

	mu      sync.Mutex
	rest    []byte
	samples int64
}

func newTrack(f recorder.AudioFormat) *pcmTrack {
	return &pcmTrack{format: f, data: make(chan []byte, 64), done: make(chan struct{})}
}

func (t *pcmTrack) Format() recorder.AudioFormat { return t.format }

func (t *pcmTrack) push(b []byte) bool {
	select {
	case <-t.done:
		return false
	default:
	}
	select {
	case t.data <- b:
		return true
	default:
		return false
	}
}

func (t *pcmTrack) Read(p []byte) (int, error) {
	t.mu.Lock()
	rest := t.rest
	t.mu.Unlock()
	if len(rest) == 0 {
		select {
		case b := <-t.data:
			rest = b
		case <-t.done:
			return 0, io.EOF
		}
	}
	n := copy(p, rest)
	t.mu.Lock()
	t.rest = rest[n:]
	t.samples += int64(n / (2 * t.format.Channels))
	t.mu.Unlock()
	return n, nil
}

// Timestamp is the media time of the samples read so far.
func (t *pcmTrack) Timestamp() time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	return time.Duration(t.samples) * time.Second / time.Duration(t.format.SampleRate)
}

func (t *pcmTrack) close() {
	t.once.Do(func() { close(t.done) })
}
