package encoder

import "errors"

var (
	// ErrUnsupportedFormat is returned by New for a MIME type with no known codec.
	ErrUnsupportedFormat = errors.New("unsupported container format")
	// ErrNotStarted is returned when Pause, Resume or Stop precede Start.
	ErrNotStarted = errors.New("encoder not started")
	// ErrAlreadyStarted is returned by a second Start.
	ErrAlreadyStarted = errors.New("encoder already started")
	// ErrProcessFailed reports an ffmpeg exit that was not requested.
	ErrProcessFailed = errors.New("ffmpeg exited unexpectedly")
)
