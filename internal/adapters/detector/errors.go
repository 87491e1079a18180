package detector

import "errors"

var (
	// ErrNotStarted is returned by Detect before Init succeeded.
	ErrNotStarted = errors.New("detector not started")
	// ErrAlreadyStarted is returned by a second Init.
	ErrAlreadyStarted = errors.New("detector already started")
	// ErrInitFailed wraps every Init failure.
	ErrInitFailed = errors.New("detector init failed")
	// ErrProcessExited is returned for requests outstanding when the process dies.
	ErrProcessExited = errors.New("detector process exited")
	// ErrWriteTimeout is returned when the process stops reading its input.
	ErrWriteTimeout = errors.New("detector write timeout")
	// ErrRemote wraps an error reported by the detector for one frame.
	ErrRemote = errors.New("detector error")
	// ErrUnknownCodec is returned for an unsupported wire codec name.
	ErrUnknownCodec = errors.New("unknown detector codec")

	errMalformed = errors.New("malformed detector message")
)
