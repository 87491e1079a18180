package recorder

import "errors"

var (
	// ErrEncoderUnsupported means no acceptable container format is available.
	// The session is not started.
	ErrEncoderUnsupported = errors.New("no supported recording format")
	// ErrEncoderError wraps encoder failures at start or while recording.
	ErrEncoderError = errors.New("encoder error")
	// ErrInvalidState is returned for a transition the current state does not allow.
	ErrInvalidState = errors.New("invalid recorder state")
	// ErrNoSource is returned when the composite canvas has no geometry yet.
	ErrNoSource = errors.New("composite source not running")
	// ErrUnknownPreset is returned for an unknown quality preset name.
	ErrUnknownPreset = errors.New("unknown quality preset")
)
