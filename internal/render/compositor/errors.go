package compositor

import "errors"

var (
	// ErrAlreadyRunning is returned by Start on a running compositor.
	ErrAlreadyRunning = errors.New("compositor already running")
	// ErrInvalidGeometry is returned for a canvas without area.
	ErrInvalidGeometry = errors.New("invalid canvas geometry")
	// ErrSizeMismatch is returned by Snapshot for a destination of the wrong size.
	ErrSizeMismatch = errors.New("snapshot size mismatch")
	// ErrNoFrame is returned by Snapshot before the first tick.
	ErrNoFrame = errors.New("no composite frame yet")
)
