package tracker

import "errors"

var (
	// ErrTrackerUnavailable means the detector could not be initialized.
	// Tracking stays off; overlays see no landmarks.
	ErrTrackerUnavailable = errors.New("tracker unavailable")
	// ErrFrameDropped is returned by Offer while a detection is in flight.
	ErrFrameDropped = errors.New("frame dropped: detection in flight")
	// ErrAlreadyAttached is returned by Attach on an attached adapter.
	ErrAlreadyAttached = errors.New("tracker already attached")
)
