package service

import "errors"

var (
	// ErrNotStarted is returned by session operations before Start.
	ErrNotStarted = errors.New("service not started")
	// ErrNoRecordingStore is returned when recordings are requested without a catalog.
	ErrNoRecordingStore = errors.New("no recording store configured")
	// ErrMissingDependency is returned by Start when a required adapter is absent.
	ErrMissingDependency = errors.New("missing dependency")
)
