package repository

import "errors"

var (
	// ErrNotFound is returned for an unknown recording id.
	ErrNotFound = errors.New("recording not found")
	// ErrInvalidLimit is returned for a negative list limit.
	ErrInvalidLimit = errors.New("invalid list limit")
	// ErrInvalidRecording is returned when required recording fields are missing.
	ErrInvalidRecording = errors.New("invalid recording")
)
