package drive

import "errors"

var (
	// ErrUnexpectedStatus is returned when the service answers with another status.
	ErrUnexpectedStatus = errors.New("unexpected status")
	// ErrVerification is returned when the run finishes with inconsistent results.
	ErrVerification = errors.New("verification failed")
)
