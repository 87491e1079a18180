package microphone

import (
	stderrors "errors"
	"fmt"
	"strings"
)

var (
	// ErrMicrophoneUnavailable matches every capture failure.
	ErrMicrophoneUnavailable = stderrors.New("microphone unavailable")
	// ErrPermissionDenied is returned when the capture device refuses access.
	ErrPermissionDenied = fmt.Errorf("%w: permission denied", ErrMicrophoneUnavailable)
	// ErrDeviceBusy is returned when another process holds the device.
	ErrDeviceBusy = fmt.Errorf("%w: device busy", ErrMicrophoneUnavailable)
	// ErrDeviceUnavailable covers missing devices and early capture exits.
	ErrDeviceUnavailable = fmt.Errorf("%w: device unavailable", ErrMicrophoneUnavailable)
	// ErrNotReady is returned by StartRecording before access was granted.
	ErrNotReady = stderrors.New("microphone not ready")
)

// classify maps arecord's diagnostic onto the error kinds.
func classify(msg string) error {
	lower := strings.ToLower(msg)
	switch {
	case strings.Contains(lower, "permission denied"):
		return ErrPermissionDenied
	case strings.Contains(lower, "busy"):
		return ErrDeviceBusy
	default:
		return ErrDeviceUnavailable
	}
}
