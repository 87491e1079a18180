package camera

import (
	stderrors "errors"
	"fmt"
	"os"
	"syscall"
)

var (
	// ErrCameraUnavailable matches every fatal capture failure.
	ErrCameraUnavailable = stderrors.New("camera unavailable")
	// ErrPermissionDenied is returned when the device cannot be opened for lack of rights.
	ErrPermissionDenied = fmt.Errorf("%w: permission denied", ErrCameraUnavailable)
	// ErrDeviceUnavailable is returned when the device does not exist or cannot stream.
	ErrDeviceUnavailable = fmt.Errorf("%w: device unavailable", ErrCameraUnavailable)
	// ErrDeviceBusy is returned when another process holds the device.
	ErrDeviceBusy = fmt.Errorf("%w: device busy", ErrCameraUnavailable)

	// ErrAlreadyOpen is returned by Open on a source that is already streaming.
	ErrAlreadyOpen = stderrors.New("camera already open")
)

// classify maps an OS-level open error onto the camera error kinds.
func classify(err error) error {
	if err == nil {
		return nil
	}
	var kind error
	switch {
	case stderrors.Is(err, ErrCameraUnavailable):
		return err
	case os.IsPermission(err), stderrors.Is(err, syscall.EACCES), stderrors.Is(err, syscall.EPERM):
		kind = ErrPermissionDenied
	case stderrors.Is(err, syscall.EBUSY):
		kind = ErrDeviceBusy
	default:
		kind = ErrDeviceUnavailable
	}
	return fmt.Errorf("%w: %v", kind, err)
}
