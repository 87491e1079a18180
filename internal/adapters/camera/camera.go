// Package camera provides frame sources: a V4L2 webcam and a synthetic
// pattern generator. Frames are published in native orientation; the mirror
// flag only tells presentation code to flip the preview.
package camera

import (
	"context"
	"time"

	"github.com/okian/facefx/internal/adapters/mq/mailbox"
	"github.com/okian/facefx/internal/domain/model"
)

// Stream is a live subscription point for frames.
type Stream interface {
	Subscribe(name string) mailbox.ReadFunc
	Unsubscribe(name string)
	Latest() *model.Frame
}

// Source produces frames from a device.
type Source interface {
	// Open starts capture. An empty deviceID selects the configured default.
	Open(ctx context.Context, deviceID string) (Stream, error)
	Close() error
	Meta() model.FrameMeta
	// Events reports device changes such as loss of the open device.
	Events() <-chan DeviceEvent
}

// EventType classifies a DeviceEvent.
type EventType string

const (
	DeviceLost   EventType = "device_lost"
	DeviceOpened EventType = "device_opened"
	DeviceClosed EventType = "device_closed"
)

// DeviceEvent is emitted on device state changes.
type DeviceEvent struct {
	Type   EventType `json:"type"`
	Device string    `json:"device"`
	Err    error     `json:"-"`
	At     time.Time `json:"at"`
}

// emit sends without blocking; listeners that fall behind miss events.
func emit(ch chan DeviceEvent, ev DeviceEvent) {
	select {
	case ch <- ev:
	default:
	}
}
