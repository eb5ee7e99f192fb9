package capture

import (
	"context"
	"io"
)

// Driver enumerates and opens cameras for one backend.
type Driver interface {
	// Name returns the backend name (e.g., "gocv", "remote", "mock").
	Name() string

	// Devices lists the cameras currently available.
	Devices(ctx context.Context) ([]Device, error)

	// Open opens dev as a session input delivering frames per cfg.
	Open(ctx context.Context, dev Device, cfg Config) (Input, error)
}

// Input is an open camera. Read and Close are never called concurrently
// with each other by the Session, but Close may be called while no Read is
// in flight from another goroutine.
type Input interface {
	// Read blocks until the next frame is available.
	// Returns io.EOF when the input has no more frames.
	Read(ctx context.Context) (Frame, error)

	// Close releases the device.
	io.Closer
}

// SelectDevice picks the first wide-angle device at position.
// PositionUnspecified matches any position.
func SelectDevice(devices []Device, position Position) (Device, error) {
	for _, d := range devices {
		if d.Type != DeviceWideAngle {
			continue
		}
		if position == PositionUnspecified || d.Position == position {
			return d, nil
		}
	}
	return Device{}, ErrNoDeviceAvailable
}
