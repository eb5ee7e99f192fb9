package capture

import "errors"

var (
	// ErrNoDeviceAvailable is returned when no wide-angle camera exists at
	// the requested position.
	ErrNoDeviceAvailable = errors.New("capture: no device available")

	// ErrInputRejected is returned when the selected device cannot be opened
	// as a session input.
	ErrInputRejected = errors.New("capture: input rejected")

	// ErrUnsupportedOrientation is returned when the device cannot deliver
	// frames in the requested orientation.
	ErrUnsupportedOrientation = errors.New("capture: unsupported orientation")

	// ErrUnsupportedPixelFormat is returned when the device cannot deliver
	// the requested pixel format.
	ErrUnsupportedPixelFormat = errors.New("capture: unsupported pixel format")

	// ErrNotConfigured is returned by Start before a successful Configure.
	ErrNotConfigured = errors.New("capture: session not configured")

	// ErrTornDown is returned by any operation after Teardown.
	ErrTornDown = errors.New("capture: session torn down")

	// ErrInvalidTransition is returned when an operation is not allowed in
	// the current state.
	ErrInvalidTransition = errors.New("capture: invalid state transition")
)
