// Package capture provides the camera side of the pipeline: device
// selection, a capture session with an explicit lifecycle, and push-based
// frame delivery to a single subscriber.
//
// This package supports multiple backends:
//   - gocv (Linux/macOS) - local V4L2/AVFoundation cameras via OpenCV
//   - remote - a camera streamed over WebRTC
//   - Mock - CI/Testing without hardware
//
// Concrete drivers for gocv and remote cameras live in the device and remote
// subpackages so this package builds without cgo.
package capture

import (
	"fmt"
	"strings"
	"time"
)

// Backend represents the capture backend type.
type Backend string

const (
	// BackendAuto automatically selects the best available backend.
	BackendAuto Backend = "auto"
	// BackendGoCV uses OpenCV VideoCapture devices.
	BackendGoCV Backend = "gocv"
	// BackendRemote uses a remote WebRTC camera.
	BackendRemote Backend = "remote"
	// BackendMock uses a mock implementation for testing.
	BackendMock Backend = "mock"
)

// Position is the physical placement of a camera.
type Position string

const (
	PositionUnspecified Position = "unspecified"
	PositionBack        Position = "back"
	PositionFront       Position = "front"
	PositionExternal    Position = "external"
)

// ParsePosition maps a name to a Position.
func ParsePosition(s string) (Position, error) {
	switch p := Position(strings.ToLower(strings.TrimSpace(s))); p {
	case "", PositionUnspecified:
		return PositionUnspecified, nil
	case PositionBack, PositionFront, PositionExternal:
		return p, nil
	case "rear":
		return PositionBack, nil
	default:
		return "", fmt.Errorf("unknown camera position %q", s)
	}
}

// DeviceType is the lens class of a camera.
type DeviceType string

const (
	DeviceWideAngle  DeviceType = "wide-angle"
	DeviceUltraWide  DeviceType = "ultra-wide"
	DeviceTelephoto  DeviceType = "telephoto"
	DeviceTypeExtern DeviceType = "external"
)

// PixelFormat is the in-memory layout of frame data.
type PixelFormat string

const (
	// FormatBGRA32 is 8-bit interleaved B, G, R, A.
	FormatBGRA32 PixelFormat = "bgra32"
	// FormatBGR24 is 8-bit interleaved B, G, R.
	FormatBGR24 PixelFormat = "bgr24"
	// FormatRGB24 is 8-bit interleaved R, G, B.
	FormatRGB24 PixelFormat = "rgb24"
)

// BytesPerPixel returns the pixel size, or 0 for an unknown format.
func (f PixelFormat) BytesPerPixel() int {
	switch f {
	case FormatBGRA32:
		return 4
	case FormatBGR24, FormatRGB24:
		return 3
	default:
		return 0
	}
}

// Orientation is the orientation of the output connection.
type Orientation string

const (
	OrientationPortrait       Orientation = "portrait"
	OrientationLandscapeLeft  Orientation = "landscape-left"
	OrientationLandscapeRight Orientation = "landscape-right"
)

// Config holds capture configuration.
type Config struct {
	// Backend specifies which capture backend to use.
	// Default: "auto"
	Backend Backend `json:"backend"`

	// Position is the preferred physical camera position.
	// Default: "back"
	Position Position `json:"position"`

	// Format is the requested pixel format.
	// Default: "bgra32"
	Format PixelFormat `json:"format"`

	// Orientation of delivered frames.
	// Default: "portrait"
	Orientation Orientation `json:"orientation"`

	// Width and Height request a sensor resolution. Drivers may deliver a
	// different size; Frame always carries the real one.
	Width  int `json:"width"`
	Height int `json:"height"`

	// Framerate is the target frames per second.
	Framerate int `json:"framerate"`

	// ReadBackoff is how long delivery waits after a failed read.
	ReadBackoff time.Duration `json:"read_backoff"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Backend:     BackendAuto,
		Position:    PositionBack,
		Format:      FormatBGRA32,
		Orientation: OrientationPortrait,
		Width:       1280,
		Height:      720,
		Framerate:   30,
		ReadBackoff: 100 * time.Millisecond,
	}
}

// Validate checks that the configuration is valid.
func (c *Config) Validate() error {
	if c.Format.BytesPerPixel() == 0 {
		return fmt.Errorf("format %q is not supported", c.Format)
	}
	switch c.Orientation {
	case OrientationPortrait, OrientationLandscapeLeft, OrientationLandscapeRight:
	default:
		return fmt.Errorf("orientation %q is not supported", c.Orientation)
	}
	if c.Width <= 0 || c.Height <= 0 {
		return fmt.Errorf("resolution must be positive, got %dx%d", c.Width, c.Height)
	}
	if c.Framerate <= 0 {
		return fmt.Errorf("framerate must be positive, got %d", c.Framerate)
	}
	return nil
}

// FrameInterval returns the time between frames at the configured rate.
func (c *Config) FrameInterval() time.Duration {
	if c.Framerate <= 0 {
		return time.Second / 30
	}
	return time.Second / time.Duration(c.Framerate)
}
