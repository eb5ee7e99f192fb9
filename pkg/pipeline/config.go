// Package pipeline wires a capture session, a detection adapter and an
// overlay renderer into one live detection screen.
package pipeline

import (
	"errors"
	"fmt"
	"strings"

	"github.com/teslashibe/go-humanrect/pkg/capture"
	"github.com/teslashibe/go-humanrect/pkg/overlay"
)

// ErrClosed is returned by operations on a closed controller.
var ErrClosed = errors.New("pipeline: controller closed")

// Backpressure is what happens to a frame when every detection worker is busy.
type Backpressure string

const (
	// BackpressureDrop drops the new frame.
	BackpressureDrop Backpressure = "drop"
	// BackpressureLatest keeps one pending frame, replacing an older one.
	BackpressureLatest Backpressure = "latest"
)

// ParseBackpressure maps a name to a Backpressure.
func ParseBackpressure(s string) (Backpressure, error) {
	switch b := Backpressure(strings.ToLower(strings.TrimSpace(s))); b {
	case "":
		return BackpressureDrop, nil
	case BackpressureDrop, BackpressureLatest:
		return b, nil
	default:
		return "", fmt.Errorf("unknown backpressure %q", s)
	}
}

// Config holds controller configuration.
type Config struct {
	// Capture is the camera configuration used on every Activate.
	Capture capture.Config

	// MaxInFlight is the number of concurrent detections.
	// Default: 1
	MaxInFlight int

	// Backpressure selects the frame hand-off policy.
	// Default: "drop"
	Backpressure Backpressure

	// Geometry is the initial surface geometry.
	Geometry overlay.Geometry

	// Style is the box style.
	Style overlay.Style
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Capture:      capture.DefaultConfig(),
		MaxInFlight:  1,
		Backpressure: BackpressureDrop,
		Geometry: overlay.Geometry{
			Size:    overlay.Size{W: 1080, H: 1920},
			Gravity: overlay.GravityFill,
		},
		Style: overlay.DefaultStyle(),
	}
}

// Validate checks that the configuration is valid.
func (c *Config) Validate() error {
	if err := c.Capture.Validate(); err != nil {
		return fmt.Errorf("capture: %w", err)
	}
	if c.MaxInFlight < 1 {
		return fmt.Errorf("max in flight must be at least 1, got %d", c.MaxInFlight)
	}
	switch c.Backpressure {
	case BackpressureDrop, BackpressureLatest:
	default:
		return fmt.Errorf("unknown backpressure %q", c.Backpressure)
	}
	if c.Geometry.Size.Empty() {
		return fmt.Errorf("surface size must be positive, got %s", c.Geometry.Size)
	}
	return nil
}
