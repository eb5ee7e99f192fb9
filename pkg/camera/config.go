// Package camera provides the runtime-configurable camera profile: sensor
// resolution, frame rate, preview quality and which camera to use.
package camera

import (
	"github.com/teslashibe/go-humanrect/pkg/capture"
)

// Config holds all camera configuration parameters.
// These can be modified via the camera API at runtime.
type Config struct {
	// === Resolution ===
	Width     int `json:"width"`     // Requested sensor width in pixels
	Height    int `json:"height"`    // Requested sensor height in pixels
	Framerate int `json:"framerate"` // Target FPS
	Quality   int `json:"quality"`   // Preview JPEG quality 1-100

	// === Device ===
	// Position selects the camera. Values: "back", "front", "external", "unspecified"
	Position string `json:"position"`

	// Orientation of delivered frames.
	// Values: "portrait", "landscape-left", "landscape-right"
	Orientation string `json:"orientation"`

	// Format is the frame pixel layout. Values: "bgra32", "bgr24", "rgb24"
	Format string `json:"format"`
}

// Limits of accepted values.
const (
	MinWidth     = 160
	MinHeight    = 120
	MaxWidth     = 3840
	MaxHeight    = 3840
	MaxFramerate = 120
)

// DefaultConfig returns the portrait 720p profile.
func DefaultConfig() Config {
	return Config{
		Width:       1280,
		Height:      720,
		Framerate:   30,
		Quality:     80,
		Position:    string(capture.PositionBack),
		Orientation: string(capture.OrientationPortrait),
		Format:      string(capture.FormatBGRA32),
	}
}

// Validate checks if the config values are within valid ranges.
// Returns a list of validation errors, or nil if valid.
func (c *Config) Validate() []string {
	var errors []string

	if c.Width < MinWidth || c.Width > MaxWidth {
		errors = append(errors, "width must be between 160 and 3840")
	}
	if c.Height < MinHeight || c.Height > MaxHeight {
		errors = append(errors, "height must be between 120 and 3840")
	}
	if c.Framerate < 1 || c.Framerate > MaxFramerate {
		errors = append(errors, "framerate must be between 1 and 120")
	}
	if c.Quality < 1 || c.Quality > 100 {
		errors = append(errors, "quality must be between 1 and 100")
	}

	if _, err := capture.ParsePosition(c.Position); err != nil {
		errors = append(errors, "position must be back, front, external, or unspecified")
	}

	switch capture.Orientation(c.Orientation) {
	case capture.OrientationPortrait, capture.OrientationLandscapeLeft, capture.OrientationLandscapeRight:
	default:
		errors = append(errors, "orientation must be portrait, landscape-left, or landscape-right")
	}

	if capture.PixelFormat(c.Format).BytesPerPixel() == 0 {
		errors = append(errors, "format must be bgra32, bgr24, or rgb24")
	}

	return errors
}

// Apply returns base with the profile's settings.
func (c Config) Apply(base capture.Config) capture.Config {
	pos, err := capture.ParsePosition(c.Position)
	if err != nil {
		pos = base.Position
	}
	base.Position = pos
	base.Width = c.Width
	base.Height = c.Height
	base.Framerate = c.Framerate
	base.Orientation = capture.Orientation(c.Orientation)
	base.Format = capture.PixelFormat(c.Format)
	return base
}

// FromCapture builds a profile from a capture configuration.
func FromCapture(cfg capture.Config, quality int) Config {
	return Config{
		Width:       cfg.Width,
		Height:      cfg.Height,
		Framerate:   cfg.Framerate,
		Quality:     quality,
		Position:    string(cfg.Position),
		Orientation: string(cfg.Orientation),
		Format:      string(cfg.Format),
	}
}

// Capabilities returns the accepted values for each setting.
func Capabilities() map[string]interface{} {
	return map[string]interface{}{
		"max_width":     MaxWidth,
		"max_height":    MaxHeight,
		"max_framerate": MaxFramerate,
		"positions":     []string{"back", "front", "external", "unspecified"},
		"orientations":  []string{"portrait", "landscape-left", "landscape-right"},
		"formats":       []string{"bgra32", "bgr24", "rgb24"},
		"presets":       PresetNames(),
	}
}
