// Package humanrect wires the live human detection screen: camera session,
// detector, overlay pipeline, preview and dashboard.
package humanrect

import (
	"fmt"

	"github.com/teslashibe/go-humanrect/internal/config"
	"github.com/teslashibe/go-humanrect/pkg/camera"
	"github.com/teslashibe/go-humanrect/pkg/capture"
	"github.com/teslashibe/go-humanrect/pkg/detection"
	"github.com/teslashibe/go-humanrect/pkg/overlay"
	"github.com/teslashibe/go-humanrect/pkg/pipeline"
)

// Config holds all configuration for the application.
// Flag parsing is done in cmd/humanrect/main.go; this struct is data only.
type Config struct {
	// Debug enables verbose debug logging.
	Debug bool

	// DebugPipeline enables per-frame logs.
	DebugPipeline bool

	LogLevel string

	// Port is the dashboard port. Empty disables the dashboard.
	Port      string
	StaticDir string

	// AutoStart activates the session as soon as Run starts.
	AutoStart bool

	// Camera selection.
	Backend        capture.Backend
	CameraPreset   string
	CameraPosition string
	Positions      string // "0:back,1:front"
	MaxProbe       int
	RemoteURL      string
	RemoteProducer string

	// Detection.
	Detector      string
	ModelPath     string
	Orientation   string // EXIF orientation hint sent with every request
	MinConfidence float64

	// Surface and preview.
	PreviewSize    string // "WIDTHxHEIGHT" in surface points
	PreviewGravity string
	PreviewScale   float64
	PreviewFPS     int

	// Pipeline.
	MaxInFlight  int
	Backpressure string
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		LogLevel:       "info",
		Port:           config.DefaultPort,
		StaticDir:      "./web",
		AutoStart:      true,
		Backend:        capture.BackendAuto,
		CameraPreset:   camera.PresetDefault,
		MaxProbe:       4,
		Detector:       detection.DetectorHOG,
		ModelPath:      detection.DefaultServiceConfig().ModelPath,
		Orientation:    detection.OrientationUp.String(),
		PreviewSize:    "1080x1920",
		PreviewGravity: string(overlay.GravityFill),
		PreviewScale:   0.5,
		PreviewFPS:     10,
		MaxInFlight:    1,
		Backpressure:   string(pipeline.BackpressureDrop),
	}
}

// LoadEnvConfig loads configuration values from environment variables.
// Call this after flag parsing to apply environment overrides.
func (c *Config) LoadEnvConfig() {
	c.Port = config.String("HUMANRECT_PORT", c.Port)
	c.StaticDir = config.String("STATIC_DIR", c.StaticDir)
	c.LogLevel = config.String("LOG_LEVEL", c.LogLevel)

	c.Backend = capture.Backend(config.String("CAMERA_BACKEND", string(c.Backend)))
	c.CameraPreset = config.String("CAMERA_PRESET", c.CameraPreset)
	c.CameraPosition = config.String("CAMERA_POSITION", c.CameraPosition)
	c.Positions = config.String("CAMERA_POSITIONS", c.Positions)
	c.MaxProbe = config.Int("CAMERA_MAX_PROBE", c.MaxProbe)
	c.RemoteURL = config.String("REMOTE_CAMERA_URL", c.RemoteURL)
	c.RemoteProducer = config.String("REMOTE_CAMERA_PRODUCER", c.RemoteProducer)

	c.Detector = config.String("DETECTOR", c.Detector)
	c.ModelPath = config.String("YOLO_MODEL_PATH", c.ModelPath)
	c.Orientation = config.String("DETECT_ORIENTATION", c.Orientation)
	c.MinConfidence = config.Float("DETECT_MIN_CONFIDENCE", c.MinConfidence)

	c.PreviewSize = config.String("PREVIEW_SIZE", c.PreviewSize)
	c.PreviewGravity = config.String("PREVIEW_GRAVITY", c.PreviewGravity)
	c.PreviewScale = config.Float("PREVIEW_SCALE", c.PreviewScale)
	c.PreviewFPS = config.Int("PREVIEW_FPS", c.PreviewFPS)

	c.MaxInFlight = config.Int("MAX_IN_FLIGHT", c.MaxInFlight)
	c.Backpressure = config.String("BACKPRESSURE", c.Backpressure)
}

// Validate checks that the configuration is usable.
func (c *Config) Validate() error {
	if c.Backend == capture.BackendRemote && c.RemoteURL == "" {
		return &ConfigError{Field: "RemoteURL", Message: "REMOTE_CAMERA_URL is required for the remote backend"}
	}
	if camera.GetPreset(c.CameraPreset) == nil {
		return &ConfigError{Field: "CameraPreset", Message: fmt.Sprintf("unknown camera preset %q", c.CameraPreset)}
	}
	if c.CameraPosition != "" {
		if _, err := capture.ParsePosition(c.CameraPosition); err != nil {
			return &ConfigError{Field: "CameraPosition", Message: err.Error()}
		}
	}
	if _, err := capture.ParsePositionMap(c.Positions); err != nil {
		return &ConfigError{Field: "Positions", Message: err.Error()}
	}
	if c.Detector == "" {
		return &ConfigError{Field: "Detector", Message: "detector name is required"}
	}
	if _, err := detection.ParseOrientation(c.Orientation); err != nil {
		return &ConfigError{Field: "Orientation", Message: err.Error()}
	}
	if c.MinConfidence < 0 || c.MinConfidence > 1 {
		return &ConfigError{Field: "MinConfidence", Message: "minimum confidence must be between 0 and 1"}
	}
	if _, err := c.Geometry(); err != nil {
		return &ConfigError{Field: "PreviewSize", Message: err.Error()}
	}
	if c.PreviewScale <= 0 || c.PreviewScale > 4 {
		return &ConfigError{Field: "PreviewScale", Message: "preview scale must be in (0, 4]"}
	}
	if c.PreviewFPS < 1 || c.PreviewFPS > 60 {
		return &ConfigError{Field: "PreviewFPS", Message: "preview fps must be between 1 and 60"}
	}
	if c.MaxInFlight < 1 {
		return &ConfigError{Field: "MaxInFlight", Message: "max in flight must be at least 1"}
	}
	if _, err := pipeline.ParseBackpressure(c.Backpressure); err != nil {
		return &ConfigError{Field: "Backpressure", Message: err.Error()}
	}
	return nil
}

// Geometry returns the surface geometry described by PreviewSize and
// PreviewGravity.
func (c *Config) Geometry() (overlay.Geometry, error) {
	size, err := overlay.ParseSize(c.PreviewSize)
	if err != nil {
		return overlay.Geometry{}, err
	}
	gravity, err := overlay.ParseGravity(c.PreviewGravity)
	if err != nil {
		return overlay.Geometry{}, err
	}
	return overlay.Geometry{Size: size, Gravity: gravity}, nil
}

// CameraConfig returns the starting camera profile: the preset, with
// CameraPosition applied when set.
func (c *Config) CameraConfig() camera.Config {
	cfg := camera.DefaultConfig()
	if p := camera.GetPreset(c.CameraPreset); p != nil {
		cfg = *p
	}
	if c.CameraPosition != "" {
		cfg.Position = c.CameraPosition
	}
	return cfg
}

// PipelineConfig builds the controller configuration.
func (c *Config) PipelineConfig() (pipeline.Config, error) {
	g, err := c.Geometry()
	if err != nil {
		return pipeline.Config{}, err
	}
	bp, err := pipeline.ParseBackpressure(c.Backpressure)
	if err != nil {
		return pipeline.Config{}, err
	}

	cfg := pipeline.DefaultConfig()
	cfg.Capture.Backend = c.Backend
	cfg.Capture = c.CameraConfig().Apply(cfg.Capture)
	cfg.MaxInFlight = c.MaxInFlight
	cfg.Backpressure = bp
	cfg.Geometry = g
	return cfg, nil
}

// ConfigError represents a configuration validation error.
type ConfigError struct {
	Field   string
	Message string
}

func (e *ConfigError) Error() string {
	return e.Message
}
