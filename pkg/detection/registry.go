package detection

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"
)

// Detector names.
const (
	DetectorHOG  = "hog"
	DetectorYOLO = "yolo"
)

// ServiceConfig holds detector configuration
type ServiceConfig struct {
	Logger *slog.Logger

	ModelPath        string  // Path to ONNX model (yolo)
	ConfidenceThresh float32 // Minimum confidence
	NMSThresh        float32 // Non-maximum suppression overlap
	InputWidth       int     // Model input width
	InputHeight      int     // Model input height
}

// DefaultServiceConfig returns production defaults for YOLOv8n.
func DefaultServiceConfig() ServiceConfig {
	return ServiceConfig{
		ModelPath:        "models/yolov8n.onnx",
		ConfidenceThresh: 0.5,
		NMSThresh:        0.45,
		InputWidth:       640,
		InputHeight:      640,
	}
}

// ServiceFactory creates a Service.
type ServiceFactory func(cfg ServiceConfig) (Service, error)

var (
	registryMu sync.RWMutex
	registry   = map[string]ServiceFactory{}
)

// Register sets the factory for a detector name.
// This is called by service packages in init().
func Register(name string, f ServiceFactory) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[name] = f
}

// NewService creates the named detector.
func NewService(name string, cfg ServiceConfig) (Service, error) {
	registryMu.RLock()
	f, ok := registry[name]
	registryMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("detection: detector %q not registered (available: %v)", name, Available())
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return f(cfg)
}

// Available returns the registered detector names.
func Available() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()

	out := make([]string, 0, len(registry))
	for name := range registry {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}
