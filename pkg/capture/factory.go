package capture

import (
	"fmt"
	"log/slog"
	"runtime"
	"sort"
	"strconv"
	"strings"
	"sync"
)

// DriverOptions carries backend-specific settings to a DriverFactory.
type DriverOptions struct {
	Logger *slog.Logger

	// Positions maps local device indexes to physical positions (gocv).
	Positions map[int]Position

	// MaxProbe is how many local device indexes are probed (gocv).
	MaxProbe int

	// RemoteURL is the signalling server of a remote camera.
	RemoteURL string

	// RemoteProducer is the producer name announced by the remote camera.
	RemoteProducer string
}

// DriverFactory creates a Driver.
type DriverFactory func(opts DriverOptions) (Driver, error)

var (
	factoriesMu sync.RWMutex
	factories   = map[Backend]DriverFactory{
		BackendMock: func(opts DriverOptions) (Driver, error) {
			return NewMockDriver(opts.Logger), nil
		},
	}
)

// Register sets the factory for a backend.
// This is called by the device and remote packages in init().
func Register(b Backend, f DriverFactory) {
	factoriesMu.Lock()
	defer factoriesMu.Unlock()
	factories[b] = f
}

// NewDriver creates a driver for the given backend.
// If b is BackendAuto, the best available backend is selected.
func NewDriver(b Backend, opts DriverOptions) (Driver, error) {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	if b == BackendAuto || b == "" {
		b = detectBestBackend()
	}

	factoriesMu.RLock()
	f, ok := factories[b]
	factoriesMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("capture: backend %q not registered", b)
	}

	opts.Logger.Info("creating capture driver", "backend", b)
	return f(opts)
}

// AvailableBackends returns the registered backends.
func AvailableBackends() []Backend {
	factoriesMu.RLock()
	defer factoriesMu.RUnlock()

	out := make([]Backend, 0, len(factories))
	for b := range factories {
		out = append(out, b)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// detectBestBackend returns the best registered backend for the platform.
func detectBestBackend() Backend {
	factoriesMu.RLock()
	_, hasGoCV := factories[BackendGoCV]
	factoriesMu.RUnlock()

	switch runtime.GOOS {
	case "linux", "darwin", "windows":
		if hasGoCV {
			return BackendGoCV
		}
	}
	return BackendMock
}

// ParsePositionMap parses "0:back,1:front" into an index to position map.
func ParsePositionMap(s string) (map[int]Position, error) {
	out := make(map[int]Position)
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		idx, pos, ok := strings.Cut(part, ":")
		if !ok {
			return nil, fmt.Errorf("position entry %q: want index:position", part)
		}
		n, err := strconv.Atoi(strings.TrimSpace(idx))
		if err != nil || n < 0 {
			return nil, fmt.Errorf("position entry %q: bad index", part)
		}
		p, err := ParsePosition(pos)
		if err != nil {
			return nil, fmt.Errorf("position entry %q: %w", part, err)
		}
		out[n] = p
	}
	return out, nil
}
