package capture

import (
	"context"
	"fmt"
	"image/color"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// MockDriver is a mock capture driver for testing.
// Its inputs generate solid-color frames, or replay a fixed script.
type MockDriver struct {
	logger *slog.Logger

	devices []Device
	script  []Frame
	fill    color.RGBA
	openErr error
	listErr error

	opened atomic.Int64
}

// MockOption configures a MockDriver.
type MockOption func(*MockDriver)

// WithMockDevices replaces the default device list.
func WithMockDevices(devices ...Device) MockOption {
	return func(m *MockDriver) {
		m.devices = devices
	}
}

// WithScript makes inputs deliver exactly these frames, then io.EOF.
func WithScript(frames ...Frame) MockOption {
	return func(m *MockDriver) {
		m.script = frames
	}
}

// WithFill sets the color of generated frames.
func WithFill(c color.RGBA) MockOption {
	return func(m *MockDriver) {
		m.fill = c
	}
}

// WithOpenError makes Open fail with err.
func WithOpenError(err error) MockOption {
	return func(m *MockDriver) {
		m.openErr = err
	}
}

// WithDevicesError makes Devices fail with err.
func WithDevicesError(err error) MockOption {
	return func(m *MockDriver) {
		m.listErr = err
	}
}

// MockBackCamera is the default mock device.
func MockBackCamera() Device {
	return Device{
		ID:           "mock-0",
		Name:         "Mock Back Camera",
		Position:     PositionBack,
		Type:         DeviceWideAngle,
		Formats:      []PixelFormat{FormatBGRA32, FormatBGR24, FormatRGB24},
		Orientations: []Orientation{OrientationPortrait},
	}
}

// NewMockDriver creates a new mock capture driver.
func NewMockDriver(logger *slog.Logger, opts ...MockOption) *MockDriver {
	if logger == nil {
		logger = slog.Default()
	}

	m := &MockDriver{
		logger:  logger,
		devices: []Device{MockBackCamera()},
		fill:    color.RGBA{R: 40, G: 40, B: 40, A: 255},
	}

	for _, opt := range opts {
		opt(m)
	}

	return m
}

// Name returns "mock".
func (m *MockDriver) Name() string {
	return string(BackendMock)
}

// Devices returns the configured device list.
func (m *MockDriver) Devices(ctx context.Context) ([]Device, error) {
	if m.listErr != nil {
		return nil, m.listErr
	}
	out := make([]Device, len(m.devices))
	copy(out, m.devices)
	return out, nil
}

// Open returns a MockInput for dev.
func (m *MockDriver) Open(ctx context.Context, dev Device, cfg Config) (Input, error) {
	if m.openErr != nil {
		return nil, m.openErr
	}
	m.opened.Add(1)

	in := &MockInput{
		cfg:    cfg,
		fill:   m.fill,
		script: append([]Frame(nil), m.script...),
		closed: make(chan struct{}),
	}

	m.logger.Info("mock capture input opened",
		"device", dev.Name,
		"width", cfg.Width,
		"height", cfg.Height,
		"framerate", cfg.Framerate,
	)

	return in, nil
}

// Opened returns how many inputs have been opened.
func (m *MockDriver) Opened() int64 {
	return m.opened.Load()
}

// MockInput is an open mock camera.
type MockInput struct {
	cfg    Config
	fill   color.RGBA
	script []Frame

	mu        sync.Mutex
	next      int
	lastRead  time.Time
	closeOnce sync.Once
	closed    chan struct{}
}

// Read paces frames at the configured framerate.
func (in *MockInput) Read(ctx context.Context) (Frame, error) {
	in.mu.Lock()
	wait := time.Until(in.lastRead.Add(in.cfg.FrameInterval()))
	in.mu.Unlock()

	if wait > 0 {
		select {
		case <-ctx.Done():
			return Frame{}, ctx.Err()
		case <-in.closed:
			return Frame{}, io.EOF
		case <-time.After(wait):
		}
	}

	select {
	case <-in.closed:
		return Frame{}, io.EOF
	default:
	}

	in.mu.Lock()
	defer in.mu.Unlock()
	in.lastRead = time.Now()

	if in.script != nil {
		if in.next >= len(in.script) {
			return Frame{}, io.EOF
		}
		f := in.script[in.next]
		in.next++
		return f, nil
	}

	return in.generate()
}

func (in *MockInput) generate() (Frame, error) {
	w, h := in.cfg.Width, in.cfg.Height
	if in.cfg.Orientation == OrientationPortrait && w > h {
		w, h = h, w
	}

	f := NewFrame(w, h, in.cfg.Format)
	f.Orientation = in.cfg.Orientation

	var px []byte
	switch in.cfg.Format {
	case FormatBGRA32:
		px = []byte{in.fill.B, in.fill.G, in.fill.R, in.fill.A}
	case FormatBGR24:
		px = []byte{in.fill.B, in.fill.G, in.fill.R}
	case FormatRGB24:
		px = []byte{in.fill.R, in.fill.G, in.fill.B}
	default:
		return Frame{}, fmt.Errorf("mock: unsupported format %q", in.cfg.Format)
	}
	for i := 0; i+len(px) <= len(f.Data); i += len(px) {
		copy(f.Data[i:], px)
	}

	return f, nil
}

// Close ends the input; pending and future reads return io.EOF.
func (in *MockInput) Close() error {
	in.closeOnce.Do(func() {
		close(in.closed)
	})
	return nil
}
