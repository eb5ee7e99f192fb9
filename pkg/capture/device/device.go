// Package device provides a capture driver for local cameras opened through
// OpenCV VideoCapture. Importing it registers the gocv backend.
package device

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"strconv"
	"sync"

	"github.com/teslashibe/go-humanrect/pkg/capture"
	"github.com/teslashibe/go-humanrect/pkg/capture/cvmat"
	"gocv.io/x/gocv"
)

// DefaultMaxProbe is how many device indexes are probed when none is set.
const DefaultMaxProbe = 4

func init() {
	capture.Register(capture.BackendGoCV, func(opts capture.DriverOptions) (capture.Driver, error) {
		return New(opts), nil
	})
}

// Driver enumerates VideoCapture devices by index.
type Driver struct {
	logger    *slog.Logger
	positions map[int]capture.Position
	maxProbe  int
}

var _ capture.Driver = (*Driver)(nil)

// New creates a gocv driver.
func New(opts capture.DriverOptions) *Driver {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	maxProbe := opts.MaxProbe
	if maxProbe <= 0 {
		maxProbe = DefaultMaxProbe
	}
	return &Driver{
		logger:    logger.With("driver", "gocv"),
		positions: opts.Positions,
		maxProbe:  maxProbe,
	}
}

// Name returns "gocv".
func (d *Driver) Name() string {
	return string(capture.BackendGoCV)
}

// Devices probes indexes 0..maxProbe-1 and returns the ones that open.
func (d *Driver) Devices(ctx context.Context) ([]capture.Device, error) {
	var out []capture.Device
	for idx := 0; idx < d.maxProbe; idx++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		vc, err := gocv.VideoCaptureDevice(idx)
		if err != nil {
			continue
		}
		opened := vc.IsOpened()
		vc.Close()
		if !opened {
			continue
		}

		out = append(out, d.describe(idx))
	}

	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	d.logger.Debug("probed cameras", "found", len(out), "max_probe", d.maxProbe)
	return out, nil
}

func (d *Driver) describe(idx int) capture.Device {
	pos, ok := d.positions[idx]
	if !ok {
		pos = capture.PositionExternal
	}
	return capture.Device{
		ID:       strconv.Itoa(idx),
		Name:     fmt.Sprintf("video%d", idx),
		Position: pos,
		Type:     capture.DeviceWideAngle,
		Formats:  []capture.PixelFormat{capture.FormatBGRA32, capture.FormatBGR24, capture.FormatRGB24},
		Orientations: []capture.Orientation{
			capture.OrientationPortrait,
			capture.OrientationLandscapeLeft,
			capture.OrientationLandscapeRight,
		},
	}
}

// Open starts VideoCapture on dev.
func (d *Driver) Open(ctx context.Context, dev capture.Device, cfg capture.Config) (capture.Input, error) {
	idx, err := strconv.Atoi(dev.ID)
	if err != nil {
		return nil, fmt.Errorf("bad device id %q: %w", dev.ID, err)
	}

	vc, err := gocv.OpenVideoCapture(idx)
	if err != nil {
		return nil, fmt.Errorf("open video%d: %w", idx, err)
	}
	if !vc.IsOpened() {
		vc.Close()
		return nil, fmt.Errorf("video%d did not open", idx)
	}

	vc.Set(gocv.VideoCaptureFrameWidth, float64(cfg.Width))
	vc.Set(gocv.VideoCaptureFrameHeight, float64(cfg.Height))
	vc.Set(gocv.VideoCaptureFPS, float64(cfg.Framerate))

	d.logger.Info("camera opened",
		"device", dev.Name,
		"width", vc.Get(gocv.VideoCaptureFrameWidth),
		"height", vc.Get(gocv.VideoCaptureFrameHeight),
		"fps", vc.Get(gocv.VideoCaptureFPS),
	)

	return &input{
		vc:          vc,
		format:      cfg.Format,
		orientation: cfg.Orientation,
		raw:         gocv.NewMat(),
		rotated:     gocv.NewMat(),
	}, nil
}

// input reads BGR frames and converts them to the negotiated layout.
type input struct {
	mu          sync.Mutex
	vc          *gocv.VideoCapture
	format      capture.PixelFormat
	orientation capture.Orientation
	raw         gocv.Mat
	rotated     gocv.Mat
	closed      bool
}

func (in *input) Read(ctx context.Context) (capture.Frame, error) {
	if err := ctx.Err(); err != nil {
		return capture.Frame{}, err
	}

	in.mu.Lock()
	defer in.mu.Unlock()

	if in.closed {
		return capture.Frame{}, io.EOF
	}
	if ok := in.vc.Read(&in.raw); !ok || in.raw.Empty() {
		return capture.Frame{}, fmt.Errorf("camera read returned no frame")
	}

	src := in.raw
	if code, rotate := rotation(in.orientation, in.raw.Cols(), in.raw.Rows()); rotate {
		gocv.Rotate(in.raw, &in.rotated, code)
		src = in.rotated
	}

	return cvmat.ToFrame(src, in.format, in.orientation)
}

// rotation returns the rotation that brings a w x h sensor image to the
// requested output orientation.
func rotation(o capture.Orientation, w, h int) (gocv.RotateFlag, bool) {
	landscape := w > h
	switch o {
	case capture.OrientationPortrait:
		if landscape {
			return gocv.Rotate90Clockwise, true
		}
	case capture.OrientationLandscapeLeft:
		if !landscape {
			return gocv.Rotate90CounterClockwise, true
		}
	case capture.OrientationLandscapeRight:
		if landscape {
			return gocv.Rotate180Clockwise, true
		}
		return gocv.Rotate90Clockwise, true
	}
	return 0, false
}

func (in *input) Close() error {
	in.mu.Lock()
	defer in.mu.Unlock()

	if in.closed {
		return nil
	}
	in.closed = true
	in.raw.Close()
	in.rotated.Close()
	return in.vc.Close()
}
