// Package remote provides a capture driver for a single camera streamed over
// WebRTC. Importing it registers the remote backend.
package remote

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/teslashibe/go-humanrect/pkg/capture"
	"github.com/teslashibe/go-humanrect/pkg/capture/cvmat"
	"github.com/teslashibe/go-humanrect/pkg/video"
	"gocv.io/x/gocv"
)

// DeviceID is the ID of the one device this driver exposes.
const DeviceID = "remote-0"

func init() {
	capture.Register(capture.BackendRemote, func(opts capture.DriverOptions) (capture.Driver, error) {
		if opts.RemoteURL == "" {
			return nil, errors.New("remote: REMOTE_CAMERA_URL is required")
		}
		return New(opts), nil
	})
}

// Driver exposes a remote WebRTC camera as a back-facing wide-angle device.
type Driver struct {
	logger   *slog.Logger
	url      string
	producer string
}

var _ capture.Driver = (*Driver)(nil)

// New creates a remote driver.
func New(opts capture.DriverOptions) *Driver {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Driver{
		logger:   logger.With("driver", "remote"),
		url:      opts.RemoteURL,
		producer: opts.RemoteProducer,
	}
}

// Name returns "remote".
func (d *Driver) Name() string {
	return string(capture.BackendRemote)
}

// Devices returns the remote camera. Availability is checked on Open.
func (d *Driver) Devices(ctx context.Context) ([]capture.Device, error) {
	name := d.producer
	if name == "" {
		name = d.url
	}
	return []capture.Device{{
		ID:           DeviceID,
		Name:         name,
		Position:     capture.PositionBack,
		Type:         capture.DeviceWideAngle,
		Formats:      []capture.PixelFormat{capture.FormatBGRA32, capture.FormatBGR24, capture.FormatRGB24},
		Orientations: []capture.Orientation{capture.OrientationPortrait, capture.OrientationLandscapeLeft},
	}}, nil
}

// Open connects to the signalling server and waits for video.
func (d *Driver) Open(ctx context.Context, dev capture.Device, cfg capture.Config) (capture.Input, error) {
	vcfg := video.DefaultConfig(d.url)
	vcfg.Producer = d.producer
	vcfg.DecodeInterval = cfg.FrameInterval()

	client := video.NewClient(vcfg, d.logger)
	if err := client.Connect(ctx); err != nil {
		client.Close()
		return nil, fmt.Errorf("connect %s: %w", d.url, err)
	}

	return &input{
		client:      client,
		format:      cfg.Format,
		orientation: cfg.Orientation,
	}, nil
}

type input struct {
	client      *video.Client
	format      capture.PixelFormat
	orientation capture.Orientation
	lastSeq     uint64
}

// Read waits for the next decoded JPEG and converts it.
func (in *input) Read(ctx context.Context) (capture.Frame, error) {
	data, seq, err := in.client.NextFrame(ctx, in.lastSeq)
	if err != nil {
		if errors.Is(err, video.ErrClosed) {
			return capture.Frame{}, io.EOF
		}
		return capture.Frame{}, err
	}
	in.lastSeq = seq

	img, err := gocv.IMDecode(data, gocv.IMReadColor)
	if err != nil {
		return capture.Frame{}, fmt.Errorf("decode jpeg: %w", err)
	}
	defer img.Close()
	if img.Empty() {
		return capture.Frame{}, fmt.Errorf("decode jpeg: empty image")
	}

	portrait := in.orientation == capture.OrientationPortrait
	if portrait != (img.Rows() >= img.Cols()) {
		rotated := gocv.NewMat()
		defer rotated.Close()
		gocv.Rotate(img, &rotated, gocv.Rotate90Clockwise)
		return cvmat.ToFrame(rotated, in.format, in.orientation)
	}

	return cvmat.ToFrame(img, in.format, in.orientation)
}

func (in *input) Close() error {
	return in.client.Close()
}
