// Package preview renders the live preview: the camera frame laid out on
// the surface geometry with the current overlay shapes drawn on top,
// encoded as JPEG.
package preview

import (
	"context"
	"fmt"
	"image"
	"log/slog"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/teslashibe/go-humanrect/pkg/capture"
	"github.com/teslashibe/go-humanrect/pkg/capture/cvmat"
	"github.com/teslashibe/go-humanrect/pkg/detection"
	"github.com/teslashibe/go-humanrect/pkg/overlay"
	"gocv.io/x/gocv"
)

// Config holds preview configuration.
type Config struct {
	// Scale multiplies the surface size to get the JPEG size.
	// Default: 0.5
	Scale float64 `json:"scale"`

	// FPS caps how many previews are produced per second.
	// Default: 10
	FPS int `json:"fps"`

	// Quality is the JPEG quality 1-100.
	// Default: 80
	Quality int `json:"quality"`

	// Orientation is the hint the detector uses to make frames upright.
	// The preview applies the same one so shapes line up with the image.
	// Default: up
	Orientation detection.ImageOrientation `json:"orientation"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{Scale: 0.5, FPS: 10, Quality: 80, Orientation: detection.OrientationUp}
}

// Validate checks that the configuration is valid.
func (c *Config) Validate() error {
	if c.Scale <= 0 || c.Scale > 4 {
		return fmt.Errorf("preview scale must be in (0, 4], got %g", c.Scale)
	}
	if c.FPS < 1 || c.FPS > 60 {
		return fmt.Errorf("preview fps must be between 1 and 60, got %d", c.FPS)
	}
	if c.Quality < 1 || c.Quality > 100 {
		return fmt.Errorf("preview quality must be between 1 and 100, got %d", c.Quality)
	}
	if c.Orientation != 0 && !c.Orientation.Valid() {
		return fmt.Errorf("unknown preview orientation %d", int(c.Orientation))
	}
	return nil
}

// Composer produces preview JPEGs from the latest frame and overlay.
type Composer struct {
	logger *slog.Logger

	mu       sync.Mutex
	cfg      Config
	frame    *capture.Frame
	fresh    bool
	shapes   []overlay.Shape
	geometry overlay.Geometry

	onJPEG atomic.Pointer[func([]byte)]

	composed atomic.Int64
	failed   atomic.Int64
}

// NewComposer creates a composer for the given surface geometry.
func NewComposer(cfg Config, g overlay.Geometry, logger *slog.Logger) *Composer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Composer{
		logger:   logger.With("component", "preview"),
		cfg:      cfg,
		geometry: g,
	}
}

// OnJPEG sets the callback that receives every encoded preview.
func (c *Composer) OnJPEG(fn func([]byte)) {
	c.onJPEG.Store(&fn)
}

// Submit offers a frame. Only the latest frame is kept; Submit never blocks
// on encoding.
func (c *Composer) Submit(f capture.Frame) {
	c.mu.Lock()
	c.frame = &f
	c.fresh = true
	c.mu.Unlock()
}

// SetOverlay replaces the shapes drawn on later previews.
func (c *Composer) SetOverlay(shapes []overlay.Shape, g overlay.Geometry) {
	c.mu.Lock()
	c.shapes = append(c.shapes[:0:0], shapes...)
	c.geometry = g
	c.mu.Unlock()
}

// SetConfig changes scale, rate or quality.
func (c *Composer) SetConfig(cfg Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	c.mu.Lock()
	c.cfg = cfg
	c.mu.Unlock()
	return nil
}

// SetQuality changes the JPEG quality.
func (c *Composer) SetQuality(q int) error {
	cfg := c.Config()
	cfg.Quality = q
	return c.SetConfig(cfg)
}

// Config returns the current configuration.
func (c *Composer) Config() Config {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cfg
}

// Run composes previews at the configured rate until ctx is done.
func (c *Composer) Run(ctx context.Context) error {
	interval := c.interval()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}

		if next := c.interval(); next != interval {
			interval = next
			ticker.Reset(interval)
		}
		c.tick()
	}
}

func (c *Composer) interval() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return time.Second / time.Duration(max(c.cfg.FPS, 1))
}

func (c *Composer) tick() {
	c.mu.Lock()
	if !c.fresh || c.frame == nil {
		c.mu.Unlock()
		return
	}
	f := *c.frame
	c.fresh = false
	shapes := c.shapes
	g := c.geometry
	cfg := c.cfg
	c.mu.Unlock()

	fn := c.onJPEG.Load()
	if fn == nil {
		return
	}

	jpeg, err := Compose(f, shapes, g, cfg)
	if err != nil {
		c.failed.Add(1)
		c.logger.Warn("preview compose failed", "seq", f.Seq, "error", err)
		return
	}
	c.composed.Add(1)
	(*fn)(jpeg)
}

// Stats returns how many previews were produced and how many failed.
func (c *Composer) Stats() (composed, failed int64) {
	return c.composed.Load(), c.failed.Load()
}

// Compose makes f upright for cfg.Orientation, lays it out on g, draws
// shapes and encodes the result.
func Compose(f capture.Frame, shapes []overlay.Shape, g overlay.Geometry, cfg Config) ([]byte, error) {
	src, err := cvmat.UprightMat(f, cfg.Orientation)
	if err != nil {
		return nil, err
	}
	defer src.Close()

	img, err := layout(src, g, cfg.Scale)
	if err != nil {
		return nil, err
	}
	defer img.Close()

	for _, s := range shapes {
		r := scaleRect(s.Rect, cfg.Scale)
		thickness := max(1, int(math.Round(s.Style.LineWidth*cfg.Scale)))
		gocv.Rectangle(&img, r, s.Style.Stroke, thickness)
	}

	buf, err := gocv.IMEncodeWithParams(gocv.JPEGFileExt, img, []int{int(gocv.IMWriteJpegQuality), cfg.Quality})
	if err != nil {
		return nil, fmt.Errorf("encode preview: %w", err)
	}
	defer buf.Close()

	return append([]byte(nil), buf.GetBytes()...), nil
}

// layout returns src placed on a surface of g.Size*scale per g.Gravity.
func layout(src gocv.Mat, g overlay.Geometry, scale float64) (gocv.Mat, error) {
	out := image.Pt(int(math.Round(g.Size.W*scale)), int(math.Round(g.Size.H*scale)))
	if out.X <= 0 || out.Y <= 0 {
		return gocv.NewMat(), fmt.Errorf("empty preview size %v", out)
	}

	t := overlay.NewTransform(overlay.Size{W: float64(src.Cols()), H: float64(src.Rows())}, g)

	switch g.Gravity {
	case overlay.GravityStretch:
		dst := gocv.NewMat()
		gocv.Resize(src, &dst, out, 0, 0, gocv.InterpolationLinear)
		return dst, nil

	case overlay.GravityFit:
		d := t.Displayed()
		ox, oy := t.Offset()
		inner := image.Rect(
			int(math.Round(ox*scale)), int(math.Round(oy*scale)),
			int(math.Round((ox+d.W)*scale)), int(math.Round((oy+d.H)*scale)),
		).Intersect(image.Rect(0, 0, out.X, out.Y))
		if inner.Empty() {
			return gocv.NewMat(), fmt.Errorf("frame does not fit preview %v", out)
		}

		resized := gocv.NewMat()
		defer resized.Close()
		gocv.Resize(src, &resized, inner.Size(), 0, 0, gocv.InterpolationLinear)

		dst := gocv.NewMatWithSize(out.Y, out.X, gocv.MatTypeCV8UC3)
		dst.SetTo(gocv.NewScalar(0, 0, 0, 0))
		region := dst.Region(inner)
		defer region.Close()
		resized.CopyTo(&region)
		return dst, nil

	default:
		crop := src.Region(t.SourceRect())
		defer crop.Close()
		dst := gocv.NewMat()
		gocv.Resize(crop, &dst, out, 0, 0, gocv.InterpolationLinear)
		return dst, nil
	}
}

func scaleRect(r overlay.Rect, scale float64) image.Rectangle {
	return overlay.Rect{X: r.X * scale, Y: r.Y * scale, W: r.W * scale, H: r.H * scale}.Image()
}
