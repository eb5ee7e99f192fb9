// Package overlay draws detection boxes as shapes on a display surface.
//
// A Surface is owned by a single Loop: every mutation, including Render,
// runs on the loop goroutine, so surfaces need no locking.
package overlay

import (
	"fmt"
	"image"
	"math"
	"strconv"
	"strings"

	"github.com/teslashibe/go-humanrect/pkg/detection"
)

// Size is a width and height in surface points.
type Size struct {
	W float64 `json:"w"`
	H float64 `json:"h"`
}

// Empty reports whether the size has no area.
func (s Size) Empty() bool {
	return s.W <= 0 || s.H <= 0
}

func (s Size) String() string {
	return fmt.Sprintf("%gx%g", s.W, s.H)
}

// SizeOf converts an integer point to a Size.
func SizeOf(p image.Point) Size {
	return Size{W: float64(p.X), H: float64(p.Y)}
}

// ParseSize parses "WIDTHxHEIGHT".
func ParseSize(s string) (Size, error) {
	ws, hs, ok := strings.Cut(strings.ToLower(strings.TrimSpace(s)), "x")
	if !ok {
		return Size{}, fmt.Errorf("size %q: want WIDTHxHEIGHT", s)
	}
	w, err := strconv.ParseFloat(ws, 64)
	if err != nil {
		return Size{}, fmt.Errorf("size %q: %w", s, err)
	}
	h, err := strconv.ParseFloat(hs, 64)
	if err != nil {
		return Size{}, fmt.Errorf("size %q: %w", s, err)
	}
	out := Size{W: w, H: h}
	if out.Empty() {
		return Size{}, fmt.Errorf("size %q must be positive", s)
	}
	return out, nil
}

// Rect is a rectangle in surface points.
type Rect struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	W float64 `json:"w"`
	H float64 `json:"h"`
}

// Image rounds the rect to integer pixels.
func (r Rect) Image() image.Rectangle {
	return image.Rect(
		int(math.Round(r.X)), int(math.Round(r.Y)),
		int(math.Round(r.X+r.W)), int(math.Round(r.Y+r.H)),
	)
}

// Gravity is how a frame is laid out on a surface of a different aspect.
type Gravity string

const (
	// GravityFill scales to cover the surface, cropping the overflow.
	GravityFill Gravity = "fill"
	// GravityFit scales to fit inside the surface, letterboxing the rest.
	GravityFit Gravity = "fit"
	// GravityStretch scales each axis independently.
	GravityStretch Gravity = "stretch"
)

// ParseGravity maps a name to a Gravity.
func ParseGravity(s string) (Gravity, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "fill", "resize-aspect-fill", "aspect-fill":
		return GravityFill, nil
	case "fit", "resize-aspect", "aspect-fit":
		return GravityFit, nil
	case "stretch", "resize":
		return GravityStretch, nil
	default:
		return "", fmt.Errorf("unknown gravity %q", s)
	}
}

// Geometry is the size and gravity of a preview surface.
type Geometry struct {
	Size    Size    `json:"size"`
	Gravity Gravity `json:"gravity"`
}

// Transform maps normalized frame coordinates to surface points.
type Transform struct {
	frame   Size
	surface Size

	scaleX, scaleY float64
	offX, offY     float64
}

// NewTransform builds the transform for a frame shown on g.
func NewTransform(frame Size, g Geometry) Transform {
	t := Transform{frame: frame, surface: g.Size}
	if frame.Empty() || g.Size.Empty() {
		return t
	}

	sx := g.Size.W / frame.W
	sy := g.Size.H / frame.H

	switch g.Gravity {
	case GravityStretch:
		t.scaleX, t.scaleY = sx, sy
		return t
	case GravityFit:
		s := math.Min(sx, sy)
		t.scaleX, t.scaleY = s, s
	default:
		s := math.Max(sx, sy)
		t.scaleX, t.scaleY = s, s
	}

	t.offX = (g.Size.W - frame.W*t.scaleX) / 2
	t.offY = (g.Size.H - frame.H*t.scaleY) / 2
	return t
}

// Displayed returns the size of the whole frame on the surface.
func (t Transform) Displayed() Size {
	return Size{W: t.frame.W * t.scaleX, H: t.frame.H * t.scaleY}
}

// Offset returns where the frame's top-left corner lands on the surface.
func (t Transform) Offset() (x, y float64) {
	return t.offX, t.offY
}

// Rect converts a normalized box into surface points.
func (t Transform) Rect(b detection.Box) Rect {
	d := t.Displayed()
	return Rect{
		X: b.X*d.W + t.offX,
		Y: b.Y*d.H + t.offY,
		W: b.W * d.W,
		H: b.H * d.H,
	}
}

// SourceRect returns the region of the frame, in frame pixels, that is
// visible on the surface.
func (t Transform) SourceRect() image.Rectangle {
	full := image.Rect(0, 0, int(t.frame.W), int(t.frame.H))
	if t.scaleX == 0 || t.scaleY == 0 {
		return full
	}

	x0 := math.Max(0, -t.offX/t.scaleX)
	y0 := math.Max(0, -t.offY/t.scaleY)
	x1 := math.Min(t.frame.W, (t.surface.W-t.offX)/t.scaleX)
	y1 := math.Min(t.frame.H, (t.surface.H-t.offY)/t.scaleY)

	return image.Rect(
		int(math.Round(x0)), int(math.Round(y0)),
		int(math.Round(x1)), int(math.Round(y1)),
	).Intersect(full)
}
