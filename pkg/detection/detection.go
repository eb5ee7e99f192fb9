// Package detection adapts a human-rectangle detection service to the
// capture pipeline: one request per frame, normalized boxes back.
package detection

import (
	"context"
	"image"
	"time"

	"github.com/teslashibe/go-humanrect/pkg/capture"
)

// Box is a normalized rectangle with origin at the top-left of the oriented
// image. All fields are in [0,1] once clamped.
type Box struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	W float64 `json:"w"`
	H float64 `json:"h"`
}

// Center returns the center point of the box
func (b Box) Center() (x, y float64) {
	return b.X + b.W/2, b.Y + b.H/2
}

// Area returns the area of the box
func (b Box) Area() float64 {
	return b.W * b.H
}

// Empty reports whether the box has no area.
func (b Box) Empty() bool {
	return b.W <= 0 || b.H <= 0
}

// Clamp intersects the box with the unit square.
func (b Box) Clamp() Box {
	x0, y0 := clamp01(b.X), clamp01(b.Y)
	x1, y1 := clamp01(b.X+b.W), clamp01(b.Y+b.H)
	return Box{X: x0, Y: y0, W: x1 - x0, H: y1 - y0}
}

// Valid reports whether every coordinate lies in [0,1].
func (b Box) Valid() bool {
	return in01(b.X) && in01(b.Y) && in01(b.W) && in01(b.H) &&
		in01(b.X+b.W) && in01(b.Y+b.H)
}

func clamp01(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}

// in01 allows for float rounding at the upper edge.
func in01(v float64) bool {
	return v >= 0 && v <= 1+1e-9
}

// Request is one detection request sent to a Service.
type Request struct {
	Frame capture.Frame

	// Orientation tells the service how the frame is rotated relative to
	// upright.
	Orientation ImageOrientation

	// UpperBodyOnly restricts detection to upper bodies. The pipeline always
	// asks for full bodies.
	UpperBodyOnly bool
}

// Observation is one human found by a Service.
type Observation struct {
	Box        Box     `json:"box"`
	Confidence float64 `json:"confidence"`
}

// Service is a human-rectangle detector.
type Service interface {
	// Perform runs detection on one request.
	Perform(ctx context.Context, req Request) ([]Observation, error)

	// Close releases resources
	Close() error
}

// ServiceFunc adapts a function to the Service interface.
type ServiceFunc func(ctx context.Context, req Request) ([]Observation, error)

// Perform calls f.
func (f ServiceFunc) Perform(ctx context.Context, req Request) ([]Observation, error) {
	return f(ctx, req)
}

// Close does nothing.
func (f ServiceFunc) Close() error {
	return nil
}

// Result is the outcome of detecting one frame.
type Result struct {
	// Seq is the sequence number of the source frame.
	Seq uint64 `json:"seq"`

	// Boxes are the detected humans. Order is not significant.
	Boxes []Box `json:"boxes"`

	// Confidences parallels Boxes.
	Confidences []float64 `json:"confidences,omitempty"`

	// FrameSize is the size of the upright image the boxes refer to.
	FrameSize image.Point `json:"frame_size"`

	Timestamp time.Time     `json:"timestamp"`
	Latency   time.Duration `json:"latency"`

	// Err is set when the service failed; Boxes is then empty.
	Err error `json:"-"`
}
