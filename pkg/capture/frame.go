package capture

import (
	"fmt"
	"image"
	"slices"
	"time"
)

// Frame is one raw image sample from a camera.
// A frame is handed to the subscriber exactly once; it must not be modified
// after delivery.
type Frame struct {
	// Seq increases by one for every frame delivered by a session.
	Seq uint64

	// Data holds Height rows of Stride bytes.
	Data   []byte
	Width  int
	Height int
	Stride int

	Format      PixelFormat
	Orientation Orientation
	Timestamp   time.Time
}

// NewFrame allocates a zeroed frame of the given size and format.
func NewFrame(width, height int, format PixelFormat) Frame {
	stride := width * format.BytesPerPixel()
	return Frame{
		Data:        make([]byte, stride*height),
		Width:       width,
		Height:      height,
		Stride:      stride,
		Format:      format,
		Orientation: OrientationPortrait,
		Timestamp:   time.Now(),
	}
}

// Size returns the frame dimensions.
func (f Frame) Size() image.Point {
	return image.Pt(f.Width, f.Height)
}

// Empty reports whether the frame carries no pixels.
func (f Frame) Empty() bool {
	return f.Width <= 0 || f.Height <= 0 || len(f.Data) == 0
}

// Validate checks that Data is large enough for the declared geometry.
func (f Frame) Validate() error {
	if f.Empty() {
		return fmt.Errorf("empty frame")
	}
	bpp := f.Format.BytesPerPixel()
	if bpp == 0 {
		return fmt.Errorf("unknown pixel format %q", f.Format)
	}
	if f.Stride < f.Width*bpp {
		return fmt.Errorf("stride %d too small for width %d", f.Stride, f.Width)
	}
	if len(f.Data) < f.Stride*f.Height {
		return fmt.Errorf("buffer holds %d bytes, need %d", len(f.Data), f.Stride*f.Height)
	}
	return nil
}

// Device describes one camera a driver can open.
type Device struct {
	ID           string        `json:"id"`
	Name         string        `json:"name"`
	Position     Position      `json:"position"`
	Type         DeviceType    `json:"type"`
	Formats      []PixelFormat `json:"formats"`
	Orientations []Orientation `json:"orientations"`
}

// SupportsFormat reports whether the device can deliver f.
func (d Device) SupportsFormat(f PixelFormat) bool {
	return slices.Contains(d.Formats, f)
}

// SupportsOrientation reports whether the device can deliver frames in o.
func (d Device) SupportsOrientation(o Orientation) bool {
	return slices.Contains(d.Orientations, o)
}

// Handle describes a configured session.
type Handle struct {
	Device      Device      `json:"device"`
	Format      PixelFormat `json:"format"`
	Orientation Orientation `json:"orientation"`
	Width       int         `json:"width"`
	Height      int         `json:"height"`
	Framerate   int         `json:"framerate"`
}
