package overlay

import (
	"image/color"

	"github.com/google/uuid"
)

// Style is how a box is drawn.
type Style struct {
	Stroke    color.RGBA `json:"stroke"`
	Fill      color.RGBA `json:"fill"`
	LineWidth float64    `json:"line_width"`
}

// Yellow is the default stroke color.
var Yellow = color.RGBA{R: 255, G: 255, B: 0, A: 255}

// DefaultStyle returns a yellow 2pt outline with a transparent fill.
func DefaultStyle() Style {
	return Style{
		Stroke:    Yellow,
		Fill:      color.RGBA{},
		LineWidth: 2,
	}
}

// Shape is one rectangle attached to a Surface.
type Shape struct {
	ID         string  `json:"id"`
	Rect       Rect    `json:"rect"`
	Style      Style   `json:"style"`
	Confidence float64 `json:"confidence,omitempty"`
}

// NewShape creates a shape with a fresh ID.
func NewShape(r Rect, style Style) Shape {
	return Shape{
		ID:    uuid.NewString(),
		Rect:  r,
		Style: style,
	}
}
