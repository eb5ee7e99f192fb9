package overlay

import (
	"github.com/teslashibe/go-humanrect/pkg/detection"
)

// Renderer replaces the shapes on a Surface with the boxes of each result.
// It must only be used from the Loop that owns the surface.
type Renderer struct {
	surface  Surface
	style    Style
	attached []string
}

// NewRenderer creates a renderer drawing on surface with style.
func NewRenderer(surface Surface, style Style) *Renderer {
	return &Renderer{surface: surface, style: style}
}

// Render removes every shape this renderer attached before, then attaches
// one shape per box, transformed for g. It returns the attached shapes.
func (r *Renderer) Render(res detection.Result, g Geometry) []Shape {
	r.Clear()

	if len(res.Boxes) == 0 {
		return nil
	}

	t := NewTransform(SizeOf(res.FrameSize), g)

	shapes := make([]Shape, 0, len(res.Boxes))
	for i, b := range res.Boxes {
		s := NewShape(t.Rect(b), r.style)
		if i < len(res.Confidences) {
			s.Confidence = res.Confidences[i]
		}
		r.surface.Add(s)
		r.attached = append(r.attached, s.ID)
		shapes = append(shapes, s)
	}
	return shapes
}

// Clear removes every shape this renderer attached.
func (r *Renderer) Clear() {
	for _, id := range r.attached {
		r.surface.Remove(id)
	}
	r.attached = r.attached[:0]
}

// Attached returns how many shapes the renderer currently owns.
func (r *Renderer) Attached() int {
	return len(r.attached)
}
