package overlay

// Surface is a display surface shapes are attached to.
// Implementations are not safe for concurrent use; call them from a Loop.
type Surface interface {
	// Add attaches a shape.
	Add(s Shape)

	// Remove detaches the shape with id and reports whether it was attached.
	Remove(id string) bool

	// Shapes returns the attached shapes in attach order.
	Shapes() []Shape

	// Size returns the surface size.
	Size() Size
}

// Canvas is an in-memory Surface.
type Canvas struct {
	size     Size
	shapes   []Shape
	onChange func([]Shape)
}

var _ Surface = (*Canvas)(nil)

// NewCanvas creates an empty canvas.
func NewCanvas(size Size) *Canvas {
	return &Canvas{size: size}
}

// OnChange sets a hook called with a copy of the shapes after every change.
func (c *Canvas) OnChange(fn func([]Shape)) {
	c.onChange = fn
}

// Add attaches s. A shape with the same ID is replaced.
func (c *Canvas) Add(s Shape) {
	for i := range c.shapes {
		if c.shapes[i].ID == s.ID {
			c.shapes[i] = s
			c.changed()
			return
		}
	}
	c.shapes = append(c.shapes, s)
	c.changed()
}

// Remove detaches the shape with id.
func (c *Canvas) Remove(id string) bool {
	for i := range c.shapes {
		if c.shapes[i].ID == id {
			c.shapes = append(c.shapes[:i], c.shapes[i+1:]...)
			c.changed()
			return true
		}
	}
	return false
}

// Shapes returns a copy of the attached shapes.
func (c *Canvas) Shapes() []Shape {
	out := make([]Shape, len(c.shapes))
	copy(out, c.shapes)
	return out
}

// Len returns the number of attached shapes.
func (c *Canvas) Len() int {
	return len(c.shapes)
}

// Size returns the canvas size.
func (c *Canvas) Size() Size {
	return c.size
}

// SetSize resizes the canvas. Attached shapes are kept as they are until
// the next render.
func (c *Canvas) SetSize(s Size) {
	c.size = s
}

func (c *Canvas) changed() {
	if c.onChange != nil {
		c.onChange(c.Shapes())
	}
}
