package detection

import (
	"fmt"
	"image"
	"strings"
)

// ImageOrientation is an EXIF-style orientation hint.
type ImageOrientation int

// Values match EXIF orientation tags 1 to 8.
const (
	OrientationUp ImageOrientation = iota + 1
	OrientationUpMirrored
	OrientationDown
	OrientationDownMirrored
	OrientationLeftMirrored
	OrientationRight
	OrientationRightMirrored
	OrientationLeft
)

var orientationNames = map[ImageOrientation]string{
	OrientationUp:            "up",
	OrientationUpMirrored:    "up-mirrored",
	OrientationDown:          "down",
	OrientationDownMirrored:  "down-mirrored",
	OrientationLeftMirrored:  "left-mirrored",
	OrientationRight:         "right",
	OrientationRightMirrored: "right-mirrored",
	OrientationLeft:          "left",
}

func (o ImageOrientation) String() string {
	if name, ok := orientationNames[o]; ok {
		return name
	}
	return fmt.Sprintf("orientation(%d)", int(o))
}

// Valid reports whether o is one of the eight defined orientations.
func (o ImageOrientation) Valid() bool {
	_, ok := orientationNames[o]
	return ok
}

// Transposed reports whether the stored image is rotated by 90 degrees, so
// width and height swap when made upright.
func (o ImageOrientation) Transposed() bool {
	switch o {
	case OrientationLeftMirrored, OrientationRight, OrientationRightMirrored, OrientationLeft:
		return true
	default:
		return false
	}
}

// ParseOrientation parses a name such as "up" or "right-mirrored", or an
// EXIF number.
func ParseOrientation(s string) (ImageOrientation, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return OrientationUp, nil
	}
	for o, name := range orientationNames {
		if name == s || fmt.Sprint(int(o)) == s {
			return o, nil
		}
	}
	return 0, fmt.Errorf("unknown image orientation %q", s)
}

// OrientedSize returns the upright size of a w x h image stored with
// orientation o.
func OrientedSize(w, h int, o ImageOrientation) image.Point {
	if o.Transposed() {
		return image.Pt(h, w)
	}
	return image.Pt(w, h)
}
