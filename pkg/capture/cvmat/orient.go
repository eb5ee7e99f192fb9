package cvmat

import (
	"github.com/teslashibe/go-humanrect/pkg/capture"
	"github.com/teslashibe/go-humanrect/pkg/detection"
	"gocv.io/x/gocv"
)

// flip codes
const (
	flipVertical   = 0
	flipHorizontal = 1
)

// Orient makes img upright for an EXIF orientation, consuming img.
// The result is detection.OrientedSize of the input.
func Orient(img gocv.Mat, o detection.ImageOrientation) gocv.Mat {
	type step struct {
		rotate  bool
		rot     gocv.RotateFlag
		flip    bool
		flipDir int
	}

	var s step
	switch o {
	case detection.OrientationUpMirrored:
		s = step{flip: true, flipDir: flipHorizontal}
	case detection.OrientationDown:
		s = step{rotate: true, rot: gocv.Rotate180Clockwise}
	case detection.OrientationDownMirrored:
		s = step{flip: true, flipDir: flipVertical}
	case detection.OrientationLeftMirrored:
		s = step{rotate: true, rot: gocv.Rotate90Clockwise, flip: true, flipDir: flipHorizontal}
	case detection.OrientationRight:
		s = step{rotate: true, rot: gocv.Rotate90Clockwise}
	case detection.OrientationRightMirrored:
		s = step{rotate: true, rot: gocv.Rotate90Clockwise, flip: true, flipDir: flipVertical}
	case detection.OrientationLeft:
		s = step{rotate: true, rot: gocv.Rotate90CounterClockwise}
	default:
		return img
	}

	if s.rotate {
		dst := gocv.NewMat()
		gocv.Rotate(img, &dst, s.rot)
		img.Close()
		img = dst
	}
	if s.flip {
		dst := gocv.NewMat()
		gocv.Flip(img, &dst, s.flipDir)
		img.Close()
		img = dst
	}
	return img
}

// UprightMat converts f to an upright BGR matrix owned by the caller.
func UprightMat(f capture.Frame, o detection.ImageOrientation) (gocv.Mat, error) {
	img, err := ToMat(f)
	if err != nil {
		return img, err
	}
	return Orient(img, o), nil
}
