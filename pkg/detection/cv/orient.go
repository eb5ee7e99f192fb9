// Package cv provides human detection services built on OpenCV.
// Importing it registers the "hog" and "yolo" detectors.
package cv

import (
	"fmt"

	"github.com/teslashibe/go-humanrect/pkg/capture/cvmat"
	"github.com/teslashibe/go-humanrect/pkg/detection"
	"gocv.io/x/gocv"
)

// uprightMat converts the request frame to an upright BGR matrix owned by
// the caller.
func uprightMat(req detection.Request) (gocv.Mat, error) {
	if req.Frame.Empty() {
		return gocv.NewMat(), fmt.Errorf("empty frame %d", req.Frame.Seq)
	}
	return cvmat.UprightMat(req.Frame, req.Orientation)
}
