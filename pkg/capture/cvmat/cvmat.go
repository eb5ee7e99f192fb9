// Package cvmat converts between capture frames and gocv matrices.
package cvmat

import (
	"fmt"

	"github.com/teslashibe/go-humanrect/pkg/capture"
	"gocv.io/x/gocv"
)

// ToFrame converts a BGR matrix into a frame in the given pixel format.
func ToFrame(bgr gocv.Mat, format capture.PixelFormat, orientation capture.Orientation) (capture.Frame, error) {
	if bgr.Empty() {
		return capture.Frame{}, fmt.Errorf("cvmat: empty matrix")
	}

	var data []byte
	switch format {
	case capture.FormatBGR24:
		data = bgr.ToBytes()
	case capture.FormatBGRA32, capture.FormatRGB24:
		code := gocv.ColorBGRToBGRA
		if format == capture.FormatRGB24 {
			code = gocv.ColorBGRToRGB
		}
		dst := gocv.NewMat()
		defer dst.Close()
		gocv.CvtColor(bgr, &dst, code)
		data = dst.ToBytes()
	default:
		return capture.Frame{}, fmt.Errorf("cvmat: %w: %s", capture.ErrUnsupportedPixelFormat, format)
	}

	w, h := bgr.Cols(), bgr.Rows()
	f := capture.Frame{
		Data:        data,
		Width:       w,
		Height:      h,
		Stride:      w * format.BytesPerPixel(),
		Format:      format,
		Orientation: orientation,
	}
	if err := f.Validate(); err != nil {
		return capture.Frame{}, fmt.Errorf("cvmat: %w", err)
	}
	return f, nil
}

// ToMat converts a frame into a BGR matrix owned by the caller.
func ToMat(f capture.Frame) (gocv.Mat, error) {
	if err := f.Validate(); err != nil {
		return gocv.NewMat(), fmt.Errorf("cvmat: %w", err)
	}

	bpp := f.Format.BytesPerPixel()
	data := compact(f, bpp)

	matType := gocv.MatTypeCV8UC3
	if bpp == 4 {
		matType = gocv.MatTypeCV8UC4
	}
	src, err := gocv.NewMatFromBytes(f.Height, f.Width, matType, data)
	if err != nil {
		return gocv.NewMat(), fmt.Errorf("cvmat: wrap frame: %w", err)
	}
	defer src.Close()

	dst := gocv.NewMat()
	switch f.Format {
	case capture.FormatBGR24:
		src.CopyTo(&dst)
	case capture.FormatBGRA32:
		gocv.CvtColor(src, &dst, gocv.ColorBGRAToBGR)
	case capture.FormatRGB24:
		gocv.CvtColor(src, &dst, gocv.ColorRGBToBGR)
	}
	return dst, nil
}

// compact drops row padding so rows are exactly Width*bpp bytes.
func compact(f capture.Frame, bpp int) []byte {
	row := f.Width * bpp
	if f.Stride == row {
		return f.Data[:row*f.Height]
	}
	out := make([]byte, row*f.Height)
	for y := 0; y < f.Height; y++ {
		copy(out[y*row:(y+1)*row], f.Data[y*f.Stride:y*f.Stride+row])
	}
	return out
}
