package cv

import (
	"context"
	"image"
	"log/slog"
	"sync"

	"github.com/teslashibe/go-humanrect/pkg/detection"
	"gocv.io/x/gocv"
)

// maxHOGDimension bounds the image size fed to HOG.
const maxHOGDimension = 800

func init() {
	detection.Register(detection.DetectorHOG, func(cfg detection.ServiceConfig) (detection.Service, error) {
		return NewHOG(cfg.Logger), nil
	})
}

// HOGService detects full bodies with OpenCV's default people detector.
type HOGService struct {
	logger *slog.Logger

	mu     sync.Mutex
	hog    gocv.HOGDescriptor
	closed bool
}

var _ detection.Service = (*HOGService)(nil)

// NewHOG creates a HOG people detector.
func NewHOG(logger *slog.Logger) *HOGService {
	if logger == nil {
		logger = slog.Default()
	}
	hog := gocv.NewHOGDescriptor()
	hog.SetSVMDetector(gocv.HOGDefaultPeopleDetector())

	logger.Info("HOG people detector ready")
	return &HOGService{logger: logger, hog: hog}
}

// Perform finds people in the request frame.
func (s *HOGService) Perform(ctx context.Context, req detection.Request) ([]detection.Observation, error) {
	if req.UpperBodyOnly {
		return nil, detection.ErrUnsupportedRequest
	}

	img, err := uprightMat(req)
	if err != nil {
		return nil, err
	}
	defer img.Close()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	proc := img
	if w, h := img.Cols(), img.Rows(); w > maxHOGDimension || h > maxHOGDimension {
		scale := float64(maxHOGDimension) / float64(max(w, h))
		resized := gocv.NewMat()
		defer resized.Close()
		gocv.Resize(img, &resized, image.Pt(int(float64(w)*scale), int(float64(h)*scale)), 0, 0, gocv.InterpolationLinear)
		proc = resized
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, detection.ErrClosed
	}
	rects := s.hog.DetectMultiScale(proc)
	s.mu.Unlock()

	return hogObservations(rects, proc.Cols(), proc.Rows()), nil
}

// hogObservations normalizes HOG rectangles. HOG reports no score, so
// confidence grows with box size from 0.75 up to 0.95 at a quarter of the
// image.
func hogObservations(rects []image.Rectangle, w, h int) []detection.Observation {
	out := make([]detection.Observation, 0, len(rects))
	fw, fh := float64(w), float64(h)

	for _, r := range rects {
		b := detection.Box{
			X: float64(r.Min.X) / fw,
			Y: float64(r.Min.Y) / fh,
			W: float64(r.Dx()) / fw,
			H: float64(r.Dy()) / fh,
		}
		// Full confidence at a quarter of the frame
		out = append(out, detection.Observation{
			Box:        b,
			Confidence: 0.75 + min(b.Area()*4, 1)*0.2,
		})
	}
	return out
}

// Close releases the detector resources
func (s *HOGService) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.hog.Close()
}
