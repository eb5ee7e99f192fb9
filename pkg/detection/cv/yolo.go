package cv

import (
	"context"
	"fmt"
	"image"
	"log/slog"
	"os"
	"sync"

	"github.com/teslashibe/go-humanrect/pkg/detection"
	"gocv.io/x/gocv"
)

// personClass is the COCO class index of "person".
const personClass = 0

func init() {
	detection.Register(detection.DetectorYOLO, func(cfg detection.ServiceConfig) (detection.Service, error) {
		return NewYOLO(cfg)
	})
}

// YOLOService uses YOLOv8 for person detection
type YOLOService struct {
	logger    *slog.Logger
	config    detection.ServiceConfig
	inputSize image.Point

	mu     sync.Mutex
	net    gocv.Net
	closed bool
}

var _ detection.Service = (*YOLOService)(nil)

// NewYOLO creates a new YOLO person detector
func NewYOLO(cfg detection.ServiceConfig) (*YOLOService, error) {
	def := detection.DefaultServiceConfig()
	if cfg.ModelPath == "" {
		cfg.ModelPath = def.ModelPath
	}
	if cfg.InputWidth <= 0 || cfg.InputHeight <= 0 {
		cfg.InputWidth, cfg.InputHeight = def.InputWidth, def.InputHeight
	}
	if cfg.ConfidenceThresh <= 0 {
		cfg.ConfidenceThresh = def.ConfidenceThresh
	}
	if cfg.NMSThresh <= 0 {
		cfg.NMSThresh = def.NMSThresh
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	if _, err := os.Stat(cfg.ModelPath); os.IsNotExist(err) {
		return nil, fmt.Errorf("%w: %s", detection.ErrModelNotFound, cfg.ModelPath)
	}

	net := gocv.ReadNetFromONNX(cfg.ModelPath)
	if net.Empty() {
		return nil, fmt.Errorf("failed to load YOLO model from %s", cfg.ModelPath)
	}
	net.SetPreferableBackend(gocv.NetBackendDefault)
	net.SetPreferableTarget(gocv.NetTargetCPU)

	cfg.Logger.Info("YOLO person detector ready", "model", cfg.ModelPath)

	return &YOLOService{
		logger:    cfg.Logger,
		config:    cfg,
		inputSize: image.Pt(cfg.InputWidth, cfg.InputHeight),
		net:       net,
	}, nil
}

// Perform finds people in the request frame.
func (s *YOLOService) Perform(ctx context.Context, req detection.Request) ([]detection.Observation, error) {
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

	blob := gocv.BlobFromImage(img, 1.0/255.0, s.inputSize, gocv.NewScalar(0, 0, 0, 0), true, false)
	defer blob.Close()

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, detection.ErrClosed
	}
	s.net.SetInput(blob, "")
	output := s.net.Forward("")
	s.mu.Unlock()
	defer output.Close()

	// Output shape: [1, 84, 8400] - 84 = 4 bbox + 80 classes
	sizes := output.Size()
	if len(sizes) != 3 || sizes[1] < 5 {
		return nil, fmt.Errorf("unexpected YOLO output shape %v", sizes)
	}
	data, err := output.DataPtrFloat32()
	if err != nil {
		return nil, fmt.Errorf("read YOLO output: %w", err)
	}

	return s.parse(data, sizes[1], sizes[2], img.Cols(), img.Rows()), nil
}

// parse decodes a channel-major YOLOv8 tensor of attrs x anchors, keeping
// anchors whose best class is person.
func (s *YOLOService) parse(data []float32, attrs, anchors, imgW, imgH int) []detection.Observation {
	var boxes []image.Rectangle
	var confidences []float32

	sx := float32(imgW) / float32(s.config.InputWidth)
	sy := float32(imgH) / float32(s.config.InputHeight)

	for i := 0; i < anchors; i++ {
		maxScore := float32(0)
		maxClassID := 0
		for c := 4; c < attrs; c++ {
			if score := data[c*anchors+i]; score > maxScore {
				maxScore = score
				maxClassID = c - 4
			}
		}
		if maxClassID != personClass || maxScore < s.config.ConfidenceThresh {
			continue
		}

		cx, cy := data[i], data[anchors+i]
		w, h := data[2*anchors+i], data[3*anchors+i]

		boxes = append(boxes, image.Rect(
			int((cx-w/2)*sx), int((cy-h/2)*sy),
			int((cx+w/2)*sx), int((cy+h/2)*sy),
		))
		confidences = append(confidences, maxScore)
	}

	if len(boxes) == 0 {
		return nil
	}

	indices := gocv.NMSBoxes(boxes, confidences, s.config.ConfidenceThresh, s.config.NMSThresh)

	out := make([]detection.Observation, 0, len(indices))
	fw, fh := float64(imgW), float64(imgH)
	for _, idx := range indices {
		box := boxes[idx]
		out = append(out, detection.Observation{
			Box: detection.Box{
				X: float64(box.Min.X) / fw,
				Y: float64(box.Min.Y) / fh,
				W: float64(box.Dx()) / fw,
				H: float64(box.Dy()) / fh,
			},
			Confidence: float64(confidences[idx]),
		})
	}
	return out
}

// Close releases the detector resources
func (s *YOLOService) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.net.Close()
}
