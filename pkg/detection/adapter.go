package detection

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/teslashibe/go-humanrect/pkg/capture"
)

// Adapter turns frames into detection requests and normalizes the answers.
// It is safe for concurrent use if the Service is.
type Adapter struct {
	service       Service
	logger        *slog.Logger
	orientation   ImageOrientation
	minConfidence float64

	requests atomic.Int64
	failures atomic.Int64
	boxes    atomic.Int64
}

// AdapterOption configures an Adapter.
type AdapterOption func(*Adapter)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) AdapterOption {
	return func(a *Adapter) {
		if l != nil {
			a.logger = l
		}
	}
}

// WithOrientation sets the orientation hint sent with every request.
func WithOrientation(o ImageOrientation) AdapterOption {
	return func(a *Adapter) {
		a.orientation = o
	}
}

// WithMinConfidence drops observations below c.
func WithMinConfidence(c float64) AdapterOption {
	return func(a *Adapter) {
		a.minConfidence = c
	}
}

// NewAdapter creates an adapter over svc.
func NewAdapter(svc Service, opts ...AdapterOption) *Adapter {
	a := &Adapter{
		service:     svc,
		logger:      slog.Default(),
		orientation: OrientationUp,
	}
	for _, opt := range opts {
		opt(a)
	}
	a.logger = a.logger.With("component", "detection")
	return a
}

// Detect runs the service on f.
//
// The returned Result is always usable: on failure it carries no boxes and
// the error, which is also returned as a *DetectionError, is logged.
func (a *Adapter) Detect(ctx context.Context, f capture.Frame) (Result, error) {
	start := time.Now()
	a.requests.Add(1)

	res := Result{
		Seq:       f.Seq,
		Boxes:     []Box{},
		FrameSize: OrientedSize(f.Width, f.Height, a.orientation),
		Timestamp: f.Timestamp,
	}

	obs, err := a.service.Perform(ctx, Request{
		Frame:         f,
		Orientation:   a.orientation,
		UpperBodyOnly: false,
	})
	if err == nil {
		err = ctx.Err()
	}
	res.Latency = time.Since(start)

	if err != nil {
		a.failures.Add(1)
		derr := &DetectionError{Seq: f.Seq, Err: err}
		res.Err = derr
		a.logger.Warn("detection failed", "seq", f.Seq, "error", err)
		return res, derr
	}

	for _, o := range obs {
		if o.Confidence < a.minConfidence {
			continue
		}
		b := o.Box.Clamp()
		if b.Empty() {
			continue
		}
		res.Boxes = append(res.Boxes, b)
		res.Confidences = append(res.Confidences, o.Confidence)
	}
	a.boxes.Add(int64(len(res.Boxes)))

	a.logger.Debug("detected", "seq", f.Seq, "boxes", len(res.Boxes), "latency", res.Latency)
	return res, nil
}

// Close closes the underlying service.
func (a *Adapter) Close() error {
	return a.service.Close()
}

// Orientation returns the orientation hint in use.
func (a *Adapter) Orientation() ImageOrientation {
	return a.orientation
}

// AdapterStats contains adapter counters.
type AdapterStats struct {
	Requests int64 `json:"requests"`
	Failures int64 `json:"failures"`
	Boxes    int64 `json:"boxes"`
}

// Stats returns adapter counters.
func (a *Adapter) Stats() AdapterStats {
	return AdapterStats{
		Requests: a.requests.Load(),
		Failures: a.failures.Load(),
		Boxes:    a.boxes.Load(),
	}
}
