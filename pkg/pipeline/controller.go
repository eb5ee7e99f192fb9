package pipeline

import (
	"context"
	"image"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/teslashibe/go-humanrect/pkg/capture"
	"github.com/teslashibe/go-humanrect/pkg/debug"
	"github.com/teslashibe/go-humanrect/pkg/detection"
	"github.com/teslashibe/go-humanrect/pkg/overlay"
)

// Detector runs detection on one frame. *detection.Adapter implements it.
type Detector interface {
	Detect(ctx context.Context, f capture.Frame) (detection.Result, error)
}

// RenderEvent describes one completed render.
type RenderEvent struct {
	Seq       uint64           `json:"seq"`
	Shapes    []overlay.Shape  `json:"shapes"`
	Geometry  overlay.Geometry `json:"geometry"`
	FrameSize image.Point      `json:"frame_size"`
	Latency   time.Duration    `json:"latency"`
}

// Stats contains controller statistics.
type Stats struct {
	Running bool `json:"running"`

	FramesCaptured int64 `json:"frames_captured"`
	FramesDropped  int64 `json:"frames_dropped"`
	Detections     int64 `json:"detections"`
	Failures       int64 `json:"failures"`
	StaleResults   int64 `json:"stale_results"`
	Renders        int64 `json:"renders"`

	LastBoxes   int64         `json:"last_boxes"`
	LastLatency time.Duration `json:"last_latency"`

	Capture capture.SessionStats `json:"capture"`
}

// Controller is the live detection screen: frames flow from the session to
// a bounded set of detection workers, and results are rendered on the
// overlay loop in frame order.
type Controller struct {
	cfg      Config
	logger   *slog.Logger
	session  *capture.Session
	detector Detector
	loop     *overlay.Loop
	surface  overlay.Surface
	renderer *overlay.Renderer

	mu          sync.Mutex
	closed      bool
	cancel      context.CancelFunc
	unsubscribe func()
	workers     sync.WaitGroup

	// running gates rendering; gen identifies the current activation so
	// late results from an earlier one are never drawn.
	running atomic.Bool
	gen     atomic.Uint64

	// Owned by the loop.
	geometry     overlay.Geometry
	lastRendered uint64

	onRender atomic.Pointer[func(RenderEvent)]
	onFrame  atomic.Pointer[func(capture.Frame)]

	captured    atomic.Int64
	dropped     atomic.Int64
	detected    atomic.Int64
	failures    atomic.Int64
	stale       atomic.Int64
	renders     atomic.Int64
	lastBoxes   atomic.Int64
	lastLatency atomic.Int64
}

// New creates a controller. The loop must be running (or about to run) for
// results to be rendered; the controller never starts it.
func New(cfg Config, session *capture.Session, detector Detector, loop *overlay.Loop, surface overlay.Surface, logger *slog.Logger) *Controller {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.MaxInFlight < 1 {
		cfg.MaxInFlight = 1
	}
	if cfg.Backpressure == "" {
		cfg.Backpressure = BackpressureDrop
	}
	if cfg.Style == (overlay.Style{}) {
		cfg.Style = overlay.DefaultStyle()
	}
	return &Controller{
		cfg:      cfg,
		logger:   logger.With("component", "pipeline"),
		session:  session,
		detector: detector,
		loop:     loop,
		surface:  surface,
		renderer: overlay.NewRenderer(surface, cfg.Style),
		geometry: cfg.Geometry,
	}
}

// Activate configures the camera, subscribes to frames and starts delivery.
// Setup errors are logged and returned; the controller stays inactive.
func (c *Controller) Activate(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return ErrClosed
	}
	if c.running.Load() {
		return nil
	}

	handle, err := c.session.Configure(ctx, c.cfg.Capture)
	if err != nil {
		c.logger.Error("camera setup failed", "error", err)
		return err
	}

	gen := c.gen.Add(1)
	workCtx, cancel := context.WithCancel(context.Background())

	var frames chan capture.Frame
	if c.cfg.Backpressure == BackpressureLatest {
		frames = make(chan capture.Frame, 1)
	} else {
		frames = make(chan capture.Frame)
	}

	for i := 0; i < c.cfg.MaxInFlight; i++ {
		c.workers.Add(1)
		go c.worker(workCtx, gen, frames)
	}

	c.unsubscribe = c.session.Subscribe(func(f capture.Frame) {
		c.handoff(f, frames)
	})

	c.running.Store(true)
	if err := c.session.Start(ctx); err != nil {
		c.running.Store(false)
		c.unsubscribe()
		cancel()
		c.logger.Error("camera start failed", "error", err)
		return err
	}
	c.cancel = cancel

	c.logger.Info("pipeline active",
		"device", handle.Device.Name,
		"max_in_flight", c.cfg.MaxInFlight,
		"backpressure", c.cfg.Backpressure,
	)
	return nil
}

// Deactivate stops frame delivery. No render happens after Deactivate
// returns, even for detections still in flight.
func (c *Controller) Deactivate() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.deactivateLocked()
}

func (c *Controller) deactivateLocked() error {
	if !c.running.Load() {
		return nil
	}
	c.running.Store(false)
	c.gen.Add(1)

	if c.unsubscribe != nil {
		c.unsubscribe()
		c.unsubscribe = nil
	}
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}

	err := c.session.Stop()
	c.drainLoop()
	c.logger.Info("pipeline inactive")
	return err
}

// drainLoop waits for a render already running on the loop to finish.
func (c *Controller) drainLoop() {
	if !c.loop.Running() {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := c.loop.Do(ctx, func() {}); err != nil {
		c.logger.Debug("loop drain incomplete", "error", err)
	}
}

// Close deactivates, tears the session down and waits for the workers.
func (c *Controller) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	err := c.deactivateLocked()
	c.mu.Unlock()

	if terr := c.session.Teardown(); err == nil {
		err = terr
	}
	c.workers.Wait()
	return err
}

// Running reports whether the controller is active.
func (c *Controller) Running() bool {
	return c.running.Load()
}

// Config returns the controller configuration.
func (c *Controller) Config() Config {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cfg
}

// SetCapture changes the camera configuration. An active controller is
// restarted with it.
func (c *Controller) SetCapture(ctx context.Context, cfg capture.Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}

	c.mu.Lock()
	wasRunning := c.running.Load()
	if err := c.deactivateLocked(); err != nil {
		c.mu.Unlock()
		return err
	}
	c.cfg.Capture = cfg
	c.mu.Unlock()

	if wasRunning {
		return c.Activate(ctx)
	}
	return nil
}

// Resize posts a new surface geometry to the loop. Later renders use it.
func (c *Controller) Resize(g overlay.Geometry) error {
	return c.loop.Post(func() {
		c.geometry = g
		if s, ok := c.surface.(interface{ SetSize(overlay.Size) }); ok {
			s.SetSize(g.Size)
		}
	})
}

// Geometry returns the surface geometry as seen by the loop.
func (c *Controller) Geometry(ctx context.Context) (overlay.Geometry, error) {
	var g overlay.Geometry
	err := c.loop.Do(ctx, func() { g = c.geometry })
	return g, err
}

// Shapes returns the shapes attached to the surface.
func (c *Controller) Shapes(ctx context.Context) ([]overlay.Shape, error) {
	var shapes []overlay.Shape
	err := c.loop.Do(ctx, func() { shapes = c.surface.Shapes() })
	return shapes, err
}

// OnRender sets a hook called on the loop after every render.
func (c *Controller) OnRender(fn func(RenderEvent)) {
	c.onRender.Store(&fn)
}

// OnFrame sets a hook called with every captured frame, on the capture
// goroutine. It must not block.
func (c *Controller) OnFrame(fn func(capture.Frame)) {
	c.onFrame.Store(&fn)
}

// Stats returns controller statistics.
func (c *Controller) Stats() Stats {
	return Stats{
		Running:        c.running.Load(),
		FramesCaptured: c.captured.Load(),
		FramesDropped:  c.dropped.Load(),
		Detections:     c.detected.Load(),
		Failures:       c.failures.Load(),
		StaleResults:   c.stale.Load(),
		Renders:        c.renders.Load(),
		LastBoxes:      c.lastBoxes.Load(),
		LastLatency:    time.Duration(c.lastLatency.Load()),
		Capture:        c.session.Stats(),
	}
}

// handoff passes f to a worker without blocking the capture goroutine.
func (c *Controller) handoff(f capture.Frame, frames chan capture.Frame) {
	c.captured.Add(1)
	if fn := c.onFrame.Load(); fn != nil {
		(*fn)(f)
	}

	select {
	case frames <- f:
		return
	default:
	}

	if c.cfg.Backpressure != BackpressureLatest {
		c.dropped.Add(1)
		debug.FrameLog("frame dropped, detector busy", "seq", f.Seq)
		return
	}

	// Replace the pending frame with the newer one.
	select {
	case old := <-frames:
		c.dropped.Add(1)
		debug.FrameLog("pending frame replaced", "seq", old.Seq, "by", f.Seq)
	default:
	}
	select {
	case frames <- f:
	default:
		c.dropped.Add(1)
	}
}

func (c *Controller) worker(ctx context.Context, gen uint64, frames <-chan capture.Frame) {
	defer c.workers.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case f := <-frames:
			res, err := c.detector.Detect(ctx, f)
			if ctx.Err() != nil {
				return
			}
			if err != nil {
				c.failures.Add(1)
			}
			c.detected.Add(1)

			if err := c.loop.PostContext(ctx, func() { c.render(gen, res) }); err != nil {
				c.logger.Debug("render not posted", "seq", res.Seq, "error", err)
			}
		}
	}
}

// render runs on the loop.
func (c *Controller) render(gen uint64, res detection.Result) {
	if !c.running.Load() || c.gen.Load() != gen {
		return
	}
	if res.Seq <= c.lastRendered {
		c.stale.Add(1)
		debug.FrameLog("stale result discarded", "seq", res.Seq, "last", c.lastRendered)
		return
	}
	c.lastRendered = res.Seq

	shapes := c.renderer.Render(res, c.geometry)
	c.renders.Add(1)
	c.lastBoxes.Store(int64(len(shapes)))
	c.lastLatency.Store(int64(res.Latency))

	if fn := c.onRender.Load(); fn != nil {
		(*fn)(RenderEvent{
			Seq:       res.Seq,
			Shapes:    append([]overlay.Shape(nil), shapes...),
			Geometry:  c.geometry,
			FrameSize: res.FrameSize,
			Latency:   res.Latency,
		})
	}
}
