package humanrect

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/teslashibe/go-humanrect/internal/log"
	"github.com/teslashibe/go-humanrect/pkg/camera"
	"github.com/teslashibe/go-humanrect/pkg/capture"
	"github.com/teslashibe/go-humanrect/pkg/debug"
	"github.com/teslashibe/go-humanrect/pkg/detection"
	"github.com/teslashibe/go-humanrect/pkg/overlay"
	"github.com/teslashibe/go-humanrect/pkg/pipeline"
	"github.com/teslashibe/go-humanrect/pkg/web"
)

// statusInterval is how often status is pushed to dashboard clients.
const statusInterval = time.Second

// Previewer renders the live preview. preview.Composer implements it.
type Previewer interface {
	Submit(f capture.Frame)
	SetOverlay(shapes []overlay.Shape, g overlay.Geometry)
	SetQuality(q int) error
	OnJPEG(fn func([]byte))
	Run(ctx context.Context) error
}

var _ web.Controller = (*App)(nil)

// Option configures an App.
type Option func(*App)

// WithPreviewer enables the live preview.
func WithPreviewer(p Previewer) Option {
	return func(a *App) {
		a.preview = p
	}
}

// WithDriver replaces the capture driver selected from Config.Backend.
func WithDriver(d capture.Driver) Option {
	return func(a *App) {
		a.driver = d
	}
}

// WithService replaces the detector selected from Config.Detector.
func WithService(s detection.Service) Option {
	return func(a *App) {
		a.service = s
	}
}

// WithLogger sets the base logger.
func WithLogger(l *slog.Logger) Option {
	return func(a *App) {
		a.logger = l
	}
}

// App is the main application orchestrator.
// It manages all components and their lifecycle.
type App struct {
	config Config
	logger *slog.Logger

	driver  capture.Driver
	service detection.Service
	preview Previewer

	session *capture.Session
	adapter *detection.Adapter
	loop    *overlay.Loop
	canvas  *overlay.Canvas
	ctrl    *pipeline.Controller
	cameras *camera.Manager

	webServer *web.Server

	mu        sync.Mutex
	runCtx    context.Context
	sessionID string
	startedAt time.Time
}

// New creates a new application with the given configuration.
func New(cfg Config, opts ...Option) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	a := &App{
		config:    cfg,
		runCtx:    context.Background(),
		startedAt: time.Now(),
	}
	for _, opt := range opts {
		opt(a)
	}
	a.logger = log.Or(a.logger)

	debug.Enabled = cfg.Debug
	debug.Pipeline = cfg.DebugPipeline
	return a, nil
}

// Init creates all components.
// Call this after New() and before Run().
func (a *App) Init() error {
	a.initWeb()
	if err := a.initCapture(); err != nil {
		return err
	}
	if err := a.initDetection(); err != nil {
		return err
	}
	if err := a.initPipeline(); err != nil {
		return err
	}
	a.initCamera()
	a.wireHooks()
	return nil
}

func (a *App) initCapture() error {
	if a.driver == nil {
		positions, _ := capture.ParsePositionMap(a.config.Positions)
		drv, err := capture.NewDriver(a.config.Backend, capture.DriverOptions{
			Logger:         a.logger,
			Positions:      positions,
			MaxProbe:       a.config.MaxProbe,
			RemoteURL:      a.config.RemoteURL,
			RemoteProducer: a.config.RemoteProducer,
		})
		if err != nil {
			return fmt.Errorf("capture driver: %w", err)
		}
		a.driver = drv
	}
	a.session = capture.NewSession(a.driver, a.logger)
	return nil
}

func (a *App) initDetection() error {
	if a.service == nil {
		scfg := detection.DefaultServiceConfig()
		scfg.Logger = a.logger
		scfg.ModelPath = a.config.ModelPath
		svc, err := detection.NewService(a.config.Detector, scfg)
		if err != nil {
			return fmt.Errorf("detector: %w", err)
		}
		a.service = svc
	}

	orientation, _ := detection.ParseOrientation(a.config.Orientation)
	a.adapter = detection.NewAdapter(a.service,
		detection.WithLogger(a.logger),
		detection.WithOrientation(orientation),
		detection.WithMinConfidence(a.config.MinConfidence),
	)
	return nil
}

func (a *App) initPipeline() error {
	pcfg, err := a.config.PipelineConfig()
	if err != nil {
		return err
	}
	if err := pcfg.Validate(); err != nil {
		return &ConfigError{Field: "Pipeline", Message: err.Error()}
	}

	a.loop = overlay.NewLoop(overlay.DefaultLoopQueue)
	a.canvas = overlay.NewCanvas(pcfg.Geometry.Size)
	a.ctrl = pipeline.New(pcfg, a.session, a.adapter, a.loop, a.canvas, a.logger)
	return nil
}

func (a *App) initCamera() {
	a.cameras = camera.NewManager(a.config.CameraConfig())
	a.cameras.OnConfigChange = func(cfg camera.Config) error {
		debug.Log("applying camera config", "config", cfg)
		a.mu.Lock()
		ctx := a.runCtx
		a.mu.Unlock()

		if err := a.ctrl.SetCapture(ctx, cfg.Apply(a.ctrl.Config().Capture)); err != nil {
			return err
		}
		if a.preview != nil {
			if err := a.preview.SetQuality(cfg.Quality); err != nil {
				a.logger.Warn("preview quality not applied", "error", err)
			}
		}
		a.logger.Info("camera config applied",
			"width", cfg.Width, "height", cfg.Height,
			"framerate", cfg.Framerate, "position", cfg.Position)
		return nil
	}
}

func (a *App) initWeb() {
	if a.config.Port == "" {
		return
	}
	a.webServer = web.NewServer(a, web.Options{
		Addr:      ":" + a.config.Port,
		StaticDir: a.config.StaticDir,
		Logger:    a.logger,
	})

	// Copy log records to the dashboard
	a.logger = slog.New(web.NewLogHandler(a.logger.Handler(), a.webServer, slog.LevelInfo))
	log.Set(a.logger)
}

func (a *App) wireHooks() {
	a.ctrl.OnRender(func(ev pipeline.RenderEvent) {
		if a.preview != nil {
			a.preview.SetOverlay(ev.Shapes, ev.Geometry)
		}
		if a.webServer != nil {
			a.webServer.SendOverlay(ev)
		}
	})

	if a.preview != nil {
		g, _ := a.config.Geometry()
		a.preview.SetOverlay(nil, g)
		a.ctrl.OnFrame(a.preview.Submit)
		if a.webServer != nil {
			a.preview.OnJPEG(a.webServer.SendPreview)
		}
	}
}

// Run starts the overlay loop, preview and dashboard, activates the session
// when AutoStart is set, and blocks until ctx is done.
func (a *App) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	a.mu.Lock()
	a.runCtx = ctx
	a.mu.Unlock()

	g.Go(func() error { return a.loop.Run(ctx) })

	if a.preview != nil {
		g.Go(func() error { return a.preview.Run(ctx) })
	}

	if a.webServer != nil {
		g.Go(func() error { return a.webServer.Run(ctx) })
		g.Go(func() error {
			ticker := time.NewTicker(statusInterval)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return nil
				case <-ticker.C:
					a.webServer.SendStatus()
				}
			}
		})
	}

	if a.config.AutoStart {
		if err := a.StartSession(ctx); err != nil {
			// The dashboard can retry; camera errors are not fatal
			a.logger.Error("session start failed", "error", err)
		}
	}

	<-ctx.Done()
	if err := a.ctrl.Deactivate(); err != nil {
		a.logger.Warn("deactivate failed", "error", err)
	}

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// Shutdown gracefully shuts down all components.
func (a *App) Shutdown() {
	a.logger.Info("shutting down")
	if a.ctrl != nil {
		if err := a.ctrl.Close(); err != nil {
			a.logger.Warn("pipeline close failed", "error", err)
		}
	}
	if a.adapter != nil {
		if err := a.adapter.Close(); err != nil {
			a.logger.Warn("detector close failed", "error", err)
		}
	}
}

// StartSession activates the pipeline under a fresh session ID.
func (a *App) StartSession(ctx context.Context) error {
	if a.ctrl.Running() {
		return nil
	}
	id := uuid.NewString()
	if err := a.ctrl.Activate(ctx); err != nil {
		return err
	}

	a.mu.Lock()
	a.sessionID = id
	a.mu.Unlock()
	a.logger.Info("session started", "session", id, "detector", a.config.Detector, "backend", a.driver.Name())
	return nil
}

// StopSession deactivates the pipeline. Shapes from the last render stay
// on the surface.
func (a *App) StopSession() error {
	if err := a.ctrl.Deactivate(); err != nil {
		return err
	}
	a.mu.Lock()
	id := a.sessionID
	a.mu.Unlock()
	a.logger.Info("session stopped", "session", id)
	return nil
}

// Status returns the dashboard status document.
func (a *App) Status() web.Status {
	a.mu.Lock()
	id := a.sessionID
	a.mu.Unlock()

	g := a.ctrl.Config().Geometry
	if cur, err := a.geometry(); err == nil {
		g = cur
	}

	st := web.Status{
		SessionID: id,
		Running:   a.ctrl.Running(),
		Detector:  a.config.Detector,
		Backend:   a.driver.Name(),
		Geometry:  g,
		Camera:    a.cameras.GetConfig(),
		Pipeline:  a.ctrl.Stats(),
		Uptime:    time.Since(a.startedAt).Round(time.Second).String(),
	}
	if a.webServer != nil {
		st.Clients = a.webServer.ClientCounts()
	}
	return st
}

func (a *App) geometry() (overlay.Geometry, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	return a.ctrl.Geometry(ctx)
}

// Shapes returns the shapes currently on the surface.
func (a *App) Shapes(ctx context.Context) ([]overlay.Shape, error) {
	return a.ctrl.Shapes(ctx)
}

// CameraConfig returns the current camera profile.
func (a *App) CameraConfig() camera.Config {
	return a.cameras.GetConfig()
}

// UpdateCamera applies a partial camera update. A running session restarts
// with the new profile.
func (a *App) UpdateCamera(params map[string]any) (camera.Config, error) {
	if err := a.cameras.UpdateConfig(params); err != nil {
		return camera.Config{}, err
	}
	return a.cameras.GetConfig(), nil
}

// SetGeometry changes the surface geometry used by later renders and the
// preview.
func (a *App) SetGeometry(g overlay.Geometry) error {
	if g.Size.Empty() {
		return fmt.Errorf("surface size must be positive, got %s", g.Size)
	}
	debug.Log("resizing surface", "size", g.Size.String(), "gravity", g.Gravity)
	if err := a.ctrl.Resize(g); err != nil {
		return err
	}
	if a.preview != nil {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		shapes, err := a.ctrl.Shapes(ctx)
		if err != nil {
			return err
		}
		a.preview.SetOverlay(shapes, g)
	}
	a.logger.Info("surface geometry changed", "size", g.Size.String(), "gravity", g.Gravity)
	return nil
}

// Controller exposes the pipeline controller.
func (a *App) Controller() *pipeline.Controller {
	return a.ctrl
}

// Canvas exposes the overlay surface.
func (a *App) Canvas() *overlay.Canvas {
	return a.canvas
}
