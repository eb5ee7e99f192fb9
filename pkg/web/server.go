// Package web provides the live detection dashboard: a JSON API over the
// pipeline and websocket feeds of previews, overlay shapes, status and logs.
package web

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/websocket/v2"
	"github.com/teslashibe/go-humanrect/pkg/camera"
	"github.com/teslashibe/go-humanrect/pkg/hub"
	"github.com/teslashibe/go-humanrect/pkg/overlay"
	"github.com/teslashibe/go-humanrect/pkg/pipeline"
	"golang.org/x/sync/errgroup"
)

const maxLogs = 500

// Controller is what the dashboard drives. The humanrect App implements it.
type Controller interface {
	Status() Status
	Shapes(ctx context.Context) ([]overlay.Shape, error)
	CameraConfig() camera.Config
	UpdateCamera(params map[string]any) (camera.Config, error)
	StartSession(ctx context.Context) error
	StopSession() error
	SetGeometry(g overlay.Geometry) error
}

// Status is the dashboard status document.
type Status struct {
	SessionID string           `json:"session_id"`
	Running   bool             `json:"running"`
	Detector  string           `json:"detector"`
	Backend   string           `json:"backend"`
	Geometry  overlay.Geometry `json:"geometry"`
	Camera    camera.Config    `json:"camera"`
	Pipeline  pipeline.Stats   `json:"pipeline"`
	Clients   map[string]int   `json:"clients"`
	Uptime    string           `json:"uptime"`
}

// LogEntry represents a log line for the dashboard
type LogEntry struct {
	Time    string `json:"time"`
	Level   string `json:"level"`
	Message string `json:"message"`
}

// Server is the web dashboard server
type Server struct {
	app    *fiber.App
	addr   string
	ctrl   Controller
	logger *slog.Logger

	logs   []LogEntry
	logsMu sync.RWMutex

	previewHub *hub.Hub
	overlayHub *hub.Hub
	statusHub  *hub.Hub
	logHub     *hub.Hub
}

// Options configures a Server.
type Options struct {
	Addr      string
	StaticDir string
	Logger    *slog.Logger
}

// NewServer creates a new web dashboard server
func NewServer(ctrl Controller, opts Options) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "web")

	s := &Server{
		addr:       opts.Addr,
		ctrl:       ctrl,
		logger:     logger,
		logs:       make([]LogEntry, 0, maxLogs),
		previewHub: hub.New("preview", hub.WithLogger(logger), hub.WithRetain()),
		overlayHub: hub.New("overlay", hub.WithLogger(logger), hub.WithRetain()),
		statusHub:  hub.New("status", hub.WithLogger(logger), hub.WithRetain()),
		logHub:     hub.New("logs", hub.WithLogger(logger)),
	}

	app := fiber.New(fiber.Config{
		AppName:               "Human Rect",
		DisableStartupMessage: true,
		ErrorHandler:          errorHandler,
	})

	// CORS for local development
	app.Use(cors.New())

	if opts.StaticDir != "" {
		app.Static("/", opts.StaticDir)
	}

	api := app.Group("/api")
	api.Get("/status", s.handleStatus)
	api.Get("/shapes", s.handleShapes)
	api.Get("/camera", s.handleGetCamera)
	api.Put("/camera", s.handlePutCamera)
	api.Get("/camera/presets", s.handlePresets)
	api.Post("/session/start", s.handleStart)
	api.Post("/session/stop", s.handleStop)
	api.Put("/preview", s.handlePutPreview)
	api.Get("/logs", s.handleGetLogs)

	// WebSocket upgrade middleware
	app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})

	app.Get("/ws/preview", websocket.New(s.serveHub(s.previewHub)))
	app.Get("/ws/overlay", websocket.New(s.serveHub(s.overlayHub)))
	app.Get("/ws/status", websocket.New(s.serveHub(s.statusHub)))
	app.Get("/ws/logs", websocket.New(s.serveHub(s.logHub)))

	s.app = app
	return s
}

// Run starts the hubs and serves HTTP until ctx is done.
func (s *Server) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	for _, h := range s.hubs() {
		h := h
		g.Go(func() error { return h.Run(ctx) })
	}

	g.Go(func() error {
		s.logger.Info("web dashboard listening", "addr", s.addr)
		if err := s.app.Listen(s.addr); err != nil {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-ctx.Done()
		return s.Shutdown()
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// Shutdown gracefully stops the web server
func (s *Server) Shutdown() error {
	return s.app.ShutdownWithTimeout(5 * time.Second)
}

// App exposes the fiber app, mainly for tests.
func (s *Server) App() *fiber.App {
	return s.app
}

func (s *Server) hubs() []*hub.Hub {
	return []*hub.Hub{s.previewHub, s.overlayHub, s.statusHub, s.logHub}
}

// ClientCounts returns connected clients per feed.
func (s *Server) ClientCounts() map[string]int {
	out := make(map[string]int, 4)
	for _, h := range s.hubs() {
		out[h.Name()] = h.ClientCount()
	}
	return out
}

// SendPreview sends a preview JPEG to all preview clients
func (s *Server) SendPreview(jpegData []byte) {
	s.previewHub.BroadcastBinary(jpegData)
}

// SendOverlay sends the rendered shapes to all overlay clients
func (s *Server) SendOverlay(ev pipeline.RenderEvent) {
	s.broadcast(s.overlayHub, "overlay", ev)
}

// SendStatus pushes the current status to status clients.
func (s *Server) SendStatus() {
	s.broadcast(s.statusHub, "status", s.ctrl.Status())
}

// broadcast sends an event envelope on h, logging encode failures.
func (s *Server) broadcast(h *hub.Hub, typ string, data any) {
	if err := h.BroadcastEvent(typ, data); err != nil {
		s.logger.Warn("encode event", "hub", h.Name(), "type", typ, "error", err)
	}
}

// AddLog adds a log entry and broadcasts to clients
func (s *Server) AddLog(level, message string) {
	entry := LogEntry{
		Time:    time.Now().Format("15:04:05"),
		Level:   level,
		Message: message,
	}

	s.logsMu.Lock()
	s.logs = append(s.logs, entry)
	if len(s.logs) > maxLogs {
		s.logs = s.logs[1:]
	}
	s.logsMu.Unlock()

	s.broadcast(s.logHub, "log", entry)
}

// Logs returns a copy of the buffered log entries.
func (s *Server) Logs() []LogEntry {
	s.logsMu.RLock()
	defer s.logsMu.RUnlock()
	return append([]LogEntry(nil), s.logs...)
}

func (s *Server) serveHub(h *hub.Hub) func(*websocket.Conn) {
	return func(conn *websocket.Conn) {
		client, err := hub.NewClient(h, conn)
		if err != nil {
			conn.Close()
			return
		}
		client.Run()
	}
}
