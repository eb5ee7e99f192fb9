// humanrect - live full-body human detection with a bounding-box overlay
// Streams camera frames through a person detector and draws one box per
// person on the preview, served on a web dashboard.
package main

import (
	"context"
	"flag"
	stdlog "log"
	"os/signal"
	"syscall"

	"github.com/teslashibe/go-humanrect/internal/config"
	"github.com/teslashibe/go-humanrect/internal/log"
	"github.com/teslashibe/go-humanrect/pkg/capture"
	"github.com/teslashibe/go-humanrect/pkg/detection"
	_ "github.com/teslashibe/go-humanrect/pkg/capture/device" // Register local cameras
	_ "github.com/teslashibe/go-humanrect/pkg/capture/remote" // Register WebRTC cameras
	_ "github.com/teslashibe/go-humanrect/pkg/detection/cv"  // Register HOG and YOLO
	"github.com/teslashibe/go-humanrect/pkg/humanrect"
	"github.com/teslashibe/go-humanrect/pkg/preview"
)

func main() {
	if err := config.LoadDotEnv(); err != nil {
		stdlog.Fatalf("❌ .env: %v", err)
	}

	cfg := parseFlags()
	log.Init(cfg.LogLevel)
	logger := log.L()

	g, err := cfg.Geometry()
	if err != nil {
		stdlog.Fatalf("❌ Configuration error: %v", err)
	}
	orientation, err := detection.ParseOrientation(cfg.Orientation)
	if err != nil {
		stdlog.Fatalf("❌ Configuration error: %v", err)
	}
	pcfg := preview.Config{
		Scale:       cfg.PreviewScale,
		FPS:         cfg.PreviewFPS,
		Quality:     cfg.CameraConfig().Quality,
		Orientation: orientation,
	}
	composer := preview.NewComposer(pcfg, g, logger)

	app, err := humanrect.New(cfg, humanrect.WithPreviewer(composer), humanrect.WithLogger(logger))
	if err != nil {
		stdlog.Fatalf("❌ Configuration error: %v", err)
	}

	if err := app.Init(); err != nil {
		stdlog.Fatalf("❌ Initialization failed: %v", err)
	}
	defer app.Shutdown()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := app.Run(ctx); err != nil {
		stdlog.Fatalf("❌ Runtime error: %v", err)
	}
}

// parseFlags parses command line flags and returns configuration.
// Environment variables override defaults; explicit flags override both.
func parseFlags() humanrect.Config {
	cfg := humanrect.DefaultConfig()
	cfg.LoadEnvConfig()

	debugFlag := flag.Bool("debug", false, "Enable verbose debug logging")
	debugPipeline := flag.Bool("debug-pipeline", false, "Log every frame hand-off, detection and render")
	port := flag.String("port", cfg.Port, "Dashboard port (empty disables the dashboard)")
	staticDir := flag.String("static", cfg.StaticDir, "Directory of dashboard static files")
	backend := flag.String("backend", string(cfg.Backend), "Capture backend: auto, gocv, remote, mock")
	preset := flag.String("preset", cfg.CameraPreset, "Camera preset: default, portrait-1080, portrait-720, portrait-480, front, low-power")
	position := flag.String("position", cfg.CameraPosition, "Camera position: back, front, external")
	remoteURL := flag.String("remote-url", cfg.RemoteURL, "Signalling URL of a remote WebRTC camera")
	detector := flag.String("detector", cfg.Detector, "Person detector: hog, yolo")
	model := flag.String("model", cfg.ModelPath, "YOLO ONNX model path")
	size := flag.String("surface", cfg.PreviewSize, "Preview surface size WIDTHxHEIGHT")
	gravity := flag.String("gravity", cfg.PreviewGravity, "Preview gravity: fill, fit, stretch")
	maxInFlight := flag.Int("max-in-flight", cfg.MaxInFlight, "Concurrent detections")
	backpressure := flag.String("backpressure", cfg.Backpressure, "Frame hand-off when busy: drop, latest")
	noStart := flag.Bool("no-start", false, "Wait for the dashboard to start the session")

	flag.Parse()

	cfg.Debug = *debugFlag || *debugPipeline
	cfg.DebugPipeline = *debugPipeline
	if cfg.Debug {
		cfg.LogLevel = "debug"
	}

	cfg.Port, cfg.StaticDir = *port, *staticDir
	cfg.Backend = capture.Backend(*backend)
	cfg.CameraPreset, cfg.CameraPosition = *preset, *position
	cfg.RemoteURL = *remoteURL
	cfg.Detector, cfg.ModelPath = *detector, *model
	cfg.PreviewSize, cfg.PreviewGravity = *size, *gravity
	cfg.MaxInFlight, cfg.Backpressure = *maxInFlight, *backpressure
	cfg.AutoStart = !*noStart

	return cfg
}
