package web

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/teslashibe/go-humanrect/pkg/camera"
	"github.com/teslashibe/go-humanrect/pkg/capture"
	"github.com/teslashibe/go-humanrect/pkg/overlay"
)

type fakeController struct {
	running  bool
	startErr error
	geometry overlay.Geometry
	cameras  *camera.Manager
	shapes   []overlay.Shape
}

func newFakeController() *fakeController {
	return &fakeController{cameras: camera.NewManager(camera.DefaultConfig())}
}

func (f *fakeController) Status() Status {
	return Status{Running: f.running, Geometry: f.geometry, Camera: f.cameras.GetConfig()}
}

func (f *fakeController) Shapes(ctx context.Context) ([]overlay.Shape, error) {
	return f.shapes, nil
}

func (f *fakeController) CameraConfig() camera.Config { return f.cameras.GetConfig() }

func (f *fakeController) UpdateCamera(params map[string]any) (camera.Config, error) {
	if err := f.cameras.UpdateConfig(params); err != nil {
		return camera.Config{}, err
	}
	return f.cameras.GetConfig(), nil
}

func (f *fakeController) StartSession(ctx context.Context) error {
	if f.startErr != nil {
		return f.startErr
	}
	f.running = true
	return nil
}

func (f *fakeController) StopSession() error {
	f.running = false
	return nil
}

func (f *fakeController) SetGeometry(g overlay.Geometry) error {
	f.geometry = g
	return nil
}

func do(t *testing.T, s *Server, method, path, body string) (int, []byte) {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, r)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := s.App().Test(req, -1)
	require.NoError(t, err)
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, data
}

func TestServer_SessionLifecycle(t *testing.T) {
	ctrl := newFakeController()
	s := NewServer(ctrl, Options{})

	code, _ := do(t, s, http.MethodPost, "/api/session/start", "")
	assert.Equal(t, http.StatusOK, code)
	assert.True(t, ctrl.running)

	code, body := do(t, s, http.MethodGet, "/api/status", "")
	assert.Equal(t, http.StatusOK, code)
	var st Status
	require.NoError(t, json.Unmarshal(body, &st))
	assert.True(t, st.Running)

	code, _ = do(t, s, http.MethodPost, "/api/session/stop", "")
	assert.Equal(t, http.StatusOK, code)
	assert.False(t, ctrl.running)
}

func TestServer_StartWithoutCamera(t *testing.T) {
	ctrl := newFakeController()
	ctrl.startErr = fmt.Errorf("configure: %w", capture.ErrNoDeviceAvailable)
	s := NewServer(ctrl, Options{})

	code, body := do(t, s, http.MethodPost, "/api/session/start", "")
	assert.Equal(t, http.StatusServiceUnavailable, code)
	assert.Contains(t, string(body), "no")
}

func TestServer_Shapes(t *testing.T) {
	ctrl := newFakeController()
	s := NewServer(ctrl, Options{})

	code, body := do(t, s, http.MethodGet, "/api/shapes", "")
	assert.Equal(t, http.StatusOK, code)
	assert.JSONEq(t, `[]`, string(body))

	ctrl.shapes = []overlay.Shape{overlay.NewShape(overlay.Rect{X: 1, Y: 2, W: 3, H: 4}, overlay.DefaultStyle())}
	_, body = do(t, s, http.MethodGet, "/api/shapes", "")
	var shapes []overlay.Shape
	require.NoError(t, json.Unmarshal(body, &shapes))
	require.Len(t, shapes, 1)
	assert.Equal(t, overlay.Rect{X: 1, Y: 2, W: 3, H: 4}, shapes[0].Rect)
}

func TestServer_Camera(t *testing.T) {
	ctrl := newFakeController()
	s := NewServer(ctrl, Options{})

	code, body := do(t, s, http.MethodPut, "/api/camera", `{"preset":"portrait-480","framerate":15}`)
	require.Equal(t, http.StatusOK, code, string(body))
	var cfg camera.Config
	require.NoError(t, json.Unmarshal(body, &cfg))
	assert.Equal(t, 15, cfg.Framerate)
	assert.Equal(t, 480, cfg.Height)

	code, body = do(t, s, http.MethodPut, "/api/camera", `{"width":10}`)
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Contains(t, string(body), "problems")

	code, _ = do(t, s, http.MethodPut, "/api/camera", `not json`)
	assert.Equal(t, http.StatusBadRequest, code)

	code, _ = do(t, s, http.MethodGet, "/api/camera/presets", "")
	assert.Equal(t, http.StatusOK, code)
}

func TestServer_Preview(t *testing.T) {
	ctrl := newFakeController()
	s := NewServer(ctrl, Options{})

	code, _ := do(t, s, http.MethodPut, "/api/preview", `{"width":1080,"height":1920,"gravity":"fit"}`)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, overlay.Geometry{Size: overlay.Size{W: 1080, H: 1920}, Gravity: overlay.GravityFit}, ctrl.geometry)

	code, _ = do(t, s, http.MethodPut, "/api/preview", `{"width":0,"height":1920}`)
	assert.Equal(t, http.StatusBadRequest, code)

	code, _ = do(t, s, http.MethodPut, "/api/preview", `{"width":10,"height":10,"gravity":"tile"}`)
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestServer_WebSocketRequiresUpgrade(t *testing.T) {
	s := NewServer(newFakeController(), Options{})
	code, _ := do(t, s, http.MethodGet, "/ws/preview", "")
	assert.Equal(t, http.StatusUpgradeRequired, code)
}

func TestLogHandler_CopiesToDashboard(t *testing.T) {
	s := NewServer(newFakeController(), Options{})
	base := slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelWarn})
	logger := slog.New(NewLogHandler(base, s, slog.LevelInfo)).With("component", "test")

	logger.Debug("hidden")
	logger.Info("session started", "seq", 3)

	logs := s.Logs()
	require.Len(t, logs, 1)
	assert.Equal(t, "INFO", logs[0].Level)
	assert.Equal(t, "session started component=test seq=3", logs[0].Message)

	code, body := do(t, s, http.MethodGet, "/api/logs", "")
	assert.Equal(t, http.StatusOK, code)
	assert.Contains(t, string(body), "session started")
}

func TestServer_BroadcastLogsEncodeFailure(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))
	s := NewServer(newFakeController(), Options{Logger: logger})

	s.broadcast(s.logHub, "log", make(chan int))
	assert.Contains(t, buf.String(), "encode event")
	assert.Contains(t, buf.String(), "hub=logs")

	_, dropped := s.logHub.Stats()
	assert.Zero(t, dropped)
}
