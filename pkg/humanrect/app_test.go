package humanrect

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/teslashibe/go-humanrect/pkg/camera"
	"github.com/teslashibe/go-humanrect/pkg/capture"
	"github.com/teslashibe/go-humanrect/pkg/detection"
	"github.com/teslashibe/go-humanrect/pkg/overlay"
)

// fakePreview records what the app feeds the preview.
type fakePreview struct {
	mu       sync.Mutex
	frames   int
	shapes   []overlay.Shape
	geometry overlay.Geometry
	quality  int
}

func (p *fakePreview) Submit(capture.Frame) {
	p.mu.Lock()
	p.frames++
	p.mu.Unlock()
}

func (p *fakePreview) SetOverlay(shapes []overlay.Shape, g overlay.Geometry) {
	p.mu.Lock()
	p.shapes, p.geometry = shapes, g
	p.mu.Unlock()
}

func (p *fakePreview) SetQuality(q int) error {
	p.mu.Lock()
	p.quality = q
	p.mu.Unlock()
	return nil
}

func (p *fakePreview) OnJPEG(func([]byte)) {}

func (p *fakePreview) Run(ctx context.Context) error {
	<-ctx.Done()
	return nil
}

func (p *fakePreview) snapshot() (int, int, overlay.Geometry) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.frames, len(p.shapes), p.geometry
}

func onePerson(ctx context.Context, req detection.Request) ([]detection.Observation, error) {
	return []detection.Observation{{Box: detection.Box{X: 0.25, Y: 0.25, W: 0.5, H: 0.5}, Confidence: 0.9}}, nil
}

func testAppConfig() Config {
	cfg := DefaultConfig()
	cfg.Port = ""
	cfg.Backend = capture.BackendMock
	cfg.CameraPreset = camera.PresetPortrait480
	cfg.PreviewSize = "1080x1920"
	return cfg
}

func startApp(t *testing.T, cfg Config, opts ...Option) (*App, *fakePreview) {
	t.Helper()

	prev := &fakePreview{}
	opts = append([]Option{WithPreviewer(prev), WithService(detection.ServiceFunc(onePerson))}, opts...)

	app, err := New(cfg, opts...)
	require.NoError(t, err)
	require.NoError(t, app.Init())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- app.Run(ctx) }()

	t.Cleanup(func() {
		cancel()
		select {
		case err := <-done:
			assert.NoError(t, err)
		case <-time.After(3 * time.Second):
			t.Error("app did not stop")
		}
		app.Shutdown()
	})
	return app, prev
}

func TestApp_RendersOnePerson(t *testing.T) {
	app, prev := startApp(t, testAppConfig())

	require.Eventually(t, func() bool { return app.Canvas().Len() == 1 }, 2*time.Second, 5*time.Millisecond)

	shapes, err := app.Shapes(context.Background())
	require.NoError(t, err)
	require.Len(t, shapes, 1)
	// 480x640 frame on 1080x1920 fill: scale 3, 180pt cropped each side
	assert.InDelta(t, 180, shapes[0].Rect.X, 0.5)
	assert.InDelta(t, 480, shapes[0].Rect.Y, 0.5)
	assert.InDelta(t, 720, shapes[0].Rect.W, 0.5)
	assert.InDelta(t, 960, shapes[0].Rect.H, 0.5)

	require.Eventually(t, func() bool {
		frames, n, _ := prev.snapshot()
		return frames > 0 && n == 1
	}, 2*time.Second, 5*time.Millisecond)

	st := app.Status()
	assert.True(t, st.Running)
	assert.NotEmpty(t, st.SessionID)
	assert.Equal(t, "mock", st.Backend)
	assert.Greater(t, st.Pipeline.Renders, int64(0))
}

func TestApp_StopAndStart(t *testing.T) {
	cfg := testAppConfig()
	cfg.AutoStart = false
	app, _ := startApp(t, cfg)

	assert.False(t, app.Status().Running)
	require.NoError(t, app.StartSession(context.Background()))
	first := app.Status().SessionID

	require.NoError(t, app.StopSession())
	assert.False(t, app.Status().Running)

	require.NoError(t, app.StartSession(context.Background()))
	assert.NotEqual(t, first, app.Status().SessionID)
}

func TestApp_NoCamera(t *testing.T) {
	cfg := testAppConfig()
	cfg.AutoStart = false
	app, _ := startApp(t, cfg, WithDriver(capture.NewMockDriver(nil, capture.WithMockDevices())))

	err := app.StartSession(context.Background())
	require.ErrorIs(t, err, capture.ErrNoDeviceAvailable)
	assert.False(t, app.Status().Running)
}

func TestApp_UpdateCameraRestarts(t *testing.T) {
	app, prev := startApp(t, testAppConfig())
	require.Eventually(t, func() bool { return app.Status().Running }, time.Second, 5*time.Millisecond)

	cfg, err := app.UpdateCamera(map[string]any{"framerate": 15, "quality": 55})
	require.NoError(t, err)
	assert.Equal(t, 15, cfg.Framerate)
	assert.Equal(t, 15, app.Controller().Config().Capture.Framerate)
	assert.True(t, app.Status().Running)

	prev.mu.Lock()
	assert.Equal(t, 55, prev.quality)
	prev.mu.Unlock()

	_, err = app.UpdateCamera(map[string]any{"width": 1})
	var ve *camera.ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, 15, app.CameraConfig().Framerate)
}

func TestApp_SetGeometry(t *testing.T) {
	app, prev := startApp(t, testAppConfig())

	g := overlay.Geometry{Size: overlay.Size{W: 720, H: 720}, Gravity: overlay.GravityFit}
	require.NoError(t, app.SetGeometry(g))

	require.Eventually(t, func() bool { return app.Status().Geometry == g }, time.Second, 5*time.Millisecond)
	_, _, pg := prev.snapshot()
	assert.Equal(t, g.Size, pg.Size)

	require.Error(t, app.SetGeometry(overlay.Geometry{}))
}
