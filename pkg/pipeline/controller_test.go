package pipeline

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/teslashibe/go-humanrect/pkg/capture"
	"github.com/teslashibe/go-humanrect/pkg/detection"
	"github.com/teslashibe/go-humanrect/pkg/overlay"
)

type harness struct {
	ctrl   *Controller
	canvas *overlay.Canvas
	loop   *overlay.Loop
	cancel context.CancelFunc
	done   chan struct{}
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.Capture.Backend = capture.BackendMock
	cfg.Capture.Width = 72
	cfg.Capture.Height = 128
	cfg.Capture.Framerate = 200
	cfg.Geometry = overlay.Geometry{Size: overlay.Size{W: 1080, H: 1920}, Gravity: overlay.GravityFill}
	return cfg
}

func newHarness(t *testing.T, cfg Config, svc detection.ServiceFunc, driverOpts ...capture.MockOption) *harness {
	t.Helper()

	loop := overlay.NewLoop(16)
	canvas := overlay.NewCanvas(cfg.Geometry.Size)
	session := capture.NewSession(capture.NewMockDriver(nil, driverOpts...), nil)
	ctrl := New(cfg, session, detection.NewAdapter(svc), loop, canvas, nil)

	ctx, cancel := context.WithCancel(context.Background())
	h := &harness{ctrl: ctrl, canvas: canvas, loop: loop, cancel: cancel, done: make(chan struct{})}
	go func() {
		defer close(h.done)
		loop.Run(ctx)
	}()

	t.Cleanup(func() {
		ctrl.Close()
		cancel()
		<-h.done
	})
	return h
}

func twoPeople(ctx context.Context, req detection.Request) ([]detection.Observation, error) {
	return []detection.Observation{
		{Box: detection.Box{X: 0.1, Y: 0.1, W: 0.2, H: 0.3}, Confidence: 0.9},
		{Box: detection.Box{X: 0.5, Y: 0.4, W: 0.2, H: 0.25}, Confidence: 0.8},
	}, nil
}

func TestController_RendersDetections(t *testing.T) {
	h := newHarness(t, testConfig(), twoPeople)

	events := make(chan RenderEvent, 64)
	h.ctrl.OnRender(func(ev RenderEvent) {
		select {
		case events <- ev:
		default:
		}
	})

	require.NoError(t, h.ctrl.Activate(context.Background()))
	assert.True(t, h.ctrl.Running())

	var ev RenderEvent
	select {
	case ev = <-events:
	case <-time.After(2 * time.Second):
		t.Fatal("no render")
	}

	require.Len(t, ev.Shapes, 2)
	assert.InDelta(t, 108, ev.Shapes[0].Rect.X, 1e-6)
	assert.InDelta(t, 192, ev.Shapes[0].Rect.Y, 1e-6)
	assert.InDelta(t, 540, ev.Shapes[1].Rect.X, 1e-6)
	assert.InDelta(t, 768, ev.Shapes[1].Rect.Y, 1e-6)

	shapes, err := h.ctrl.Shapes(context.Background())
	require.NoError(t, err)
	assert.Len(t, shapes, 2)

	stats := h.ctrl.Stats()
	assert.GreaterOrEqual(t, stats.Renders, int64(1))
	assert.Equal(t, int64(2), stats.LastBoxes)
	assert.GreaterOrEqual(t, stats.FramesCaptured, stats.Detections)
}

func TestController_EmptyRoom(t *testing.T) {
	h := newHarness(t, testConfig(), func(ctx context.Context, req detection.Request) ([]detection.Observation, error) {
		return nil, nil
	})

	require.NoError(t, h.ctrl.Activate(context.Background()))
	require.Eventually(t, func() bool { return h.ctrl.Stats().Renders > 2 }, 2*time.Second, 5*time.Millisecond)

	shapes, err := h.ctrl.Shapes(context.Background())
	require.NoError(t, err)
	assert.Empty(t, shapes)
}

func TestController_FailureRendersZeroBoxes(t *testing.T) {
	var calls atomic.Int64
	h := newHarness(t, testConfig(), func(ctx context.Context, req detection.Request) ([]detection.Observation, error) {
		if calls.Add(1) == 1 {
			return twoPeople(ctx, req)
		}
		return nil, assert.AnError
	})

	require.NoError(t, h.ctrl.Activate(context.Background()))
	require.Eventually(t, func() bool { return h.ctrl.Stats().Failures > 0 && h.ctrl.Stats().Renders > 1 }, 2*time.Second, 5*time.Millisecond)

	shapes, err := h.ctrl.Shapes(context.Background())
	require.NoError(t, err)
	assert.Empty(t, shapes)
}

func TestController_OutOfOrderResultIsStale(t *testing.T) {
	release := make(chan struct{})
	var firstSeq atomic.Uint64

	cfg := testConfig()
	cfg.MaxInFlight = 2

	h := newHarness(t, cfg, func(ctx context.Context, req detection.Request) ([]detection.Observation, error) {
		if firstSeq.CompareAndSwap(0, req.Frame.Seq) {
			select {
			case <-release:
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
		return twoPeople(ctx, req)
	})

	require.NoError(t, h.ctrl.Activate(context.Background()))
	require.Eventually(t, func() bool { return h.ctrl.Stats().Renders >= 2 }, 2*time.Second, 5*time.Millisecond)

	close(release)
	require.Eventually(t, func() bool { return h.ctrl.Stats().StaleResults >= 1 }, 2*time.Second, 5*time.Millisecond)

	shapes, err := h.ctrl.Shapes(context.Background())
	require.NoError(t, err)
	assert.Len(t, shapes, 2)
}

func TestController_DropsWhenBusy(t *testing.T) {
	release := make(chan struct{})
	var once sync.Once

	h := newHarness(t, testConfig(), func(ctx context.Context, req detection.Request) ([]detection.Observation, error) {
		select {
		case <-release:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		return nil, nil
	})
	defer once.Do(func() { close(release) })

	require.NoError(t, h.ctrl.Activate(context.Background()))
	require.Eventually(t, func() bool { return h.ctrl.Stats().FramesDropped >= 5 }, 2*time.Second, 5*time.Millisecond)

	stats := h.ctrl.Stats()
	assert.Equal(t, int64(0), stats.Detections)
	assert.GreaterOrEqual(t, stats.FramesCaptured, stats.FramesDropped+1)

	once.Do(func() { close(release) })
	require.Eventually(t, func() bool { return h.ctrl.Stats().Renders > 0 }, 2*time.Second, 5*time.Millisecond)
}

func TestController_LatestKeepsNewestFrame(t *testing.T) {
	gate := make(chan struct{})
	var seen []uint64
	var mu sync.Mutex

	cfg := testConfig()
	cfg.Backpressure = BackpressureLatest

	h := newHarness(t, cfg, func(ctx context.Context, req detection.Request) ([]detection.Observation, error) {
		mu.Lock()
		seen = append(seen, req.Frame.Seq)
		first := len(seen) == 1
		mu.Unlock()

		if first {
			select {
			case <-gate:
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
		return nil, nil
	})

	require.NoError(t, h.ctrl.Activate(context.Background()))
	require.Eventually(t, func() bool { return h.ctrl.Stats().FramesDropped >= 3 }, 2*time.Second, 5*time.Millisecond)
	close(gate)
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(seen) >= 2
	}, 2*time.Second, 5*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	// The second detection skipped the frames replaced while the first ran.
	assert.Greater(t, seen[1], seen[0]+1)
}

func TestController_NoRenderAfterDeactivate(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{}, 1)

	h := newHarness(t, testConfig(), func(ctx context.Context, req detection.Request) ([]detection.Observation, error) {
		select {
		case started <- struct{}{}:
		default:
		}
		<-release
		return twoPeople(ctx, req)
	})

	require.NoError(t, h.ctrl.Activate(context.Background()))
	<-started

	require.NoError(t, h.ctrl.Deactivate())
	assert.False(t, h.ctrl.Running())
	close(release)

	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, int64(0), h.ctrl.Stats().Renders)
	assert.Equal(t, 0, h.canvas.Len())

	require.NoError(t, h.ctrl.Deactivate())
}

func TestController_SetupErrors(t *testing.T) {
	h := newHarness(t, testConfig(), twoPeople, capture.WithMockDevices())

	err := h.ctrl.Activate(context.Background())
	require.ErrorIs(t, err, capture.ErrNoDeviceAvailable)
	assert.False(t, h.ctrl.Running())
	assert.Equal(t, capture.StateUninitialized, h.ctrl.Stats().Capture.State)
	require.NoError(t, h.ctrl.Deactivate())
}

func TestController_ReactivateAndClose(t *testing.T) {
	h := newHarness(t, testConfig(), twoPeople)

	require.NoError(t, h.ctrl.Activate(context.Background()))
	require.NoError(t, h.ctrl.Activate(context.Background()))
	require.NoError(t, h.ctrl.Deactivate())
	require.NoError(t, h.ctrl.Activate(context.Background()))
	require.Eventually(t, func() bool { return h.ctrl.Stats().Renders > 0 }, 2*time.Second, 5*time.Millisecond)

	require.NoError(t, h.ctrl.Close())
	require.NoError(t, h.ctrl.Close())
	assert.ErrorIs(t, h.ctrl.Activate(context.Background()), ErrClosed)
	assert.Equal(t, capture.StateTornDown, h.ctrl.Stats().Capture.State)
}

func TestController_Resize(t *testing.T) {
	h := newHarness(t, testConfig(), twoPeople)

	g := overlay.Geometry{Size: overlay.Size{W: 720, H: 1280}, Gravity: overlay.GravityFit}
	require.NoError(t, h.ctrl.Resize(g))

	got, err := h.ctrl.Geometry(context.Background())
	require.NoError(t, err)
	assert.Equal(t, g, got)
	assert.Equal(t, g.Size, h.canvas.Size())
}

func TestController_SetCaptureRestarts(t *testing.T) {
	h := newHarness(t, testConfig(), twoPeople)
	require.NoError(t, h.ctrl.Activate(context.Background()))

	cfg := testConfig().Capture
	cfg.Format = capture.FormatRGB24
	require.NoError(t, h.ctrl.SetCapture(context.Background(), cfg))

	assert.True(t, h.ctrl.Running())
	assert.Equal(t, capture.FormatRGB24, h.ctrl.Config().Capture.Format)
	assert.Equal(t, capture.FormatRGB24, h.ctrl.Stats().Capture.Handle.Format)
}

func TestParseBackpressure(t *testing.T) {
	b, err := ParseBackpressure("LATEST")
	require.NoError(t, err)
	assert.Equal(t, BackpressureLatest, b)

	b, err = ParseBackpressure("")
	require.NoError(t, err)
	assert.Equal(t, BackpressureDrop, b)

	_, err = ParseBackpressure("queue")
	assert.Error(t, err)
}

func TestConfig_Validate(t *testing.T) {
	cfg := testConfig()
	require.NoError(t, cfg.Validate())

	cfg.MaxInFlight = 0
	assert.Error(t, cfg.Validate())

	cfg = testConfig()
	cfg.Geometry.Size = overlay.Size{}
	assert.Error(t, cfg.Validate())
}
