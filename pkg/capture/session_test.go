package capture

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.Backend = BackendMock
	cfg.Width = 64
	cfg.Height = 48
	cfg.Framerate = 200
	cfg.ReadBackoff = time.Millisecond
	return cfg
}

// collector records delivered frames.
type collector struct {
	mu     sync.Mutex
	frames []Frame
	got    chan struct{}
}

func newCollector() *collector {
	return &collector{got: make(chan struct{}, 1024)}
}

func (c *collector) onFrame(f Frame) {
	c.mu.Lock()
	c.frames = append(c.frames, f)
	c.mu.Unlock()
	c.got <- struct{}{}
}

func (c *collector) waitFor(t *testing.T, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		select {
		case <-c.got:
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for frame %d of %d", i+1, n)
		}
	}
}

func (c *collector) snapshot() []Frame {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Frame(nil), c.frames...)
}

func TestSession_SelectsFirstWideAngleAtPosition(t *testing.T) {
	front := MockBackCamera()
	front.ID, front.Name, front.Position = "f", "front", PositionFront

	tele := MockBackCamera()
	tele.ID, tele.Name, tele.Type = "t", "tele", DeviceTelephoto

	wideA := MockBackCamera()
	wideA.ID, wideA.Name = "a", "wide-a"

	wideB := MockBackCamera()
	wideB.ID, wideB.Name = "b", "wide-b"

	drv := NewMockDriver(nil, WithMockDevices(front, tele, wideA, wideB))
	s := NewSession(drv, nil)

	h, err := s.Configure(context.Background(), testConfig())
	require.NoError(t, err)
	assert.Equal(t, "a", h.Device.ID)
	assert.Equal(t, StateConfigured, s.State())
}

func TestSession_ConfigureErrors(t *testing.T) {
	tests := []struct {
		name    string
		driver  *MockDriver
		mutate  func(*Config)
		wantErr error
	}{
		{
			name:    "no device at position",
			driver:  NewMockDriver(nil),
			mutate:  func(c *Config) { c.Position = PositionFront },
			wantErr: ErrNoDeviceAvailable,
		},
		{
			name:    "empty device list",
			driver:  NewMockDriver(nil, WithMockDevices()),
			wantErr: ErrNoDeviceAvailable,
		},
		{
			name:    "enumeration fails",
			driver:  NewMockDriver(nil, WithDevicesError(errors.New("bus error"))),
			wantErr: ErrNoDeviceAvailable,
		},
		{
			name:    "landscape not supported",
			driver:  NewMockDriver(nil),
			mutate:  func(c *Config) { c.Orientation = OrientationLandscapeLeft },
			wantErr: ErrUnsupportedOrientation,
		},
		{
			name:    "input rejected",
			driver:  NewMockDriver(nil, WithOpenError(errors.New("device busy"))),
			wantErr: ErrInputRejected,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig()
			if tt.mutate != nil {
				tt.mutate(&cfg)
			}

			s := NewSession(tt.driver, nil)
			_, err := s.Configure(context.Background(), cfg)
			require.ErrorIs(t, err, tt.wantErr)
			assert.Equal(t, StateUninitialized, s.State())
			assert.Nil(t, s.Handle())
		})
	}
}

func TestSession_UnspecifiedPositionMatchesAny(t *testing.T) {
	front := MockBackCamera()
	front.Position = PositionFront

	s := NewSession(NewMockDriver(nil, WithMockDevices(front)), nil)
	cfg := testConfig()
	cfg.Position = PositionUnspecified

	h, err := s.Configure(context.Background(), cfg)
	require.NoError(t, err)
	assert.Equal(t, PositionFront, h.Device.Position)
}

func TestSession_FailedReconfigureKeepsState(t *testing.T) {
	s := NewSession(NewMockDriver(nil), nil)
	_, err := s.Configure(context.Background(), testConfig())
	require.NoError(t, err)

	cfg := testConfig()
	cfg.Position = PositionFront
	_, err = s.Configure(context.Background(), cfg)
	require.ErrorIs(t, err, ErrNoDeviceAvailable)

	assert.Equal(t, StateConfigured, s.State())
	require.NotNil(t, s.Handle())
	assert.Equal(t, PositionBack, s.Handle().Device.Position)
}

func TestSession_StartRequiresConfigure(t *testing.T) {
	s := NewSession(NewMockDriver(nil), nil)
	require.ErrorIs(t, s.Start(context.Background()), ErrNotConfigured)
}

func TestSession_DeliversFramesInOrder(t *testing.T) {
	s := NewSession(NewMockDriver(nil), nil)
	_, err := s.Configure(context.Background(), testConfig())
	require.NoError(t, err)

	c := newCollector()
	s.Subscribe(c.onFrame)

	require.NoError(t, s.Start(context.Background()))
	c.waitFor(t, 5)
	require.NoError(t, s.Stop())

	frames := c.snapshot()
	require.GreaterOrEqual(t, len(frames), 5)
	for i, f := range frames {
		assert.Equal(t, uint64(i+1), f.Seq)
		assert.NoError(t, f.Validate())
		assert.Equal(t, FormatBGRA32, f.Format)
		// Portrait output from a landscape request
		assert.Equal(t, 48, f.Width)
		assert.Equal(t, 64, f.Height)
		assert.False(t, f.Timestamp.IsZero())
	}
}

func TestSession_StopIsIdempotent(t *testing.T) {
	s := NewSession(NewMockDriver(nil), nil)

	// Stop before configure is a no-op
	require.NoError(t, s.Stop())
	assert.Equal(t, StateUninitialized, s.State())

	_, err := s.Configure(context.Background(), testConfig())
	require.NoError(t, err)
	require.NoError(t, s.Stop())
	assert.Equal(t, StateConfigured, s.State())

	require.NoError(t, s.Start(context.Background()))
	require.NoError(t, s.Start(context.Background()))
	assert.Equal(t, StateRunning, s.State())

	require.NoError(t, s.Stop())
	assert.Equal(t, StateStopped, s.State())
	require.NoError(t, s.Stop())
	assert.Equal(t, StateStopped, s.State())
}

func TestSession_NoDeliveryAfterStop(t *testing.T) {
	s := NewSession(NewMockDriver(nil), nil)
	_, err := s.Configure(context.Background(), testConfig())
	require.NoError(t, err)

	c := newCollector()
	s.Subscribe(c.onFrame)
	require.NoError(t, s.Start(context.Background()))
	c.waitFor(t, 2)
	require.NoError(t, s.Stop())

	n := len(c.snapshot())
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, n, len(c.snapshot()))
}

func TestSession_RestartAfterStop(t *testing.T) {
	s := NewSession(NewMockDriver(nil), nil)
	_, err := s.Configure(context.Background(), testConfig())
	require.NoError(t, err)

	c := newCollector()
	s.Subscribe(c.onFrame)

	require.NoError(t, s.Start(context.Background()))
	c.waitFor(t, 1)
	require.NoError(t, s.Stop())

	require.NoError(t, s.Start(context.Background()))
	c.waitFor(t, 1)
	require.NoError(t, s.Stop())

	frames := c.snapshot()
	for i := 1; i < len(frames); i++ {
		assert.Greater(t, frames[i].Seq, frames[i-1].Seq)
	}
}

func TestSession_Unsubscribe(t *testing.T) {
	s := NewSession(NewMockDriver(nil), nil)
	_, err := s.Configure(context.Background(), testConfig())
	require.NoError(t, err)

	first := newCollector()
	unsubFirst := s.Subscribe(first.onFrame)

	second := newCollector()
	unsubSecond := s.Subscribe(second.onFrame)

	// Stale unsubscribe must not remove the current subscriber
	unsubFirst()

	require.NoError(t, s.Start(context.Background()))
	second.waitFor(t, 2)
	unsubSecond()
	require.NoError(t, s.Stop())

	assert.Empty(t, first.snapshot())
	assert.GreaterOrEqual(t, len(second.snapshot()), 2)
}

func TestSession_ScriptEndsWithEOF(t *testing.T) {
	script := []Frame{NewFrame(4, 4, FormatBGRA32), NewFrame(4, 4, FormatBGRA32)}
	s := NewSession(NewMockDriver(nil, WithScript(script...)), nil)
	_, err := s.Configure(context.Background(), testConfig())
	require.NoError(t, err)

	c := newCollector()
	s.Subscribe(c.onFrame)
	require.NoError(t, s.Start(context.Background()))
	c.waitFor(t, 2)

	time.Sleep(30 * time.Millisecond)
	assert.Len(t, c.snapshot(), 2)
	assert.Equal(t, StateRunning, s.State())
	require.NoError(t, s.Stop())
}

func TestSession_Teardown(t *testing.T) {
	drv := NewMockDriver(nil)
	s := NewSession(drv, nil)
	_, err := s.Configure(context.Background(), testConfig())
	require.NoError(t, err)
	require.NoError(t, s.Start(context.Background()))

	require.NoError(t, s.Teardown())
	assert.Equal(t, StateTornDown, s.State())
	require.NoError(t, s.Teardown())
	require.NoError(t, s.Stop())

	require.ErrorIs(t, s.Start(context.Background()), ErrTornDown)
	_, err = s.Configure(context.Background(), testConfig())
	require.ErrorIs(t, err, ErrTornDown)
}

func TestSession_ConfigureWhileRunning(t *testing.T) {
	s := NewSession(NewMockDriver(nil), nil)
	_, err := s.Configure(context.Background(), testConfig())
	require.NoError(t, err)
	require.NoError(t, s.Start(context.Background()))
	defer s.Stop()

	_, err = s.Configure(context.Background(), testConfig())
	require.ErrorIs(t, err, ErrInvalidTransition)
}

func TestSession_Stats(t *testing.T) {
	s := NewSession(NewMockDriver(nil), nil)
	_, err := s.Configure(context.Background(), testConfig())
	require.NoError(t, err)

	c := newCollector()
	s.Subscribe(c.onFrame)
	require.NoError(t, s.Start(context.Background()))
	c.waitFor(t, 3)
	require.NoError(t, s.Stop())

	stats := s.Stats()
	assert.Equal(t, StateStopped, stats.State)
	assert.GreaterOrEqual(t, stats.FramesDelivered, int64(3))
	require.NotNil(t, stats.Handle)
	assert.Equal(t, "mock-0", stats.Handle.Device.ID)
}
