package preview

import (
	"context"
	"image/color"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/teslashibe/go-humanrect/pkg/capture"
	"github.com/teslashibe/go-humanrect/pkg/detection"
	"github.com/teslashibe/go-humanrect/pkg/overlay"
	"gocv.io/x/gocv"
)

func grayFrame(w, h int) capture.Frame {
	f := capture.NewFrame(w, h, capture.FormatBGRA32)
	for i := range f.Data {
		f.Data[i] = 90
	}
	return f
}

func decode(t *testing.T, data []byte) gocv.Mat {
	t.Helper()
	img, err := gocv.IMDecode(data, gocv.IMReadColor)
	require.NoError(t, err)
	require.False(t, img.Empty())
	return img
}

func TestCompose_OutputSize(t *testing.T) {
	cfg := DefaultConfig()
	frame := grayFrame(480, 640)

	for _, g := range []overlay.Gravity{overlay.GravityFill, overlay.GravityFit, overlay.GravityStretch} {
		t.Run(string(g), func(t *testing.T) {
			geo := overlay.Geometry{Size: overlay.Size{W: 400, H: 400}, Gravity: g}
			data, err := Compose(frame, nil, geo, cfg)
			require.NoError(t, err)

			img := decode(t, data)
			defer img.Close()
			assert.Equal(t, 200, img.Cols())
			assert.Equal(t, 200, img.Rows())
		})
	}
}

func TestCompose_DrawsShapes(t *testing.T) {
	cfg := Config{Scale: 1, FPS: 10, Quality: 95}
	geo := overlay.Geometry{Size: overlay.Size{W: 200, H: 200}, Gravity: overlay.GravityStretch}

	style := overlay.DefaultStyle()
	style.LineWidth = 4
	shape := overlay.NewShape(overlay.Rect{X: 50, Y: 50, W: 100, H: 100}, style)

	data, err := Compose(grayFrame(200, 200), []overlay.Shape{shape}, geo, cfg)
	require.NoError(t, err)

	img := decode(t, data)
	defer img.Close()

	// Stroke pixel is yellow (high red and green, low blue in BGR)
	px := img.GetVecbAt(50, 100)
	assert.Less(t, int(px[0]), 80)
	assert.Greater(t, int(px[1]), 180)
	assert.Greater(t, int(px[2]), 180)

	// Inside the box the frame shows through
	inner := img.GetVecbAt(100, 100)
	assert.InDelta(t, 90, int(inner[1]), 20)
}

func TestCompose_Letterbox(t *testing.T) {
	cfg := Config{Scale: 1, FPS: 10, Quality: 95}
	geo := overlay.Geometry{Size: overlay.Size{W: 200, H: 100}, Gravity: overlay.GravityFit}

	data, err := Compose(grayFrame(100, 100), nil, geo, cfg)
	require.NoError(t, err)

	img := decode(t, data)
	defer img.Close()

	// Bars on the left and right, frame in the middle
	assert.Less(t, int(img.GetVecbAt(50, 10)[1]), 20)
	assert.InDelta(t, 90, int(img.GetVecbAt(50, 100)[1]), 20)
}

func TestCompose_OrientationMatchesOverlay(t *testing.T) {
	// Portrait 64x128 frame with a white block in its bottom-left corner
	frame := grayFrame(64, 128)
	for y := 96; y < 128; y++ {
		for x := 0; x < 16; x++ {
			copy(frame.Data[y*frame.Stride+x*4:], []byte{255, 255, 255, 255})
		}
	}

	o := detection.OrientationLeftMirrored
	geo := overlay.Geometry{Size: overlay.Size{W: 256, H: 128}, Gravity: overlay.GravityFill}

	// The detector sees the block top-right in the upright 128x64 image
	box := detection.Box{X: 0.75, Y: 0, W: 0.25, H: 0.25}
	upright := detection.OrientedSize(frame.Width, frame.Height, o)
	rect := overlay.NewTransform(overlay.SizeOf(upright), geo).Rect(box)
	assert.Equal(t, overlay.Rect{X: 192, Y: 0, W: 64, H: 32}, rect)

	cfg := Config{Scale: 1, FPS: 10, Quality: 95, Orientation: o}
	data, err := Compose(frame, nil, geo, cfg)
	require.NoError(t, err)

	img := decode(t, data)
	defer img.Close()
	require.Equal(t, 256, img.Cols())
	require.Equal(t, 128, img.Rows())

	// The shape's center lands on the block, outside it is the frame
	cx, cy := int(rect.X+rect.W/2), int(rect.Y+rect.H/2)
	assert.Greater(t, int(img.GetVecbAt(cy, cx)[1]), 220)
	assert.InDelta(t, 90, int(img.GetVecbAt(100, 40)[1]), 20)
}

func TestConfig_RejectsUnknownOrientation(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Orientation = detection.ImageOrientation(9)
	require.Error(t, cfg.Validate())
}

func TestCompose_EmptySurface(t *testing.T) {
	_, err := Compose(grayFrame(10, 10), nil, overlay.Geometry{}, DefaultConfig())
	require.Error(t, err)
}

func TestConfig_Validate(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())

	bad := []Config{
		{Scale: 0, FPS: 10, Quality: 80},
		{Scale: 1, FPS: 0, Quality: 80},
		{Scale: 1, FPS: 10, Quality: 101},
	}
	for _, c := range bad {
		assert.Error(t, c.Validate())
	}
}

func TestComposer_EmitsLatestFrame(t *testing.T) {
	geo := overlay.Geometry{Size: overlay.Size{W: 100, H: 100}, Gravity: overlay.GravityFill}
	c := NewComposer(Config{Scale: 1, FPS: 50, Quality: 80}, geo, nil)

	got := make(chan []byte, 8)
	c.OnJPEG(func(b []byte) { got <- b })

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()

	c.SetOverlay([]overlay.Shape{overlay.NewShape(overlay.Rect{X: 10, Y: 10, W: 20, H: 20}, overlay.Style{
		Stroke:    color.RGBA{R: 255, A: 255},
		LineWidth: 2,
	})}, geo)
	c.Submit(grayFrame(100, 100))

	select {
	case b := <-got:
		assert.NotEmpty(t, b)
	case <-time.After(2 * time.Second):
		t.Fatal("no preview produced")
	}

	// No new frame, no new preview
	select {
	case <-got:
		t.Fatal("preview produced without a new frame")
	case <-time.After(100 * time.Millisecond):
	}

	cancel()
	require.NoError(t, <-done)

	composed, failed := c.Stats()
	assert.Equal(t, int64(1), composed)
	assert.Zero(t, failed)
}

func TestComposer_SetConfig(t *testing.T) {
	c := NewComposer(DefaultConfig(), overlay.Geometry{}, nil)
	require.Error(t, c.SetConfig(Config{}))
	require.NoError(t, c.SetConfig(Config{Scale: 1, FPS: 5, Quality: 50}))
	assert.Equal(t, 5, c.Config().FPS)
}
