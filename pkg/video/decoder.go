package video

import (
	"bytes"
	"context"
	"fmt"
	"image/jpeg"
	"os/exec"
	"sync"
	"time"
)

// maxGOPBytes caps the buffered H264 data between keyframes.
const maxGOPBytes = 4 << 20

var (
	annexBStart = []byte{0x00, 0x00, 0x00, 0x01}
	jpegSOI     = []byte{0xFF, 0xD8, 0xFF}
)

// FastDecoder decodes Annex-B H264 to JPEG by piping through ffmpeg.
// No temp files are used and decoding is rate limited.
type FastDecoder struct {
	mu          sync.Mutex
	lastDecode  time.Time
	minInterval time.Duration
	closed      bool
}

// NewFastDecoder creates a decoder.
// decodeInterval controls how often we decode (e.g., 50ms = 20 FPS max)
func NewFastDecoder(decodeInterval time.Duration) *FastDecoder {
	return &FastDecoder{minInterval: decodeInterval}
}

// DecodeNAL decodes an H264 access-unit sequence starting at a keyframe and
// returns the JPEG of its last picture. It returns nil, nil when rate
// limited or when ffmpeg produced no usable picture.
func (d *FastDecoder) DecodeNAL(ctx context.Context, nalData []byte) ([]byte, error) {
	if len(nalData) < 100 {
		return nil, nil
	}

	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil, ErrClosed
	}
	if time.Since(d.lastDecode) < d.minInterval {
		d.mu.Unlock()
		return nil, nil
	}
	d.lastDecode = time.Now()
	d.mu.Unlock()

	cmd := exec.CommandContext(ctx, "ffmpeg",
		"-loglevel", "error",
		"-f", "h264",
		"-i", "pipe:0",
		"-f", "image2pipe",
		"-vcodec", "mjpeg",
		"-q:v", "3",
		"pipe:1",
	)

	var stdout, stderr bytes.Buffer
	cmd.Stdin = bytes.NewReader(nalData)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return nil, nil
		}
		return nil, fmt.Errorf("ffmpeg: %w: %s", err, bytes.TrimSpace(stderr.Bytes()))
	}

	jpegData := lastJPEG(stdout.Bytes())
	if isGrayJPEG(jpegData) {
		return nil, nil
	}
	return jpegData, nil
}

// Close stops further decoding.
func (d *FastDecoder) Close() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closed = true
}

// lastJPEG returns the final image of an MJPEG byte stream.
func lastJPEG(stream []byte) []byte {
	i := bytes.LastIndex(stream, jpegSOI)
	if i < 0 {
		return nil
	}
	return append([]byte(nil), stream[i:]...)
}

// isGrayJPEG checks if a JPEG is likely gray/corrupt.
func isGrayJPEG(jpegData []byte) bool {
	if len(jpegData) < 1000 {
		return true
	}

	img, err := jpeg.Decode(bytes.NewReader(jpegData))
	if err != nil {
		return true
	}

	bounds := img.Bounds()
	if bounds.Dx() < 100 || bounds.Dy() < 100 {
		return true
	}

	var rSum, gSum, bSum, samples int
	for y := bounds.Min.Y; y < bounds.Max.Y; y += bounds.Dy() / 10 {
		for x := bounds.Min.X; x < bounds.Max.X; x += bounds.Dx() / 10 {
			r, g, b, _ := img.At(x, y).RGBA()
			rSum += int(r >> 8)
			gSum += int(g >> 8)
			bSum += int(b >> 8)
			samples++
		}
	}

	avgR, avgG, avgB := rSum/samples, gSum/samples, bSum/samples

	// Undecoded frames come out near-black or flat mid-gray
	if avgR < 30 && avgG < 30 && avgB < 30 {
		return true
	}
	colorDiff := abs(avgR-avgG) + abs(avgG-avgB) + abs(avgR-avgB)
	return colorDiff < 15 && avgR > 100 && avgR < 150
}

func abs(x int) int {
	if x < 0 {
		return -x
	}
	return x
}

// gopBuffer accumulates Annex-B NAL units from the most recent keyframe.
type gopBuffer struct {
	buf      bytes.Buffer
	limit    int
	keyframe bool
	prevType byte
}

func newGOPBuffer(limit int) *gopBuffer {
	return &gopBuffer{limit: limit}
}

// Write appends depacketized Annex-B data. An SPS, or an IDR slice not
// preceded by parameter sets, restarts the buffer so it always begins at a
// decodable point.
func (g *gopBuffer) Write(annexB []byte) {
	for _, nal := range splitAnnexB(annexB) {
		typ := nal[0] & 0x1F
		switch {
		case typ == nalSPS:
			g.restart()
		case typ == nalIDR && g.prevType != nalSPS && g.prevType != nalPPS && g.prevType != nalIDR:
			g.restart()
		}
		g.prevType = typ

		if !g.keyframe {
			continue
		}
		if g.buf.Len()+len(annexBStart)+len(nal) > g.limit {
			g.buf.Reset()
			g.keyframe = false
			continue
		}
		g.buf.Write(annexBStart)
		g.buf.Write(nal)
	}
}

func (g *gopBuffer) restart() {
	g.buf.Reset()
	g.keyframe = true
}

// HasKeyframe reports whether the buffer starts at a keyframe.
func (g *gopBuffer) HasKeyframe() bool {
	return g.keyframe && g.buf.Len() > 0
}

// Bytes returns the buffered stream. The slice is valid until the next Write.
func (g *gopBuffer) Bytes() []byte {
	return g.buf.Bytes()
}

// H264 NAL unit types.
const (
	nalIDR byte = 5
	nalSPS byte = 7
	nalPPS byte = 8
)

// splitAnnexB splits data on 4-byte start codes.
func splitAnnexB(data []byte) [][]byte {
	var out [][]byte
	for _, part := range bytes.Split(data, annexBStart) {
		if len(part) > 0 {
			out = append(out, part)
		}
	}
	return out
}
