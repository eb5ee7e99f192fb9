// Package video receives a remote camera over WebRTC using GStreamer's
// signalling protocol and turns the H264 stream into JPEG frames.
package video

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pion/rtp/codecs"
	"github.com/pion/webrtc/v3"
)

// ErrClosed is returned after Close.
var ErrClosed = errors.New("video: client closed")

// Config configures a Client.
type Config struct {
	// SignallingURL is the GStreamer signalling server, e.g. ws://host:8443.
	SignallingURL string

	// Producer is the "name" meta value announced by the camera.
	// Empty selects the first producer.
	Producer string

	// DecodeInterval bounds how often the H264 buffer is decoded.
	DecodeInterval time.Duration

	// ConnectTimeout bounds the wait for the video track.
	ConnectTimeout time.Duration
}

// DefaultConfig returns defaults for url.
func DefaultConfig(url string) Config {
	return Config{
		SignallingURL:  url,
		DecodeInterval: 66 * time.Millisecond,
		ConnectTimeout: 15 * time.Second,
	}
}

// Client connects to a camera's WebRTC video stream via GStreamer signalling
type Client struct {
	cfg     Config
	logger  *slog.Logger
	decoder *FastDecoder

	ws      *websocket.Conn
	pc      *webrtc.PeerConnection
	wsMutex sync.Mutex

	myPeerID   string
	producerID string

	sessionMu sync.Mutex
	sessionID string

	frameMu     sync.Mutex
	latestFrame []byte
	frameSeq    uint64
	frameNotify chan struct{}

	trackReady chan struct{}

	closeOnce sync.Once
	closed    chan struct{}
}

// NewClient creates a new WebRTC video client
func NewClient(cfg Config, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.DecodeInterval <= 0 {
		cfg.DecodeInterval = 66 * time.Millisecond
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = 15 * time.Second
	}
	return &Client{
		cfg:         cfg,
		logger:      logger.With("component", "video", "url", cfg.SignallingURL),
		decoder:     NewFastDecoder(cfg.DecodeInterval),
		frameNotify: make(chan struct{}),
		trackReady:  make(chan struct{}, 1),
		closed:      make(chan struct{}),
	}
}

// Connect establishes the WebRTC connection and waits for the video track.
func (c *Client) Connect(ctx context.Context) error {
	c.logger.Info("connecting to signalling server")

	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	ws, _, err := dialer.DialContext(ctx, c.cfg.SignallingURL, nil)
	if err != nil {
		return fmt.Errorf("signalling connect failed: %w", err)
	}
	c.ws = ws

	if err := c.waitForWelcome(); err != nil {
		return fmt.Errorf("welcome failed: %w", err)
	}
	if err := c.findProducer(); err != nil {
		return fmt.Errorf("find producer failed: %w", err)
	}
	c.logger.Debug("found producer", "peer", c.myPeerID, "producer", c.producerID)

	if err := c.createPeerConnection(); err != nil {
		return fmt.Errorf("peer connection failed: %w", err)
	}
	if err := c.writeJSON(map[string]string{"type": "startSession", "peerId": c.producerID}); err != nil {
		return fmt.Errorf("start session failed: %w", err)
	}

	go c.handleSignalling()

	timer := time.NewTimer(c.cfg.ConnectTimeout)
	defer timer.Stop()

	select {
	case <-c.trackReady:
		c.logger.Info("video connected")
		return nil
	case <-timer.C:
		return fmt.Errorf("timeout waiting for video")
	case <-ctx.Done():
		return ctx.Err()
	case <-c.closed:
		return ErrClosed
	}
}

func (c *Client) readMessage(timeout time.Duration) ([]byte, error) {
	c.ws.SetReadDeadline(time.Now().Add(timeout))
	defer c.ws.SetReadDeadline(time.Time{})
	_, msg, err := c.ws.ReadMessage()
	return msg, err
}

func (c *Client) writeJSON(v any) error {
	c.wsMutex.Lock()
	defer c.wsMutex.Unlock()
	return c.ws.WriteJSON(v)
}

func (c *Client) waitForWelcome() error {
	msg, err := c.readMessage(10 * time.Second)
	if err != nil {
		return err
	}

	var welcome struct {
		Type   string `json:"type"`
		PeerID string `json:"peerId"`
	}
	if err := json.Unmarshal(msg, &welcome); err != nil {
		return err
	}
	if welcome.Type != "welcome" {
		return fmt.Errorf("expected welcome, got %s", welcome.Type)
	}
	c.myPeerID = welcome.PeerID
	return nil
}

// producer is one entry of the signalling server's list response.
type producer struct {
	ID   string            `json:"id"`
	Meta map[string]string `json:"meta"`
}

func (c *Client) findProducer() error {
	if err := c.writeJSON(map[string]string{"type": "list"}); err != nil {
		return err
	}

	msg, err := c.readMessage(5 * time.Second)
	if err != nil {
		return err
	}

	var listResp struct {
		Type      string     `json:"type"`
		Producers []producer `json:"producers"`
	}
	if err := json.Unmarshal(msg, &listResp); err != nil {
		return err
	}

	id, err := pickProducer(listResp.Producers, c.cfg.Producer)
	if err != nil {
		return err
	}
	c.producerID = id
	return nil
}

// pickProducer returns the producer announced as name, or the first one
// when name is empty.
func pickProducer(producers []producer, name string) (string, error) {
	for _, p := range producers {
		if name == "" || p.Meta["name"] == name {
			return p.ID, nil
		}
	}
	if name == "" {
		return "", fmt.Errorf("no producers announced")
	}
	return "", fmt.Errorf("%s producer not found in %d producers", name, len(producers))
}

func (c *Client) createPeerConnection() error {
	var err error
	c.pc, err = webrtc.NewPeerConnection(webrtc.Configuration{})
	if err != nil {
		return err
	}

	if _, err = c.pc.AddTransceiverFromKind(webrtc.RTPCodecTypeVideo, webrtc.RTPTransceiverInit{
		Direction: webrtc.RTPTransceiverDirectionRecvonly,
	}); err != nil {
		return err
	}

	c.pc.OnTrack(func(track *webrtc.TrackRemote, receiver *webrtc.RTPReceiver) {
		c.logger.Info("got track", "kind", track.Kind().String(), "codec", track.Codec().MimeType)
		if track.Kind() == webrtc.RTPCodecTypeVideo {
			go c.handleVideoTrack(track)
		}
	})

	c.pc.OnICECandidate(func(candidate *webrtc.ICECandidate) {
		if candidate != nil {
			c.sendICECandidate(candidate)
		}
	})

	c.pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		c.logger.Debug("connection state", "state", state.String())
	})

	return nil
}

func (c *Client) isClosed() bool {
	select {
	case <-c.closed:
		return true
	default:
		return false
	}
}

func (c *Client) handleSignalling() {
	for !c.isClosed() {
		_, msg, err := c.ws.ReadMessage()
		if err != nil {
			if !c.isClosed() {
				c.logger.Warn("signalling error", "error", err)
			}
			return
		}

		var base struct {
			Type      string `json:"type"`
			SessionID string `json:"sessionId"`
		}
		if err := json.Unmarshal(msg, &base); err != nil {
			c.logger.Debug("ignoring malformed signalling message", "error", err)
			continue
		}

		switch base.Type {
		case "sessionStarted":
			c.sessionMu.Lock()
			c.sessionID = base.SessionID
			c.sessionMu.Unlock()
		case "peer":
			c.handlePeerMessage(msg)
		case "endSession":
			c.logger.Info("producer ended session")
			return
		}
	}
}

// peerMessage is the payload of a "peer" signalling message.
type peerMessage struct {
	SDP *struct {
		Type string `json:"type"`
		SDP  string `json:"sdp"`
	} `json:"sdp"`
	ICE *struct {
		Candidate     string  `json:"candidate"`
		SDPMid        *string `json:"sdpMid"`
		SDPMLineIndex *uint16 `json:"sdpMLineIndex"`
	} `json:"ice"`
}

func (c *Client) handlePeerMessage(msg []byte) {
	var pm peerMessage
	if err := json.Unmarshal(msg, &pm); err != nil {
		c.logger.Warn("bad peer message", "error", err)
		return
	}

	if pm.SDP != nil && pm.SDP.Type == "offer" {
		if err := c.answer(pm.SDP.SDP); err != nil {
			c.logger.Error("answering offer failed", "error", err)
		}
	}

	if pm.ICE != nil {
		err := c.pc.AddICECandidate(webrtc.ICECandidateInit{
			Candidate:     pm.ICE.Candidate,
			SDPMid:        pm.ICE.SDPMid,
			SDPMLineIndex: pm.ICE.SDPMLineIndex,
		})
		if err != nil {
			c.logger.Warn("adding ICE candidate failed", "error", err)
		}
	}
}

func (c *Client) answer(sdp string) error {
	offer := webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: sdp}
	if err := c.pc.SetRemoteDescription(offer); err != nil {
		return fmt.Errorf("set remote description: %w", err)
	}

	answer, err := c.pc.CreateAnswer(nil)
	if err != nil {
		return fmt.Errorf("create answer: %w", err)
	}
	if err := c.pc.SetLocalDescription(answer); err != nil {
		return fmt.Errorf("set local description: %w", err)
	}

	return c.writeJSON(map[string]any{
		"type":      "peer",
		"sessionId": c.session(),
		"sdp": map[string]string{
			"type": answer.Type.String(),
			"sdp":  answer.SDP,
		},
	})
}

func (c *Client) session() string {
	c.sessionMu.Lock()
	defer c.sessionMu.Unlock()
	return c.sessionID
}

func (c *Client) sendICECandidate(candidate *webrtc.ICECandidate) {
	sessionID := c.session()
	if sessionID == "" {
		return
	}

	init := candidate.ToJSON()
	err := c.writeJSON(map[string]any{
		"type":      "peer",
		"sessionId": sessionID,
		"ice": map[string]any{
			"candidate":     init.Candidate,
			"sdpMid":        init.SDPMid,
			"sdpMLineIndex": init.SDPMLineIndex,
		},
	})
	if err != nil {
		c.logger.Warn("sending ICE candidate failed", "error", err)
	}
}

func (c *Client) handleVideoTrack(track *webrtc.TrackRemote) {
	select {
	case c.trackReady <- struct{}{}:
	default:
	}

	var depack codecs.H264Packet
	gop := newGOPBuffer(maxGOPBytes)

	for !c.isClosed() {
		pkt, _, err := track.ReadRTP()
		if err != nil {
			if !c.isClosed() {
				c.logger.Warn("video track ended", "error", err)
			}
			return
		}

		nal, err := depack.Unmarshal(pkt.Payload)
		if err != nil || len(nal) == 0 {
			continue
		}
		gop.Write(nal)

		if !pkt.Marker || !gop.HasKeyframe() {
			continue
		}

		ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
		jpegData, err := c.decoder.DecodeNAL(ctx, gop.Bytes())
		cancel()
		if err != nil {
			c.logger.Debug("decode failed", "error", err)
			continue
		}
		if jpegData != nil {
			c.publish(jpegData)
		}
	}
}

func (c *Client) publish(jpegData []byte) {
	c.frameMu.Lock()
	c.latestFrame = jpegData
	c.frameSeq++
	close(c.frameNotify)
	c.frameNotify = make(chan struct{})
	c.frameMu.Unlock()
}

// NextFrame waits for a frame newer than after and returns it with its
// sequence number.
func (c *Client) NextFrame(ctx context.Context, after uint64) ([]byte, uint64, error) {
	for {
		c.frameMu.Lock()
		seq, notify := c.frameSeq, c.frameNotify
		if seq > after && c.latestFrame != nil {
			frame := append([]byte(nil), c.latestFrame...)
			c.frameMu.Unlock()
			return frame, seq, nil
		}
		c.frameMu.Unlock()

		select {
		case <-notify:
		case <-ctx.Done():
			return nil, after, ctx.Err()
		case <-c.closed:
			return nil, after, ErrClosed
		}
	}
}

// Close closes the WebRTC connection
func (c *Client) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.closed)
		if c.pc != nil {
			err = c.pc.Close()
		}
		if c.ws != nil {
			c.ws.Close()
		}
		c.decoder.Close()
	})
	return err
}
