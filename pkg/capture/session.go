package capture

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// State is the lifecycle state of a Session.
type State string

const (
	StateUninitialized State = "uninitialized"
	StateConfigured    State = "configured"
	StateRunning       State = "running"
	StateStopped       State = "stopped"
	StateTornDown      State = "torn-down"
)

// SessionStats contains statistics about a capture session.
type SessionStats struct {
	State State `json:"state"`

	// FramesDelivered is the total number of frames handed to a subscriber
	// (or dropped for lack of one).
	FramesDelivered int64 `json:"frames_delivered"`

	// ReadErrors is the number of failed input reads.
	ReadErrors int64 `json:"read_errors"`

	// Handle is the configured device, if any.
	Handle *Handle `json:"handle,omitempty"`
}

type subscription struct {
	fn func(Frame)
}

// Session is an active camera-to-frame pipeline.
//
// Frames are read on one dedicated goroutine and pushed to the subscriber
// serially, in FIFO order. The subscriber must return promptly: delivery
// waits for it before reading the next frame.
type Session struct {
	driver Driver
	logger *slog.Logger

	mu     sync.Mutex
	state  State
	cfg    Config
	handle *Handle
	input  Input
	cancel context.CancelFunc
	done   chan struct{}

	sub atomic.Pointer[subscription]
	seq atomic.Uint64

	delivered  atomic.Int64
	readErrors atomic.Int64
}

// NewSession creates an uninitialized session on top of driver.
func NewSession(driver Driver, logger *slog.Logger) *Session {
	if logger == nil {
		logger = slog.Default()
	}
	return &Session{
		driver: driver,
		logger: logger.With("component", "capture", "backend", driver.Name()),
		state:  StateUninitialized,
	}
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Handle returns the configured device, or nil before Configure succeeds.
func (s *Session) Handle() *Handle {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.handle == nil {
		return nil
	}
	h := *s.handle
	return &h
}

// Configure selects a device and opens it as the session input.
//
// It can be called again while configured or stopped to switch devices. On
// failure the session keeps its previous state and input.
func (s *Session) Configure(ctx context.Context, cfg Config) (Handle, error) {
	if err := cfg.Validate(); err != nil {
		return Handle{}, fmt.Errorf("invalid config: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.state {
	case StateTornDown:
		return Handle{}, ErrTornDown
	case StateRunning:
		return Handle{}, fmt.Errorf("%w: configure while running", ErrInvalidTransition)
	}

	devices, err := s.driver.Devices(ctx)
	if err != nil {
		return Handle{}, fmt.Errorf("%w: enumerate: %v", ErrNoDeviceAvailable, err)
	}

	dev, err := SelectDevice(devices, cfg.Position)
	if err != nil {
		s.logger.Warn("no camera found", "position", cfg.Position, "devices", len(devices))
		return Handle{}, err
	}
	if !dev.SupportsOrientation(cfg.Orientation) {
		return Handle{}, fmt.Errorf("%w: %s on %s", ErrUnsupportedOrientation, cfg.Orientation, dev.Name)
	}
	if !dev.SupportsFormat(cfg.Format) {
		return Handle{}, fmt.Errorf("%w: %s on %s", ErrUnsupportedPixelFormat, cfg.Format, dev.Name)
	}

	in, err := s.driver.Open(ctx, dev, cfg)
	if err != nil {
		return Handle{}, fmt.Errorf("%w: %v", ErrInputRejected, err)
	}

	if s.input != nil {
		if err := s.input.Close(); err != nil {
			s.logger.Warn("closing previous input failed", "error", err)
		}
	}

	handle := Handle{
		Device:      dev,
		Format:      cfg.Format,
		Orientation: cfg.Orientation,
		Width:       cfg.Width,
		Height:      cfg.Height,
		Framerate:   cfg.Framerate,
	}
	s.cfg = cfg
	s.input = in
	s.handle = &handle
	s.state = StateConfigured

	s.logger.Info("capture session configured",
		"device", dev.Name,
		"position", dev.Position,
		"format", cfg.Format,
		"orientation", cfg.Orientation,
	)

	return handle, nil
}

// Subscribe registers fn as the single frame subscriber, replacing any
// previous one. The returned func unsubscribes fn if it is still current.
func (s *Session) Subscribe(fn func(Frame)) (unsubscribe func()) {
	sub := &subscription{fn: fn}
	s.sub.Store(sub)
	return func() {
		s.sub.CompareAndSwap(sub, nil)
	}
}

// Start begins frame delivery. Starting a running session is a no-op.
// Delivery ends when ctx is cancelled or Stop is called.
func (s *Session) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.state {
	case StateRunning:
		return nil
	case StateTornDown:
		return ErrTornDown
	case StateUninitialized:
		return ErrNotConfigured
	}

	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	s.cancel = cancel
	s.done = done
	s.state = StateRunning

	go s.deliverLoop(runCtx, s.input, s.cfg.ReadBackoff, done)

	s.logger.Info("capture session started")
	return nil
}

// Stop halts delivery and waits for the delivery goroutine to exit.
// It is safe to call Stop multiple times and in any state.
// Stop must not be called from the subscriber.
func (s *Session) Stop() error {
	s.mu.Lock()
	if s.state != StateRunning {
		s.mu.Unlock()
		return nil
	}
	cancel, done := s.cancel, s.done
	s.cancel, s.done = nil, nil
	s.state = StateStopped
	s.mu.Unlock()

	cancel()
	<-done

	s.logger.Info("capture session stopped")
	return nil
}

// Teardown stops the session and releases the input. After Teardown the
// session cannot be configured or started again.
func (s *Session) Teardown() error {
	if err := s.Stop(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == StateTornDown {
		return nil
	}

	var err error
	if s.input != nil {
		err = s.input.Close()
		s.input = nil
	}
	s.sub.Store(nil)
	s.state = StateTornDown

	s.logger.Info("capture session torn down")
	return err
}

// Stats returns session statistics.
func (s *Session) Stats() SessionStats {
	return SessionStats{
		State:           s.State(),
		FramesDelivered: s.delivered.Load(),
		ReadErrors:      s.readErrors.Load(),
		Handle:          s.Handle(),
	}
}

func (s *Session) deliverLoop(ctx context.Context, in Input, backoff time.Duration, done chan struct{}) {
	defer close(done)

	for {
		frame, err := in.Read(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			if errors.Is(err, io.EOF) {
				s.logger.Info("capture input exhausted")
				return
			}

			s.readErrors.Add(1)
			s.logger.Warn("frame read failed", "error", err)

			select {
			case <-ctx.Done():
				return
			case <-time.After(backoff):
			}
			continue
		}

		frame.Seq = s.seq.Add(1)
		if frame.Timestamp.IsZero() {
			frame.Timestamp = time.Now()
		}
		s.delivered.Add(1)

		if sub := s.sub.Load(); sub != nil {
			sub.fn(frame)
		}
	}
}
