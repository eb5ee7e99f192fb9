package overlay

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
)

// ErrLoopStopped is returned when work is posted to a stopped loop.
var ErrLoopStopped = errors.New("overlay: loop stopped")

// DefaultLoopQueue is the default number of queued tasks.
const DefaultLoopQueue = 64

// Loop is a single goroutine that owns a Surface. Tasks run one at a time in
// the order they were posted.
type Loop struct {
	tasks chan func()

	running   atomic.Bool
	startOnce sync.Once
	stopOnce  sync.Once
	stopped   chan struct{}
}

// NewLoop creates a loop with room for queue pending tasks.
func NewLoop(queue int) *Loop {
	if queue <= 0 {
		queue = DefaultLoopQueue
	}
	return &Loop{
		tasks:   make(chan func(), queue),
		stopped: make(chan struct{}),
	}
}

// Run executes tasks until ctx is done. It returns nil on cancellation.
// Tasks still queued when Run returns are discarded.
func (l *Loop) Run(ctx context.Context) error {
	started := false
	l.startOnce.Do(func() { started = true })
	if !started {
		return errors.New("overlay: loop already running")
	}
	l.running.Store(true)
	defer func() {
		l.running.Store(false)
		l.stopOnce.Do(func() { close(l.stopped) })
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case fn := <-l.tasks:
			fn()
		}
	}
}

// Post queues fn. It blocks while the queue is full and fails once the loop
// has stopped.
func (l *Loop) Post(fn func()) error {
	return l.PostContext(context.Background(), fn)
}

// PostContext is Post with a bound on the wait for queue space.
func (l *Loop) PostContext(ctx context.Context, fn func()) error {
	select {
	case <-l.stopped:
		return ErrLoopStopped
	default:
	}

	select {
	case l.tasks <- fn:
		return nil
	case <-l.stopped:
		return ErrLoopStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Do runs fn on the loop and waits for it to finish.
func (l *Loop) Do(ctx context.Context, fn func()) error {
	done := make(chan struct{})
	if err := l.PostContext(ctx, func() {
		defer close(done)
		fn()
	}); err != nil {
		return err
	}

	select {
	case <-done:
		return nil
	case <-l.stopped:
		select {
		case <-done:
			return nil
		default:
			return ErrLoopStopped
		}
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Running reports whether Run is executing tasks.
func (l *Loop) Running() bool {
	return l.running.Load()
}

// Stopped is closed when Run returns.
func (l *Loop) Stopped() <-chan struct{} {
	return l.stopped
}
