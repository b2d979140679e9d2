package clock

import (
	"context"
	"fmt"
	"log/slog"
)

// DefaultLoopBuffer is the default number of tasks that can wait for the loop.
const DefaultLoopBuffer = 256

// Loop executes posted functions one at a time on a single goroutine.
type Loop struct {
	tasks   chan func()
	stopped chan struct{}
}

// NewLoop creates a loop; call Run to start executing tasks.
func NewLoop(buffer int) *Loop {
	if buffer <= 0 {
		buffer = DefaultLoopBuffer
	}
	return &Loop{
		tasks:   make(chan func(), buffer),
		stopped: make(chan struct{}),
	}
}

// Post queues fn for execution. Tasks posted after the loop stopped are dropped.
func (l *Loop) Post(fn func()) {
	select {
	case l.tasks <- fn:
	case <-l.stopped:
		slog.Debug("Loop.Post: loop stopped, dropping task")
	}
}

// Call runs fn on the loop and waits for it to return.
func (l *Loop) Call(ctx context.Context, fn func()) error {
	done := make(chan struct{})
	task := func() {
		defer close(done)
		fn()
	}
	select {
	case l.tasks <- task:
	case <-l.stopped:
		return fmt.Errorf("loop stopped")
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-done:
		return nil
	case <-l.stopped:
		return fmt.Errorf("loop stopped")
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run executes tasks until the context is cancelled.
func (l *Loop) Run(ctx context.Context) {
	slog.Info("Loop.Run: starting event loop")
	defer close(l.stopped)
	for {
		select {
		case <-ctx.Done():
			slog.Info("Loop.Run: stopping")
			return
		case fn := <-l.tasks:
			l.exec(fn)
		}
	}
}

func (l *Loop) exec(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("Loop.exec: task panicked", "panic", r)
		}
	}()
	fn()
}
