package clock

import (
	"context"
	"testing"
	"time"

	"go.uber.org/goleak"
)

func TestLoopCallRunsOnLoop(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	loop := NewLoop(0)
	go loop.Run(ctx)

	value := 0
	if err := loop.Call(ctx, func() { value = 42 }); err != nil {
		t.Fatalf("Call failed: %v", err)
	}
	if value != 42 {
		t.Errorf("expected 42, got %d", value)
	}
}

func TestLoopSurvivesPanickingTask(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	loop := NewLoop(4)
	go loop.Run(ctx)

	loop.Post(func() { panic("boom") })
	ran := false
	if err := loop.Call(ctx, func() { ran = true }); err != nil {
		t.Fatalf("Call failed: %v", err)
	}
	if !ran {
		t.Error("loop did not run task after panic")
	}
}

func TestLoopCallAfterStop(t *testing.T) {
	defer goleak.VerifyNone(t)
	ctx, cancel := context.WithCancel(context.Background())
	loop := NewLoop(1)
	done := make(chan struct{})
	go func() {
		loop.Run(ctx)
		close(done)
	}()
	cancel()
	<-done

	callCtx, callCancel := context.WithTimeout(context.Background(), time.Second)
	defer callCancel()
	// The buffer may accept the task, but the loop never runs it.
	if err := loop.Call(callCtx, func() {}); err == nil {
		t.Error("expected error calling a stopped loop")
	}
}

func TestSystemTimerFiresThroughLoop(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	loop := NewLoop(0)
	go loop.Run(ctx)
	sys := NewSystem(loop)

	fired := make(chan struct{}, 1)
	if err := loop.Call(ctx, func() {
		timer := sys.NewTimer(false)
		timer.SetInterval(10 * time.Millisecond)
		timer.OnElapsed(func() { fired <- struct{}{} })
		timer.Start()
	}); err != nil {
		t.Fatalf("Call failed: %v", err)
	}

	select {
	case <-fired:
	case <-time.After(2 * time.Second):
		t.Fatal("system timer did not fire")
	}
	if n := len(sys.ListActive()); n != 0 {
		t.Errorf("expected no active timers after one-shot fired, got %d", n)
	}
}

func TestSystemListActiveWhileRearming(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	loop := NewLoop(0)
	go loop.Run(ctx)
	sys := NewSystem(loop)

	var timer Timer
	if err := loop.Call(ctx, func() {
		timer = sys.NewTimer(true)
		timer.SetInterval(time.Millisecond)
		timer.OnElapsed(func() {})
		timer.Start()
	}); err != nil {
		t.Fatalf("Call failed: %v", err)
	}

	for i := 0; i < 50; i++ {
		for _, info := range sys.ListActive() {
			if info.Interval != time.Millisecond || !info.Repeating {
				t.Fatalf("unexpected timer info %+v", info)
			}
		}
		time.Sleep(time.Millisecond)
	}

	if err := loop.Call(ctx, func() { timer.Stop() }); err != nil {
		t.Fatalf("Call failed: %v", err)
	}
	if n := len(sys.ListActive()); n != 0 {
		t.Errorf("expected no active timers after Stop, got %d", n)
	}
}

func TestSystemTimerStopPreventsCallback(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	loop := NewLoop(0)
	go loop.Run(ctx)
	sys := NewSystem(loop)

	fired := make(chan struct{}, 1)
	var timer Timer
	_ = loop.Call(ctx, func() {
		timer = sys.NewTimer(false)
		timer.SetInterval(20 * time.Millisecond)
		timer.OnElapsed(func() { fired <- struct{}{} })
		timer.Start()
		timer.Stop()
	})

	select {
	case <-fired:
		t.Fatal("stopped timer fired")
	case <-time.After(100 * time.Millisecond):
	}
}
