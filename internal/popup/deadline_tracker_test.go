package popup

import (
	"testing"
	"time"

	"github.com/BTreeMap/PingPipe/internal/clock"
)

func newTestTracker(now time.Time) (*clock.Fake, *DeadlineTracker, *int) {
	c := clock.NewFake(now)
	dt := NewDeadlineTracker(c)
	fired := 0
	dt.TimedOut.Subscribe(func(struct{}) { fired++ })
	return c, dt, &fired
}

func TestDeadlineTrackerDeadline(t *testing.T) {
	tests := []struct {
		name string
		now  time.Time
		want time.Duration
	}{
		{"mid minute", at(9, 0).Add(40 * time.Second), 22 * time.Second},
		{"start of minute", at(9, 0), PromptTimeout},
		{"late in minute", at(9, 0).Add(59 * time.Second), 3 * time.Second},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, dt, fired := newTestTracker(tt.now)
			dt.StartTimingPrompt()
			if got := dt.Deadline().Sub(tt.now); got != tt.want {
				t.Errorf("expected deadline in %v, got %v", tt.want, got)
			}
			c.Advance(tt.want - time.Millisecond)
			if *fired != 0 {
				t.Fatal("fired before the deadline")
			}
			c.Advance(time.Millisecond)
			if *fired != 1 {
				t.Fatalf("expected one timeout, got %d", *fired)
			}
			if dt.Timing() {
				t.Error("expected tracker idle after timeout")
			}
		})
	}
}

func TestDeadlineTrackerGracePeriod(t *testing.T) {
	c, dt, fired := newTestTracker(at(9, 0).Add(40 * time.Second))
	dt.StartTimingPrompt()

	c.Advance(20 * time.Second)
	dt.ResetGracePeriod()
	c.Advance(2 * time.Second)
	if *fired != 0 {
		t.Fatal("expected the grace period to hold the popup open")
	}
	c.Advance(8*time.Second - time.Millisecond)
	if *fired != 0 {
		t.Fatal("fired before the grace period ended")
	}
	c.Advance(time.Millisecond)
	if *fired != 1 {
		t.Fatalf("expected timeout after the grace period, got %d", *fired)
	}
}

func TestDeadlineTrackerEndTimingPrompt(t *testing.T) {
	c, dt, fired := newTestTracker(at(9, 0))
	dt.StartTimingPrompt()
	dt.EndTimingPrompt()
	c.Advance(2 * time.Minute)
	if *fired != 0 {
		t.Fatal("expected no timeout after EndTimingPrompt")
	}
	if !dt.Deadline().IsZero() {
		t.Error("expected deadline cleared")
	}
}

func TestDeadlineTrackerDisableEnable(t *testing.T) {
	c, dt, fired := newTestTracker(at(9, 0))
	dt.StartTimingPrompt()
	dt.DisableTimeout()
	c.Advance(2 * time.Minute)
	if *fired != 0 {
		t.Fatal("expected no timeout while disabled")
	}

	dt.EnableTimeout()
	if *fired != 1 {
		t.Fatalf("expected immediate timeout once re-enabled past the deadline, got %d", *fired)
	}
}

func TestDeadlineTrackerEnableBeforeDeadline(t *testing.T) {
	c, dt, fired := newTestTracker(at(9, 0))
	dt.StartTimingPrompt()
	dt.DisableTimeout()
	c.Advance(10 * time.Second)
	dt.EnableTimeout()
	if *fired != 0 {
		t.Fatal("expected no timeout before the deadline")
	}
	c.Advance(50 * time.Second)
	if *fired != 1 {
		t.Fatalf("expected timeout at the original deadline, got %d", *fired)
	}
}
