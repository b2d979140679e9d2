package clock

import (
	"sync"
	"time"
)

// Fake is a manually advanced clock for tests. Timer callbacks run synchronously
// inside Advance, in deadline order.
type Fake struct {
	mu     sync.Mutex
	now    time.Time
	seq    int
	timers []*fakeTimer
}

// Compile-time check that Fake implements Clock.
var _ Clock = (*Fake)(nil)

// NewFake creates a fake clock set to now.
func NewFake(now time.Time) *Fake {
	return &Fake{now: now}
}

// Now returns the fake current time.
func (f *Fake) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

// NewTimer creates a disarmed fake timer.
func (f *Fake) NewTimer(repeating bool) Timer {
	f.mu.Lock()
	defer f.mu.Unlock()
	t := &fakeTimer{clock: f, repeating: repeating}
	f.timers = append(f.timers, t)
	return t
}

// Advance moves time forward by d, firing every timer that falls due on the way.
func (f *Fake) Advance(d time.Duration) {
	f.mu.Lock()
	target := f.now.Add(d)
	f.mu.Unlock()

	for {
		f.mu.Lock()
		next := f.nextDueLocked(target)
		if next == nil {
			f.now = target
			f.mu.Unlock()
			return
		}
		if next.deadline.After(f.now) {
			f.now = next.deadline
		}
		if next.repeating && next.interval > 0 {
			next.deadline = next.deadline.Add(next.interval)
			next.seq = f.nextSeqLocked()
		} else {
			next.running = false
		}
		fn := next.onElapsed
		f.mu.Unlock()

		if fn != nil {
			fn()
		}
	}
}

// AdvanceTo moves time forward to t. It never moves time backwards.
func (f *Fake) AdvanceTo(t time.Time) {
	d := t.Sub(f.Now())
	if d < 0 {
		d = 0
	}
	f.Advance(d)
}

// Armed returns the number of running timers.
func (f *Fake) Armed() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, t := range f.timers {
		if t.running {
			n++
		}
	}
	return n
}

func (f *Fake) nextDueLocked(target time.Time) *fakeTimer {
	var next *fakeTimer
	for _, t := range f.timers {
		if !t.running || t.deadline.After(target) {
			continue
		}
		if next == nil || t.deadline.Before(next.deadline) || (t.deadline.Equal(next.deadline) && t.seq < next.seq) {
			next = t
		}
	}
	return next
}

func (f *Fake) nextSeqLocked() int {
	f.seq++
	return f.seq
}

type fakeTimer struct {
	clock     *Fake
	interval  time.Duration
	repeating bool
	onElapsed func()

	running  bool
	deadline time.Time
	seq      int
}

func (t *fakeTimer) SetInterval(d time.Duration) {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()
	t.interval = d
}

func (t *fakeTimer) Interval() time.Duration {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()
	return t.interval
}

func (t *fakeTimer) OnElapsed(fn func()) {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()
	t.onElapsed = fn
}

func (t *fakeTimer) Start() {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()
	d := t.interval
	if d < 0 {
		d = 0
	}
	t.running = true
	t.deadline = t.clock.now.Add(d)
	t.seq = t.clock.nextSeqLocked()
}

func (t *fakeTimer) Stop() {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()
	t.running = false
}

func (t *fakeTimer) Running() bool {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()
	return t.running
}
