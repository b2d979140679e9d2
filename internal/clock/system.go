package clock

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"
)

// TimerInfo describes an armed system timer.
type TimerInfo struct {
	ID        string        `json:"id"`
	Interval  time.Duration `json:"interval"`
	Repeating bool          `json:"repeating"`
	ExpiresAt time.Time     `json:"expires_at"`
	Remaining string        `json:"remaining"`
}

// System is the wall clock. Timer callbacks are posted to the loop.
type System struct {
	loop *Loop

	mu     sync.Mutex
	active map[string]activeTimer
	nextID int64
}

// activeTimer pairs an armed timer with a snapshot taken under mu, so
// ListActive never reads fields the loop goroutine writes.
type activeTimer struct {
	timer *systemTimer
	info  TimerInfo
}

// Compile-time check that System implements Clock.
var _ Clock = (*System)(nil)

// NewSystem creates a wall clock whose timers fire on loop.
func NewSystem(loop *Loop) *System {
	slog.Debug("Creating System clock")
	return &System{
		loop:   loop,
		active: make(map[string]activeTimer),
	}
}

// Now returns the current local time.
func (s *System) Now() time.Time {
	return time.Now()
}

// NewTimer creates a disarmed timer.
func (s *System) NewTimer(repeating bool) Timer {
	s.mu.Lock()
	s.nextID++
	id := fmt.Sprintf("timer_%d", s.nextID)
	s.mu.Unlock()
	return &systemTimer{owner: s, id: id, repeating: repeating}
}

// ListActive returns information about all armed timers.
func (s *System) ListActive() []TimerInfo {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	result := make([]TimerInfo, 0, len(s.active))
	for _, a := range s.active {
		info := a.info
		remaining := info.ExpiresAt.Sub(now)
		if remaining < 0 {
			remaining = 0
		}
		info.Remaining = remaining.String()
		result = append(result, info)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ExpiresAt.Before(result[j].ExpiresAt) })
	return result
}

// StopAll disarms every timer created by this clock.
func (s *System) StopAll() {
	s.mu.Lock()
	timers := make([]*systemTimer, 0, len(s.active))
	for _, a := range s.active {
		timers = append(timers, a.timer)
	}
	s.mu.Unlock()

	for _, t := range timers {
		t.Stop()
	}
	slog.Info("System.StopAll: stopped all timers", "count", len(timers))
}

func (s *System) track(t *systemTimer, armed bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if armed {
		s.active[t.id] = activeTimer{timer: t, info: TimerInfo{
			ID:        t.id,
			Interval:  t.interval,
			Repeating: t.repeating,
			ExpiresAt: t.expiresAt,
		}}
	} else {
		delete(s.active, t.id)
	}
}

// systemTimer is only mutated on the loop goroutine, except for the
// time.AfterFunc callback which merely posts back to the loop.
type systemTimer struct {
	owner     *System
	id        string
	interval  time.Duration
	repeating bool
	onElapsed func()

	timer     *time.Timer
	gen       uint64
	running   bool
	expiresAt time.Time
}

func (t *systemTimer) SetInterval(d time.Duration) { t.interval = d }
func (t *systemTimer) Interval() time.Duration     { return t.interval }
func (t *systemTimer) OnElapsed(fn func())         { t.onElapsed = fn }
func (t *systemTimer) Running() bool               { return t.running }

func (t *systemTimer) Start() {
	t.disarm()
	t.running = true
	t.arm()
}

func (t *systemTimer) Stop() {
	t.disarm()
	t.running = false
	t.owner.track(t, false)
}

func (t *systemTimer) arm() {
	t.gen++
	gen := t.gen
	delay := t.interval
	if delay < 0 {
		delay = 0
	}
	t.expiresAt = time.Now().Add(delay)
	t.timer = time.AfterFunc(delay, func() {
		t.owner.loop.Post(func() { t.fire(gen) })
	})
	t.owner.track(t, true)
}

func (t *systemTimer) disarm() {
	if t.timer != nil {
		t.timer.Stop()
		t.timer = nil
	}
	// Invalidate any callback already posted to the loop.
	t.gen++
}

func (t *systemTimer) fire(gen uint64) {
	if gen != t.gen || !t.running {
		return
	}
	if t.repeating && t.interval > 0 {
		t.arm()
	} else {
		t.running = false
		t.timer = nil
		t.owner.track(t, false)
	}
	if t.onElapsed != nil {
		t.onElapsed()
	}
}
