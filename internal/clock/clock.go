// Package clock provides the clock and timer services the popup engine runs on.
//
// Engine components never read the wall clock or start goroutines themselves: they
// ask a Clock for the current instant and for Timers they own. The System clock
// delivers every timer callback through a single Loop so that the engine stays
// single-threaded; the Fake clock fires callbacks synchronously from Advance.
package clock

import "time"

// Timer is a one-shot or repeating timer owned by exactly one component.
type Timer interface {
	// SetInterval sets the delay used by the next Start (and by re-arms of a repeating timer).
	SetInterval(d time.Duration)
	// Interval returns the configured delay.
	Interval() time.Duration
	// OnElapsed sets the callback invoked when the timer fires.
	OnElapsed(fn func())
	// Start arms the timer, restarting it if it is already running.
	Start()
	// Stop disarms the timer. A callback that has not run yet will not run.
	Stop()
	// Running reports whether the timer is armed.
	Running() bool
}

// Clock supplies the current instant and creates timers.
type Clock interface {
	Now() time.Time
	NewTimer(repeating bool) Timer
}
