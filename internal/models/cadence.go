package models

import "time"

// CadenceContext describes how often the user wants to be asked and since when.
type CadenceContext struct {
	DesiredFrequency time.Duration `json:"desired_frequency"`
	StartedAt        time.Time     `json:"started_at"` // zero when never started
	WasStarted       bool          `json:"was_started"`
}

// Active reports whether schedule math is defined for this context.
func (c CadenceContext) Active() bool {
	return c.WasStarted && !c.StartedAt.IsZero() && c.DesiredFrequency > 0
}

// FrequencyMin returns the cadence period in whole minutes.
func (c CadenceContext) FrequencyMin() int {
	return int(c.DesiredFrequency / time.Minute)
}
