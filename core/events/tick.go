package events

import "time"

// Tick outcomes.
const (
	TickRan          = "ran"
	TickBusy         = "busy"
	TickReconnecting = "reconnecting"
	TickPaused       = "paused"
	TickFailed       = "failed"
)

// TickEvent reports how a scheduler tick ended.
type TickEvent struct {
	Outcome  string
	Duration time.Duration
	Err      error
	Time     time.Time
}

func (TickEvent) eventName() string { return "tick" }

// CoverageEvent reports the map coverage read during a tick.
type CoverageEvent struct {
	Covered int64
	Total   int64
	Time    time.Time
}

func (CoverageEvent) eventName() string { return "coverage" }

// StateEvent is published on every scheduler state transition.
type StateEvent struct {
	From string
	To   string
	Time time.Time
}

func (StateEvent) eventName() string { return "state" }
