package metrics

import "time"

// CommandEvent is a command handed to a task channel.
type CommandEvent struct {
	Channel string
	Payload string
	// UnitID is zero for display commands.
	UnitID  int
	Success bool
	Error   string
	Latency time.Duration
	Time    time.Time
}

// MetricsSink records emitted commands.
type MetricsSink interface {
	RecordCommand(ev CommandEvent) error
}

// TickEvent reports the outcome of one scheduler tick.
type TickEvent struct {
	Outcome  string
	Duration time.Duration
	Time     time.Time
}

// TickRecorder records scheduler ticks.
type TickRecorder interface {
	RecordTick(ev TickEvent) error
}

// CoverageEvent is the map coverage observed during a tick.
type CoverageEvent struct {
	Covered int64
	Total   int64
	Time    time.Time
}

// Ratio returns the covered share of the map, zero for an unknown map size.
func (c CoverageEvent) Ratio() float64 {
	if c.Total <= 0 {
		return 0
	}
	return float64(c.Covered) / float64(c.Total)
}

// CoverageRecorder records map coverage.
type CoverageRecorder interface {
	RecordCoverage(ev CoverageEvent) error
}

// StateEvent is a scheduler state transition.
type StateEvent struct {
	From string
	To   string
	Time time.Time
}

// StateRecorder records scheduler state transitions.
type StateRecorder interface {
	RecordState(ev StateEvent) error
}

// MarkerEvent is an accepted navigation finish marker.
type MarkerEvent struct {
	Previous string
	Current  string
	Time     time.Time
}

// MarkerRecorder records navigation marker edges.
type MarkerRecorder interface {
	RecordMarker(ev MarkerEvent) error
}

// NopSink implements every recorder with no-op methods.
type NopSink struct{}

func (NopSink) RecordCommand(CommandEvent) error   { return nil }
func (NopSink) RecordTick(TickEvent) error         { return nil }
func (NopSink) RecordCoverage(CoverageEvent) error { return nil }
func (NopSink) RecordState(StateEvent) error       { return nil }
func (NopSink) RecordMarker(MarkerEvent) error     { return nil }
