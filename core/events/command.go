package events

import "time"

// CommandEvent is published for every command handed to a task channel.
type CommandEvent struct {
	Channel string
	Payload string
	// UnitID is the unit the command targets, zero for display commands.
	UnitID  int
	Err     error
	Latency time.Duration
	Time    time.Time
}

func (CommandEvent) eventName() string { return "command" }

// MarkerEvent is published when a new navigation finish marker is accepted.
type MarkerEvent struct {
	Previous string
	Current  string
	Time     time.Time
}

func (MarkerEvent) eventName() string { return "marker" }
