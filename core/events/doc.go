// Package events defines the events the control loop publishes on the bus.
//
// Available event types:
//   - CommandEvent: a command was sent (or failed) on a task channel
//   - TickEvent: outcome and duration of one scheduler tick
//   - CoverageEvent: map coverage observed by the completion check
//   - StateEvent: scheduler state transition
//   - MarkerEvent: navigation finish marker accepted as a new edge
package events

// Event is implemented by every event published on the bus.
type Event interface {
	eventName() string
}
