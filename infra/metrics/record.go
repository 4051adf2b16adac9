package metrics

import (
	"github.com/kilianp07/fleetctl/core/events"
	coremetrics "github.com/kilianp07/fleetctl/core/metrics"
)

// RecordEvent converts a bus event and records it on sink when the sink
// supports that kind of event.
func RecordEvent(sink coremetrics.MetricsSink, ev events.Event) error {
	if sink == nil {
		return nil
	}
	switch e := ev.(type) {
	case events.CommandEvent:
		rec := coremetrics.CommandEvent{
			Channel: e.Channel,
			Payload: e.Payload,
			UnitID:  e.UnitID,
			Success: e.Err == nil,
			Latency: e.Latency,
			Time:    e.Time,
		}
		if e.Err != nil {
			rec.Error = e.Err.Error()
		}
		return sink.RecordCommand(rec)
	case events.TickEvent:
		if r, ok := sink.(coremetrics.TickRecorder); ok {
			return r.RecordTick(coremetrics.TickEvent{Outcome: e.Outcome, Duration: e.Duration, Time: e.Time})
		}
	case events.CoverageEvent:
		if r, ok := sink.(coremetrics.CoverageRecorder); ok {
			return r.RecordCoverage(coremetrics.CoverageEvent{Covered: e.Covered, Total: e.Total, Time: e.Time})
		}
	case events.StateEvent:
		if r, ok := sink.(coremetrics.StateRecorder); ok {
			return r.RecordState(coremetrics.StateEvent{From: e.From, To: e.To, Time: e.Time})
		}
	case events.MarkerEvent:
		if r, ok := sink.(coremetrics.MarkerRecorder); ok {
			return r.RecordMarker(coremetrics.MarkerEvent{Previous: e.Previous, Current: e.Current, Time: e.Time})
		}
	}
	return nil
}
