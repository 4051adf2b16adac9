package app

import (
	"context"
	"errors"

	"github.com/kilianp07/fleetctl/core/events"
	"github.com/kilianp07/fleetctl/core/journal"
	"github.com/kilianp07/fleetctl/core/logger"
	coremetrics "github.com/kilianp07/fleetctl/core/metrics"
	"github.com/kilianp07/fleetctl/core/unitstatus"
	inframetrics "github.com/kilianp07/fleetctl/infra/metrics"
)

// Recorder moves bus events into the metrics sink, the command journal and
// the unit status store. Failures are logged and never reach the control
// loop.
type Recorder struct {
	sink    coremetrics.MetricsSink
	journal journal.Store
	units   unitstatus.Store
	log     logger.Logger
}

// NewRecorder creates a Recorder. Nil dependencies are replaced by no-op
// implementations.
func NewRecorder(sink coremetrics.MetricsSink, j journal.Store, units unitstatus.Store, log logger.Logger) *Recorder {
	if sink == nil {
		sink = coremetrics.NopSink{}
	}
	if j == nil {
		j = journal.NopStore{}
	}
	if units == nil {
		units = unitstatus.NewMemoryStore()
	}
	if log == nil {
		log = nopLogger{}
	}
	return &Recorder{sink: sink, journal: j, units: units, log: log}
}

// Run handles events until sub is closed.
func (r *Recorder) Run(sub <-chan events.Event) {
	for ev := range sub {
		if err := r.Handle(context.Background(), ev); err != nil {
			r.log.Warnf("record %T: %v", ev, err)
		}
	}
}

// Handle records a single event.
func (r *Recorder) Handle(ctx context.Context, ev events.Event) error {
	err := inframetrics.RecordEvent(r.sink, ev)
	cmd, ok := ev.(events.CommandEvent)
	if !ok {
		return err
	}
	rec := journal.Record{
		Timestamp: cmd.Time,
		Channel:   cmd.Channel,
		Payload:   cmd.Payload,
		UnitID:    cmd.UnitID,
		Success:   cmd.Err == nil,
		LatencyMS: float64(cmd.Latency.Microseconds()) / 1000,
	}
	if cmd.Err != nil {
		rec.Error = cmd.Err.Error()
	}
	r.units.Record(cmd.UnitID, unitstatus.LastCommand{
		Channel:   rec.Channel,
		Payload:   rec.Payload,
		Success:   rec.Success,
		Error:     rec.Error,
		Timestamp: rec.Timestamp,
	})
	if jerr := r.journal.Append(ctx, rec); jerr != nil {
		err = errors.Join(err, jerr)
	}
	return err
}

type nopLogger struct{}

func (nopLogger) Debugf(string, ...any)         {}
func (nopLogger) Debugw(string, map[string]any) {}
func (nopLogger) Infof(string, ...any)          {}
func (nopLogger) Warnf(string, ...any)          {}
func (nopLogger) Errorf(string, ...any)         {}
