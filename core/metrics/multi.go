package metrics

import (
	"errors"
	"io"
)

// MultiSink fans events out to multiple sinks.
type MultiSink struct {
	Sinks []MetricsSink
}

// NewMultiSink creates a MultiSink with the provided sinks.
func NewMultiSink(sinks ...MetricsSink) *MultiSink {
	return &MultiSink{Sinks: sinks}
}

// RecordCommand forwards the command to all sinks, returning the first error
// encountered.
func (m *MultiSink) RecordCommand(ev CommandEvent) error {
	for _, s := range m.Sinks {
		if err := s.RecordCommand(ev); err != nil {
			return err
		}
	}
	return nil
}

// RecordTick forwards tick events when supported by the sink.
func (m *MultiSink) RecordTick(ev TickEvent) error {
	for _, s := range m.Sinks {
		if rec, ok := s.(TickRecorder); ok {
			if err := rec.RecordTick(ev); err != nil {
				return err
			}
		}
	}
	return nil
}

// RecordCoverage forwards coverage events when supported by the sink.
func (m *MultiSink) RecordCoverage(ev CoverageEvent) error {
	for _, s := range m.Sinks {
		if rec, ok := s.(CoverageRecorder); ok {
			if err := rec.RecordCoverage(ev); err != nil {
				return err
			}
		}
	}
	return nil
}

// RecordState forwards state transitions when supported by the sink.
func (m *MultiSink) RecordState(ev StateEvent) error {
	for _, s := range m.Sinks {
		if rec, ok := s.(StateRecorder); ok {
			if err := rec.RecordState(ev); err != nil {
				return err
			}
		}
	}
	return nil
}

// RecordMarker forwards marker edges when supported by the sink.
func (m *MultiSink) RecordMarker(ev MarkerEvent) error {
	for _, s := range m.Sinks {
		if rec, ok := s.(MarkerRecorder); ok {
			if err := rec.RecordMarker(ev); err != nil {
				return err
			}
		}
	}
	return nil
}

// Close closes every sink that holds resources.
func (m *MultiSink) Close() error {
	var err error
	for _, s := range m.Sinks {
		if c, ok := s.(io.Closer); ok {
			err = errors.Join(err, c.Close())
		}
	}
	return err
}
