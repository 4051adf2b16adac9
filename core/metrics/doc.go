// Package metrics defines the sinks the control loop observability events are
// recorded into. Every sink records commands; optional recorder interfaces
// (ticks, coverage, scheduler state, navigation markers) are detected with
// type assertions. Sinks are built from configuration through a factory
// registry and combined with NewMultiSink when several are configured.
package metrics
