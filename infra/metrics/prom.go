package metrics

import (
	"errors"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"

	coremetrics "github.com/kilianp07/fleetctl/core/metrics"
)

// Scheduler states exported by the scheduler_state gauge.
var schedulerStates = []string{"running", "paused", "shutting_down", "stopped"}

// PromSink records control loop events in Prometheus metrics.
type PromSink struct {
	commands *prometheus.CounterVec
	latency  *prometheus.HistogramVec
	covered  prometheus.Gauge
	total    prometheus.Gauge
	ratio    prometheus.Gauge
	state    *prometheus.GaugeVec
	markers  prometheus.Counter
}

// NewPromSink registers the sink metrics on the default Prometheus registerer.
// The metrics endpoint is served separately by StartPromServer.
func NewPromSink() (*PromSink, error) {
	return NewPromSinkWithRegistry(prometheus.DefaultRegisterer)
}

// NewPromSinkWithRegistry registers metrics on the provided registerer.
// A nil registerer defaults to the global Prometheus registerer. Collectors
// already registered by a previous sink are reused.
func NewPromSinkWithRegistry(reg prometheus.Registerer) (*PromSink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	s := &PromSink{
		commands: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "fleet_commands_total",
			Help: "Commands handed to task channels",
		}, []string{"channel", "result"}),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "fleet_command_send_seconds",
			Help:    "Time spent delivering a command to its channel",
			Buckets: prometheus.DefBuckets,
		}, []string{"channel"}),
		covered: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "fleet_map_cells_covered",
			Help: "Map cells visited by the fleet",
		}),
		total: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "fleet_map_cells_total",
			Help: "Map size in cells, zero while unknown",
		}),
		ratio: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "fleet_map_coverage_ratio",
			Help: "Covered share of the map",
		}),
		state: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "fleet_scheduler_state",
			Help: "Current scheduler state, 1 for the active state",
		}, []string{"state"}),
		markers: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "fleet_navigation_markers_total",
			Help: "Navigation finish markers accepted",
		}),
	}
	var err error
	if s.commands, err = register(reg, s.commands); err != nil {
		return nil, err
	}
	if s.latency, err = register(reg, s.latency); err != nil {
		return nil, err
	}
	if s.covered, err = register(reg, s.covered); err != nil {
		return nil, err
	}
	if s.total, err = register(reg, s.total); err != nil {
		return nil, err
	}
	if s.ratio, err = register(reg, s.ratio); err != nil {
		return nil, err
	}
	if s.state, err = register(reg, s.state); err != nil {
		return nil, err
	}
	if s.markers, err = register(reg, s.markers); err != nil {
		return nil, err
	}
	return s, nil
}

func register[C prometheus.Collector](reg prometheus.Registerer, c C) (C, error) {
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(C); ok {
				return existing, nil
			}
		}
		return c, err
	}
	return c, nil
}

// RecordCommand counts the command and observes its send latency.
func (s *PromSink) RecordCommand(ev coremetrics.CommandEvent) error {
	s.commands.WithLabelValues(ev.Channel, result(ev.Success)).Inc()
	s.latency.WithLabelValues(ev.Channel).Observe(ev.Latency.Seconds())
	return nil
}

// RecordCoverage updates the coverage gauges.
func (s *PromSink) RecordCoverage(ev coremetrics.CoverageEvent) error {
	s.covered.Set(float64(ev.Covered))
	s.total.Set(float64(ev.Total))
	s.ratio.Set(ev.Ratio())
	return nil
}

// RecordState marks ev.To as the active scheduler state.
func (s *PromSink) RecordState(ev coremetrics.StateEvent) error {
	for _, st := range schedulerStates {
		v := 0.0
		if st == ev.To {
			v = 1
		}
		s.state.WithLabelValues(st).Set(v)
	}
	return nil
}

// RecordMarker counts accepted navigation markers.
func (s *PromSink) RecordMarker(coremetrics.MarkerEvent) error {
	s.markers.Inc()
	return nil
}

func result(ok bool) string {
	if ok {
		return "success"
	}
	return "failure"
}

func boolTag(b bool) string { return strconv.FormatBool(b) }
