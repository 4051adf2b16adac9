package control

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	ticksTotal   *prometheus.CounterVec
	tickDuration prometheus.Histogram
)

// newCollectors creates new metric collectors.
func newCollectors() (*prometheus.CounterVec, prometheus.Histogram) {
	ticks := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "control_ticks_total",
		Help: "Control loop ticks by outcome",
	}, []string{"outcome"})
	duration := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "control_tick_duration_seconds",
		Help:    "Duration of control loop ticks that ran the dispatch engine",
		Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5},
	})
	return ticks, duration
}

func init() {
	ticksTotal, tickDuration = newCollectors()
	MustRegisterMetrics(nil)
}

// MustRegisterMetrics registers control loop metrics on the provided
// registry. If reg is nil, prometheus.DefaultRegisterer is used.
func MustRegisterMetrics(reg prometheus.Registerer) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(ticksTotal, tickDuration)
}

// ResetMetrics reinitializes metrics collectors for testing purposes and
// registers them on the provided registry if not nil.
func ResetMetrics(reg prometheus.Registerer) {
	ticksTotal, tickDuration = newCollectors()
	if reg != nil {
		MustRegisterMetrics(reg)
	}
}
