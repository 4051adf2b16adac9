package dispatch

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	workersInFlight   prometheus.Gauge
	workerWaitExpired prometheus.Counter
	naviEdges         prometheus.Counter
)

// newCollectors creates new metric collectors.
func newCollectors() (prometheus.Gauge, prometheus.Counter, prometheus.Counter) {
	inflight := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "unit_dispatch_workers_in_flight",
		Help: "Unit sends currently running on the dispatch worker pool",
	})
	expired := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "unit_dispatch_wait_expired_total",
		Help: "Ticks that stopped waiting for unit sends before they finished",
	})
	edges := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "navigation_marker_edges_total",
		Help: "Navigation finish marker transitions that produced commands",
	})
	return inflight, expired, edges
}

func init() {
	workersInFlight, workerWaitExpired, naviEdges = newCollectors()
	MustRegisterMetrics(nil)
}

// MustRegisterMetrics registers dispatch metrics on the provided registry.
// If reg is nil, prometheus.DefaultRegisterer is used.
func MustRegisterMetrics(reg prometheus.Registerer) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(workersInFlight, workerWaitExpired, naviEdges)
}

// ResetMetrics reinitializes metrics collectors for testing purposes and
// registers them on the provided registry if not nil.
func ResetMetrics(reg prometheus.Registerer) {
	workersInFlight, workerWaitExpired, naviEdges = newCollectors()
	if reg != nil {
		MustRegisterMetrics(reg)
	}
}
