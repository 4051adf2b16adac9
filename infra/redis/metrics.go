package redis

import "github.com/prometheus/client_golang/prometheus"

var (
	acquireFailures prometheus.Counter
	reconnects      *prometheus.CounterVec
)

func newCollectors() (prometheus.Counter, *prometheus.CounterVec) {
	failures := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "state_store_acquire_failures_total",
		Help: "Failed attempts to borrow a live state store connection",
	})
	rc := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "state_store_reconnects_total",
		Help: "Reconnect supervisor runs by outcome",
	}, []string{"outcome"})
	return failures, rc
}

func init() {
	acquireFailures, reconnects = newCollectors()
	MustRegisterMetrics(nil)
}

// MustRegisterMetrics registers the store metrics on reg, or on the default
// registerer when reg is nil.
func MustRegisterMetrics(reg prometheus.Registerer) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(acquireFailures, reconnects)
}

// ResetMetrics reinitializes the collectors for tests.
func ResetMetrics(reg prometheus.Registerer) {
	acquireFailures, reconnects = newCollectors()
	if reg != nil {
		MustRegisterMetrics(reg)
	}
}
