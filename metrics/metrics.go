// Package metrics exposes the prometheus collectors the ambient
// observability stack instruments collide with: connect latency, barrier
// wait latency, transport failures, and per-outcome request counts.
// Registration is explicit — never against the default global registry —
// so an embedding application controls exposition.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Collector bundles every metric collide records during a run.
type Collector struct {
	ConnectDuration    prometheus.Histogram
	BarrierWaitSeconds *prometheus.HistogramVec
	TransportFailures  prometheus.Counter
	RequestsByOutcome  *prometheus.CounterVec
}

// NewCollector builds and registers a Collector against reg. Passing a
// fresh *prometheus.Registry (rather than prometheus.DefaultRegisterer) is
// the norm for a library embedded in someone else's process.
func NewCollector(reg *prometheus.Registry) *Collector {
	c := &Collector{
		ConnectDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "collide",
			Name:      "connect_duration_seconds",
			Help:      "Time from dial start to TCP/TLS connect completion.",
			Buckets:   prometheus.DefBuckets,
		}),
		BarrierWaitSeconds: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "collide",
			Name:      "barrier_wait_seconds",
			Help:      "Time a Connection spent blocked on a barrier.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"barrier"}),
		TransportFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "collide",
			Name:      "transport_failures_total",
			Help:      "Count of TCP/TLS errors encountered before or after RELEASE.",
		}),
		RequestsByOutcome: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "collide",
			Name:      "requests_total",
			Help:      "Count of completed work-queue items by outcome.",
		}, []string{"outcome"}),
	}

	if reg != nil {
		reg.MustRegister(c.ConnectDuration, c.BarrierWaitSeconds, c.TransportFailures, c.RequestsByOutcome)
	}
	return c
}

// NewNop returns a Collector whose metrics are registered with no registry:
// they are recorded but never exposed. Useful for tests and callers
// that don't want a prometheus endpoint.
func NewNop() *Collector {
	return NewCollector(nil)
}
