package client

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const metricsNamespace = "qpipe"

// registerPoolMetrics exports the pool statistics as gauges and counters.
// Values are read from the pool's atomics at scrape time.
func registerPoolMetrics(reg prometheus.Registerer, p *ConnectionPool) {
	if reg == nil {
		return
	}
	factory := promauto.With(reg)

	gauge := func(name, help string, value func() float64) {
		factory.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Subsystem: "pool",
			Name:      name,
			Help:      help,
		}, value)
	}
	counter := func(name, help string, value func() float64) {
		factory.NewCounterFunc(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "pool",
			Name:      name,
			Help:      help,
		}, value)
	}

	gauge("active_connections", "Connections currently handed out.",
		func() float64 { return float64(p.stats.ActiveConnections.Load()) })
	gauge("idle_connections", "Connections waiting in the pool.",
		func() float64 { return float64(p.stats.IdleConnections.Load()) })
	gauge("total_connections", "Open connections owned by the pool.",
		func() float64 { return float64(p.stats.TotalConnections.Load()) })

	counter("hits_total", "Acquisitions served by an idle connection.",
		func() float64 { return float64(p.stats.Hits.Load()) })
	counter("misses_total", "Acquisitions that dialed a new connection.",
		func() float64 { return float64(p.stats.Misses.Load()) })
	counter("timeouts_total", "Acquisitions that gave up waiting.",
		func() float64 { return float64(p.stats.Timeouts.Load()) })
	counter("errors_total", "Failed dials.",
		func() float64 { return float64(p.stats.Errors.Load()) })
	counter("poisoned_total", "Connections closed because a batch left them dirty.",
		func() float64 { return float64(p.stats.Poisoned.Load()) })
	counter("wait_seconds_total", "Time spent waiting for a connection.",
		func() float64 { return float64(p.stats.WaitDuration.Load()) / 1e9 })
}
