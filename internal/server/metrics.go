// ABOUTME: Prometheus collectors for the sample endpoint
// ABOUTME: Exposes request accounting and client count as func-backed metrics
package server

import (
	"github.com/prometheus/client_golang/prometheus"
)

// RegisterMetrics registers the server's counters with reg
func (s *Server) RegisterMetrics(reg prometheus.Registerer) error {
	counter := func(name, help string, value func() int64) prometheus.Collector {
		return prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace: "wsr2",
			Subsystem: "server",
			Name:      name,
			Help:      help,
		}, func() float64 { return float64(value()) })
	}

	collectors := []prometheus.Collector{
		counter("requests_total", "Correlated requests received.", s.requests.Load),
		counter("responses_total", "Responses queued to clients.", s.answered.Load),
		counter("requests_dropped_total", "Correlated requests deliberately left unanswered.", s.dropped.Load),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: "wsr2",
			Subsystem: "server",
			Name:      "clients",
			Help:      "Currently connected clients.",
		}, func() float64 { return float64(s.Stats().Clients) }),
	}

	for _, c := range collectors {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}
