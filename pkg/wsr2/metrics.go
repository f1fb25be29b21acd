// ABOUTME: Prometheus collectors for the reliability layer
// ABOUTME: Tracks reconnects, correlated requests, resends and evictions
package wsr2

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	namespace = "wsr2"
	subsystem = "client"
)

type metrics struct {
	reconnectAttempts prometheus.Counter
	reconnectGiveUps  prometheus.Counter
	connectionEvents  *prometheus.CounterVec
	requestsSent      *prometheus.CounterVec
	responses         prometheus.Counter
	resends           prometheus.Counter
	evictions         prometheus.Counter
	framesDropped     *prometheus.CounterVec

	pending     prometheus.Gauge
	queueLength prometheus.Gauge
	connected   prometheus.Gauge
}

func newMetrics(reg prometheus.Registerer) *metrics {
	m := &metrics{
		reconnectAttempts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "reconnect_attempts_total",
			Help:      "Total number of reconnect attempts",
		}),
		reconnectGiveUps: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "reconnect_give_ups_total",
			Help:      "Total number of times the reconnect budget was exhausted",
		}),
		connectionEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "connection_events_total",
			Help:      "Connection lifecycle events by type (open, reopen, close)",
		}, []string{"event"}),
		requestsSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "requests_sent_total",
			Help:      "Messages handed to Send by kind (correlated, push)",
		}, []string{"kind"}),
		responses: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "responses_total",
			Help:      "Correlated responses delivered to a callback",
		}),
		resends: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "resends_total",
			Help:      "Requests resent after exceeding the request timeout",
		}),
		evictions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "retry_queue_evictions_total",
			Help:      "Requests evicted from a full retry queue",
		}),
		framesDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "frames_dropped_total",
			Help:      "Inbound frames dropped by reason (invalid_id, unroutable)",
		}, []string{"reason"}),
		pending: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "pending_requests",
			Help:      "Correlated requests awaiting a response",
		}),
		queueLength: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "retry_queue_length",
			Help:      "Entries in the retry queue",
		}),
		connected: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "connected",
			Help:      "1 while the transport is connected",
		}),
	}

	if reg == nil {
		return m
	}

	m.reconnectAttempts = register(reg, m.reconnectAttempts)
	m.reconnectGiveUps = register(reg, m.reconnectGiveUps)
	m.connectionEvents = register(reg, m.connectionEvents)
	m.requestsSent = register(reg, m.requestsSent)
	m.responses = register(reg, m.responses)
	m.resends = register(reg, m.resends)
	m.evictions = register(reg, m.evictions)
	m.framesDropped = register(reg, m.framesDropped)
	m.pending = register(reg, m.pending)
	m.queueLength = register(reg, m.queueLength)
	m.connected = register(reg, m.connected)

	return m
}

// register adds c to reg, reusing an identical collector that is already registered
func register[T prometheus.Collector](reg prometheus.Registerer, c T) T {
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(T); ok {
				return existing
			}
		}
	}
	return c
}
