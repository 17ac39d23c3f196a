package client

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/cachemir/muxcache/pkg/protocol"
)

// Metrics holds the client's Prometheus collectors. A nil *Metrics records
// nothing.
type Metrics struct {
	requests  *prometheus.CounterVec
	latency   *prometheus.HistogramVec
	inflight  prometheus.Gauge
	dropped   prometheus.Counter
	malformed prometheus.Counter
}

// NewMetrics creates the client collectors and registers them with reg.
// Pass nil to create unregistered collectors.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "muxcache",
			Subsystem: "client",
			Name:      "requests_total",
			Help:      "Requests by command and outcome (status code, timeout, connection_closed, canceled).",
		}, []string{"command", "outcome"}),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "muxcache",
			Subsystem: "client",
			Name:      "request_duration_seconds",
			Help:      "Time from registration to resolution of a request.",
			Buckets:   prometheus.ExponentialBuckets(0.0005, 2, 14),
		}, []string{"command"}),
		inflight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "muxcache",
			Subsystem: "client",
			Name:      "inflight_requests",
			Help:      "Requests registered and not yet resolved.",
		}),
		dropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "muxcache",
			Subsystem: "client",
			Name:      "dropped_responses_total",
			Help:      "Responses discarded because no request with their id was pending.",
		}),
		malformed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "muxcache",
			Subsystem: "client",
			Name:      "malformed_frames_total",
			Help:      "Inbound frames that failed to decode.",
		}),
	}

	if reg != nil {
		reg.MustRegister(m.requests, m.latency, m.inflight, m.dropped, m.malformed)
	}
	return m
}

func (m *Metrics) started() {
	if m == nil {
		return
	}
	m.inflight.Inc()
}

func (m *Metrics) finished(cmd protocol.CommandType, outcome string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.inflight.Dec()
	m.requests.WithLabelValues(string(cmd), outcome).Inc()
	m.latency.WithLabelValues(string(cmd)).Observe(elapsed.Seconds())
}

func (m *Metrics) droppedResponse() {
	if m == nil {
		return
	}
	m.dropped.Inc()
}

func (m *Metrics) malformedFrame() {
	if m == nil {
		return
	}
	m.malformed.Inc()
}
