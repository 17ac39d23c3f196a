package server

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/cachemir/muxcache/pkg/cache"
	"github.com/cachemir/muxcache/pkg/protocol"
)

// metrics holds the server's Prometheus collectors. A nil *metrics records
// nothing.
type metrics struct {
	requests    *prometheus.CounterVec
	duration    *prometheus.HistogramVec
	connections prometheus.Gauge
	badFrames   prometheus.Counter
}

// newMetrics creates the server collectors and registers them with reg,
// together with gauges reading the store counters. A nil reg leaves
// everything unregistered.
func newMetrics(reg prometheus.Registerer, store *cache.Cache) *metrics {
	m := &metrics{
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "muxcache",
			Subsystem: "server",
			Name:      "requests_total",
			Help:      "Requests handled, by command and response status.",
		}, []string{"command", "status"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "muxcache",
			Subsystem: "server",
			Name:      "request_duration_seconds",
			Help:      "Time spent executing a request against the store.",
			Buckets:   prometheus.ExponentialBuckets(0.00005, 2, 14),
		}, []string{"command"}),
		connections: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "muxcache",
			Subsystem: "server",
			Name:      "open_connections",
			Help:      "Client connections currently open.",
		}),
		badFrames: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "muxcache",
			Subsystem: "server",
			Name:      "malformed_frames_total",
			Help:      "Inbound frames that could not be decoded into a request.",
		}),
	}

	if reg == nil {
		return m
	}

	reg.MustRegister(m.requests, m.duration, m.connections, m.badFrames)
	if store != nil {
		reg.MustRegister(
			prometheus.NewGaugeFunc(prometheus.GaugeOpts{
				Namespace: "muxcache",
				Subsystem: "store",
				Name:      "entries",
				Help:      "Entries held by the store, including expired entries not yet removed.",
			}, func() float64 { return float64(store.Len()) }),
			prometheus.NewCounterFunc(prometheus.CounterOpts{
				Namespace: "muxcache",
				Subsystem: "store",
				Name:      "expired_total",
				Help:      "Entries removed because their TTL elapsed.",
			}, func() float64 { return float64(store.Stats().Expired) }),
		)
	}
	return m
}

func (m *metrics) observe(cmd protocol.CommandType, status protocol.StatusCode, seconds float64) {
	if m == nil {
		return
	}
	m.requests.WithLabelValues(string(cmd), string(status)).Inc()
	m.duration.WithLabelValues(string(cmd)).Observe(seconds)
}

func (m *metrics) connOpened() {
	if m == nil {
		return
	}
	m.connections.Inc()
}

func (m *metrics) connClosed() {
	if m == nil {
		return
	}
	m.connections.Dec()
}

func (m *metrics) malformedFrame() {
	if m == nil {
		return
	}
	m.badFrames.Inc()
}
