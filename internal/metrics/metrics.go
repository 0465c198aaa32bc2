package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "demobroker"

// Lookup outcome labels.
const (
	LookupCached    = "cached"
	LookupResolved  = "resolved"
	LookupTimeout   = "timeout"
	LookupCancelled = "cancelled"
)

// Resolver query outcome labels.
const (
	QueryAnswered = "answered"
	QueryEmpty    = "empty"
	QueryFailed   = "failed"
)

// Bus side labels.
const (
	SideServer = "server"
	SideClient = "client"
)

// Metrics contains every collector the processes export.
type Metrics struct {
	registry *prometheus.Registry

	BusPeers            prometheus.Gauge
	BusFramesReceived   *prometheus.CounterVec
	BusDecodeErrors     *prometheus.CounterVec
	BusBroadcasts       prometheus.Counter
	BusWriteFailures    *prometheus.CounterVec
	BusClientConnected  prometheus.Gauge
	BusClientReconnects prometheus.Counter
	BusClientQueued     prometheus.Gauge

	Lookups         *prometheus.CounterVec
	LookupsPending  prometheus.Gauge
	LookupDuration  *prometheus.HistogramVec
	CacheEntries    prometheus.Gauge
	Resolutions     *prometheus.CounterVec
	ResolverQueries *prometheus.CounterVec
	ResolverLatency prometheus.Histogram
}

// New creates a Metrics instance registered on a private registry together
// with the Go runtime and process collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),

		BusPeers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "bus",
			Name:      "peers",
			Help:      "Peers currently connected to the bus server",
		}),
		BusFramesReceived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "bus",
			Name:      "frames_received_total",
			Help:      "Frames decoded from the bus",
		}, []string{"side"}),
		BusDecodeErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "bus",
			Name:      "decode_errors_total",
			Help:      "Frames that failed to decode",
		}, []string{"side"}),
		BusBroadcasts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "bus",
			Name:      "broadcasts_total",
			Help:      "Messages broadcast by the bus server",
		}),
		BusWriteFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "bus",
			Name:      "write_failures_total",
			Help:      "Writes that failed and dropped the connection",
		}, []string{"side"}),
		BusClientConnected: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "bus_client",
			Name:      "connected",
			Help:      "Bus client connection state (0=disconnected, 1=connected)",
		}),
		BusClientReconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "bus_client",
			Name:      "connect_attempts_total",
			Help:      "Connection attempts made by the bus client",
		}),
		BusClientQueued: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "bus_client",
			Name:      "queued_frames",
			Help:      "Frames waiting for the bus client to reconnect",
		}),

		Lookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "lookup",
			Name:      "total",
			Help:      "Completed lookups by outcome",
		}, []string{"outcome"}),
		LookupsPending: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "lookup",
			Name:      "pending",
			Help:      "Keys waiting for a resolution",
		}),
		LookupDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "lookup",
			Name:      "duration_seconds",
			Help:      "Time from lookup to outcome",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		}, []string{"outcome"}),
		CacheEntries: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "lookup",
			Name:      "cache_entries",
			Help:      "Resolved values held in the cache",
		}),
		Resolutions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "lookup",
			Name:      "resolutions_total",
			Help:      "Resolution messages received, split by whether a lookup was waiting",
		}, []string{"matched"}),
		ResolverQueries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "resolver",
			Name:      "queries_total",
			Help:      "Backend queries run by the resolver",
		}, []string{"result"}),
		ResolverLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "resolver",
			Name:      "query_duration_seconds",
			Help:      "Backend query latency",
			Buckets:   prometheus.DefBuckets,
		}),
	}

	m.registry.MustRegister(
		m.BusPeers,
		m.BusFramesReceived,
		m.BusDecodeErrors,
		m.BusBroadcasts,
		m.BusWriteFailures,
		m.BusClientConnected,
		m.BusClientReconnects,
		m.BusClientQueued,
		m.Lookups,
		m.LookupsPending,
		m.LookupDuration,
		m.CacheEntries,
		m.Resolutions,
		m.ResolverQueries,
		m.ResolverLatency,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Registry exposes the underlying Prometheus registry.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func (m *Metrics) PeerJoined() {
	if m != nil {
		m.BusPeers.Inc()
	}
}

func (m *Metrics) PeerLeft() {
	if m != nil {
		m.BusPeers.Dec()
	}
}

func (m *Metrics) FrameReceived(side string) {
	if m != nil {
		m.BusFramesReceived.WithLabelValues(side).Inc()
	}
}

func (m *Metrics) DecodeError(side string) {
	if m != nil {
		m.BusDecodeErrors.WithLabelValues(side).Inc()
	}
}

func (m *Metrics) Broadcast() {
	if m != nil {
		m.BusBroadcasts.Inc()
	}
}

func (m *Metrics) WriteFailure(side string) {
	if m != nil {
		m.BusWriteFailures.WithLabelValues(side).Inc()
	}
}

func (m *Metrics) ClientConnected(connected bool) {
	if m == nil {
		return
	}
	if connected {
		m.BusClientConnected.Set(1)
		return
	}
	m.BusClientConnected.Set(0)
}

func (m *Metrics) ConnectAttempt() {
	if m != nil {
		m.BusClientReconnects.Inc()
	}
}

func (m *Metrics) QueueDepth(n int) {
	if m != nil {
		m.BusClientQueued.Set(float64(n))
	}
}

// LookupFinished records one caller outcome and its latency.
func (m *Metrics) LookupFinished(outcome string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.Lookups.WithLabelValues(outcome).Inc()
	m.LookupDuration.WithLabelValues(outcome).Observe(elapsed.Seconds())
}

func (m *Metrics) Pending(n int) {
	if m != nil {
		m.LookupsPending.Set(float64(n))
	}
}

func (m *Metrics) CacheSize(n int) {
	if m != nil {
		m.CacheEntries.Set(float64(n))
	}
}

func (m *Metrics) Resolution(matched bool) {
	if m == nil {
		return
	}
	label := "false"
	if matched {
		label = "true"
	}
	m.Resolutions.WithLabelValues(label).Inc()
}

// Query records one resolver backend query.
func (m *Metrics) Query(result string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.ResolverQueries.WithLabelValues(result).Inc()
	m.ResolverLatency.Observe(elapsed.Seconds())
}
