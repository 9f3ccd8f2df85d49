// Package metrics owns the Prometheus registry for a robomesh process and the
// metric sets the router and connection manager report into.
//
// Metric sets follow the nil-input-nil-feature pattern: constructors return
// nil when given a nil registry, and every method is safe on a nil receiver.
package metrics

import (
	stderrors "errors"
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "robomesh"

// Registry wraps a private Prometheus registry
type Registry struct {
	prometheusRegistry *prometheus.Registry
}

// NewRegistry creates a registry preloaded with Go runtime and process collectors
func NewRegistry() *Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return &Registry{prometheusRegistry: reg}
}

// PrometheusRegistry returns the underlying Prometheus registry
func (r *Registry) PrometheusRegistry() *prometheus.Registry {
	return r.prometheusRegistry
}

// Handler serves the registry in the Prometheus exposition format
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.prometheusRegistry, promhttp.HandlerOpts{})
}

// register registers c, returning the already registered collector when an
// identical one exists so that several components may share a registry.
func register[T prometheus.Collector](r *Registry, c T) T {
	if err := r.prometheusRegistry.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if stderrors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(T); ok {
				return existing
			}
		}
		panic(err)
	}
	return c
}

// RouterMetrics covers routing table activity
type RouterMetrics struct {
	messagesPublished prometheus.Counter
	routingErrors     prometheus.Counter
	nacksSent         prometheus.Counter
	listenerFaults    prometheus.Counter
	links             prometheus.Gauge
	topics            prometheus.Gauge
}

// NewRouterMetrics creates and registers router metrics
func NewRouterMetrics(r *Registry) *RouterMetrics {
	if r == nil {
		return nil
	}
	return &RouterMetrics{
		messagesPublished: register(r, prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "router",
			Name: "messages_published_total",
			Help: "Messages delivered to local listeners",
		})),
		routingErrors: register(r, prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "router",
			Name: "routing_errors_total",
			Help: "Messages dropped because the destination named no link or topic",
		})),
		nacksSent: register(r, prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "router",
			Name: "nacks_sent_total",
			Help: "Negative acknowledgements sent for unreachable destinations",
		})),
		listenerFaults: register(r, prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "router",
			Name: "listener_faults_total",
			Help: "Listener callbacks that panicked during delivery",
		})),
		links: register(r, prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "router",
			Name: "links",
			Help: "Links currently attached to the router",
		})),
		topics: register(r, prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "router",
			Name: "topics",
			Help: "Topics with at least one listener",
		})),
	}
}

func (m *RouterMetrics) Published() {
	if m != nil {
		m.messagesPublished.Inc()
	}
}

func (m *RouterMetrics) RoutingError() {
	if m != nil {
		m.routingErrors.Inc()
	}
}

func (m *RouterMetrics) NackSent() {
	if m != nil {
		m.nacksSent.Inc()
	}
}

func (m *RouterMetrics) ListenerFault() {
	if m != nil {
		m.listenerFaults.Inc()
	}
}

func (m *RouterMetrics) SetLinks(n int) {
	if m != nil {
		m.links.Set(float64(n))
	}
}

func (m *RouterMetrics) SetTopics(n int) {
	if m != nil {
		m.topics.Set(float64(n))
	}
}

// LinkMetrics covers socket-backed links
type LinkMetrics struct {
	framesSent        prometheus.Counter
	framesReceived    prometheus.Counter
	bytesSent         prometheus.Counter
	bytesReceived     prometheus.Counter
	checksumFailures  prometheus.Counter
	handshakeFailures prometheus.Counter
	oversizedFrames   prometheus.Counter
	connections       prometheus.Gauge
}

// NewLinkMetrics creates and registers connection metrics
func NewLinkMetrics(r *Registry) *LinkMetrics {
	if r == nil {
		return nil
	}
	return &LinkMetrics{
		framesSent: register(r, prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "link",
			Name: "frames_sent_total",
			Help: "Frames written to remote links",
		})),
		framesReceived: register(r, prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "link",
			Name: "frames_received_total",
			Help: "Frames read from remote links",
		})),
		bytesSent: register(r, prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "link",
			Name: "payload_bytes_sent_total",
			Help: "Payload bytes written to remote links",
		})),
		bytesReceived: register(r, prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "link",
			Name: "payload_bytes_received_total",
			Help: "Payload bytes read from remote links",
		})),
		checksumFailures: register(r, prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "link",
			Name: "checksum_failures_total",
			Help: "Frames rejected because a checksum did not match",
		})),
		handshakeFailures: register(r, prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "link",
			Name: "handshake_failures_total",
			Help: "Connections dropped during the handshake",
		})),
		oversizedFrames: register(r, prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "link",
			Name: "oversized_frames_total",
			Help: "Frames larger than the warning threshold",
		})),
		connections: register(r, prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "link",
			Name: "connections",
			Help: "Live remote connections",
		})),
	}
}

func (m *LinkMetrics) FrameSent(payloadLen int) {
	if m != nil {
		m.framesSent.Inc()
		m.bytesSent.Add(float64(payloadLen))
	}
}

func (m *LinkMetrics) FrameReceived(payloadLen int) {
	if m != nil {
		m.framesReceived.Inc()
		m.bytesReceived.Add(float64(payloadLen))
	}
}

func (m *LinkMetrics) ChecksumFailure() {
	if m != nil {
		m.checksumFailures.Inc()
	}
}

func (m *LinkMetrics) HandshakeFailure() {
	if m != nil {
		m.handshakeFailures.Inc()
	}
}

func (m *LinkMetrics) OversizedFrame() {
	if m != nil {
		m.oversizedFrames.Inc()
	}
}

func (m *LinkMetrics) ConnectionOpened() {
	if m != nil {
		m.connections.Inc()
	}
}

func (m *LinkMetrics) ConnectionClosed() {
	if m != nil {
		m.connections.Dec()
	}
}

// HTTPMetrics covers the HTTP API
type HTTPMetrics struct {
	requests *prometheus.CounterVec
	duration *prometheus.HistogramVec
}

// NewHTTPMetrics creates and registers HTTP API metrics
func NewHTTPMetrics(r *Registry) *HTTPMetrics {
	if r == nil {
		return nil
	}
	return &HTTPMetrics{
		requests: register(r, prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "http",
			Name: "requests_total",
			Help: "HTTP API requests by method and status code",
		}, []string{"method", "code"})),
		duration: register(r, prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Subsystem: "http",
			Name:    "request_duration_seconds",
			Help:    "HTTP API request latency",
			Buckets: prometheus.DefBuckets,
		}, []string{"method"})),
	}
}

// Observe records one completed request
func (m *HTTPMetrics) Observe(method string, code int, seconds float64) {
	if m != nil {
		m.requests.WithLabelValues(method, strconv.Itoa(code)).Inc()
		m.duration.WithLabelValues(method).Observe(seconds)
	}
}
