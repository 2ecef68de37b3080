// Package metrics exposes Prometheus collectors for calls and completion
// proxy requests.
package metrics

import (
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/teslashibe/go-callbridge/pkg/bridge"
	"github.com/teslashibe/go-callbridge/pkg/callstate"
)

// Metrics holds all collectors. It implements bridge.Observer and
// proxy.Recorder.
type Metrics struct {
	registry *prometheus.Registry

	// Call metrics
	CallsActive   prometheus.Gauge
	CallsTotal    *prometheus.CounterVec
	CallDuration  prometheus.Histogram
	Transitions   *prometheus.CounterVec
	BargeIns      prometheus.Counter
	ResponseDelay prometheus.Histogram
	AudioBytes    *prometheus.CounterVec

	// Proxy metrics
	ProxyRequests *prometheus.CounterVec
	ProxyDuration *prometheus.HistogramVec
}

// New creates Metrics with every collector registered on a private registry.
func New(namespace string) *Metrics {
	if namespace == "" {
		namespace = "callbridge"
	}

	registry := prometheus.NewRegistry()

	callsActive := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "calls_active",
			Help:      "Number of calls in progress",
		},
	)

	callsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "calls_total",
			Help:      "Total number of finished calls by outcome",
		},
		[]string{"outcome"},
	)

	callDuration := prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "call_duration_seconds",
			Help:      "Call duration in seconds",
			Buckets:   []float64{5, 15, 30, 60, 120, 300, 600, 1800},
		},
	)

	transitions := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "turn_transitions_total",
			Help:      "Turn state transitions",
		},
		[]string{"from", "to"},
	)

	bargeIns := prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "barge_ins_total",
			Help:      "Times a caller interrupted agent playback",
		},
	)

	responseDelay := prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "response_delay_seconds",
			Help:      "Time from end of caller turn to first agent audio",
			Buckets:   []float64{0.25, 0.5, 0.75, 1, 1.5, 2, 3, 5, 10, 30},
		},
	)

	audioBytes := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "audio_bytes_total",
			Help:      "Audio bytes relayed",
		},
		[]string{"direction"},
	)

	proxyRequests := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "proxy_requests_total",
			Help:      "Completion proxy requests by outcome",
		},
		[]string{"outcome", "stream"},
	)

	proxyDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "proxy_request_duration_seconds",
			Help:      "Completion proxy request duration in seconds",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
		},
		[]string{"stream"},
	)

	registry.MustRegister(
		callsActive,
		callsTotal,
		callDuration,
		transitions,
		bargeIns,
		responseDelay,
		audioBytes,
		proxyRequests,
		proxyDuration,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	return &Metrics{
		registry:      registry,
		CallsActive:   callsActive,
		CallsTotal:    callsTotal,
		CallDuration:  callDuration,
		Transitions:   transitions,
		BargeIns:      bargeIns,
		ResponseDelay: responseDelay,
		AudioBytes:    audioBytes,
		ProxyRequests: proxyRequests,
		ProxyDuration: proxyDuration,
	}
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler returns an HTTP handler for the metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// CallStarted records a call starting.
func (m *Metrics) CallStarted(bridge.CallInfo) {
	m.CallsActive.Inc()
}

// CallEnded records a call ending.
func (m *Metrics) CallEnded(_ bridge.CallInfo, err error, elapsed time.Duration) {
	m.CallsActive.Dec()
	m.CallsTotal.WithLabelValues(callOutcome(err)).Inc()
	m.CallDuration.Observe(elapsed.Seconds())
}

// Transition records a turn state change.
func (m *Metrics) Transition(_ bridge.CallInfo, step callstate.Step, inState time.Duration) {
	m.Transitions.WithLabelValues(step.From.String(), step.To.String()).Inc()
	if step.BargeIn {
		m.BargeIns.Inc()
	}
	if step.From == callstate.Thinking && step.To == callstate.Speaking {
		m.ResponseDelay.Observe(inState.Seconds())
	}
}

// Transcript is a no-op; transcripts are not metrics.
func (m *Metrics) Transcript(bridge.CallInfo, string, string) {}

// AudioRelayed records relayed audio.
func (m *Metrics) AudioRelayed(dir bridge.Direction, bytes int) {
	m.AudioBytes.WithLabelValues(string(dir)).Add(float64(bytes))
}

// ObserveProxyRequest records a completed completion proxy request.
func (m *Metrics) ObserveProxyRequest(outcome string, stream bool, elapsed time.Duration) {
	s := "false"
	if stream {
		s = "true"
	}
	m.ProxyRequests.WithLabelValues(outcome, s).Inc()
	m.ProxyDuration.WithLabelValues(s).Observe(elapsed.Seconds())
}

func callOutcome(err error) string {
	switch {
	case err == nil:
		return "completed"
	case errors.Is(err, bridge.ErrHangup):
		return "hangup"
	case errors.Is(err, bridge.ErrTurnTimeout):
		return "turn_timeout"
	case errors.Is(err, bridge.ErrTelephonyClosed):
		return "telephony_closed"
	case errors.Is(err, bridge.ErrSettingsRejected):
		return "settings_rejected"
	default:
		return "error"
	}
}
