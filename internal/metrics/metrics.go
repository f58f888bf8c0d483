// Package metrics wraps Prometheus collectors for the client's
// connection lifecycle, dispatcher, and delta-compression subsystems,
// grounded on adred-codev-ws_poc/go-server/internal/metrics's
// promauto-per-field pattern.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds every collector the client emits. A nil *Metrics is
// valid everywhere it is used (every method is a nil-safe no-op), so
// callers that don't want Prometheus wiring can simply pass nil.
type Metrics struct {
	stateTransitions *prometheus.CounterVec
	connectionState  prometheus.Gauge

	reconnectAttempts prometheus.Counter
	reconnectBackoff  prometheus.Histogram

	framesReceived *prometheus.CounterVec
	framesSent     *prometheus.CounterVec
	frameErrors    prometheus.Counter

	dispatchEmits   *prometheus.CounterVec
	dispatchPanics  prometheus.Counter

	deltaFullMessages  *prometheus.CounterVec
	deltaMessages      *prometheus.CounterVec
	deltaDecodeErrors  *prometheus.CounterVec
	deltaBandwidthSavedPercent *prometheus.GaugeVec

	subscriptions prometheus.Gauge
}

// New registers every collector against reg. Pass prometheus.NewRegistry()
// for an isolated registry in tests, or prometheus.DefaultRegisterer's
// registry in a real process.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		stateTransitions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "sockudo_client_state_transitions_total",
			Help: "Connection state transitions, labeled by the resulting state.",
		}, []string{"state"}),
		connectionState: factory.NewGauge(prometheus.GaugeOpts{
			Name: "sockudo_client_connection_state",
			Help: "Current connection state as an ordinal (see pusher.ConnectionState).",
		}),
		reconnectAttempts: factory.NewCounter(prometheus.CounterOpts{
			Name: "sockudo_client_reconnect_attempts_total",
			Help: "Total number of reconnect attempts made.",
		}),
		reconnectBackoff: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "sockudo_client_reconnect_backoff_seconds",
			Help:    "Backoff duration slept before each reconnect attempt.",
			Buckets: []float64{0.25, 0.5, 1, 2, 4, 8, 16, 30},
		}),
		framesReceived: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "sockudo_client_frames_received_total",
			Help: "Inbound protocol frames, labeled by event name.",
		}, []string{"event"}),
		framesSent: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "sockudo_client_frames_sent_total",
			Help: "Outbound protocol frames, labeled by event name.",
		}, []string{"event"}),
		frameErrors: factory.NewCounter(prometheus.CounterOpts{
			Name: "sockudo_client_frame_decode_errors_total",
			Help: "Inbound frames dropped for failing to parse.",
		}),
		dispatchEmits: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "sockudo_client_dispatch_emits_total",
			Help: "Event dispatcher emits, labeled by event name.",
		}, []string{"event"}),
		dispatchPanics: factory.NewCounter(prometheus.CounterOpts{
			Name: "sockudo_client_dispatch_callback_panics_total",
			Help: "Callback panics recovered by the dispatcher.",
		}),
		deltaFullMessages: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "sockudo_client_delta_full_messages_total",
			Help: "Full (non-delta) messages observed, labeled by channel.",
		}, []string{"channel"}),
		deltaMessages: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "sockudo_client_delta_messages_total",
			Help: "Delta messages decoded, labeled by channel.",
		}, []string{"channel"}),
		deltaDecodeErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "sockudo_client_delta_decode_errors_total",
			Help: "Delta decode failures, labeled by channel.",
		}, []string{"channel"}),
		deltaBandwidthSavedPercent: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "sockudo_client_delta_bandwidth_saved_percent",
			Help: "Most recent bandwidth-saved percentage, labeled by channel.",
		}, []string{"channel"}),
		subscriptions: factory.NewGauge(prometheus.GaugeOpts{
			Name: "sockudo_client_subscriptions",
			Help: "Number of channels currently registered.",
		}),
	}
}

func (m *Metrics) ObserveStateChange(ordinal int, name string) {
	if m == nil {
		return
	}
	m.stateTransitions.WithLabelValues(name).Inc()
	m.connectionState.Set(float64(ordinal))
}

func (m *Metrics) ObserveReconnectAttempt(backoff time.Duration) {
	if m == nil {
		return
	}
	m.reconnectAttempts.Inc()
	m.reconnectBackoff.Observe(backoff.Seconds())
}

func (m *Metrics) ObserveFrameReceived(event string) {
	if m == nil {
		return
	}
	m.framesReceived.WithLabelValues(event).Inc()
}

func (m *Metrics) ObserveFrameSent(event string) {
	if m == nil {
		return
	}
	m.framesSent.WithLabelValues(event).Inc()
}

func (m *Metrics) ObserveFrameDecodeError() {
	if m == nil {
		return
	}
	m.frameErrors.Inc()
}

func (m *Metrics) ObserveDispatchEmit(event string) {
	if m == nil {
		return
	}
	m.dispatchEmits.WithLabelValues(event).Inc()
}

func (m *Metrics) ObserveDispatchPanic() {
	if m == nil {
		return
	}
	m.dispatchPanics.Inc()
}

func (m *Metrics) ObserveDeltaFullMessage(channel string) {
	if m == nil {
		return
	}
	m.deltaFullMessages.WithLabelValues(channel).Inc()
}

func (m *Metrics) ObserveDeltaMessage(channel string, decodeErr bool, bandwidthSavedPercent float64) {
	if m == nil {
		return
	}
	m.deltaMessages.WithLabelValues(channel).Inc()
	if decodeErr {
		m.deltaDecodeErrors.WithLabelValues(channel).Inc()
	}
	m.deltaBandwidthSavedPercent.WithLabelValues(channel).Set(bandwidthSavedPercent)
}

func (m *Metrics) SetSubscriptions(n int) {
	if m == nil {
		return
	}
	m.subscriptions.Set(float64(n))
}
