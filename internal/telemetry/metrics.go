package telemetry

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the service.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	RequestsTotal    *prometheus.CounterVec
	RequestDuration  *prometheus.HistogramVec
	ProviderCalls    *prometheus.CounterVec
	ProviderDuration *prometheus.HistogramVec
	TokenRefreshes   *prometheus.CounterVec
	WebhookEvents    *prometheus.CounterVec
	TrackingDegraded prometheus.Counter
}

// NewMetrics creates the service metrics and registers them with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		RequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "shipsync_requests_total",
				Help: "Total number of HTTP requests by route, method, and status",
			},
			[]string{"route", "method", "status"},
		),
		RequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "shipsync_request_duration_seconds",
				Help:    "HTTP request duration in seconds by route",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"route"},
		),
		ProviderCalls: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "shipsync_provider_calls_total",
				Help: "Total provider API calls by operation and outcome",
			},
			[]string{"operation", "outcome"},
		),
		ProviderDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "shipsync_provider_call_duration_seconds",
				Help:    "Provider API call duration in seconds by operation",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"operation"},
		),
		TokenRefreshes: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "shipsync_token_refreshes_total",
				Help: "Provider credential refreshes by result",
			},
			[]string{"result"},
		),
		WebhookEvents: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "shipsync_webhook_events_total",
				Help: "Inbound webhook events by event type and outcome",
			},
			[]string{"event", "outcome"},
		),
		TrackingDegraded: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "shipsync_tracking_degraded_total",
				Help: "Track requests answered from local data after a live lookup failed",
			},
		),
	}
}

// RecordRequest records an HTTP request metric.
func (m *Metrics) RecordRequest(route, method string, status int, duration float64) {
	if m == nil {
		return
	}
	m.RequestsTotal.WithLabelValues(route, method, strconv.Itoa(status)).Inc()
	m.RequestDuration.WithLabelValues(route).Observe(duration)
}

// RecordProviderCall records the outcome of one provider API call.
func (m *Metrics) RecordProviderCall(operation, outcome string, duration float64) {
	if m == nil {
		return
	}
	m.ProviderCalls.WithLabelValues(operation, outcome).Inc()
	m.ProviderDuration.WithLabelValues(operation).Observe(duration)
}

// RecordRefresh records a credential refresh attempt.
func (m *Metrics) RecordRefresh(result string) {
	if m == nil {
		return
	}
	m.TokenRefreshes.WithLabelValues(result).Inc()
}

// RecordWebhook records the outcome of an inbound webhook.
func (m *Metrics) RecordWebhook(event, outcome string) {
	if m == nil {
		return
	}
	m.WebhookEvents.WithLabelValues(event, outcome).Inc()
}

// RecordTrackingDegraded counts a live tracking lookup that fell back to local data.
func (m *Metrics) RecordTrackingDegraded() {
	if m == nil {
		return
	}
	m.TrackingDegraded.Inc()
}
