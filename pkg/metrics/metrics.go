package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics tracks proxy request counts, latency, and token throughput.
type Metrics struct {
	registry *prometheus.Registry

	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	tokensTotal     *prometheus.CounterVec
	recordsDropped  prometheus.Counter
}

// New creates Metrics registered on a fresh registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		requestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "tokentap",
				Name:      "requests_total",
				Help:      "Total number of proxied requests",
			},
			[]string{"endpoint", "status", "streamed"},
		),
		requestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "tokentap",
				Name:      "request_duration_seconds",
				Help:      "Duration of proxied requests in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"endpoint"},
		),
		tokensTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "tokentap",
				Name:      "tokens_total",
				Help:      "Total number of tokens observed in upstream responses",
			},
			[]string{"model", "type"},
		),
		recordsDropped: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "tokentap",
				Name:      "records_dropped_total",
				Help:      "Total number of usage records dropped before persistence",
			},
		),
	}

	m.registry.MustRegister(m.requestsTotal, m.requestDuration, m.tokensTotal, m.recordsDropped)
	return m
}

// ObserveRequest records one completed proxy request.
func (m *Metrics) ObserveRequest(endpoint, status string, streamed bool, duration time.Duration) {
	streamedLabel := "false"
	if streamed {
		streamedLabel = "true"
	}
	m.requestsTotal.WithLabelValues(endpoint, status, streamedLabel).Inc()
	m.requestDuration.WithLabelValues(endpoint).Observe(duration.Seconds())
}

// ObserveTokens records token counts for a model.
func (m *Metrics) ObserveTokens(model string, inputTokens, outputTokens int) {
	if model == "" {
		model = "unknown"
	}
	if inputTokens > 0 {
		m.tokensTotal.WithLabelValues(model, "input").Add(float64(inputTokens))
	}
	if outputTokens > 0 {
		m.tokensTotal.WithLabelValues(model, "output").Add(float64(outputTokens))
	}
}

// ObserveDroppedRecord counts a usage record lost before persistence.
func (m *Metrics) ObserveDroppedRecord() {
	m.recordsDropped.Inc()
}

// Handler returns the exposition endpoint handler.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
