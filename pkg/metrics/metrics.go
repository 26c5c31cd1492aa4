// Package metrics exposes Prometheus collectors for the ledger. A nil
// *Metrics is valid and records nothing.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Metrics struct {
	ChatsOpened     *prometheus.CounterVec
	ChatTransitions *prometheus.CounterVec
	BridgeResults   *prometheus.CounterVec
	RevenueRecords  *prometheus.CounterVec
	PublishTotal    *prometheus.CounterVec
	PublishLatency  prometheus.Histogram
	RequestCount    *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec
}

// New creates the collectors and registers them on reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		ChatsOpened: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "escrow_chats_opened_total",
				Help: "Chat open attempts by asset, offer side and resulting status.",
			},
			[]string{"asset", "side", "status"},
		),
		ChatTransitions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "escrow_chat_transitions_total",
				Help: "Chat state transitions by asset.",
			},
			[]string{"asset", "transition"},
		),
		BridgeResults: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "escrow_bridge_results_total",
				Help: "Transfer bridge outcomes by kind.",
			},
			[]string{"kind", "outcome"},
		),
		RevenueRecords: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "escrow_revenue_records_total",
				Help: "Fee bookings written to the revenue pool.",
			},
			[]string{"asset"},
		),
		PublishTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "kafka_publish_total",
				Help: "Total Kafka publish attempts.",
			},
			[]string{"topic", "status"},
		),
		PublishLatency: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "kafka_publish_latency_seconds",
				Help:    "Kafka publish latency in seconds.",
				Buckets: prometheus.DefBuckets,
			},
		),
		RequestCount: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests.",
			},
			[]string{"method", "path", "status"},
		),
		RequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Duration of HTTP requests in seconds.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "path", "status"},
		),
	}
	reg.MustRegister(
		m.ChatsOpened, m.ChatTransitions, m.BridgeResults, m.RevenueRecords,
		m.PublishTotal, m.PublishLatency, m.RequestCount, m.RequestDuration,
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func Handler(reg *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
}

func (m *Metrics) ChatOpened(asset, side, status string) {
	if m == nil {
		return
	}
	m.ChatsOpened.WithLabelValues(asset, side, status).Inc()
}

func (m *Metrics) Transition(asset, transition string) {
	if m == nil {
		return
	}
	m.ChatTransitions.WithLabelValues(asset, transition).Inc()
}

func (m *Metrics) BridgeResult(kind, outcome string) {
	if m == nil {
		return
	}
	m.BridgeResults.WithLabelValues(kind, outcome).Inc()
}

func (m *Metrics) RevenueRecorded(asset string) {
	if m == nil {
		return
	}
	m.RevenueRecords.WithLabelValues(asset).Inc()
}

func (m *Metrics) ObservePublish(topic string, err error, took time.Duration) {
	if m == nil {
		return
	}
	status := "success"
	if err != nil {
		status = "error"
	}
	m.PublishTotal.WithLabelValues(topic, status).Inc()
	m.PublishLatency.Observe(took.Seconds())
}

func (m *Metrics) ObserveRequest(method, path, status string, took time.Duration) {
	if m == nil {
		return
	}
	m.RequestCount.WithLabelValues(method, path, status).Inc()
	m.RequestDuration.WithLabelValues(method, path, status).Observe(took.Seconds())
}
