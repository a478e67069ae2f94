package observability

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// MarketMetrics wraps the collectors tracking marketplace RPC activity.
type MarketMetrics struct {
	requests *prometheus.CounterVec
	errors   *prometheus.CounterVec
	latency  *prometheus.HistogramVec
}

// EventStreamMetrics tracks the websocket event feed.
type EventStreamMetrics struct {
	subscribers prometheus.Gauge
	delivered   prometheus.Counter
	dropped     prometheus.Counter
}

var (
	marketMetricsOnce sync.Once
	marketRegistry    *MarketMetrics

	streamMetricsOnce sync.Once
	streamRegistry    *EventStreamMetrics
)

// Market returns the lazily-initialised metrics registry used to record
// marketplace RPC activity.
func Market() *MarketMetrics {
	marketMetricsOnce.Do(func() {
		marketRegistry = &MarketMetrics{
			requests: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "marketd",
				Subsystem: "rpc",
				Name:      "requests_total",
				Help:      "Total JSON-RPC requests segmented by method and outcome.",
			}, []string{"method", "outcome"}),
			errors: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "marketd",
				Subsystem: "rpc",
				Name:      "errors_total",
				Help:      "Total JSON-RPC errors segmented by method and error code.",
			}, []string{"method", "code"}),
			latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "marketd",
				Subsystem: "rpc",
				Name:      "request_duration_seconds",
				Help:      "Latency distribution for JSON-RPC handlers.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"method"}),
		}
		prometheus.MustRegister(
			marketRegistry.requests,
			marketRegistry.errors,
			marketRegistry.latency,
		)
	})
	return marketRegistry
}

// Observe records the outcome of an RPC request. A zero code means the
// request succeeded; any other value is the JSON-RPC error code that was
// written to the response.
func (m *MarketMetrics) Observe(method string, code int, duration time.Duration) {
	if m == nil {
		return
	}
	if method = strings.TrimSpace(method); method == "" {
		method = "unknown"
	}
	outcome := "success"
	if code != 0 {
		outcome = "error"
		m.errors.WithLabelValues(method, fmt.Sprintf("%d", code)).Inc()
	}
	m.requests.WithLabelValues(method, outcome).Inc()
	m.latency.WithLabelValues(method).Observe(duration.Seconds())
}

// EventStream returns the singleton metrics registry for the websocket feed.
func EventStream() *EventStreamMetrics {
	streamMetricsOnce.Do(func() {
		streamRegistry = &EventStreamMetrics{
			subscribers: prometheus.NewGauge(prometheus.GaugeOpts{
				Namespace: "marketd",
				Subsystem: "events",
				Name:      "subscribers",
				Help:      "Number of connected websocket subscribers.",
			}),
			delivered: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "marketd",
				Subsystem: "events",
				Name:      "delivered_total",
				Help:      "Count of events delivered to websocket subscribers.",
			}),
			dropped: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "marketd",
				Subsystem: "events",
				Name:      "dropped_total",
				Help:      "Count of events dropped because a subscriber could not keep up.",
			}),
		}
		prometheus.MustRegister(
			streamRegistry.subscribers,
			streamRegistry.delivered,
			streamRegistry.dropped,
		)
	})
	return streamRegistry
}

// SubscriberConnected adjusts the subscriber gauge as clients join and leave.
func (m *EventStreamMetrics) SubscriberConnected(connected bool) {
	if m == nil {
		return
	}
	if connected {
		m.subscribers.Inc()
		return
	}
	m.subscribers.Dec()
}

// RecordDelivery counts an event handed to a subscriber.
func (m *EventStreamMetrics) RecordDelivery() {
	if m == nil {
		return
	}
	m.delivered.Inc()
}

// RecordDrop counts an event discarded for a slow subscriber.
func (m *EventStreamMetrics) RecordDrop() {
	if m == nil {
		return
	}
	m.dropped.Inc()
}
