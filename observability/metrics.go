package observability

import (
	"math"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	mediatorMetricsOnce sync.Once
	mediatorRegistry    *MediatorMetrics

	relayerMetricsOnce sync.Once
	relayerRegistry    *RelayerMetrics

	apiMetricsOnce sync.Once
	apiRegistry    *APIMetrics
)

// MediatorMetrics tracks mediator entry points on both bridge sides.
type MediatorMetrics struct {
	operations *prometheus.CounterVec
	latency    *prometheus.HistogramVec
	errors     *prometheus.CounterVec
	available  *prometheus.GaugeVec
	fees       *prometheus.CounterVec
}

// Mediator returns the singleton metrics registry for mediator operations.
func Mediator() *MediatorMetrics {
	mediatorMetricsOnce.Do(func() {
		mediatorRegistry = &MediatorMetrics{
			operations: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "omnibridge",
				Subsystem: "mediator",
				Name:      "operations_total",
				Help:      "Count of mediator operations segmented by side, operation and outcome.",
			}, []string{"side", "operation", "outcome"}),
			latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "omnibridge",
				Subsystem: "mediator",
				Name:      "operation_duration_seconds",
				Help:      "Latency distribution for mediator operations.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"side", "operation"}),
			errors: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "omnibridge",
				Subsystem: "mediator",
				Name:      "errors_total",
				Help:      "Count of mediator failures segmented by side, operation and reason.",
			}, []string{"side", "operation", "reason"}),
			available: prometheus.NewGaugeVec(prometheus.GaugeOpts{
				Namespace: "omnibridge",
				Subsystem: "mediator",
				Name:      "available_per_tx",
				Help:      "Largest amount a single transfer of the token may move in the current day.",
			}, []string{"side", "token", "direction"}),
			fees: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "omnibridge",
				Subsystem: "mediator",
				Name:      "fees_distributed_total",
				Help:      "Sum of fees distributed to reward addresses in token base units.",
			}, []string{"side", "token"}),
		}
		prometheus.MustRegister(
			mediatorRegistry.operations,
			mediatorRegistry.latency,
			mediatorRegistry.errors,
			mediatorRegistry.available,
			mediatorRegistry.fees,
		)
	})
	return mediatorRegistry
}

// Observe records the outcome of a mediator operation.
func (m *MediatorMetrics) Observe(side, operation string, duration time.Duration, err error) {
	if m == nil {
		return
	}
	side = label(side)
	op := label(operation)
	outcome := "success"
	if err != nil {
		outcome = "error"
		m.errors.WithLabelValues(side, op, reason(err)).Inc()
	}
	m.operations.WithLabelValues(side, op, outcome).Inc()
	m.latency.WithLabelValues(side, op).Observe(duration.Seconds())
}

// RecordAvailable publishes the remaining per-transaction headroom of a token.
func (m *MediatorMetrics) RecordAvailable(side, token, direction string, amount *big.Int) {
	if m == nil {
		return
	}
	m.available.WithLabelValues(label(side), strings.ToLower(label(token)), label(direction)).Set(bigToFloat(amount))
}

// RecordFee accumulates a distributed fee.
func (m *MediatorMetrics) RecordFee(side, token string, fee *big.Int) {
	if m == nil || fee == nil || fee.Sign() <= 0 {
		return
	}
	m.fees.WithLabelValues(label(side), strings.ToLower(label(token))).Add(bigToFloat(fee))
}

// RelayerMetrics tracks message delivery between the bridge sides.
type RelayerMetrics struct {
	delivered *prometheus.CounterVec
	latency   *prometheus.HistogramVec
	pending   *prometheus.GaugeVec
	throttled prometheus.Counter
}

// Relayer returns the singleton metrics registry for the message relayer.
func Relayer() *RelayerMetrics {
	relayerMetricsOnce.Do(func() {
		relayerRegistry = &RelayerMetrics{
			delivered: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "omnibridge",
				Subsystem: "relayer",
				Name:      "messages_total",
				Help:      "Count of delivered messages segmented by destination and execution status.",
			}, []string{"destination", "status"}),
			latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "omnibridge",
				Subsystem: "relayer",
				Name:      "delivery_duration_seconds",
				Help:      "Latency distribution for message deliveries.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"destination"}),
			pending: prometheus.NewGaugeVec(prometheus.GaugeOpts{
				Namespace: "omnibridge",
				Subsystem: "relayer",
				Name:      "pending_messages",
				Help:      "Messages waiting for delivery segmented by destination and lane.",
			}, []string{"destination", "lane"}),
			throttled: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "omnibridge",
				Subsystem: "relayer",
				Name:      "throttled_total",
				Help:      "Count of relay passes cut short by the delivery rate limit.",
			}),
		}
		prometheus.MustRegister(
			relayerRegistry.delivered,
			relayerRegistry.latency,
			relayerRegistry.pending,
			relayerRegistry.throttled,
		)
	})
	return relayerRegistry
}

// ObserveDelivery records one executed message.
func (m *RelayerMetrics) ObserveDelivery(destination string, status bool, duration time.Duration) {
	if m == nil {
		return
	}
	outcome := "executed"
	if !status {
		outcome = "failed"
	}
	m.delivered.WithLabelValues(label(destination), outcome).Inc()
	m.latency.WithLabelValues(label(destination)).Observe(duration.Seconds())
}

// SetPending publishes the queue depth for a destination lane.
func (m *RelayerMetrics) SetPending(destination, lane string, count int) {
	if m == nil {
		return
	}
	m.pending.WithLabelValues(label(destination), label(lane)).Set(float64(count))
}

// PendingGauge returns the queue depth gauge of a destination lane.
func (m *RelayerMetrics) PendingGauge(destination, lane string) prometheus.Gauge {
	return m.pending.WithLabelValues(label(destination), label(lane))
}

// RecordThrottle counts a rate-limited relay pass.
func (m *RelayerMetrics) RecordThrottle() {
	if m == nil {
		return
	}
	m.throttled.Inc()
}

// APIMetrics tracks the daemon's HTTP API.
type APIMetrics struct {
	requests  *prometheus.CounterVec
	durations *prometheus.HistogramVec
	throttles *prometheus.CounterVec
}

// API returns the singleton metrics registry for the admin and query API.
func API() *APIMetrics {
	apiMetricsOnce.Do(func() {
		apiRegistry = &APIMetrics{
			requests: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "omnibridge",
				Subsystem: "api",
				Name:      "requests_total",
				Help:      "Total HTTP requests processed by the mediator daemon.",
			}, []string{"route", "method", "status"}),
			durations: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "omnibridge",
				Subsystem: "api",
				Name:      "request_duration_seconds",
				Help:      "Duration of HTTP requests in seconds.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"route", "method"}),
			throttles: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "omnibridge",
				Subsystem: "api",
				Name:      "throttles_total",
				Help:      "Count of API requests rejected by rate limiting.",
			}, []string{"route"}),
		}
		prometheus.MustRegister(apiRegistry.requests, apiRegistry.durations, apiRegistry.throttles)
	})
	return apiRegistry
}

// Observe records one HTTP request.
func (m *APIMetrics) Observe(route, method string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	m.requests.WithLabelValues(label(route), method, statusLabel(status)).Inc()
	m.durations.WithLabelValues(label(route), method).Observe(duration.Seconds())
}

// RecordThrottle counts a rate-limited request.
func (m *APIMetrics) RecordThrottle(route string) {
	if m == nil {
		return
	}
	m.throttles.WithLabelValues(label(route)).Inc()
}

func statusLabel(status int) string {
	switch {
	case status >= 500:
		return "5xx"
	case status >= 400:
		return "4xx"
	case status >= 300:
		return "3xx"
	default:
		return "2xx"
	}
}

func label(value string) string {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return "unknown"
	}
	return trimmed
}

func reason(err error) string {
	msg := strings.TrimSpace(err.Error())
	if msg == "" {
		return "unknown"
	}
	// Only the sentinel prefix is kept.
	if idx := strings.Index(msg, ": "); idx > 0 {
		if next := strings.Index(msg[idx+2:], ":"); next > 0 {
			return msg[:idx+2+next]
		}
	}
	return msg
}

func bigToFloat(value *big.Int) float64 {
	if value == nil {
		return 0
	}
	floatVal, acc := new(big.Float).SetInt(value).Float64()
	if acc != big.Exact {
		// Guard against NaN/Inf when conversion fails.
		if math.IsNaN(floatVal) || math.IsInf(floatVal, 0) {
			return 0
		}
	}
	return floatVal
}
