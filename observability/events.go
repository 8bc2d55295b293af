package observability

import (
	"strings"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"omnibridge/core/events"
)

type eventMetrics struct {
	emitted *prometheus.CounterVec
}

var (
	eventMetricsOnce sync.Once
	eventRegistry    *eventMetrics
)

// Events returns the metrics registry tracking committed bridge events.
func Events() *eventMetrics {
	eventMetricsOnce.Do(func() {
		eventRegistry = &eventMetrics{
			emitted: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "omnibridge",
				Subsystem: "events",
				Name:      "emitted_total",
				Help:      "Count of committed events segmented by chain and event type.",
			}, []string{"chain", "type"}),
		}
		prometheus.MustRegister(eventRegistry.emitted)
	})
	return eventRegistry
}

// Record increments the counter for one event.
func (m *eventMetrics) Record(chain, eventType string) {
	if m == nil {
		return
	}
	normalized := strings.TrimSpace(strings.ToLower(eventType))
	if normalized == "" {
		normalized = "unknown"
	}
	m.emitted.WithLabelValues(label(chain), normalized).Inc()
}

// EventCounter is an events.Emitter that counts events of one chain.
type EventCounter struct {
	Chain string
}

// Emit implements events.Emitter.
func (c EventCounter) Emit(evt events.Event) {
	if evt == nil {
		return
	}
	Events().Record(c.Chain, evt.EventType())
}
