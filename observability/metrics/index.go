package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

type IndexMetrics struct {
	rowsIndexed   *prometheus.CounterVec
	writeFailures *prometheus.CounterVec
	lastTx        *prometheus.GaugeVec
	fixedMessages prometheus.Counter
}

var (
	indexOnce     sync.Once
	indexRegistry *IndexMetrics
)

func Index() *IndexMetrics {
	indexOnce.Do(func() {
		indexRegistry = &IndexMetrics{
			rowsIndexed: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "omnibridge_index_rows_total",
				Help: "Count of indexed bridge events by chain and type.",
			}, []string{"chain", "type"}),
			writeFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "omnibridge_index_write_failures_total",
				Help: "Number of events the index failed to persist by chain.",
			}, []string{"chain"}),
			lastTx: prometheus.NewGaugeVec(prometheus.GaugeOpts{
				Name: "omnibridge_index_last_event_unix",
				Help: "Wall clock time of the last indexed event per chain.",
			}, []string{"chain"}),
			fixedMessages: prometheus.NewCounter(prometheus.CounterOpts{
				Name: "omnibridge_index_fixed_messages_total",
				Help: "Count of failed messages observed as fixed.",
			}),
		}
		prometheus.MustRegister(
			indexRegistry.rowsIndexed,
			indexRegistry.writeFailures,
			indexRegistry.lastTx,
			indexRegistry.fixedMessages,
		)
	})
	return indexRegistry
}

func (m *IndexMetrics) ObserveRow(chain, kind string) {
	if m == nil {
		return
	}
	if kind == "" {
		kind = "unknown"
	}
	m.rowsIndexed.WithLabelValues(chainLabel(chain), kind).Inc()
}

func (m *IndexMetrics) IncWriteFailure(chain string) {
	if m == nil {
		return
	}
	m.writeFailures.WithLabelValues(chainLabel(chain)).Inc()
}

func (m *IndexMetrics) SetLastEvent(chain string, unix int64) {
	if m == nil {
		return
	}
	m.lastTx.WithLabelValues(chainLabel(chain)).Set(float64(unix))
}

func (m *IndexMetrics) IncFixed() {
	if m == nil {
		return
	}
	m.fixedMessages.Inc()
}

func (m *IndexMetrics) InitChain(chain string) {
	if m == nil {
		return
	}
	m.writeFailures.WithLabelValues(chainLabel(chain)).Add(0)
}

func chainLabel(chain string) string {
	if chain == "" {
		return "unknown"
	}
	return chain
}
