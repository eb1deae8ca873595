package telemetry

import "github.com/prometheus/client_golang/prometheus"

// Metrics is the fixed set of Prometheus collectors this engine exposes:
// bounded-queue depth and drop counts (§5 resource model, §7 resource
// exhaustion) plus per-component handler latency.
type Metrics struct {
	QueueDepth      *prometheus.GaugeVec
	QueueDrops      *prometheus.CounterVec
	HandlerLatency  *prometheus.HistogramVec
	TradesRecorded  prometheus.Counter
	AdaptationsSeen *prometheus.CounterVec
	OpenPositions   prometheus.Gauge
}

// NewMetrics registers every collector against reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		QueueDepth: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "paperengine",
			Name:      "queue_depth",
			Help:      "Current depth of a bounded internal queue.",
		}, []string{"queue"}),
		QueueDrops: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "paperengine",
			Name:      "queue_drops_total",
			Help:      "Events dropped from a bounded queue because it was full.",
		}, []string{"queue"}),
		HandlerLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "paperengine",
			Name:      "handler_latency_seconds",
			Help:      "Latency of an event-bus handler invocation.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"component"}),
		TradesRecorded: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "paperengine",
			Name:      "trades_recorded_total",
			Help:      "TradeEvents recorded to the journal.",
		}),
		AdaptationsSeen: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "paperengine",
			Name:      "adaptations_total",
			Help:      "Adaptations applied, labeled by kind.",
		}, []string{"kind"}),
		OpenPositions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "paperengine",
			Name:      "open_positions",
			Help:      "Currently open paper positions.",
		}),
	}
	reg.MustRegister(m.QueueDepth, m.QueueDrops, m.HandlerLatency, m.TradesRecorded, m.AdaptationsSeen, m.OpenPositions)
	return m
}
