package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// PipelineMetrics counts message outcomes per event type. A nil
// *PipelineMetrics is a valid no-op sink, which keeps the processor free of
// registry wiring in tests.
type PipelineMetrics struct {
	ConsumedTotal     *prometheus.CounterVec
	FailedTotal       *prometheus.CounterVec
	PoisonTotal       *prometheus.CounterVec
	AckTotal          prometheus.Counter
	NakTotal          prometheus.Counter
	ProcessingSeconds *prometheus.HistogramVec
}

func New(reg prometheus.Registerer) *PipelineMetrics {
	m := &PipelineMetrics{
		ConsumedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sync_messages_consumed_total",
				Help: "Messages applied to the staging store and acked",
			},
			[]string{"event_type"},
		),
		FailedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sync_messages_failed_total",
				Help: "Messages that failed dispatch and were naked",
			},
			[]string{"event_type"},
		),
		PoisonTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sync_messages_poison_total",
				Help: "Malformed or unrecognized messages removed from the queue",
			},
			[]string{"reason"},
		),
		AckTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "sync_acks_total",
			Help: "Positive acknowledgements sent to the broker",
		}),
		NakTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "sync_naks_total",
			Help: "Negative acknowledgements sent to the broker",
		}),
		ProcessingSeconds: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "sync_processing_duration_seconds",
				Help:    "Per-message dispatch duration",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"event_type"},
		),
	}
	reg.MustRegister(
		m.ConsumedTotal, m.FailedTotal, m.PoisonTotal,
		m.AckTotal, m.NakTotal, m.ProcessingSeconds,
	)
	return m
}

func (m *PipelineMetrics) Consumed(eventType string, d time.Duration) {
	if m == nil {
		return
	}
	m.ConsumedTotal.WithLabelValues(eventType).Inc()
	m.ProcessingSeconds.WithLabelValues(eventType).Observe(d.Seconds())
}

func (m *PipelineMetrics) Failed(eventType string, d time.Duration) {
	if m == nil {
		return
	}
	m.FailedTotal.WithLabelValues(eventType).Inc()
	m.ProcessingSeconds.WithLabelValues(eventType).Observe(d.Seconds())
}

func (m *PipelineMetrics) Poison(reason string) {
	if m == nil {
		return
	}
	m.PoisonTotal.WithLabelValues(reason).Inc()
}

func (m *PipelineMetrics) Acked() {
	if m == nil {
		return
	}
	m.AckTotal.Inc()
}

func (m *PipelineMetrics) Naked() {
	if m == nil {
		return
	}
	m.NakTotal.Inc()
}

// Handler serves the default registry; mounted at /metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}
