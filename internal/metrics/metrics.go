package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/notifyhub/feeddigest/internal/domain"
)

// Metrics groups all Prometheus instruments used across the application.
// Registered once at startup via New(); passed by pointer wherever needed.
type Metrics struct {
	ItemsProcessed     *prometheus.CounterVec
	ItemLatency        *prometheus.HistogramVec
	ItemsEnqueued      prometheus.Counter
	SourcesFailed      prometheus.Counter
	PollDuration       prometheus.Histogram
	WatermarksAdvanced prometheus.Counter
	QueueDepth         *prometheus.GaugeVec
}

// New registers all instruments with the given Prometheus registerer.
// Using a custom registry instead of prometheus.DefaultRegisterer keeps
// tests isolated.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		ItemsProcessed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "feeddigest_items_processed_total",
			Help: "Items popped by the dispatcher, by terminal outcome.",
		}, []string{"outcome"}),

		ItemLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "feeddigest_item_processing_seconds",
			Help:    "Time from pop to terminal outcome for one item.",
			Buckets: []float64{0.1, 0.5, 1, 5, 15, 30, 60, 120, 300, 600},
		}, []string{"outcome"}),

		ItemsEnqueued: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "feeddigest_items_enqueued_total",
			Help: "Items appended to source queues by the poller.",
		}),

		SourcesFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "feeddigest_source_fetch_failures_total",
			Help: "Sources skipped in a poll pass after fetch retries were exhausted.",
		}),

		PollDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "feeddigest_poll_pass_seconds",
			Help:    "Wall time of one full poll pass.",
			Buckets: prometheus.ExponentialBuckets(0.5, 2, 10),
		}),

		WatermarksAdvanced: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "feeddigest_watermarks_advanced_total",
			Help: "Source queues whose watermark moved after a full drain.",
		}),

		QueueDepth: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "feeddigest_queue_depth",
			Help: "Items waiting per queue at the start of a dispatch pass.",
		}, []string{"queue"}),
	}

	reg.MustRegister(
		m.ItemsProcessed,
		m.ItemLatency,
		m.ItemsEnqueued,
		m.SourcesFailed,
		m.PollDuration,
		m.WatermarksAdvanced,
		m.QueueDepth,
	)

	// Pre-create every outcome series so dashboards see zeros.
	for _, o := range domain.Outcomes {
		m.ItemsProcessed.WithLabelValues(string(o))
	}

	return m
}

// DispatchHooks returns the callbacks expected by worker.DispatchHooks.
// Centralises the prometheus calls so the worker package stays import-free.
func (m *Metrics) DispatchHooks() (
	onItem func(domain.Outcome, time.Duration),
	onWatermark func(domain.QueueKey),
	onDepths func(map[domain.QueueKey]int),
) {
	onItem = func(o domain.Outcome, latency time.Duration) {
		m.ItemsProcessed.WithLabelValues(string(o)).Inc()
		m.ItemLatency.WithLabelValues(string(o)).Observe(latency.Seconds())
	}
	onWatermark = func(domain.QueueKey) {
		m.WatermarksAdvanced.Inc()
	}
	onDepths = func(depths map[domain.QueueKey]int) {
		// Queues come and go with subscriptions; drop stale series.
		m.QueueDepth.Reset()
		for key, n := range depths {
			m.QueueDepth.WithLabelValues(string(key)).Set(float64(n))
		}
	}
	return
}

// PollHooks returns the callbacks expected by worker.PollHooks.
func (m *Metrics) PollHooks() (
	onEnqueued func(int),
	onSourceFailed func(domain.QueueKey),
	onPass func(time.Duration),
) {
	onEnqueued = func(n int) { m.ItemsEnqueued.Add(float64(n)) }
	onSourceFailed = func(domain.QueueKey) { m.SourcesFailed.Inc() }
	onPass = func(d time.Duration) { m.PollDuration.Observe(d.Seconds()) }
	return
}
