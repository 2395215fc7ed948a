// Package metrics provides optional Prometheus instrumentation for the
// client. Unlike a server, the client does not own a registry or expose a
// /metrics endpoint; instead it registers its collectors into whatever
// [prometheus.Registerer] the host passes through Config.MetricsRegisterer.
// A nil registerer yields a Metrics value whose methods are safe no-ops, so
// a host that doesn't care about metrics pays no cost and risks no panic.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the Prometheus collectors the ingestion pipeline and
// feature-flag subsystem record into.
type Metrics struct {
	enabled bool

	IngestRequestsTotal   *prometheus.CounterVec
	IngestRequestDuration *prometheus.HistogramVec
	QueueDepth            prometheus.Gauge
	MessagesEnqueued      prometheus.Counter
	MessagesDropped       *prometheus.CounterVec
	BatchesSent           prometheus.Counter

	PollCyclesTotal *prometheus.CounterVec
	CacheSize       prometheus.Gauge

	EvaluationsTotal *prometheus.CounterVec
}

// New creates the collector set. If reg is nil, the returned Metrics is
// disabled: every recording method becomes a no-op.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		return &Metrics{enabled: false}
	}

	m := &Metrics{
		enabled: true,

		IngestRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "posthog_ingest_requests_total",
			Help: "Total number of requests made to the ingestion endpoint, labeled by outcome.",
		}, []string{"outcome"}),

		IngestRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "posthog_ingest_request_duration_seconds",
			Help:    "Ingestion HTTP request latency in seconds.",
			Buckets: prometheus.DefBuckets,
		}, []string{"outcome"}),

		QueueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "posthog_queue_depth",
			Help: "Current number of messages waiting in the ingestion queue.",
		}),

		MessagesEnqueued: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "posthog_messages_enqueued_total",
			Help: "Total number of messages successfully enqueued.",
		}),

		MessagesDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "posthog_messages_dropped_total",
			Help: "Total number of messages dropped, labeled by reason.",
		}, []string{"reason"}),

		BatchesSent: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "posthog_batches_sent_total",
			Help: "Total number of batches handed to the transport.",
		}),

		PollCyclesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "posthog_poll_cycles_total",
			Help: "Total number of feature-flag poll cycles, labeled by outcome class.",
		}, []string{"outcome"}),

		CacheSize: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "posthog_flag_cache_size",
			Help: "Number of flag definitions currently cached.",
		}),

		EvaluationsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "posthog_flag_evaluations_total",
			Help: "Total number of flag evaluations, labeled by evaluation site.",
		}, []string{"site"}), // "local" | "remote"
	}

	reg.MustRegister(
		m.IngestRequestsTotal,
		m.IngestRequestDuration,
		m.QueueDepth,
		m.MessagesEnqueued,
		m.MessagesDropped,
		m.BatchesSent,
		m.PollCyclesTotal,
		m.CacheSize,
		m.EvaluationsTotal,
	)

	return m
}

func (m *Metrics) RecordIngestRequest(outcome string, d time.Duration) {
	if !m.enabled {
		return
	}
	m.IngestRequestsTotal.WithLabelValues(outcome).Inc()
	m.IngestRequestDuration.WithLabelValues(outcome).Observe(d.Seconds())
}

func (m *Metrics) SetQueueDepth(n int) {
	if !m.enabled {
		return
	}
	m.QueueDepth.Set(float64(n))
}

func (m *Metrics) IncMessagesEnqueued() {
	if !m.enabled {
		return
	}
	m.MessagesEnqueued.Inc()
}

func (m *Metrics) IncMessagesDropped(reason string) {
	if !m.enabled {
		return
	}
	m.MessagesDropped.WithLabelValues(reason).Inc()
}

func (m *Metrics) IncBatchesSent() {
	if !m.enabled {
		return
	}
	m.BatchesSent.Inc()
}

func (m *Metrics) IncPollCycle(outcome string) {
	if !m.enabled {
		return
	}
	m.PollCyclesTotal.WithLabelValues(outcome).Inc()
}

func (m *Metrics) SetCacheSize(n int) {
	if !m.enabled {
		return
	}
	m.CacheSize.Set(float64(n))
}

func (m *Metrics) RecordEvaluation(site string) {
	if !m.enabled {
		return
	}
	m.EvaluationsTotal.WithLabelValues(site).Inc()
}
