package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Telemetry holds the service's Prometheus collectors. All metrics register
// on the default registry and are scraped from /metrics.
type Telemetry struct {
	ChatRequests      *prometheus.CounterVec
	StreamChunks      prometheus.Counter
	Escalations       prometheus.Counter
	RetrievalFailures prometheus.Counter
	AnswerConfidence  prometheus.Histogram
	ChatDuration      prometheus.Histogram
}

// Chat request outcomes.
const (
	OutcomeAnswered  = "answered"
	OutcomeEscalated = "escalated"
	OutcomeWaiting   = "waiting"
	OutcomeRefused   = "refused"
	OutcomeFallback  = "fallback"
)

// New registers the service collectors on the default registry.
func New() *Telemetry {
	return NewWithRegistry(prometheus.DefaultRegisterer)
}

// NewWithRegistry registers the collectors on reg. Tests use a fresh registry
// to read counters without colliding with the process-wide one.
func NewWithRegistry(reg prometheus.Registerer) *Telemetry {
	factory := promauto.With(reg)
	return &Telemetry{
		ChatRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "muniagent_chat_requests_total",
			Help: "Chat turns handled, by outcome.",
		}, []string{"outcome"}),
		StreamChunks: factory.NewCounter(prometheus.CounterOpts{
			Name: "muniagent_chat_stream_chunks_total",
			Help: "Answer chunks streamed to citizens.",
		}),
		Escalations: factory.NewCounter(prometheus.CounterOpts{
			Name: "muniagent_escalations_total",
			Help: "Conversations handed to a human.",
		}),
		RetrievalFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "muniagent_retrieval_failures_total",
			Help: "Vector index or FAQ lookups that degraded to empty context.",
		}),
		AnswerConfidence: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "muniagent_answer_confidence",
			Help:    "Confidence score distribution of generated answers.",
			Buckets: prometheus.LinearBuckets(0, 0.1, 11),
		}),
		ChatDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "muniagent_chat_duration_seconds",
			Help:    "Wall time of a chat turn including streaming.",
			Buckets: prometheus.DefBuckets,
		}),
	}
}
