// Package metrics holds the Prometheus collectors exported on /metrics.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Aggregation outcomes used as the "result" label.
const (
	ResultApplied = "applied"
	ResultSkipped = "skipped"
	ResultInvalid = "invalid"
	ResultFailed  = "failed"
	ResultClosed  = "closed"

	ResultAccepted = "accepted"
)

var (
	// ActionsProcessed counts user actions by aggregation outcome.
	ActionsProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "eventsim_actions_processed_total",
		Help: "User actions handled by the similarity aggregator, by result",
	}, []string{"result"})

	// SimilaritiesEmitted counts similarity records produced by applied updates.
	SimilaritiesEmitted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "eventsim_similarities_emitted_total",
		Help: "Event similarity records produced by the aggregator",
	})

	// CommitRetries counts retried durable commits.
	CommitRetries = promauto.NewCounter(prometheus.CounterOpts{
		Name: "eventsim_commit_retries_total",
		Help: "Durable commit attempts that failed and were retried",
	})

	// CommitLatency measures one durable commit including retries.
	CommitLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "eventsim_commit_latency_seconds",
		Help:    "Durable commit latency in seconds, retries included",
		Buckets: prometheus.DefBuckets,
	})

	// QueueDepth is the number of submitted actions waiting for a worker.
	QueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "eventsim_aggregator_queue_depth",
		Help: "Actions queued for aggregator workers",
	})

	// ActionsPublished counts actions accepted by the collector endpoint, by outcome.
	ActionsPublished = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "eventsim_actions_published_total",
		Help: "User actions received by the collector, by outcome",
	}, []string{"result"})

	// BreakerState mirrors the publisher circuit breaker (0 closed, 1 half-open, 2 open).
	BreakerState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "eventsim_publisher_breaker_state",
		Help: "Circuit breaker state of a bus publisher",
	}, []string{"name"})

	// QueryDuration measures recommendation queries by operation.
	QueryDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "eventsim_query_duration_seconds",
		Help:    "Recommendation query latency in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"operation"})

	// QueryErrors counts failed recommendation queries by operation.
	QueryErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "eventsim_query_errors_total",
		Help: "Recommendation queries that failed, by operation",
	}, []string{"operation"})
)

// ObserveQuery records the latency of one recommendation query and counts it as
// failed when err is non-nil.
func ObserveQuery(operation string, start time.Time, err error) {
	QueryDuration.WithLabelValues(operation).Observe(time.Since(start).Seconds())
	if err != nil {
		QueryErrors.WithLabelValues(operation).Inc()
	}
}

// Sizes of the aggregator's in-memory state, refreshed periodically.
var (
	StateUsers = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "eventsim_state_users",
		Help: "Users with at least one interaction in aggregator memory",
	})
	StateEvents = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "eventsim_state_events",
		Help: "Events with a non-zero interaction sum in aggregator memory",
	})
	StatePairs = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "eventsim_state_pairs",
		Help: "Event pairs with a co-interaction sum in aggregator memory",
	})
)
