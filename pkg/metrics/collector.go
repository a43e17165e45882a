// Package metrics exposes Prometheus collectors for the presence API.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	presenceEventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "presence_events_total",
			Help: "Presence transitions received labeled by type and outcome",
		},
		[]string{"type", "outcome"},
	)
	accrualRunsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "score_accrual_runs_total",
			Help: "Number of lazy all-time score accruals applied",
		},
	)
	accrualPoints = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "score_accrual_points",
			Help:    "Points added per accrual run",
			Buckets: prometheus.ExponentialBuckets(1, 10, 8),
		},
	)
	followMutationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "follow_mutations_total",
			Help: "Follow graph mutations labeled by action and status",
		},
		[]string{"action", "status"},
	)
	searchQueriesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "search_queries_total",
			Help: "Username prefix searches served",
		},
	)
	leaderboardQueriesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "leaderboard_queries_total",
			Help: "Leaderboard range queries served",
		},
	)
	requestDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "request_duration_seconds",
			Help:    "Duration of API operations in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation"},
	)
	operationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "operations_total",
			Help: "API operations labeled by operation and status",
		},
		[]string{"operation", "status"},
	)
)

const (
	OutcomeAccepted = "accepted"
	OutcomeDeduped  = "deduped"
	OutcomeRejected = "rejected"
)

// RecordPresenceEvent counts one inbound presence transition.
func RecordPresenceEvent(eventType, outcome string) {
	if eventType == "" {
		eventType = "unknown"
	}
	if outcome == "" {
		outcome = "unknown"
	}

	presenceEventsTotal.WithLabelValues(eventType, outcome).Inc()
}

// RecordAccrual counts one applied accrual and its point delta.
func RecordAccrual(points float64) {
	accrualRunsTotal.Inc()
	if points >= 0 {
		accrualPoints.Observe(points)
	}
}

// RecordFollowMutation counts a follow or unfollow attempt.
func RecordFollowMutation(action, status string) {
	followMutationsTotal.WithLabelValues(action, status).Inc()
}

// RecordSearch counts one username search.
func RecordSearch() {
	searchQueriesTotal.Inc()
}

// RecordLeaderboardQuery counts one leaderboard range query.
func RecordLeaderboardQuery() {
	leaderboardQueriesTotal.Inc()
}

// RecordOperation tracks an operation's status and duration.
func RecordOperation(operation, status string, duration time.Duration) {
	if operation == "" {
		operation = "unknown"
	}
	if status == "" {
		status = "unknown"
	}

	operationsTotal.WithLabelValues(operation, status).Inc()
	requestDurationSeconds.WithLabelValues(operation).Observe(duration.Seconds())
}
