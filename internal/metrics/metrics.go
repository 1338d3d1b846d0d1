// Package metrics exposes Prometheus metrics for the orchestration engine.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "trailbot"

// Poll cycle metrics.
var (
	CyclesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "cycles_total",
		Help:      "Poll cycles run, by result.",
	}, []string{"result"})

	CycleDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "cycle_duration_seconds",
		Help:      "Duration of one poll cycle.",
		Buckets:   prometheus.DefBuckets,
	})

	RowsProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "rows_processed_total",
		Help:      "Instruction rows processed, by outcome.",
	}, []string{"outcome"})
)

// Trigger and submission metrics.
var (
	TriggersFired = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "triggers_fired_total",
		Help:      "Trigger evaluations that latched an intention.",
	}, []string{"symbol"})

	SubmissionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "submissions_total",
		Help:      "Protective pair submissions, by result.",
	}, []string{"symbol", "result"})

	CompensationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "compensations_total",
		Help:      "Compensating cancels after a partial submission, by outcome.",
	}, []string{"outcome"})

	SubmitLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "submit_latency_seconds",
		Help:      "Wall time to place both legs of a pair.",
		Buckets:   prometheus.DefBuckets,
	})
)

// Reconciliation metrics.
var (
	OrderEventsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "order_events_total",
		Help:      "Gateway order events reconciled, by status.",
	}, []string{"status"})

	IntentionsInState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "intentions_in_state",
		Help:      "Tracked intentions per lifecycle state.",
	}, []string{"state"})
)

// Connectivity and liveness metrics.
var (
	GatewayConnected = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "gateway_connected",
		Help:      "1 when the order gateway connection is up.",
	})

	FeedReachable = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "feed_reachable",
		Help:      "1 when the last feed fetch succeeded.",
	})

	HeartbeatTimestamp = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "heartbeat_timestamp_seconds",
		Help:      "Unix time of the last completed poll cycle.",
	})

	ErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "errors_total",
		Help:      "Errors by type.",
	}, []string{"type"})

	BuildInfo = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "build_info",
		Help:      "Build metadata, value is always 1.",
	}, []string{"version", "commit", "date"})
)

// SetBuildInfo publishes build metadata.
func SetBuildInfo(version, commit, date string) {
	BuildInfo.WithLabelValues(version, commit, date).Set(1)
}
