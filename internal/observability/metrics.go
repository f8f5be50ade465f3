// Package observability exposes Prometheus metrics for the sync service.
package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	pushesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "sync_service",
		Subsystem: "push",
		Name:      "batches_total",
		Help:      "Number of sync push batches processed.",
	})
	opsAppliedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "sync_service",
		Subsystem: "push",
		Name:      "ops_applied_total",
		Help:      "Number of client operations applied (including idempotent replays).",
	})
	conflictsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "sync_service",
		Subsystem: "push",
		Name:      "conflicts_total",
		Help:      "Number of lost-update conflicts reported to clients.",
	})
	rejectedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "sync_service",
		Subsystem: "push",
		Name:      "ops_rejected_total",
		Help:      "Number of client operations rejected by validation.",
	})
	pushDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "sync_service",
		Subsystem: "push",
		Name:      "duration_seconds",
		Help:      "Time spent reconciling one push batch end to end.",
		Buckets:   prometheus.ExponentialBuckets(0.005, 2, 10),
	})
	lastPushGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "sync_service",
		Subsystem: "push",
		Name:      "last_batch_timestamp_seconds",
		Help:      "Unix timestamp of the most recent committed push batch.",
	})
)

func init() {
	prometheus.MustRegister(pushesTotal, opsAppliedTotal, conflictsTotal, rejectedTotal, pushDuration, lastPushGauge)
}

// RecordPush updates the push counters after a committed batch.
func RecordPush(applied, conflicts, rejected int, elapsed time.Duration, serverTime time.Time) {
	pushesTotal.Inc()
	opsAppliedTotal.Add(float64(applied))
	conflictsTotal.Add(float64(conflicts))
	rejectedTotal.Add(float64(rejected))
	pushDuration.Observe(elapsed.Seconds())
	if !serverTime.IsZero() {
		lastPushGauge.Set(float64(serverTime.Unix()))
	}
}
