// Package metrics holds the Prometheus collectors for the transfer
// engine and its HTTP surface.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Registry holds the application-specific Prometheus collectors.
var Registry = prometheus.NewRegistry()

var (
	transfersTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "payring",
			Subsystem: "transfers",
			Name:      "total",
			Help:      "Transfer outcomes by status.",
		},
		[]string{"status"},
	)

	transferDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "payring",
			Subsystem: "transfers",
			Name:      "duration_seconds",
			Help:      "End-to-end duration of transfer execution.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 12), // 1ms to ~4s
		},
	)

	lockContention = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "payring",
			Subsystem: "transfers",
			Name:      "lock_contention_total",
			Help:      "Transfers aborted because an account lock could not be acquired in time.",
		},
	)
)

func init() {
	Registry.MustRegister(transfersTotal, transferDuration, lockContention)
}

// ObserveTransfer records one transfer attempt and its outcome.
func ObserveTransfer(status string, elapsed time.Duration) {
	transfersTotal.WithLabelValues(status).Inc()
	transferDuration.Observe(elapsed.Seconds())
}

// ObserveContention counts a lock-wait abort.
func ObserveContention() {
	lockContention.Inc()
}
