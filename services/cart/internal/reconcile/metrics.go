package reconcile

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// operationsTotal counts finished synchronized-store operations by outcome.
	operationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cart_reconcile_operations_total",
			Help: "Total number of synchronized cart operations by kind and outcome",
		},
		[]string{"op", "outcome"},
	)

	// remoteDuration observes round trips to the cart authority.
	remoteDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "cart_reconcile_remote_duration_seconds",
			Help:    "Duration of cart authority calls in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"op"},
	)
)

func observeRemote(op string, start time.Time) {
	remoteDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
}
