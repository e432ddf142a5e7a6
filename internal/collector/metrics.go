package collector

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	cyclesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "netwatch_reconcile_cycles_total",
		Help: "Completed reconciliation cycles",
	})

	cycleDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "netwatch_reconcile_cycle_duration_seconds",
		Help:    "Wall time of one reconciliation pass",
		Buckets: prometheus.ExponentialBuckets(0.005, 2, 12),
	})
)
