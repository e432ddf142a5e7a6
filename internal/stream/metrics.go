package stream

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	publishedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "netwatch_network_updates_published_total",
		Help: "Network snapshots published to subscribers",
	})

	subscribersGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "netwatch_subscribers",
		Help: "Active network update subscribers",
	})
)
