package worker

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	workerSpawnsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "netwatch_worker_spawns_total",
		Help: "Worker spawn attempts by result",
	}, []string{"result"})

	workerTerminationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "netwatch_worker_terminations_total",
		Help: "Worker terminations by result",
	}, []string{"result"})

	workersRunning = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "netwatch_workers_running",
		Help: "Number of live per-interface workers",
	})
)
