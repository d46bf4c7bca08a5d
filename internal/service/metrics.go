package service

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	syncMetricsOnce sync.Once
	refreshTotal    *prometheus.CounterVec
	enqueuedTotal   prometheus.Counter
)

func initSyncMetrics() {
	refreshTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "taskhub",
		Subsystem: "sync",
		Name:      "refresh_total",
		Help:      "Repository refresh job outcomes.",
	}, []string{"result"})
	enqueuedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "taskhub",
		Subsystem: "sync",
		Name:      "enqueued_total",
		Help:      "Repository refresh jobs enqueued.",
	})
	prometheus.DefaultRegisterer.MustRegister(refreshTotal, enqueuedTotal)
}

func syncRefreshTotal(result string) prometheus.Counter {
	syncMetricsOnce.Do(initSyncMetrics)
	return refreshTotal.WithLabelValues(result)
}

func syncEnqueuedTotal() prometheus.Counter {
	syncMetricsOnce.Do(initSyncMetrics)
	return enqueuedTotal
}
