package funder

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

type funderMetrics struct {
	queueDepth     prometheus.Gauge
	moveTokenTotal prometheus.Counter
	sendFailures   prometheus.Counter
}

var (
	funderMetricsOnce sync.Once
	funderRegistry    *funderMetrics
)

func defaultFunderMetrics() *funderMetrics {
	funderMetricsOnce.Do(func() {
		funderRegistry = &funderMetrics{
			queueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
				Namespace: "offset",
				Subsystem: "funder",
				Name:      "queue_depth",
				Help:      "Total queued operations across all friends awaiting the next outbound move token.",
			}),
			moveTokenTotal: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "offset",
				Subsystem: "funder",
				Name:      "movetoken_total",
				Help:      "Total outbound move tokens built and sent.",
			}),
			sendFailures: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "offset",
				Subsystem: "funder",
				Name:      "send_failures_total",
				Help:      "Total outbound move-token sends that failed at the transport layer.",
			}),
		}
		prometheus.MustRegister(
			funderRegistry.queueDepth,
			funderRegistry.moveTokenTotal,
			funderRegistry.sendFailures,
		)
	})
	return funderRegistry
}
