package node

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

type nodeMetrics struct {
	inboundOverflows prometheus.Counter
	inboundErrors    prometheus.Counter
}

var (
	nodeMetricsOnce sync.Once
	nodeRegistry    *nodeMetrics
)

func defaultNodeMetrics() *nodeMetrics {
	nodeMetricsOnce.Do(func() {
		nodeRegistry = &nodeMetrics{
			inboundOverflows: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "offset",
				Subsystem: "node",
				Name:      "inbound_overflow_total",
				Help:      "Total friends disconnected after their inbound queue overflowed.",
			}),
			inboundErrors: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "offset",
				Subsystem: "node",
				Name:      "inbound_rejected_total",
				Help:      "Total inbound messages HandleInbound rejected.",
			}),
		}
		prometheus.MustRegister(
			nodeRegistry.inboundOverflows,
			nodeRegistry.inboundErrors,
		)
	})
	return nodeRegistry
}
