package server

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// metrics mirrors the promauto.NewGauge/NewCounter style friggdb/pool uses
// for its worker-queue instrumentation, applied here to the event loop and
// connection lifecycle instead.
type metrics struct {
	connsOpen     prometheus.Gauge
	connsAccepted prometheus.Counter
	commandsTotal *prometheus.CounterVec
	bytesRead     prometheus.Counter
	bytesWritten  prometheus.Counter
}

func newMetrics(reg prometheus.Registerer) *metrics {
	factory := promauto.With(reg)
	return &metrics{
		connsOpen: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "kvd",
			Name:      "connections_open",
			Help:      "Number of currently open client connections.",
		}),
		connsAccepted: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "kvd",
			Name:      "connections_accepted_total",
			Help:      "Total number of accepted client connections.",
		}),
		commandsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "kvd",
			Name:      "commands_total",
			Help:      "Total number of commands processed, by verb.",
		}, []string{"command"}),
		bytesRead: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "kvd",
			Name:      "bytes_read_total",
			Help:      "Total bytes read from client sockets.",
		}),
		bytesWritten: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "kvd",
			Name:      "bytes_written_total",
			Help:      "Total bytes written to client sockets.",
		}),
	}
}
