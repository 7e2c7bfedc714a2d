// Package metrics exposes the relay's Prometheus instrumentation.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds every counter and gauge the relay core records.
type Metrics struct {
	// Transport
	PacketsReceived prometheus.Counter
	DecodeErrors    prometheus.Counter
	SendErrors      prometheus.Counter
	BytesSent       prometheus.Counter

	// Relay engine
	PacketsRelayed  prometheus.Counter
	QueueEvictions  prometheus.Counter
	UnknownSessions prometheus.Counter

	// Registry
	ActiveSessions prometheus.Gauge
	ActiveClients  prometheus.Gauge
	ClientsJoined  prometheus.Counter
	ClientsReaped  prometheus.Counter
}

// New creates and registers the relay metrics with reg. Pass
// prometheus.DefaultRegisterer in production; tests use a fresh
// prometheus.NewRegistry so repeated construction never collides.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		PacketsReceived: f.NewCounter(prometheus.CounterOpts{
			Name: "relay_packets_received_total",
			Help: "Total number of UDP datagrams received",
		}),
		DecodeErrors: f.NewCounter(prometheus.CounterOpts{
			Name: "relay_decode_errors_total",
			Help: "Total number of datagrams dropped for decode failures",
		}),
		SendErrors: f.NewCounter(prometheus.CounterOpts{
			Name: "relay_send_errors_total",
			Help: "Total number of outbound datagrams dropped on write failure",
		}),
		BytesSent: f.NewCounter(prometheus.CounterOpts{
			Name: "relay_bytes_sent_total",
			Help: "Total outbound bytes written to the socket",
		}),
		PacketsRelayed: f.NewCounter(prometheus.CounterOpts{
			Name: "relay_packets_relayed_total",
			Help: "Total number of outbound enqueue events produced by fan-out",
		}),
		QueueEvictions: f.NewCounter(prometheus.CounterOpts{
			Name: "relay_queue_evictions_total",
			Help: "Total number of packets evicted from full outbound queues",
		}),
		UnknownSessions: f.NewCounter(prometheus.CounterOpts{
			Name: "relay_unknown_session_packets_total",
			Help: "Total number of packets addressed to absent sessions",
		}),
		ActiveSessions: f.NewGauge(prometheus.GaugeOpts{
			Name: "relay_active_sessions",
			Help: "Current number of live sessions",
		}),
		ActiveClients: f.NewGauge(prometheus.GaugeOpts{
			Name: "relay_active_clients",
			Help: "Current number of joined clients across all sessions",
		}),
		ClientsJoined: f.NewCounter(prometheus.CounterOpts{
			Name: "relay_clients_joined_total",
			Help: "Total number of successful joins",
		}),
		ClientsReaped: f.NewCounter(prometheus.CounterOpts{
			Name: "relay_clients_reaped_total",
			Help: "Total number of clients removed by heartbeat timeout",
		}),
	}
}
