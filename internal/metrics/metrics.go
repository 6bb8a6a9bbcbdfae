package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry wraps the Prometheus collectors pygase reports: connection
// counts from the server/client façades plus the per-datagram and
// per-event counters the connection engine drives through the Metrics
// interface it accepts at construction.
type Registry struct {
	ActiveConnections prometheus.Gauge

	DatagramsSent     prometheus.Counter
	DatagramsReceived prometheus.Counter
	DatagramsDropped  *prometheus.CounterVec

	EventsAcked      prometheus.Counter
	EventsTimedOut   prometheus.Counter
	Retransmissions  prometheus.Counter
	QualityTransitions *prometheus.CounterVec
}

// NewRegistry creates Prometheus metrics collectors.
func NewRegistry() *Registry {
	return &Registry{
		ActiveConnections: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "pygase_connections_active",
			Help: "Number of peer connections currently tracked",
		}),
		DatagramsSent: promauto.NewCounter(prometheus.CounterOpts{
			Name: "pygase_datagrams_sent_total",
			Help: "Total number of UDP datagrams sent",
		}),
		DatagramsReceived: promauto.NewCounter(prometheus.CounterOpts{
			Name: "pygase_datagrams_received_total",
			Help: "Total number of UDP datagrams received",
		}),
		DatagramsDropped: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "pygase_datagrams_dropped_total",
			Help: "Total number of datagrams dropped, labeled by reason",
		}, []string{"reason"}),
		EventsAcked: promauto.NewCounter(prometheus.CounterOpts{
			Name: "pygase_events_acked_total",
			Help: "Total number of reliable events acknowledged",
		}),
		EventsTimedOut: promauto.NewCounter(prometheus.CounterOpts{
			Name: "pygase_events_timed_out_total",
			Help: "Total number of reliable events that exhausted their retry budget",
		}),
		Retransmissions: promauto.NewCounter(prometheus.CounterOpts{
			Name: "pygase_retransmissions_total",
			Help: "Total number of event retransmissions",
		}),
		QualityTransitions: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "pygase_quality_transitions_total",
			Help: "Total number of Good/Bad link-quality transitions, labeled by new quality",
		}, []string{"quality"}),
	}
}

// Handler returns an HTTP handler exposing Prometheus metrics.
func (r *Registry) Handler() http.Handler {
	return promhttp.Handler()
}

// DatagramSent implements connection.Metrics.
func (r *Registry) DatagramSent() { r.DatagramsSent.Inc() }

// DatagramReceived implements connection.Metrics.
func (r *Registry) DatagramReceived() { r.DatagramsReceived.Inc() }

// DatagramDropped implements connection.Metrics.
func (r *Registry) DatagramDropped(reason string) { r.DatagramsDropped.WithLabelValues(reason).Inc() }

// EventAcked implements connection.Metrics.
func (r *Registry) EventAcked() { r.EventsAcked.Inc() }

// EventTimedOut implements connection.Metrics.
func (r *Registry) EventTimedOut() { r.EventsTimedOut.Inc() }

// Retransmitted implements connection.Metrics.
func (r *Registry) Retransmitted() { r.Retransmissions.Inc() }

// QualityChanged implements connection.Metrics.
func (r *Registry) QualityChanged(quality string) { r.QualityTransitions.WithLabelValues(quality).Inc() }
