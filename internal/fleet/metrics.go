package fleet

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Result label values.
const (
	resultOK       = "ok"
	resultFailed   = "failed"
	resultRejected = "rejected"
)

// Metrics are the Prometheus collectors maintained by the registry.
type Metrics struct {
	DevicesOnline   prometheus.Gauge
	Transitions     *prometheus.CounterVec
	Commands        *prometheus.CounterVec
	InboundMessages *prometheus.CounterVec
	PersistFailures *prometheus.CounterVec
}

// NewMetrics creates the fleet collectors and registers them with reg.
// A nil reg leaves them unregistered.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		DevicesOnline: f.NewGauge(prometheus.GaugeOpts{
			Namespace: "autofleet",
			Name:      "devices_online",
			Help:      "Number of devices currently marked online.",
		}),
		Transitions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "autofleet",
			Name:      "device_status_transitions_total",
			Help:      "Device online/offline transitions by new status.",
		}, []string{"status"}),
		Commands: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "autofleet",
			Name:      "commands_total",
			Help:      "Outbound device commands by message type and result.",
		}, []string{"type", "result"}),
		InboundMessages: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "autofleet",
			Name:      "inbound_messages_total",
			Help:      "Inbound device messages by message type and result.",
		}, []string{"type", "result"}),
		PersistFailures: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "autofleet",
			Name:      "persistence_failures_total",
			Help:      "Background persistence writes that failed, by operation.",
		}, []string{"op"}),
	}
}
