package store

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/daviddao/crdtstore/pkg/model"
)

// Metrics are the replication counters of one or more stores. A nil
// *Metrics records nothing.
type Metrics struct {
	Commands    *prometheus.CounterVec
	Definitions *prometheus.CounterVec
	Peers       *prometheus.GaugeVec
}

// NewMetrics returns unregistered metrics.
func NewMetrics() *Metrics {
	return &Metrics{
		Commands: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "crdtstore",
			Subsystem: "store",
			Name:      "commands_total",
			Help:      "Commands emitted by local mutations or applied from peers, by outcome.",
		}, []string{"node", "type", "outcome"}),
		Definitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "crdtstore",
			Subsystem: "store",
			Name:      "definitions_total",
			Help:      "Peer definitions received, by result.",
		}, []string{"node", "result"}),
		Peers: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "crdtstore",
			Subsystem: "store",
			Name:      "peers",
			Help:      "Connected peer stores.",
		}, []string{"node"}),
	}
}

// Register adds every metric to r.
func (m *Metrics) Register(r prometheus.Registerer) error {
	for _, c := range []prometheus.Collector{m.Commands, m.Definitions, m.Peers} {
		if err := r.Register(c); err != nil {
			return err
		}
	}
	return nil
}

func (m *Metrics) command(node, typ string, outcome model.Outcome) {
	if m == nil {
		return
	}
	m.Commands.WithLabelValues(node, typ, string(outcome)).Inc()
}

func (m *Metrics) definition(node, result string) {
	if m == nil {
		return
	}
	m.Definitions.WithLabelValues(node, result).Inc()
}

func (m *Metrics) peers(node string, delta float64) {
	if m == nil {
		return
	}
	m.Peers.WithLabelValues(node).Add(delta)
}
