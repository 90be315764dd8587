package ledger

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics exposes Prometheus collectors for ledger activity.
type Metrics struct {
	movements *prometheus.CounterVec
}

// NewMetrics registers the ledger metrics against the provided registerer.
// When the registerer is nil the default Prometheus registerer is used.
func NewMetrics(registerer prometheus.Registerer) *Metrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}
	movements := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "volta_ledger_movements_total",
		Help: "Ledger entries written, partitioned by entry type and owner scope.",
	}, []string{"type", "owner"})
	registerer.MustRegister(movements)
	return &Metrics{movements: movements}
}

// ObserveMovement counts one appended entry.
func (m *Metrics) ObserveMovement(entryType EntryType, owner Owner) {
	if m == nil {
		return
	}
	m.movements.WithLabelValues(string(entryType), string(owner.Type)).Inc()
}
