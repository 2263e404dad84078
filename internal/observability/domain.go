package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Domain holds the business counters of the production engine.
type Domain struct {
	ledgerEntries *prometheus.CounterVec
	reservations  *prometheus.CounterVec
	batchesFormed *prometheus.CounterVec
	transitions   *prometheus.CounterVec
	scans         *prometheus.CounterVec
}

// NewDomain registers the domain collectors.
func NewDomain(registerer prometheus.Registerer) *Domain {
	d := &Domain{
		ledgerEntries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "stitchline_inventory_ledger_entries_total",
			Help: "Inventory ledger entries written, by entry type.",
		}, []string{"type"}),
		reservations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "stitchline_inventory_reservations_total",
			Help: "Batch reservation runs, by resulting inventory status.",
		}, []string{"status"}),
		batchesFormed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "stitchline_production_batches_formed_total",
			Help: "Production batches created, by source type.",
		}, []string{"source_type"}),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "stitchline_production_transitions_total",
			Help: "Accepted batch stage transitions.",
		}, []string{"from", "to"}),
		scans: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "stitchline_production_scans_total",
			Help: "Scan interface actions, by action and outcome.",
		}, []string{"action", "outcome"}),
	}
	registerer.MustRegister(d.ledgerEntries, d.reservations, d.batchesFormed, d.transitions, d.scans)
	return d
}

// ObserveLedgerEntry counts one ledger entry.
func (d *Domain) ObserveLedgerEntry(entryType string) {
	if d == nil {
		return
	}
	d.ledgerEntries.WithLabelValues(entryType).Inc()
}

// ObserveReservation counts one reservation run.
func (d *Domain) ObserveReservation(status string) {
	if d == nil {
		return
	}
	d.reservations.WithLabelValues(status).Inc()
}

// ObserveBatchesFormed adds newly formed batches.
func (d *Domain) ObserveBatchesFormed(sourceType string, count int) {
	if d == nil || count <= 0 {
		return
	}
	d.batchesFormed.WithLabelValues(sourceType).Add(float64(count))
}

// ObserveTransition counts one accepted transition.
func (d *Domain) ObserveTransition(from, to string) {
	if d == nil {
		return
	}
	d.transitions.WithLabelValues(from, to).Inc()
}

// ObserveScan counts one scan action.
func (d *Domain) ObserveScan(action, outcome string) {
	if d == nil {
		return
	}
	d.scans.WithLabelValues(action, outcome).Inc()
}
