package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the ledger counters. Each instance owns its registry so
// tests and the CLI never collide on the global one.
type Metrics struct {
	Registry *prometheus.Registry

	// ACCOUNT_CREATION|DEPOSIT|WITHDRAWAL|TRANSFER|CREDENTIAL_CHANGE|AUTHENTICATE
	OperationsTotal *prometheus.CounterVec
	// labelled by operation and the sentinel that rejected it
	OperationsFailed *prometheus.CounterVec
	RecordsAppended  prometheus.Counter
}

func New() *Metrics {
	m := &Metrics{
		Registry: prometheus.NewRegistry(),
		OperationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ledger_operations_total",
				Help: "Total committed ledger operations",
			},
			[]string{"operation"},
		),
		OperationsFailed: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ledger_operations_failed_total",
				Help: "Total rejected or failed ledger operations",
			},
			[]string{"operation", "reason"},
		),
		RecordsAppended: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "ledger_records_appended_total",
				Help: "Total transaction records appended to the ledger",
			},
		),
	}
	m.Registry.MustRegister(m.OperationsTotal, m.OperationsFailed, m.RecordsAppended)
	return m
}

// WriteTextfile dumps the registry in the node_exporter textfile format.
func (m *Metrics) WriteTextfile(path string) error {
	return prometheus.WriteToTextfile(path, m.Registry)
}
