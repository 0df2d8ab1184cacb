package stream

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the sync handler's Prometheus collectors.
type Metrics struct {
	// Commands counts bulk commands sent to the search index by type.
	Commands *prometheus.CounterVec

	// SkippedRecords counts stream records that produced no command, by reason.
	SkippedRecords *prometheus.CounterVec

	// FailedDocuments counts documents the search index rejected.
	FailedDocuments prometheus.Counter

	// IndicesCreated counts indices and aliases provisioned by the handler.
	IndicesCreated prometheus.Counter
}

// NewMetrics creates the collectors and registers them on reg if it is not nil.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Commands: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "versiondb",
			Subsystem: "sync",
			Name:      "commands_total",
			Help:      "Bulk commands sent to the search index.",
		}, []string{"type"}),
		SkippedRecords: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "versiondb",
			Subsystem: "sync",
			Name:      "skipped_records_total",
			Help:      "Stream records that produced no bulk command.",
		}, []string{"reason"}),
		FailedDocuments: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "versiondb",
			Subsystem: "sync",
			Name:      "failed_documents_total",
			Help:      "Documents rejected by the search index.",
		}),
		IndicesCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "versiondb",
			Subsystem: "sync",
			Name:      "indices_created_total",
			Help:      "Indices and aliases created by the sync handler.",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.Commands, m.SkippedRecords, m.FailedDocuments, m.IndicesCreated)
	}
	return m
}
