package store

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the transaction coordinator's Prometheus collectors.
type Metrics struct {
	// Transactions counts finished bundles by result (success, user_error, system_error).
	Transactions *prometheus.CounterVec

	// PhaseDuration observes the duration of each coordinator phase in seconds.
	PhaseDuration *prometheus.HistogramVec

	// DeadlineExceeded counts bundles rolled back for exceeding the time budget.
	DeadlineExceeded prometheus.Counter

	// UnwindFailures counts rollback or unlock native calls that failed.
	UnwindFailures prometheus.Counter
}

// NewMetrics creates the collectors and registers them on reg if it is not nil.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Transactions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "versiondb",
			Name:      "transactions_total",
			Help:      "Finished transaction bundles by result.",
		}, []string{"result"}),
		PhaseDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "versiondb",
			Name:      "transaction_phase_duration_seconds",
			Help:      "Duration of transaction coordinator phases.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 14),
		}, []string{"phase"}),
		DeadlineExceeded: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "versiondb",
			Name:      "transaction_deadline_exceeded_total",
			Help:      "Transactions rolled back because the execution budget was exceeded.",
		}),
		UnwindFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "versiondb",
			Name:      "transaction_unwind_failures_total",
			Help:      "Rollback or unlock calls that failed and were left to lock expiry.",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.Transactions, m.PhaseDuration, m.DeadlineExceeded, m.UnwindFailures)
	}
	return m
}

func (m *Metrics) observeResult(resp BundleResponse) {
	result := "success"
	switch {
	case resp.Success:
	case resp.ErrorType == UserError:
		result = "user_error"
	default:
		result = "system_error"
	}
	m.Transactions.WithLabelValues(result).Inc()
}
