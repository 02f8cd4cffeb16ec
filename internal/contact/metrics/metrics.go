package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Outcome labels for identify calls.
const (
	OutcomeCreated = "created"
	OutcomeLinked  = "linked"
	OutcomeMerged  = "merged"
	OutcomeMatched = "matched"
	OutcomeFailed  = "failed"
)

// Metrics provides observability for contact consolidation.
type Metrics struct {
	// Identify calls by outcome
	IdentifyTotal *prometheus.CounterVec

	// End-to-end identify latency including the transaction
	IdentifyDuration prometheus.Histogram

	// Primaries demoted into an older canonical contact
	ContactsDemoted prometheus.Counter
}

// New creates a new Metrics instance with all contact metrics registered
// with reg.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		IdentifyTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "contactlink_identify_total",
			Help: "Total identify calls by outcome",
		}, []string{"outcome"}), // created, linked, merged, matched, failed

		IdentifyDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "contactlink_identify_duration_seconds",
			Help:    "Duration of identify operations including the store transaction",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
		}),

		ContactsDemoted: factory.NewCounter(prometheus.CounterOpts{
			Name: "contactlink_contacts_demoted_total",
			Help: "Total primary contacts demoted to secondary during merges",
		}),
	}
}

// IncrementOutcome records an identify outcome.
func (m *Metrics) IncrementOutcome(outcome string) {
	if m != nil {
		m.IdentifyTotal.WithLabelValues(outcome).Inc()
	}
}

// ObserveIdentify records the duration of an identify call.
func (m *Metrics) ObserveIdentify(d time.Duration) {
	if m != nil {
		m.IdentifyDuration.Observe(d.Seconds())
	}
}

// AddDemoted records primaries demoted by a merge.
func (m *Metrics) AddDemoted(n int) {
	if m != nil && n > 0 {
		m.ContactsDemoted.Add(float64(n))
	}
}
