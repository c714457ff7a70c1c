package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides observability for asset issuance.
// A nil *Metrics records nothing.
type Metrics struct {
	IssuanceOutcomes *prometheus.CounterVec
	IssueDuration    prometheus.Histogram
}

// New registers the issuance metrics with the default registry.
func New() *Metrics {
	return NewWith(prometheus.DefaultRegisterer)
}

// NewWith registers the issuance metrics with reg.
func NewWith(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		IssuanceOutcomes: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "trustmint_issuance_outcomes_total",
			Help: "Issuance attempts by outcome (issued, issued_unreconciled, failed, rejected, timeout, error)",
		}, []string{"outcome"}),
		IssueDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "trustmint_issuance_duration_seconds",
			Help:    "Wall time from build to validated result",
			Buckets: []float64{0.5, 1, 2, 4, 8, 16, 32, 64},
		}),
	}
}

// IncOutcome counts one issuance attempt.
func (m *Metrics) IncOutcome(outcome string) {
	if m == nil {
		return
	}
	m.IssuanceOutcomes.WithLabelValues(outcome).Inc()
}

// ObserveIssue records the duration of an issuance. Call with time.Now() at
// the start of the operation.
func (m *Metrics) ObserveIssue(start time.Time) {
	if m == nil {
		return
	}
	m.IssueDuration.Observe(time.Since(start).Seconds())
}
