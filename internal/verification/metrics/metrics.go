package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides observability for document verification.
// A nil *Metrics records nothing.
type Metrics struct {
	Submissions      *prometheus.CounterVec
	SubmitDuration   prometheus.Histogram
	CallbackOutcomes *prometheus.CounterVec
	TrustRaises      *prometheus.CounterVec
}

// New registers the verification metrics with the default registry.
func New() *Metrics {
	return NewWith(prometheus.DefaultRegisterer)
}

// NewWith registers the verification metrics with reg.
func NewWith(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		Submissions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "trustmint_verification_submissions_total",
			Help: "Document submissions by document type and outcome (submitted, error)",
		}, []string{"document_type", "outcome"}),
		SubmitDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "trustmint_verification_submit_duration_seconds",
			Help:    "Wall time from submission to check created",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		}),
		CallbackOutcomes: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "trustmint_verification_callbacks_total",
			Help: "Provider callbacks by outcome (applied, duplicate, unknown_reference, pending)",
		}, []string{"outcome"}),
		TrustRaises: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "trustmint_trust_level_raises_total",
			Help: "Trust level raises by new level",
		}, []string{"level"}),
	}
}

func (m *Metrics) IncSubmission(documentType, outcome string) {
	if m == nil {
		return
	}
	m.Submissions.WithLabelValues(documentType, outcome).Inc()
}

// ObserveSubmit records the duration of a submission. Call with time.Now()
// at the start of the operation.
func (m *Metrics) ObserveSubmit(start time.Time) {
	if m == nil {
		return
	}
	m.SubmitDuration.Observe(time.Since(start).Seconds())
}

func (m *Metrics) IncCallback(outcome string) {
	if m == nil {
		return
	}
	m.CallbackOutcomes.WithLabelValues(outcome).Inc()
}

func (m *Metrics) IncTrustRaise(level int) {
	if m == nil {
		return
	}
	m.TrustRaises.WithLabelValues(strconv.Itoa(level)).Inc()
}
