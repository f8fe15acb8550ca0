package pipeline

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/siherrmann/medrag/model"
)

// Query outcomes
const (
	OutcomeComplete = "complete"
	OutcomePartial  = "partial"
)

// Metrics holds the prometheus collectors of the query pipeline
type Metrics struct {
	Queries             *prometheus.CounterVec
	StageDuration       *prometheus.HistogramVec
	PartialResponses    *prometheus.CounterVec
	CountCorrections    prometheus.Counter
	SuppressedCitations prometheus.Counter
	GenerationAttempts  prometheus.Histogram
}

// NewMetrics creates the pipeline collectors and registers them with reg.
// A nil reg creates unregistered collectors.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		Queries: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "medrag",
				Name:      "queries_total",
				Help:      "Total number of answered queries by outcome",
			},
			[]string{"outcome"},
		),
		StageDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "medrag",
				Name:      "stage_duration_seconds",
				Help:      "Duration of pipeline stages in seconds",
				Buckets:   []float64{0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 4, 8},
			},
			[]string{"stage"},
		),
		PartialResponses: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "medrag",
				Name:      "partial_responses_total",
				Help:      "Total number of partial responses by reason and failed stage",
			},
			[]string{"reason", "failed_stage"},
		),
		CountCorrections: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: "medrag",
				Name:      "count_corrections_total",
				Help:      "Total number of answers whose count claims were corrected",
			},
		),
		SuppressedCitations: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: "medrag",
				Name:      "suppressed_citations_total",
				Help:      "Total number of extractions suppressed for invalid citations",
			},
		),
		GenerationAttempts: factory.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: "medrag",
				Name:      "generation_attempts",
				Help:      "Distribution of two-pass generation attempts per query",
				Buckets:   []float64{1, 2, 3, 4, 5},
			},
		),
	}
}

func (m *Metrics) observeStage(stage string, start time.Time) {
	if m == nil {
		return
	}
	m.StageDuration.WithLabelValues(stage).Observe(time.Since(start).Seconds())
}

func (m *Metrics) recordComplete(attempts int, corrected bool, suppressed int) {
	if m == nil {
		return
	}
	m.Queries.WithLabelValues(OutcomeComplete).Inc()
	m.GenerationAttempts.Observe(float64(attempts))
	if corrected {
		m.CountCorrections.Inc()
	}
	m.SuppressedCitations.Add(float64(suppressed))
}

func (m *Metrics) recordPartial(info *model.PartialInfo) {
	if m == nil || info == nil {
		return
	}
	m.Queries.WithLabelValues(OutcomePartial).Inc()
	m.PartialResponses.WithLabelValues(info.Reason, string(info.FailedStage)).Inc()
}
