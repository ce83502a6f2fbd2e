package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Classifications counts classifier results by category and provenance
	Classifications = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "jobinsights_classifications_total",
			Help: "Total number of error classifications",
		},
		[]string{"category", "classified_by"},
	)

	// ModelCalls counts generative model calls by provider and outcome
	ModelCalls = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "jobinsights_model_calls_total",
			Help: "Total number of generative model calls",
		},
		[]string{"provider", "outcome"},
	)

	// ModelLatency tracks generative model call latency
	ModelLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "jobinsights_model_latency_seconds",
			Help:    "Generative model call latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"provider"},
	)

	// ExternalRequests counts outbound HTTP requests by host and outcome
	ExternalRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "jobinsights_external_requests_total",
			Help: "Total number of outbound HTTP requests",
		},
		[]string{"host", "outcome"},
	)

	// FeedbackAppends counts correction appends by outcome
	FeedbackAppends = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "jobinsights_feedback_appends_total",
			Help: "Total number of correction appends",
		},
		[]string{"outcome"},
	)

	// FeedbackSize is the number of corrections currently loaded
	FeedbackSize = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "jobinsights_feedback_corrections",
			Help: "Number of corrections in the feedback store",
		},
	)

	// AnalysisRuns counts analysis runs by outcome
	AnalysisRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "jobinsights_analysis_runs_total",
			Help: "Total number of analysis runs",
		},
		[]string{"outcome"},
	)

	// FailedJobsAnalyzed tracks failed jobs seen by the last analysis run
	FailedJobsAnalyzed = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "jobinsights_failed_jobs_analyzed",
			Help: "Failed jobs analyzed by the most recent run",
		},
	)
)

const (
	OutcomeOK       = "ok"
	OutcomeError    = "error"
	OutcomeRejected = "rejected"
)
