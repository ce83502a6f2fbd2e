package analysis

import (
	"context"
	"database/sql"
	"log/slog"
	"time"

	"jobinsights/internal/classifier"
	"jobinsights/internal/domain"
	"jobinsights/internal/jobs"
	"jobinsights/internal/metrics"
	"jobinsights/internal/storage/sqlite"
)

const historyMessageMaxChars = 500

// Window bounds an analysis run. Zero values fall back to the analyzer's
// lookback ending now.
type Window struct {
	Since    time.Time
	Until    time.Time
	TenantID string
}

// Classification is one classified error of a job.
type Classification struct {
	domain.ClassificationResult
	ActivityName string             `json:"activity_name"`
	Error        domain.ErrorRecord `json:"original_error"`
}

// Result is the analysis of a single failed job.
type Result struct {
	JobID           string                  `json:"job_id"`
	PipelineID      string                  `json:"pipeline_id"`
	PipelineName    string                  `json:"pipeline_name,omitempty"`
	TenantID        string                  `json:"tenant_id"`
	FinishedAt      *time.Time              `json:"finished_at,omitempty"`
	TotalErrors     int                     `json:"total_errors"`
	PrimaryCategory domain.Category         `json:"primary_category,omitempty"`
	ByCategory      map[domain.Category]int `json:"by_category"`
	Classifications []Classification        `json:"classifications"`
}

// Pipeline is the name used when grouping by pipeline.
func (r Result) Pipeline() string {
	if r.PipelineName != "" {
		return r.PipelineName
	}
	return r.PipelineID
}

type Summary struct {
	AnalyzedAt  time.Time               `json:"analyzed_at"`
	PeriodStart time.Time               `json:"period_start"`
	PeriodEnd   time.Time               `json:"period_end"`
	TotalJobs   int                     `json:"total_jobs"`
	TotalErrors int                     `json:"total_errors"`
	ByCategory  map[domain.Category]int `json:"by_category"`
	ByTenant    map[string]int          `json:"by_tenant"`
	ByPipeline  map[string]int          `json:"by_pipeline"`
	Results     []Result                `json:"results"`
}

type Analyzer struct {
	source     jobs.Source
	classifier *classifier.Classifier
	workers    int
	lookback   time.Duration
	history    *sql.DB
	provider   string
	model      string
	now        func() time.Time
	logger     *slog.Logger
}

type Option func(*Analyzer)

func WithWorkers(n int) Option {
	return func(a *Analyzer) { a.workers = n }
}

func WithLookback(d time.Duration) Option {
	return func(a *Analyzer) {
		if d > 0 {
			a.lookback = d
		}
	}
}

// WithHistory records every classification into db.
func WithHistory(db *sql.DB) Option {
	return func(a *Analyzer) { a.history = db }
}

// WithModelInfo sets the provider and model stored with model-made
// classifications.
func WithModelInfo(provider, model string) Option {
	return func(a *Analyzer) {
		a.provider = provider
		a.model = model
	}
}

func WithClock(now func() time.Time) Option {
	return func(a *Analyzer) { a.now = now }
}

func WithLogger(l *slog.Logger) Option {
	return func(a *Analyzer) { a.logger = l }
}

func New(source jobs.Source, c *classifier.Classifier, opts ...Option) *Analyzer {
	a := &Analyzer{
		source:     source,
		classifier: c,
		workers:    4,
		lookback:   jobs.DefaultLookback,
		now:        time.Now,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Run classifies every error of every failed job in w. A job whose run
// data cannot be decoded is logged and skipped.
func (a *Analyzer) Run(ctx context.Context, w Window) (Summary, error) {
	now := a.now().UTC()
	until := w.Until
	if until.IsZero() {
		until = now
	}
	since := w.Since
	if since.IsZero() {
		since = until.Add(-a.lookback)
	}
	a.logger.Info("analyzing failures", "since", since, "until", until, "tenant", w.TenantID)

	failed, err := a.source.FailedJobs(ctx, jobs.Query{Since: since, Until: until, TenantID: w.TenantID})
	if err != nil {
		metrics.AnalysisRuns.WithLabelValues(metrics.OutcomeError).Inc()
		return Summary{}, err
	}
	a.logger.Info("found failed jobs", "count", len(failed))

	type span struct {
		job        jobs.Job
		start, end int
	}
	var spans []span
	var recs []domain.ErrorRecord
	for _, j := range failed {
		jr, err := j.Records()
		if err != nil {
			a.logger.Warn("skipping job with unreadable run data", "job_id", j.ID, "error", err)
			continue
		}
		if len(jr) == 0 {
			continue
		}
		spans = append(spans, span{job: j, start: len(recs), end: len(recs) + len(jr)})
		recs = append(recs, jr...)
	}

	classified := a.classifier.ClassifyAll(ctx, recs, a.workers)

	results := make([]Result, 0, len(spans))
	for _, s := range spans {
		cls := make([]Classification, 0, s.end-s.start)
		for i := s.start; i < s.end; i++ {
			cls = append(cls, Classification{
				ClassificationResult: classified[i],
				ActivityName:         recs[i].ActivityName,
				Error:                recs[i],
			})
		}
		results = append(results, newResult(s.job, cls))
	}

	summary := buildSummary(results, now, since, until)
	if a.history != nil {
		if err := sqlite.InsertClassificationHistory(ctx, a.history, a.historyRecords(results, now)); err != nil {
			a.logger.Warn("recording classification history failed", "error", err)
		}
	}

	metrics.FailedJobsAnalyzed.Set(float64(summary.TotalJobs))
	metrics.AnalysisRuns.WithLabelValues(metrics.OutcomeOK).Inc()
	a.logger.Info("analysis complete",
		"jobs", summary.TotalJobs,
		"errors", summary.TotalErrors,
		"by_category", summary.ByCategory,
	)
	return summary, nil
}

func newResult(j jobs.Job, cls []Classification) Result {
	r := Result{
		JobID:           j.ID,
		PipelineID:      j.PipelineID,
		PipelineName:    j.PipelineName,
		TenantID:        j.TenantID,
		FinishedAt:      j.FinishedAt,
		TotalErrors:     len(cls),
		ByCategory:      make(map[domain.Category]int),
		Classifications: cls,
	}
	for _, c := range cls {
		r.ByCategory[c.Category]++
	}
	r.PrimaryCategory = primaryCategory(r.ByCategory)
	return r
}

// primaryCategory is the most frequent category. Ties go to the category
// listed first in the taxonomy, UNKNOWN last.
func primaryCategory(counts map[domain.Category]int) domain.Category {
	var best domain.Category
	bestN := 0
	for _, c := range append(domain.Categories(), domain.CategoryUnknown) {
		if n := counts[c]; n > bestN {
			best, bestN = c, n
		}
	}
	return best
}

func buildSummary(results []Result, analyzedAt, since, until time.Time) Summary {
	s := Summary{
		AnalyzedAt:  analyzedAt,
		PeriodStart: since,
		PeriodEnd:   until,
		TotalJobs:   len(results),
		ByCategory:  make(map[domain.Category]int),
		ByTenant:    make(map[string]int),
		ByPipeline:  make(map[string]int),
		Results:     results,
	}
	for _, r := range results {
		s.TotalErrors += r.TotalErrors
		s.ByTenant[r.TenantID]++
		s.ByPipeline[r.Pipeline()]++
		for c, n := range r.ByCategory {
			s.ByCategory[c] += n
		}
	}
	return s
}

func (a *Analyzer) historyRecords(results []Result, at time.Time) []domain.ClassificationRecord {
	var out []domain.ClassificationRecord
	for _, r := range results {
		for _, c := range r.Classifications {
			rec := domain.ClassificationRecord{
				JobID:          r.JobID,
				ActivityName:   c.ActivityName,
				Category:       c.Category,
				Confidence:     c.Confidence,
				ClassifiedBy:   c.ClassifiedBy,
				MatchedPattern: c.MatchedPattern,
				ErrorMessage:   clip(c.Error.Message, historyMessageMaxChars),
				ClassifiedAt:   at,
			}
			if c.ClassifiedBy == domain.ClassifiedByLLM {
				rec.LLMProvider = a.provider
				rec.LLMModel = a.model
			}
			out = append(out, rec)
		}
	}
	return out
}

func clip(s string, max int) string {
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max])
}
