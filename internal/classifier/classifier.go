package classifier

import (
	"context"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"jobinsights/internal/domain"
	"jobinsights/internal/metrics"
	"jobinsights/internal/rules"
)

// Fallback classifies records the rule table could not.
type Fallback interface {
	Classify(ctx context.Context, rec domain.ErrorRecord, examples []domain.Correction) (domain.ClassificationResult, error)
}

// ExampleSource supplies few-shot examples for the fallback.
type ExampleSource interface {
	FewShotExamples(n int) []domain.Correction
	SimilarExamples(rec domain.ErrorRecord, n int) []domain.Correction
}

type Strategy string

const (
	StrategyRecent  Strategy = "recent"
	StrategySimilar Strategy = "similar"
)

// Classifier runs the rule table first and the fallback second. It keeps
// no state between calls and is safe for concurrent use.
type Classifier struct {
	engine      *rules.Engine
	fallback    Fallback
	examples    ExampleSource
	numExamples int
	strategy    Strategy
	logger      *slog.Logger
}

type Option func(*Classifier)

func WithFallback(f Fallback) Option {
	return func(c *Classifier) { c.fallback = f }
}

// WithExamples makes the classifier pass up to n corrections from src to
// the fallback.
func WithExamples(src ExampleSource, n int) Option {
	return func(c *Classifier) {
		c.examples = src
		c.numExamples = n
	}
}

func WithStrategy(s Strategy) Option {
	return func(c *Classifier) { c.strategy = s }
}

func WithLogger(l *slog.Logger) Option {
	return func(c *Classifier) { c.logger = l }
}

func New(engine *rules.Engine, opts ...Option) *Classifier {
	c := &Classifier{
		engine:   engine,
		strategy: StrategyRecent,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Classifier) FallbackEnabled() bool {
	return c.fallback != nil
}

// Classify always returns a result. Fallback failures become UNKNOWN with
// the failure in the reasoning, suffixed "(retryable)" for adapter errors.
func (c *Classifier) Classify(ctx context.Context, rec domain.ErrorRecord) domain.ClassificationResult {
	res := c.classify(ctx, rec)
	metrics.Classifications.WithLabelValues(string(res.Category), string(res.ClassifiedBy)).Inc()
	return res
}

func (c *Classifier) classify(ctx context.Context, rec domain.ErrorRecord) domain.ClassificationResult {
	if m, ok := c.engine.Match(rec); ok {
		c.logger.Debug("classified by rule", "activity", rec.ActivityName, "category", m.Category, "pattern", m.Pattern)
		return domain.ClassificationResult{
			Category:       m.Category,
			Confidence:     domain.RuleConfidence,
			Reasoning:      m.Rationale,
			ClassifiedBy:   domain.ClassifiedByRules,
			MatchedPattern: m.Pattern,
		}
	}

	if c.fallback == nil {
		return domain.Unclassified("No matching patterns and LLM disabled")
	}

	res, err := c.fallback.Classify(ctx, rec, c.fewShot(rec))
	if err != nil {
		retryable := domain.IsRetryable(err)
		c.logger.Warn("model fallback failed", "activity", rec.ActivityName, "retryable", retryable, "error", err)
		reasoning := "Model classification failed: " + err.Error()
		if retryable {
			reasoning += " (retryable)"
		}
		return domain.Unclassified(reasoning)
	}
	return res
}

func (c *Classifier) fewShot(rec domain.ErrorRecord) []domain.Correction {
	if c.examples == nil || c.numExamples <= 0 {
		return nil
	}
	if c.strategy == StrategySimilar {
		return c.examples.SimilarExamples(rec, c.numExamples)
	}
	return c.examples.FewShotExamples(c.numExamples)
}

// ClassifyAll classifies recs with at most workers concurrent calls and
// returns results in input order.
func (c *Classifier) ClassifyAll(ctx context.Context, recs []domain.ErrorRecord, workers int) []domain.ClassificationResult {
	out := make([]domain.ClassificationResult, len(recs))
	if workers < 1 {
		workers = 1
	}
	var g errgroup.Group
	g.SetLimit(workers)
	for i := range recs {
		g.Go(func() error {
			out[i] = c.Classify(ctx, recs[i])
			return nil
		})
	}
	_ = g.Wait()
	return out
}
