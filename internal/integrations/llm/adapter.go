package llm

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/time/rate"

	"jobinsights/internal/config"
	"jobinsights/internal/domain"
	"jobinsights/internal/metrics"
)

const defaultTimeout = 30 * time.Second

// Adapter turns an ErrorRecord plus few-shot examples into a model
// classification. It holds no mutable state besides the rate limiter.
type Adapter struct {
	gen             Generator
	timeout         time.Duration
	limiter         *rate.Limiter
	exampleMaxChars int
	logger          *slog.Logger
}

type AdapterOption func(*Adapter)

func WithTimeout(d time.Duration) AdapterOption {
	return func(a *Adapter) {
		if d > 0 {
			a.timeout = d
		}
	}
}

// WithRateLimit caps model calls per second. Zero or less disables it.
func WithRateLimit(perSecond float64) AdapterOption {
	return func(a *Adapter) {
		if perSecond > 0 {
			burst := int(perSecond)
			if burst < 1 {
				burst = 1
			}
			a.limiter = rate.NewLimiter(rate.Limit(perSecond), burst)
		}
	}
}

func WithExampleMaxChars(n int) AdapterOption {
	return func(a *Adapter) { a.exampleMaxChars = n }
}

func WithLogger(l *slog.Logger) AdapterOption {
	return func(a *Adapter) { a.logger = l }
}

func NewAdapter(gen Generator, opts ...AdapterOption) *Adapter {
	a := &Adapter{
		gen:             gen,
		timeout:         defaultTimeout,
		exampleMaxChars: defaultExampleMaxChars,
		logger:          slog.Default(),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// NewFromConfig picks the generator for cfg.LLMProvider.
func NewFromConfig(cfg config.Config, httpClient *http.Client, logger *slog.Logger) *Adapter {
	var gen Generator
	key := cfg.LLMAPIKeyFor()
	switch cfg.LLMProvider {
	case config.ProviderAnthropic:
		gen = NewAnthropicGenerator(key, cfg.LLMModel, httpClient)
	default:
		gen = NewOpenAIGenerator(cfg.LLMBaseURL, key, cfg.LLMModel, httpClient)
	}
	return NewAdapter(gen,
		WithTimeout(cfg.LLMTimeout()),
		WithRateLimit(cfg.LLMRequestsPerSecond),
		WithExampleMaxChars(cfg.LLMExampleMaxChars),
		WithLogger(logger),
	)
}

func (a *Adapter) Provider() string { return a.gen.Provider() }
func (a *Adapter) Model() string    { return a.gen.Model() }

// Classify asks the model for a category. Transport failures, timeouts and
// unreadable answers are returned as adapter errors; the caller decides
// what to do with them.
func (a *Adapter) Classify(ctx context.Context, rec domain.ErrorRecord, examples []domain.Correction) (domain.ClassificationResult, error) {
	provider := a.gen.Provider()
	if a.limiter != nil {
		if err := a.limiter.Wait(ctx); err != nil {
			metrics.ModelCalls.WithLabelValues(provider, metrics.OutcomeRejected).Inc()
			return domain.ClassificationResult{}, domain.MarkAdapter(err, "waiting for model rate limit")
		}
	}

	callCtx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	userPrompt := buildUserPrompt(rec, examples, a.exampleMaxChars)
	start := time.Now()
	text, usage, err := a.gen.Generate(callCtx, systemPrompt, userPrompt)
	metrics.ModelLatency.WithLabelValues(provider).Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.ModelCalls.WithLabelValues(provider, metrics.OutcomeError).Inc()
		if callCtx.Err() == context.DeadlineExceeded && ctx.Err() == nil {
			return domain.ClassificationResult{}, domain.MarkAdapter(err, "model call timed out after "+a.timeout.String())
		}
		return domain.ClassificationResult{}, domain.MarkAdapter(err, provider+" model call failed")
	}

	result, err := parseClassification(text)
	if err != nil {
		metrics.ModelCalls.WithLabelValues(provider, metrics.OutcomeError).Inc()
		a.logger.Warn("llm classify unparsable answer", "provider", provider, "size", len(text))
		return domain.ClassificationResult{}, domain.MarkAdapter(err, "parsing model answer")
	}
	metrics.ModelCalls.WithLabelValues(provider, metrics.OutcomeOK).Inc()
	a.logger.Debug("llm classify",
		"provider", provider,
		"model", a.gen.Model(),
		"examples", len(examples),
		"category", result.Category,
		"confidence", result.Confidence,
		"tokens", usage.TotalTokens(),
	)
	return result, nil
}
