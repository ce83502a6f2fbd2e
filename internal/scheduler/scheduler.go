package scheduler

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"jobinsights/internal/analysis"
	"jobinsights/internal/domain"
	"jobinsights/internal/feedback"
	"jobinsights/internal/miner"
)

// TaskFunc is one scheduled run. Errors are logged; the task keeps its
// schedule.
type TaskFunc func(ctx context.Context) error

type task struct {
	name     string
	spec     string
	schedule cron.Schedule
	run      TaskFunc
}

// Scheduler runs tasks on standard 5-field cron expressions evaluated in a
// fixed location.
type Scheduler struct {
	loc    *time.Location
	logger *slog.Logger
	now    func() time.Time
	after  func(time.Duration) <-chan time.Time
	tasks  []task
	wg     sync.WaitGroup
}

type Option func(*Scheduler)

func WithLogger(l *slog.Logger) Option {
	return func(s *Scheduler) { s.logger = l }
}

func WithClock(now func() time.Time, after func(time.Duration) <-chan time.Time) Option {
	return func(s *Scheduler) {
		s.now = now
		s.after = after
	}
}

func New(loc *time.Location, opts ...Option) *Scheduler {
	if loc == nil {
		loc = time.Local
	}
	s := &Scheduler{
		loc:    loc,
		logger: slog.Default(),
		now:    time.Now,
		after:  time.After,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

var parser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// Add registers run under spec. An empty spec disables the task.
func (s *Scheduler) Add(name, spec string, run TaskFunc) error {
	spec = strings.TrimSpace(spec)
	if spec == "" {
		s.logger.Info("task disabled, no schedule set", "task", name)
		return nil
	}
	sched, err := parser.Parse(spec)
	if err != nil {
		return domain.MarkConfiguration(err, "invalid schedule for "+name+": "+spec)
	}
	s.tasks = append(s.tasks, task{name: name, spec: spec, schedule: sched, run: run})
	return nil
}

func (s *Scheduler) Len() int { return len(s.tasks) }

// Start launches one goroutine per task. They stop when ctx is done; Wait
// blocks until they have.
func (s *Scheduler) Start(ctx context.Context) {
	for _, t := range s.tasks {
		s.logger.Info("task scheduled", "task", t.name, "cron", t.spec, "timezone", s.loc.String())
		s.wg.Add(1)
		go func(t task) {
			defer s.wg.Done()
			s.loop(ctx, t)
		}(t)
	}
}

func (s *Scheduler) Wait() { s.wg.Wait() }

func (s *Scheduler) loop(ctx context.Context, t task) {
	for {
		now := s.now().In(s.loc)
		next := t.schedule.Next(now)
		wait := next.Sub(now)
		s.logger.Info("next run", "task", t.name, "at", next.Format("Mon Jan 2 15:04"), "in", wait.Round(time.Minute))

		select {
		case <-ctx.Done():
			return
		case <-s.after(wait):
		}

		start := time.Now()
		if err := t.run(ctx); err != nil {
			s.logger.Error("task failed", "task", t.name, "error", err)
			continue
		}
		s.logger.Info("task complete", "task", t.name, "took", time.Since(start).Round(time.Millisecond))
	}
}

// Notifier receives task output. Either method may be skipped by passing a
// nil Notifier to the task constructors.
type Notifier interface {
	PostSummary(ctx context.Context, s analysis.Summary) error
	PostSuggestions(ctx context.Context, suggestions []domain.SuggestedRule, snippet string) error
}

// CorrectionSource is the read side of the feedback store.
type CorrectionSource interface {
	Corrections(f feedback.Filter) []domain.Correction
}

// AnalysisTask analyzes the analyzer's lookback window ending now and posts
// the summary.
func AnalysisTask(a *analysis.Analyzer, n Notifier) TaskFunc {
	return func(ctx context.Context) error {
		summary, err := a.Run(ctx, analysis.Window{})
		if err != nil {
			return err
		}
		if n == nil {
			return nil
		}
		return n.PostSummary(ctx, summary)
	}
}

// MiningTask runs the pattern miner over every stored correction and posts
// the suggestions.
func MiningTask(src CorrectionSource, minCount int, n Notifier, logger *slog.Logger) TaskFunc {
	if logger == nil {
		logger = slog.Default()
	}
	return func(ctx context.Context) error {
		corrections := src.Corrections(feedback.Filter{})
		suggestions := miner.Suggest(corrections, minCount)
		logger.Info("mined rule suggestions", "corrections", len(corrections), "suggestions", len(suggestions))
		if n == nil || len(suggestions) == 0 {
			return nil
		}
		snippet, err := miner.RuleTableSnippet(suggestions)
		if err != nil {
			return err
		}
		return n.PostSuggestions(ctx, suggestions, snippet)
	}
}
