package feedback

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"jobinsights/internal/domain"
	"jobinsights/internal/metrics"
)

// Store is the in-memory view of the correction log. Appends are
// serialized and persisted before they become visible to readers.
type Store struct {
	log    Log
	logger *slog.Logger
	now    func() time.Time

	writeMu sync.Mutex

	mu          sync.RWMutex
	corrections []domain.Correction
	index       *tfidfIndex
}

type Option func(*Store)

func WithLogger(l *slog.Logger) Option {
	return func(s *Store) { s.logger = l }
}

func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// Open loads the persisted corrections. A failure here is fatal for the
// caller: the store never starts with a partial view.
func Open(ctx context.Context, log Log, opts ...Option) (*Store, error) {
	s := &Store{
		log:    log,
		logger: slog.Default(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	loaded, err := log.Load(ctx)
	if err != nil {
		return nil, domain.MarkStore(err, "load feedback store")
	}
	s.corrections = loaded
	metrics.FeedbackSize.Set(float64(len(loaded)))
	s.logger.Debug("feedback store loaded", "corrections", len(loaded))
	return s, nil
}

// Append validates and persists c, then publishes it. The returned
// correction carries the generated ID and timestamp.
func (s *Store) Append(ctx context.Context, c domain.Correction) (domain.Correction, error) {
	if c.Timestamp.IsZero() {
		c.Timestamp = s.now().UTC()
	}
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	if err := c.Validate(); err != nil {
		metrics.FeedbackAppends.WithLabelValues(metrics.OutcomeRejected).Inc()
		return domain.Correction{}, err
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if err := s.log.Append(ctx, c); err != nil {
		metrics.FeedbackAppends.WithLabelValues(metrics.OutcomeError).Inc()
		return domain.Correction{}, domain.MarkStore(err, "persist correction")
	}

	s.mu.Lock()
	s.corrections = append(s.corrections, c)
	s.index = nil
	n := len(s.corrections)
	s.mu.Unlock()

	metrics.FeedbackAppends.WithLabelValues(metrics.OutcomeOK).Inc()
	metrics.FeedbackSize.Set(float64(n))
	s.logger.Info("recorded correction",
		"job_id", c.JobID,
		"activity", c.ActivityName,
		"from", c.OriginalCategory,
		"to", c.CorrectedCategory,
	)
	return c, nil
}

// FewShotExamples returns up to n corrections, most recent first.
func (s *Store) FewShotExamples(n int) []domain.Correction {
	if n <= 0 {
		return nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if n > len(s.corrections) {
		n = len(s.corrections)
	}
	out := make([]domain.Correction, 0, n)
	for i := len(s.corrections) - 1; i >= 0 && len(out) < n; i-- {
		out = append(out, s.corrections[i])
	}
	return out
}

// SimilarExamples returns up to n corrections whose error text is most
// similar to rec. Falls back to the most recent ones when nothing overlaps.
func (s *Store) SimilarExamples(rec domain.ErrorRecord, n int) []domain.Correction {
	if n <= 0 {
		return nil
	}
	s.mu.Lock()
	if s.index == nil {
		s.index = buildTFIDFIndex(s.corrections)
	}
	idx := s.index
	s.mu.Unlock()

	query := rec.ActivityName + " " + rec.SearchText(false)
	picked := idx.topK(query, n)
	if len(picked) == 0 {
		return s.FewShotExamples(n)
	}
	return picked
}

// Filter narrows Corrections. Zero values disable each criterion.
type Filter struct {
	Category domain.Category
	Since    time.Time
	Limit    int
}

// Corrections returns matching corrections in insertion order. When Limit
// is set only the most recent matches are kept.
func (s *Store) Corrections(f Filter) []domain.Correction {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.Correction
	for _, c := range s.corrections {
		if f.Category != "" && c.CorrectedCategory != f.Category {
			continue
		}
		if !f.Since.IsZero() && c.Timestamp.Before(f.Since) {
			continue
		}
		out = append(out, c)
	}
	if f.Limit > 0 && len(out) > f.Limit {
		out = append([]domain.Correction(nil), out[len(out)-f.Limit:]...)
	}
	return out
}

func (s *Store) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.corrections)
}

func (s *Store) Close() error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.log.Close()
}
