package feedback

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/cockroachdb/errors"

	"jobinsights/internal/domain"
)

func fixedClock() func() time.Time {
	var mu sync.Mutex
	t := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	return func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		t = t.Add(time.Second)
		return t
	}
}

func newCorrection(jobID string, to domain.Category) domain.Correction {
	return domain.Correction{
		JobID:             jobID,
		ActivityName:      "reading_from_s3",
		OriginalCategory:  domain.CategoryUnknown,
		CorrectedCategory: to,
		ErrorSnippet:      "error for " + jobID,
	}
}

func TestStore_JSONLRoundTrip(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "data", "feedback.jsonl")

	store, err := Open(ctx, NewJSONLLog(path), WithClock(fixedClock()))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	code := 404
	c := newCorrection("job-1", domain.CategoryInputDataQuality)
	c.ErrorCode = &code
	c.User = "ops"
	saved, err := store.Append(ctx, c)
	if err != nil {
		t.Fatalf("append: %v", err)
	}
	if saved.ID == "" || saved.Timestamp.IsZero() {
		t.Fatalf("expected generated id and timestamp, got %+v", saved)
	}
	if _, err := store.Append(ctx, newCorrection("job-2", domain.CategoryThirdPartySystem)); err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	reopened, err := Open(ctx, NewJSONLLog(path))
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer reopened.Close()
	if reopened.Count() != 2 {
		t.Fatalf("expected 2 corrections after reopen, got %d", reopened.Count())
	}
	got := reopened.Corrections(Filter{})
	if got[0].ID != saved.ID || got[0].ErrorCode == nil || *got[0].ErrorCode != 404 {
		t.Fatalf("first correction not preserved: %+v", got[0])
	}
	if !got[0].Timestamp.Equal(saved.Timestamp) {
		t.Fatalf("timestamp not preserved: %s vs %s", got[0].Timestamp, saved.Timestamp)
	}
}

func TestStore_MissingFileIsEmpty(t *testing.T) {
	store, err := Open(context.Background(), NewJSONLLog(filepath.Join(t.TempDir(), "none.jsonl")))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if store.Count() != 0 {
		t.Fatalf("expected empty store, got %d", store.Count())
	}
}

func TestStore_CorruptLogFailsOpen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "feedback.jsonl")
	content := `{"id":"a","job_id":"j","original_category":"UNKNOWN","corrected_category":"WORKFLOW_ENGINE","timestamp":"2026-01-01T00:00:00Z"}` + "\n{not json\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	_, err := Open(context.Background(), NewJSONLLog(path))
	if err == nil {
		t.Fatal("expected open to fail on corrupt log")
	}
	if !errors.Is(err, domain.ErrStore) {
		t.Fatalf("expected store error, got %v", err)
	}
}

func TestStore_UnknownFieldsIgnored(t *testing.T) {
	path := filepath.Join(t.TempDir(), "feedback.jsonl")
	content := `{"id":"a","job_id":"j","original_category":"UNKNOWN","corrected_category":"WORKFLOW_ENGINE","timestamp":"2026-01-01T00:00:00Z","added_later":true}` + "\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	store, err := Open(context.Background(), NewJSONLLog(path))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if store.Count() != 1 {
		t.Fatalf("expected 1 correction, got %d", store.Count())
	}
}

func TestStore_FewShotExamples(t *testing.T) {
	ctx := context.Background()
	store, err := Open(ctx, NewMemoryLog(), WithClock(fixedClock()))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	for i := 1; i <= 7; i++ {
		if _, err := store.Append(ctx, newCorrection(fmt.Sprintf("job-%d", i), domain.CategoryWorkflowEngine)); err != nil {
			t.Fatalf("append %d: %v", i, err)
		}
	}

	tests := []struct {
		n       int
		wantLen int
		wantIDs []string
	}{
		{n: 5, wantLen: 5, wantIDs: []string{"job-7", "job-6", "job-5", "job-4", "job-3"}},
		{n: 10, wantLen: 7},
		{n: 0, wantLen: 0},
		{n: -1, wantLen: 0},
	}
	for _, tt := range tests {
		got := store.FewShotExamples(tt.n)
		if len(got) != tt.wantLen {
			t.Fatalf("FewShotExamples(%d) returned %d, want %d", tt.n, len(got), tt.wantLen)
		}
		for i, id := range tt.wantIDs {
			if got[i].JobID != id {
				t.Fatalf("FewShotExamples(%d)[%d] = %s, want %s", tt.n, i, got[i].JobID, id)
			}
		}
	}
}

func TestStore_AppendRejectsInvalid(t *testing.T) {
	ctx := context.Background()
	store, err := Open(ctx, NewMemoryLog())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	bad := newCorrection("job-1", "NETWORK_ERROR")
	if _, err := store.Append(ctx, bad); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if store.Count() != 0 {
		t.Fatalf("rejected correction must not be stored, count=%d", store.Count())
	}

	noop := newCorrection("job-2", domain.CategoryWorkflowEngine)
	noop.OriginalCategory = domain.CategoryWorkflowEngine
	if _, err := store.Append(ctx, noop); err != nil {
		t.Fatalf("no-op correction should be recorded: %v", err)
	}
}

func TestStore_FailedPersistLeavesStoreUnchanged(t *testing.T) {
	ctx := context.Background()
	log := NewMemoryLog()
	store, err := Open(ctx, log)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if _, err := store.Append(ctx, newCorrection("job-1", domain.CategoryWorkflowEngine)); err != nil {
		t.Fatalf("append: %v", err)
	}

	log.FailNext = errors.New("disk full")
	_, err = store.Append(ctx, newCorrection("job-2", domain.CategoryWorkflowEngine))
	if !errors.Is(err, domain.ErrStore) {
		t.Fatalf("expected store error, got %v", err)
	}
	if store.Count() != 1 {
		t.Fatalf("failed append must not be visible, count=%d", store.Count())
	}
	if got := store.FewShotExamples(5); len(got) != 1 || got[0].JobID != "job-1" {
		t.Fatalf("unexpected examples after failed append: %+v", got)
	}
}

// shortWriteFile writes half of every record and then fails.
type shortWriteFile struct {
	*os.File
}

func (f *shortWriteFile) Write(p []byte) (int, error) {
	n, _ := f.File.Write(p[:len(p)/2])
	return n, errors.New("no space left on device")
}

func TestJSONLLog_FailedWriteLeavesNoPartialRecord(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "feedback.jsonl")
	store, err := Open(ctx, NewJSONLLog(path))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if _, err := store.Append(ctx, newCorrection("job-1", domain.CategoryWorkflowEngine)); err != nil {
		t.Fatalf("append: %v", err)
	}
	_ = store.Close()

	log := NewJSONLLog(path)
	opens := 0
	log.openFile = func(path string) (logFile, error) {
		opens++
		f, err := openAppendOnly(path)
		if err != nil || opens > 1 {
			return f, err
		}
		return &shortWriteFile{File: f.(*os.File)}, nil
	}
	store, err = Open(ctx, log)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	_, err = store.Append(ctx, newCorrection("job-2", domain.CategoryWorkflowEngine))
	if !errors.Is(err, domain.ErrStore) {
		t.Fatalf("expected store error, got %v", err)
	}
	if _, err := store.Append(ctx, newCorrection("job-3", domain.CategoryThirdPartySystem)); err != nil {
		t.Fatalf("append after failure: %v", err)
	}
	if opens != 2 {
		t.Fatalf("failed append should drop the handle, got %d opens", opens)
	}
	_ = store.Close()

	reopened, err := Open(ctx, NewJSONLLog(path))
	if err != nil {
		t.Fatalf("log should still load after a failed write: %v", err)
	}
	got := reopened.Corrections(Filter{})
	if len(got) != 2 || got[0].JobID != "job-1" || got[1].JobID != "job-3" {
		t.Fatalf("unexpected corrections after failed write: %+v", got)
	}
}

func TestStore_ConcurrentAppends(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "feedback.jsonl")
	store, err := Open(ctx, NewJSONLLog(path))
	if err != nil {
		t.Fatalf("open: %v", err)
	}

	const writers = 8
	const perWriter = 10
	var wg sync.WaitGroup
	for w := 0; w < writers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < perWriter; i++ {
				if _, err := store.Append(ctx, newCorrection(fmt.Sprintf("job-%d-%d", w, i), domain.CategoryThirdPartySystem)); err != nil {
					t.Errorf("append: %v", err)
				}
				_ = store.FewShotExamples(3)
			}
		}(w)
	}
	wg.Wait()
	_ = store.Close()

	reopened, err := Open(ctx, NewJSONLLog(path))
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	if reopened.Count() != writers*perWriter {
		t.Fatalf("expected %d corrections, got %d", writers*perWriter, reopened.Count())
	}
}

func TestStore_CorrectionsFilter(t *testing.T) {
	ctx := context.Background()
	store, err := Open(ctx, NewMemoryLog(), WithClock(fixedClock()))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	cats := []domain.Category{
		domain.CategoryWorkflowEngine,
		domain.CategoryInputDataQuality,
		domain.CategoryWorkflowEngine,
		domain.CategoryWorkflowEngine,
	}
	var saved []domain.Correction
	for i, c := range cats {
		s, err := store.Append(ctx, newCorrection(fmt.Sprintf("job-%d", i), c))
		if err != nil {
			t.Fatalf("append: %v", err)
		}
		saved = append(saved, s)
	}

	if got := store.Corrections(Filter{Category: domain.CategoryWorkflowEngine}); len(got) != 3 {
		t.Fatalf("expected 3 workflow corrections, got %d", len(got))
	}
	got := store.Corrections(Filter{Category: domain.CategoryWorkflowEngine, Limit: 2})
	if len(got) != 2 || got[0].JobID != "job-2" || got[1].JobID != "job-3" {
		t.Fatalf("limit should keep the most recent in insertion order, got %+v", got)
	}
	if got := store.Corrections(Filter{Since: saved[2].Timestamp}); len(got) != 2 {
		t.Fatalf("expected 2 corrections since third append, got %d", len(got))
	}
}

func TestStore_SimilarExamples(t *testing.T) {
	ctx := context.Background()
	store, err := Open(ctx, NewMemoryLog(), WithClock(fixedClock()))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	entries := []domain.Correction{
		{JobID: "a", ActivityName: "call_visma", OriginalCategory: domain.CategoryUnknown, CorrectedCategory: domain.CategoryThirdPartySystem, ErrorSnippet: "Visma API returned rate limit"},
		{JobID: "b", ActivityName: "validate_rows", OriginalCategory: domain.CategoryUnknown, CorrectedCategory: domain.CategoryInputDataQuality, ErrorSnippet: "column customer_id missing from dataframe"},
		{JobID: "c", ActivityName: "run_plugin", OriginalCategory: domain.CategoryUnknown, CorrectedCategory: domain.CategoryWorkflowEngine, ErrorSnippet: "plugin crashed on start"},
	}
	for _, c := range entries {
		if _, err := store.Append(ctx, c); err != nil {
			t.Fatalf("append: %v", err)
		}
	}

	got := store.SimilarExamples(domain.ErrorRecord{Message: "customer_id column missing", ActivityName: "validate_rows"}, 1)
	if len(got) != 1 || got[0].JobID != "b" {
		t.Fatalf("expected most similar correction b, got %+v", got)
	}

	fallback := store.SimilarExamples(domain.ErrorRecord{Message: "zzz"}, 2)
	if len(fallback) != 2 || fallback[0].JobID != "c" {
		t.Fatalf("expected recent fallback when nothing overlaps, got %+v", fallback)
	}
}

func TestStore_SQLiteLog(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "jobinsights.db")
	log, err := OpenSQLiteLog(path)
	if err != nil {
		t.Fatalf("open sqlite log: %v", err)
	}
	store, err := Open(ctx, log, WithClock(fixedClock()))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	for i := 0; i < 3; i++ {
		if _, err := store.Append(ctx, newCorrection(fmt.Sprintf("job-%d", i), domain.CategoryInputDataQuality)); err != nil {
			t.Fatalf("append: %v", err)
		}
	}
	if err := store.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	log2, err := OpenSQLiteLog(path)
	if err != nil {
		t.Fatalf("reopen sqlite log: %v", err)
	}
	reopened, err := Open(ctx, log2)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer reopened.Close()
	got := reopened.FewShotExamples(5)
	if len(got) != 3 || got[0].JobID != "job-2" {
		t.Fatalf("unexpected examples from sqlite: %+v", got)
	}
}
