package miner

import (
	"fmt"
	"strings"
	"testing"

	"jobinsights/internal/domain"
	"jobinsights/internal/rules"
)

func correction(activity, snippet string, cat domain.Category) domain.Correction {
	return domain.Correction{
		JobID:             "job",
		ActivityName:      activity,
		OriginalCategory:  domain.CategoryUnknown,
		CorrectedCategory: cat,
		ErrorSnippet:      snippet,
	}
}

func activitySuggestions(in []domain.SuggestedRule) []domain.SuggestedRule {
	var out []domain.SuggestedRule
	for _, s := range in {
		if s.Kind == domain.SuggestionActivity {
			out = append(out, s)
		}
	}
	return out
}

func TestSuggest_ActivityGroup(t *testing.T) {
	corrections := []domain.Correction{
		correction("reading_from_s3", "bucket alpha missing", domain.CategoryInputDataQuality),
		correction("reading_from_s3", "object beta absent", domain.CategoryInputDataQuality),
		correction("reading_from_s3", "prefix gamma empty", domain.CategoryInputDataQuality),
	}
	got := Suggest(corrections, 3)
	if len(got) != 1 {
		t.Fatalf("expected exactly one suggestion, got %+v", got)
	}
	s := got[0]
	if s.Kind != domain.SuggestionActivity || s.Pattern != "reading_from_s3" || s.Category != domain.CategoryInputDataQuality || s.OccurrenceCount != 3 {
		t.Fatalf("unexpected suggestion: %+v", s)
	}
	if len(s.SampleErrors) != 3 {
		t.Fatalf("expected 3 samples, got %v", s.SampleErrors)
	}
}

func TestSuggest_Threshold(t *testing.T) {
	for minCount := 1; minCount <= 5; minCount++ {
		var below, at []domain.Correction
		for i := 0; i < minCount-1; i++ {
			below = append(below, correction("below_activity", fmt.Sprintf("b%d", i), domain.CategoryWorkflowEngine))
		}
		for i := 0; i < minCount; i++ {
			at = append(at, correction("at_activity", fmt.Sprintf("a%d", i), domain.CategoryWorkflowEngine))
		}
		got := activitySuggestions(Suggest(append(below, at...), minCount))
		if len(got) != 1 || got[0].Pattern != "at_activity" || got[0].OccurrenceCount != minCount {
			t.Fatalf("minCount=%d: unexpected suggestions %+v", minCount, got)
		}
	}
}

func TestSuggest_DefaultMinCount(t *testing.T) {
	two := []domain.Correction{
		correction("x_act", "q1", domain.CategoryWorkflowEngine),
		correction("x_act", "q2", domain.CategoryWorkflowEngine),
	}
	if got := Suggest(two, 0); len(got) != 0 {
		t.Fatalf("expected nothing below the default threshold, got %+v", got)
	}
	three := append(two, correction("x_act", "q3", domain.CategoryWorkflowEngine))
	if got := Suggest(three, -1); len(got) != 1 {
		t.Fatalf("expected one suggestion at the default threshold, got %+v", got)
	}
}

func TestSuggest_CategoriesCountedSeparately(t *testing.T) {
	corrections := []domain.Correction{
		correction("call_vendor", "a1", domain.CategoryThirdPartySystem),
		correction("call_vendor", "a2", domain.CategoryThirdPartySystem),
		correction("call_vendor", "a3", domain.CategoryInputDataQuality),
	}
	if got := Suggest(corrections, 3); len(got) != 0 {
		t.Fatalf("activity split across categories should not reach the threshold, got %+v", got)
	}
}

func TestSuggest_MessageTokensAndOrdering(t *testing.T) {
	corrections := []domain.Correction{
		correction("a1", "Upstream returned 503 ServiceUnavailableError, upstream retry", domain.CategoryThirdPartySystem),
		correction("a2", "upstream 503 again", domain.CategoryThirdPartySystem),
		correction("a3", "Upstream gave 503", domain.CategoryThirdPartySystem),
		correction("a4", "ServiceUnavailableError from upstream", domain.CategoryThirdPartySystem),
		{JobID: "j", ActivityName: "a5", CorrectedCategory: domain.CategoryInputDataQuality, ErrorSnippet: "k1", ExceptionType: "botocore.ClientError"},
		{JobID: "j", ActivityName: "a6", CorrectedCategory: domain.CategoryInputDataQuality, ErrorSnippet: "k2", ExceptionType: "botocore.ClientError"},
		{JobID: "j", ActivityName: "a7", CorrectedCategory: domain.CategoryInputDataQuality, ErrorSnippet: "k3", ExceptionType: "botocore.ClientError"},
	}
	got := Suggest(corrections, 3)
	if len(got) != 3 {
		t.Fatalf("expected 3 suggestions, got %+v", got)
	}
	// upstream appears in all four snippets but is counted once per correction.
	if got[0].Pattern != "upstream" || got[0].OccurrenceCount != 4 {
		t.Fatalf("expected upstream first with 4, got %+v", got[0])
	}
	if got[1].Category != domain.CategoryInputDataQuality || got[1].Kind != domain.SuggestionException || got[1].Pattern != "botocore.clienterror" {
		t.Fatalf("expected exception suggestion second, got %+v", got[1])
	}
	if got[2].Pattern != "503" || got[2].OccurrenceCount != 3 {
		t.Fatalf("expected status code suggestion third, got %+v", got[2])
	}
}

func TestSuggest_Deterministic(t *testing.T) {
	var corrections []domain.Correction
	for i := 0; i < 4; i++ {
		corrections = append(corrections,
			correction("load_rows", "schema mismatch detected", domain.CategoryInputDataQuality),
			correction("run_plugin", "plugin crashed hard", domain.CategoryWorkflowEngine),
		)
	}
	first := Suggest(corrections, 3)
	for i := 0; i < 10; i++ {
		again := Suggest(corrections, 3)
		if fmt.Sprint(again) != fmt.Sprint(first) {
			t.Fatalf("ordering changed between runs:\n%v\n%v", first, again)
		}
	}
}

func TestRuleTableSnippet_Compiles(t *testing.T) {
	suggestions := []domain.SuggestedRule{
		{Kind: domain.SuggestionMessage, Pattern: "upstream", Category: domain.CategoryThirdPartySystem, OccurrenceCount: 4},
		{Kind: domain.SuggestionException, Pattern: "botocore.clienterror", Category: domain.CategoryInputDataQuality, OccurrenceCount: 3},
		{Kind: domain.SuggestionActivity, Pattern: "reading_from_s3", Category: domain.CategoryInputDataQuality, OccurrenceCount: 3},
	}
	snippet, err := RuleTableSnippet(suggestions)
	if err != nil {
		t.Fatalf("snippet: %v", err)
	}
	if !strings.Contains(snippet, "# activity reading_from_s3 -> INPUT_DATA_QUALITY (3 corrections)") {
		t.Fatalf("activity suggestion should be a comment:\n%s", snippet)
	}
	table, err := rules.ParseTable([]byte(snippet))
	if err != nil {
		t.Fatalf("parse snippet: %v\n%s", err, snippet)
	}
	engine, err := rules.Compile(table)
	if err != nil {
		t.Fatalf("compile snippet: %v", err)
	}
	if engine.Len() != 2 {
		t.Fatalf("expected 2 rules, got %d", engine.Len())
	}
	m, ok := engine.Match(domain.ErrorRecord{Message: "x", ExceptionType: "botocore.ClientError"})
	if !ok || m.Category != domain.CategoryInputDataQuality {
		t.Fatalf("exception rule should match, got %+v %v", m, ok)
	}
	if _, ok := engine.Match(domain.ErrorRecord{Message: "x", ExceptionType: "botocoreXClientError"}); ok {
		t.Fatal("exception pattern should be quoted")
	}
}

func TestRuleTableSnippet_Empty(t *testing.T) {
	got, err := RuleTableSnippet(nil)
	if err != nil || got != "" {
		t.Fatalf("expected empty snippet, got %q %v", got, err)
	}
}
