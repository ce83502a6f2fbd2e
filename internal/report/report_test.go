package report

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"os"
	"strings"
	"testing"
	"time"

	"jobinsights/internal/analysis"
	"jobinsights/internal/domain"
	"jobinsights/internal/feedback"
)

func intPtr(n int) *int { return &n }

func sampleSummary() analysis.Summary {
	finished := time.Date(2026, 5, 4, 11, 0, 0, 0, time.UTC)
	end := time.Date(2026, 5, 4, 12, 0, 0, 0, time.UTC)
	return analysis.Summary{
		AnalyzedAt:  end,
		PeriodStart: end.Add(-24 * time.Hour),
		PeriodEnd:   end,
		TotalJobs:   2,
		TotalErrors: 3,
		ByCategory: map[domain.Category]int{
			domain.CategoryThirdPartySystem: 2,
			domain.CategoryInputDataQuality: 1,
		},
		ByTenant:   map[string]int{"t-1": 2},
		ByPipeline: map[string]int{"invoice-sync": 1, "p-2": 1},
		Results: []analysis.Result{
			{
				JobID: "0f8fad5b-d9cb-469f-a165-70867728950e", PipelineID: "p-1", PipelineName: "invoice-sync", TenantID: "t-1",
				FinishedAt: &finished, TotalErrors: 2, PrimaryCategory: domain.CategoryInputDataQuality,
				ByCategory: map[domain.Category]int{domain.CategoryInputDataQuality: 1, domain.CategoryThirdPartySystem: 1},
				Classifications: []analysis.Classification{
					{
						ClassificationResult: domain.ClassificationResult{Category: domain.CategoryInputDataQuality, Confidence: 0.9, Reasoning: "Input file not found in S3", ClassifiedBy: domain.ClassifiedByRules},
						ActivityName:         "reading_from_s3",
						Error:                domain.ErrorRecord{Code: intPtr(404), Message: "HeadObject Not Found", ExceptionType: "ClientError"},
					},
					{
						ClassificationResult: domain.ClassificationResult{Category: domain.CategoryThirdPartySystem, Confidence: 0.9, Reasoning: "Connection refused", ClassifiedBy: domain.ClassifiedByRules},
						ActivityName:         "push_to_erp",
						Error:                domain.ErrorRecord{Message: "Connection refused, retry | later"},
					},
				},
			},
			{
				JobID: "job-2", PipelineID: "p-2", TenantID: "t-1", TotalErrors: 1, PrimaryCategory: domain.CategoryThirdPartySystem,
				ByCategory: map[domain.Category]int{domain.CategoryThirdPartySystem: 1},
				Classifications: []analysis.Classification{
					{
						ClassificationResult: domain.ClassificationResult{Category: domain.CategoryThirdPartySystem, Confidence: 0.7, Reasoning: "vendor outage", ClassifiedBy: domain.ClassifiedByLLM},
						ActivityName:         "call_vendor",
						Error:                domain.ErrorRecord{Code: intPtr(503), Message: "Service Unavailable"},
					},
				},
			},
		},
	}
}

func TestParseFormat(t *testing.T) {
	for in, want := range map[string]Format{"": FormatText, "TEXT": FormatText, "md": FormatMarkdown, "markdown": FormatMarkdown, "json": FormatJSON, " csv ": FormatCSV} {
		got, err := ParseFormat(in)
		if err != nil || got != want {
			t.Fatalf("%q: got %q %v, want %q", in, got, err, want)
		}
	}
	if _, err := ParseFormat("xml"); err == nil {
		t.Fatal("expected error for unknown format")
	}
}

func TestRender_Text(t *testing.T) {
	var buf bytes.Buffer
	if err := Render(&buf, sampleSummary(), FormatText); err != nil {
		t.Fatalf("render: %v", err)
	}
	out := buf.String()
	for _, want := range []string{
		"FAILURE ANALYSIS SUMMARY",
		"Total Failed Jobs: 2",
		"THIRD_PARTY_SYSTEM       :    2 ( 66.7%)",
		"t-1: 2 jobs",
		"Total: 3 errors across 2 jobs",
	} {
		if !strings.Contains(out, want) {
			t.Fatalf("text report missing %q:\n%s", want, out)
		}
	}
	if strings.Index(out, "THIRD_PARTY_SYSTEM       :") > strings.Index(out, "INPUT_DATA_QUALITY       :") {
		t.Fatal("categories should be ordered by count")
	}
}

func TestRender_Markdown(t *testing.T) {
	var buf bytes.Buffer
	if err := Render(&buf, sampleSummary(), FormatMarkdown); err != nil {
		t.Fatalf("render: %v", err)
	}
	out := buf.String()
	for _, want := range []string{
		"# Failure Analysis Report",
		"| THIRD_PARTY_SYSTEM | 2 | 66.7% |",
		"| `t-1` | 2 |",
		`retry \| later`,
		"### INPUT_DATA_QUALITY (1 jobs)",
		"### THIRD_PARTY_SYSTEM (1 jobs)",
		"- Exception: `ClientError`",
		"*Generated by jobinsights*",
	} {
		if !strings.Contains(out, want) {
			t.Fatalf("markdown report missing %q:\n%s", want, out)
		}
	}
}

func TestRender_JSON(t *testing.T) {
	var buf bytes.Buffer
	if err := Render(&buf, sampleSummary(), FormatJSON); err != nil {
		t.Fatalf("render: %v", err)
	}
	var doc map[string]any
	if err := json.Unmarshal(buf.Bytes(), &doc); err != nil {
		t.Fatalf("invalid json: %v", err)
	}
	if doc["total_errors"].(float64) != 3 {
		t.Fatalf("unexpected total_errors: %v", doc["total_errors"])
	}
	results := doc["results"].([]any)
	first := results[0].(map[string]any)["classifications"].([]any)[0].(map[string]any)
	if first["category"] != "INPUT_DATA_QUALITY" || first["activity_name"] != "reading_from_s3" {
		t.Fatalf("unexpected classification: %v", first)
	}
	if first["original_error"].(map[string]any)["code"].(float64) != 404 {
		t.Fatalf("unexpected original error: %v", first["original_error"])
	}
}

func TestRender_CSVRoundTripsThroughImport(t *testing.T) {
	var buf bytes.Buffer
	if err := Render(&buf, sampleSummary(), FormatCSV); err != nil {
		t.Fatalf("render: %v", err)
	}
	rows, err := csv.NewReader(&buf).ReadAll()
	if err != nil {
		t.Fatalf("read csv: %v", err)
	}
	if len(rows) != 4 || len(rows[0]) != len(csvHeader) {
		t.Fatalf("unexpected csv shape: %d rows", len(rows))
	}
	if rows[1][9] != "404" || rows[2][9] != "" {
		t.Fatalf("unexpected error codes: %q %q", rows[1][9], rows[2][9])
	}

	// A reviewer corrects the vendor row.
	rows[3][12] = "WORKFLOW_ENGINE"
	rows[3][13] = "vendor was fine, our retry plugin crashed"
	var edited bytes.Buffer
	w := csv.NewWriter(&edited)
	_ = w.WriteAll(rows)

	ctx := context.Background()
	store, err := feedback.Open(ctx, feedback.NewMemoryLog())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	res, err := feedback.ImportCSV(ctx, store, &edited, "reviewer")
	if err != nil {
		t.Fatalf("import: %v", err)
	}
	if res.Imported != 1 || res.Rows != 3 {
		t.Fatalf("unexpected import result: %+v", res)
	}
	got := store.Corrections(feedback.Filter{})
	if got[0].JobID != "job-2" || got[0].OriginalCategory != domain.CategoryThirdPartySystem || got[0].CorrectedCategory != domain.CategoryWorkflowEngine {
		t.Fatalf("unexpected correction: %+v", got[0])
	}
	if got[0].ErrorCode == nil || *got[0].ErrorCode != 503 {
		t.Fatalf("error code should survive the round trip: %+v", got[0].ErrorCode)
	}
}

func TestRender_Empty(t *testing.T) {
	s := analysis.Summary{}
	for _, f := range Formats() {
		var buf bytes.Buffer
		if err := Render(&buf, s, f); err != nil {
			t.Fatalf("%s: %v", f, err)
		}
	}
	var buf bytes.Buffer
	_ = Render(&buf, s, FormatText)
	if !strings.Contains(buf.String(), "No errors found") {
		t.Fatalf("empty text report should say so:\n%s", buf.String())
	}
}

func TestWriteReportFile(t *testing.T) {
	dir := t.TempDir()
	path, err := WriteReportFile(sampleSummary(), FormatMarkdown, dir)
	if err != nil {
		t.Fatalf("write: %v", err)
	}
	if !strings.HasSuffix(path, "failures_20260504.md") {
		t.Fatalf("unexpected path: %s", path)
	}
	data, err := os.ReadFile(path)
	if err != nil || !strings.Contains(string(data), "# Failure Analysis Report") {
		t.Fatalf("unexpected file content: %v", err)
	}
}
