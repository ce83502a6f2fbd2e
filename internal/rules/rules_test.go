package rules

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/cockroachdb/errors"

	"jobinsights/internal/domain"
)

func intPtr(n int) *int { return &n }

func TestMatch_HeadObjectNotFound(t *testing.T) {
	engine, err := Compile(&Table{Rules: []TableRule{
		{Pattern: "headobject.*not found", Category: "INPUT_DATA_QUALITY", Rationale: "Input file not found in S3"},
	}})
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	rec := domain.ErrorRecord{
		Code:          intPtr(404),
		Message:       "An error occurred (404) when calling the HeadObject operation: Not Found",
		ExceptionType: "ReadFromS3Exception",
	}
	m, ok := engine.Match(rec)
	if !ok {
		t.Fatal("expected a match")
	}
	if m.Category != domain.CategoryInputDataQuality {
		t.Fatalf("expected INPUT_DATA_QUALITY, got %s", m.Category)
	}
	if m.Pattern != "headobject.*not found" {
		t.Fatalf("unexpected matched pattern %q", m.Pattern)
	}
}

func TestMatch_FirstRuleWins(t *testing.T) {
	rec := domain.ErrorRecord{Message: "connection timeout while validation failed"}
	a := TableRule{Pattern: "validation.*fail", Category: "INPUT_DATA_QUALITY"}
	b := TableRule{Pattern: "connection.*timeout", Category: "THIRD_PARTY_SYSTEM"}

	forward, err := Compile(&Table{Rules: []TableRule{a, b}})
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	reverse, err := Compile(&Table{Rules: []TableRule{b, a}})
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	if m, _ := forward.Match(rec); m.Category != domain.CategoryInputDataQuality {
		t.Fatalf("expected first rule to win, got %s", m.Category)
	}
	if m, _ := reverse.Match(rec); m.Category != domain.CategoryThirdPartySystem {
		t.Fatalf("expected reordered first rule to win, got %s", m.Category)
	}
}

func TestMatch_Deterministic(t *testing.T) {
	engine, err := Load("")
	if err != nil {
		t.Fatalf("load default table: %v", err)
	}
	rec := domain.ErrorRecord{Code: intPtr(503), Message: "Service Unavailable from upstream"}
	first, ok := engine.Match(rec)
	if !ok {
		t.Fatal("expected a match")
	}
	for i := 0; i < 20; i++ {
		got, _ := engine.Match(rec)
		if got != first {
			t.Fatalf("match %d differs: %+v vs %+v", i, got, first)
		}
	}
}

func TestMatch_CodeBands(t *testing.T) {
	engine, err := Compile(&Table{CodeBands: []TableBand{
		{Min: 429, Max: 429, Category: "THIRD_PARTY_SYSTEM", Rationale: "HTTP %d rate limited"},
		{Min: 500, Max: 599, Category: "THIRD_PARTY_SYSTEM", Rationale: "HTTP %d server error"},
	}})
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	tests := []struct {
		code      *int
		wantMatch bool
		rationale string
	}{
		{code: intPtr(429), wantMatch: true, rationale: "HTTP 429 rate limited"},
		{code: intPtr(502), wantMatch: true, rationale: "HTTP 502 server error"},
		{code: intPtr(404), wantMatch: false},
		{code: nil, wantMatch: false},
	}
	for _, tt := range tests {
		m, ok := engine.Match(domain.ErrorRecord{Code: tt.code, Message: "boom"})
		if ok != tt.wantMatch {
			t.Fatalf("code %v: match=%v, want %v", tt.code, ok, tt.wantMatch)
		}
		if ok && m.Rationale != tt.rationale {
			t.Fatalf("code %v: rationale %q, want %q", tt.code, m.Rationale, tt.rationale)
		}
	}
}

func TestMatch_PatternBeforeBand(t *testing.T) {
	engine, err := Compile(&Table{
		Rules:     []TableRule{{Pattern: "schema.*mismatch", Category: "INPUT_DATA_QUALITY"}},
		CodeBands: []TableBand{{Min: 500, Max: 599, Category: "THIRD_PARTY_SYSTEM"}},
	})
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	m, ok := engine.Match(domain.ErrorRecord{Code: intPtr(500), Message: "Schema mismatch on column id"})
	if !ok || m.Category != domain.CategoryInputDataQuality {
		t.Fatalf("expected pattern rule to take precedence, got %+v ok=%v", m, ok)
	}
}

func TestMatch_DetailsOnlyWhenEnabled(t *testing.T) {
	rec := domain.ErrorRecord{Message: "task failed", Details: map[string]any{"reason": "quota exceeded"}}
	table := Table{Rules: []TableRule{{Pattern: "quota.*exceeded", Category: "THIRD_PARTY_SYSTEM"}}}

	plain, err := Compile(&table)
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	if _, ok := plain.Match(rec); ok {
		t.Fatal("details must not be searched by default")
	}
	table.MatchDetails = true
	withDetails, err := Compile(&table)
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	if _, ok := withDetails.Match(rec); !ok {
		t.Fatal("expected details match when match_details is set")
	}
}

func TestMatch_EmptyEngine(t *testing.T) {
	engine, err := Compile(&Table{})
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	if _, ok := engine.Match(domain.ErrorRecord{Code: intPtr(500), Message: "anything"}); ok {
		t.Fatal("empty engine must not match")
	}
	var nilEngine *Engine
	if _, ok := nilEngine.Match(domain.ErrorRecord{Message: "x"}); ok {
		t.Fatal("nil engine must not match")
	}
}

func TestCompile_RejectsBadTables(t *testing.T) {
	tests := []struct {
		name  string
		table Table
	}{
		{"malformed pattern", Table{Rules: []TableRule{{Pattern: "(unclosed", Category: "WORKFLOW_ENGINE"}}}},
		{"lookahead", Table{Rules: []TableRule{{Pattern: "foo(?=bar)", Category: "WORKFLOW_ENGINE"}}}},
		{"empty pattern", Table{Rules: []TableRule{{Pattern: " ", Category: "WORKFLOW_ENGINE"}}}},
		{"foreign category", Table{Rules: []TableRule{{Pattern: "x", Category: "NETWORK_ERROR"}}}},
		{"unknown category", Table{Rules: []TableRule{{Pattern: "x", Category: "UNKNOWN"}}}},
		{"inverted band", Table{CodeBands: []TableBand{{Min: 599, Max: 500, Category: "THIRD_PARTY_SYSTEM"}}}},
	}
	for _, tt := range tests {
		_, err := Compile(&tt.table)
		if err == nil {
			t.Fatalf("%s: expected error", tt.name)
		}
		if !errors.Is(err, domain.ErrConfiguration) {
			t.Fatalf("%s: expected configuration error, got %v", tt.name, err)
		}
	}
}

func TestLoad_DefaultTable(t *testing.T) {
	engine, err := Load("")
	if err != nil {
		t.Fatalf("load default table: %v", err)
	}
	if len(engine.Rules()) == 0 {
		t.Fatal("default table has no rules")
	}
	tests := []struct {
		rec  domain.ErrorRecord
		want domain.Category
	}{
		{domain.ErrorRecord{Code: intPtr(404), Message: "An error occurred (404) when calling the HeadObject operation: Not Found"}, domain.CategoryInputDataQuality},
		{domain.ErrorRecord{Message: "Connection refused by remote host"}, domain.CategoryThirdPartySystem},
		{domain.ErrorRecord{Message: "boom", ExceptionType: "PipelineRunTimeoutException"}, domain.CategoryWorkflowEngine},
		{domain.ErrorRecord{Code: intPtr(429), Message: "slow down"}, domain.CategoryThirdPartySystem},
	}
	for _, tt := range tests {
		m, ok := engine.Match(tt.rec)
		if !ok {
			t.Fatalf("%q: expected a match", tt.rec.Message)
		}
		if m.Category != tt.want {
			t.Fatalf("%q: got %s (%s), want %s", tt.rec.Message, m.Category, m.Pattern, tt.want)
		}
	}
}

func TestLoadTable_FromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rules.yaml")
	content := "rules:\n  - pattern: 'dag.*error'\n    category: WORKFLOW_ENGINE\n    rationale: DAG error\n"
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("write rules: %v", err)
	}
	engine, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if engine.Len() != 1 {
		t.Fatalf("expected 1 rule, got %d", engine.Len())
	}

	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); !errors.Is(err, domain.ErrConfiguration) {
		t.Fatalf("expected configuration error for missing file, got %v", err)
	}
}
