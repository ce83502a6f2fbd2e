package app

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"jobinsights/internal/config"
	"jobinsights/internal/domain"
	"jobinsights/internal/storage/sqlite"
)

func testConfig(t *testing.T) config.Config {
	t.Helper()
	dir := t.TempDir()
	return config.Config{
		DBPath:                     filepath.Join(dir, "jobinsights.db"),
		FeedbackBackend:            config.BackendSQLite,
		FeedbackPath:               filepath.Join(dir, "feedback.jsonl"),
		LLMFewShotExamples:         5,
		LLMFewShotStrategy:         config.StrategyRecent,
		MinerMinCount:              3,
		ClassifyWorkers:            2,
		LookbackHours:              24,
		RecordHistory:              true,
		ExternalHTTPTimeoutSeconds: 30,
	}
}

func TestBuild_SQLiteFeedback(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t)
	rt, err := Build(ctx, cfg, nil)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if rt.Notifier != nil {
		t.Fatal("notifier should be nil without slack settings")
	}
	if len(rt.Rules.CodeBands()) == 0 {
		t.Fatal("runtime should expose the loaded rule table")
	}
	if rt.Classifier.FallbackEnabled() {
		t.Fatal("fallback should be off when llm_enabled is false")
	}

	if _, err := rt.Store.Append(ctx, domain.Correction{
		JobID:             "job-1",
		OriginalCategory:  domain.CategoryThirdPartySystem,
		CorrectedCategory: domain.CategoryInputDataQuality,
		ErrorSnippet:      "Not Found",
	}); err != nil {
		t.Fatalf("append: %v", err)
	}
	stored, err := sqlite.ListCorrections(ctx, rt.DB)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(stored) != 1 {
		t.Fatalf("sqlite backend should persist into the history database, got %d rows", len(stored))
	}

	res := rt.Classifier.Classify(ctx, domain.ErrorRecord{Message: "Service Unavailable"})
	if res.Category != domain.CategoryThirdPartySystem {
		t.Fatalf("unexpected classification: %+v", res)
	}
	if err := rt.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
}

func TestBuild_JSONLFeedbackAndSlack(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t)
	cfg.FeedbackBackend = config.BackendJSONL
	cfg.SlackBotToken = "xoxb-test"
	cfg.SlackChannelID = "C123"
	cfg.LLMEnabled = true
	cfg.LLMProvider = config.ProviderOpenAI
	cfg.LLMBaseURL = "http://127.0.0.1:1/v1"
	cfg.LLMModel = "test-model"
	cfg.LLMTimeoutSeconds = 1
	cfg.LLMExampleMaxChars = 300

	rt, err := Build(ctx, cfg, nil)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	defer rt.Close()
	if rt.Notifier == nil {
		t.Fatal("notifier should be wired when slack is configured")
	}
	if !rt.Classifier.FallbackEnabled() {
		t.Fatal("fallback should be on when llm_enabled is true")
	}
	if _, err := rt.Store.Append(ctx, domain.Correction{
		JobID:             "job-1",
		OriginalCategory:  domain.CategoryUnknown,
		CorrectedCategory: domain.CategoryWorkflowEngine,
	}); err != nil {
		t.Fatalf("append: %v", err)
	}
	if _, err := os.Stat(cfg.FeedbackPath); err != nil {
		t.Fatalf("jsonl log should exist: %v", err)
	}
	if rt.NewAnalyzer(nil, 0) == nil {
		t.Fatal("analyzer factory returned nil")
	}
}

func TestBuild_BadRulesPath(t *testing.T) {
	cfg := testConfig(t)
	cfg.RulesPath = filepath.Join(t.TempDir(), "missing.yaml")
	if _, err := Build(context.Background(), cfg, nil); err == nil {
		t.Fatal("expected an error for a missing rules file")
	}
}

func TestApplyFlagEnv(t *testing.T) {
	for _, k := range []string{"CONFIG_PATH", "LLM_PROVIDER", "LLM_MODEL", "LLM_BASE_URL", "LLM_ENABLED"} {
		t.Setenv(k, "")
	}
	if err := applyFlagEnv(rootFlags{noLLM: true, llmModel: "llama3.2:3b", configPath: "custom.yaml"}); err != nil {
		t.Fatalf("apply: %v", err)
	}
	want := map[string]string{
		"LLM_ENABLED":  "false",
		"LLM_MODEL":    "llama3.2:3b",
		"CONFIG_PATH":  "custom.yaml",
		"LLM_PROVIDER": "",
	}
	for k, v := range want {
		if got := os.Getenv(k); got != v {
			t.Errorf("%s = %q, want %q", k, got, v)
		}
	}
}

func TestRootCommand_ListsSubcommands(t *testing.T) {
	var out bytes.Buffer
	root := NewRootCommand(&out, strings.NewReader(""))
	root.SetOut(&out)
	root.SetArgs([]string{"--help"})
	if err := root.Execute(); err != nil {
		t.Fatalf("help: %v", err)
	}
	for _, name := range []string{"analyze", "classify", "correct", "corrections", "import-corrections", "suggest-rules", "export-finetune", "stats", "watch"} {
		if !strings.Contains(out.String(), name) {
			t.Errorf("help output missing %q", name)
		}
	}
}
