package config

import (
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"

	"jobinsights/internal/domain"
)

const defaultExternalHTTPTimeout = 90 * time.Second
const defaultExternalHTTPTimeoutSeconds = int(defaultExternalHTTPTimeout / time.Second)

const (
	ProviderOpenAI    = "openai"
	ProviderAnthropic = "anthropic"

	StrategyRecent  = "recent"
	StrategySimilar = "similar"

	BackendJSONL  = "jsonl"
	BackendSQLite = "sqlite"

	DefaultOpenAIBaseURL  = "http://localhost:11434/v1"
	DefaultOpenAIModel    = "llama3.2:3b"
	DefaultAnthropicModel = "claude-sonnet-4-5-20250929"
)

type Config struct {
	DatabaseURI string `yaml:"database_uri"`
	DBPath      string `yaml:"db_path"`

	LLMEnabled           bool    `yaml:"llm_enabled"`
	LLMProvider          string  `yaml:"llm_provider"`
	LLMBaseURL           string  `yaml:"llm_base_url"`
	LLMModel             string  `yaml:"llm_model"`
	LLMAPIKey            string  `yaml:"llm_api_key"`
	AnthropicAPIKey      string  `yaml:"anthropic_api_key"`
	LLMTimeoutSeconds    int     `yaml:"llm_timeout_seconds"`
	LLMRequestsPerSecond float64 `yaml:"llm_requests_per_second"`
	LLMFewShotExamples   int     `yaml:"llm_few_shot_examples"`
	LLMFewShotStrategy   string  `yaml:"llm_few_shot_strategy"`
	LLMExampleMaxChars   int     `yaml:"llm_example_max_chars"`

	RulesPath       string `yaml:"rules_path"`
	FeedbackBackend string `yaml:"feedback_backend"`
	FeedbackPath    string `yaml:"feedback_path"`
	RecordHistory   bool   `yaml:"record_history"`

	MinerMinCount   int `yaml:"miner_min_count"`
	ClassifyWorkers int `yaml:"classify_workers"`
	LookbackHours   int `yaml:"lookback_hours"`

	AnalysisSchedule string `yaml:"analysis_schedule"`
	MiningSchedule   string `yaml:"mining_schedule"`
	Timezone         string `yaml:"timezone"`

	SlackBotToken  string `yaml:"slack_bot_token"`
	SlackChannelID string `yaml:"slack_channel_id"`

	MetricsAddr                string `yaml:"metrics_addr"`
	ExternalHTTPTimeoutSeconds int    `yaml:"external_http_timeout_seconds"`
	LogLevel                   string `yaml:"log_level"`

	Location *time.Location `yaml:"-"` // computed from Timezone, not from YAML
}

// LoadConfig reads CONFIG_PATH (default config.yaml, optional), then .env,
// then environment overrides, then applies defaults and validates.
func LoadConfig() (Config, error) {
	cfg := Config{
		LLMEnabled:    true,
		RecordHistory: true,
	}

	configPath := "config.yaml"
	if envPath := os.Getenv("CONFIG_PATH"); envPath != "" {
		configPath = envPath
	}
	if data, err := os.ReadFile(configPath); err == nil {
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, domain.MarkConfiguration(err, "parse "+configPath)
		}
		slog.Debug("loaded config", "path", configPath)
	}

	envFile := ".env"
	if p := os.Getenv("ENV_FILE"); p != "" {
		envFile = p
	}
	if err := godotenv.Load(envFile); err == nil {
		slog.Debug("loaded env file", "path", envFile)
	}

	if err := applyEnv(&cfg); err != nil {
		return Config{}, err
	}
	applyDefaults(&cfg)
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config) error {
	envOverride(&cfg.DatabaseURI, "DATABASE_URI")
	envOverride(&cfg.DBPath, "DB_PATH")
	envOverrideBool(&cfg.LLMEnabled, "LLM_ENABLED")
	envOverride(&cfg.LLMProvider, "LLM_PROVIDER")
	// LOCAL_LLM_* are accepted for existing deployments; LLM_* wins.
	envOverride(&cfg.LLMBaseURL, "LOCAL_LLM_BASE_URL")
	envOverride(&cfg.LLMBaseURL, "LLM_BASE_URL")
	envOverride(&cfg.LLMModel, "LOCAL_LLM_MODEL")
	envOverride(&cfg.LLMModel, "LLM_MODEL")
	envOverride(&cfg.LLMAPIKey, "LOCAL_LLM_API_KEY")
	envOverride(&cfg.LLMAPIKey, "LLM_API_KEY")
	envOverride(&cfg.AnthropicAPIKey, "ANTHROPIC_API_KEY")
	envOverride(&cfg.LLMFewShotStrategy, "LLM_FEW_SHOT_STRATEGY")
	envOverride(&cfg.RulesPath, "RULES_PATH")
	envOverride(&cfg.FeedbackBackend, "FEEDBACK_BACKEND")
	envOverride(&cfg.FeedbackPath, "FEEDBACK_PATH")
	envOverrideBool(&cfg.RecordHistory, "RECORD_HISTORY")
	envOverride(&cfg.AnalysisSchedule, "ANALYSIS_SCHEDULE")
	envOverride(&cfg.MiningSchedule, "MINING_SCHEDULE")
	envOverride(&cfg.Timezone, "TIMEZONE")
	envOverride(&cfg.SlackBotToken, "SLACK_BOT_TOKEN")
	envOverride(&cfg.SlackChannelID, "SLACK_CHANNEL_ID")
	envOverride(&cfg.MetricsAddr, "METRICS_ADDR")
	envOverride(&cfg.LogLevel, "LOG_LEVEL")

	ints := []struct {
		field *int
		key   string
	}{
		{&cfg.LLMTimeoutSeconds, "LLM_TIMEOUT_SECONDS"},
		{&cfg.LLMFewShotExamples, "LLM_FEW_SHOT_EXAMPLES"},
		{&cfg.LLMExampleMaxChars, "LLM_EXAMPLE_MAX_CHARS"},
		{&cfg.MinerMinCount, "MINER_MIN_COUNT"},
		{&cfg.ClassifyWorkers, "CLASSIFY_WORKERS"},
		{&cfg.LookbackHours, "LOOKBACK_HOURS"},
		{&cfg.ExternalHTTPTimeoutSeconds, "EXTERNAL_HTTP_TIMEOUT_SECONDS"},
	}
	for _, o := range ints {
		if err := envOverrideInt(o.field, o.key); err != nil {
			return err
		}
	}
	return envOverrideFloat(&cfg.LLMRequestsPerSecond, "LLM_REQUESTS_PER_SECOND")
}

func applyDefaults(cfg *Config) {
	cfg.LLMProvider = strings.ToLower(strings.TrimSpace(cfg.LLMProvider))
	if cfg.LLMProvider == "" {
		cfg.LLMProvider = ProviderOpenAI
	}
	if cfg.LLMModel == "" {
		if cfg.LLMProvider == ProviderAnthropic {
			cfg.LLMModel = DefaultAnthropicModel
		} else {
			cfg.LLMModel = DefaultOpenAIModel
		}
	}
	if cfg.LLMBaseURL == "" && cfg.LLMProvider == ProviderOpenAI {
		cfg.LLMBaseURL = DefaultOpenAIBaseURL
	}
	cfg.LLMBaseURL = strings.TrimRight(cfg.LLMBaseURL, "/")
	if cfg.LLMAPIKey == "" {
		cfg.LLMAPIKey = "not-needed"
	}
	if cfg.LLMTimeoutSeconds == 0 {
		cfg.LLMTimeoutSeconds = 30
	}
	if cfg.LLMFewShotExamples == 0 {
		cfg.LLMFewShotExamples = 5
	}
	if cfg.LLMFewShotStrategy == "" {
		cfg.LLMFewShotStrategy = StrategyRecent
	}
	if cfg.LLMExampleMaxChars == 0 {
		cfg.LLMExampleMaxChars = 300
	}
	if cfg.FeedbackBackend == "" {
		cfg.FeedbackBackend = BackendJSONL
	}
	if cfg.FeedbackPath == "" {
		cfg.FeedbackPath = "./data/feedback.jsonl"
	}
	if cfg.DBPath == "" {
		cfg.DBPath = "./jobinsights.db"
	}
	if cfg.MinerMinCount == 0 {
		cfg.MinerMinCount = 3
	}
	if cfg.ClassifyWorkers == 0 {
		cfg.ClassifyWorkers = 4
	}
	if cfg.LookbackHours == 0 {
		cfg.LookbackHours = 24
	}
	if cfg.AnalysisSchedule == "" {
		cfg.AnalysisSchedule = "0 7 * * *"
	}
	if cfg.MiningSchedule == "" {
		cfg.MiningSchedule = "0 8 * * 1"
	}
	if cfg.Timezone == "" {
		cfg.Timezone = "Local"
	}
	if cfg.MetricsAddr == "" {
		cfg.MetricsAddr = ":9090"
	}
	if cfg.ExternalHTTPTimeoutSeconds == 0 {
		cfg.ExternalHTTPTimeoutSeconds = defaultExternalHTTPTimeoutSeconds
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
}

// Validate checks every setting and resolves Location. Errors are marked
// as configuration errors.
func (c *Config) Validate() error {
	switch c.LLMProvider {
	case ProviderOpenAI:
		if c.LLMEnabled && c.LLMBaseURL == "" {
			return domain.Configurationf("llm_base_url is required when llm_provider=openai")
		}
	case ProviderAnthropic:
		if c.LLMEnabled && c.AnthropicAPIKey == "" {
			return errors.WithHint(
				domain.Configurationf("anthropic_api_key is required when llm_provider=anthropic"),
				"set ANTHROPIC_API_KEY or disable the model fallback with LLM_ENABLED=false",
			)
		}
	default:
		return domain.Configurationf("llm_provider must be 'openai' or 'anthropic', got '%s'", c.LLMProvider)
	}

	if c.LLMTimeoutSeconds < 1 {
		return domain.Configurationf("invalid llm_timeout_seconds '%d': must be >= 1", c.LLMTimeoutSeconds)
	}
	if c.LLMRequestsPerSecond < 0 {
		return domain.Configurationf("invalid llm_requests_per_second '%f': must be >= 0", c.LLMRequestsPerSecond)
	}
	if c.LLMFewShotExamples < 0 {
		return domain.Configurationf("invalid llm_few_shot_examples '%d': must be >= 0", c.LLMFewShotExamples)
	}
	switch c.LLMFewShotStrategy {
	case StrategyRecent, StrategySimilar:
	default:
		return domain.Configurationf("llm_few_shot_strategy must be 'recent' or 'similar', got '%s'", c.LLMFewShotStrategy)
	}
	if c.LLMExampleMaxChars < 20 {
		return domain.Configurationf("invalid llm_example_max_chars '%d': must be >= 20", c.LLMExampleMaxChars)
	}
	switch c.FeedbackBackend {
	case BackendJSONL, BackendSQLite:
	default:
		return domain.Configurationf("feedback_backend must be 'jsonl' or 'sqlite', got '%s'", c.FeedbackBackend)
	}
	if c.MinerMinCount < 1 {
		return domain.Configurationf("invalid miner_min_count '%d': must be >= 1", c.MinerMinCount)
	}
	if c.ClassifyWorkers < 1 {
		return domain.Configurationf("invalid classify_workers '%d': must be >= 1", c.ClassifyWorkers)
	}
	if c.LookbackHours < 1 {
		return domain.Configurationf("invalid lookback_hours '%d': must be >= 1", c.LookbackHours)
	}
	if c.ExternalHTTPTimeoutSeconds < 5 {
		return domain.Configurationf("invalid external_http_timeout_seconds '%d': must be >= 5", c.ExternalHTTPTimeoutSeconds)
	}
	for name, spec := range map[string]string{
		"analysis_schedule": c.AnalysisSchedule,
		"mining_schedule":   c.MiningSchedule,
	} {
		if _, err := cron.ParseStandard(spec); err != nil {
			return domain.MarkConfiguration(err, "invalid "+name+" '"+spec+"'")
		}
	}
	if (c.SlackBotToken == "") != (c.SlackChannelID == "") {
		return domain.Configurationf("slack_bot_token and slack_channel_id must be set together")
	}
	if _, err := ParseLogLevel(c.LogLevel); err != nil {
		return err
	}

	if strings.EqualFold(c.Timezone, "Local") {
		c.Location = time.Local
	} else {
		loc, err := time.LoadLocation(c.Timezone)
		if err != nil {
			return domain.MarkConfiguration(err, "invalid timezone '"+c.Timezone+"'")
		}
		c.Location = loc
	}
	return nil
}

func (c Config) SlackConfigured() bool {
	return c.SlackBotToken != "" && c.SlackChannelID != ""
}

func (c Config) LLMTimeout() time.Duration {
	return time.Duration(c.LLMTimeoutSeconds) * time.Second
}

func (c Config) Lookback() time.Duration {
	return time.Duration(c.LookbackHours) * time.Hour
}

// LLMAPIKeyFor returns the key for the configured provider.
func (c Config) LLMAPIKeyFor() string {
	if c.LLMProvider == ProviderAnthropic {
		return c.AnthropicAPIKey
	}
	return c.LLMAPIKey
}

func ParseLogLevel(s string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return slog.LevelInfo, domain.Configurationf("log_level must be one of debug, info, warn, error; got '%s'", s)
}

func envOverride(field *string, envKey string) {
	if val := os.Getenv(envKey); val != "" {
		*field = val
	}
}

func envOverrideInt(field *int, envKey string) error {
	if val := os.Getenv(envKey); val != "" {
		parsed, err := strconv.Atoi(val)
		if err != nil {
			return domain.MarkConfiguration(err, "invalid "+envKey+" '"+val+"'")
		}
		*field = parsed
	}
	return nil
}

func envOverrideBool(field *bool, envKey string) {
	if val := os.Getenv(envKey); val != "" {
		*field = strings.EqualFold(val, "true") || val == "1"
	}
}

func envOverrideFloat(field *float64, envKey string) error {
	if val := os.Getenv(envKey); val != "" {
		parsed, err := strconv.ParseFloat(val, 64)
		if err != nil {
			return domain.MarkConfiguration(err, "invalid "+envKey+" '"+val+"'")
		}
		*field = parsed
	}
	return nil
}
