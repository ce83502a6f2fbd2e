package app

import (
	"context"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/lmittmann/tint"
	"github.com/pterm/pterm"
	"github.com/slack-go/slack"
	"github.com/spf13/cobra"

	"jobinsights/internal/analysis"
	"jobinsights/internal/classifier"
	"jobinsights/internal/cli"
	"jobinsights/internal/config"
	"jobinsights/internal/feedback"
	"jobinsights/internal/httpx"
	"jobinsights/internal/integrations/llm"
	slackbot "jobinsights/internal/integrations/slack"
	"jobinsights/internal/jobs"
	"jobinsights/internal/rules"
	"jobinsights/internal/storage/sqlite"
)

func Main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := NewRootCommand(os.Stdout, os.Stdin).ExecuteContext(ctx)
	stop()
	if err != nil {
		pterm.Error.Println(err)
		for _, hint := range errors.GetAllHints(err) {
			pterm.Info.Println(hint)
		}
		os.Exit(1)
	}
}

type rootFlags struct {
	verbose     bool
	noColor     bool
	noLLM       bool
	configPath  string
	llmProvider string
	llmModel    string
	llmURL      string
}

// NewRootCommand builds the jobinsights command tree. Global flags are
// applied as environment overrides, so they take precedence over
// config.yaml and .env like any other variable.
func NewRootCommand(out io.Writer, in io.Reader) *cobra.Command {
	var flags rootFlags
	env := &cli.Env{Out: out, In: in}
	env.Open = func(ctx context.Context) (*cli.Runtime, error) {
		cfg, err := config.LoadConfig()
		if err != nil {
			return nil, err
		}
		level, _ := config.ParseLogLevel(cfg.LogLevel)
		if flags.verbose {
			level = slog.LevelDebug
		}
		logger := setupLogger(level, flags.noColor)
		return Build(ctx, cfg, logger)
	}

	root := &cobra.Command{
		Use:   "jobinsights",
		Short: "Classify failed pipeline job errors and learn from corrections",
		Long: `jobinsights sorts the errors of failed pipeline jobs into INPUT_DATA_QUALITY,
WORKFLOW_ENGINE or THIRD_PARTY_SYSTEM. A regex rule table handles known
errors; the rest go to a language model primed with past human corrections.
Corrections are stored and mined for new rules.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if flags.noColor {
				pterm.DisableColor()
			}
			level := slog.LevelInfo
			if flags.verbose {
				level = slog.LevelDebug
			}
			setupLogger(level, flags.noColor)
			return applyFlagEnv(flags)
		},
	}
	pf := root.PersistentFlags()
	pf.BoolVarP(&flags.verbose, "verbose", "v", false, "Debug logging")
	pf.BoolVar(&flags.noColor, "no-color", false, "Disable colored output")
	pf.BoolVar(&flags.noLLM, "no-llm", false, "Disable the model fallback, rules only")
	pf.StringVar(&flags.configPath, "config", "", "Config file (default: $CONFIG_PATH or config.yaml)")
	pf.StringVar(&flags.llmProvider, "llm-provider", "", "Model provider: openai or anthropic")
	pf.StringVar(&flags.llmModel, "llm-model", "", "Model name")
	pf.StringVar(&flags.llmURL, "llm-url", "", "Base URL of an OpenAI-compatible endpoint")

	root.AddCommand(cli.Commands(env)...)
	return root
}

func applyFlagEnv(f rootFlags) error {
	set := map[string]string{
		"CONFIG_PATH":  f.configPath,
		"LLM_PROVIDER": f.llmProvider,
		"LLM_MODEL":    f.llmModel,
		"LLM_BASE_URL": f.llmURL,
	}
	if f.noLLM {
		set["LLM_ENABLED"] = "false"
	}
	for k, v := range set {
		if v == "" {
			continue
		}
		if err := os.Setenv(k, v); err != nil {
			return errors.Wrapf(err, "set %s", k)
		}
	}
	return nil
}

func setupLogger(level slog.Level, noColor bool) *slog.Logger {
	logger := slog.New(tint.NewHandler(os.Stderr, &tint.Options{
		Level:      level,
		TimeFormat: time.Kitchen,
		NoColor:    noColor,
	}))
	slog.SetDefault(logger)
	return logger
}

// Build wires every component from cfg. The returned runtime owns the
// history database and the feedback store; Close releases both.
func Build(ctx context.Context, cfg config.Config, logger *slog.Logger) (*cli.Runtime, error) {
	if logger == nil {
		logger = slog.Default()
	}
	engine, err := rules.Load(cfg.RulesPath)
	if err != nil {
		return nil, err
	}
	logger.Debug("rule table loaded", "rules", engine.Len(), "path", cfg.RulesPath)

	timeout := httpx.ConfigureExternalHTTPClient(cfg.ExternalHTTPTimeoutSeconds)
	httpClient := httpx.ExternalHTTPClient()

	db, err := sqlite.InitDB(cfg.DBPath)
	if err != nil {
		return nil, err
	}

	var fbLog feedback.Log
	switch cfg.FeedbackBackend {
	case config.BackendSQLite:
		fbLog = feedback.NewSQLiteLog(db)
	default:
		fbLog = feedback.NewJSONLLog(cfg.FeedbackPath)
	}
	store, err := feedback.Open(ctx, fbLog, feedback.WithLogger(logger))
	if err != nil {
		db.Close()
		return nil, err
	}

	opts := []classifier.Option{
		classifier.WithLogger(logger),
		classifier.WithExamples(store, cfg.LLMFewShotExamples),
		classifier.WithStrategy(classifier.Strategy(cfg.LLMFewShotStrategy)),
	}
	var provider, model string
	if cfg.LLMEnabled {
		adapter := llm.NewFromConfig(cfg, httpClient, logger)
		opts = append(opts, classifier.WithFallback(adapter))
		provider, model = adapter.Provider(), adapter.Model()
	}
	cls := classifier.New(engine, opts...)

	logger.Debug("runtime ready",
		"feedback_backend", cfg.FeedbackBackend,
		"corrections", store.Count(),
		"llm_enabled", cfg.LLMEnabled,
		"llm_provider", provider,
		"llm_model", model,
		"external_http_timeout", timeout,
	)

	rt := &cli.Runtime{
		Config:     cfg,
		Logger:     logger,
		Store:      store,
		Classifier: cls,
		Rules:      engine,
		DB:         db,
		Jobs: func(ctx context.Context) (jobs.Source, func(), error) {
			pool, err := jobs.Connect(ctx, cfg.DatabaseURI)
			if err != nil {
				return nil, nil, err
			}
			return jobs.NewPostgresSource(pool), pool.Close, nil
		},
		NewAnalyzer: func(src jobs.Source, lookback time.Duration) *analysis.Analyzer {
			if lookback <= 0 {
				lookback = cfg.Lookback()
			}
			aopts := []analysis.Option{
				analysis.WithWorkers(cfg.ClassifyWorkers),
				analysis.WithLookback(lookback),
				analysis.WithModelInfo(provider, model),
				analysis.WithLogger(logger),
			}
			if cfg.RecordHistory {
				aopts = append(aopts, analysis.WithHistory(db))
			}
			return analysis.New(src, cls, aopts...)
		},
		Close: func() error {
			return errors.CombineErrors(store.Close(), db.Close())
		},
	}
	if cfg.SlackConfigured() {
		rt.Notifier = slackbot.NewNotifierFromToken(cfg.SlackBotToken, cfg.SlackChannelID, logger,
			slack.OptionHTTPClient(httpClient))
	}
	return rt, nil
}
