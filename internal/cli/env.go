package cli

import (
	"context"
	"database/sql"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/spf13/cobra"

	"jobinsights/internal/analysis"
	"jobinsights/internal/classifier"
	"jobinsights/internal/config"
	"jobinsights/internal/domain"
	"jobinsights/internal/feedback"
	"jobinsights/internal/jobs"
	"jobinsights/internal/rules"
	"jobinsights/internal/scheduler"
)

// Runtime is the set of wired components a command works with.
type Runtime struct {
	Config     config.Config
	Logger     *slog.Logger
	Store      *feedback.Store
	Classifier *classifier.Classifier
	Rules      *rules.Engine
	// DB holds classification history. stats needs it.
	DB *sql.DB
	// Notifier is nil when Slack is not configured.
	Notifier scheduler.Notifier
	// Jobs opens the failed-job database. The returned func releases it.
	Jobs func(ctx context.Context) (jobs.Source, func(), error)
	// NewAnalyzer builds an analyzer over src. A zero lookback uses the
	// configured one.
	NewAnalyzer func(src jobs.Source, lookback time.Duration) *analysis.Analyzer
	Close       func() error
}

// Env connects the commands to the process.
type Env struct {
	Out  io.Writer
	In   io.Reader
	Open func(ctx context.Context) (*Runtime, error)
}

func (e *Env) open(cmd *cobra.Command) (*Runtime, error) {
	rt, err := e.Open(cmd.Context())
	if err != nil {
		return nil, err
	}
	if rt.Logger == nil {
		rt.Logger = slog.Default()
	}
	if rt.Close == nil {
		rt.Close = func() error { return nil }
	}
	return rt, nil
}

// Commands returns every subcommand bound to env.
func Commands(env *Env) []*cobra.Command {
	return []*cobra.Command{
		newAnalyzeCmd(env),
		newClassifyCmd(env),
		newCorrectCmd(env),
		newCorrectionsCmd(env),
		newImportCorrectionsCmd(env),
		newSuggestRulesCmd(env),
		newExportFinetuneCmd(env),
		newStatsCmd(env),
		newWatchCmd(env),
	}
}

var timeLayouts = []string{
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04",
	"2006-01-02",
}

// parseTime accepts RFC3339 or a naive timestamp, read as UTC.
func parseTime(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, nil
	}
	for _, layout := range timeLayouts {
		if t, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, domain.Validationf("cannot parse time %q (use YYYY-MM-DD HH:MM:SS)", s)
}

// parseCode reads an optional numeric error code.
func parseCode(s string) (*int, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return nil, domain.Validationf("error code %q is not a number", s)
	}
	return &n, nil
}

func currentUser() string {
	for _, k := range []string{"JOBINSIGHTS_USER", "USER", "USERNAME"} {
		if v := strings.TrimSpace(os.Getenv(k)); v != "" {
			return v
		}
	}
	return "cli"
}

// writeOutput sends render to path, or to w when path is empty.
func writeOutput(w io.Writer, path string, render func(io.Writer) error) error {
	if path == "" {
		return render(w)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return errors.Wrapf(err, "create directory for %s", path)
	}
	f, err := os.Create(path)
	if err != nil {
		return errors.Wrapf(err, "create %s", path)
	}
	if err := render(f); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
