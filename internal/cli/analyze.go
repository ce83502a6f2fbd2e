package cli

import (
	"context"
	"encoding/json"
	"io"
	"os"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"jobinsights/internal/analysis"
	"jobinsights/internal/domain"
	"jobinsights/internal/jobs"
	"jobinsights/internal/report"
)

func newAnalyzeCmd(env *Env) *cobra.Command {
	var (
		hours    int
		since    string
		until    string
		tenantID string
		format   string
		output   string
		jobsFile string
		post     bool
	)
	cmd := &cobra.Command{
		Use:   "analyze",
		Short: "Classify the errors of recently failed jobs and print a report",
		Example: `  jobinsights analyze
  jobinsights analyze --hours 168 --no-llm
  jobinsights analyze --since "2026-01-01 00:00:00" --until "2026-01-02 00:00:00"
  jobinsights analyze --format markdown --output report.md
  jobinsights analyze --format csv --output errors.csv`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := report.ParseFormat(format)
			if err != nil {
				return err
			}
			w := analysis.Window{TenantID: tenantID}
			if w.Since, err = parseTime(since); err != nil {
				return err
			}
			if w.Until, err = parseTime(until); err != nil {
				return err
			}
			if tenantID != "" {
				if _, err := uuid.Parse(tenantID); err != nil {
					return domain.Validationf("tenant id %q is not a UUID", tenantID)
				}
			}
			if hours < 0 {
				return domain.Validationf("--hours must not be negative")
			}

			rt, err := env.open(cmd)
			if err != nil {
				return err
			}
			defer rt.Close()
			if post && rt.Notifier == nil {
				return domain.Configurationf("--post needs slack_bot_token and slack_channel_id")
			}

			src, release, err := openSource(cmd.Context(), rt, jobsFile)
			if err != nil {
				return err
			}
			defer release()

			analyzer := rt.NewAnalyzer(src, time.Duration(hours)*time.Hour)
			summary, err := analyzer.Run(cmd.Context(), w)
			if err != nil {
				return err
			}

			if err := writeOutput(env.Out, output, func(out io.Writer) error {
				return report.Render(out, summary, f)
			}); err != nil {
				return err
			}
			if output != "" {
				rt.Logger.Info("results saved", "path", output)
			}
			if post {
				return rt.Notifier.PostSummary(cmd.Context(), summary)
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&hours, "hours", 0, "Hours to look back (default: lookback_hours from config)")
	cmd.Flags().StringVar(&since, "since", "", "Start time (YYYY-MM-DD HH:MM:SS, UTC)")
	cmd.Flags().StringVar(&until, "until", "", "End time (YYYY-MM-DD HH:MM:SS, UTC)")
	cmd.Flags().StringVar(&tenantID, "tenant-id", "", "Only analyze jobs of this tenant (UUID)")
	cmd.Flags().StringVar(&format, "format", "text", "Output format: text, markdown, json or csv")
	cmd.Flags().StringVarP(&output, "output", "o", "", "Output file (default: stdout)")
	cmd.Flags().StringVar(&jobsFile, "jobs-file", "", "Read failed jobs from a JSON dump instead of the database")
	cmd.Flags().BoolVar(&post, "post", false, "Also post the summary to Slack")
	return cmd
}

// openSource reads jobs from jobsFile when set, otherwise from the job
// database.
func openSource(ctx context.Context, rt *Runtime, jobsFile string) (jobs.Source, func(), error) {
	if jobsFile == "" {
		return rt.Jobs(ctx)
	}
	src, err := loadJobsFile(jobsFile)
	if err != nil {
		return nil, nil, err
	}
	return src, func() {}, nil
}

// loadJobsFile reads a JSON array of failed jobs.
func loadJobsFile(path string) (jobs.Source, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "read jobs file %s", path)
	}
	var list []jobs.Job
	if err := json.Unmarshal(data, &list); err != nil {
		return nil, domain.MarkConfiguration(err, "decode jobs file "+path)
	}
	return &jobs.MemorySource{Jobs: list}, nil
}
