package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"jobinsights/internal/domain"
	"jobinsights/internal/feedback"
)

func newCorrectCmd(env *Env) *cobra.Command {
	var (
		jobID     string
		activity  string
		original  string
		corrected string
		message   string
		exception string
		code      string
		reason    string
		user      string
	)
	cmd := &cobra.Command{
		Use:   "correct",
		Short: "Record a corrected category for a misclassified error",
		Example: `  jobinsights correct --job-id 8f1c... --activity reading_from_s3 \
    --original THIRD_PARTY_SYSTEM --corrected INPUT_DATA_QUALITY \
    --message "HeadObject operation: Not Found" --reason "file was never uploaded"`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			orig, err := domain.ParseCategory(original)
			if err != nil {
				return err
			}
			corr, err := domain.ParseCategory(corrected)
			if err != nil {
				return err
			}
			c := domain.Correction{
				JobID:             jobID,
				ActivityName:      activity,
				OriginalCategory:  orig,
				CorrectedCategory: corr,
				ErrorSnippet:      message,
				ExceptionType:     exception,
				Reasoning:         reason,
				User:              user,
			}
			if c.ErrorCode, err = parseCode(code); err != nil {
				return err
			}
			if c.User == "" {
				c.User = currentUser()
			}

			rt, err := env.open(cmd)
			if err != nil {
				return err
			}
			defer rt.Close()

			saved, err := rt.Store.Append(cmd.Context(), c)
			if err != nil {
				return err
			}
			if orig == corr {
				rt.Logger.Warn("correction confirms the original category", "category", corr)
			}
			fmt.Fprintf(env.Out, "Recorded correction %s: %s -> %s\n", saved.ID,
				categoryColor(saved.OriginalCategory).Sprint(saved.OriginalCategory),
				categoryColor(saved.CorrectedCategory).Sprint(saved.CorrectedCategory))
			_, err = fmt.Fprintf(env.Out, "%d corrections stored\n", rt.Store.Count())
			return err
		},
	}
	cmd.Flags().StringVar(&jobID, "job-id", "", "Job the error belongs to")
	cmd.Flags().StringVar(&activity, "activity", "", "Activity that failed")
	cmd.Flags().StringVar(&original, "original", string(domain.CategoryUnknown), "Category the error was classified as")
	cmd.Flags().StringVar(&corrected, "corrected", "", "Correct category")
	cmd.Flags().StringVarP(&message, "message", "m", "", "Error message")
	cmd.Flags().StringVar(&exception, "exception", "", "Exception type")
	cmd.Flags().StringVar(&code, "code", "", "Numeric error code")
	cmd.Flags().StringVar(&reason, "reason", "", "Why the corrected category is right")
	cmd.Flags().StringVar(&user, "user", "", "Who made the correction (default: $USER)")
	_ = cmd.MarkFlagRequired("job-id")
	_ = cmd.MarkFlagRequired("corrected")
	return cmd
}

func newCorrectionsCmd(env *Env) *cobra.Command {
	var (
		category  string
		sinceDays int
		limit     int
		asJSON    bool
	)
	cmd := &cobra.Command{
		Use:   "corrections",
		Short: "List stored corrections",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			f := feedback.Filter{Limit: limit}
			if category != "" {
				c, err := domain.ParseCategory(category)
				if err != nil {
					return err
				}
				f.Category = c
			}
			if sinceDays < 0 || limit < 0 {
				return domain.Validationf("--since-days and --limit must not be negative")
			}

			rt, err := env.open(cmd)
			if err != nil {
				return err
			}
			defer rt.Close()
			if sinceDays > 0 {
				f.Since = time.Now().UTC().AddDate(0, 0, -sinceDays)
			}

			list := rt.Store.Corrections(f)
			if asJSON {
				if list == nil {
					list = []domain.Correction{}
				}
				enc := json.NewEncoder(env.Out)
				enc.SetIndent("", "  ")
				return enc.Encode(list)
			}
			if len(list) == 0 {
				_, err := fmt.Fprintln(env.Out, "No corrections found.")
				return err
			}
			data := pterm.TableData{{"When", "Job", "Activity", "Original", "Corrected", "User", "Error"}}
			for _, c := range list {
				data = append(data, []string{
					c.Timestamp.Format("2006-01-02 15:04"),
					shortID(c.JobID),
					c.ActivityName,
					string(c.OriginalCategory),
					categoryColor(c.CorrectedCategory).Sprint(c.CorrectedCategory),
					c.User,
					oneLine(c.ErrorSnippet, 60),
				})
			}
			return renderTable(env.Out, data)
		},
	}
	cmd.Flags().StringVar(&category, "category", "", "Only corrections to this category")
	cmd.Flags().IntVar(&sinceDays, "since-days", 0, "Only corrections from the last N days")
	cmd.Flags().IntVar(&limit, "limit", 0, "Show at most N of the most recent corrections")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print JSON")
	return cmd
}

func newImportCorrectionsCmd(env *Env) *cobra.Command {
	var user string
	cmd := &cobra.Command{
		Use:   "import-corrections FILE",
		Short: "Import corrections from a reviewed CSV report or an older feedback.json",
		Long: `Reads a CSV produced by "analyze --format csv" in which reviewers filled in
the Corrected Category column. Rows whose corrected category differs from
the classified one are stored as corrections.

A FILE ending in .json is read as the older feedback.json array, where each
record carries the raw error object and optional notes.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := os.Open(args[0])
			if err != nil {
				return errors.Wrapf(err, "open %s", args[0])
			}
			defer f.Close()

			rt, err := env.open(cmd)
			if err != nil {
				return err
			}
			defer rt.Close()

			if user == "" {
				user = currentUser()
			}
			importFn := feedback.ImportCSV
			if strings.EqualFold(filepath.Ext(args[0]), ".json") {
				importFn = feedback.ImportLegacyJSON
			}
			res, err := importFn(cmd.Context(), rt.Store, f, user)
			if err != nil {
				return err
			}
			if res.Invalid > 0 {
				rt.Logger.Warn("rows with an unknown category were skipped", "count", res.Invalid)
			}
			_, err = fmt.Fprintf(env.Out, "Imported %d corrections from %d rows (%d unchanged, %d invalid)\n",
				res.Imported, res.Rows, res.Unchanged, res.Invalid)
			return err
		},
	}
	cmd.Flags().StringVar(&user, "user", "", "Attribute the corrections to this user (default: $USER)")
	return cmd
}

func newExportFinetuneCmd(env *Env) *cobra.Command {
	var output string
	cmd := &cobra.Command{
		Use:   "export-finetune",
		Short: "Export corrections as chat fine-tuning examples (JSONL)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := env.open(cmd)
			if err != nil {
				return err
			}
			defer rt.Close()

			var n int
			if err := writeOutput(env.Out, output, func(w io.Writer) error {
				var err error
				n, err = feedback.ExportFineTuning(w, rt.Store.Corrections(feedback.Filter{}))
				return err
			}); err != nil {
				return err
			}
			rt.Logger.Info("exported fine-tuning examples", "count", n, "path", output)
			return nil
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "", "Output file (default: stdout)")
	return cmd
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func oneLine(s string, limit int) string {
	s = strings.Join(strings.Fields(s), " ")
	r := []rune(s)
	if len(r) > limit {
		return string(r[:limit-3]) + "..."
	}
	return s
}
