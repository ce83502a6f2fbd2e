package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"jobinsights/internal/domain"
)

type classifiedRecord struct {
	domain.ClassificationResult
	ActivityName string `json:"activity_name,omitempty"`
}

func newClassifyCmd(env *Env) *cobra.Command {
	var (
		message   string
		code      string
		exception string
		activity  string
		details   string
		stdin     bool
		asJSON    bool
	)
	cmd := &cobra.Command{
		Use:   "classify",
		Short: "Classify a single error, or a JSON list of errors from stdin",
		Example: `  jobinsights classify --message "HeadObject operation: Not Found" --code 404 --activity reading_from_s3
  echo '[{"message":"Service Unavailable","code":503}]' | jobinsights classify --stdin --json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var recs []domain.ErrorRecord
			if stdin {
				var err error
				if recs, err = readRecords(env.In); err != nil {
					return err
				}
			} else {
				if strings.TrimSpace(message) == "" && strings.TrimSpace(exception) == "" {
					return domain.Validationf("--message or --exception is required")
				}
				rec := domain.ErrorRecord{Message: message, ExceptionType: exception, ActivityName: activity}
				var err error
				if rec.Code, err = parseCode(code); err != nil {
					return err
				}
				if details != "" {
					if err := json.Unmarshal([]byte(details), &rec.Details); err != nil {
						return domain.Validationf("--details must be a JSON object: %v", err)
					}
				}
				recs = []domain.ErrorRecord{rec}
			}

			rt, err := env.open(cmd)
			if err != nil {
				return err
			}
			defer rt.Close()

			results := rt.Classifier.ClassifyAll(cmd.Context(), recs, rt.Config.ClassifyWorkers)
			out := make([]classifiedRecord, len(results))
			for i, r := range results {
				out[i] = classifiedRecord{ClassificationResult: r, ActivityName: recs[i].ActivityName}
			}

			if asJSON {
				enc := json.NewEncoder(env.Out)
				enc.SetIndent("", "  ")
				if !stdin {
					return enc.Encode(out[0])
				}
				return enc.Encode(out)
			}
			if len(out) == 1 {
				return printResult(env.Out, out[0])
			}
			return printResultTable(env.Out, out)
		},
	}
	cmd.Flags().StringVarP(&message, "message", "m", "", "Error message")
	cmd.Flags().StringVar(&code, "code", "", "Numeric error code")
	cmd.Flags().StringVar(&exception, "exception", "", "Exception type")
	cmd.Flags().StringVar(&activity, "activity", "", "Activity that failed")
	cmd.Flags().StringVar(&details, "details", "", "Extra details as a JSON object")
	cmd.Flags().BoolVar(&stdin, "stdin", false, "Read a JSON error or list of errors from stdin")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print JSON")
	return cmd
}

// readRecords accepts one JSON error object or an array of them.
func readRecords(r io.Reader) ([]domain.ErrorRecord, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, errors.Wrap(err, "read stdin")
	}
	trimmed := strings.TrimSpace(string(data))
	if trimmed == "" {
		return nil, domain.Validationf("no input on stdin")
	}
	if strings.HasPrefix(trimmed, "[") {
		var recs []domain.ErrorRecord
		if err := json.Unmarshal([]byte(trimmed), &recs); err != nil {
			return nil, domain.Validationf("decode errors: %v", err)
		}
		return recs, nil
	}
	var rec domain.ErrorRecord
	if err := json.Unmarshal([]byte(trimmed), &rec); err != nil {
		return nil, domain.Validationf("decode error: %v", err)
	}
	return []domain.ErrorRecord{rec}, nil
}

func categoryColor(c domain.Category) pterm.Color {
	switch c {
	case domain.CategoryInputDataQuality:
		return pterm.FgYellow
	case domain.CategoryWorkflowEngine:
		return pterm.FgMagenta
	case domain.CategoryThirdPartySystem:
		return pterm.FgCyan
	}
	return pterm.FgGray
}

func printResult(w io.Writer, r classifiedRecord) error {
	fmt.Fprintf(w, "Category:      %s\n", categoryColor(r.Category).Sprint(r.Category))
	fmt.Fprintf(w, "Confidence:    %.2f\n", r.Confidence)
	fmt.Fprintf(w, "Classified by: %s\n", r.ClassifiedBy)
	if r.MatchedPattern != "" {
		fmt.Fprintf(w, "Pattern:       %s\n", r.MatchedPattern)
	}
	_, err := fmt.Fprintf(w, "Reasoning:     %s\n", r.Reasoning)
	return err
}

func printResultTable(w io.Writer, results []classifiedRecord) error {
	data := pterm.TableData{{"#", "Activity", "Category", "Confidence", "By", "Reasoning"}}
	for i, r := range results {
		data = append(data, []string{
			fmt.Sprint(i + 1),
			r.ActivityName,
			categoryColor(r.Category).Sprint(r.Category),
			fmt.Sprintf("%.2f", r.Confidence),
			string(r.ClassifiedBy),
			r.Reasoning,
		})
	}
	return renderTable(w, data)
}

func renderTable(w io.Writer, data pterm.TableData) error {
	s, err := pterm.DefaultTable.WithHasHeader().WithData(data).Srender()
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, s)
	return err
}
