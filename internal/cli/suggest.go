package cli

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"jobinsights/internal/domain"
	"jobinsights/internal/feedback"
	"jobinsights/internal/miner"
)

func newSuggestRulesCmd(env *Env) *cobra.Command {
	var (
		minCount int
		asJSON   bool
		asYAML   bool
		output   string
		post     bool
	)
	cmd := &cobra.Command{
		Use:   "suggest-rules",
		Short: "Mine stored corrections for recurring patterns worth a rule",
		Example: `  jobinsights suggest-rules
  jobinsights suggest-rules --min-count 5 --yaml --output new_rules.yaml`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if asJSON && asYAML {
				return domain.Validationf("--json and --yaml are mutually exclusive")
			}
			rt, err := env.open(cmd)
			if err != nil {
				return err
			}
			defer rt.Close()
			if post && rt.Notifier == nil {
				return domain.Configurationf("--post needs slack_bot_token and slack_channel_id")
			}
			if minCount <= 0 {
				minCount = rt.Config.MinerMinCount
			}

			corrections := rt.Store.Corrections(feedback.Filter{})
			suggestions := miner.Suggest(corrections, minCount)
			rt.Logger.Info("mined rule suggestions", "corrections", len(corrections), "suggestions", len(suggestions), "min_count", minCount)

			snippet, err := miner.RuleTableSnippet(suggestions)
			if err != nil {
				return err
			}
			if err := writeOutput(env.Out, output, func(w io.Writer) error {
				switch {
				case asJSON:
					if suggestions == nil {
						suggestions = []domain.SuggestedRule{}
					}
					enc := json.NewEncoder(w)
					enc.SetIndent("", "  ")
					return enc.Encode(suggestions)
				case asYAML:
					_, err := io.WriteString(w, snippet)
					return err
				}
				return printSuggestions(w, suggestions, len(corrections), minCount)
			}); err != nil {
				return err
			}
			if post {
				return rt.Notifier.PostSuggestions(cmd.Context(), suggestions, snippet)
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&minCount, "min-count", 0, "Minimum corrections per pattern (default: miner_min_count from config)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print suggestions as JSON")
	cmd.Flags().BoolVar(&asYAML, "yaml", false, "Print a rule table fragment ready to paste into the rules file")
	cmd.Flags().StringVarP(&output, "output", "o", "", "Output file (default: stdout)")
	cmd.Flags().BoolVar(&post, "post", false, "Also post the suggestions to Slack")
	return cmd
}

// printSuggestions groups suggestions by category in taxonomy order.
func printSuggestions(w io.Writer, suggestions []domain.SuggestedRule, corrections, minCount int) error {
	fmt.Fprintf(w, "Analyzed %d corrections (min count %d)\n", corrections, minCount)
	if len(suggestions) == 0 {
		_, err := fmt.Fprintln(w, "\nNo patterns found. Collect more corrections or lower --min-count.")
		return err
	}
	byCategory := make(map[domain.Category][]domain.SuggestedRule)
	for _, s := range suggestions {
		byCategory[s.Category] = append(byCategory[s.Category], s)
	}
	for _, c := range domain.Categories() {
		list := byCategory[c]
		if len(list) == 0 {
			continue
		}
		fmt.Fprintf(w, "\n%s\n", categoryColor(c).Sprint(c))
		for _, s := range list {
			fmt.Fprintf(w, "  [%s] %q  (%d corrections)\n", s.Kind, s.Pattern, s.OccurrenceCount)
			for _, sample := range s.SampleErrors {
				fmt.Fprintf(w, "      e.g. %s\n", sample)
			}
		}
	}
	_, err := fmt.Fprintln(w, "\nRun with --yaml to get a rule table fragment.")
	return err
}
