package cli

import (
	"fmt"
	"sort"
	"time"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"jobinsights/internal/config"
	"jobinsights/internal/domain"
	"jobinsights/internal/feedback"
	"jobinsights/internal/storage/sqlite"
)

func newStatsCmd(env *Env) *cobra.Command {
	var days int
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show classification accuracy and correction statistics",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if days < 1 {
				return domain.Validationf("--days must be at least 1")
			}
			rt, err := env.open(cmd)
			if err != nil {
				return err
			}
			defer rt.Close()
			if rt.DB == nil {
				return domain.Configurationf("stats need classification history (db_path)")
			}

			ctx := cmd.Context()
			since := time.Now().UTC().AddDate(0, 0, -days)
			stats, err := sqlite.GetClassificationStats(ctx, rt.DB, since)
			if err != nil {
				return err
			}

			var pairs []sqlite.CategoryCorrectionStat
			if rt.Config.FeedbackBackend == config.BackendSQLite {
				if pairs, err = sqlite.GetCorrectionsByCategory(ctx, rt.DB, since); err != nil {
					return err
				}
			} else {
				recent := rt.Store.Corrections(feedback.Filter{Since: since})
				stats.TotalCorrections = len(recent)
				pairs = correctionPairs(recent)
			}

			trend, err := sqlite.GetWeeklyClassificationTrend(ctx, rt.DB, since)
			if err != nil {
				return err
			}

			w := env.Out
			fmt.Fprintf(w, "Classification stats, last %d days\n\n", days)
			fmt.Fprintf(w, "Total classifications: %d\n", stats.TotalClassifications)
			fmt.Fprintf(w, "Total corrections:     %d\n", stats.TotalCorrections)
			if stats.TotalClassifications > 0 {
				accuracy := 1 - float64(stats.TotalCorrections)/float64(stats.TotalClassifications)
				if accuracy < 0 {
					accuracy = 0
				}
				fmt.Fprintf(w, "Estimated accuracy:    %.1f%%\n", accuracy*100)
				fmt.Fprintf(w, "Average confidence:    %.2f\n", stats.AvgConfidence)
			}

			fmt.Fprintln(w)
			if err := renderTable(w, pterm.TableData{
				{"Classified by", "Count"},
				{string(domain.ClassifiedByRules), fmt.Sprint(stats.ByRules)},
				{string(domain.ClassifiedByLLM), fmt.Sprint(stats.ByLLM)},
				{string(domain.ClassifiedByNone), fmt.Sprint(stats.Unclassified)},
			}); err != nil {
				return err
			}
			if err := renderTable(w, pterm.TableData{
				{"Confidence", "Count"},
				{"< 0.50", fmt.Sprint(stats.BucketBelow50)},
				{"0.50 - 0.70", fmt.Sprint(stats.Bucket50to70)},
				{"0.70 - 0.90", fmt.Sprint(stats.Bucket70to90)},
				{">= 0.90", fmt.Sprint(stats.Bucket90Plus)},
			}); err != nil {
				return err
			}

			if len(pairs) > 0 {
				fmt.Fprintln(w, "\nMost common corrections")
				data := pterm.TableData{{"From", "To", "Count"}}
				for _, p := range pairs {
					data = append(data, []string{string(p.OriginalCategory), string(p.CorrectedCategory), fmt.Sprint(p.CorrectionCount)})
				}
				if err := renderTable(w, data); err != nil {
					return err
				}
			}

			if bands := rt.Rules.CodeBands(); len(bands) > 0 {
				fmt.Fprintf(w, "\nRule table: %d pattern rules, %d code bands\n", len(rt.Rules.Rules()), len(bands))
				data := pterm.TableData{{"Codes", "Category", "Rationale"}}
				for _, b := range bands {
					codes := fmt.Sprintf("%d-%d", b.Min, b.Max)
					if b.Min == b.Max {
						codes = fmt.Sprint(b.Min)
					}
					data = append(data, []string{codes, string(b.Category), b.Rationale})
				}
				if err := renderTable(w, data); err != nil {
					return err
				}
			}

			if len(trend) > 0 {
				fmt.Fprintln(w, "\nWeekly trend")
				data := pterm.TableData{{"Week", "Classifications", "Corrections", "Avg confidence"}}
				for _, t := range trend {
					data = append(data, []string{t.WeekStart, fmt.Sprint(t.Classifications), fmt.Sprint(t.Corrections), fmt.Sprintf("%.2f", t.AvgConfidence)})
				}
				return renderTable(w, data)
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&days, "days", 30, "Days of history to include")
	return cmd
}

// correctionPairs counts original -> corrected transitions, most common
// first, capped at ten like the SQL variant.
func correctionPairs(corrections []domain.Correction) []sqlite.CategoryCorrectionStat {
	type pair struct{ from, to domain.Category }
	counts := make(map[pair]int)
	for _, c := range corrections {
		counts[pair{c.OriginalCategory, c.CorrectedCategory}]++
	}
	out := make([]sqlite.CategoryCorrectionStat, 0, len(counts))
	for p, n := range counts {
		out = append(out, sqlite.CategoryCorrectionStat{OriginalCategory: p.from, CorrectedCategory: p.to, CorrectionCount: n})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CorrectionCount != out[j].CorrectionCount {
			return out[i].CorrectionCount > out[j].CorrectionCount
		}
		if out[i].OriginalCategory != out[j].OriginalCategory {
			return out[i].OriginalCategory < out[j].OriginalCategory
		}
		return out[i].CorrectedCategory < out[j].CorrectedCategory
	})
	if len(out) > 10 {
		out = out[:10]
	}
	return out
}
