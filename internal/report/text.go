package report

import (
	"fmt"
	"sort"
	"strings"

	"jobinsights/internal/analysis"
	"jobinsights/internal/domain"
)

const (
	textPipelineLimit     = 10
	markdownPipelineLimit = 20
	markdownJobsPerCat    = 10
	markdownErrorsPerJob  = 3
)

func renderText(s analysis.Summary) string {
	var b strings.Builder
	rule := strings.Repeat("=", 80)
	sep := strings.Repeat("-", 80)

	b.WriteString(rule + "\n")
	b.WriteString("FAILURE ANALYSIS SUMMARY\n")
	b.WriteString(rule + "\n")
	fmt.Fprintf(&b, "\nAnalysis Period: %s to %s\n", s.PeriodStart.Format("2006-01-02 15:04:05"), s.PeriodEnd.Format("2006-01-02 15:04:05"))
	fmt.Fprintf(&b, "Analyzed At: %s\n", s.AnalyzedAt.Format("2006-01-02 15:04:05"))
	fmt.Fprintf(&b, "\nTotal Failed Jobs: %d\n", s.TotalJobs)
	fmt.Fprintf(&b, "Total Errors: %d\n", s.TotalErrors)

	section := func(title string) {
		fmt.Fprintf(&b, "\n%s\n%s\n%s\n", sep, title, sep)
	}

	section("ERRORS BY CATEGORY")
	if len(s.ByCategory) == 0 {
		b.WriteString("  No errors found\n")
	}
	for _, row := range sortedCounts(s.ByCategory) {
		fmt.Fprintf(&b, "  %-25s: %4d (%5.1f%%)\n", row.key, row.count, percent(row.count, s.TotalErrors))
	}

	section("FAILED JOBS BY TENANT")
	if len(s.ByTenant) == 0 {
		b.WriteString("  No tenants found\n")
	}
	for _, row := range sortedCounts(s.ByTenant) {
		fmt.Fprintf(&b, "  %s: %d jobs\n", row.key, row.count)
	}

	section("FAILED JOBS BY PIPELINE")
	pipelines := sortedCounts(s.ByPipeline)
	if len(pipelines) == 0 {
		b.WriteString("  No pipelines found\n")
	}
	for i, row := range pipelines {
		if i == textPipelineLimit {
			fmt.Fprintf(&b, "  ... and %d more pipelines\n", len(pipelines)-textPipelineLimit)
			break
		}
		fmt.Fprintf(&b, "  %s: %d jobs\n", row.key, row.count)
	}

	section("ALL ERRORS - DETAILED BREAKDOWN")
	if len(s.Results) == 0 {
		b.WriteString("  No errors found\n")
	} else {
		fmt.Fprintf(&b, "\n%-10s %-25s %-20s %-20s %-6s %-40s\n", "Job ID", "Pipeline", "Activity", "Category", "By", "Error")
		b.WriteString(strings.Repeat("-", 124) + "\n")
		total := 0
		for _, r := range s.Results {
			for _, c := range r.Classifications {
				total++
				fmt.Fprintf(&b, "%-10s %-25s %-20s %-20s %-6s %s\n",
					clip(r.JobID, 8),
					clip(r.Pipeline(), 24),
					clip(c.ActivityName, 19),
					clip(string(c.Category), 19),
					clip(string(c.ClassifiedBy), 5),
					clip(c.Error.Message, 39),
				)
			}
		}
		fmt.Fprintf(&b, "\nTotal: %d errors across %d jobs\n", total, len(s.Results))
	}
	b.WriteString("\n" + rule + "\n")
	return b.String()
}

func renderMarkdown(s analysis.Summary) string {
	var b strings.Builder
	b.WriteString("# Failure Analysis Report\n\n")
	fmt.Fprintf(&b, "**Analysis Period:** %s to %s  \n", s.PeriodStart.Format("2006-01-02 15:04:05"), s.PeriodEnd.Format("2006-01-02 15:04:05"))
	fmt.Fprintf(&b, "**Analyzed At:** %s  \n\n", s.AnalyzedAt.Format("2006-01-02 15:04:05"))
	b.WriteString("## Summary\n\n")
	fmt.Fprintf(&b, "- **Total Failed Jobs:** %d\n", s.TotalJobs)
	fmt.Fprintf(&b, "- **Total Errors:** %d\n\n", s.TotalErrors)

	b.WriteString("## Errors by Category\n\n")
	if len(s.ByCategory) == 0 {
		b.WriteString("*No errors found*\n\n")
	} else {
		b.WriteString("| Category | Count | Percentage |\n|----------|-------|------------|\n")
		for _, row := range sortedCounts(s.ByCategory) {
			fmt.Fprintf(&b, "| %s | %d | %.1f%% |\n", row.key, row.count, percent(row.count, s.TotalErrors))
		}
		b.WriteString("\n")
	}

	b.WriteString("## Failed Jobs by Tenant\n\n")
	if len(s.ByTenant) == 0 {
		b.WriteString("*No tenant data*\n\n")
	} else {
		b.WriteString("| Tenant ID | Failed Jobs |\n|-----------|-------------|\n")
		for _, row := range sortedCounts(s.ByTenant) {
			fmt.Fprintf(&b, "| `%s` | %d |\n", row.key, row.count)
		}
		b.WriteString("\n")
	}

	b.WriteString("## Failed Jobs by Pipeline\n\n")
	pipelines := sortedCounts(s.ByPipeline)
	if len(pipelines) == 0 {
		b.WriteString("*No pipeline data*\n\n")
	} else {
		b.WriteString("| Pipeline | Failed Jobs |\n|----------|-------------|\n")
		for i, row := range pipelines {
			if i == markdownPipelineLimit {
				fmt.Fprintf(&b, "| *...and %d more pipelines* | |\n", len(pipelines)-markdownPipelineLimit)
				break
			}
			fmt.Fprintf(&b, "| %s | %d |\n", mdCell(row.key), row.count)
		}
		b.WriteString("\n")
	}

	b.WriteString("## All Errors - Detailed Breakdown\n\n")
	b.WriteString("| Job ID | Pipeline | Activity | Category | Classified By | Error Message | Finished At |\n")
	b.WriteString("|--------|----------|----------|----------|---------------|---------------|-------------|\n")
	if len(s.Results) == 0 {
		b.WriteString("| - | - | - | - | - | - | - |\n")
	}
	for _, r := range s.Results {
		for _, c := range r.Classifications {
			fmt.Fprintf(&b, "| %s | %s | %s | %s | %s | %s | %s |\n",
				clip(r.JobID, 8),
				mdCell(clip(r.Pipeline(), 30)),
				mdCell(clip(c.ActivityName, 25)),
				c.Category,
				c.ClassifiedBy,
				mdCell(clip(c.Error.Message, 50)),
				formatTime(r.FinishedAt),
			)
		}
	}
	b.WriteString("\n")

	b.WriteString("## Detailed Error Analysis by Category\n\n")
	if len(s.Results) == 0 {
		b.WriteString("*No detailed results available*\n\n")
	}
	byPrimary := make(map[domain.Category][]analysis.Result)
	for _, r := range s.Results {
		cat := r.PrimaryCategory
		if cat == "" {
			cat = domain.CategoryUnknown
		}
		byPrimary[cat] = append(byPrimary[cat], r)
	}
	cats := make([]domain.Category, 0, len(byPrimary))
	for c := range byPrimary {
		cats = append(cats, c)
	}
	sort.Slice(cats, func(i, j int) bool { return cats[i] < cats[j] })
	for _, cat := range cats {
		results := byPrimary[cat]
		fmt.Fprintf(&b, "### %s (%d jobs)\n\n", cat, len(results))
		for i, r := range results {
			if i == markdownJobsPerCat {
				fmt.Fprintf(&b, "*...and %d more jobs in this category*\n\n", len(results)-markdownJobsPerCat)
				break
			}
			writeMarkdownJob(&b, r)
		}
	}

	b.WriteString("---\n\n*Generated by jobinsights*\n")
	return b.String()
}

func writeMarkdownJob(b *strings.Builder, r analysis.Result) {
	fmt.Fprintf(b, "#### Job: `%s`\n\n", r.JobID)
	fmt.Fprintf(b, "- **Pipeline:** %s\n", r.Pipeline())
	fmt.Fprintf(b, "- **Finished At:** %s\n", formatTime(r.FinishedAt))
	fmt.Fprintf(b, "- **Total Errors:** %d\n\n", r.TotalErrors)
	if len(r.Classifications) == 0 {
		return
	}
	b.WriteString("**Errors:**\n\n")
	for i, c := range r.Classifications {
		if i == markdownErrorsPerJob {
			fmt.Fprintf(b, "   *...and %d more errors*\n\n", len(r.Classifications)-markdownErrorsPerJob)
			break
		}
		fmt.Fprintf(b, "%d. **%s**\n", i+1, c.ActivityName)
		fmt.Fprintf(b, "   - Category: `%s`\n", c.Category)
		fmt.Fprintf(b, "   - Confidence: %.2f\n", c.Confidence)
		fmt.Fprintf(b, "   - Reasoning: %s\n", c.Reasoning)
		if c.Error.ExceptionType != "" {
			fmt.Fprintf(b, "   - Exception: `%s`\n", c.Error.ExceptionType)
		}
		fmt.Fprintf(b, "   - Message: %s\n\n", c.Error.Message)
	}
}

func mdCell(s string) string {
	return strings.ReplaceAll(s, "|", `\|`)
}
