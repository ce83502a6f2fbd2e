package slackbot

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/slack-go/slack"

	"jobinsights/internal/analysis"
	"jobinsights/internal/domain"
)

const (
	topPipelines    = 5
	topSuggestions  = 10
	maxSectionChars = 2900
)

// Notifier posts analysis results to one channel.
type Notifier struct {
	api     *slack.Client
	channel string
	logger  *slog.Logger
}

func NewNotifier(api *slack.Client, channel string, logger *slog.Logger) *Notifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &Notifier{api: api, channel: channel, logger: logger}
}

// NewNotifierFromToken builds a client for token. Options are passed to
// slack.New.
func NewNotifierFromToken(token, channel string, logger *slog.Logger, opts ...slack.Option) *Notifier {
	return NewNotifier(slack.New(token, opts...), channel, logger)
}

func (n *Notifier) PostSummary(ctx context.Context, s analysis.Summary) error {
	text := fmt.Sprintf("Failure analysis: %d failed jobs, %d errors", s.TotalJobs, s.TotalErrors)
	return n.post(ctx, text, SummaryBlocks(s))
}

// PostSuggestions posts mined rule candidates. Nothing is posted when there
// are none.
func (n *Notifier) PostSuggestions(ctx context.Context, suggestions []domain.SuggestedRule, snippet string) error {
	if len(suggestions) == 0 {
		n.logger.Info("no rule suggestions to post")
		return nil
	}
	text := fmt.Sprintf("%d rule suggestions from user corrections", len(suggestions))
	return n.post(ctx, text, SuggestionBlocks(suggestions, snippet))
}

func (n *Notifier) post(ctx context.Context, text string, blocks []slack.Block) error {
	_, ts, err := n.api.PostMessageContext(ctx, n.channel,
		slack.MsgOptionText(text, false),
		slack.MsgOptionBlocks(blocks...),
	)
	if err != nil {
		return errors.Wrapf(err, "posting to slack channel %s", n.channel)
	}
	n.logger.Info("posted to slack", "channel", n.channel, "ts", ts)
	return nil
}

func SummaryBlocks(s analysis.Summary) []slack.Block {
	blocks := []slack.Block{
		slack.NewHeaderBlock(slack.NewTextBlockObject(slack.PlainTextType,
			fmt.Sprintf("Failure analysis %s - %s", s.PeriodStart.Format("Jan 2 15:04"), s.PeriodEnd.Format("Jan 2 15:04")),
			false, false)),
		markdownSection(fmt.Sprintf("*Failed jobs:* %d\n*Errors:* %d", s.TotalJobs, s.TotalErrors)),
	}
	if s.TotalErrors == 0 {
		return blocks
	}

	var cats strings.Builder
	for _, c := range append(domain.Categories(), domain.CategoryUnknown) {
		n := s.ByCategory[c]
		if n == 0 {
			continue
		}
		fmt.Fprintf(&cats, "`%s` %d (%.0f%%)\n", c, n, float64(n)/float64(s.TotalErrors)*100)
	}
	blocks = append(blocks, slack.NewDividerBlock(), markdownSection("*By category*\n"+cats.String()))

	type row struct {
		name string
		n    int
	}
	var rows []row
	for name, n := range s.ByPipeline {
		rows = append(rows, row{name, n})
	}
	sort.Slice(rows, func(i, j int) bool {
		if rows[i].n != rows[j].n {
			return rows[i].n > rows[j].n
		}
		return rows[i].name < rows[j].name
	})
	var pipes strings.Builder
	for i, r := range rows {
		if i == topPipelines {
			fmt.Fprintf(&pipes, "_...and %d more_\n", len(rows)-topPipelines)
			break
		}
		fmt.Fprintf(&pipes, "%s: %d\n", r.name, r.n)
	}
	if pipes.Len() > 0 {
		blocks = append(blocks, markdownSection("*Top pipelines*\n"+pipes.String()))
	}
	return blocks
}

func SuggestionBlocks(suggestions []domain.SuggestedRule, snippet string) []slack.Block {
	blocks := []slack.Block{
		slack.NewHeaderBlock(slack.NewTextBlockObject(slack.PlainTextType,
			fmt.Sprintf("Rule suggestions (%d)", len(suggestions)), false, false)),
	}
	var b strings.Builder
	for i, s := range suggestions {
		if i == topSuggestions {
			fmt.Fprintf(&b, "_...and %d more_\n", len(suggestions)-topSuggestions)
			break
		}
		fmt.Fprintf(&b, "%d. `%s` (%s) -> *%s*, %d corrections\n", i+1, s.Pattern, s.Kind, s.Category, s.OccurrenceCount)
	}
	blocks = append(blocks, markdownSection(b.String()))
	if strings.TrimSpace(snippet) != "" {
		blocks = append(blocks, slack.NewDividerBlock(), markdownSection("```\n"+snippet+"```"))
	}
	return blocks
}

func markdownSection(text string) *slack.SectionBlock {
	if r := []rune(text); len(r) > maxSectionChars {
		text = string(r[:maxSectionChars]) + "..."
	}
	return slack.NewSectionBlock(slack.NewTextBlockObject(slack.MarkdownType, text, false, false), nil, nil)
}
