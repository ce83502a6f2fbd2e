package miner

import (
	"bytes"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"unicode"

	"gopkg.in/yaml.v3"

	"jobinsights/internal/domain"
	"jobinsights/internal/rules"
)

const (
	DefaultMinCount = 3
	maxSamples      = 3
	sampleMaxChars  = 100
	minWordRunes    = 4
)

var stopWords = map[string]struct{}{
	"with": {}, "from": {}, "that": {}, "this": {}, "when": {}, "into": {},
	"have": {}, "were": {}, "been": {}, "will": {}, "could": {}, "should": {},
	"would": {}, "there": {}, "their": {}, "which": {}, "while": {}, "after": {},
	"before": {}, "calling": {}, "occurred": {}, "none": {}, "null": {},
	"true": {}, "false": {}, "value": {}, "than": {}, "then": {}, "only": {},
}

var httpCodeRe = regexp.MustCompile(`\b[45]\d{2}\b`)

type groupKey struct {
	kind     domain.SuggestionKind
	pattern  string
	category domain.Category
}

type group struct {
	count   int
	samples []string
}

// Suggest proposes rules from corrections. A group is a normalized token of
// the error snippet, an exception type or an activity name, paired with the
// corrected category. Groups seen at least minCount times are returned.
func Suggest(corrections []domain.Correction, minCount int) []domain.SuggestedRule {
	if minCount <= 0 {
		minCount = DefaultMinCount
	}

	groups := make(map[groupKey]*group)
	add := func(k groupKey, sample string) {
		g, ok := groups[k]
		if !ok {
			g = &group{}
			groups[k] = g
		}
		g.count++
		if len(g.samples) < maxSamples && sample != "" {
			g.samples = append(g.samples, sample)
		}
	}

	for _, c := range corrections {
		sample := shorten(c.ErrorSnippet)
		for _, tok := range messageTokens(c.ErrorSnippet) {
			add(groupKey{domain.SuggestionMessage, tok, c.CorrectedCategory}, sample)
		}
		if exc := strings.ToLower(strings.TrimSpace(c.ExceptionType)); exc != "" {
			add(groupKey{domain.SuggestionException, exc, c.CorrectedCategory}, sample)
		}
		if act := strings.TrimSpace(c.ActivityName); act != "" {
			add(groupKey{domain.SuggestionActivity, act, c.CorrectedCategory}, sample)
		}
	}

	var out []domain.SuggestedRule
	for k, g := range groups {
		if g.count < minCount {
			continue
		}
		out = append(out, domain.SuggestedRule{
			Kind:            k.kind,
			Pattern:         k.pattern,
			Category:        k.category,
			OccurrenceCount: g.count,
			SampleErrors:    g.samples,
		})
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.OccurrenceCount != b.OccurrenceCount {
			return a.OccurrenceCount > b.OccurrenceCount
		}
		if a.Category != b.Category {
			return a.Category < b.Category
		}
		if a.Kind != b.Kind {
			return a.Kind < b.Kind
		}
		return a.Pattern < b.Pattern
	})
	return out
}

// messageTokens returns the distinct normalized tokens of s.
func messageTokens(s string) []string {
	lower := strings.ToLower(s)
	seen := make(map[string]struct{})
	var toks []string
	keep := func(t string) {
		if _, ok := seen[t]; ok {
			return
		}
		seen[t] = struct{}{}
		toks = append(toks, t)
	}

	words := strings.FieldsFunc(lower, func(r rune) bool {
		return !(unicode.IsLetter(r) || unicode.IsDigit(r) || r == '_')
	})
	for _, w := range words {
		if len([]rune(w)) < minWordRunes {
			continue
		}
		if _, stop := stopWords[w]; stop && !isExceptionToken(w) {
			continue
		}
		if isNumeric(w) {
			continue
		}
		keep(w)
	}
	for _, code := range httpCodeRe.FindAllString(lower, -1) {
		keep(code)
	}
	return toks
}

func isExceptionToken(w string) bool {
	return strings.HasSuffix(w, "error") || strings.HasSuffix(w, "exception")
}

func isNumeric(w string) bool {
	for _, r := range w {
		if !unicode.IsDigit(r) {
			return false
		}
	}
	return true
}

func shorten(s string) string {
	s = strings.Join(strings.Fields(s), " ")
	r := []rune(s)
	if len(r) <= sampleMaxChars {
		return s
	}
	return string(r[:sampleMaxChars])
}

// RuleTableSnippet renders suggestions as a rules: fragment for the rule
// table. Activity suggestions cannot be expressed as message patterns and
// are written as comments above the fragment.
func RuleTableSnippet(suggestions []domain.SuggestedRule) (string, error) {
	var b bytes.Buffer
	var entries []rules.TableRule
	for _, s := range suggestions {
		switch s.Kind {
		case domain.SuggestionActivity:
			fmt.Fprintf(&b, "# activity %s -> %s (%d corrections)\n", s.Pattern, s.Category, s.OccurrenceCount)
		case domain.SuggestionException:
			entries = append(entries, rules.TableRule{
				Pattern:   regexp.QuoteMeta(s.Pattern),
				Category:  string(s.Category),
				Rationale: fmt.Sprintf("Exception pattern from %d corrections", s.OccurrenceCount),
			})
		default:
			entries = append(entries, rules.TableRule{
				Pattern:   regexp.QuoteMeta(s.Pattern),
				Category:  string(s.Category),
				Rationale: fmt.Sprintf("Pattern from %d user corrections", s.OccurrenceCount),
			})
		}
	}
	if len(entries) == 0 {
		return b.String(), nil
	}

	enc := yaml.NewEncoder(&b)
	enc.SetIndent(2)
	if err := enc.Encode(struct {
		Rules []rules.TableRule `yaml:"rules"`
	}{entries}); err != nil {
		return "", err
	}
	if err := enc.Close(); err != nil {
		return "", err
	}
	return b.String(), nil
}
