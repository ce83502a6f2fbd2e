package rules

import (
	_ "embed"
	"os"
	"regexp"
	"strings"

	"github.com/cockroachdb/errors"
	"gopkg.in/yaml.v3"

	"jobinsights/internal/domain"
)

//go:embed default_rules.yaml
var defaultTable []byte

// Table is the on-disk form of the rule table.
type Table struct {
	MatchDetails bool        `yaml:"match_details"`
	Rules        []TableRule `yaml:"rules"`
	CodeBands    []TableBand `yaml:"code_bands"`
}

type TableRule struct {
	Pattern   string `yaml:"pattern"`
	Category  string `yaml:"category"`
	Rationale string `yaml:"rationale"`
}

type TableBand struct {
	Min       int    `yaml:"min"`
	Max       int    `yaml:"max"`
	Category  string `yaml:"category"`
	Rationale string `yaml:"rationale"`
}

// Rule is a compiled pattern rule.
type Rule struct {
	Pattern   *regexp.Regexp
	Source    string
	Category  domain.Category
	Rationale string
}

// CodeBand maps an inclusive range of error codes to a category.
type CodeBand struct {
	Min       int
	Max       int
	Category  domain.Category
	Rationale string
}

func (b CodeBand) contains(code int) bool {
	return code >= b.Min && code <= b.Max
}

// Match describes which rule or band fired.
type Match struct {
	Category  domain.Category
	Rationale string
	Pattern   string
}

// Engine is immutable after Compile and safe for concurrent use.
type Engine struct {
	rules        []Rule
	bands        []CodeBand
	matchDetails bool
}

// LoadTable reads a rule table from path. An empty path returns the
// embedded default table.
func LoadTable(path string) (*Table, error) {
	data := defaultTable
	if strings.TrimSpace(path) != "" {
		var err error
		data, err = os.ReadFile(path)
		if err != nil {
			return nil, domain.MarkConfiguration(err, "read rule table")
		}
	}
	return ParseTable(data)
}

func ParseTable(data []byte) (*Table, error) {
	var t Table
	if err := yaml.Unmarshal(data, &t); err != nil {
		return nil, domain.MarkConfiguration(err, "parse rule table yaml")
	}
	return &t, nil
}

// Load is LoadTable followed by Compile.
func Load(path string) (*Engine, error) {
	t, err := LoadTable(path)
	if err != nil {
		return nil, err
	}
	return Compile(t)
}

// Compile validates every entry and builds an Engine. Any malformed
// pattern, unknown category or inverted band fails the whole table.
func Compile(t *Table) (*Engine, error) {
	if t == nil {
		return &Engine{}, nil
	}
	e := &Engine{matchDetails: t.MatchDetails}
	for i, r := range t.Rules {
		if strings.TrimSpace(r.Pattern) == "" {
			return nil, domain.Configurationf("rule %d: empty pattern", i)
		}
		cat, err := ruleCategory(r.Category)
		if err != nil {
			return nil, errors.Wrapf(err, "rule %d (%s)", i, r.Pattern)
		}
		re, err := regexp.Compile("(?i)" + r.Pattern)
		if err != nil {
			return nil, errors.WithHint(
				domain.MarkConfiguration(err, "rule "+r.Pattern),
				"patterns use RE2 syntax: lookarounds and backreferences are not supported",
			)
		}
		e.rules = append(e.rules, Rule{
			Pattern:   re,
			Source:    r.Pattern,
			Category:  cat,
			Rationale: r.Rationale,
		})
	}
	for i, b := range t.CodeBands {
		if b.Min > b.Max {
			return nil, domain.Configurationf("code band %d: min %d is greater than max %d", i, b.Min, b.Max)
		}
		cat, err := ruleCategory(b.Category)
		if err != nil {
			return nil, errors.Wrapf(err, "code band %d", i)
		}
		e.bands = append(e.bands, CodeBand{Min: b.Min, Max: b.Max, Category: cat, Rationale: b.Rationale})
	}
	return e, nil
}

func ruleCategory(s string) (domain.Category, error) {
	cat, err := domain.ParseCategory(s)
	if err != nil || !cat.Concrete() {
		return "", domain.Configurationf("invalid category %q: must be one of %v", s, domain.Categories())
	}
	return cat, nil
}

// Match returns the first rule whose pattern matches rec, then the first
// code band containing rec.Code. It never returns UNKNOWN.
func (e *Engine) Match(rec domain.ErrorRecord) (Match, bool) {
	if e == nil {
		return Match{}, false
	}
	text := rec.SearchText(e.matchDetails)
	for _, r := range e.rules {
		if r.Pattern.MatchString(text) {
			return Match{Category: r.Category, Rationale: r.Rationale, Pattern: r.Source}, true
		}
	}
	if rec.Code == nil {
		return Match{}, false
	}
	code := *rec.Code
	for _, b := range e.bands {
		if b.contains(code) {
			rationale := b.Rationale
			if strings.Contains(rationale, "%d") {
				rationale = strings.ReplaceAll(rationale, "%d", itoa(code))
			}
			return Match{Category: b.Category, Rationale: rationale, Pattern: bandPattern(b)}, true
		}
	}
	return Match{}, false
}

func (e *Engine) Len() int {
	if e == nil {
		return 0
	}
	return len(e.rules) + len(e.bands)
}

// Rules returns a copy of the compiled pattern rules in evaluation order.
func (e *Engine) Rules() []Rule {
	if e == nil {
		return nil
	}
	out := make([]Rule, len(e.rules))
	copy(out, e.rules)
	return out
}

func (e *Engine) CodeBands() []CodeBand {
	if e == nil {
		return nil
	}
	out := make([]CodeBand, len(e.bands))
	copy(out, e.bands)
	return out
}
