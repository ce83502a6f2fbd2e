package domain

import "strings"

// Category is one member of the closed failure taxonomy.
type Category string

const (
	CategoryInputDataQuality Category = "INPUT_DATA_QUALITY"
	CategoryWorkflowEngine   Category = "WORKFLOW_ENGINE"
	CategoryThirdPartySystem Category = "THIRD_PARTY_SYSTEM"
	CategoryUnknown          Category = "UNKNOWN"
)

var categoryDescriptions = map[Category]string{
	CategoryInputDataQuality: "Problems with input data: validation failures, missing required fields, wrong data format, schema mismatches, empty or null values where data is expected, type conversion errors, missing input files.",
	CategoryWorkflowEngine:   "Internal pipeline/orchestration issues: activity not found or misconfigured, pipeline execution errors, DAG/dependency issues, plugin or builtin failures, context/state management errors.",
	CategoryThirdPartySystem: "External service failures: API errors from external providers, HTTP errors, timeouts, connection issues, authentication/authorization failures, rate limiting, quota exceeded, SOAP/GraphQL/REST service errors.",
	CategoryUnknown:          "Could not classify the failure.",
}

// Categories returns the concrete categories in their canonical order.
// UNKNOWN is not included.
func Categories() []Category {
	return []Category{
		CategoryInputDataQuality,
		CategoryWorkflowEngine,
		CategoryThirdPartySystem,
	}
}

// ParseCategory normalizes s and returns the matching taxonomy member,
// UNKNOWN included. Anything else is a validation error.
func ParseCategory(s string) (Category, error) {
	c := Category(strings.ToUpper(strings.TrimSpace(s)))
	if c.Valid() {
		return c, nil
	}
	return "", Validationf("unknown category %q", s)
}

// Valid reports whether c is a taxonomy member, UNKNOWN included.
func (c Category) Valid() bool {
	_, ok := categoryDescriptions[c]
	return ok
}

// Concrete reports whether c is one of the three classifiable categories.
func (c Category) Concrete() bool {
	return c.Valid() && c != CategoryUnknown
}

func (c Category) Description() string {
	return categoryDescriptions[c]
}

func (c Category) String() string {
	return string(c)
}

// Rank orders categories canonically, UNKNOWN last.
func (c Category) Rank() int {
	for i, cat := range Categories() {
		if cat == c {
			return i
		}
	}
	return len(Categories())
}
