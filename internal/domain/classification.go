package domain

import (
	"encoding/json"
	"strings"
	"time"
)

const (
	// RuleConfidence is assigned to every rule match.
	RuleConfidence = 0.9
	// DefaultModelConfidence is used when the model omits a confidence.
	DefaultModelConfidence = 0.5
	// LowConfidence is assigned when a model answer had to be demoted.
	LowConfidence = 0.1
)

// ErrorRecord is one failure as stored by the workflow engine.
type ErrorRecord struct {
	Code          *int           `json:"code,omitempty"`
	Message       string         `json:"message"`
	ExceptionType string         `json:"exception,omitempty"`
	ActivityName  string         `json:"activity_name,omitempty"`
	Details       map[string]any `json:"details,omitempty"`
}

// SearchText is the text rule patterns are matched against.
func (r ErrorRecord) SearchText(includeDetails bool) string {
	parts := []string{r.Message, r.ExceptionType}
	if includeDetails && len(r.Details) > 0 {
		// map keys are marshaled in sorted order, so this is deterministic.
		if b, err := json.Marshal(r.Details); err == nil {
			parts = append(parts, string(b))
		}
	}
	return strings.Join(parts, " ")
}

type ClassifiedBy string

const (
	ClassifiedByRules ClassifiedBy = "rules"
	ClassifiedByLLM   ClassifiedBy = "llm"
	ClassifiedByNone  ClassifiedBy = "none"
)

type ClassificationResult struct {
	Category       Category     `json:"category"`
	Confidence     float64      `json:"confidence"`
	Reasoning      string       `json:"reasoning"`
	ClassifiedBy   ClassifiedBy `json:"classified_by"`
	MatchedPattern string       `json:"matched_pattern,omitempty"`
}

// Unclassified builds the UNKNOWN result returned when no strategy applied.
func Unclassified(reason string) ClassificationResult {
	return ClassificationResult{
		Category:     CategoryUnknown,
		Confidence:   0,
		Reasoning:    reason,
		ClassifiedBy: ClassifiedByNone,
	}
}

// Correction is a human override of a prior classification.
type Correction struct {
	ID                string    `json:"id"`
	JobID             string    `json:"job_id"`
	ActivityName      string    `json:"activity_name,omitempty"`
	OriginalCategory  Category  `json:"original_category"`
	CorrectedCategory Category  `json:"corrected_category"`
	ErrorSnippet      string    `json:"error_snippet"`
	ExceptionType     string    `json:"exception_type,omitempty"`
	ErrorCode         *int      `json:"error_code,omitempty"`
	Reasoning         string    `json:"reasoning,omitempty"`
	User              string    `json:"user,omitempty"`
	Timestamp         time.Time `json:"timestamp"`
}

// Validate checks the correction against the closed taxonomy. A correction
// whose original and corrected categories are equal is still valid.
func (c Correction) Validate() error {
	if strings.TrimSpace(c.JobID) == "" {
		return Validationf("correction job_id is required")
	}
	if !c.OriginalCategory.Valid() {
		return Validationf("invalid original_category %q", c.OriginalCategory)
	}
	if !c.CorrectedCategory.Concrete() {
		return Validationf("invalid corrected_category %q: must be one of %v", c.CorrectedCategory, Categories())
	}
	return nil
}

type SuggestionKind string

const (
	SuggestionMessage   SuggestionKind = "message"
	SuggestionException SuggestionKind = "exception"
	SuggestionActivity  SuggestionKind = "activity"
)

// SuggestedRule is a candidate rule proposed by the pattern miner.
type SuggestedRule struct {
	Kind            SuggestionKind `json:"kind"`
	Pattern         string         `json:"pattern"`
	Category        Category       `json:"category"`
	OccurrenceCount int            `json:"occurrence_count"`
	SampleErrors    []string       `json:"sample_errors"`
}

// ClassificationRecord is one row of classification history.
type ClassificationRecord struct {
	ID             int64
	JobID          string
	ActivityName   string
	Category       Category
	Confidence     float64
	ClassifiedBy   ClassifiedBy
	MatchedPattern string
	ErrorMessage   string
	LLMProvider    string
	LLMModel       string
	ClassifiedAt   time.Time
}

type ClassificationStats struct {
	TotalClassifications int
	TotalCorrections     int
	AvgConfidence        float64
	ByRules              int
	ByLLM                int
	Unclassified         int
	BucketBelow50        int
	Bucket50to70         int
	Bucket70to90         int
	Bucket90Plus         int
}
