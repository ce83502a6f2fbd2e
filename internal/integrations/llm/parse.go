package llm

import (
	"bytes"
	"encoding/json"
	"math"
	"strconv"
	"strings"

	"github.com/cockroachdb/errors"

	"jobinsights/internal/domain"
)

type modelAnswer struct {
	Category   string          `json:"category"`
	Confidence json.RawMessage `json:"confidence"`
	Reasoning  string          `json:"reasoning"`
}

// parseClassification decodes the model's JSON answer. Output that is not
// a JSON object is an error; a category outside the taxonomy is demoted to
// UNKNOWN with LowConfidence.
func parseClassification(responseText string) (domain.ClassificationResult, error) {
	responseText = stripFences(responseText)

	var answer modelAnswer
	if err := json.Unmarshal([]byte(responseText), &answer); err != nil {
		// Small local models often wrap the object in prose.
		start := strings.Index(responseText, "{")
		end := strings.LastIndex(responseText, "}")
		if start < 0 || end <= start {
			return domain.ClassificationResult{}, errors.Wrap(err, "model answer is not json")
		}
		if err := json.Unmarshal([]byte(responseText[start:end+1]), &answer); err != nil {
			return domain.ClassificationResult{}, errors.Wrap(err, "model answer is not json")
		}
	}

	reasoning := strings.TrimSpace(answer.Reasoning)
	category, err := domain.ParseCategory(answer.Category)
	if err != nil {
		return domain.ClassificationResult{
			Category:     domain.CategoryUnknown,
			Confidence:   domain.LowConfidence,
			Reasoning:    "model returned category " + strconv.Quote(answer.Category) + " outside the taxonomy: " + reasoning,
			ClassifiedBy: domain.ClassifiedByLLM,
		}, nil
	}

	return domain.ClassificationResult{
		Category:     category,
		Confidence:   parseConfidence(answer.Confidence),
		Reasoning:    reasoning,
		ClassifiedBy: domain.ClassifiedByLLM,
	}, nil
}

func stripFences(s string) string {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}

// parseConfidence accepts a number or numeric string and clamps it to [0,1].
// Absent, unreadable or non-finite values become DefaultModelConfidence.
func parseConfidence(raw json.RawMessage) float64 {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || string(raw) == "null" {
		return domain.DefaultModelConfidence
	}
	var f float64
	if err := json.Unmarshal(raw, &f); err != nil {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return domain.DefaultModelConfidence
		}
		parsed, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
		if err != nil {
			return domain.DefaultModelConfidence
		}
		f = parsed
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return domain.DefaultModelConfidence
	}
	switch {
	case f < 0:
		return 0
	case f > 1:
		return 1
	}
	return f
}
