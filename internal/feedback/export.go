package feedback

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/cockroachdb/errors"

	"jobinsights/internal/domain"
)

const fineTuneSystemPrompt = "You are a workflow failure classifier. Classify errors into: INPUT_DATA_QUALITY, WORKFLOW_ENGINE, or THIRD_PARTY_SYSTEM."

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type fineTuneExample struct {
	Messages []chatMessage `json:"messages"`
}

type fineTuneAnswer struct {
	Category  domain.Category `json:"category"`
	Reasoning string          `json:"reasoning"`
}

// ExportFineTuning writes corrections as chat fine-tuning JSONL, one
// example per line. It returns the number of lines written.
func ExportFineTuning(w io.Writer, corrections []domain.Correction) (int, error) {
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	for i, c := range corrections {
		reasoning := c.Reasoning
		if reasoning == "" {
			reasoning = "User-corrected classification"
		}
		answer, err := json.Marshal(fineTuneAnswer{Category: c.CorrectedCategory, Reasoning: reasoning})
		if err != nil {
			return i, errors.Wrap(err, "encode answer")
		}
		ex := fineTuneExample{Messages: []chatMessage{
			{Role: "system", Content: fineTuneSystemPrompt},
			{Role: "user", Content: fineTuneUserPrompt(c)},
			{Role: "assistant", Content: string(answer)},
		}}
		if err := enc.Encode(ex); err != nil {
			return i, errors.Wrapf(err, "write example %d", i)
		}
	}
	return len(corrections), nil
}

func fineTuneUserPrompt(c domain.Correction) string {
	s := fmt.Sprintf("Activity: %s\nError: %s", c.ActivityName, c.ErrorSnippet)
	if c.ExceptionType != "" {
		s += "\nException: " + c.ExceptionType
	}
	if c.ErrorCode != nil {
		s += fmt.Sprintf("\nCode: %d", *c.ErrorCode)
	}
	return s
}
