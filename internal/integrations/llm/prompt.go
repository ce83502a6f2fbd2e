package llm

import (
	"encoding/json"
	"fmt"
	"strings"

	"jobinsights/internal/domain"
)

const defaultExampleMaxChars = 300

func buildSystemPrompt() string {
	var b strings.Builder
	b.WriteString("You are a workflow failure classifier for a data pipeline system.\n\n")
	b.WriteString("Classify the error into exactly ONE of these categories:\n\n")
	for i, c := range domain.Categories() {
		fmt.Fprintf(&b, "%d. %s - %s\n\n", i+1, c, c.Description())
	}
	names := make([]string, 0, 3)
	for _, c := range domain.Categories() {
		names = append(names, string(c))
	}
	b.WriteString("Respond with JSON only:\n")
	b.WriteString("{\n")
	fmt.Fprintf(&b, "    \"category\": \"%s\",\n", strings.Join(names, "|"))
	b.WriteString("    \"confidence\": 0.0-1.0,\n")
	b.WriteString("    \"reasoning\": \"Brief one-sentence explanation\"\n")
	b.WriteString("}")
	return b.String()
}

var systemPrompt = buildSystemPrompt()

// buildUserPrompt lists the examples (most relevant first) and then the
// record to classify. Example error text is truncated to maxChars.
func buildUserPrompt(rec domain.ErrorRecord, examples []domain.Correction, maxChars int) string {
	if maxChars <= 0 {
		maxChars = defaultExampleMaxChars
	}
	var b strings.Builder
	if len(examples) > 0 {
		b.WriteString("Here are some recent corrections from users:\n\n")
		for i, ex := range examples {
			reason := strings.TrimSpace(ex.Reasoning)
			if reason == "" {
				reason = "User-corrected classification"
			}
			fmt.Fprintf(&b, "%d. Activity: %s\n", i+1, orDefault(ex.ActivityName, "Unknown"))
			fmt.Fprintf(&b, "   Error: %s\n", truncate(orDefault(ex.ErrorSnippet, "N/A"), maxChars))
			fmt.Fprintf(&b, "   Correct Category: %s\n", ex.CorrectedCategory)
			fmt.Fprintf(&b, "   Reason: %s\n\n", reason)
		}
		b.WriteString("Now classify this new error:\n\n")
	}

	code := "None"
	if rec.Code != nil {
		code = fmt.Sprintf("%d", *rec.Code)
	}
	details := "{}"
	if len(rec.Details) > 0 {
		if raw, err := json.MarshalIndent(rec.Details, "", "  "); err == nil {
			details = string(raw)
		}
	}
	fmt.Fprintf(&b, "Activity: %s\n", orDefault(rec.ActivityName, "Unknown"))
	fmt.Fprintf(&b, "Error Code: %s\n", code)
	fmt.Fprintf(&b, "Message: %s\n", rec.Message)
	fmt.Fprintf(&b, "Exception Type: %s\n", orDefault(rec.ExceptionType, "None"))
	fmt.Fprintf(&b, "Details: %s", details)
	return b.String()
}

func truncate(s string, max int) string {
	s = strings.Join(strings.Fields(s), " ")
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	if max < 4 {
		return string(r[:max])
	}
	return string(r[:max-3]) + "..."
}

func orDefault(s, def string) string {
	if strings.TrimSpace(s) == "" {
		return def
	}
	return strings.TrimSpace(s)
}
