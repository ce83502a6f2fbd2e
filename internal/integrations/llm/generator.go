package llm

import (
	"context"
)

// Generator sends one system+user prompt pair to a model and returns the
// raw text answer.
type Generator interface {
	Generate(ctx context.Context, systemPrompt, userPrompt string) (string, Usage, error)
	Provider() string
	Model() string
}

type Usage struct {
	InputTokens              int64
	OutputTokens             int64
	CacheCreationInputTokens int64
	CacheReadInputTokens     int64
}

func (u Usage) TotalTokens() int64 {
	return u.InputTokens + u.OutputTokens
}

const (
	defaultTemperature = 0.1
	defaultMaxTokens   = 200
)
