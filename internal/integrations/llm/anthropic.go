package llm

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/cockroachdb/errors"
)

type AnthropicGenerator struct {
	client anthropic.Client
	model  string
	logger *slog.Logger
}

// NewAnthropicGenerator builds a client with SDK retries disabled; callers
// decide whether to retry.
func NewAnthropicGenerator(apiKey, model string, httpClient *http.Client) *AnthropicGenerator {
	opts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithMaxRetries(0),
	}
	if httpClient != nil {
		opts = append(opts, option.WithHTTPClient(httpClient))
	}
	return &AnthropicGenerator{
		client: anthropic.NewClient(opts...),
		model:  model,
		logger: slog.Default(),
	}
}

func (g *AnthropicGenerator) Provider() string { return "anthropic" }
func (g *AnthropicGenerator) Model() string    { return g.model }

func (g *AnthropicGenerator) Generate(ctx context.Context, systemPrompt, userPrompt string) (string, Usage, error) {
	message, err := g.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:       anthropic.Model(g.model),
		MaxTokens:   defaultMaxTokens,
		Temperature: anthropic.Float(defaultTemperature),
		System: []anthropic.TextBlockParam{
			{Text: systemPrompt, CacheControl: anthropic.NewCacheControlEphemeralParam()},
		},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(userPrompt)),
		},
	})
	if err != nil {
		g.logger.Warn("llm anthropic error", "error", err)
		return "", Usage{}, errors.Wrap(err, "anthropic api")
	}
	usage := Usage{
		InputTokens:              message.Usage.InputTokens,
		OutputTokens:             message.Usage.OutputTokens,
		CacheCreationInputTokens: message.Usage.CacheCreationInputTokens,
		CacheReadInputTokens:     message.Usage.CacheReadInputTokens,
	}

	for _, block := range message.Content {
		if block.Type == "text" {
			g.logger.Debug("llm anthropic response",
				"size", len(block.Text),
				"tokens_in", usage.InputTokens,
				"tokens_out", usage.OutputTokens,
				"cache_read", usage.CacheReadInputTokens,
			)
			return block.Text, usage, nil
		}
	}
	return "", usage, errors.New("no text content in anthropic response")
}
