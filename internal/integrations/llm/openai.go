package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/cockroachdb/errors"
)

// OpenAIGenerator talks to any OpenAI-compatible /chat/completions
// endpoint: OpenAI itself, Ollama, LM Studio, vLLM.
type OpenAIGenerator struct {
	baseURL    string
	apiKey     string
	model      string
	httpClient *http.Client
	logger     *slog.Logger
}

func NewOpenAIGenerator(baseURL, apiKey, model string, httpClient *http.Client) *OpenAIGenerator {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &OpenAIGenerator{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		model:      model,
		httpClient: httpClient,
		logger:     slog.Default(),
	}
}

func (g *OpenAIGenerator) Provider() string { return "openai" }
func (g *OpenAIGenerator) Model() string    { return g.model }

type openAIRequest struct {
	Model       string          `json:"model"`
	Messages    []openAIMessage `json:"messages"`
	Temperature float64         `json:"temperature"`
	MaxTokens   int             `json:"max_tokens"`
}

type openAIMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type openAIResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Usage *struct {
		PromptTokens     int64 `json:"prompt_tokens"`
		CompletionTokens int64 `json:"completion_tokens"`
		TotalTokens      int64 `json:"total_tokens"`
	} `json:"usage"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

func (g *OpenAIGenerator) Generate(ctx context.Context, systemPrompt, userPrompt string) (string, Usage, error) {
	reqBody := openAIRequest{
		Model: g.model,
		Messages: []openAIMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: userPrompt},
		},
		Temperature: defaultTemperature,
		MaxTokens:   defaultMaxTokens,
	}
	bodyBytes, err := json.Marshal(reqBody)
	if err != nil {
		return "", Usage{}, errors.Wrap(err, "marshaling request")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.baseURL+"/chat/completions", bytes.NewReader(bodyBytes))
	if err != nil {
		return "", Usage{}, errors.Wrap(err, "creating request")
	}
	req.Header.Set("Content-Type", "application/json")
	if g.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+g.apiKey)
	}

	resp, err := g.httpClient.Do(req)
	if err != nil {
		g.logger.Warn("llm openai error", "base_url", g.baseURL, "error", err)
		return "", Usage{}, errors.Wrapf(err, "cannot reach model endpoint at %s", g.baseURL)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return "", Usage{}, errors.Wrap(err, "reading response")
	}

	var openAIResp openAIResponse
	if err := json.Unmarshal(respBody, &openAIResp); err != nil {
		if resp.StatusCode >= 300 {
			return "", Usage{}, errors.Newf("model endpoint returned HTTP %d", resp.StatusCode)
		}
		return "", Usage{}, errors.Wrap(err, "parsing openai response")
	}
	if openAIResp.Error != nil {
		g.logger.Warn("llm openai api error", "status", resp.StatusCode, "message", openAIResp.Error.Message)
		return "", Usage{}, errors.Newf("openai api error: %s", openAIResp.Error.Message)
	}
	if resp.StatusCode >= 300 {
		return "", Usage{}, errors.Newf("model endpoint returned HTTP %d", resp.StatusCode)
	}
	if len(openAIResp.Choices) == 0 {
		return "", Usage{}, errors.New("no choices in openai response")
	}
	usage := Usage{}
	if openAIResp.Usage != nil {
		usage.InputTokens = openAIResp.Usage.PromptTokens
		usage.OutputTokens = openAIResp.Usage.CompletionTokens
	}

	content := openAIResp.Choices[0].Message.Content
	g.logger.Debug("llm openai response", "size", len(content), "tokens_in", usage.InputTokens, "tokens_out", usage.OutputTokens)
	return content, usage, nil
}
