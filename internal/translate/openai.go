// Package translate rewrites natural language queries into structured
// statements via an OpenAI-compatible chat model.
package translate

import (
	"context"
	"fmt"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	"github.com/quarry-search/quarry/internal/retry"
)

const systemPrompt = `Translate the user's search request into a single SQL statement of the form:
SELECT id, text, score FROM documents WHERE <filter> [LIMIT <n>]
Use similar('<semantic query text>') inside WHERE for semantic matching and
plain SQL conditions on the columns id, text, tags, entry for filters.
Respond with the SQL statement only.`

// Config configures the translator.
type Config struct {
	APIKey  string
	BaseURL string
	Model   string
}

// OpenAITranslator implements statement translation through a chat
// completion endpoint.
type OpenAITranslator struct {
	client *openai.Client
	model  string
	retry  retry.Config
}

// New creates a translator.
func New(cfg Config) (*OpenAITranslator, error) {
	if cfg.Model == "" {
		return nil, fmt.Errorf("translator: model is required")
	}
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}
	return &OpenAITranslator{
		client: openai.NewClientWithConfig(clientCfg),
		model:  cfg.Model,
		retry:  retry.DefaultConfig(),
	}, nil
}

// Translate rewrites a free-text query into a structured statement.
func (t *OpenAITranslator) Translate(ctx context.Context, query string) (string, error) {
	resp, err := retry.DoWithResult(ctx, t.retry, func() (openai.ChatCompletionResponse, error) {
		return t.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
			Model: t.model,
			Messages: []openai.ChatCompletionMessage{
				{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
				{Role: openai.ChatMessageRoleUser, Content: query},
			},
		})
	})
	if err != nil {
		return "", fmt.Errorf("translate %q: %w", query, err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("translate %q: empty response", query)
	}
	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}
