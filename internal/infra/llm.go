package infra

import (
	"context"
	"errors"
	"fmt"
	"strings"

	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"github.com/eliteGoblin/focusd/lab_mon/internal/domain"
)

// ErrEmptyCompletion is returned when the service answers without any choice.
var ErrEmptyCompletion = errors.New("completion returned no choices")

// ChatClassifier implements domain.TextClassifier against any
// OpenAI-compatible chat completion endpoint (OpenAI, Gemini, local gateways).
type ChatClassifier struct {
	client *openai.Client
	model  string
	logger *zap.Logger
}

// NewChatClassifier creates a client for baseURL. An empty baseURL keeps the
// library default (api.openai.com).
func NewChatClassifier(apiKey, baseURL, model string, logger *zap.Logger) *ChatClassifier {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = strings.TrimRight(baseURL, "/")
	}
	return &ChatClassifier{
		client: openai.NewClientWithConfig(cfg),
		model:  model,
		logger: logger,
	}
}

// Complete sends prompt as a single user message and returns the answer text.
func (c *ChatClassifier) Complete(ctx context.Context, prompt string) (string, error) {
	req := openai.ChatCompletionRequest{
		Model: c.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
		Temperature: 0,
	}

	resp, err := c.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return "", fmt.Errorf("chat completion failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", ErrEmptyCompletion
	}

	c.logger.Debug("classification answer received",
		zap.String("model", c.model),
		zap.String("finish_reason", string(resp.Choices[0].FinishReason)))
	return resp.Choices[0].Message.Content, nil
}

// Ensure ChatClassifier implements domain.TextClassifier.
var _ domain.TextClassifier = (*ChatClassifier)(nil)
