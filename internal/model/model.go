// Package model wraps the OpenAI Chat Completions API behind the simple
// completion function the query pipeline consumes.
package model

import (
	"context"
	"fmt"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"go.uber.org/zap"

	"github.com/embediq/backend/internal/engine"
)

// Config holds completion model configuration.
type Config struct {
	// Name is the chat model. Defaults to gpt-4o-mini.
	Name string

	// Temperature for sampling. Defaults to 0.7.
	Temperature float64

	// MaxTokens bounds the completion length. Defaults to 4096.
	MaxTokens int64

	// BaseURL overrides the API endpoint for OpenAI-compatible servers.
	BaseURL string

	// APIKey is the bearer token. Falls back to the SDK's environment
	// lookup when empty.
	APIKey string
}

// Client generates chat completions. Safe for concurrent use.
type Client struct {
	client openai.Client
	cfg    Config
	logger *zap.Logger
}

// New creates a completion client.
func New(cfg Config, logger *zap.Logger) *Client {
	if cfg.Name == "" {
		cfg.Name = openai.ChatModelGPT4oMini
	}
	if cfg.Temperature <= 0 {
		cfg.Temperature = 0.7
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 4096
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	var opts []option.RequestOption
	if cfg.APIKey != "" {
		opts = append(opts, option.WithAPIKey(cfg.APIKey))
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}

	return &Client{
		client: openai.NewClient(opts...),
		cfg:    cfg,
		logger: logger,
	}
}

// Complete generates a single non-streaming completion for the given system
// and user messages.
func (c *Client) Complete(ctx context.Context, system, prompt string) (string, error) {
	var messages []openai.ChatCompletionMessageParamUnion
	if system != "" {
		messages = append(messages, openai.SystemMessage(system))
	}
	messages = append(messages, openai.UserMessage(prompt))

	resp, err := c.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Messages:            messages,
		Model:               c.cfg.Name,
		Temperature:         openai.Float(c.cfg.Temperature),
		MaxCompletionTokens: openai.Int(c.cfg.MaxTokens),
	})
	if err != nil {
		return "", fmt.Errorf("chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("chat completion: no choices returned")
	}
	return resp.Choices[0].Message.Content, nil
}

// CompletionFunc adapts the client to the engine's completion contract.
func (c *Client) CompletionFunc() engine.CompletionFunc {
	return c.Complete
}
