package openai

import (
	"context"
	"fmt"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/coveline/consult/internal/ai"
	"github.com/coveline/consult/internal/events"
	"github.com/coveline/consult/pkg/logger"
)

// Client generates answers using the OpenAI chat completions API
type Client struct {
	client openai.Client
	config ai.GeneratorConfig
	logger *logger.Logger
}

// NewClient creates a new OpenAI answer generator. baseURL may be empty to
// use the default endpoint.
func NewClient(apiKey, baseURL string, config ai.GeneratorConfig, log *logger.Logger) *Client {
	opts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}

	return &Client{
		client: openai.NewClient(opts...),
		config: config,
		logger: log.Named("openai"),
	}
}

// Generate implements ai.Generator
func (c *Client) Generate(ctx context.Context, query string, passages []events.Passage) (*ai.Answer, error) {
	params := openai.ChatCompletionNewParams{
		Model: openai.ChatModel(c.config.Model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(ai.SystemPrompt()),
			openai.UserMessage(ai.BuildPrompt(query, passages)),
		},
		Temperature: openai.Float(c.config.Temperature),
	}
	if c.config.MaxTokens > 0 {
		params.MaxTokens = openai.Int(int64(c.config.MaxTokens))
	}

	completion, err := c.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("openai chat completion: %w", err)
	}

	if len(completion.Choices) == 0 || completion.Choices[0].Message.Content == "" {
		return nil, fmt.Errorf("openai returned no content")
	}

	text := completion.Choices[0].Message.Content
	c.logger.Debug("Generated answer",
		logger.String("model", c.config.Model),
		logger.Int("response_length", len(text)))

	return ai.ParseResponse(text), nil
}
