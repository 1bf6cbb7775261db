package gemini

import (
	"context"
	"fmt"

	"google.golang.org/genai"

	"github.com/coveline/consult/internal/ai"
	"github.com/coveline/consult/internal/events"
	"github.com/coveline/consult/pkg/logger"
)

// Client generates answers using the Google Gemini API
type Client struct {
	client *genai.Client
	config ai.GeneratorConfig
	logger *logger.Logger
}

// NewClient creates a new Gemini answer generator
func NewClient(ctx context.Context, apiKey string, config ai.GeneratorConfig, log *logger.Logger) (*Client, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}

	return &Client{
		client: client,
		config: config,
		logger: log.Named("gemini"),
	}, nil
}

// Generate implements ai.Generator
func (c *Client) Generate(ctx context.Context, query string, passages []events.Passage) (*ai.Answer, error) {
	contents := []*genai.Content{
		genai.NewContentFromText(ai.BuildPrompt(query, passages), genai.RoleUser),
	}

	temp := float32(c.config.Temperature)
	cfg := &genai.GenerateContentConfig{
		SystemInstruction: genai.NewContentFromText(ai.SystemPrompt(), genai.RoleUser),
		Temperature:       &temp,
	}
	if c.config.MaxTokens > 0 {
		cfg.MaxOutputTokens = int32(c.config.MaxTokens)
	}

	res, err := c.client.Models.GenerateContent(ctx, c.config.Model, contents, cfg)
	if err != nil {
		return nil, fmt.Errorf("gemini generate content: %w", err)
	}

	text := res.Text()
	if text == "" {
		return nil, fmt.Errorf("gemini returned empty response")
	}

	c.logger.Debug("Generated answer",
		logger.String("model", c.config.Model),
		logger.Int("response_length", len(text)))

	return ai.ParseResponse(text), nil
}
