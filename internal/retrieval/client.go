// Package retrieval wraps the external vector-search service that backs the
// knowledge base. An empty result set is a normal outcome, never an error.
package retrieval

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/coveline/consult/internal/events"
	"github.com/coveline/consult/pkg/logger"
)

// Config holds retriever client settings
type Config struct {
	BaseURL  string
	APIKey   string
	TopK     int
	MinScore float64
	Timeout  time.Duration
}

// Client is an HTTP client for the vector search service
type Client struct {
	http     *resty.Client
	topK     int
	minScore float64
	logger   *logger.Logger
}

type searchRequest struct {
	Query string `json:"query"`
	TopK  int    `json:"top_k"`
}

type searchResponse struct {
	Results []struct {
		Text     string  `json:"text"`
		SourceID string  `json:"source_id"`
		Score    float64 `json:"score"`
	} `json:"results"`
}

// NewClient creates a retriever client
func NewClient(cfg Config, log *logger.Logger) *Client {
	http := resty.New().
		SetBaseURL(cfg.BaseURL).
		SetTimeout(cfg.Timeout).
		SetHeader("Content-Type", "application/json")
	if cfg.APIKey != "" {
		http.SetAuthToken(cfg.APIKey)
	}

	return &Client{
		http:     http,
		topK:     cfg.TopK,
		minScore: cfg.MinScore,
		logger:   log.Named("retrieval"),
	}
}

// Retrieve returns the ranked passages relevant to the query, filtered by the
// configured minimum similarity score. A query with no relevant passages
// returns an empty slice and a nil error.
func (c *Client) Retrieve(ctx context.Context, query string) ([]events.Passage, error) {
	var result searchResponse

	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(searchRequest{Query: query, TopK: c.topK}).
		SetResult(&result).
		Post("/v1/search")
	if err != nil {
		return nil, fmt.Errorf("%w: vector search request failed: %v", events.ErrUpstreamUnavailable, err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("%w: vector search returned %s", events.ErrUpstreamUnavailable, resp.Status())
	}

	passages := make([]events.Passage, 0, len(result.Results))
	for _, r := range result.Results {
		if r.Score < c.minScore {
			continue
		}
		passages = append(passages, events.Passage{
			Text:     r.Text,
			SourceID: r.SourceID,
			Score:    r.Score,
		})
	}

	c.logger.Debug("Retrieved passages",
		logger.Int("returned", len(result.Results)),
		logger.Int("kept", len(passages)))

	return passages, nil
}
