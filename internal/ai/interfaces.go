package ai

import (
	"context"

	"github.com/coveline/consult/internal/events"
)

// Answer is one generated suggestion for the staff member
type Answer struct {
	Text       string
	FollowUp   string
	Confidence float64
}

// Generator defines the interface for turning a customer query plus retrieved
// passages into an answer suggestion. Implementations are stateless and
// reentrant; callers bound each invocation with a context deadline.
type Generator interface {
	Generate(ctx context.Context, query string, passages []events.Passage) (*Answer, error)
}

// GeneratorConfig holds the model parameters shared by all providers
type GeneratorConfig struct {
	Model       string
	Temperature float64
	MaxTokens   int
}
