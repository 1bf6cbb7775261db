// Package pipeline turns one customer transcript fragment into at most one
// staff-visible answer suggestion, off the router's ingestion path.
package pipeline

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/coveline/consult/internal/ai"
	"github.com/coveline/consult/internal/events"
	"github.com/coveline/consult/pkg/logger"
)

// Retriever is the knowledge-retrieval collaborator. An empty passage list is
// a valid result.
type Retriever interface {
	Retrieve(ctx context.Context, query string) ([]events.Passage, error)
}

// Publisher routes pipeline results through the same ordering and visibility
// path as every other event.
type Publisher interface {
	Publish(sessionID string, origin events.Role, ev *events.Event) (*events.Event, error)
}

// Config holds pipeline settings
type Config struct {
	// Timeout bounds one task's retrieval and generation calls combined
	Timeout time.Duration
	// MaxConcurrent caps in-flight tasks across all sessions
	MaxConcurrent int64
	// MinFragmentChars gates fragments too short to be worth answering
	MinFragmentChars int
}

// Service orchestrates retrieval and generation for customer fragments
type Service struct {
	retriever Retriever
	generator ai.Generator
	publisher Publisher
	config    Config
	sem       *semaphore.Weighted
	logger    *logger.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewService creates a pipeline service
func NewService(retriever Retriever, generator ai.Generator, publisher Publisher, config Config, log *logger.Logger) *Service {
	ctx, cancel := context.WithCancel(context.Background())
	return &Service{
		retriever: retriever,
		generator: generator,
		publisher: publisher,
		config:    config,
		sem:       semaphore.NewWeighted(config.MaxConcurrent),
		logger:    log.Named("pipeline"),
		ctx:       ctx,
		cancel:    cancel,
	}
}

// Enqueue schedules the retrieval+generation task for one fragment and
// returns immediately. Fragments below the minimum length are ignored.
func (s *Service) Enqueue(sessionID, text string) {
	if len(strings.TrimSpace(text)) < s.config.MinFragmentChars {
		return
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := s.sem.Acquire(s.ctx, 1); err != nil {
			return // shutting down
		}
		defer s.sem.Release(1)
		s.process(sessionID, text)
	}()
}

// Shutdown stops accepting tasks and waits for in-flight ones to finish
func (s *Service) Shutdown(ctx context.Context) error {
	s.cancel()
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// process runs one fragment through retrieval then generation. Upstream
// failures are contained here: a retrieval failure degrades to generation
// with no passages, a generation failure or timeout abandons the fragment
// with nothing broadcast. Generation is not retried; a duplicate answer is
// worse for the staff view than a missing one.
func (s *Service) process(sessionID, query string) {
	ctx, cancel := context.WithTimeout(s.ctx, s.config.Timeout)
	defer cancel()

	start := time.Now()
	s.publishStaff(sessionID, events.NewAIProcessing(query))

	passages, err := s.retriever.Retrieve(ctx, query)
	if err != nil {
		s.logger.Warn("Retrieval failed, generating without context",
			logger.String("session_id", sessionID),
			logger.Error(err))
		passages = nil
	} else {
		s.publishStaff(sessionID, events.NewRAGContext(query, passages))
	}

	answer, err := s.generator.Generate(ctx, query, passages)
	if err != nil {
		s.logger.Error("Generation failed, abandoning fragment",
			logger.String("session_id", sessionID),
			logger.Duration("elapsed", time.Since(start)),
			logger.Error(err))
		return
	}

	ev, err := events.NewAIAnswer(query, answer.Text, answer.FollowUp, answer.Confidence, passages)
	if err != nil {
		s.logger.Error("Discarding malformed answer",
			logger.String("session_id", sessionID),
			logger.Error(err))
		return
	}

	s.publishStaff(sessionID, ev)

	s.logger.Info("Answer published",
		logger.String("session_id", sessionID),
		logger.Float64("confidence", answer.Confidence),
		logger.Int("passages", len(passages)),
		logger.Duration("elapsed", time.Since(start)))
}

// publishStaff routes a staff-only event through the router. A session that
// ended while the task was in flight rejects the publish; the result is
// discarded without surfacing anything to a user-facing channel.
func (s *Service) publishStaff(sessionID string, ev *events.Event) {
	if _, err := s.publisher.Publish(sessionID, events.RoleSystem, ev); err != nil {
		if errors.Is(err, events.ErrSessionClosed) || errors.Is(err, events.ErrSessionNotFound) {
			s.logger.Debug("Discarding pipeline event for closed session",
				logger.String("session_id", sessionID),
				logger.String("event_type", ev.Type))
			return
		}
		s.logger.Error("Failed to publish pipeline event",
			logger.String("session_id", sessionID),
			logger.String("event_type", ev.Type),
			logger.Error(err))
	}
}
