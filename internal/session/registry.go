package session

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/coveline/consult/internal/events"
	"github.com/coveline/consult/pkg/logger"
)

// Store persists sessions across restarts. Writes are best-effort: the
// in-memory registry stays authoritative while the process is up.
type Store interface {
	SaveSession(s *Session) error
	UpdateSession(s *Session) error
	LoadSessions() ([]*Session, error)
}

// EndHook is invoked after a session transitions to ended, with the reason
// ("ended" or "expired"). The router uses it to emit session.ended and close
// subscriptions.
type EndHook func(sessionID, reason string)

// Registry is the authoritative mapping from session id to session state
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*Session

	ttl           time.Duration
	sweepInterval time.Duration
	store         Store
	endHook       EndHook
	logger        *logger.Logger

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewRegistry creates a session registry. store may be nil (memory only).
func NewRegistry(ttl, sweepInterval time.Duration, store Store, log *logger.Logger) *Registry {
	r := &Registry{
		sessions:      make(map[string]*Session),
		ttl:           ttl,
		sweepInterval: sweepInterval,
		store:         store,
		logger:        log.Named("session-registry"),
	}

	if store != nil {
		loaded, err := store.LoadSessions()
		if err != nil {
			r.logger.Error("Failed to load persisted sessions", logger.Error(err))
		} else {
			for _, s := range loaded {
				r.sessions[s.ID] = s
			}
			if len(loaded) > 0 {
				r.logger.Info("Restored sessions from storage", logger.Int("count", len(loaded)))
			}
		}
	}

	return r
}

// SetEndHook registers the callback fired when a session ends. Must be called
// before Start.
func (r *Registry) SetEndHook(hook EndHook) {
	r.endHook = hook
}

// Create allocates a new pending session bound to the given meeting room
func (r *Registry) Create(room RoomRef) (*Session, error) {
	if room.RoomID == "" {
		return nil, fmt.Errorf("%w: meeting room reference is required", events.ErrInvalidInput)
	}

	now := time.Now().UTC()
	s := &Session{
		ID:        uuid.NewString(),
		Status:    StatusPending,
		Room:      room,
		CreatedAt: now,
		ExpiresAt: now.Add(r.ttl),
	}

	r.mu.Lock()
	r.sessions[s.ID] = s
	r.mu.Unlock()

	if r.store != nil {
		if err := r.store.SaveSession(s); err != nil {
			r.logger.Error("Failed to persist session", logger.String("session_id", s.ID), logger.Error(err))
		}
	}

	r.logger.Info("Session created",
		logger.String("session_id", s.ID),
		logger.String("room_id", room.RoomID),
		logger.Time("expires_at", s.ExpiresAt))

	return s.clone(), nil
}

// Get returns the session with the given id
func (r *Registry) Get(sessionID string) (*Session, error) {
	r.mu.RLock()
	s, ok := r.sessions[sessionID]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", events.ErrSessionNotFound, sessionID)
	}
	return s.clone(), nil
}

// List returns all sessions, newest first
func (r *Registry) List() []*Session {
	r.mu.RLock()
	out := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, s.clone())
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out
}

// MarkJoined transitions a pending session to active on first join.
// Idempotent for already-active sessions; ended sessions reject the join.
func (r *Registry) MarkJoined(sessionID string, role events.Role) error {
	r.mu.Lock()
	s, ok := r.sessions[sessionID]
	if !ok {
		r.mu.Unlock()
		return fmt.Errorf("%w: %s", events.ErrSessionNotFound, sessionID)
	}
	if s.Status == StatusEnded {
		r.mu.Unlock()
		return fmt.Errorf("%w: session %s already ended", events.ErrInvalidState, sessionID)
	}
	activated := s.Status == StatusPending
	if activated {
		s.Status = StatusActive
	}
	snapshot := s.clone()
	r.mu.Unlock()

	if activated {
		r.persistUpdate(snapshot)
		r.logger.Info("Session activated",
			logger.String("session_id", sessionID),
			logger.String("first_join_role", string(role)))
	}
	return nil
}

// Status returns the lifecycle state of a session
func (r *Registry) Status(sessionID string) (Status, error) {
	r.mu.RLock()
	s, ok := r.sessions[sessionID]
	r.mu.RUnlock()
	if !ok {
		return "", fmt.Errorf("%w: %s", events.ErrSessionNotFound, sessionID)
	}
	return s.Status, nil
}

// End transitions a session to ended. Idempotent: ending an already-ended
// session is a no-op and returns nil.
func (r *Registry) End(sessionID string) error {
	return r.end(sessionID, "ended")
}

func (r *Registry) end(sessionID, reason string) error {
	r.mu.Lock()
	s, ok := r.sessions[sessionID]
	if !ok {
		r.mu.Unlock()
		return fmt.Errorf("%w: %s", events.ErrSessionNotFound, sessionID)
	}
	if s.Status == StatusEnded {
		r.mu.Unlock()
		return nil
	}
	s.Status = StatusEnded
	s.EndedAt = time.Now().UTC()
	snapshot := s.clone()
	r.mu.Unlock()

	r.persistUpdate(snapshot)
	r.logger.Info("Session ended",
		logger.String("session_id", sessionID),
		logger.String("reason", reason))

	if r.endHook != nil {
		r.endHook(sessionID, reason)
	}
	return nil
}

// Start launches the background expiry sweep
func (r *Registry) Start(ctx context.Context) {
	ctx, r.cancel = context.WithCancel(ctx)
	r.wg.Add(1)
	go r.sweepLoop(ctx)
}

// Stop terminates the expiry sweep and waits for it to exit
func (r *Registry) Stop() {
	if r.cancel != nil {
		r.cancel()
	}
	r.wg.Wait()
}

func (r *Registry) sweepLoop(ctx context.Context) {
	defer r.wg.Done()
	ticker := time.NewTicker(r.sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.sweepExpired()
		}
	}
}

// sweepExpired ends sessions past their expiry time that were never
// explicitly ended. This is the registry's only autonomous behavior.
func (r *Registry) sweepExpired() {
	now := time.Now().UTC()

	r.mu.RLock()
	var expired []string
	for id, s := range r.sessions {
		if s.Status != StatusEnded && s.Expired(now) {
			expired = append(expired, id)
		}
	}
	r.mu.RUnlock()

	for _, id := range expired {
		if err := r.end(id, "expired"); err != nil {
			r.logger.Error("Failed to expire session", logger.String("session_id", id), logger.Error(err))
		}
	}

	if len(expired) > 0 {
		r.logger.Info("Expired sessions swept", logger.Int("count", len(expired)))
	}
}

func (r *Registry) persistUpdate(s *Session) {
	if r.store == nil {
		return
	}
	if err := r.store.UpdateSession(s); err != nil {
		r.logger.Error("Failed to persist session update", logger.String("session_id", s.ID), logger.Error(err))
	}
}

func (s *Session) clone() *Session {
	c := *s
	return &c
}
