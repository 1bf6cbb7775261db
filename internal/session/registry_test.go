package session

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coveline/consult/internal/events"
	"github.com/coveline/consult/pkg/logger"
)

// memStore is an in-memory session.Store for tests
type memStore struct {
	mu       sync.Mutex
	saved    map[string]*Session
	saveErr  error
	loadErrs error
}

func newMemStore() *memStore {
	return &memStore{saved: make(map[string]*Session)}
}

func (m *memStore) SaveSession(s *Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.saveErr != nil {
		return m.saveErr
	}
	c := *s
	m.saved[s.ID] = &c
	return nil
}

func (m *memStore) UpdateSession(s *Session) error {
	return m.SaveSession(s)
}

func (m *memStore) LoadSessions() ([]*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.loadErrs != nil {
		return nil, m.loadErrs
	}
	out := make([]*Session, 0, len(m.saved))
	for _, s := range m.saved {
		c := *s
		out = append(out, &c)
	}
	return out, nil
}

func newTestRegistry(ttl time.Duration, store Store) *Registry {
	return NewRegistry(ttl, time.Minute, store, logger.NewNop())
}

func TestCreateSession(t *testing.T) {
	r := newTestRegistry(24*time.Hour, nil)

	s, err := r.Create(RoomRef{RoomID: "room-1", RoomSecret: "secret"})
	require.NoError(t, err)

	assert.NotEmpty(t, s.ID)
	assert.Equal(t, StatusPending, s.Status)
	assert.Equal(t, "room-1", s.Room.RoomID)
	assert.True(t, s.ExpiresAt.After(s.CreatedAt))

	got, err := r.Get(s.ID)
	require.NoError(t, err)
	assert.Equal(t, s.ID, got.ID)
}

func TestCreateRequiresRoom(t *testing.T) {
	r := newTestRegistry(24*time.Hour, nil)

	_, err := r.Create(RoomRef{})
	assert.ErrorIs(t, err, events.ErrInvalidInput)
}

func TestGetUnknownSession(t *testing.T) {
	r := newTestRegistry(24*time.Hour, nil)

	_, err := r.Get("missing")
	assert.ErrorIs(t, err, events.ErrSessionNotFound)

	_, err = r.Status("missing")
	assert.ErrorIs(t, err, events.ErrSessionNotFound)
}

func TestListNewestFirst(t *testing.T) {
	r := newTestRegistry(24*time.Hour, nil)

	first, err := r.Create(RoomRef{RoomID: "room-1"})
	require.NoError(t, err)
	time.Sleep(2 * time.Millisecond)
	second, err := r.Create(RoomRef{RoomID: "room-2"})
	require.NoError(t, err)

	list := r.List()
	require.Len(t, list, 2)
	assert.Equal(t, second.ID, list[0].ID)
	assert.Equal(t, first.ID, list[1].ID)
}

func TestMarkJoinedActivatesOnce(t *testing.T) {
	r := newTestRegistry(24*time.Hour, nil)
	s, err := r.Create(RoomRef{RoomID: "room-1"})
	require.NoError(t, err)

	require.NoError(t, r.MarkJoined(s.ID, events.RoleStaff))
	st, err := r.Status(s.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusActive, st)

	// Second join is idempotent
	require.NoError(t, r.MarkJoined(s.ID, events.RoleCustomer))
	st, _ = r.Status(s.ID)
	assert.Equal(t, StatusActive, st)
}

func TestMarkJoinedEndedSessionFails(t *testing.T) {
	r := newTestRegistry(24*time.Hour, nil)
	s, err := r.Create(RoomRef{RoomID: "room-1"})
	require.NoError(t, err)

	require.NoError(t, r.End(s.ID))
	err = r.MarkJoined(s.ID, events.RoleStaff)
	assert.ErrorIs(t, err, events.ErrInvalidState)
}

func TestEndIsIdempotentAndFiresHookOnce(t *testing.T) {
	r := newTestRegistry(24*time.Hour, nil)

	var mu sync.Mutex
	var calls []string
	r.SetEndHook(func(sessionID, reason string) {
		mu.Lock()
		defer mu.Unlock()
		calls = append(calls, sessionID+":"+reason)
	})

	s, err := r.Create(RoomRef{RoomID: "room-1"})
	require.NoError(t, err)

	require.NoError(t, r.End(s.ID))
	require.NoError(t, r.End(s.ID))

	got, err := r.Get(s.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusEnded, got.Status)
	assert.False(t, got.EndedAt.IsZero())

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{s.ID + ":ended"}, calls)
}

func TestEndUnknownSession(t *testing.T) {
	r := newTestRegistry(24*time.Hour, nil)
	assert.ErrorIs(t, r.End("missing"), events.ErrSessionNotFound)
}

func TestSweepExpiresOverdueSessions(t *testing.T) {
	r := newTestRegistry(time.Millisecond, nil)

	var mu sync.Mutex
	reasons := make(map[string]string)
	r.SetEndHook(func(sessionID, reason string) {
		mu.Lock()
		defer mu.Unlock()
		reasons[sessionID] = reason
	})

	s, err := r.Create(RoomRef{RoomID: "room-1"})
	require.NoError(t, err)

	time.Sleep(5 * time.Millisecond)
	r.sweepExpired()

	st, err := r.Status(s.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusEnded, st)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, "expired", reasons[s.ID])
}

func TestSweepSkipsEndedSessions(t *testing.T) {
	r := newTestRegistry(time.Millisecond, nil)

	var mu sync.Mutex
	var calls int
	r.SetEndHook(func(sessionID, reason string) {
		mu.Lock()
		defer mu.Unlock()
		calls++
	})

	s, err := r.Create(RoomRef{RoomID: "room-1"})
	require.NoError(t, err)
	require.NoError(t, r.End(s.ID))

	time.Sleep(5 * time.Millisecond)
	r.sweepExpired()

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 1, calls, "already-ended session must not fire the hook again")
}

func TestRegistryRestoresPersistedSessions(t *testing.T) {
	store := newMemStore()

	r1 := newTestRegistry(24*time.Hour, store)
	s, err := r1.Create(RoomRef{RoomID: "room-1", RoomSecret: "secret"})
	require.NoError(t, err)
	require.NoError(t, r1.End(s.ID))

	r2 := newTestRegistry(24*time.Hour, store)
	got, err := r2.Get(s.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusEnded, got.Status)
	assert.Equal(t, "room-1", got.Room.RoomID)
}
