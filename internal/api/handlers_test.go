package api_test

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coveline/consult/internal/api"
	"github.com/coveline/consult/internal/config"
	"github.com/coveline/consult/internal/events"
	"github.com/coveline/consult/internal/gateway"
	"github.com/coveline/consult/internal/router"
	"github.com/coveline/consult/internal/session"
	"github.com/coveline/consult/internal/storage/sqlite"
	"github.com/coveline/consult/pkg/logger"
)

type testAPI struct {
	registry *session.Registry
	router   *router.Router
	storage  *sqlite.Storage
	srv      *httptest.Server
}

func newTestAPI(t *testing.T) *testAPI {
	t.Helper()
	log := logger.NewNop()

	storage, err := sqlite.New(filepath.Join(t.TempDir(), "test.db"), log)
	require.NoError(t, err)
	t.Cleanup(func() { storage.Close() })

	registry := session.NewRegistry(24*time.Hour, time.Minute, storage, log)
	rt := router.New(registry, storage, log)
	registry.SetEndHook(rt.CloseSession)

	cfg := &config.Config{}
	cfg.Server.CORSAllowedOrigins = []string{"*"}

	gw := gateway.New(registry, rt, log)
	srv := httptest.NewServer(api.NewRouter(registry, rt, storage, gw, cfg, log).Routes())
	t.Cleanup(srv.Close)

	return &testAPI{registry: registry, router: rt, storage: storage, srv: srv}
}

func (a *testAPI) post(t *testing.T, path string, body any) *http.Response {
	t.Helper()
	raw, err := json.Marshal(body)
	require.NoError(t, err)
	resp, err := http.Post(a.srv.URL+path, "application/json", bytes.NewReader(raw))
	require.NoError(t, err)
	return resp
}

func (a *testAPI) get(t *testing.T, path string) *http.Response {
	t.Helper()
	resp, err := http.Get(a.srv.URL + path)
	require.NoError(t, err)
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	defer resp.Body.Close()
	var out T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return out
}

func TestCreateSessionEndpoint(t *testing.T) {
	a := newTestAPI(t)

	resp := a.post(t, "/api/sessions", map[string]string{
		"room_id":     "room-1",
		"room_secret": "secret",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	sess := decode[session.Session](t, resp)
	assert.NotEmpty(t, sess.ID)
	assert.Equal(t, session.StatusPending, sess.Status)
	assert.Equal(t, "room-1", sess.Room.RoomID)
}

func TestCreateSessionRequiresRoom(t *testing.T) {
	a := newTestAPI(t)

	resp := a.post(t, "/api/sessions", map[string]string{})
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestGetSessionEndpoint(t *testing.T) {
	a := newTestAPI(t)

	created, err := a.registry.Create(session.RoomRef{RoomID: "room-1"})
	require.NoError(t, err)

	resp := a.get(t, "/api/sessions/"+created.ID)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	sess := decode[session.Session](t, resp)
	assert.Equal(t, created.ID, sess.ID)

	resp = a.get(t, "/api/sessions/does-not-exist")
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestListSessionsEndpoint(t *testing.T) {
	a := newTestAPI(t)

	_, err := a.registry.Create(session.RoomRef{RoomID: "room-1"})
	require.NoError(t, err)
	_, err = a.registry.Create(session.RoomRef{RoomID: "room-2"})
	require.NoError(t, err)

	resp := a.get(t, "/api/sessions")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	body := decode[struct {
		Sessions []session.Session `json:"sessions"`
	}](t, resp)
	assert.Len(t, body.Sessions, 2)
}

func TestEndSessionEndpoint(t *testing.T) {
	a := newTestAPI(t)

	created, err := a.registry.Create(session.RoomRef{RoomID: "room-1"})
	require.NoError(t, err)

	resp := a.post(t, "/api/sessions/"+created.ID+"/end", nil)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	got, err := a.registry.Get(created.ID)
	require.NoError(t, err)
	assert.Equal(t, session.StatusEnded, got.Status)

	// Ending again still succeeds
	resp = a.post(t, "/api/sessions/"+created.ID+"/end", nil)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp = a.post(t, "/api/sessions/missing/end", nil)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestSessionEventsEndpoint(t *testing.T) {
	a := newTestAPI(t)

	created, err := a.registry.Create(session.RoomRef{RoomID: "room-1"})
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		ev, err := events.NewTranscript(events.RoleCustomer, "a persisted fragment", 0.9)
		require.NoError(t, err)
		_, err = a.router.Publish(created.ID, events.RoleCustomer, ev)
		require.NoError(t, err)
	}

	resp := a.get(t, "/api/sessions/" + created.ID + "/events")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	body := decode[struct {
		SessionID string                `json:"session_id"`
		Count     int                   `json:"count"`
		Events    []*sqlite.EventRecord `json:"events"`
	}](t, resp)
	assert.Equal(t, created.ID, body.SessionID)
	require.Equal(t, 3, body.Count)
	for i, rec := range body.Events {
		assert.Equal(t, uint64(i+1), rec.Seq)
	}
}

func TestHealthEndpoint(t *testing.T) {
	a := newTestAPI(t)

	resp := a.get(t, "/api/health")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	body := decode[map[string]any](t, resp)
	assert.Equal(t, "ok", body["status"])
}

func TestCORSHeaders(t *testing.T) {
	a := newTestAPI(t)

	req, err := http.NewRequest(http.MethodGet, a.srv.URL+"/api/health", nil)
	require.NoError(t, err)
	req.Header.Set("Origin", "http://example.com")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "http://example.com", resp.Header.Get("Access-Control-Allow-Origin"))
}
