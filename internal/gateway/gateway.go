// Package gateway terminates WebSocket connections for consultation
// sessions. Each connection is bound to a session and a role at upgrade time
// and becomes a router subscriber; everything a client may send or receive
// flows through that binding.
package gateway

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/coveline/consult/internal/events"
	"github.com/coveline/consult/internal/router"
	"github.com/coveline/consult/internal/session"
	"github.com/coveline/consult/pkg/logger"
)

// Gateway upgrades HTTP requests to WebSocket subscriptions
type Gateway struct {
	registry *session.Registry
	router   *router.Router
	upgrader websocket.Upgrader
	logger   *logger.Logger
}

// New creates a connection gateway
func New(registry *session.Registry, rt *router.Router, log *logger.Logger) *Gateway {
	return &Gateway{
		registry: registry,
		router:   rt,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true // Allow all origins
			},
		},
		logger: log.Named("gateway"),
	}
}

// establishedData is the payload of the connection.established greeting
type establishedData struct {
	SessionID string      `json:"session_id"`
	Role      events.Role `json:"role"`
}

// HandleConnection handles GET /ws/{sessionID}?role=staff|customer. Unknown
// sessions, ended sessions, and invalid roles are rejected before the
// upgrade so the client gets a real HTTP status.
func (g *Gateway) HandleConnection(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	role := events.Role(r.URL.Query().Get("role"))

	sess, err := g.registry.Get(sessionID)
	if err != nil {
		http.Error(w, "session not found", http.StatusNotFound)
		return
	}
	if sess.Status == session.StatusEnded {
		http.Error(w, "session has ended", http.StatusGone)
		return
	}
	if !events.ValidConnectionRole(role) {
		http.Error(w, "role must be staff or customer", http.StatusBadRequest)
		return
	}

	conn, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		g.logger.Error("Failed to upgrade connection", Error(err),
			String("remote_addr", r.RemoteAddr))
		return
	}

	client := &Client{
		sessionID: sessionID,
		role:      role,
		conn:      conn,
		send:      make(chan *events.Envelope, 256),
		gateway:   g,
		closeChan: make(chan struct{}),
	}

	// Queue the greeting before subscribing so it is the first frame the
	// client reads, ahead of its own participant.joined.
	client.sendDirect(greeting(sessionID, role))

	if err := g.router.Subscribe(sessionID, role, client); err != nil {
		// Session ended between the pre-upgrade check and the subscribe
		if err := conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "session has ended")); err != nil {
			g.logger.Debug("Failed to write close frame", Error(err),
				String("session_id", sessionID))
		}
		conn.Close()
		return
	}

	if err := g.registry.MarkJoined(sessionID, role); err != nil {
		g.logger.Warn("Failed to mark session joined", Error(err),
			String("session_id", sessionID))
	}

	go client.writePump()
	go client.readPump()

	g.logger.Info("Connection established",
		String("session_id", sessionID),
		String("role", string(role)),
		String("remote_addr", r.RemoteAddr))
}

// unregister detaches a client whose read pump ended. Unsubscribing an
// already-dropped or already-closed subscription is a no-op on the router
// side, so teardown paths can overlap safely.
func (g *Gateway) unregister(c *Client) {
	g.router.Unsubscribe(c.sessionID, c.role, c)
	g.logger.Info("Connection closed",
		String("session_id", c.sessionID),
		String("role", string(c.role)))
}

// greeting builds the connection-scoped connection.established message
func greeting(sessionID string, role events.Role) *events.Envelope {
	data, _ := json.Marshal(establishedData{SessionID: sessionID, Role: role})
	return &events.Envelope{
		EventType: events.TypeConnectionEstablished,
		SessionID: sessionID,
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
		Data:      data,
	}
}

// Import logger functions
var (
	String = logger.String
	Error  = logger.Error
)
