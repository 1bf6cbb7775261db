package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/coveline/consult/internal/config"
	"github.com/coveline/consult/internal/events"
	"github.com/coveline/consult/internal/router"
	"github.com/coveline/consult/internal/session"
	"github.com/coveline/consult/internal/storage/sqlite"
	"github.com/coveline/consult/pkg/logger"
)

// Handler contains the API handlers
type Handler struct {
	registry    *session.Registry
	eventRouter *router.Router
	storage     *sqlite.Storage
	config      *config.Config
	logger      *logger.Logger
	startedAt   time.Time
}

// NewHandler creates a new API handler
func NewHandler(registry *session.Registry, eventRouter *router.Router, storage *sqlite.Storage, config *config.Config, logger *logger.Logger) *Handler {
	return &Handler{
		registry:    registry,
		eventRouter: eventRouter,
		storage:     storage,
		config:      config,
		logger:      logger.Named("api-handler"),
		startedAt:   time.Now().UTC(),
	}
}

// createSessionRequest is the body of POST /api/sessions
type createSessionRequest struct {
	RoomID     string `json:"room_id"`
	RoomSecret string `json:"room_secret"`
}

// CreateSession creates a new consultation session
func (h *Handler) CreateSession(w http.ResponseWriter, r *http.Request) {
	var req createSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	sess, err := h.registry.Create(session.RoomRef{
		RoomID:     req.RoomID,
		RoomSecret: req.RoomSecret,
	})
	if err != nil {
		if errors.Is(err, events.ErrInvalidInput) {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		h.logger.Error("Failed to create session", logger.Error(err))
		http.Error(w, "failed to create session", http.StatusInternalServerError)
		return
	}

	h.logger.Info("Created session",
		logger.String("session_id", sess.ID),
		logger.String("room_id", sess.Room.RoomID))

	WriteJSON(w, http.StatusCreated, sess)
}

// ListSessions returns all known sessions, newest first
func (h *Handler) ListSessions(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusOK, map[string]any{
		"sessions": h.registry.List(),
	})
}

// GetSession returns one session by ID
func (h *Handler) GetSession(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.lookupSession(w, r)
	if !ok {
		return
	}
	WriteJSON(w, http.StatusOK, sess)
}

// EndSession ends a session. Ending an already-ended session succeeds.
func (h *Handler) EndSession(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.lookupSession(w, r)
	if !ok {
		return
	}

	if err := h.registry.End(sess.ID); err != nil {
		h.logger.Error("Failed to end session",
			logger.String("session_id", sess.ID),
			logger.Error(err))
		http.Error(w, "failed to end session", http.StatusInternalServerError)
		return
	}

	h.logger.Info("Ended session", logger.String("session_id", sess.ID))

	WriteJSON(w, http.StatusOK, map[string]string{
		"status":     "success",
		"session_id": sess.ID,
	})
}

// GetSessionEvents returns the persisted event history of a session in
// sequence order
func (h *Handler) GetSessionEvents(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.lookupSession(w, r)
	if !ok {
		return
	}

	limit := parseIntParam(r, "limit", 100)
	offset := parseIntParam(r, "offset", 0)

	records, err := h.storage.GetEvents(sess.ID, limit, offset)
	if err != nil {
		h.logger.Error("Failed to load events",
			logger.String("session_id", sess.ID),
			logger.Error(err))
		http.Error(w, "failed to load events", http.StatusInternalServerError)
		return
	}

	WriteJSON(w, http.StatusOK, map[string]any{
		"session_id": sess.ID,
		"count":      len(records),
		"events":     records,
	})
}

// Health returns service liveness plus basic counters
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusOK, map[string]any{
		"status":      "ok",
		"uptime":      time.Since(h.startedAt).Round(time.Second).String(),
		"sessions":    len(h.registry.List()),
		"subscribers": h.eventRouter.SubscriberCount(""),
	})
}

func (h *Handler) lookupSession(w http.ResponseWriter, r *http.Request) (*session.Session, bool) {
	sessionID := chi.URLParam(r, "sessionID")
	sess, err := h.registry.Get(sessionID)
	if err != nil {
		http.Error(w, "session not found", http.StatusNotFound)
		return nil, false
	}
	return sess, true
}

func parseIntParam(r *http.Request, name string, fallback int) int {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return fallback
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 0 {
		return fallback
	}
	return v
}

// WriteJSON writes a JSON response
func WriteJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}
