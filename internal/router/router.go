// Package router implements the per-session publish/subscribe hub: it
// assigns the single total order of events within a session, enforces
// role-based visibility, and hands customer transcript fragments to the
// AI pipeline without blocking ingestion.
package router

import (
	"fmt"
	"sync"
	"time"

	"github.com/coveline/consult/internal/events"
	"github.com/coveline/consult/internal/session"
	"github.com/coveline/consult/pkg/logger"
)

// Subscriber is one delivery handle, owned by the gateway. Deliver must not
// block; returning false marks the subscriber dead and it is dropped.
type Subscriber interface {
	Deliver(ev *events.Event) bool
	CloseSubscription()
}

// StatusSource answers whether a session may currently accept events
type StatusSource interface {
	Status(sessionID string) (session.Status, error)
}

// EventStore persists accepted events for history queries. Persistence is
// best-effort: a storage failure never blocks or fails a broadcast.
type EventStore interface {
	StoreEvent(ev *events.Event) error
}

// FragmentSink receives customer transcript fragments for asynchronous
// retrieval+generation. Enqueue must return immediately.
type FragmentSink interface {
	Enqueue(sessionID, text string)
}

// hub holds the mutable per-session state. All mutation happens under mu,
// which serializes sequence assignment and broadcast ordering per session.
// closed is set by CloseSession under mu so a publisher that won the hub
// lookup race still observes the close.
type hub struct {
	mu     sync.Mutex
	seq    uint64
	closed bool
	subs   map[events.Role]map[Subscriber]struct{}
}

func newHub() *hub {
	return &hub{subs: make(map[events.Role]map[Subscriber]struct{})}
}

// Router is the ordering/visibility/broadcast authority for all sessions
type Router struct {
	mu     sync.Mutex
	hubs   map[string]*hub
	closed map[string]struct{} // sessions CloseSession has torn down, retained like the registry's ended sessions

	status StatusSource
	store  EventStore
	sink   FragmentSink
	logger *logger.Logger
}

// New creates an event router. store may be nil to disable history.
func New(status StatusSource, store EventStore, log *logger.Logger) *Router {
	return &Router{
		hubs:   make(map[string]*hub),
		closed: make(map[string]struct{}),
		status: status,
		store:  store,
		logger: log.Named("event-router"),
	}
}

// SetFragmentSink wires the AI pipeline. Must be called before serving.
func (r *Router) SetFragmentSink(sink FragmentSink) {
	r.sink = sink
}

// hub returns the live hub for a session. It refuses to recreate state for a
// session the router has already closed, so a stale status read can never
// resurrect a hub behind CloseSession's back.
func (r *Router) hub(sessionID string) (*hub, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.closed[sessionID]; ok {
		return nil, fmt.Errorf("%w: %s", events.ErrSessionClosed, sessionID)
	}
	h, ok := r.hubs[sessionID]
	if !ok {
		h = newHub()
		r.hubs[sessionID] = h
	}
	return h, nil
}

// Subscribe registers a delivery handle for (sessionID, role) and announces
// the join to every subscriber of the session.
func (r *Router) Subscribe(sessionID string, role events.Role, sub Subscriber) error {
	if !events.ValidConnectionRole(role) {
		return fmt.Errorf("%w: invalid role %q", events.ErrInvalidInput, role)
	}
	if err := r.checkOpen(sessionID); err != nil {
		return err
	}

	h, err := r.hub(sessionID)
	if err != nil {
		return err
	}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return fmt.Errorf("%w: %s", events.ErrSessionClosed, sessionID)
	}
	if h.subs[role] == nil {
		h.subs[role] = make(map[Subscriber]struct{})
	}
	h.subs[role][sub] = struct{}{}
	r.emitLocked(h, sessionID, events.NewParticipantJoined(role))
	h.mu.Unlock()

	r.logger.Info("Subscriber added",
		logger.String("session_id", sessionID),
		logger.String("role", string(role)))
	return nil
}

// Unsubscribe removes a delivery handle and announces the departure. It never
// fails: removing an unknown handle is a no-op, and the session stays in its
// current lifecycle state even when the last subscriber leaves.
func (r *Router) Unsubscribe(sessionID string, role events.Role, sub Subscriber) {
	r.mu.Lock()
	h, ok := r.hubs[sessionID]
	r.mu.Unlock()
	if !ok {
		return
	}

	h.mu.Lock()
	set := h.subs[role]
	if set == nil {
		h.mu.Unlock()
		return
	}
	if _, present := set[sub]; !present {
		h.mu.Unlock()
		return
	}
	delete(set, sub)
	r.emitLocked(h, sessionID, events.NewParticipantLeft(role))
	h.mu.Unlock()

	r.logger.Info("Subscriber removed",
		logger.String("session_id", sessionID),
		logger.String("role", string(role)))
}

// Publish accepts an event body for a session, assigns its sequence number,
// broadcasts it per the visibility rule for its type, and, for customer
// transcript fragments, enqueues the AI pipeline task after the broadcast so
// the derived answer always carries a higher sequence number.
func (r *Router) Publish(sessionID string, origin events.Role, ev *events.Event) (*events.Event, error) {
	if err := r.checkOpen(sessionID); err != nil {
		return nil, err
	}

	h, err := r.hub(sessionID)
	if err != nil {
		return nil, err
	}

	h.mu.Lock()
	// The status read above happened outside the hub lock; a CloseSession
	// interleaved since then is visible here as the closed flag.
	if h.closed {
		h.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", events.ErrSessionClosed, sessionID)
	}
	stamped := r.emitLocked(h, sessionID, ev)
	h.mu.Unlock()

	if ev.Type == events.TypeTranscriptNew && origin == events.RoleCustomer && r.sink != nil {
		if payload, ok := ev.Payload.(events.TranscriptPayload); ok {
			r.sink.Enqueue(sessionID, payload.Text)
		}
	}

	return stamped, nil
}

// CloseSession emits session.ended to every subscriber, closes all
// subscriptions, and discards the per-session state. Called by the registry's
// end hook. Publishers racing the close observe either the closed-sessions
// set or the hub's closed flag and fail with ErrSessionClosed, so no event
// can enter the order after session.ended.
func (r *Router) CloseSession(sessionID, reason string) {
	r.mu.Lock()
	r.closed[sessionID] = struct{}{}
	h, ok := r.hubs[sessionID]
	if ok {
		delete(r.hubs, sessionID)
	}
	r.mu.Unlock()
	if !ok {
		return
	}

	h.mu.Lock()
	h.closed = true
	r.emitLocked(h, sessionID, events.NewSessionEnded(reason))
	var all []Subscriber
	for _, set := range h.subs {
		for sub := range set {
			all = append(all, sub)
		}
	}
	h.subs = make(map[events.Role]map[Subscriber]struct{})
	h.mu.Unlock()

	for _, sub := range all {
		sub.CloseSubscription()
	}

	r.logger.Info("Session subscriptions closed",
		logger.String("session_id", sessionID),
		logger.String("reason", reason),
		logger.Int("subscribers", len(all)))
}

// SubscriberCount returns the number of live subscriptions, across all
// sessions when sessionID is empty.
func (r *Router) SubscriberCount(sessionID string) int {
	r.mu.Lock()
	var hubs []*hub
	if sessionID == "" {
		for _, h := range r.hubs {
			hubs = append(hubs, h)
		}
	} else if h, ok := r.hubs[sessionID]; ok {
		hubs = append(hubs, h)
	}
	r.mu.Unlock()

	count := 0
	for _, h := range hubs {
		h.mu.Lock()
		for _, set := range h.subs {
			count += len(set)
		}
		h.mu.Unlock()
	}
	return count
}

func (r *Router) checkOpen(sessionID string) error {
	st, err := r.status.Status(sessionID)
	if err != nil {
		return err
	}
	if st == session.StatusEnded {
		return fmt.Errorf("%w: %s", events.ErrSessionClosed, sessionID)
	}
	return nil
}

// emitLocked assigns the next sequence number, persists the event, and fans
// it out to eligible subscribers. Caller holds h.mu; this is the critical
// section that makes the per-session order total.
func (r *Router) emitLocked(h *hub, sessionID string, ev *events.Event) *events.Event {
	h.seq++
	ev.SessionID = sessionID
	ev.Seq = h.seq
	ev.Timestamp = time.Now().UTC()

	if r.store != nil {
		if err := r.store.StoreEvent(ev); err != nil {
			r.logger.Error("Failed to persist event",
				logger.String("session_id", sessionID),
				logger.String("event_type", ev.Type),
				logger.Uint64("seq", ev.Seq),
				logger.Error(err))
		}
	}

	staffOnly := events.StaffOnly(ev.Type)
	for role, set := range h.subs {
		if staffOnly && role != events.RoleStaff {
			continue
		}
		for sub := range set {
			if !sub.Deliver(ev) {
				// Dead or saturated subscriber: isolate it so the rest of
				// the fan-out proceeds. Its connection teardown follows on
				// the gateway side.
				delete(set, sub)
				r.logger.Warn("Dropped unresponsive subscriber",
					logger.String("session_id", sessionID),
					logger.String("role", string(role)))
			}
		}
	}

	return ev
}
