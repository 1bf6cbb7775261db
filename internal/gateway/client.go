package gateway

import (
	"encoding/json"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/coveline/consult/internal/events"
)

// Client represents one WebSocket connection bound to a session and role.
// The binding is fixed at upgrade time; inbound messages cannot change it.
type Client struct {
	sessionID string
	role      events.Role
	conn      *websocket.Conn
	send      chan *events.Envelope
	gateway   *Gateway
	mu        sync.Mutex
	closed    bool
	closeChan chan struct{}
}

// Deliver implements router.Subscriber. It encodes the event and hands it to
// the write pump without blocking; a full send buffer reports the client dead.
func (c *Client) Deliver(ev *events.Event) bool {
	env, err := events.Encode(ev)
	if err != nil {
		c.gateway.logger.Error("Failed to encode event", Error(err),
			String("event_type", ev.Type))
		return true // encoding failure is not the client's fault
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}

	select {
	case c.send <- env:
		return true
	default:
		// Channel is full, drop the client rather than stall the broadcast
		return false
	}
}

// CloseSubscription implements router.Subscriber. It stops the pumps; the
// read pump's teardown handles unregistration.
func (c *Client) CloseSubscription() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closeLocked()
}

func (c *Client) closeLocked() {
	if c.closed {
		return
	}
	c.closed = true
	close(c.closeChan)
}

// sendDirect queues a connection-scoped message (no sequence number) for this
// client only.
func (c *Client) sendDirect(env *events.Envelope) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	select {
	case c.send <- env:
	default:
	}
}

// readPump pumps inbound messages from the connection into the router
func (c *Client) readPump() {
	defer func() {
		c.mu.Lock()
		c.closeLocked()
		c.mu.Unlock()
		c.gateway.unregister(c)
		c.conn.Close()
	}()

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure, websocket.CloseNormalClosure) {
				c.gateway.logger.Error("WebSocket read error", Error(err),
					String("session_id", c.sessionID))
			}
			return
		}

		c.handleInbound(raw)
	}
}

// handleInbound validates one client message and publishes it under the
// connection's binding. Rejections go back to this connection only.
func (c *Client) handleInbound(raw []byte) {
	in, err := events.DecodeInbound(raw)
	if err != nil {
		c.sendDirect(events.NewErrorEnvelope(c.sessionID, err))
		return
	}

	ev, err := events.NewTranscript(c.role, in.Text, in.Confidence)
	if err != nil {
		c.sendDirect(events.NewErrorEnvelope(c.sessionID, err))
		return
	}

	if _, err := c.gateway.router.Publish(c.sessionID, c.role, ev); err != nil {
		c.sendDirect(events.NewErrorEnvelope(c.sessionID, err))
	}
}

// writePump pumps queued envelopes to the connection
func (c *Client) writePump() {
	defer c.conn.Close()

	for {
		select {
		case env, ok := <-c.send:
			if !ok {
				// Best effort; the peer may already be gone
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.writeEnvelope(env); err != nil {
				return
			}

		case <-c.closeChan:
			// Frames accepted before the close may still be queued. Deliver
			// stops enqueueing once closed is set, so this drain is finite
			// and a slow reader still sees everything up to session.ended.
			for {
				select {
				case env := <-c.send:
					if err := c.writeEnvelope(env); err != nil {
						return
					}
				default:
					_ = c.conn.WriteMessage(websocket.CloseMessage,
						websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
					return
				}
			}
		}
	}
}

// writeEnvelope writes one envelope as a text frame. A marshal failure skips
// the frame; a transport failure ends the pump.
func (c *Client) writeEnvelope(env *events.Envelope) error {
	w, err := c.conn.NextWriter(websocket.TextMessage)
	if err != nil {
		return err
	}

	data, err := json.Marshal(env)
	if err != nil {
		c.gateway.logger.Error("Failed to marshal envelope", Error(err))
		w.Close()
		return nil
	}

	if _, err := w.Write(data); err != nil {
		w.Close()
		return err
	}
	return w.Close()
}
