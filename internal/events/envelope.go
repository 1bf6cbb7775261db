package events

import (
	"encoding/json"
	"fmt"
	"time"
)

// Envelope is the JSON wire representation of an event, both directions.
// Seq is omitted on connection-scoped messages.
type Envelope struct {
	EventType string          `json:"event_type"`
	SessionID string          `json:"session_id"`
	Seq       uint64          `json:"seq,omitempty"`
	Timestamp string          `json:"timestamp"`
	Data      json.RawMessage `json:"data,omitempty"`
}

// Encode converts an event to its wire envelope
func Encode(ev *Event) (*Envelope, error) {
	data, err := json.Marshal(ev.Payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal event payload: %w", err)
	}
	return &Envelope{
		EventType: ev.Type,
		SessionID: ev.SessionID,
		Seq:       ev.Seq,
		Timestamp: ev.Timestamp.UTC().Format(time.RFC3339Nano),
		Data:      data,
	}, nil
}

// InboundTranscript is the only client-submitted message shape the gateway
// accepts. Any session_id or speaker claim in the envelope is ignored; the
// authenticated connection binding is substituted instead.
type InboundTranscript struct {
	Text       string  `json:"text"`
	Confidence float64 `json:"confidence,omitempty"`
}

// DecodeInbound parses a client message into a transcript submission.
// Unknown event types are rejected with ErrInvalidInput.
func DecodeInbound(raw []byte) (*InboundTranscript, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("%w: malformed envelope: %v", ErrInvalidInput, err)
	}
	if env.EventType != TypeTranscriptNew {
		return nil, fmt.Errorf("%w: unsupported inbound event type %q", ErrInvalidInput, env.EventType)
	}
	var in InboundTranscript
	if len(env.Data) > 0 {
		if err := json.Unmarshal(env.Data, &in); err != nil {
			return nil, fmt.Errorf("%w: malformed transcript payload: %v", ErrInvalidInput, err)
		}
	}
	if in.Text == "" {
		return nil, fmt.Errorf("%w: empty transcript text", ErrInvalidInput)
	}
	return &in, nil
}

// ErrorData is the payload of an error message sent back to the connection
// that originated a rejected publish.
type ErrorData struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// NewErrorEnvelope builds a connection-scoped error message
func NewErrorEnvelope(sessionID string, err error) *Envelope {
	data, _ := json.Marshal(ErrorData{Code: ErrorCode(err), Message: err.Error()})
	return &Envelope{
		EventType: TypeError,
		SessionID: sessionID,
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
		Data:      data,
	}
}
