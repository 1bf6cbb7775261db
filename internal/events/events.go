package events

import (
	"fmt"
	"time"
)

// Event types broadcast through the router
const (
	TypeTranscriptNew     = "transcript.new"
	TypeAIProcessing      = "ai.processing"
	TypeRAGContext        = "rag.context"
	TypeAIAnswer          = "ai.answer"
	TypeParticipantJoined = "participant.joined"
	TypeParticipantLeft   = "participant.left"
	TypeSessionEnded      = "session.ended"
)

// Connection-scoped message types, sent directly to a single connection
// and never assigned a sequence number
const (
	TypeConnectionEstablished = "connection.established"
	TypeError                 = "error"
)

// Role identifies the visibility class of a connection
type Role string

const (
	RoleStaff    Role = "staff"
	RoleCustomer Role = "customer"
	// RoleSystem marks events originated by the pipeline rather than a connection
	RoleSystem Role = "system"
)

// ValidConnectionRole reports whether a role may be bound to a connection.
// System is reserved for internally originated events.
func ValidConnectionRole(r Role) bool {
	return r == RoleStaff || r == RoleCustomer
}

// Passage is one retrieved knowledge-base excerpt supporting an answer
type Passage struct {
	Text     string  `json:"text"`
	SourceID string  `json:"source_id"`
	Score    float64 `json:"score"`
}

// TranscriptPayload carries one transcribed speech fragment
type TranscriptPayload struct {
	Speaker    Role    `json:"speaker"`
	Text       string  `json:"text"`
	Confidence float64 `json:"confidence,omitempty"`
}

// AIProcessingPayload signals that a customer fragment entered the pipeline
type AIProcessingPayload struct {
	Query string `json:"query"`
}

// RAGContextPayload carries the passages retrieved for a query
type RAGContextPayload struct {
	Query        string    `json:"query"`
	Passages     []Passage `json:"passages"`
	TotalResults int       `json:"total_results"`
}

// AIAnswerPayload carries a generated answer suggestion
type AIAnswerPayload struct {
	Query      string    `json:"query"`
	Answer     string    `json:"answer"`
	FollowUp   string    `json:"follow_up_question,omitempty"`
	Confidence float64   `json:"confidence"`
	Passages   []Passage `json:"passages,omitempty"`
}

// ParticipantPayload describes a join/leave of a connection
type ParticipantPayload struct {
	Role Role `json:"role"`
}

// SessionEndedPayload carries the reason a session ended
type SessionEndedPayload struct {
	Reason string `json:"reason"` // "ended" or "expired"
}

// Event is one immutable message in a session's total order. Seq is assigned
// by the router when the event is accepted for broadcast, never by producers.
type Event struct {
	Type      string
	SessionID string
	Seq       uint64
	Timestamp time.Time
	Payload   any
}

// NewTranscript builds a transcript.new event body. The sequence number and
// session binding are filled in by the router.
func NewTranscript(speaker Role, text string, confidence float64) (*Event, error) {
	if text == "" {
		return nil, fmt.Errorf("%w: empty transcript text", ErrInvalidInput)
	}
	if !ValidConnectionRole(speaker) {
		return nil, fmt.Errorf("%w: invalid speaker role %q", ErrInvalidInput, speaker)
	}
	return &Event{
		Type:    TypeTranscriptNew,
		Payload: TranscriptPayload{Speaker: speaker, Text: text, Confidence: confidence},
	}, nil
}

// NewAIProcessing builds an ai.processing event body
func NewAIProcessing(query string) *Event {
	return &Event{Type: TypeAIProcessing, Payload: AIProcessingPayload{Query: query}}
}

// NewRAGContext builds a rag.context event body
func NewRAGContext(query string, passages []Passage) *Event {
	return &Event{
		Type: TypeRAGContext,
		Payload: RAGContextPayload{
			Query:        query,
			Passages:     passages,
			TotalResults: len(passages),
		},
	}
}

// NewAIAnswer builds an ai.answer event body
func NewAIAnswer(query, answer, followUp string, confidence float64, passages []Passage) (*Event, error) {
	if answer == "" {
		return nil, fmt.Errorf("%w: empty answer", ErrInvalidInput)
	}
	return &Event{
		Type: TypeAIAnswer,
		Payload: AIAnswerPayload{
			Query:      query,
			Answer:     answer,
			FollowUp:   followUp,
			Confidence: confidence,
			Passages:   passages,
		},
	}, nil
}

// NewParticipantJoined builds a participant.joined event body
func NewParticipantJoined(role Role) *Event {
	return &Event{Type: TypeParticipantJoined, Payload: ParticipantPayload{Role: role}}
}

// NewParticipantLeft builds a participant.left event body
func NewParticipantLeft(role Role) *Event {
	return &Event{Type: TypeParticipantLeft, Payload: ParticipantPayload{Role: role}}
}

// NewSessionEnded builds a session.ended event body
func NewSessionEnded(reason string) *Event {
	return &Event{Type: TypeSessionEnded, Payload: SessionEndedPayload{Reason: reason}}
}

// StaffOnly reports whether an event type is restricted to staff-role
// subscribers. AI-derived content must never reach a customer connection.
func StaffOnly(eventType string) bool {
	switch eventType {
	case TypeAIProcessing, TypeRAGContext, TypeAIAnswer:
		return true
	}
	return false
}
