package session

import "time"

// Status is the lifecycle state of a session
type Status string

const (
	StatusPending Status = "pending"
	StatusActive  Status = "active"
	StatusEnded   Status = "ended"
)

// RoomRef is the opaque meeting-room binding handed out by the external
// conferencing provider. The secret is only ever returned to participants.
type RoomRef struct {
	RoomID     string `json:"room_id"`
	RoomSecret string `json:"room_secret"`
}

// Session is one consultation instance
type Session struct {
	ID        string    `json:"id"`
	Status    Status    `json:"status"`
	Room      RoomRef   `json:"room"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
	EndedAt   time.Time `json:"ended_at,omitempty"`
}

// Expired reports whether the session has crossed its expiry time
func (s *Session) Expired(now time.Time) bool {
	return now.After(s.ExpiresAt)
}
