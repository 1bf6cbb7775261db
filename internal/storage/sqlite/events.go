package sqlite

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/coveline/consult/internal/events"
)

// EventRecord is one broadcast event as persisted for history queries
type EventRecord struct {
	SessionID string          `json:"session_id"`
	Seq       uint64          `json:"seq"`
	EventType string          `json:"event_type"`
	CreatedAt time.Time       `json:"timestamp"`
	Payload   json.RawMessage `json:"data"`
}

// StoreEvent persists one event of a session's total order
func (s *Storage) StoreEvent(ev *events.Event) error {
	payload, err := json.Marshal(ev.Payload)
	if err != nil {
		return fmt.Errorf("failed to marshal event payload: %w", err)
	}

	_, err = s.db.Exec(
		`INSERT INTO events (session_id, seq, event_type, created_at, payload)
		VALUES (?, ?, ?, ?, ?)`,
		ev.SessionID,
		ev.Seq,
		ev.Type,
		ev.Timestamp.Format(time.RFC3339Nano),
		string(payload),
	)
	if err != nil {
		return fmt.Errorf("failed to insert event: %w", err)
	}
	return nil
}

// GetEvents returns a session's events in sequence order with pagination
func (s *Storage) GetEvents(sessionID string, limit, offset int) ([]*EventRecord, error) {
	rows, err := s.db.Query(
		`SELECT session_id, seq, event_type, created_at, payload
		FROM events
		WHERE session_id = ?
		ORDER BY seq ASC
		LIMIT ? OFFSET ?`,
		sessionID, limit, offset,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query events: %w", err)
	}
	defer rows.Close()

	var records []*EventRecord
	for rows.Next() {
		var record EventRecord
		var createdAt, payload string

		if err := rows.Scan(
			&record.SessionID,
			&record.Seq,
			&record.EventType,
			&createdAt,
			&payload,
		); err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}

		record.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt)
		if err != nil {
			return nil, fmt.Errorf("failed to parse created_at: %w", err)
		}
		record.Payload = json.RawMessage(payload)

		records = append(records, &record)
	}

	return records, rows.Err()
}
