package sqlite

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/coveline/consult/internal/session"
)

// SaveSession inserts a new session record
func (s *Storage) SaveSession(sess *session.Session) error {
	_, err := s.db.Exec(
		`INSERT INTO sessions (id, status, room_id, room_secret, created_at, expires_at, ended_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		sess.ID,
		string(sess.Status),
		sess.Room.RoomID,
		sess.Room.RoomSecret,
		sess.CreatedAt.Format(time.RFC3339),
		sess.ExpiresAt.Format(time.RFC3339),
		nullableTime(sess.EndedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to insert session: %w", err)
	}
	return nil
}

// UpdateSession updates the mutable fields of a session record
func (s *Storage) UpdateSession(sess *session.Session) error {
	_, err := s.db.Exec(
		`UPDATE sessions SET status = ?, ended_at = ? WHERE id = ?`,
		string(sess.Status),
		nullableTime(sess.EndedAt),
		sess.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update session: %w", err)
	}
	return nil
}

// LoadSessions returns all persisted sessions
func (s *Storage) LoadSessions() ([]*session.Session, error) {
	rows, err := s.db.Query(
		`SELECT id, status, room_id, room_secret, created_at, expires_at, ended_at FROM sessions`,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query sessions: %w", err)
	}
	defer rows.Close()

	var sessions []*session.Session
	for rows.Next() {
		var sess session.Session
		var status, createdAt, expiresAt string
		var endedAt sql.NullString

		if err := rows.Scan(
			&sess.ID,
			&status,
			&sess.Room.RoomID,
			&sess.Room.RoomSecret,
			&createdAt,
			&expiresAt,
			&endedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan session: %w", err)
		}

		sess.Status = session.Status(status)
		sess.CreatedAt, err = time.Parse(time.RFC3339, createdAt)
		if err != nil {
			return nil, fmt.Errorf("failed to parse created_at: %w", err)
		}
		sess.ExpiresAt, err = time.Parse(time.RFC3339, expiresAt)
		if err != nil {
			return nil, fmt.Errorf("failed to parse expires_at: %w", err)
		}
		if endedAt.Valid && endedAt.String != "" {
			sess.EndedAt, err = time.Parse(time.RFC3339, endedAt.String)
			if err != nil {
				return nil, fmt.Errorf("failed to parse ended_at: %w", err)
			}
		}

		sessions = append(sessions, &sess)
	}

	return sessions, rows.Err()
}

func nullableTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t.Format(time.RFC3339)
}
