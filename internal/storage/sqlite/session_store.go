package sqlite

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// DefaultRecentLimit is the row count RecentSessions returns when limit <= 0.
const DefaultRecentLimit = 100

// Session is one peer attachment to a pipe server.
type Session struct {
	ID        string
	PipeName  string
	StartedAt time.Time
	EndedAt   time.Time
	BytesIn   int64
	BytesOut  int64
	Error     string
}

// Duration returns how long the peer was attached.
func (s Session) Duration() time.Duration {
	return s.EndedAt.Sub(s.StartedAt)
}

// SessionStore records served sessions.
type SessionStore struct {
	db *DB
}

// NewSessionStore creates a new session store.
func NewSessionStore(db *DB) *SessionStore {
	return &SessionStore{db: db}
}

// RecordSession inserts a session. An empty ID is filled with a new UUID.
// Times are stored in UTC so the stored text orders chronologically.
func (s *SessionStore) RecordSession(ctx context.Context, sess *Session) error {
	if sess == nil {
		return errors.New("nil session")
	}
	if sess.ID == "" {
		sess.ID = uuid.NewString()
	}

	_, err := s.db.conn.ExecContext(ctx, `
		INSERT INTO sessions (id, pipe_name, started_at, ended_at, bytes_in, bytes_out, error)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, sess.ID, sess.PipeName, sess.StartedAt.UTC(), sess.EndedAt.UTC(), sess.BytesIn, sess.BytesOut, sess.Error)
	return err
}

// RecentSessions returns the most recent sessions, newest first.
func (s *SessionStore) RecentSessions(ctx context.Context, limit int) ([]Session, error) {
	if limit <= 0 {
		limit = DefaultRecentLimit
	}

	rows, err := s.db.conn.QueryContext(ctx, `
		SELECT id, pipe_name, started_at, ended_at, bytes_in, bytes_out, error
		FROM sessions
		ORDER BY started_at DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sessions []Session
	for rows.Next() {
		var sess Session
		if err := rows.Scan(&sess.ID, &sess.PipeName, &sess.StartedAt, &sess.EndedAt,
			&sess.BytesIn, &sess.BytesOut, &sess.Error); err != nil {
			return nil, err
		}
		sessions = append(sessions, sess)
	}
	return sessions, rows.Err()
}

// PruneBefore deletes sessions that started before t and returns the count removed.
func (s *SessionStore) PruneBefore(ctx context.Context, t time.Time) (int64, error) {
	result, err := s.db.conn.ExecContext(ctx, `DELETE FROM sessions WHERE started_at < ?`, t.UTC())
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}
