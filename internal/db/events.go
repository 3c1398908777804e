package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Event is one append-only audit record. Session and token scopes are
// optional; lifecycle events such as daemon startup carry neither.
type Event struct {
	ID        int64
	Timestamp time.Time
	Kind      string
	SessionID string
	Token     string
	Message   string
}

// RecordEvent appends an audit event. Empty session and token scopes are
// stored as NULL so scoped queries stay selective.
func (s *Store) RecordEvent(ctx context.Context, kind, sessionID, token, message string) error {
	if s == nil || s.DB == nil {
		return errors.New("db store is nil")
	}
	kind = strings.TrimSpace(kind)
	if kind == "" {
		return errors.New("event kind is required")
	}
	ts := formatTime(time.Now().UTC())
	_, err := s.DB.ExecContext(ctx, `INSERT INTO events (ts, kind, session_id, token, msg) VALUES (?, ?, ?, ?, ?)`,
		ts, kind, nullIfEmpty(sessionID), nullIfEmpty(token), nullIfEmpty(message))
	if err != nil {
		return fmt.Errorf("record event %s: %w", kind, err)
	}
	return nil
}

// ListEventsBySession returns events for a session with id greater than
// afterID, oldest first, capped at limit.
func (s *Store) ListEventsBySession(ctx context.Context, sessionID string, afterID int64, limit int) ([]Event, error) {
	if s == nil || s.DB == nil {
		return nil, errors.New("db store is nil")
	}
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return nil, errors.New("session id is required")
	}
	if limit <= 0 {
		return nil, errors.New("limit must be positive")
	}
	rows, err := s.DB.QueryContext(ctx, `SELECT id, ts, kind, session_id, token, msg
		FROM events WHERE session_id = ? AND id > ? ORDER BY id ASC LIMIT ?`, sessionID, afterID, limit)
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	defer rows.Close()
	return collectEvents(rows)
}

// ListEventsByToken returns events scoped to one correlation token, oldest first.
func (s *Store) ListEventsByToken(ctx context.Context, token string, limit int) ([]Event, error) {
	if s == nil || s.DB == nil {
		return nil, errors.New("db store is nil")
	}
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, errors.New("token is required")
	}
	if limit <= 0 {
		return nil, errors.New("limit must be positive")
	}
	rows, err := s.DB.QueryContext(ctx, `SELECT id, ts, kind, session_id, token, msg
		FROM events WHERE token = ? ORDER BY id ASC LIMIT ?`, token, limit)
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	defer rows.Close()
	return collectEvents(rows)
}

// ListEventsTail returns the most recent events across all scopes in
// chronological order.
func (s *Store) ListEventsTail(ctx context.Context, limit int) ([]Event, error) {
	if s == nil || s.DB == nil {
		return nil, errors.New("db store is nil")
	}
	if limit <= 0 {
		return nil, errors.New("limit must be positive")
	}
	rows, err := s.DB.QueryContext(ctx, `SELECT id, ts, kind, session_id, token, msg
		FROM events ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list events tail: %w", err)
	}
	defer rows.Close()
	out, err := collectEvents(rows)
	if err != nil {
		return nil, err
	}
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

func collectEvents(rows *sql.Rows) ([]Event, error) {
	var out []Event
	for rows.Next() {
		ev, err := scanEventRow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate events: %w", err)
	}
	return out, nil
}

func scanEventRow(scanner interface{ Scan(dest ...any) error }) (Event, error) {
	var ev Event
	var ts string
	var kind string
	var sessionID sql.NullString
	var token sql.NullString
	var msg sql.NullString
	if err := scanner.Scan(&ev.ID, &ts, &kind, &sessionID, &token, &msg); err != nil {
		return Event{}, err
	}
	if ts != "" {
		parsed, err := parseTime(ts)
		if err != nil {
			return Event{}, fmt.Errorf("parse event ts: %w", err)
		}
		ev.Timestamp = parsed
	}
	ev.Kind = kind
	if sessionID.Valid {
		ev.SessionID = sessionID.String
	}
	if token.Valid {
		ev.Token = token.String
	}
	if msg.Valid {
		ev.Message = msg.String
	}
	return ev, nil
}
