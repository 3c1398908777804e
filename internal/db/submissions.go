// ABOUTME: Submission database operations for creating, resolving, and completing VM create attempts.
package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

// SubmissionStatus is the lifecycle state of a recorded VM create attempt.
type SubmissionStatus string

const (
	// SubmissionPending marks an attempt that has been dispatched but not resolved.
	SubmissionPending SubmissionStatus = "pending"
	// SubmissionSuccess marks an attempt the backend acknowledged with a VM id.
	SubmissionSuccess SubmissionStatus = "success"
	// SubmissionError marks an attempt the backend rejected or that timed out.
	SubmissionError SubmissionStatus = "error"
)

// ErrSubmissionFinal is returned when a submission that already reached a
// terminal status is asked to change state again. Terminal rows are
// immutable; late backend responses for an old token must not overwrite
// the recorded outcome.
var ErrSubmissionFinal = errors.New("submission already finalized")

// Submission is one recorded VM create attempt, keyed by its correlation token.
type Submission struct {
	Token       string
	SessionID   string
	VMName      string
	Status      SubmissionStatus
	VMID        string
	ClusterID   string
	TemplateID  string
	Payload     string
	CreatedAt   time.Time
	CompletedAt time.Time
}

// Failure is one stored error message attributed to a submission token.
type Failure struct {
	ID        int64
	Token     string
	Message   string
	CreatedAt time.Time
}

// CreateSubmission inserts a new pending submission row.
func (s *Store) CreateSubmission(ctx context.Context, sub Submission) error {
	if s == nil || s.DB == nil {
		return errors.New("db store is nil")
	}
	if sub.Token == "" {
		return errors.New("submission token is required")
	}
	if sub.SessionID == "" {
		return errors.New("submission session_id is required")
	}
	if sub.VMName == "" {
		return errors.New("submission vm_name is required")
	}
	status := sub.Status
	if status == "" {
		status = SubmissionPending
	}
	createdAt := sub.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	_, err := s.DB.ExecContext(ctx, `INSERT INTO submissions (
		token, session_id, vm_name, status, vm_id, cluster_id, template_id, payload, created_at, completed_at
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		sub.Token,
		sub.SessionID,
		sub.VMName,
		status,
		nullIfEmpty(sub.VMID),
		nullIfEmpty(sub.ClusterID),
		nullIfEmpty(sub.TemplateID),
		nullIfEmpty(sub.Payload),
		formatTime(createdAt),
		nil,
	)
	if err != nil {
		return fmt.Errorf("insert submission %s: %w", sub.Token, err)
	}
	return nil
}

// GetSubmission loads a submission by its correlation token.
func (s *Store) GetSubmission(ctx context.Context, token string) (Submission, error) {
	if s == nil || s.DB == nil {
		return Submission{}, errors.New("db store is nil")
	}
	row := s.DB.QueryRowContext(ctx, `SELECT token, session_id, vm_name, status, vm_id, cluster_id, template_id, payload, created_at, completed_at
		FROM submissions WHERE token = ?`, token)
	return scanSubmissionRow(row)
}

// ListSubmissionsBySession returns all attempts recorded for a wizard session,
// oldest first so attempt order matches the token counter.
func (s *Store) ListSubmissionsBySession(ctx context.Context, sessionID string) ([]Submission, error) {
	if s == nil || s.DB == nil {
		return nil, errors.New("db store is nil")
	}
	if sessionID == "" {
		return nil, errors.New("session id is required")
	}
	rows, err := s.DB.QueryContext(ctx, `SELECT token, session_id, vm_name, status, vm_id, cluster_id, template_id, payload, created_at, completed_at
		FROM submissions WHERE session_id = ?
		ORDER BY created_at ASC, token ASC`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("list submissions for session %s: %w", sessionID, err)
	}
	defer rows.Close()
	var out []Submission
	for rows.Next() {
		sub, err := scanSubmissionRow(rows)
		if err != nil {
			return nil, fmt.Errorf("scan submission: %w", err)
		}
		out = append(out, sub)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate submissions: %w", err)
	}
	return out, nil
}

// CompleteSubmission transitions a pending submission to a terminal status.
//
// Only pending rows may be completed. Returns ErrSubmissionFinal if the row
// already carries a terminal status and sql.ErrNoRows if the token is unknown.
func (s *Store) CompleteSubmission(ctx context.Context, token string, status SubmissionStatus, vmID string) error {
	if s == nil || s.DB == nil {
		return errors.New("db store is nil")
	}
	if token == "" {
		return errors.New("submission token is required")
	}
	if status != SubmissionSuccess && status != SubmissionError {
		return fmt.Errorf("status %q is not terminal", status)
	}
	completedAt := formatTime(time.Now().UTC())
	res, err := s.DB.ExecContext(ctx, `UPDATE submissions SET status = ?, vm_id = ?, completed_at = ?
		WHERE token = ? AND status = ?`, status, nullIfEmpty(vmID), completedAt, token, SubmissionPending)
	if err != nil {
		return fmt.Errorf("complete submission %s: %w", token, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected submission %s: %w", token, err)
	}
	if affected > 0 {
		return nil
	}
	var exists int
	if err := s.DB.QueryRowContext(ctx, `SELECT COUNT(*) FROM submissions WHERE token = ?`, token).Scan(&exists); err != nil {
		return fmt.Errorf("check submission %s: %w", token, err)
	}
	if exists > 0 {
		return ErrSubmissionFinal
	}
	return sql.ErrNoRows
}

// Results returns the outcome of every completed submission keyed by token.
// Pending attempts are absent; resolve treats an absent token as in progress.
func (s *Store) Results(ctx context.Context) (map[string]bool, error) {
	if s == nil || s.DB == nil {
		return nil, errors.New("db store is nil")
	}
	rows, err := s.DB.QueryContext(ctx, `SELECT token, status FROM submissions WHERE status IN (?, ?)`,
		SubmissionSuccess, SubmissionError)
	if err != nil {
		return nil, fmt.Errorf("list submission results: %w", err)
	}
	defer rows.Close()
	out := make(map[string]bool)
	for rows.Next() {
		var token, status string
		if err := rows.Scan(&token, &status); err != nil {
			return nil, fmt.Errorf("scan submission result: %w", err)
		}
		if token == "" {
			continue
		}
		out[token] = status == string(SubmissionSuccess)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate submission results: %w", err)
	}
	return out, nil
}

// CountSubmissionsByStatus returns a count of submissions grouped by status.
func (s *Store) CountSubmissionsByStatus(ctx context.Context) (map[SubmissionStatus]int, error) {
	if s == nil || s.DB == nil {
		return nil, errors.New("db store is nil")
	}
	rows, err := s.DB.QueryContext(ctx, `SELECT status, COUNT(*) FROM submissions GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("count submissions: %w", err)
	}
	defer rows.Close()
	out := make(map[SubmissionStatus]int)
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, fmt.Errorf("scan submission count: %w", err)
		}
		if status == "" {
			continue
		}
		out[SubmissionStatus(status)] = count
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate submission counts: %w", err)
	}
	return out, nil
}

// InsertFailure records an error message for a submission token.
func (s *Store) InsertFailure(ctx context.Context, token, message string) error {
	if s == nil || s.DB == nil {
		return errors.New("db store is nil")
	}
	if token == "" {
		return errors.New("failure token is required")
	}
	if strings.TrimSpace(message) == "" {
		return errors.New("failure message is required")
	}
	createdAt := formatTime(time.Now().UTC())
	if _, err := s.DB.ExecContext(ctx, `INSERT INTO failures (token, message, created_at) VALUES (?, ?, ?)`,
		token, message, createdAt); err != nil {
		return fmt.Errorf("insert failure for %s: %w", token, err)
	}
	return nil
}

// FailuresFor returns the stored failure messages for one token, oldest first.
func (s *Store) FailuresFor(ctx context.Context, token string) ([]Failure, error) {
	if s == nil || s.DB == nil {
		return nil, errors.New("db store is nil")
	}
	if token == "" {
		return nil, errors.New("failure token is required")
	}
	rows, err := s.DB.QueryContext(ctx, `SELECT id, token, message, created_at FROM failures
		WHERE token = ? ORDER BY id ASC`, token)
	if err != nil {
		return nil, fmt.Errorf("list failures for %s: %w", token, err)
	}
	defer rows.Close()
	return collectFailures(rows)
}

// AllFailures returns every stored failure message, oldest first.
func (s *Store) AllFailures(ctx context.Context) ([]Failure, error) {
	if s == nil || s.DB == nil {
		return nil, errors.New("db store is nil")
	}
	rows, err := s.DB.QueryContext(ctx, `SELECT id, token, message, created_at FROM failures ORDER BY id ASC`)
	if err != nil {
		return nil, fmt.Errorf("list failures: %w", err)
	}
	defer rows.Close()
	return collectFailures(rows)
}

func collectFailures(rows *sql.Rows) ([]Failure, error) {
	var out []Failure
	for rows.Next() {
		var f Failure
		var createdAt string
		if err := rows.Scan(&f.ID, &f.Token, &f.Message, &createdAt); err != nil {
			return nil, fmt.Errorf("scan failure: %w", err)
		}
		if createdAt != "" {
			ts, err := parseTime(createdAt)
			if err != nil {
				return nil, fmt.Errorf("parse failure created_at: %w", err)
			}
			f.CreatedAt = ts
		}
		out = append(out, f)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate failures: %w", err)
	}
	return out, nil
}

func scanSubmissionRow(scanner interface{ Scan(dest ...any) error }) (Submission, error) {
	var sub Submission
	var status string
	var vmID sql.NullString
	var clusterID sql.NullString
	var templateID sql.NullString
	var payload sql.NullString
	var createdAt string
	var completedAt sql.NullString
	if err := scanner.Scan(
		&sub.Token,
		&sub.SessionID,
		&sub.VMName,
		&status,
		&vmID,
		&clusterID,
		&templateID,
		&payload,
		&createdAt,
		&completedAt,
	); err != nil {
		return Submission{}, err
	}
	if status == "" {
		return Submission{}, errors.New("submission status missing")
	}
	sub.Status = SubmissionStatus(status)
	if vmID.Valid {
		sub.VMID = vmID.String
	}
	if clusterID.Valid {
		sub.ClusterID = clusterID.String
	}
	if templateID.Valid {
		sub.TemplateID = templateID.String
	}
	if payload.Valid {
		sub.Payload = payload.String
	}
	var err error
	if createdAt != "" {
		sub.CreatedAt, err = parseTime(createdAt)
		if err != nil {
			return Submission{}, fmt.Errorf("parse created_at: %w", err)
		}
	}
	if completedAt.Valid && completedAt.String != "" {
		sub.CompletedAt, err = parseTime(completedAt.String)
		if err != nil {
			return Submission{}, fmt.Errorf("parse completed_at: %w", err)
		}
	}
	return sub, nil
}
