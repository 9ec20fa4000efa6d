package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"marginalia/internal/listening"
)

// CreateSession inserts a new session at version 1.
func (s *Store) CreateSession(ctx context.Context, session *listening.Session) error {
	if session == nil {
		return errors.New("create session: nil session")
	}
	now := time.Now().UTC()
	if session.CreatedAt.IsZero() {
		session.CreatedAt = now
	}
	if session.UpdatedAt.IsZero() {
		session.UpdatedAt = now
	}
	if session.StartedAt.IsZero() {
		session.StartedAt = session.CreatedAt
	}
	args, err := sessionArgs(session)
	if err != nil {
		return fmt.Errorf("encode session: %w", err)
	}
	args = append([]any{session.ID}, args...)
	args = append(args, 1, formatTime(session.CreatedAt), formatTime(session.UpdatedAt))

	query := `INSERT INTO listening_sessions (` + sessionColumns + `) VALUES (` + makePlaceholders(29) + `)`
	if err := s.execWithoutResultRetry(ctx, query, args...); err != nil {
		if isActiveSessionConflict(err) {
			return listening.ErrOnlyOneActiveSession
		}
		return fmt.Errorf("insert session: %w", err)
	}
	session.Version = 1
	return nil
}

// GetSession fetches a session by id, returning (nil, nil) when absent.
func (s *Store) GetSession(ctx context.Context, id string) (*listening.Session, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+sessionColumns+` FROM listening_sessions WHERE id = ?`, id)
	session, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get session: %w", err)
	}
	return session, nil
}

// UpdateSession writes every mutable column when session.Version matches the
// stored version, then bumps the version.
func (s *Store) UpdateSession(ctx context.Context, session *listening.Session) error {
	if session == nil {
		return errors.New("update session: nil session")
	}
	if session.UpdatedAt.IsZero() {
		session.UpdatedAt = time.Now().UTC()
	}
	args, err := sessionArgs(session)
	if err != nil {
		return fmt.Errorf("encode session: %w", err)
	}
	args = append(args, formatTime(session.UpdatedAt), session.ID, session.Version)

	res, err := s.execWithRetry(
		ctx,
		`UPDATE listening_sessions
         SET user_id = ?, book_id = ?, status = ?, started_at = ?, ended_at = ?, duration_ms = ?,
             cap_duration_ms = ?, warning_duration_ms = ?, cap_reached = ?, retry_count = ?,
             last_retry_at = ?, failed_stage = ?, last_error = ?, transcribe_latency_ms = ?,
             synthesis_latency_ms = ?, transcribe_fallback_used = ?, degraded_mode = ?,
             estimated_cost_usd = ?, audio_url = ?, transcript_live = ?, transcript_provider = ?,
             synthesis_provider = ?, transcript_chars = ?, raw_note_id = ?, synthesized_note_ids = ?,
             updated_at = ?, version = version + 1
         WHERE id = ? AND version = ?`,
		args...,
	)
	if err != nil {
		if isActiveSessionConflict(err) {
			return listening.ErrOnlyOneActiveSession
		}
		return fmt.Errorf("update session: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update session rows: %w", err)
	}
	if affected == 0 {
		return listening.ErrConcurrentUpdate
	}
	session.Version++
	return nil
}

// FindActiveByOwnerAndSubject returns the user's non-terminal session for a
// book, or nil.
func (s *Store) FindActiveByOwnerAndSubject(ctx context.Context, userID, bookID string) (*listening.Session, error) {
	args := []any{userID, bookID}
	active := listening.ActiveStatuses()
	for _, status := range active {
		args = append(args, string(status))
	}
	row := s.db.QueryRowContext(ctx,
		`SELECT `+sessionColumns+` FROM listening_sessions
         WHERE user_id = ? AND book_id = ? AND status IN (`+makePlaceholders(len(active))+`)
         ORDER BY started_at DESC LIMIT 1`,
		args...,
	)
	session, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find active session: %w", err)
	}
	return session, nil
}

// FindStaleByStatus returns sessions in status whose updated_at is before the
// cutoff, oldest first.
func (s *Store) FindStaleByStatus(ctx context.Context, status listening.Status, before time.Time) ([]*listening.Session, error) {
	return s.querySessions(ctx,
		`SELECT `+sessionColumns+` FROM listening_sessions
         WHERE status = ? AND updated_at < ?
         ORDER BY updated_at ASC, id ASC`,
		string(status), formatTime(before),
	)
}

// ListSessionsForBook returns the user's sessions for a book, newest first.
func (s *Store) ListSessionsForBook(ctx context.Context, userID, bookID string) ([]*listening.Session, error) {
	return s.querySessions(ctx,
		`SELECT `+sessionColumns+` FROM listening_sessions
         WHERE user_id = ? AND book_id = ?
         ORDER BY started_at DESC, id ASC`,
		userID, bookID,
	)
}

// ListSessions returns sessions across all users, most recently updated
// first, optionally filtered by status. A limit <= 0 returns everything.
func (s *Store) ListSessions(ctx context.Context, limit int, statuses ...listening.Status) ([]*listening.Session, error) {
	query := `SELECT ` + sessionColumns + ` FROM listening_sessions`
	args := make([]any, 0, len(statuses)+1)
	if len(statuses) > 0 {
		query += ` WHERE status IN (` + makePlaceholders(len(statuses)) + `)`
		for _, status := range statuses {
			args = append(args, string(status))
		}
	}
	query += ` ORDER BY updated_at DESC, id ASC`
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	return s.querySessions(ctx, query, args...)
}

func (s *Store) querySessions(ctx context.Context, query string, args ...any) ([]*listening.Session, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query sessions: %w", err)
	}
	defer rows.Close()

	var sessions []*listening.Session
	for rows.Next() {
		session, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		sessions = append(sessions, session)
	}
	return sessions, rows.Err()
}
