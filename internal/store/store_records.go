package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"marginalia/internal/listening"
)

const noteColumns = "id, user_id, book_id, type, content, session_id, created_at, updated_at"

func scanNote(scanner rowScanner) (*listening.Note, error) {
	var (
		note       listening.Note
		noteType   string
		sessionID  sql.NullString
		createdRaw string
		updatedRaw string
	)
	if err := scanner.Scan(&note.ID, &note.UserID, &note.BookID, &noteType, &note.Content, &sessionID, &createdRaw, &updatedRaw); err != nil {
		return nil, err
	}
	note.Type = listening.NoteType(noteType)
	note.SessionID = sessionID.String
	if t, err := parseTimeString(createdRaw); err == nil {
		note.CreatedAt = t
	}
	if t, err := parseTimeString(updatedRaw); err == nil {
		note.UpdatedAt = t
	}
	return &note, nil
}

// GetNote fetches a note by id, returning (nil, nil) when absent.
func (s *Store) GetNote(ctx context.Context, id string) (*listening.Note, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+noteColumns+` FROM notes WHERE id = ?`, id)
	note, err := scanNote(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get note: %w", err)
	}
	return note, nil
}

// InsertNote stores a new note.
func (s *Store) InsertNote(ctx context.Context, note *listening.Note) error {
	now := time.Now().UTC()
	if note.CreatedAt.IsZero() {
		note.CreatedAt = now
	}
	if note.UpdatedAt.IsZero() {
		note.UpdatedAt = note.CreatedAt
	}
	if err := s.execWithoutResultRetry(ctx,
		`INSERT INTO notes (`+noteColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		note.ID, note.UserID, note.BookID, string(note.Type), note.Content,
		nullableString(note.SessionID), formatTime(note.CreatedAt), formatTime(note.UpdatedAt),
	); err != nil {
		return fmt.Errorf("insert note: %w", err)
	}
	return nil
}

// UpdateNote replaces a note's content and type.
func (s *Store) UpdateNote(ctx context.Context, note *listening.Note) error {
	if note.UpdatedAt.IsZero() {
		note.UpdatedAt = time.Now().UTC()
	}
	res, err := s.execWithRetry(ctx,
		`UPDATE notes SET type = ?, content = ?, updated_at = ? WHERE id = ?`,
		string(note.Type), note.Content, formatTime(note.UpdatedAt), note.ID,
	)
	if err != nil {
		return fmt.Errorf("update note: %w", err)
	}
	if affected, err := res.RowsAffected(); err == nil && affected == 0 {
		return fmt.Errorf("update note %s: not found", note.ID)
	}
	return nil
}

// DeleteNote removes a note. Deleting a missing note is a no-op.
func (s *Store) DeleteNote(ctx context.Context, id string) error {
	if err := s.execWithoutResultRetry(ctx, `DELETE FROM notes WHERE id = ?`, id); err != nil {
		return fmt.Errorf("delete note: %w", err)
	}
	return nil
}

// RecentNotes returns the user's most recently updated notes.
func (s *Store) RecentNotes(ctx context.Context, userID string, limit int) ([]listening.Note, error) {
	if limit <= 0 {
		return nil, nil
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+noteColumns+` FROM notes WHERE user_id = ? ORDER BY updated_at DESC, id ASC LIMIT ?`,
		userID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("recent notes: %w", err)
	}
	defer rows.Close()

	var notes []listening.Note
	for rows.Next() {
		note, err := scanNote(rows)
		if err != nil {
			return nil, fmt.Errorf("scan note: %w", err)
		}
		notes = append(notes, *note)
	}
	return notes, rows.Err()
}

// TranscriptExists reports whether a transcript was stored for the session.
func (s *Store) TranscriptExists(ctx context.Context, sessionID string) (bool, error) {
	return s.exists(ctx, `SELECT 1 FROM transcripts WHERE session_id = ? LIMIT 1`, sessionID)
}

// InsertTranscript appends a transcript record.
func (s *Store) InsertTranscript(ctx context.Context, transcript *listening.Transcript) error {
	if transcript.CreatedAt.IsZero() {
		transcript.CreatedAt = time.Now().UTC()
	}
	if err := s.execWithoutResultRetry(ctx,
		`INSERT INTO transcripts (id, session_id, book_id, user_id, provider, content, created_at)
         VALUES (?, ?, ?, ?, ?, ?, ?)`,
		transcript.ID, transcript.SessionID, transcript.BookID, transcript.UserID,
		transcript.Provider, transcript.Content, formatTime(transcript.CreatedAt),
	); err != nil {
		return fmt.Errorf("insert transcript: %w", err)
	}
	return nil
}

// TranscriptForSession returns the session's transcript, or nil.
func (s *Store) TranscriptForSession(ctx context.Context, sessionID string) (*listening.Transcript, error) {
	var (
		transcript listening.Transcript
		createdRaw string
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT id, session_id, book_id, user_id, provider, content, created_at
         FROM transcripts WHERE session_id = ? ORDER BY created_at ASC LIMIT 1`,
		sessionID,
	).Scan(&transcript.ID, &transcript.SessionID, &transcript.BookID, &transcript.UserID,
		&transcript.Provider, &transcript.Content, &createdRaw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get transcript: %w", err)
	}
	if t, err := parseTimeString(createdRaw); err == nil {
		transcript.CreatedAt = t
	}
	return &transcript, nil
}

// ArtifactsExist reports whether an artifact batch was stored for the session.
func (s *Store) ArtifactsExist(ctx context.Context, sessionID string) (bool, error) {
	return s.exists(ctx, `SELECT 1 FROM artifacts WHERE session_id = ? LIMIT 1`, sessionID)
}

// InsertArtifacts stores one artifact batch in a single transaction.
func (s *Store) InsertArtifacts(ctx context.Context, artifacts []*listening.Artifact) error {
	if len(artifacts) == 0 {
		return nil
	}
	ctx = ensureContext(ctx)
	return retryOnBusy(ctx, func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin artifacts tx: %w", err)
		}
		defer func() { _ = tx.Rollback() }()

		stmt, err := tx.PrepareContext(ctx,
			`INSERT INTO artifacts (id, session_id, book_id, user_id, kind, title, content, provider, created_at)
             VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`)
		if err != nil {
			return fmt.Errorf("prepare artifact insert: %w", err)
		}
		defer stmt.Close()

		for _, a := range artifacts {
			created := a.CreatedAt
			if created.IsZero() {
				created = time.Now().UTC()
			}
			if _, err := stmt.ExecContext(ctx, a.ID, a.SessionID, a.BookID, a.UserID, string(a.Kind),
				a.Title, a.Content, a.Provider, formatTime(created)); err != nil {
				return fmt.Errorf("insert artifact: %w", err)
			}
		}
		return tx.Commit()
	})
}

// ArtifactsForSession returns the session's artifacts in insertion order.
func (s *Store) ArtifactsForSession(ctx context.Context, sessionID string) ([]listening.Artifact, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, session_id, book_id, user_id, kind, title, content, provider, created_at
         FROM artifacts WHERE session_id = ? ORDER BY rowid ASC`,
		sessionID,
	)
	if err != nil {
		return nil, fmt.Errorf("list artifacts: %w", err)
	}
	defer rows.Close()

	var artifacts []listening.Artifact
	for rows.Next() {
		var (
			a          listening.Artifact
			kind       string
			createdRaw string
		)
		if err := rows.Scan(&a.ID, &a.SessionID, &a.BookID, &a.UserID, &kind, &a.Title, &a.Content, &a.Provider, &createdRaw); err != nil {
			return nil, fmt.Errorf("scan artifact: %w", err)
		}
		a.Kind = listening.ArtifactKind(kind)
		if t, err := parseTimeString(createdRaw); err == nil {
			a.CreatedAt = t
		}
		artifacts = append(artifacts, a)
	}
	return artifacts, rows.Err()
}

const bookColumns = "id, user_id, title, author, description, private, status, updated_at"

func scanBook(scanner rowScanner) (*listening.Book, error) {
	var (
		book        listening.Book
		author      sql.NullString
		description sql.NullString
		private     int64
		status      string
		updatedRaw  string
	)
	if err := scanner.Scan(&book.ID, &book.UserID, &book.Title, &author, &description, &private, &status, &updatedRaw); err != nil {
		return nil, err
	}
	book.Author = author.String
	book.Description = description.String
	book.Private = private != 0
	book.Status = listening.BookStatus(status)
	if t, err := parseTimeString(updatedRaw); err == nil {
		book.UpdatedAt = t
	}
	return &book, nil
}

// GetBook fetches a library book, returning (nil, nil) when absent.
func (s *Store) GetBook(ctx context.Context, id string) (*listening.Book, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+bookColumns+` FROM books WHERE id = ?`, id)
	book, err := scanBook(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get book: %w", err)
	}
	return book, nil
}

// UpsertBook inserts or replaces a library book. Book CRUD belongs to the
// library service; the daemon only mirrors what it needs for ownership checks
// and context packing.
func (s *Store) UpsertBook(ctx context.Context, book *listening.Book) error {
	if book.UpdatedAt.IsZero() {
		book.UpdatedAt = time.Now().UTC()
	}
	if err := s.execWithoutResultRetry(ctx,
		`INSERT INTO books (`+bookColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
         ON CONFLICT(id) DO UPDATE SET user_id = excluded.user_id, title = excluded.title,
             author = excluded.author, description = excluded.description, private = excluded.private,
             status = excluded.status, updated_at = excluded.updated_at`,
		book.ID, book.UserID, book.Title, nullableString(book.Author), nullableString(book.Description),
		boolToInt(book.Private), string(book.Status), formatTime(book.UpdatedAt),
	); err != nil {
		return fmt.Errorf("upsert book: %w", err)
	}
	return nil
}

// ListBooks returns every book in the user's library.
func (s *Store) ListBooks(ctx context.Context, userID string) ([]listening.Book, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+bookColumns+` FROM books WHERE user_id = ? ORDER BY updated_at DESC, id ASC`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("list books: %w", err)
	}
	defer rows.Close()

	var books []listening.Book
	for rows.Next() {
		book, err := scanBook(rows)
		if err != nil {
			return nil, fmt.Errorf("scan book: %w", err)
		}
		books = append(books, *book)
	}
	return books, rows.Err()
}

func (s *Store) exists(ctx context.Context, query string, args ...any) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx, query, args...).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}
