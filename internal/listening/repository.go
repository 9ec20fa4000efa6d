package listening

import (
	"context"
	"time"

	"marginalia/internal/events"
)

// SessionRepository persists listening sessions.
//
// GetSession returns (nil, nil) when the session does not exist.
// CreateSession returns ErrOnlyOneActiveSession when another active session
// already exists for the same (user, book). UpdateSession only writes when the
// stored version matches session.Version and returns ErrConcurrentUpdate
// otherwise; on success it bumps session.Version.
type SessionRepository interface {
	CreateSession(ctx context.Context, session *Session) error
	GetSession(ctx context.Context, id string) (*Session, error)
	UpdateSession(ctx context.Context, session *Session) error
	FindActiveByOwnerAndSubject(ctx context.Context, userID, bookID string) (*Session, error)
	FindStaleByStatus(ctx context.Context, status Status, before time.Time) ([]*Session, error)
	ListSessionsForBook(ctx context.Context, userID, bookID string) ([]*Session, error)
}

// NoteRepository reads and writes user notes. GetNote returns (nil, nil) for
// missing notes; DeleteNote of a missing note is not an error.
type NoteRepository interface {
	GetNote(ctx context.Context, id string) (*Note, error)
	InsertNote(ctx context.Context, note *Note) error
	UpdateNote(ctx context.Context, note *Note) error
	DeleteNote(ctx context.Context, id string) error
}

// TranscriptRepository stores the append-only transcript records.
type TranscriptRepository interface {
	TranscriptExists(ctx context.Context, sessionID string) (bool, error)
	InsertTranscript(ctx context.Context, transcript *Transcript) error
}

// ArtifactRepository stores the append-only artifact batches.
type ArtifactRepository interface {
	ArtifactsExist(ctx context.Context, sessionID string) (bool, error)
	InsertArtifacts(ctx context.Context, artifacts []*Artifact) error
}

// BookDirectory resolves library books. GetBook returns (nil, nil) for
// missing books.
type BookDirectory interface {
	GetBook(ctx context.Context, id string) (*Book, error)
}

// Store is everything the service needs from persistence.
type Store interface {
	SessionRepository
	NoteRepository
	TranscriptRepository
	ArtifactRepository
	BookDirectory
}

// Scheduler operation names.
const (
	OpProcessSession = "process-session"
	OpRecoverStuck   = "recover-stuck"
)

// Scheduler enqueues named operations. Payloads are opaque strings; for
// OpProcessSession the payload is the session id.
type Scheduler interface {
	ScheduleAfter(delay time.Duration, op, payload string) error
	ScheduleEvery(interval time.Duration, op string) error
}

// EventPublisher receives a notification after every successful transition.
type EventPublisher interface {
	Publish(evt events.SessionEvent)
}
