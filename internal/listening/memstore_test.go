package listening_test

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"marginalia/internal/listening"
)

type memStore struct {
	mu          sync.Mutex
	sessions    map[string]*listening.Session
	notes       map[string]*listening.Note
	books       map[string]*listening.Book
	transcripts []*listening.Transcript
	artifacts   []*listening.Artifact
	updates     int
	conflicts   int
}

func newMemStore() *memStore {
	return &memStore{
		sessions: make(map[string]*listening.Session),
		notes:    make(map[string]*listening.Note),
		books:    make(map[string]*listening.Book),
	}
}

func (m *memStore) addBook(id, userID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.books[id] = &listening.Book{ID: id, UserID: userID, Title: "Book " + id, Status: listening.BookCurrentlyReading}
}

func (m *memStore) put(session *listening.Session) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[session.ID] = session.Clone()
}

func (m *memStore) session(id string) *listening.Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sessions[id].Clone()
}

func (m *memStore) notesOfType(kind listening.NoteType) []*listening.Note {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*listening.Note
	for _, note := range m.notes {
		if note.Type == kind {
			cp := *note
			out = append(out, &cp)
		}
	}
	return out
}

func (m *memStore) CreateSession(_ context.Context, session *listening.Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.sessions {
		if existing.UserID == session.UserID && existing.BookID == session.BookID && existing.Status.IsActive() {
			return listening.ErrOnlyOneActiveSession
		}
	}
	session.Version = 1
	m.sessions[session.ID] = session.Clone()
	return nil
}

func (m *memStore) GetSession(_ context.Context, id string) (*listening.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sessions[id].Clone(), nil
}

func (m *memStore) UpdateSession(_ context.Context, session *listening.Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.conflicts > 0 {
		m.conflicts--
		m.sessions[session.ID].Version++
		return listening.ErrConcurrentUpdate
	}
	current, ok := m.sessions[session.ID]
	if !ok || current.Version != session.Version {
		return listening.ErrConcurrentUpdate
	}
	session.Version++
	m.sessions[session.ID] = session.Clone()
	m.updates++
	return nil
}

func (m *memStore) FindActiveByOwnerAndSubject(_ context.Context, userID, bookID string) (*listening.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, session := range m.sessions {
		if session.UserID == userID && session.BookID == bookID && session.Status.IsActive() {
			return session.Clone(), nil
		}
	}
	return nil, nil
}

func (m *memStore) FindStaleByStatus(_ context.Context, status listening.Status, before time.Time) ([]*listening.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*listening.Session
	for _, session := range m.sessions {
		if session.Status == status && session.UpdatedAt.Before(before) {
			out = append(out, session.Clone())
		}
	}
	return out, nil
}

func (m *memStore) ListSessionsForBook(_ context.Context, userID, bookID string) ([]*listening.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*listening.Session
	for _, session := range m.sessions {
		if session.UserID == userID && session.BookID == bookID {
			out = append(out, session.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.After(out[j].StartedAt) })
	return out, nil
}

func (m *memStore) GetNote(_ context.Context, id string) (*listening.Note, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	note, ok := m.notes[id]
	if !ok {
		return nil, nil
	}
	cp := *note
	return &cp, nil
}

func (m *memStore) InsertNote(_ context.Context, note *listening.Note) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.notes[note.ID]; ok {
		return fmt.Errorf("duplicate note %s", note.ID)
	}
	cp := *note
	m.notes[note.ID] = &cp
	return nil
}

func (m *memStore) UpdateNote(_ context.Context, note *listening.Note) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.notes[note.ID]; !ok {
		return fmt.Errorf("missing note %s", note.ID)
	}
	cp := *note
	m.notes[note.ID] = &cp
	return nil
}

func (m *memStore) DeleteNote(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.notes, id)
	return nil
}

func (m *memStore) TranscriptExists(_ context.Context, sessionID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, t := range m.transcripts {
		if t.SessionID == sessionID {
			return true, nil
		}
	}
	return false, nil
}

func (m *memStore) InsertTranscript(_ context.Context, transcript *listening.Transcript) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *transcript
	m.transcripts = append(m.transcripts, &cp)
	return nil
}

func (m *memStore) ArtifactsExist(_ context.Context, sessionID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, a := range m.artifacts {
		if a.SessionID == sessionID {
			return true, nil
		}
	}
	return false, nil
}

func (m *memStore) InsertArtifacts(_ context.Context, artifacts []*listening.Artifact) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, a := range artifacts {
		cp := *a
		m.artifacts = append(m.artifacts, &cp)
	}
	return nil
}

func (m *memStore) GetBook(_ context.Context, id string) (*listening.Book, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	book, ok := m.books[id]
	if !ok {
		return nil, nil
	}
	cp := *book
	return &cp, nil
}

type scheduledCall struct {
	delay   time.Duration
	op      string
	payload string
}

type recordingScheduler struct {
	mu    sync.Mutex
	calls []scheduledCall
}

func (r *recordingScheduler) ScheduleAfter(delay time.Duration, op, payload string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, scheduledCall{delay: delay, op: op, payload: payload})
	return nil
}

func (r *recordingScheduler) ScheduleEvery(time.Duration, string) error { return nil }

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func sequentialIDs() func() string {
	var mu sync.Mutex
	n := 0
	return func() string {
		mu.Lock()
		defer mu.Unlock()
		n++
		return fmt.Sprintf("id-%03d", n)
	}
}
