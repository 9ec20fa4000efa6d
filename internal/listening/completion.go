package listening

import (
	"context"
	"strings"
	"time"

	"marginalia/internal/logging"
	"marginalia/internal/metrics"
	"marginalia/internal/services"
	"marginalia/internal/textutil"
)

// CompleteRequest carries the final transcript and optional synthesis output.
type CompleteRequest struct {
	UserID             string
	SessionID          string
	Transcript         string
	TranscriptProvider string
	Synthesis          *Synthesis
	EstimatedCostUSD   *float64

	// Synthesis telemetry known only once the synthesis call has returned.
	SynthesisProvider  string
	SynthesisLatencyMs *int64
	DegradedMode       *bool
}

// CompleteResult reports the notes referenced by the completed session.
type CompleteResult struct {
	RawNoteID          string
	SynthesizedNoteIDs []string
	Session            *Session
}

// Complete runs the completion pipeline. It is safe to call repeatedly: the
// raw note is replaced in place, synthesized notes are only written while the
// session references none, and transcript and artifact records are inserted
// once per session.
func (s *Service) Complete(ctx context.Context, req CompleteRequest) (CompleteResult, error) {
	transcript := strings.TrimSpace(req.Transcript)

	// Notes written by an attempt that later lost the session write are
	// reused by the next attempt instead of being created again. Inserted
	// notes the stored session ends up not referencing are deleted.
	var carriedRawNoteID string
	var carriedNoteIDs []string
	var created []*Note
	inserted := make(map[string]struct{})

	session, from, err := s.mutate(ctx, req.UserID, req.SessionID, func(session *Session) error {
		if err := checkTransition(session.Status, StatusComplete); err != nil {
			return err
		}
		if transcript == "" {
			return ErrEmptyTranscript
		}
		now := s.now()
		provider := resolveProvider(req.TranscriptProvider, session.TranscriptProvider)
		endedAt := now
		if session.EndedAt != nil {
			endedAt = *session.EndedAt
		}

		rawNoteID, isNew, err := s.upsertRawNote(ctx, session, carriedRawNoteID, renderRawNote(session, endedAt, provider, transcript), now)
		if err != nil {
			return err
		}
		if isNew {
			inserted[rawNoteID] = struct{}{}
		}
		carriedRawNoteID = rawNoteID
		session.RawNoteID = rawNoteID

		if len(session.SynthesizedNoteIDs) == 0 {
			if len(carriedNoteIDs) == 0 {
				notes, err := s.writeSynthesizedNotes(ctx, session, req.Synthesis, now)
				created = append(created, notes...)
				for _, note := range notes {
					carriedNoteIDs = append(carriedNoteIDs, note.ID)
					inserted[note.ID] = struct{}{}
				}
				if err != nil {
					return err
				}
			}
			session.SynthesizedNoteIDs = append([]string(nil), carriedNoteIDs...)
		}

		if err := s.ensureTranscript(ctx, session, transcript, provider, now); err != nil {
			return err
		}
		if err := s.ensureArtifacts(ctx, session, req.Synthesis, now); err != nil {
			return err
		}

		session.Status = StatusComplete
		chars := textutil.RuneLen(transcript)
		session.TranscriptChars = &chars
		session.TranscriptProvider = provider
		if req.EstimatedCostUSD != nil {
			session.EstimatedCostUSD = clampCost(*req.EstimatedCostUSD)
		}
		if provider := strings.TrimSpace(req.SynthesisProvider); provider != "" {
			session.SynthesisProvider = provider
		} else if req.Synthesis != nil && strings.TrimSpace(req.Synthesis.Provider) != "" {
			session.SynthesisProvider = strings.TrimSpace(req.Synthesis.Provider)
		}
		if req.SynthesisLatencyMs != nil {
			session.SynthesisLatencyMs = nonNegative(req.SynthesisLatencyMs)
		}
		if req.DegradedMode != nil {
			session.DegradedMode = clonePtr(req.DegradedMode)
		}
		if session.EndedAt == nil {
			session.EndedAt = &endedAt
		}
		session.LastError = ""
		return nil
	})
	if err != nil {
		s.discardNotes(ctx, req.SessionID, inserted, nil)
		return CompleteResult{}, err
	}
	s.discardNotes(ctx, session.ID, inserted, session)

	metrics.Completions.Inc()
	for _, note := range created {
		if referencesNote(session, note.ID) {
			metrics.SynthesizedNotes.WithLabelValues(string(note.Type)).Inc()
		}
	}
	s.sessionLogger(ctx, session).Info(
		"listening session complete",
		logging.String(logging.FieldEventType, "session_complete"),
		logging.String("from", string(from)),
		logging.String("raw_note_id", session.RawNoteID),
		logging.Int("synthesized_notes", len(session.SynthesizedNoteIDs)),
		logging.Int("transcript_chars", *session.TranscriptChars),
	)
	return CompleteResult{
		RawNoteID:          session.RawNoteID,
		SynthesizedNoteIDs: append([]string{}, session.SynthesizedNoteIDs...),
		Session:            session.Clone(),
	}, nil
}

// discardNotes deletes the notes this call inserted that session does not
// reference. A nil session means the session write never happened and every
// inserted note is discarded.
func (s *Service) discardNotes(ctx context.Context, sessionID string, inserted map[string]struct{}, session *Session) {
	for id := range inserted {
		if referencesNote(session, id) {
			continue
		}
		if err := s.store.DeleteNote(ctx, id); err != nil {
			s.logger.Warn("failed to delete unreferenced note",
				logging.String(logging.FieldSessionID, sessionID),
				logging.String("note_id", id),
				logging.Error(err),
			)
		}
	}
}

func referencesNote(session *Session, noteID string) bool {
	if session == nil {
		return false
	}
	if session.RawNoteID == noteID {
		return true
	}
	for _, id := range session.SynthesizedNoteIDs {
		if id == noteID {
			return true
		}
	}
	return false
}

func resolveProvider(requested, prior string) string {
	if provider := strings.TrimSpace(requested); provider != "" {
		return provider
	}
	if provider := strings.TrimSpace(prior); provider != "" {
		return provider
	}
	return DefaultProvider
}

// upsertRawNote replaces the referenced raw note's content, or creates a new
// raw note when the session has none. A referenced note that no longer exists
// is replaced by a new one. The flag reports whether a note was inserted.
func (s *Service) upsertRawNote(ctx context.Context, session *Session, carriedID, body string, now time.Time) (string, bool, error) {
	noteID := session.RawNoteID
	if noteID == "" {
		noteID = carriedID
	}
	if noteID != "" {
		note, err := s.store.GetNote(ctx, noteID)
		if err != nil {
			return "", false, services.Wrap(services.ErrTransient, "complete", "load raw note", "", err)
		}
		if note != nil {
			if note.UserID != session.UserID || note.BookID != session.BookID {
				return "", false, ErrRawNoteAccessDenied
			}
			note.Content = body
			note.UpdatedAt = now
			if err := s.store.UpdateNote(ctx, note); err != nil {
				return "", false, services.Wrap(services.ErrTransient, "complete", "update raw note", "", err)
			}
			return note.ID, false, nil
		}
	}
	note := &Note{
		ID:        s.newID(),
		UserID:    session.UserID,
		BookID:    session.BookID,
		Type:      NoteTypeNote,
		Content:   body,
		SessionID: session.ID,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.store.InsertNote(ctx, note); err != nil {
		return "", false, services.Wrap(services.ErrTransient, "complete", "insert raw note", "", err)
	}
	return note.ID, true, nil
}

// writeSynthesizedNotes appends the combined section note and one note per
// distinct quote, stopping at MaxSynthesizedNotes. Notes created before an
// error are still returned.
func (s *Service) writeSynthesizedNotes(ctx context.Context, session *Session, synthesis *Synthesis, now time.Time) ([]*Note, error) {
	if synthesis == nil {
		return nil, nil
	}
	existing := len(session.SynthesizedNoteIDs)
	notes := make([]*Note, 0, 1+MaxQuotes)
	appendNote := func(kind NoteType, body string) error {
		if existing+len(notes) >= MaxSynthesizedNotes {
			return nil
		}
		note := &Note{
			ID:        s.newID(),
			UserID:    session.UserID,
			BookID:    session.BookID,
			Type:      kind,
			Content:   body,
			SessionID: session.ID,
			CreatedAt: now,
			UpdatedAt: now,
		}
		if err := s.store.InsertNote(ctx, note); err != nil {
			return services.Wrap(services.ErrTransient, "complete", "insert synthesized note", "", err)
		}
		notes = append(notes, note)
		return nil
	}

	if synthesis.HasSections() {
		if body := renderSynthesisNote(synthesis); body != "" {
			if err := appendNote(NoteTypeNote, body); err != nil {
				return notes, err
			}
		}
	}
	for _, quote := range DistinctQuotes(synthesis.Quotes, MaxQuotes) {
		if err := appendNote(NoteTypeQuote, renderQuoteNote(quote)); err != nil {
			return notes, err
		}
	}
	return notes, nil
}

// DistinctQuotes normalizes quote text and attribution, drops empty and
// duplicate quotes (first occurrence wins), and returns at most limit quotes.
func DistinctQuotes(quotes []Quote, limit int) []Quote {
	seen := make(map[string]struct{}, len(quotes))
	out := make([]Quote, 0, min(len(quotes), limit))
	for _, quote := range quotes {
		if len(out) >= limit {
			break
		}
		text := textutil.NormalizeQuote(quote.Text)
		if text == "" {
			continue
		}
		key := textutil.FoldKey(text)
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, Quote{Text: text, Attribution: textutil.CollapseWhitespace(quote.Attribution)})
	}
	return out
}

func (s *Service) ensureTranscript(ctx context.Context, session *Session, transcript, provider string, now time.Time) error {
	exists, err := s.store.TranscriptExists(ctx, session.ID)
	if err != nil {
		return services.Wrap(services.ErrTransient, "complete", "check transcript", "", err)
	}
	if exists {
		return nil
	}
	record := &Transcript{
		ID:        s.newID(),
		SessionID: session.ID,
		BookID:    session.BookID,
		UserID:    session.UserID,
		Provider:  provider,
		Content:   transcript,
		CreatedAt: now,
	}
	if err := s.store.InsertTranscript(ctx, record); err != nil {
		return services.Wrap(services.ErrTransient, "complete", "insert transcript", "", err)
	}
	return nil
}

func (s *Service) ensureArtifacts(ctx context.Context, session *Session, synthesis *Synthesis, now time.Time) error {
	artifacts := s.buildArtifacts(session, synthesis, now)
	if len(artifacts) == 0 {
		return nil
	}
	exists, err := s.store.ArtifactsExist(ctx, session.ID)
	if err != nil {
		return services.Wrap(services.ErrTransient, "complete", "check artifacts", "", err)
	}
	if exists {
		return nil
	}
	if err := s.store.InsertArtifacts(ctx, artifacts); err != nil {
		return services.Wrap(services.ErrTransient, "complete", "insert artifacts", "", err)
	}
	return nil
}

func (s *Service) buildArtifacts(session *Session, synthesis *Synthesis, now time.Time) []*Artifact {
	if synthesis == nil {
		return nil
	}
	provider := strings.TrimSpace(synthesis.Provider)
	if provider == "" {
		provider = DefaultProvider
	}
	var artifacts []*Artifact
	add := func(kind ArtifactKind, title, content string) {
		title = strings.TrimSpace(title)
		content = strings.TrimSpace(content)
		if title == "" || content == "" {
			return
		}
		artifacts = append(artifacts, &Artifact{
			ID:        s.newID(),
			SessionID: session.ID,
			BookID:    session.BookID,
			UserID:    session.UserID,
			Kind:      kind,
			Title:     title,
			Content:   content,
			Provider:  provider,
			CreatedAt: now,
		})
	}
	addItems := func(kind ArtifactKind, items []SynthesisItem, limit int) {
		for _, item := range capItems(items, limit) {
			add(kind, item.Title, item.Content)
		}
	}
	addItems(ArtifactInsight, synthesis.Insights, MaxItemsPerSection)
	addItems(ArtifactOpenQuestion, synthesis.OpenQuestions, MaxItemsPerSection)
	for _, quote := range capItems(synthesis.Quotes, MaxQuotes) {
		title := strings.TrimSpace(quote.Attribution)
		if title == "" {
			title = defaultQuoteTitle
		}
		add(ArtifactQuote, title, quote.Text)
	}
	addItems(ArtifactFollowUpQuestion, synthesis.FollowUpQuestions, MaxItemsPerSection)
	addItems(ArtifactContextExpansion, synthesis.ContextExpansions, MaxContextExpansions)
	return artifacts
}
