package listening

import "time"

// Session is one recording-to-notes processing instance for a (user, book) pair.
type Session struct {
	ID     string `json:"id"`
	UserID string `json:"userId"`
	BookID string `json:"bookId"`
	Status Status `json:"status"`

	StartedAt         time.Time  `json:"startedAt"`
	EndedAt           *time.Time `json:"endedAt,omitempty"`
	DurationMs        *int64     `json:"durationMs,omitempty"`
	CapDurationMs     int64      `json:"capDurationMs"`
	WarningDurationMs int64      `json:"warningDurationMs"`
	CapReached        bool       `json:"capReached"`

	RetryCount             int        `json:"retryCount"`
	LastRetryAt            *time.Time `json:"lastRetryAt,omitempty"`
	FailedStage            string     `json:"failedStage,omitempty"`
	LastError              string     `json:"lastError,omitempty"`
	TranscribeLatencyMs    *int64     `json:"transcribeLatencyMs,omitempty"`
	SynthesisLatencyMs     *int64     `json:"synthesisLatencyMs,omitempty"`
	TranscribeFallbackUsed *bool      `json:"transcribeFallbackUsed,omitempty"`
	DegradedMode           *bool      `json:"degradedMode,omitempty"`
	EstimatedCostUSD       *float64   `json:"estimatedCostUsd,omitempty"`

	AudioURL           string   `json:"audioUrl,omitempty"`
	TranscriptLive     string   `json:"transcriptLive,omitempty"`
	TranscriptProvider string   `json:"transcriptProvider,omitempty"`
	SynthesisProvider  string   `json:"synthesisProvider,omitempty"`
	TranscriptChars    *int     `json:"transcriptChars,omitempty"`
	RawNoteID          string   `json:"rawNoteId,omitempty"`
	SynthesizedNoteIDs []string `json:"synthesizedNoteIds,omitempty"`

	Version   int64     `json:"-"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Clone returns a deep copy so callers can mutate without aliasing stored state.
func (s *Session) Clone() *Session {
	if s == nil {
		return nil
	}
	cp := *s
	cp.EndedAt = cloneTime(s.EndedAt)
	cp.LastRetryAt = cloneTime(s.LastRetryAt)
	cp.DurationMs = clonePtr(s.DurationMs)
	cp.TranscribeLatencyMs = clonePtr(s.TranscribeLatencyMs)
	cp.SynthesisLatencyMs = clonePtr(s.SynthesisLatencyMs)
	cp.TranscribeFallbackUsed = clonePtr(s.TranscribeFallbackUsed)
	cp.DegradedMode = clonePtr(s.DegradedMode)
	cp.EstimatedCostUSD = clonePtr(s.EstimatedCostUSD)
	cp.TranscriptChars = clonePtr(s.TranscriptChars)
	if s.SynthesizedNoteIDs != nil {
		cp.SynthesizedNoteIDs = append([]string(nil), s.SynthesizedNoteIDs...)
	}
	return &cp
}

// ClientView returns a copy safe to hand to clients: the audio URL is removed.
func (s *Session) ClientView() *Session {
	cp := s.Clone()
	if cp != nil {
		cp.AudioURL = ""
	}
	return cp
}

// NoteType distinguishes plain notes from quotes.
type NoteType string

const (
	NoteTypeNote  NoteType = "note"
	NoteTypeQuote NoteType = "quote"
)

// Note is a user note. The pipeline writes notes but does not own their lifecycle.
type Note struct {
	ID        string    `json:"id"`
	UserID    string    `json:"userId"`
	BookID    string    `json:"bookId"`
	Type      NoteType  `json:"type"`
	Content   string    `json:"content"`
	SessionID string    `json:"sessionId,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Transcript is the append-only transcript record written once per session.
type Transcript struct {
	ID        string    `json:"id"`
	SessionID string    `json:"sessionId"`
	BookID    string    `json:"bookId"`
	UserID    string    `json:"userId"`
	Provider  string    `json:"provider"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"createdAt"`
}

// ArtifactKind enumerates the structured synthesis outputs.
type ArtifactKind string

const (
	ArtifactInsight          ArtifactKind = "insight"
	ArtifactOpenQuestion     ArtifactKind = "openQuestion"
	ArtifactQuote            ArtifactKind = "quote"
	ArtifactFollowUpQuestion ArtifactKind = "followUpQuestion"
	ArtifactContextExpansion ArtifactKind = "contextExpansion"
)

// Artifact is one structured unit of synthesized output.
type Artifact struct {
	ID        string       `json:"id"`
	SessionID string       `json:"sessionId"`
	BookID    string       `json:"bookId"`
	UserID    string       `json:"userId"`
	Kind      ArtifactKind `json:"kind"`
	Title     string       `json:"title"`
	Content   string       `json:"content"`
	Provider  string       `json:"provider"`
	CreatedAt time.Time    `json:"createdAt"`
}

// BookStatus is the reading shelf a library book sits on.
type BookStatus string

const (
	BookCurrentlyReading BookStatus = "currently-reading"
	BookWantToRead       BookStatus = "want-to-read"
	BookRead             BookStatus = "read"
)

// Book is the subset of a library book the pipeline reads.
type Book struct {
	ID          string     `json:"id"`
	UserID      string     `json:"userId"`
	Title       string     `json:"title"`
	Author      string     `json:"author,omitempty"`
	Description string     `json:"description,omitempty"`
	Private     bool       `json:"private,omitempty"`
	Status      BookStatus `json:"status"`
	UpdatedAt   time.Time  `json:"updatedAt"`
}

// SynthesisItem is a titled block of synthesized text.
type SynthesisItem struct {
	Title   string `json:"title"`
	Content string `json:"content"`
}

// Quote is a passage the reader spoke aloud.
type Quote struct {
	Text        string `json:"text"`
	Attribution string `json:"attribution,omitempty"`
}

// Synthesis is the structured output of the synthesis provider.
type Synthesis struct {
	Provider          string          `json:"provider,omitempty"`
	Insights          []SynthesisItem `json:"insights,omitempty"`
	OpenQuestions     []SynthesisItem `json:"openQuestions,omitempty"`
	Quotes            []Quote         `json:"quotes,omitempty"`
	FollowUpQuestions []SynthesisItem `json:"followUpQuestions,omitempty"`
	ContextExpansions []SynthesisItem `json:"contextExpansions,omitempty"`
}

// HasSections reports whether any list destined for the combined note is non-empty.
func (s *Synthesis) HasSections() bool {
	if s == nil {
		return false
	}
	return len(s.Insights) > 0 || len(s.OpenQuestions) > 0 || len(s.FollowUpQuestions) > 0 || len(s.ContextExpansions) > 0
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

func clonePtr[T any](p *T) *T {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}
