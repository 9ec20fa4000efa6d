package api

import (
	"marginalia/internal/contextpack"
	"marginalia/internal/listening"
)

// dateTimeFormat is used for RFC3339 timestamps in API payloads.
const dateTimeFormat = "2006-01-02T15:04:05.000Z07:00"

// SessionView describes a listening session in a client-safe format.
type SessionView struct {
	ID                     string   `json:"id"`
	BookID                 string   `json:"bookId"`
	Status                 string   `json:"status"`
	StartedAt              string   `json:"startedAt"`
	EndedAt                string   `json:"endedAt,omitempty"`
	DurationMs             *int64   `json:"durationMs,omitempty"`
	CapDurationMs          int64    `json:"capDurationMs"`
	WarningDurationMs      int64    `json:"warningDurationMs"`
	CapReached             bool     `json:"capReached"`
	RetryCount             int      `json:"retryCount"`
	LastRetryAt            string   `json:"lastRetryAt,omitempty"`
	FailedStage            string   `json:"failedStage,omitempty"`
	LastError              string   `json:"lastError,omitempty"`
	TranscriptLive         string   `json:"transcriptLive,omitempty"`
	TranscriptProvider     string   `json:"transcriptProvider,omitempty"`
	TranscriptChars        *int     `json:"transcriptChars,omitempty"`
	TranscribeLatencyMs    *int64   `json:"transcribeLatencyMs,omitempty"`
	TranscribeFallbackUsed *bool    `json:"transcribeFallbackUsed,omitempty"`
	SynthesisProvider      string   `json:"synthesisProvider,omitempty"`
	SynthesisLatencyMs     *int64   `json:"synthesisLatencyMs,omitempty"`
	DegradedMode           *bool    `json:"degradedMode,omitempty"`
	EstimatedCostUSD       *float64 `json:"estimatedCostUsd,omitempty"`
	RawNoteID              string   `json:"rawNoteId,omitempty"`
	SynthesizedNoteIDs     []string `json:"synthesizedNoteIds,omitempty"`
	CreatedAt              string   `json:"createdAt,omitempty"`
	UpdatedAt              string   `json:"updatedAt,omitempty"`
}

// SessionResponse wraps a single session.
type SessionResponse struct {
	Session SessionView `json:"session"`
}

// SessionListResponse wraps a collection of sessions.
type SessionListResponse struct {
	Sessions []SessionView `json:"sessions"`
}

// StartSessionRequest is the body of POST /v1/sessions.
type StartSessionRequest struct {
	BookID            string   `json:"bookId"`
	CapDurationMs     *float64 `json:"capDurationMs,omitempty"`
	WarningDurationMs *float64 `json:"warningDurationMs,omitempty"`
}

// TranscribingRequest is the body of POST /v1/sessions/{id}/transcribing.
type TranscribingRequest struct {
	DurationMs     float64 `json:"durationMs"`
	CapReached     bool    `json:"capReached"`
	TranscriptLive *string `json:"transcriptLive,omitempty"`
	AudioURL       *string `json:"audioUrl,omitempty"`
}

// TranscribingResponse reports the new state and whether the watchdog was
// queued.
type TranscribingResponse struct {
	Session                SessionView `json:"session"`
	ShouldScheduleWatchdog bool        `json:"shouldScheduleWatchdog"`
}

// SynthesizingRequest is the body of POST /v1/sessions/{id}/synthesizing.
type SynthesizingRequest struct {
	TranscribeLatencyMs    *int64   `json:"transcribeLatencyMs,omitempty"`
	TranscribeFallbackUsed *bool    `json:"transcribeFallbackUsed,omitempty"`
	TranscriptProvider     string   `json:"transcriptProvider,omitempty"`
	SynthesisLatencyMs     *int64   `json:"synthesisLatencyMs,omitempty"`
	SynthesisProvider      string   `json:"synthesisProvider,omitempty"`
	DegradedMode           *bool    `json:"degradedMode,omitempty"`
	EstimatedCostUSD       *float64 `json:"estimatedCostUsd,omitempty"`
}

// CompleteRequest is the body of POST /v1/sessions/{id}/complete.
type CompleteRequest struct {
	Transcript         string               `json:"transcript"`
	TranscriptProvider string               `json:"transcriptProvider,omitempty"`
	Synthesis          *listening.Synthesis `json:"synthesis,omitempty"`
	EstimatedCostUSD   *float64             `json:"estimatedCostUsd,omitempty"`
}

// CompleteResponse reports the notes referenced by the completed session.
type CompleteResponse struct {
	RawNoteID          string      `json:"rawNoteId"`
	SynthesizedNoteIDs []string    `json:"synthesizedNoteIds"`
	Session            SessionView `json:"session"`
}

// FailRequest is the body of POST /v1/sessions/{id}/fail.
type FailRequest struct {
	Message     string `json:"message"`
	FailedStage string `json:"failedStage,omitempty"`
}

// ProcessResponse acknowledges a scheduled processing run.
type ProcessResponse struct {
	Scheduled bool   `json:"scheduled"`
	SessionID string `json:"sessionId"`
}

// RecoverResponse reports how many sessions the sweep scheduled.
type RecoverResponse struct {
	Recovered int `json:"recovered"`
}

// PackRequest is the body of POST /v1/context/pack.
type PackRequest struct {
	BookID      string `json:"bookId"`
	TokenBudget int    `json:"tokenBudget,omitempty"`
}

// PackResponse returns the packed context and its rendered prompt text.
type PackResponse struct {
	Context  contextpack.Result `json:"context"`
	Rendered string             `json:"rendered"`
}

// EventView is one session status change.
type EventView struct {
	Sequence  uint64 `json:"seq"`
	SessionID string `json:"sessionId"`
	BookID    string `json:"bookId"`
	From      string `json:"from,omitempty"`
	To        string `json:"to"`
	At        string `json:"at"`
}

// EventsResponse is a page of events plus the cursor for the next request.
type EventsResponse struct {
	Events []EventView `json:"events"`
	Next   uint64      `json:"next"`
}

// HealthResponse is returned by /healthz.
type HealthResponse struct {
	Status   string         `json:"status"`
	Database string         `json:"database"`
	Sessions map[string]int `json:"sessions,omitempty"`
	Stale    int            `json:"stale"`
}

// ErrorResponse is the body of every non-2xx reply.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

// Feed message types sent over the session WebSocket.
const (
	FeedSnapshot = "snapshot"
	FeedEvent    = "event"
)

// FeedMessage is one frame of the session event feed. The first frame is a
// snapshot of the session; every later frame carries a status change.
type FeedMessage struct {
	Type    string       `json:"type"`
	Session *SessionView `json:"session,omitempty"`
	Event   *EventView   `json:"event,omitempty"`
}
